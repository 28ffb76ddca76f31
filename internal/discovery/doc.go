// ABOUTME: Package discovery resolves the set of node identities a call targets.
// ABOUTME: Memoizes results, accepts static host lists and limits the target count.

// Package discovery decides which nodes an RPC call is sent to.
//
// A [Discoverer] belongs to a single client. Resolution order for
// [Discoverer.Discover]:
//
//  1. the set memoized by a previous call, unless static hosts were supplied;
//  2. static hosts from [Options.Nodes] or [Options.JSON], which requires
//     direct addressing and marks the call as directly addressed;
//  3. an identity filter made only of literal names, used as-is;
//  4. a broadcast query through the configured [Source], with the base
//     timeout extended by the evaluation allowance of any data functions the
//     compound filter calls.
//
// [PickNodes] trims a discovered set down to a [Limit] using either the
// "first" or the "random" [LimitMethod].
package discovery
