// ABOUTME: Package rpc is the client-side orchestration engine for fleet RPC calls.
// ABOUTME: Discovers targets, dispatches requests and aggregates responses and stats.

// Package rpc calls actions on remote agents.
//
// # Overview
//
// A [Client] is bound to one agent name. [Client.Invoke] is the single
// entry point for calling an action; it picks one of four delivery
// strategies:
//
//   - fire-and-forget, when [NoResults] is passed or a reply-to destination
//     is configured: the request is published once and only its ID comes
//     back;
//   - limited, when a target limit is set: discovery runs, [discovery.PickNodes]
//     trims the set, and a custom request is sent to exactly those nodes;
//   - batched, when a batch size is configured or passed with [BatchSize]:
//     the discovered set is sent to in fixed-size groups with a sleep between
//     groups;
//   - plain broadcast or direct call otherwise.
//
// # Results
//
// Without a [Handler] every response becomes a [Result] in
// [CallResult.Results]. Responses with status codes 2 to 5 keep their
// status but carry no data. With a Handler, codes 0 and 1 are passed to the
// handler and codes 2 to 5 become [*StatusError] values that are joined
// into the error returned once collection has finished. They never cut the
// call short.
//
// # Stats
//
// Every call resets and then fills the client's [Stats]: discovery time,
// responders, ok and fail counts, block time and the nodes that never
// answered. A snapshot is returned in [CallResult.Stats].
//
// A Client is not safe for concurrent calls. Share a [cache.Cache] between
// clients for cross-call memoization instead of sharing a Client.
package rpc
