// ABOUTME: Package transport defines the publish/subscribe contract the RPC client uses.
// ABOUTME: Provides wire types, an in-process transport and a gRPC broker client.

// Package transport is the boundary between the RPC client and whatever
// carries messages to nodes.
//
// # Overview
//
// [Transport] has three operations: [Transport.Send] publishes a message
// without waiting for replies, [Transport.Request] publishes and streams
// replies back until every expected node answered or the message timeout
// passed, and [Transport.Discover] runs a broadcast discovery query.
//
// Two implementations live here. [Memory] delivers to in-process nodes and
// is used by tests and the fake agent. [GRPC] talks to a coven-broker over
// gRPC using the JSON codec registered by this package, so no generated
// protobuf code is involved.
package transport
