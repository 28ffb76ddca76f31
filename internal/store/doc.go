// Package store persists the broker's node inventory and request log in
// SQLite.
//
// # Overview
//
// The broker upserts every registration into the nodes table and marks the
// node offline when its stream ends. The coven-rpc client can then discover
// against the database directly ("inventory" discovery method) without a
// running broker, which is useful for planning and for flat reporting.
//
// # Usage
//
//	s, err := store.NewSQLiteStore("/var/lib/coven/broker.db")
//	defer s.Close()
//
//	err = s.UpsertNode(ctx, &store.NodeRecord{Identity: "web1", Agents: []string{"rpcutil"}})
//	hosts, err := s.Discover(ctx, f, 0, 0)
//
// # Request Log
//
// RecordRequest appends one row per published message with its caller,
// target count and response count; ListRequests returns the newest first.
//
// # Implementation
//
// The store uses modernc.org/sqlite (pure Go), WAL journaling and creates
// its schema on open. Facts, classes and agents are stored as JSON columns
// and filtered in Go with the same matcher the broker uses.
package store
