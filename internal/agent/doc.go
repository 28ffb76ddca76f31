// Package agent tracks the nodes connected to a broker and routes requests
// to them.
//
// # Overview
//
// Each node holds one bidirectional AgentStream open. Its first frame is a
// transport.Registration describing the node's identity, facts, classes and
// agents; the broker wraps the stream in a Connection and adds it to the
// Manager.
//
// # Routing
//
// Manager.Targets picks the connections a message reaches:
//
//   - direct requests go to the listed hosts that are connected;
//   - broadcast requests go to every connection whose registration matches
//     the message filter.
//
// # Request/Response Correlation
//
// Dispatch registers the request ID on every target connection before
// delivering, then reads replies from one shared channel until every
// target replied, the message timeout elapsed, or the context ended.
// Replies for unknown request IDs are logged and dropped. The broker
// overwrites each reply's Sender with the connection identity.
package agent
