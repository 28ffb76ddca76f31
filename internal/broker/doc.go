// Package broker implements coven-broker, the publish/subscribe hub that
// connects coven-rpc clients to the nodes of a collective.
//
// # Overview
//
// Nodes open an AgentStream, register their inventory (identity, facts,
// classes, agents) and then receive request messages and send replies.
// Clients use the unary Discover and Send RPCs and the server-streaming
// Request RPC, which relays every reply and ends with the call's transport
// statistics.
//
// # Wire Format
//
// The coven.rpc.Broker service is registered with a hand-written
// grpc.ServiceDesc and exchanges JSON messages through the codec registered
// by the transport package. Clients select it with the "json" content
// subtype.
//
// # Routing
//
// Directly addressed messages go to the listed identities that are
// connected. Broadcast messages go to every connected node whose inventory
// matches the message filter. Collection ends when every targeted node
// replied or the message timeout elapsed.
//
// # Signed Publishing
//
// When allowed fingerprints are configured, Send and Request require SSH
// signed metadata from an allowed key. Nonces are remembered in the named
// cache for the signature window so a captured request cannot be replayed.
//
// # HTTP Endpoints
//
//	GET /health        liveness
//	GET /health/ready  503 until at least one node is connected
//	GET /metrics       Prometheus metrics when enabled
//
// # Inventory
//
// With database.path set, every registration is upserted into the SQLite
// inventory and marked offline on disconnect, and each published request is
// appended to the request log.
package broker
