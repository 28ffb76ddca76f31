// Package node is the agent side of the broker protocol: it registers a
// node's inventory on the AgentStream, runs the actions of its agents for
// every delivered message, and sends replies.
//
// Replies are skipped when the caller set process_results to false. Action
// errors created with Fail carry their status code; any other error is
// reported as an application failure.
package node
