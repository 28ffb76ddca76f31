// ABOUTME: Package ddl loads agent and data function descriptors.
// ABOUTME: Descriptors drive request validation, argument typing and timeouts.

// Package ddl reads YAML descriptors that describe what an agent accepts.
//
// # Overview
//
// An agent descriptor lives at <dir>/agent/<name>.yaml and lists the agent's
// actions with their inputs. A data function descriptor lives at
// <dir>/data/<name>.yaml; its metadata timeout is how long a node may spend
// evaluating the function during compound discovery.
//
// # Validation
//
// Agent.ValidateRequest rejects unknown actions, missing required inputs,
// values of the wrong type, strings failing their validation pattern and
// strings longer than their maxlength. Inputs the descriptor does not
// mention are passed through.
//
// # Caching
//
// Repository memoizes parsed descriptors in the "ddl" namespace of a shared
// cache.Cache so that concurrent clients parse each file once per TTL.
package ddl
