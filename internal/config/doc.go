// Package config handles configuration loading for coven-rpc and
// coven-broker.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Keys left out of the file keep the values from Default().
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_RPC_CONFIG (client) or COVEN_BROKER_CONFIG (broker)
//  2. $XDG_CONFIG_HOME/coven/<name>.yaml
//  3. ~/.config/coven/<name>.yaml
//
// A missing default file is not an error: LoadOrDefault returns Default().
// A path ending in .toml is decoded as TOML.
//
// # Environment Variable Expansion
//
//	auth:
//	  ssh_private_key: "${HOME}/.ssh/id_ed25519"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	client:
//	  discovery_timeout: "2s"
//	  batch_sleep: "500ms"
//	  timeout: ""            # empty: per-action metadata timeout
//
// # Configuration Sections
//
//	client:
//	  collective: "coven"
//	  batch_size: 0
//	  limit_targets: ""       # "10" or "25%"
//	  limit_method: "first"   # first, random
//	  direct_addressing: true
//	  progress: true
//	  output_format: "console" # console, json
//	  discovery_method: "broker" # broker, flatfile, inventory
//	  discovery_options: []
//	  discovery_cache_ttl: "0s"
//	broker:
//	  grpc_addr: "127.0.0.1:50061"
//	  http_addr: "127.0.0.1:8081"
//	auth:
//	  caller: "unix"          # unix, ssh
//	  ssh_private_key: ""
//	  allowed_fingerprints: []
//	ddl:
//	  path: "/etc/coven/ddl"
//	database:
//	  path: "/var/lib/coven/broker.db"
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//	metrics:
//	  enabled: false
//	  path: "/metrics"
//	  textfile: ""    # coven-rpc: write call metrics here (*.prom)
//
// # Usage
//
//	cfg, err := config.LoadOrDefault(config.Path("COVEN_RPC_CONFIG", "rpc"))
//	if err != nil {
//	    return err
//	}
//	client, err := rpc.New("rpcutil", t, rpc.WithSettings(cfg.Settings()))
package config
