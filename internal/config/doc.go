// Package config handles configuration loading for jobchat.
//
// # Gateway
//
// The gateway reads YAML. The path comes from JOBCHAT_CONFIG, falling back
// to $XDG_CONFIG_HOME/jobchat/gateway.yaml. Values may reference environment
// variables with ${VAR_NAME}; unset variables expand to "".
//
//	server:
//	  grpc_addr: "0.0.0.0:50051"
//	  http_addr: "0.0.0.0:8080"
//	  shutdown_timeout: "10s"
//
//	database:
//	  driver: "sqlite"            # sqlite (pure Go) or sqlite3 (cgo)
//	  path: "/var/lib/jobchat/chat.db"
//
//	auth:
//	  jwt_secret: "${JOBCHAT_JWT_SECRET}"  # empty runs anonymous
//
//	pubsub:
//	  backend: "memory"           # memory or redis
//	  redis_url: "redis://localhost:6379/0"
//	  prefix: "jobchat:"
//
//	dedupe:
//	  ttl: "10m"
//	  max_entries: 10000
//
//	tailscale:
//	  enabled: false
//	  hostname: "jobchat"
//	  auth_key: "${TS_AUTHKEY}"
//
//	logging:
//	  level: "info"               # debug, info, warn, error
//	  format: "text"              # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// Durations use time.ParseDuration syntax and are parsed after unmarshal.
//
// # Client
//
// cmd/jobchat reads TOML from $XDG_CONFIG_HOME/jobchat/client.toml:
//
//	transport = "grpc"            # grpc or http
//	grpc_addr = "localhost:50051"
//	http_url = "http://localhost:8080"
//	token = "${JOBCHAT_TOKEN}"
//	participant_id = "owner-1"
//	role = "OWNER"
//	match = "correlation"         # correlation or content
//	send_timeout = "30s"          # unset waits for the store
package config
