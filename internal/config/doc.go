// Package config handles configuration loading for research-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML (or TOML) file with environment
// variable expansion. Values the file leaves out keep the values from
// Defaults, so an empty file yields a runnable local setup.
//
// # Configuration File
//
// Locations (in order):
//
//  1. The --config flag
//  2. Path from RESEARCH_GATEWAY_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/research-gateway/gateway.yaml
//  4. ~/.config/research-gateway/gateway.yaml
//
// A file ending in .toml is parsed as TOML with the same keys.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	engine:
//	  research_model:
//	    api_key: "${OPENAI_API_KEY}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
// RESEARCH_GATEWAY_DB_PATH and RESEARCH_GATEWAY_REPORTS_DIR override
// database.path and reports.dir after the file is read.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	engine:
//	  timeout: "15m"      # 0 disables the limit
//	sessions:
//	  write_timeout: "10s"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8000"
//	  static_dir: "./ui/dist"
//	  allowed_origins: ["http://localhost:5173"]
//
//	database:
//	  path: "research_chats.db"
//	  driver: "sqlite"          # sqlite (pure Go) or sqlite3 (cgo)
//
//	reports:
//	  dir: "research_reports"
//
//	engine:
//	  provider: "openai"        # openai or fake
//	  research_model:     {name: "gpt-4.1", base_url: "", api_key: "${OPENAI_API_KEY}", max_tokens: 8192}
//	  final_report_model: {name: "gpt-4.1", max_tokens: 16384}
//
//	sessions:
//	  token_buffer_size: 1000
//	  write_queue_size: 256
//	  max_frames_per_second: 0  # 0 disables inbound rate limiting
//	  frame_burst: 5
//
//	workers:
//	  pool_size: 8
//
//	tailscale:
//	  enabled: false
//	  hostname: "research-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//	  funnel: false
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Usage
//
//	cfg, err := config.Load(config.ResolvePath(flagPath))
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
