// Package config handles configuration loading for uptotrial-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from UPTOTRIAL_CONFIG environment variable
//  2. ./config.yaml (current directory)
//  3. ~/.config/uptotrial/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	openai:
//	  api_key: "${OPENAI_API_KEY}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	server:
//	  turn_timeout: "90s"
//	ratelimit:
//	  period: "1m"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  turn_timeout: "2m"    # bound on a single agent turn
//
// Database:
//
//	database:
//	  path: "/var/lib/uptotrial/gateway.db"
//
// Model provider:
//
//	openai:
//	  api_key: "${OPENAI_API_KEY}"   # required
//	  model: "gpt-4o"
//	  explain_model: "gpt-4o-mini"   # narrates tool calls; defaults to model
//
// Registry client:
//
//	trials:
//	  base_url: ""    # defaults to the public ClinicalTrials.gov endpoint
//
// Authentication (optional; omit jwt_secret to run open):
//
//	auth:
//	  jwt_secret: "${UPTOTRIAL_JWT_SECRET}"
//
// Rate limiting:
//
//	ratelimit:
//	  global_requests: 100          # per client IP per period
//	  correlation_id_requests: 20   # per correlation ID per period
//	  period: "1m"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
