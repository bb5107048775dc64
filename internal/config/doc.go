// Package config handles configuration loading for restitch-server.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// Unset tuning values are zero; the wiring layer substitutes package defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${RESTITCH_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	messaging:
//	  store_timeout: "5s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
// Database:
//
//	database:
//	  path: "/var/lib/restitch/restitch.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${RESTITCH_JWT_SECRET}"
//
// Messaging:
//
//	messaging:
//	  thread_page_size: 100
//	  store_timeout: "5s"
//
// Cart pricing:
//
//	cart:
//	  tax_rate: 0.0725
//	  shipping_cents: 500
//	  free_shipping_over_cents: 5000
//	  snapshot_dir: "/var/lib/restitch/carts"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
