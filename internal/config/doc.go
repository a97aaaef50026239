// Package config handles configuration loading for nabu.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults; nabu runs fine with
// no config file at all via Default().
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	database:
//	  path: "${NABU_DB_PATH}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	session:
//	  ttl: "168h"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Database:
//
//	database:
//	  path: "~/.config/nabu/nabu.db"
//
// Session lifetime:
//
//	session:
//	  ttl: "168h"  # how long a restored login stays valid
//
// Message handling:
//
//	conversations:
//	  preview_length: 100  # runes kept in the conversation list preview
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
// Load configuration from a path:
//
//	cfg, err := config.Load("/home/user/.config/nabu/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Or fall back to defaults when no file exists:
//
//	cfg := config.Default()
package config
