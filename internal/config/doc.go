/*
Package config provides configuration management for the sheet cache service.

Configuration is layered, lowest precedence first:

	┌─────────────────────────────────────────────┐
	│           Default Values                    │  NewDefault
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File (YAML)           │  LoadFromFile
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│   Environment (SHEETCACHE_*, optional .env) │  LoadFromEnv
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│          Command-line flags                 │  cmd/sheetcache
	└─────────────────────────────────────────────┘

Validate checks the merged result. ToCacheConfig and ToStoreConfig convert it into
the settings consumed by the cache and store packages.

# Configuration file format

	global:
	  log_level: INFO
	  log_format: json
	  log_file: /var/log/sheetcache.log

	cache:
	  max_memory_items: 100
	  max_memory_size: 50MB
	  compression_enabled: true
	  compression:
	    algorithm: zstd
	    min_size: 256B
	  file_ttl: 168h
	  query_ttl: 1h

	store:
	  backend: s3
	  timeout: 5s
	  max_age: 720h
	  circuit_breaker:
	    enabled: true
	    failure_threshold: 5
	  retry:                    # startup ping only
	    max_attempts: 5
	    initial_delay: 500ms
	  s3:
	    bucket: sheet-cache
	    region: eu-west-1
	    enable_cargoship: true

	metrics:
	  enabled: true
	  path: /metrics

	api:
	  address: 127.0.0.1:8090

# Environment variables

	SHEETCACHE_LOG_LEVEL=DEBUG
	SHEETCACHE_MAX_MEMORY_SIZE=100MB
	SHEETCACHE_COMPRESSION_ALGORITHM=brotli
	SHEETCACHE_STORE_BACKEND=postgres
	SHEETCACHE_POSTGRES_DSN=postgres://cache@localhost/sheets?sslmode=disable
	SHEETCACHE_API_ADDRESS=0.0.0.0:8090

Variables in a .env file are loaded first and never override the process
environment.
*/
package config
