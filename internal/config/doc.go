// Package config loads the object store configuration from YAML.
//
// A configuration file has a store section and a logging section:
//
//	store:
//	  path: /var/lib/objstore/objects.db
//	  minimumNodeSize: 16
//	  cacheSize: 1024
//	  maxFileSize: 8GiB
//	  checkpointThreshold: 64MiB
//	  flushInterval: 1s
//	logging:
//	  level: info
//	  format: json
//	  output: ${OBJSTORE_LOG:-stderr}
//
// ${VAR} and ${VAR:-default} are replaced with environment variables before
// parsing. Sizes accept SI and IEC suffixes ("64MB" is 64,000,000 bytes,
// "64MiB" is 67,108,864). Missing keys keep the values of DefaultConfig,
// unknown keys are an error.
//
// ValidateConfig reports every problem at once; StoreOptions converts a
// valid configuration into storage.Options.
package config
