// Package config loads feed configuration from the environment.
//
// Sections:
//   - Server: listen address, public base URL and upload limit
//   - Storage: package root and the overwrite policy
//   - Downloads: counter backend and its database path
//   - Auth: the API key guarding publish and delete
//   - Logging: level and output format
//   - RateLimit: per-client request limiting
//
// Example:
//
//	cfg, err := config.Load()
//	if err != nil {
//		return err
//	}
//	if err := cfg.Validate(); err != nil {
//		return err
//	}
package config
