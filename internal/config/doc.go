// Package config holds runtime settings for the fieldsync engine and CLI.
//
// Settings are resolved in three layers, later layers winning:
//
//  1. LoadDefaults
//  2. a config file named by --config/-c (.json, .yaml or .yml)
//  3. command-line flags that were explicitly set
//
// Durations in files accept either "30s" strings or integer nanoseconds.
package config
