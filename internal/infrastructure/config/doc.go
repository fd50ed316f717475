// Package config provides configuration loading for EspHive Core.
//
// Configuration is loaded from a YAML file with hardcoded defaults and
// ESPHIVE_* environment variable overrides, then validated. The loaded
// value is immutable; hot reload swaps a fresh snapshot into a Store,
// whose watchers receive a change notification. In-flight readers of an
// old snapshot are never disturbed.
package config
