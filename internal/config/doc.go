// Package config provides centralized configuration management for the
// PlanPilot runtime, supporting environment variables and configuration
// files. It will offer hot reload capabilities and typed accessors for
// downstream services.
package config
