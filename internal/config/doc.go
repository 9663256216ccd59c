// Package config provides centralized configuration management for the
// erpagentd runtime, covering the API server, action store, LLM extraction,
// automation-engine dispatch and approval policy. Values missing from the
// configuration file fall back to conservative defaults.
package config
