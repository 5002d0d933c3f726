package config

import "fmt"

// ConfigurationError reports a missing or unusable setting. Components
// that cannot operate without the setting return it from their
// constructor so the process fails at startup, not on first use.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Setting, e.Reason)
}

// Missing builds a ConfigurationError for an unset value.
func Missing(setting string) *ConfigurationError {
	return &ConfigurationError{Setting: setting, Reason: "not set"}
}
