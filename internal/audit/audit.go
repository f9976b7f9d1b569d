// Package audit provides a structured audit logger for CLI command invocations.
// It logs command name, config file source and the resolved settings so
// operators can trace what happened without exposing secret values.
//
// Secrets are logged as presence/absence only, never their values.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Setting is one resolved configuration value included in the audit entry.
type Setting struct {
	// Key is the setting name, e.g. "embedding.model".
	Key string
	// Value is the resolved value.
	Value string
	// Secret redacts Value to "set" or "unset".
	Secret bool
}

// LogCommandStart emits a structured audit log entry when a CLI command begins.
// It records the command name, config file source, and sanitised settings.
func LogCommandStart(ctx context.Context, log *slog.Logger, command, configPath string, settings []Setting) {
	attrs := make([]slog.Attr, 0, len(settings)+2)
	attrs = append(attrs,
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	)

	for _, s := range settings {
		attrs = append(attrs, slog.String(s.Key, Sanitise(s)))
	}

	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start", attrs...)
}

// Sanitise returns "set" or "unset" for secret settings, or the value for
// everything else. This is safe to use in log messages.
func Sanitise(s Setting) string {
	if s.Secret {
		return presence(s.Value)
	}
	return valOrUnset(s.Value)
}

// presence returns "set" if the value is non-empty, "unset" otherwise.
func presence(v string) string {
	if v != "" {
		return "set"
	}
	return "unset"
}

// valOrUnset returns the value if non-empty, "unset" otherwise.
func valOrUnset(v string) string {
	if v != "" {
		return v
	}
	return "unset"
}

// sanitiseConfigPath returns the config path or "none" if empty.
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	// Redact home directory for privacy in logs.
	home, err := os.UserHomeDir()
	if err == nil && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
