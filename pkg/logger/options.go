package logger

import (
	"io"
	"log/slog"
)

// Option configures New.
type Option func(*config)

// WithDebug lowers the level to Debug.
func WithDebug(debug bool) Option {
	return func(c *config) {
		c.level = slog.LevelInfo
		if debug {
			c.level = slog.LevelDebug
		}
	}
}

// WithPretty selects the charmbracelet/log handler for terminal output.
func WithPretty(pretty bool) Option {
	return func(c *config) { c.pretty = pretty }
}

// WithJSON selects the slog JSON handler. It takes precedence over
// WithPretty.
func WithJSON(json bool) Option {
	return func(c *config) { c.json = json }
}

// WithWriter replaces the output. Several writers receive every line.
func WithWriter(w ...io.Writer) Option {
	return func(c *config) { c.writers = w }
}

// WithSource reports the caller's file and line.
func WithSource(source bool) Option {
	return func(c *config) { c.source = source }
}

// WithAttrs stamps every record with the given key/value pairs, for
// example the node id of a long-running daemon.
func WithAttrs(args ...any) Option {
	return func(c *config) { c.attrs = append(c.attrs, args...) }
}
