// Package telemetry supplies the structured logger that the facades
// accept via WithLogger; the async facade's shards log through it,
// while the pool and exec chain do not log. The teacher prints straight to a terminal
// (it is a CLI); a library has no terminal to paint, so this package
// gives embedders a real logging dependency instead.
package telemetry

import "go.uber.org/zap"

// Nop returns a logger that discards everything, the default every
// component falls back to when no logger is configured.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// Component returns a sub-logger scoped to name, so that log lines
// carry a "component" field embedders can filter by subsystem.
func Component(base *zap.Logger, name string) *zap.Logger {
	if base == nil {
		base = Nop()
	}
	return base.With(zap.String("component", name))
}

// ForRoute further scopes a component logger to a route by adding a
// "route" field.
func ForRoute(base *zap.Logger, route string) *zap.Logger {
	if base == nil {
		base = Nop()
	}
	return base.With(zap.String("route", route))
}
