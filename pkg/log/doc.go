// Package log provides the structured logging system used across outflow.
//
// Components receive a Logger by dependency injection and attach context
// with With and Component fields:
//
//	logger := log.NewLogger(log.WithLevel(log.InfoLevel))
//	wlog := logger.With(log.Component("output"), log.Str("output_id", id))
//	wlog.Info("session started", log.Int64("at_id", atID))
//
// Formatters control the wire shape (text for consoles, JSON for
// collectors); outputs control the destination. RedirectStdLog routes
// stdlib log traffic (Pebble uses it) through a Logger.
package log
