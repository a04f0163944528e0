// Package logx is readerbot's structured logger.
//
// Logger wraps zerolog with functional fields. A Service owns the sinks
// (console, JSON file, operator chat) and can swap them at runtime; loggers
// derived from it follow every Apply.
package logx
