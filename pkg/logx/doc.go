// Package logx is questline's structured logger: a thin layer over zerolog.
//
// Console output is human-readable (colored only on a terminal), file
// output is JSON, and a Service can swap level and sinks at runtime so
// config hot reload reaches every Logger derived from it.
package logx
