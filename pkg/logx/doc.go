// Package logx is the structured logger of bulksend: a thin field-func API
// over zerolog.
//
// Console output is human readable with a short caller; the optional log
// file gets one JSON object per line. A Logger obtained from a Service
// follows Service.Apply, so a config reload changes level and sinks of every
// component at once. The zero Logger discards everything.
//
// Operator-facing run history lives in the event log, not here.
package logx
