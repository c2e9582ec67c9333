package app

// StopReason is logged when the daemon shuts down. It doubles as a
// context cancellation cause.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
)

func (r StopReason) Error() string { return string(r) }
