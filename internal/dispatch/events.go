package dispatch

import "time"

// Bus topics published by the controller.
const (
	TopicPrefix   = "dispatch."
	TopicState    = "dispatch.state"
	TopicProgress = "dispatch.progress"
	TopicRest     = "dispatch.rest"
)

type StateChange struct {
	From Status
	To   Status
}

type Progress struct {
	Recipient string
	ProfileID string
	Err       string
	Took      time.Duration
	Sent      int
	Failed    int
	Total     int
}

type Rest struct {
	Duration time.Duration
	Until    time.Time
	AutoRest bool
}
