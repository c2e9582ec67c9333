package dispatch

import (
	"bufio"
	"strings"
)

// Payload is the content one profile sends. ImageRef and AudioRef are
// driver-specific references (file paths for the HTTP driver).
type Payload struct {
	Text     string `json:"text,omitempty" toml:"text,omitempty"`
	ImageRef string `json:"image_ref,omitempty" toml:"image_ref,omitempty"`
	AudioRef string `json:"audio_ref,omitempty" toml:"audio_ref,omitempty"`
}

// Empty reports whether the payload has neither text nor an attachment.
func (p Payload) Empty() bool {
	return strings.TrimSpace(p.Text) == "" &&
		strings.TrimSpace(p.ImageRef) == "" &&
		strings.TrimSpace(p.AudioRef) == ""
}

// SendTask is one (recipient, profile, payload) unit of work.
type SendTask struct {
	Recipient string
	ProfileID string
	Payload   Payload
}

// Assignment binds a sender profile to its payload. A slice of assignments
// keeps the profile order stable.
type Assignment struct {
	ProfileID string
	Payload   Payload
}

type DispatchConfig struct {
	Recipients  []string
	Assignments []Assignment
	Pacing      PacingConfig
}

// ProfileIDs returns the assigned profiles in order.
func (c DispatchConfig) ProfileIDs() []string {
	out := make([]string, len(c.Assignments))
	for i, a := range c.Assignments {
		out[i] = a.ProfileID
	}
	return out
}

// Build expands recipients × assignments into the ordered task list:
// for each recipient in input order, one task per assigned profile in
// assignment order. Every problem in cfg is reported in one *ValidationError.
func Build(cfg DispatchConfig) ([]SendTask, error) {
	verr := &ValidationError{}

	if len(cfg.Recipients) == 0 {
		verr.NoRecipients = true
	}
	for i, r := range cfg.Recipients {
		if strings.TrimSpace(r) == "" {
			verr.BlankRecipients = append(verr.BlankRecipients, i)
		}
	}
	if len(cfg.Assignments) == 0 {
		verr.NoProfiles = true
	}
	seen := make(map[string]bool, len(cfg.Assignments))
	for _, a := range cfg.Assignments {
		id := strings.TrimSpace(a.ProfileID)
		if id == "" {
			verr.BlankProfileIDs++
			continue
		}
		if seen[id] {
			verr.DuplicateProfiles = append(verr.DuplicateProfiles, id)
			continue
		}
		seen[id] = true
		if a.Payload.Empty() {
			verr.EmptyPayloadProfiles = append(verr.EmptyPayloadProfiles, id)
		}
	}
	if err := cfg.Pacing.Validate(); err != nil {
		verr.Pacing = err
	}
	if verr.HasProblems() {
		return nil, verr
	}

	tasks := make([]SendTask, 0, len(cfg.Recipients)*len(cfg.Assignments))
	for _, r := range cfg.Recipients {
		r = strings.TrimSpace(r)
		for _, a := range cfg.Assignments {
			tasks = append(tasks, SendTask{
				Recipient: r,
				ProfileID: strings.TrimSpace(a.ProfileID),
				Payload:   a.Payload,
			})
		}
	}
	return tasks, nil
}

// ParseRecipients splits one-per-line input, trimming whitespace and dropping
// blank lines. Order and duplicates are preserved.
func ParseRecipients(text string) []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(text))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}
