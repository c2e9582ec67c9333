// Package profiles lists the sender profiles a run may use and keeps
// reusable profile group presets.
package profiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Profile is a sender identity known to the messaging backend.
type Profile struct {
	Name         string `json:"name"`
	MessagesSent int    `json:"messages_sent"`
	Phone        string `json:"phone"`
}

type Directory interface {
	List(ctx context.Context) ([]Profile, error)
}

type Config struct {
	Source  string   // static | http
	Static  []string // profile names for the static source
	BaseURL string   // backend API base for the http source
	Timeout time.Duration
}

func OpenDirectory(cfg Config) (Directory, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Source)) {
	case "", "static":
		out := make(Static, 0, len(cfg.Static))
		for _, n := range cfg.Static {
			if n = strings.TrimSpace(n); n != "" {
				out = append(out, Profile{Name: n})
			}
		}
		return out, nil
	case "http":
		return NewHTTPDirectory(cfg.BaseURL, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown profile source %q", cfg.Source)
	}
}

// Static is a fixed profile list.
type Static []Profile

func (s Static) List(context.Context) ([]Profile, error) {
	return append([]Profile(nil), s...), nil
}

// HTTPDirectory reads GET <base>/profiles from the messaging backend.
type HTTPDirectory struct {
	base string
	http *http.Client
}

func NewHTTPDirectory(baseURL string, timeout time.Duration) (*HTTPDirectory, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("profiles.base_url is required for the http source")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDirectory{base: base, http: &http.Client{Timeout: timeout}}, nil
}

func (d *HTTPDirectory) List(ctx context.Context) ([]Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.base+"/profiles", http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("list profiles: http=%d", resp.StatusCode)
	}
	var out struct {
		Profiles []Profile `json:"profiles"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}
	return out.Profiles, nil
}

// UnknownProfilesError names selected profiles the directory does not know.
type UnknownProfilesError struct {
	IDs []string
}

func (e *UnknownProfilesError) Error() string {
	return "unknown profiles: " + strings.Join(e.IDs, ", ")
}

// CheckSelection verifies every id exists in dir. An empty directory
// accepts anything (nothing to check against).
func CheckSelection(ctx context.Context, dir Directory, ids []string) error {
	if dir == nil {
		return nil
	}
	known, err := dir.List(ctx)
	if err != nil {
		return err
	}
	if len(known) == 0 {
		return nil
	}
	set := make(map[string]bool, len(known))
	for _, p := range known {
		set[p.Name] = true
	}
	var missing []string
	for _, id := range ids {
		if !set[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return &UnknownProfilesError{IDs: missing}
	}
	return nil
}
