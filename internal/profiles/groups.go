package profiles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"bulksend/internal/dispatch"
	"bulksend/internal/storage"
	logx "bulksend/pkg/logx"
)

const groupKeyPrefix = "group/"

var (
	ErrGroupNotFound = errors.New("profile group not found")
	ErrGroupName     = errors.New("profile group name already used")
)

// Group is a saved selection of profiles with their payloads.
type Group struct {
	ID        string                      `json:"id"`
	Name      string                      `json:"name"`
	Profiles  []string                    `json:"profiles"`
	Payloads  map[string]dispatch.Payload `json:"payloads,omitempty"`
	CreatedAt time.Time                   `json:"created_at"`
	UpdatedAt time.Time                   `json:"updated_at"`
}

// Assignments returns the group's profiles in saved order with their
// payloads. Profiles without a payload get an empty one, which Build rejects.
func (g Group) Assignments() []dispatch.Assignment {
	out := make([]dispatch.Assignment, 0, len(g.Profiles))
	for _, id := range g.Profiles {
		out = append(out, dispatch.Assignment{ProfileID: id, Payload: g.Payloads[id]})
	}
	return out
}

func (g Group) validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return errors.New("group name is required")
	}
	if len(g.Profiles) == 0 {
		return fmt.Errorf("group %q has no profiles", g.Name)
	}
	seen := map[string]bool{}
	for _, p := range g.Profiles {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("group %q has a blank profile", g.Name)
		}
		if seen[p] {
			return fmt.Errorf("group %q lists profile %q twice", g.Name, p)
		}
		seen[p] = true
	}
	for id := range g.Payloads {
		if !seen[id] {
			return fmt.Errorf("group %q has a payload for unlisted profile %q", g.Name, id)
		}
	}
	return nil
}

// Groups stores presets under group/<id> keys.
type Groups struct {
	store storage.Store
	log   logx.Logger
	now   func() time.Time
}

func NewGroups(store storage.Store, log logx.Logger) *Groups {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Groups{store: store, log: log.With(logx.String("comp", "groups")), now: time.Now}
}

// List returns every group ordered by name.
func (s *Groups) List(ctx context.Context) ([]Group, error) {
	keys, err := s.store.Keys(ctx, groupKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	out := make([]Group, 0, len(keys))
	for _, k := range keys {
		g, ok, err := s.load(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// Get finds a group by ID, then by exact name.
func (s *Groups) Get(ctx context.Context, idOrName string) (Group, error) {
	idOrName = strings.TrimSpace(idOrName)
	if g, ok, err := s.load(ctx, groupKeyPrefix+idOrName); err != nil || ok {
		return g, err
	}
	all, err := s.List(ctx)
	if err != nil {
		return Group{}, err
	}
	for _, g := range all {
		if g.Name == idOrName {
			return g, nil
		}
	}
	return Group{}, fmt.Errorf("%w: %s", ErrGroupNotFound, idOrName)
}

// Save creates or replaces g. A new group gets an ID; names are unique.
func (s *Groups) Save(ctx context.Context, g Group) (Group, error) {
	g.Name = strings.TrimSpace(g.Name)
	if err := g.validate(); err != nil {
		return Group{}, err
	}
	all, err := s.List(ctx)
	if err != nil {
		return Group{}, err
	}
	for _, other := range all {
		if other.Name == g.Name && other.ID != g.ID {
			return Group{}, fmt.Errorf("%w: %s", ErrGroupName, g.Name)
		}
		if other.ID == g.ID {
			g.CreatedAt = other.CreatedAt
		}
	}

	now := s.now().UTC()
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now

	b, err := json.Marshal(g)
	if err != nil {
		return Group{}, err
	}
	if err := s.store.Put(ctx, groupKeyPrefix+g.ID, b); err != nil {
		return Group{}, fmt.Errorf("save group %q: %w", g.Name, err)
	}
	s.log.Info("group saved", logx.String("id", g.ID), logx.String("name", g.Name), logx.Int("profiles", len(g.Profiles)))
	return g, nil
}

func (s *Groups) Delete(ctx context.Context, idOrName string) error {
	g, err := s.Get(ctx, idOrName)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, groupKeyPrefix+g.ID); err != nil {
		return fmt.Errorf("delete group %q: %w", g.Name, err)
	}
	s.log.Info("group deleted", logx.String("id", g.ID), logx.String("name", g.Name))
	return nil
}

func (s *Groups) load(ctx context.Context, key string) (Group, bool, error) {
	raw, ok, err := s.store.Get(ctx, key)
	if err != nil || !ok {
		return Group{}, false, err
	}
	var g Group
	if err := json.Unmarshal(raw, &g); err != nil {
		return Group{}, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return g, true, nil
}
