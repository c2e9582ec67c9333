package profiles

import (
	"context"
	"errors"
	"fmt"
	"io"

	toml "github.com/pelletier/go-toml/v2"

	"bulksend/internal/dispatch"
)

const presetsVersion = 1

type presetsFile struct {
	Version int           `toml:"version"`
	Groups  []presetGroup `toml:"group"`
}

type presetGroup struct {
	Name     string          `toml:"name"`
	Profiles []string        `toml:"profiles"`
	Messages []presetMessage `toml:"message,omitempty"`
}

type presetMessage struct {
	Profile string `toml:"profile"`
	Text    string `toml:"text,omitempty"`
	Image   string `toml:"image,omitempty"`
	Audio   string `toml:"audio,omitempty"`
}

// ExportTOML writes every group as a presets file.
func (s *Groups) ExportTOML(ctx context.Context, w io.Writer) error {
	groups, err := s.List(ctx)
	if err != nil {
		return err
	}
	file := presetsFile{Version: presetsVersion}
	for _, g := range groups {
		pg := presetGroup{Name: g.Name, Profiles: append([]string(nil), g.Profiles...)}
		for _, id := range g.Profiles {
			p, ok := g.Payloads[id]
			if !ok {
				continue
			}
			pg.Messages = append(pg.Messages, presetMessage{Profile: id, Text: p.Text, Image: p.ImageRef, Audio: p.AudioRef})
		}
		file.Groups = append(file.Groups, pg)
	}
	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode presets: %w", err)
	}
	_, err = w.Write(data)
	return err
}

// ImportTOML saves every group of a presets file, replacing groups with the
// same name. It returns how many groups were written.
func (s *Groups) ImportTOML(ctx context.Context, r io.Reader) (int, error) {
	var file presetsFile
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&file); err != nil {
		return 0, fmt.Errorf("decode presets: %w", err)
	}
	if file.Version != 0 && file.Version != presetsVersion {
		return 0, fmt.Errorf("unsupported presets version %d", file.Version)
	}

	n := 0
	for _, pg := range file.Groups {
		g := Group{Name: pg.Name, Profiles: pg.Profiles, Payloads: map[string]dispatch.Payload{}}
		for _, m := range pg.Messages {
			g.Payloads[m.Profile] = dispatch.Payload{Text: m.Text, ImageRef: m.Image, AudioRef: m.Audio}
		}
		if existing, err := s.Get(ctx, pg.Name); err == nil {
			g.ID = existing.ID
		} else if !errors.Is(err, ErrGroupNotFound) {
			return n, err
		}
		if _, err := s.Save(ctx, g); err != nil {
			return n, fmt.Errorf("import group %q: %w", pg.Name, err)
		}
		n++
	}
	return n, nil
}
