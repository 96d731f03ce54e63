// Package project reads and writes timeline project files. A project carries the
// canvas, lane settings and layers of one edit; the format follows the file
// extension (.json, .yaml/.yml or .toml).
package project

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/onera/studio/internal/model"
	"github.com/onera/studio/internal/timeline"
)

// Format is an on-disk encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

var ErrUnknownFormat = errors.New("unknown project format")

var validate = validator.New()

// Project is the persisted form of a timeline.
type Project struct {
	Name     string        `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Canvas   model.Canvas  `json:"canvas" yaml:"canvas" toml:"canvas"`
	Magnetic *bool         `json:"magnetic,omitempty" yaml:"magnetic,omitempty" toml:"magnetic,omitempty"`
	Ripple   *bool         `json:"ripple,omitempty" yaml:"ripple,omitempty" toml:"ripple,omitempty"`
	Tracks   model.Tracks  `json:"tracks,omitempty" yaml:"tracks,omitempty" toml:"tracks,omitempty"`
	Layers   []model.Layer `json:"layers" yaml:"layers" toml:"layers" validate:"dive"`
}

// FormatOf picks the encoding from a file name.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, filepath.Ext(path))
}

// Load reads and validates a project file.
func Load(path string) (*Project, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project: %w", err)
	}
	p, err := Decode(bytes.NewReader(data), format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return p, nil
}

// Decode parses a project. Unknown fields are rejected. Missing canvas values and
// lanes are filled with defaults.
func Decode(r io.Reader, format Format) (*Project, error) {
	var p Project
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("parse json: %w", err)
		}
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	case FormatTOML:
		dec := toml.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	p.normalize()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Project) normalize() {
	p.Canvas = p.Canvas.WithDefaults()
	tracks := model.DefaultTracks()
	for k, v := range p.Tracks {
		tracks[k] = v
	}
	p.Tracks = tracks
	if p.Layers == nil {
		p.Layers = []model.Layer{}
	}
}

// Validate checks the canvas bounds, the layer timing rules and that layer ids are
// unique.
func (p *Project) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid project: %w", err)
	}
	seen := make(map[string]struct{}, len(p.Layers))
	for i, l := range p.Layers {
		if _, dup := seen[l.ID]; dup {
			return fmt.Errorf("invalid project: layer %d: duplicate id %q", i, l.ID)
		}
		seen[l.ID] = struct{}{}
	}
	return nil
}

// Encode writes p in the given format.
func Encode(w io.Writer, format Format, p *Project) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(p); err != nil {
			return err
		}
		return enc.Close()
	case FormatTOML:
		return toml.NewEncoder(w).Encode(p)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// Save writes p to path, replacing any previous file atomically.
func Save(path string, p *Project) error {
	format, err := FormatOf(path)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := Encode(&buf, format, p); err != nil {
		return fmt.Errorf("encode project: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("save project: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	return nil
}

// Store loads the project into a new layer store. It returns the number of layers
// the store rejected.
func (p *Project) Store(opts ...timeline.Option) (*timeline.Store, int) {
	all := make([]timeline.Option, 0, len(opts)+2)
	if p.Magnetic != nil {
		all = append(all, timeline.WithMagnetic(*p.Magnetic))
	}
	if p.Ripple != nil {
		all = append(all, timeline.WithRipple(*p.Ripple))
	}
	s := timeline.NewStore(append(all, opts...)...)
	dropped := s.Load(p.Layers, p.Tracks)
	return s, dropped
}

// Update replaces the project's timeline with the state of snap.
func (p *Project) Update(snap timeline.Snapshot) {
	p.Layers = snap.Layers
	p.Tracks = snap.Tracks
	p.Magnetic = &snap.Magnetic
	p.Ripple = &snap.Ripple
}
