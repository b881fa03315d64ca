package pipeline

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Preset is a saved pipeline layout: the processing stages and their
// configs, without outputs or selection.
type Preset struct {
	Name   string        `yaml:"name"`
	Stages []PresetStage `yaml:"stages"`
}

// PresetStage is one processing stage of a preset. Only the config block
// matching Kind is used.
type PresetStage struct {
	Kind        StageKind          `yaml:"kind"`
	Enabled     *bool              `yaml:"enabled,omitempty"`
	Convert     *ConvertConfig     `yaml:"convert,omitempty"`
	Postprocess *PostprocessConfig `yaml:"postprocess,omitempty"`
}

// DefaultPreset is the Convert, Recognize, Postprocess layout.
func DefaultPreset() Preset {
	return Preset{
		Name: "default",
		Stages: []PresetStage{
			{Kind: KindConvert},
			{Kind: KindRecognize},
			{Kind: KindPostprocess},
		},
	}
}

// Preset captures the current processing stages.
func (s *RunState) Preset(name string) Preset {
	p := Preset{Name: name}
	for _, st := range s.Stages()[1:] {
		ps := PresetStage{Kind: st.Kind}
		if !st.Enabled {
			enabled := false
			ps.Enabled = &enabled
		}
		switch cfg := st.Config.(type) {
		case ConvertConfig:
			ps.Convert = &cfg
		case PostprocessConfig:
			ps.Postprocess = &cfg
		}
		p.Stages = append(p.Stages, ps)
	}
	return p
}

// ApplyPreset replaces all processing stages with the preset's stages. The
// selection is kept and the first processing stage becomes current.
func (s *RunState) ApplyPreset(p Preset) error {
	for _, ps := range p.Stages {
		if _, err := ParseStageKind(string(ps.Kind)); err != nil {
			return err
		}
		if ps.Convert != nil {
			if err := ps.Convert.Validate(); err != nil {
				return fmt.Errorf("preset %q: %w", p.Name, err)
			}
		}
	}

	for _, st := range s.Stages()[1:] {
		if err := s.RemoveStage(st.ID); err != nil {
			return err
		}
	}
	for _, ps := range p.Stages {
		st, err := s.AddStage(ps.Kind)
		if err != nil {
			return err
		}
		switch {
		case ps.Kind == KindConvert && ps.Convert != nil:
			err = s.SetStageConfig(st.ID, *ps.Convert)
		case ps.Kind == KindPostprocess && ps.Postprocess != nil:
			err = s.SetStageConfig(st.ID, *ps.Postprocess)
		}
		if err != nil {
			return err
		}
		if ps.Enabled != nil && !*ps.Enabled {
			if err := s.SetStageEnabled(st.ID, false); err != nil {
				return err
			}
		}
	}
	if stages := s.Stages(); len(stages) > 1 {
		return s.SetCurrent(stages[1].ID)
	}
	return nil
}

// EncodePreset writes p as YAML.
func EncodePreset(w io.Writer, p Preset) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("encode preset: %w", err)
	}
	return enc.Close()
}

// DecodePreset reads a YAML preset.
func DecodePreset(r io.Reader) (Preset, error) {
	var p Preset
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Preset{}, fmt.Errorf("decode preset: %w", err)
	}
	return p, nil
}

// SavePreset writes p to path on fs.
func SavePreset(fs afero.Fs, path string, p Preset) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := fs.Create(path)
	if err != nil {
		return err
	}
	if err := EncodePreset(f, p); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// LoadPreset reads a preset from path on fs.
func LoadPreset(fs afero.Fs, path string) (Preset, error) {
	f, err := fs.Open(path)
	if err != nil {
		return Preset{}, err
	}
	defer func() { _ = f.Close() }()
	return DecodePreset(f)
}
