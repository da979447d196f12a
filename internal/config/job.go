package config

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ivlev/gifmerge/internal/watermark"
	"gopkg.in/yaml.v3"
)

// Job is a complete export description stored as YAML.
type Job struct {
	Version    string          `yaml:"version"`
	Output     string          `yaml:"output,omitempty"`
	Inputs     []InputSpec     `yaml:"inputs"`
	Options    MergeOptions    `yaml:"options"`
	Watermarks []WatermarkSpec `yaml:"watermarks,omitempty"`
}

// InputSpec points at one source GIF. ID defaults to the file name.
type InputSpec struct {
	ID   string `yaml:"id,omitempty"`
	Path string `yaml:"path"`
}

// WatermarkSpec is the serializable form of a watermark.
type WatermarkSpec struct {
	ID   string `yaml:"id"`
	Type string `yaml:"type"` // image, text, qr

	Path    string `yaml:"path,omitempty"`    // image
	Content string `yaml:"content,omitempty"` // qr
	Width   int    `yaml:"width,omitempty"`   // image: resize, qr: side
	Height  int    `yaml:"height,omitempty"`

	Text       string  `yaml:"text,omitempty"`
	FontFamily string  `yaml:"font_family,omitempty"`
	FontSize   float64 `yaml:"font_size,omitempty"`
	Bold       bool    `yaml:"bold,omitempty"`
	Italic     bool    `yaml:"italic,omitempty"`
	Color      string  `yaml:"color,omitempty"`

	X        int      `yaml:"x"`
	Y        int      `yaml:"y"`
	Rotation float64  `yaml:"rotation,omitempty"`
	Opacity  *float64 `yaml:"opacity,omitempty"`
	Layer    int      `yaml:"layer,omitempty"`
	Tiling   string   `yaml:"tiling,omitempty"`
	Targets  []string `yaml:"targets,omitempty"` // empty or ["all"]: whole canvas
}

// Build turns the job entry into a watermark. Relative paths resolve against baseDir.
func (s WatermarkSpec) Build(baseDir string) (*watermark.Watermark, error) {
	var (
		w   *watermark.Watermark
		err error
	)
	switch s.Type {
	case "image", "":
		path := s.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			return nil, fmt.Errorf("watermark %s: %w", s.ID, rerr)
		}
		if w, err = watermark.NewImage(s.ID, data); err != nil {
			return nil, err
		}
		if s.Width > 0 && s.Height > 0 {
			if err := w.Resize(s.Width, s.Height); err != nil {
				return nil, err
			}
		}
	case "qr":
		size := s.Width
		if size <= 0 {
			size = 128
		}
		if w, err = watermark.NewQRCode(s.ID, s.Content, size); err != nil {
			return nil, err
		}
	case "text":
		c := color.RGBA{0xff, 0xff, 0xff, 0xff}
		if s.Color != "" {
			if c, err = ParseColor(s.Color); err != nil {
				return nil, fmt.Errorf("watermark %s: %w", s.ID, err)
			}
		}
		size := s.FontSize
		if size <= 0 {
			size = 24
		}
		w = watermark.NewText(s.ID, s.Text, size, c)
		p := w.Payload.(*watermark.TextPayload)
		if s.FontFamily != "" {
			p.FontFamily = s.FontFamily
		}
		p.Bold, p.Italic = s.Bold, s.Italic
	default:
		return nil, fmt.Errorf("%w: watermark %s has unknown type %q", ErrInvalidOption, s.ID, s.Type)
	}

	w.Position = image.Pt(s.X, s.Y)
	w.RotationDegrees = s.Rotation
	w.LayerOrder = s.Layer
	if s.Opacity != nil {
		w.Opacity = *s.Opacity
	}
	if s.Tiling != "" {
		w.Tiling = watermark.TilingMode(s.Tiling)
	}
	if len(s.Targets) > 0 && !(len(s.Targets) == 1 && s.Targets[0] == "all") {
		w.Target = watermark.Inputs(s.Targets...)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// ParseColor accepts #rrggbb and #rrggbbaa.
func ParseColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 && len(hex) != 8 {
		return color.RGBA{}, fmt.Errorf("%w: color %q", ErrInvalidOption, s)
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("%w: color %q", ErrInvalidOption, s)
	}
	return color.RGBA{uint8(v >> 24), uint8(v >> 16), uint8(v >> 8), uint8(v)}, nil
}

// WriteJob writes a job to a YAML file
func WriteJob(job *Job, path string) error {
	data, err := yaml.Marshal(job)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ReadJob reads a job from a YAML file. Missing options keep their defaults.
func ReadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	job := Job{Options: DefaultMergeOptions()}
	if err := yaml.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(job.Inputs) == 0 {
		return nil, fmt.Errorf("%w: job %s lists no inputs", ErrInvalidOption, path)
	}
	for i := range job.Inputs {
		if job.Inputs[i].ID == "" {
			job.Inputs[i].ID = strings.TrimSuffix(filepath.Base(job.Inputs[i].Path), filepath.Ext(job.Inputs[i].Path))
		}
	}
	if err := job.Options.Validate(); err != nil {
		return nil, err
	}

	return &job, nil
}
