package config

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidOption is wrapped by every MergeOptions validation failure.
var ErrInvalidOption = errors.New("config: invalid option")

// MaxDimension is the largest canvas side a GIF logical screen can describe.
const MaxDimension = 1<<16 - 1

type MergeMode string

const (
	ModeGrid     MergeMode = "grid"
	ModeSequence MergeMode = "sequence"
)

type BackgroundPolicy string

const (
	BackgroundTransparent BackgroundPolicy = "transparent"
	BackgroundMatchSource BackgroundPolicy = "original"
	BackgroundWhite       BackgroundPolicy = "white"
	BackgroundBlack       BackgroundPolicy = "black"
)

type Interpolation string

const (
	InterpolationNearest  Interpolation = "nearest"
	InterpolationBilinear Interpolation = "bilinear"
)

// MergeOptions is the immutable per-export configuration.
type MergeOptions struct {
	Mode            MergeMode        `yaml:"mode"`
	Background      BackgroundPolicy `yaml:"background"`
	Columns         int              `yaml:"columns,omitempty"` // 0: ceil(sqrt(n))
	FrameIntervalMs int              `yaml:"frame_interval_ms"`
	TargetWidth     int              `yaml:"target_width,omitempty"` // 0: natural size
	TargetHeight    int              `yaml:"target_height,omitempty"`
	LockAspectRatio bool             `yaml:"lock_aspect_ratio"`
	Interpolation   Interpolation    `yaml:"interpolation"`
}

// DefaultMergeOptions mirrors the exporter defaults.
func DefaultMergeOptions() MergeOptions {
	return MergeOptions{
		Mode:            ModeGrid,
		Background:      BackgroundTransparent,
		FrameIntervalMs: 100,
		LockAspectRatio: true,
		Interpolation:   InterpolationNearest,
	}
}

func (o MergeOptions) Validate() error {
	switch o.Mode {
	case ModeGrid, ModeSequence:
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidOption, o.Mode)
	}
	switch o.Background {
	case BackgroundTransparent, BackgroundMatchSource, BackgroundWhite, BackgroundBlack:
	default:
		return fmt.Errorf("%w: unknown background %q", ErrInvalidOption, o.Background)
	}
	switch o.Interpolation {
	case InterpolationNearest, InterpolationBilinear:
	default:
		return fmt.Errorf("%w: unknown interpolation %q", ErrInvalidOption, o.Interpolation)
	}
	if o.FrameIntervalMs <= 0 {
		return fmt.Errorf("%w: frame interval must be positive, got %d", ErrInvalidOption, o.FrameIntervalMs)
	}
	if o.Columns < 0 {
		return fmt.Errorf("%w: columns must not be negative, got %d", ErrInvalidOption, o.Columns)
	}
	if o.TargetWidth < 0 || o.TargetHeight < 0 || o.TargetWidth > MaxDimension || o.TargetHeight > MaxDimension {
		return fmt.Errorf("%w: target size %dx%d out of range", ErrInvalidOption, o.TargetWidth, o.TargetHeight)
	}
	return nil
}

// OutputSize resolves the final canvas size from the natural composite size.
// A single explicit side derives the other one when the aspect ratio is locked.
func (o MergeOptions) OutputSize(naturalW, naturalH int) (int, int) {
	w, h := o.TargetWidth, o.TargetHeight
	switch {
	case w > 0 && h > 0:
		return w, h
	case w > 0:
		if o.LockAspectRatio && naturalW > 0 {
			return w, scaleRound(w, naturalH, naturalW)
		}
		return w, naturalH
	case h > 0:
		if o.LockAspectRatio && naturalH > 0 {
			return scaleRound(h, naturalW, naturalH), h
		}
		return naturalW, h
	}
	return naturalW, naturalH
}

// SetTargetWidth applies a user edit of the width, recomputing the height when locked.
func (o *MergeOptions) SetTargetWidth(w, naturalW, naturalH int) {
	o.TargetWidth = w
	if o.LockAspectRatio && naturalW > 0 && naturalH > 0 {
		o.TargetHeight = scaleRound(w, naturalH, naturalW)
	}
}

// SetTargetHeight applies a user edit of the height, recomputing the width when locked.
func (o *MergeOptions) SetTargetHeight(h, naturalW, naturalH int) {
	o.TargetHeight = h
	if o.LockAspectRatio && naturalW > 0 && naturalH > 0 {
		o.TargetWidth = scaleRound(h, naturalW, naturalH)
	}
}

// Retarget follows a change of the natural size (new columns, new mode).
// With a locked aspect ratio the current scale factor is kept, otherwise the
// target snaps back to the new natural size.
func (o *MergeOptions) Retarget(oldNaturalW, newNaturalW, newNaturalH int) {
	if o.LockAspectRatio && o.TargetWidth > 0 && oldNaturalW > 0 {
		scale := float64(o.TargetWidth) / float64(oldNaturalW)
		o.TargetWidth = int(math.Round(float64(newNaturalW) * scale))
		o.TargetHeight = int(math.Round(float64(newNaturalH) * scale))
		return
	}
	o.TargetWidth, o.TargetHeight = newNaturalW, newNaturalH
}

func scaleRound(v, num, den int) int {
	return int(math.Round(float64(v) * float64(num) / float64(den)))
}

// Config holds the CLI run settings.
type Config struct {
	InputPaths   []string
	OutputPath   string
	JobFile      string
	Workers      int
	ShowStats    bool
	BuildVersion string
	Options      MergeOptions
}
