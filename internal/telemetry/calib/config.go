package calib

import (
	"errors"
	"fmt"
	"math"
)

// Config is the calibration configuration for one pipeline run.
type Config struct {
	// ChannelVoltsPerCount, when non-zero for a channel, re-derives that
	// channel's voltage from raw counts instead of using the decoded volts.
	ChannelVoltsPerCount [4]float64

	// Low and High bound the pulse-height window (exclusive).
	Low, High float64

	// Baseline is subtracted from each gated channel voltage before the
	// charge-division ratio is formed.
	Baseline [4]float64

	Offset [2]float64
	Matrix [2][2]float64

	// Distortion, when set, is the measured distortion matrix. It is
	// inverted when the engine is built and replaces Matrix.
	Distortion *[2][2]float64

	// Scale converts corrected coordinates into physical units.
	Scale float64
}

// Ground calibration constants of the LEXI flight detector.
const (
	GroundVoltsPerCount = 4.5 / 65536
	GroundLow           = 2.1
	GroundHigh          = 3.3
	GroundOffsetU       = 0.4866
	GroundOffsetW       = 0.5201
	GroundBaseline      = 1.0 // volts subtracted from every gated channel
	GroundScaleCM       = 2 / 0.0614
)

// GroundMatrix is the alignment correction measured during ground
// calibration.
var GroundMatrix = [2][2]float64{
	{1.0275, -0.14678},
	{-0.13380, 1.0293},
}

// DefaultConfig returns the LEXI ground calibration in centimetres. The
// offset and matrix were fitted to baseline-subtracted ratios, so the
// baseline is part of the calibration.
func DefaultConfig() Config {
	return Config{
		Low:      GroundLow,
		High:     GroundHigh,
		Baseline: groundBaseline(),
		Offset:   [2]float64{GroundOffsetU, GroundOffsetW},
		Matrix:   GroundMatrix,
		Scale:    GroundScaleCM,
	}
}

func groundBaseline() [4]float64 {
	return [4]float64{GroundBaseline, GroundBaseline, GroundBaseline, GroundBaseline}
}

// Identity returns a configuration that gates with low/high and otherwise
// leaves the raw charge-division ratios unchanged.
func Identity(low, high float64) Config {
	return Config{
		Low:    low,
		High:   high,
		Matrix: [2][2]float64{{1, 0}, {0, 1}},
		Scale:  1,
	}
}

// Validate checks that the configuration can produce positions.
func (c Config) Validate() error {
	var errs []error
	if !finite(c.Low) || !finite(c.High) {
		errs = append(errs, errors.New("thresholds must be finite"))
	} else if c.Low >= c.High {
		errs = append(errs, fmt.Errorf("low threshold %v must be below high threshold %v", c.Low, c.High))
	}
	if !finite(c.Scale) || c.Scale == 0 {
		errs = append(errs, fmt.Errorf("scale must be finite and non-zero, got %v", c.Scale))
	}
	for i, v := range c.ChannelVoltsPerCount {
		if !finite(v) || v < 0 {
			errs = append(errs, fmt.Errorf("channel %d volts per count must be >= 0, got %v", i+1, v))
		}
	}
	for i, v := range c.Baseline {
		if !finite(v) {
			errs = append(errs, fmt.Errorf("channel %d baseline must be finite", i+1))
		}
	}
	if !finite(c.Offset[0]) || !finite(c.Offset[1]) {
		errs = append(errs, errors.New("offset must be finite"))
	}
	for _, row := range c.Matrix {
		if !finite(row[0]) || !finite(row[1]) {
			errs = append(errs, errors.New("matrix entries must be finite"))
			break
		}
	}
	return errors.Join(errs...)
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
