package config

import (
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/lexi.report/internal/fsutil"
	"github.com/banshee-data/lexi.report/internal/telemetry/calib"
	"github.com/banshee-data/lexi.report/internal/telemetry/decode"
	"github.com/banshee-data/lexi.report/internal/units"
)

// DefaultConfigPath is the path to the canonical calibration defaults file.
const DefaultConfigPath = "config/calibration.defaults.json"

// maxFileSize caps configuration files at 1MB.
const maxFileSize = 1 * 1024 * 1024

// CalibrationConfig is the on-disk calibration and decoding configuration.
// Fields left out of a file fall back to the LEXI ground calibration via
// the Get* methods, so partial configs are safe.
type CalibrationConfig struct {
	// Decoder params
	VoltsPerCount *float64 `json:"volts_per_count,omitempty" yaml:"volts_per_count,omitempty"`
	HKValueShift  *uint    `json:"hk_value_shift,omitempty" yaml:"hk_value_shift,omitempty"` // 0 or 4

	// Gating. A zero channel scale uses the decoded volts unchanged.
	ChannelVoltsPerCount *[4]float64 `json:"channel_volts_per_count,omitempty" yaml:"channel_volts_per_count,omitempty"`
	LowThreshold         *float64    `json:"low_threshold,omitempty" yaml:"low_threshold,omitempty"`
	HighThreshold        *float64    `json:"high_threshold,omitempty" yaml:"high_threshold,omitempty"`
	ChannelBaseline      *[4]float64 `json:"channel_baseline,omitempty" yaml:"channel_baseline,omitempty"`

	// Alignment correction
	Offset           *[2]float64    `json:"offset,omitempty" yaml:"offset,omitempty"`
	Matrix           *[2][2]float64 `json:"matrix,omitempty" yaml:"matrix,omitempty"`
	DistortionMatrix *[2][2]float64 `json:"distortion_matrix,omitempty" yaml:"distortion_matrix,omitempty"`
	Scale            *float64       `json:"scale,omitempty" yaml:"scale,omitempty"` // cm per unit ratio
	LengthUnit       *string        `json:"length_unit,omitempty" yaml:"length_unit,omitempty"`

	// Pipeline
	Workers *int `json:"workers,omitempty" yaml:"workers,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrUint(v uint) *uint          { return &v }

// EmptyCalibrationConfig returns a CalibrationConfig with all fields nil.
func EmptyCalibrationConfig() *CalibrationConfig {
	return &CalibrationConfig{}
}

// DefaultCalibrationConfig returns the ground calibration with every field
// set explicitly.
func DefaultCalibrationConfig() *CalibrationConfig {
	offset := [2]float64{calib.GroundOffsetU, calib.GroundOffsetW}
	matrix := calib.GroundMatrix
	channelVPC := groundChannelVoltsPerCount()
	baseline := calib.DefaultConfig().Baseline
	return &CalibrationConfig{
		VoltsPerCount:        ptrFloat64(decode.DefaultVoltsPerCount),
		ChannelVoltsPerCount: &channelVPC,
		HKValueShift:         ptrUint(0),
		LowThreshold:         ptrFloat64(calib.GroundLow),
		HighThreshold:        ptrFloat64(calib.GroundHigh),
		ChannelBaseline:      &baseline,
		Offset:               &offset,
		Matrix:               &matrix,
		Scale:                ptrFloat64(calib.GroundScaleCM),
		LengthUnit:           ptrString(units.CM),
		Workers:              ptrInt(0),
	}
}

// The science ADC spans 4.5 V over 16 bits, a slightly different scale from
// the housekeeping ADC the decoder uses.
func groundChannelVoltsPerCount() [4]float64 {
	v := calib.GroundVoltsPerCount
	return [4]float64{v, v, v, v}
}

// LoadCalibrationConfig loads a config from path on the OS filesystem.
func LoadCalibrationConfig(path string) (*CalibrationConfig, error) {
	return LoadCalibrationConfigFS(fsutil.OSFileSystem{}, path)
}

// LoadCalibrationConfigFS loads a JSON (.json) or YAML (.yaml, .yml) config
// through fsys. The file must be under 1MB.
func LoadCalibrationConfigFS(fsys fsutil.FileSystem, path string) (*CalibrationConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	data, err := fsutil.ReadFileLimit(fsys, cleanPath, maxFileSize)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyCalibrationConfig()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", strings.TrimPrefix(ext, "."), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or a parent. Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *CalibrationConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/telemetry/*
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadCalibrationConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set.
func (c *CalibrationConfig) Validate() error {
	if c.VoltsPerCount != nil && !(*c.VoltsPerCount > 0 && !math.IsInf(*c.VoltsPerCount, 1)) {
		return fmt.Errorf("volts_per_count must be positive and finite, got %g", *c.VoltsPerCount)
	}
	if c.HKValueShift != nil && *c.HKValueShift != 0 && *c.HKValueShift != 4 {
		return fmt.Errorf("hk_value_shift must be 0 or 4, got %d", *c.HKValueShift)
	}
	if c.LengthUnit != nil && !units.IsValid(*c.LengthUnit) {
		return fmt.Errorf("length_unit must be one of %s, got %q", units.GetValidUnitsString(), *c.LengthUnit)
	}
	if c.Workers != nil && *c.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", *c.Workers)
	}

	// Threshold, matrix and scale checks are shared with the engine.
	if _, err := calib.NewEngine(c.ToCalibration()); err != nil {
		return err
	}
	return nil
}

// GetVoltsPerCount returns the decoder ADC scale or the default.
func (c *CalibrationConfig) GetVoltsPerCount() float64 {
	if c.VoltsPerCount == nil {
		return decode.DefaultVoltsPerCount
	}
	return *c.VoltsPerCount
}

// GetChannelVoltsPerCount returns the science channel ADC scales or the
// ground value for every channel.
func (c *CalibrationConfig) GetChannelVoltsPerCount() [4]float64 {
	if c.ChannelVoltsPerCount == nil {
		return groundChannelVoltsPerCount()
	}
	return *c.ChannelVoltsPerCount
}

// GetLowThreshold returns the low gate or the default.
func (c *CalibrationConfig) GetLowThreshold() float64 {
	if c.LowThreshold == nil {
		return calib.GroundLow
	}
	return *c.LowThreshold
}

// GetHighThreshold returns the high gate or the default.
func (c *CalibrationConfig) GetHighThreshold() float64 {
	if c.HighThreshold == nil {
		return calib.GroundHigh
	}
	return *c.HighThreshold
}

// GetChannelBaseline returns the per-channel baseline or the ground 1 V.
func (c *CalibrationConfig) GetChannelBaseline() [4]float64 {
	if c.ChannelBaseline == nil {
		return calib.DefaultConfig().Baseline
	}
	return *c.ChannelBaseline
}

// GetOffset returns the alignment offset or the default.
func (c *CalibrationConfig) GetOffset() [2]float64 {
	if c.Offset == nil {
		return [2]float64{calib.GroundOffsetU, calib.GroundOffsetW}
	}
	return *c.Offset
}

// GetMatrix returns the correction matrix or the default.
func (c *CalibrationConfig) GetMatrix() [2][2]float64 {
	if c.Matrix == nil {
		return calib.GroundMatrix
	}
	return *c.Matrix
}

// GetScale returns the normalization scale in cm or the default.
func (c *CalibrationConfig) GetScale() float64 {
	if c.Scale == nil {
		return calib.GroundScaleCM
	}
	return *c.Scale
}

// GetLengthUnit returns the output length unit or cm.
func (c *CalibrationConfig) GetLengthUnit() string {
	if c.LengthUnit == nil || *c.LengthUnit == "" {
		return units.CM
	}
	return *c.LengthUnit
}

// GetHKValueShift returns the status-word value shift or 0.
func (c *CalibrationConfig) GetHKValueShift() uint {
	if c.HKValueShift == nil {
		return 0
	}
	return *c.HKValueShift
}

// GetWorkers returns the worker count; 0 means one per CPU.
func (c *CalibrationConfig) GetWorkers() int {
	if c.Workers == nil {
		return 0
	}
	return *c.Workers
}

// ToCalibration builds the engine configuration. The scale is converted
// from cm into the configured length unit; the "norm" unit drops the scale.
func (c *CalibrationConfig) ToCalibration() calib.Config {
	cfg := calib.Config{
		Low:    c.GetLowThreshold(),
		High:   c.GetHighThreshold(),
		Offset: c.GetOffset(),
		Matrix: c.GetMatrix(),
		Scale:  units.ConvertLength(c.GetScale(), c.GetLengthUnit()),
	}
	if c.GetLengthUnit() == units.NORM {
		cfg.Scale = 1
	}
	cfg.ChannelVoltsPerCount = c.GetChannelVoltsPerCount()
	cfg.Baseline = c.GetChannelBaseline()
	if c.DistortionMatrix != nil {
		d := *c.DistortionMatrix
		cfg.Distortion = &d
	}
	return cfg
}

// ToDecoder builds the frame decoder configuration.
func (c *CalibrationConfig) ToDecoder() decode.Decoder {
	d := decode.New(c.GetVoltsPerCount())
	if c.GetHKValueShift() == 4 {
		d.Layout = decode.ShiftedStatusLayout
	}
	return d
}
