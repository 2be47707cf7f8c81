package main

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/otalab/rxsweep/pkg/rferr"
)

// SweepFileConfig describes a full one-shot sweep run loaded from a YAML
// file: which instruments to talk to, the waveform to play and the power
// range to walk.
type SweepFileConfig struct {
	Instrument struct {
		IP        string `yaml:"ip" validate:"required,ip"`
		TimeoutMs int    `yaml:"timeout_ms"`
		Reset     bool   `yaml:"reset"`
	} `yaml:"instrument"`

	// DUT is optional. Without it the sweep runs transmit-only and no
	// MIB counters are collected.
	DUT struct {
		IP        string `yaml:"ip" validate:"omitempty,ip"`
		TimeoutMs int    `yaml:"timeout_ms"`
	} `yaml:"dut"`

	Waveform struct {
		Path            string `yaml:"path" validate:"required"`
		BwMHz           int    `yaml:"bw_mhz" validate:"required,gt=0"`
		FrameIntervalUs int    `yaml:"frame_interval_us" validate:"gte=0"`
	} `yaml:"waveform"`

	Sweep struct {
		CarrierHz   float64 `yaml:"carrier_hz" validate:"required,gt=0"`
		CableLossDB float64 `yaml:"cable_loss_db"`
		StartDBm    float64 `yaml:"start_dbm"`
		EndDBm      float64 `yaml:"end_dbm" validate:"gtefield=StartDBm"`
		StepDBm     float64 `yaml:"step_dbm" validate:"required,gt=0"`
		RepeatCount uint32  `yaml:"repeat_count"`
		GuardMs     int     `yaml:"guard_ms" validate:"gte=0"`
	} `yaml:"sweep"`

	Output struct {
		Results string `yaml:"results"`
	} `yaml:"output"`
}

func (c *SweepFileConfig) instrumentTimeout() time.Duration {
	if c.Instrument.TimeoutMs <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.Instrument.TimeoutMs) * time.Millisecond
}

func (c *SweepFileConfig) dutTimeout() time.Duration {
	if c.DUT.TimeoutMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.DUT.TimeoutMs) * time.Millisecond
}

func loadConfig(path string) (*SweepFileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg SweepFileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing config: %v", rferr.ErrValidation, err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", rferr.ErrValidation, err)
	}
	return &cfg, nil
}
