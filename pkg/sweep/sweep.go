// Package sweep drives a signal generator and an optional device-telemetry
// client through a sequence of transmit power levels: arm once, then per
// step set power, trigger, wait out the playback and collect receive
// statistics.
package sweep

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/otalab/rxsweep/pkg/dut"
	"github.com/otalab/rxsweep/pkg/rferr"
)

// DefaultRepeatCount is the sequence repetition used when arming. A long
// burst keeps trigger timing jitter from truncating playback.
const DefaultRepeatCount = 1000

// DefaultGuardMargin pads the per-step wait beyond the computed waveform
// duration. Verify against real hardware before tightening.
const DefaultGuardMargin = 100 * time.Millisecond

// Generator is the transmit side of a sweep.
type Generator interface {
	PrepareSweep(data []byte, id string, cfHz, fsHz, ampDBm float64, repeat uint32) error
	SetPower(ampDBm float64) error
	Trigger() error
	Stop() error
}

// Telemetry is the optional receive side of a sweep.
type Telemetry interface {
	OpenRX(cfMHz, bwMHz uint32) error
	CloseRX(cfMHz uint32) error
	ReadMib(cfMHz uint32) (string, error)
}

// Progress is an immutable snapshot emitted once per completed step.
type Progress struct {
	CurrentPower float64 `json:"current_power"`
	StepIndex    int     `json:"step_index"` // 1-based
	TotalSteps   int     `json:"total_steps"`
}

// StepResult records one completed step.
type StepResult struct {
	Timestamp time.Time
	PowerDBm  float64 // commanded power, before cable loss
	Mib       dut.MibResult
}

// Result is the outcome of a sweep run.
type Result struct {
	Steps     []StepResult
	Cancelled bool
}

// Config holds the sweep parameters.
type Config struct {
	CarrierHz    float64 `json:"carrier_hz"`
	BandwidthMHz float64 `json:"bandwidth_mhz"`
	// CableLossDB is added to every commanded power to compensate
	// signal-path attenuation.
	CableLossDB float64 `json:"cable_loss_db"`
	StartDBm    float64 `json:"start_dbm"`
	EndDBm      float64 `json:"end_dbm"`
	StepDBm     float64 `json:"step_dbm"`

	WfmID       string        `json:"wfm_id"`       // defaults to "waveform"
	RepeatCount uint32        `json:"repeat_count"` // defaults to DefaultRepeatCount
	GuardMargin time.Duration `json:"guard_margin"` // defaults to DefaultGuardMargin
}

// SampleRateHz returns the ARB clock for the configured bandwidth
// (Nyquist-rate convention for this device class).
func (c Config) SampleRateHz() float64 {
	return c.BandwidthMHz * 2 * 1e6
}

// Steps enumerates the power levels from start to end inclusive. A small
// tolerance on the upper bound keeps rounding error from dropping the final
// step.
func Steps(start, end, step float64) []float64 {
	var powers []float64
	for p := start; p <= end+1e-9; p += step {
		powers = append(powers, p)
	}
	return powers
}

// stepWait is the blocking per-step wait: the waveform must play to
// completion within this window.
func stepWait(wfmBytes int, fsHz float64, guard time.Duration) time.Duration {
	sampleCount := wfmBytes / 4
	duration := time.Duration(float64(sampleCount) / fsHz * float64(time.Second))
	return duration + guard
}

// Run executes the sweep. tel may be nil when no device telemetry is
// attached. Cancellation is cooperative: the flag is observed between steps
// only, never mid-step. The generator is always stopped on the way out,
// best-effort. Any device error aborts the remaining steps immediately.
func Run(cfg Config, gen Generator, tel Telemetry, wfm []byte, cancel *atomic.Bool, onProgress func(Progress)) (Result, error) {
	if cfg.WfmID == "" {
		cfg.WfmID = "waveform"
	}
	if cfg.RepeatCount == 0 {
		cfg.RepeatCount = DefaultRepeatCount
	}
	if cfg.GuardMargin == 0 {
		cfg.GuardMargin = DefaultGuardMargin
	}
	if cfg.StepDBm <= 0 {
		return Result{}, fmt.Errorf("%w: step must be positive, got %v", rferr.ErrValidation, cfg.StepDBm)
	}

	fs := cfg.SampleRateHz()

	// One-time arm: configure, download, build sequence, bus/single
	// trigger. Steps then only touch power and the trigger.
	if err := gen.PrepareSweep(wfm, cfg.WfmID, cfg.CarrierHz, fs, cfg.StartDBm+cfg.CableLossDB, cfg.RepeatCount); err != nil {
		return Result{}, fmt.Errorf("prepare sweep: %w", err)
	}

	cfMHz := uint32(math.Round(cfg.CarrierHz / 1e6))
	bwMHz := uint32(math.Round(cfg.BandwidthMHz))

	// Defensive reset of the receive path before the first step.
	if tel != nil {
		if err := tel.CloseRX(cfMHz); err != nil {
			stopQuietly(gen)
			return Result{}, fmt.Errorf("close rx: %w", err)
		}
	}

	wait := stepWait(len(wfm), fs, cfg.GuardMargin)
	powers := Steps(cfg.StartDBm, cfg.EndDBm, cfg.StepDBm)

	var result Result
	for i, power := range powers {
		if cancel != nil && cancel.Load() {
			result.Cancelled = true
			break
		}

		if err := runStep(cfg, gen, tel, cfMHz, bwMHz, power, wait, &result); err != nil {
			stopQuietly(gen)
			return result, err
		}

		if onProgress != nil {
			onProgress(Progress{
				CurrentPower: power,
				StepIndex:    i + 1,
				TotalSteps:   len(powers),
			})
		}
	}

	stopQuietly(gen)
	return result, nil
}

func runStep(cfg Config, gen Generator, tel Telemetry, cfMHz, bwMHz uint32, power float64, wait time.Duration, result *Result) error {
	if tel != nil {
		if err := tel.OpenRX(cfMHz, bwMHz); err != nil {
			return fmt.Errorf("open rx: %w", err)
		}
	}

	if err := gen.SetPower(power + cfg.CableLossDB); err != nil {
		return fmt.Errorf("set power: %w", err)
	}
	if err := gen.Trigger(); err != nil {
		return fmt.Errorf("trigger: %w", err)
	}

	time.Sleep(wait)

	step := StepResult{Timestamp: time.Now(), PowerDBm: power}
	if tel != nil {
		text, err := tel.ReadMib(cfMHz)
		if err != nil {
			return fmt.Errorf("read mib: %w", err)
		}
		step.Mib = dut.ParseMibResponse(text, bwMHz)

		if err := tel.CloseRX(cfMHz); err != nil {
			return fmt.Errorf("close rx: %w", err)
		}
	}

	result.Steps = append(result.Steps, step)
	return nil
}

// stopQuietly is the best-effort teardown used on every exit path.
func stopQuietly(gen Generator) {
	_ = gen.Stop()
}
