// Package vsg controls Keysight EXG/MXG-class vector signal generators over
// SCPI: configuration, ARB waveform download, continuous and finite-repeat
// playback, and software-triggered sweeps.
package vsg

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/otalab/rxsweep/pkg/rferr"
	"github.com/otalab/rxsweep/pkg/scpi"
)

// DefaultPort is the standard SCPI raw socket port.
const DefaultPort = 5025

// MaxSampleRateHz is the instrument's ARB sample clock ceiling.
const MaxSampleRateHz = 240e6

// Instrument is a connected signal generator. All calls are serialized by an
// internal mutex; the SCPI protocol is strictly half-duplex per connection.
type Instrument struct {
	mu     sync.Mutex
	client *scpi.Client
	id     string
}

// Connect opens the instrument's control port on ip. If reset is true a
// factory reset is issued and awaited before the identity query.
func Connect(ip string, timeout time.Duration, reset bool) (*Instrument, error) {
	return ConnectAddr(net.JoinHostPort(ip, fmt.Sprintf("%d", DefaultPort)), timeout, reset)
}

// ConnectAddr is Connect with an explicit host:port address.
func ConnectAddr(addr string, timeout time.Duration, reset bool) (*Instrument, error) {
	client, err := scpi.Dial(addr, timeout)
	if err != nil {
		return nil, err
	}

	if reset {
		if err := client.WriteCmd("*rst"); err != nil {
			client.Close()
			return nil, err
		}
		// Block until the reset completes.
		if _, err := client.Query("*opc?"); err != nil {
			client.Close()
			return nil, err
		}
	}

	id, err := client.Query("*idn?")
	if err != nil {
		client.Close()
		return nil, err
	}

	return &Instrument{client: client, id: id}, nil
}

// ID returns the identity string retrieved at connect time.
func (v *Instrument) ID() string {
	return v.id
}

// Configure sets carrier frequency (Hz), ARB sample clock rate (Hz) and
// output power (dBm). The sample rate is validated against the instrument
// ceiling before any command is sent.
func (v *Instrument) Configure(cfHz, fsHz, ampDBm float64) error {
	if fsHz > MaxSampleRateHz {
		return fmt.Errorf("%w: sample rate %.0f Hz exceeds %.0f Hz ceiling", rferr.ErrValidation, fsHz, float64(MaxSampleRateHz))
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	return v.configureLocked(cfHz, fsHz, ampDBm)
}

func (v *Instrument) configureLocked(cfHz, fsHz, ampDBm float64) error {
	if err := v.client.WriteCmd("frequency " + formatNum(cfHz)); err != nil {
		return err
	}
	if err := v.client.WriteCmd("radio:arb:sclock:rate " + formatNum(fsHz)); err != nil {
		return err
	}
	if err := v.client.WriteCmd("power " + formatNum(ampDBm)); err != nil {
		return err
	}
	return v.client.ErrCheck()
}

// formatNum renders a SCPI numeric argument in plain decimal notation.
func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// DownloadWfm transfers a pre-formatted waveform (big-endian interleaved
// int16 IQ) into the named WFM1 slot and selects it. Playback is disabled
// first so the upload cannot race a live ARB.
func (v *Instrument) DownloadWfm(data []byte, id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.downloadLocked(data, id)
}

func (v *Instrument) downloadLocked(data []byte, id string) error {
	if err := v.client.WriteCmd("output:modulation 0"); err != nil {
		return err
	}
	if err := v.client.WriteCmd("radio:arb:state 0"); err != nil {
		return err
	}

	cmd := fmt.Sprintf("mmemory:data \"WFM1:%s\",", id)
	if err := v.client.WriteBinaryBlock(cmd, data); err != nil {
		return err
	}

	if err := v.client.WriteCmd(fmt.Sprintf("radio:arb:waveform \"WFM1:%s\"", id)); err != nil {
		return err
	}
	return v.client.ErrCheck()
}

// Play starts continuous playback of the named waveform. RF output is armed
// before modulation, modulation before ARB state.
func (v *Instrument) Play(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.client.WriteCmd("radio:arb:trigger:type continuous"); err != nil {
		return err
	}
	if err := v.client.WriteCmd(fmt.Sprintf("radio:arb:waveform \"WFM1:%s\"", id)); err != nil {
		return err
	}
	if err := v.client.WriteCmd("output 1"); err != nil {
		return err
	}
	if err := v.client.WriteCmd("output:modulation 1"); err != nil {
		return err
	}
	if err := v.client.WriteCmd("radio:arb:state 1"); err != nil {
		return err
	}
	return v.client.ErrCheck()
}

// PlayWithRepeat builds a sequence referencing the uploaded segment with the
// given repetition count, arms bus/single triggering and fires one software
// trigger.
func (v *Instrument) PlayWithRepeat(id string, count uint32) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.buildSequenceLocked(id, count); err != nil {
		return err
	}
	if err := v.client.WriteCmd("*TRG"); err != nil {
		return err
	}
	return v.client.ErrCheck()
}

// buildSequenceLocked creates and selects a repeat-counted sequence, arms
// bus/single triggering and enables the output chain without triggering.
func (v *Instrument) buildSequenceLocked(id string, count uint32) error {
	seqID := "seq_" + id

	// No markers enabled on the sequence.
	if err := v.client.WriteCmd(fmt.Sprintf("radio:arb:sequence \"%s\",\"WFM1:%s\",%d,0", seqID, id, count)); err != nil {
		return err
	}
	if err := v.client.WriteCmd(fmt.Sprintf("radio:arb:waveform \"SEQ:%s\"", seqID)); err != nil {
		return err
	}
	if err := v.client.WriteCmd("radio:arb:trigger:source bus"); err != nil {
		return err
	}
	if err := v.client.WriteCmd("radio:arb:trigger:type single"); err != nil {
		return err
	}

	// Enable the playback chain (order per Keysight documentation).
	if err := v.client.WriteCmd("radio:arb:state 1"); err != nil {
		return err
	}
	if err := v.client.WriteCmd("output:modulation 1"); err != nil {
		return err
	}
	return v.client.WriteCmd("output 1")
}

// SetPower updates output power only, leaving frequency and sample clock
// untouched. Used inside sweeps.
func (v *Instrument) SetPower(ampDBm float64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.client.WriteCmd("power " + formatNum(ampDBm)); err != nil {
		return err
	}
	return v.client.ErrCheck()
}

// PrepareSweep performs the one-time sweep setup: configure, download,
// sequence build, bus/single trigger arming and output-chain enable, without
// starting playback. Subsequent steps need only SetPower and Trigger.
func (v *Instrument) PrepareSweep(data []byte, id string, cfHz, fsHz, ampDBm float64, repeat uint32) error {
	if fsHz > MaxSampleRateHz {
		return fmt.Errorf("%w: sample rate %.0f Hz exceeds %.0f Hz ceiling", rferr.ErrValidation, fsHz, float64(MaxSampleRateHz))
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.configureLocked(cfHz, fsHz, ampDBm); err != nil {
		return err
	}
	if err := v.downloadLocked(data, id); err != nil {
		return err
	}
	if err := v.buildSequenceLocked(id, repeat); err != nil {
		return err
	}
	return v.client.ErrCheck()
}

// Trigger fires the software trigger for an armed sequence. Awaiting the
// playback duration is the caller's responsibility.
func (v *Instrument) Trigger() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.client.WriteCmd("*TRG"); err != nil {
		return err
	}
	return v.client.ErrCheck()
}

// Stop disables RF output, modulation and ARB state. It never queries the
// error queue; teardown callers treat failures as best-effort.
func (v *Instrument) Stop() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.client.WriteCmd("output 0"); err != nil {
		return err
	}
	if err := v.client.WriteCmd("output:modulation 0"); err != nil {
		return err
	}
	return v.client.WriteCmd("radio:arb:state 0")
}

// Close shuts down the control connection.
func (v *Instrument) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.client.Close()
}
