package main

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/otalab/rxsweep/pkg/dut"
	"github.com/otalab/rxsweep/pkg/sweep"
	"github.com/otalab/rxsweep/pkg/vsg"
	"github.com/otalab/rxsweep/pkg/waveform"
)

const (
	vsgConnectTimeout = 3 * time.Second
	dutConnectTimeout = 5 * time.Second
)

// AppState holds the single live signal generator, DUT client and loaded
// waveform. The mutex is held for the duration of each command; a running
// sweep owns the connections exclusively and mutating commands are refused
// until it finishes.
type AppState struct {
	mu sync.Mutex

	vsg     *vsg.Instrument
	dut     *dut.Client
	wfmData []byte
	wfmInfo waveform.Info

	sweepRunning bool
	sweepCancel  atomic.Bool
}

var errSweepRunning = fmt.Errorf("a sweep is running; cancel it first")

// ConnectVSG replaces the live generator connection. An existing connection
// is stopped best-effort first.
func (s *AppState) ConnectVSG(ip string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sweepRunning {
		return "", errSweepRunning
	}

	if s.vsg != nil {
		if err := s.vsg.Stop(); err != nil {
			log.Printf("stop during reconnect failed (ignored): %v", err)
		}
		s.vsg.Close()
		s.vsg = nil
	}

	inst, err := vsg.Connect(ip, vsgConnectTimeout, true)
	if err != nil {
		return "", err
	}
	s.vsg = inst

	log.Printf("VSG connected: %s", inst.ID())
	return inst.ID(), nil
}

// DisconnectVSG stops playback best-effort and drops the connection.
func (s *AppState) DisconnectVSG() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sweepRunning {
		return errSweepRunning
	}
	if s.vsg == nil {
		return nil
	}

	if err := s.vsg.Stop(); err != nil {
		log.Printf("stop during disconnect failed (ignored): %v", err)
	}
	s.vsg.Close()
	s.vsg = nil
	return nil
}

// ConnectDUT replaces the live board connection.
func (s *AppState) ConnectDUT(ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sweepRunning {
		return errSweepRunning
	}

	if s.dut != nil {
		s.dut.Close()
		s.dut = nil
	}

	client, err := dut.DialHost(ip, dutConnectTimeout)
	if err != nil {
		return err
	}
	s.dut = client

	log.Printf("DUT connected: %s", ip)
	return nil
}

// DisconnectDUT drops the board connection.
func (s *AppState) DisconnectDUT() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sweepRunning {
		return errSweepRunning
	}
	if s.dut != nil {
		s.dut.Close()
		s.dut = nil
	}
	return nil
}

// LoadWaveform reads a waveform file into the single waveform slot.
func (s *AppState) LoadWaveform(path string, bwMHz, frameIntervalUs int) (waveform.Info, error) {
	data, info, err := waveform.LoadFile(path, bwMHz, frameIntervalUs)
	if err != nil {
		return waveform.Info{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sweepRunning {
		return waveform.Info{}, errSweepRunning
	}
	s.wfmData = data
	s.wfmInfo = info

	log.Printf("waveform loaded: %s (%d sample pairs)", info.FileName, info.SampleCount)
	return info, nil
}

// WaveformData returns a copy of the loaded waveform bytes.
func (s *AppState) WaveformData() ([]byte, waveform.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wfmData == nil {
		return nil, waveform.Info{}, fmt.Errorf("no waveform data to export")
	}
	data := make([]byte, len(s.wfmData))
	copy(data, s.wfmData)
	return data, s.wfmInfo, nil
}

// Play configures the generator and starts playback of the loaded waveform.
// repeat == 0 plays continuously.
func (s *AppState) Play(cfHz, bwMHz, ampDBm float64, repeat uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sweepRunning {
		return errSweepRunning
	}
	if s.vsg == nil {
		return fmt.Errorf("not connected to instrument")
	}
	if s.wfmData == nil {
		return fmt.Errorf("no waveform file loaded")
	}

	fs := bwMHz * 2 * 1e6
	if err := s.vsg.Configure(cfHz, fs, ampDBm); err != nil {
		return err
	}
	if err := s.vsg.DownloadWfm(s.wfmData, "waveform"); err != nil {
		return err
	}

	if repeat > 0 {
		return s.vsg.PlayWithRepeat("waveform", repeat)
	}
	return s.vsg.Play("waveform")
}

// StopPlayback disables the generator output chain.
func (s *AppState) StopPlayback() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sweepRunning {
		return errSweepRunning
	}
	if s.vsg == nil {
		return fmt.Errorf("not connected to instrument")
	}
	return s.vsg.Stop()
}

// CancelSweep requests cooperative cancellation of the running sweep. The
// orchestrator observes the flag between steps.
func (s *AppState) CancelSweep() {
	s.sweepCancel.Store(true)
}

// StartSweep validates preconditions, takes ownership of the connections and
// runs the sweep on its own goroutine. done is called with the outcome after
// the generator has been stopped.
func (s *AppState) StartSweep(cfg sweep.Config, onProgress func(sweep.Progress), done func(sweep.Result, error)) error {
	s.mu.Lock()

	if s.sweepRunning {
		s.mu.Unlock()
		return errSweepRunning
	}
	if s.vsg == nil {
		s.mu.Unlock()
		return fmt.Errorf("not connected to instrument")
	}
	if s.wfmData == nil {
		s.mu.Unlock()
		return fmt.Errorf("no waveform file loaded")
	}

	gen := s.vsg
	var tel sweep.Telemetry
	if s.dut != nil {
		tel = s.dut
	}
	wfm := make([]byte, len(s.wfmData))
	copy(wfm, s.wfmData)

	s.sweepCancel.Store(false)
	s.sweepRunning = true
	s.mu.Unlock()

	// The sweep's blocking sleeps run outside the state lock so
	// read-only queries stay responsive for its whole duration.
	go func() {
		result, err := sweep.Run(cfg, gen, tel, wfm, &s.sweepCancel, onProgress)

		s.mu.Lock()
		s.sweepRunning = false
		s.mu.Unlock()

		done(result, err)
	}()

	return nil
}

// Snapshot reports the current connection and waveform state.
func (s *AppState) Snapshot() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := map[string]interface{}{
		"instrument_connected": s.vsg != nil,
		"dut_connected":        s.dut != nil,
		"waveform_loaded":      s.wfmData != nil,
		"sweep_running":        s.sweepRunning,
	}
	if s.vsg != nil {
		snap["instrument_id"] = s.vsg.ID()
	}
	if s.wfmData != nil {
		snap["waveform"] = s.wfmInfo
	}
	return snap
}
