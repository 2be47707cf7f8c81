package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"

	"github.com/otalab/rxsweep/pkg/sweep"
)

// API handlers. Requests and responses are small JSON bodies; sweep progress
// and completion are delivered over the websocket event stream.

func writeError(w http.ResponseWriter, status int, err error) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   err.Error(),
	})
}

func (s *AppState) handleInstrumentConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", 405)
		return
	}

	var req struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	identity, err := s.ConnectVSG(req.IP)
	if err != nil {
		writeError(w, 500, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success":  true,
		"identity": identity,
	})
}

func (s *AppState) handleInstrumentDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", 405)
		return
	}

	if err := s.DisconnectVSG(); err != nil {
		writeError(w, 500, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

func (s *AppState) handleDUTConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", 405)
		return
	}

	var req struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	if err := s.ConnectDUT(req.IP); err != nil {
		writeError(w, 500, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

func (s *AppState) handleDUTDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", 405)
		return
	}

	if err := s.DisconnectDUT(); err != nil {
		writeError(w, 500, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

func (s *AppState) handleWaveformLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", 405)
		return
	}

	var req struct {
		Path            string `json:"path"`
		BwMHz           int    `json:"bw_mhz"`
		FrameIntervalUs int    `json:"frame_interval_us"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	info, err := s.LoadWaveform(req.Path, req.BwMHz, req.FrameIntervalUs)
	if err != nil {
		writeError(w, 400, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"info":    info,
	})
}

func (s *AppState) handleWaveformExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", 405)
		return
	}

	var req struct {
		Path string `json:"path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	data, _, err := s.WaveformData()
	if err != nil {
		writeError(w, 400, err)
		return
	}
	if err := os.WriteFile(req.Path, data, 0644); err != nil {
		writeError(w, 500, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

func (s *AppState) handlePlay(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", 405)
		return
	}

	var req struct {
		CarrierHz   float64 `json:"carrier_hz"`
		BwMHz       float64 `json:"bw_mhz"`
		PowerDBm    float64 `json:"power_dbm"`
		RepeatCount uint32  `json:"repeat_count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	if err := s.Play(req.CarrierHz, req.BwMHz, req.PowerDBm, req.RepeatCount); err != nil {
		writeError(w, 500, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

func (s *AppState) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", 405)
		return
	}

	if err := s.StopPlayback(); err != nil {
		writeError(w, 500, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

func (s *AppState) handleSweepStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", 405)
		return
	}

	var req struct {
		CarrierHz   float64 `json:"carrier_hz"`
		BwMHz       float64 `json:"bw_mhz"`
		CableLossDB float64 `json:"cable_loss_db"`
		StartDBm    float64 `json:"start_dbm"`
		EndDBm      float64 `json:"end_dbm"`
		StepDBm     float64 `json:"step_dbm"`
		RepeatCount uint32  `json:"repeat_count"`
		ResultsPath string  `json:"results_path"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}

	cfg := sweep.Config{
		CarrierHz:    req.CarrierHz,
		BandwidthMHz: req.BwMHz,
		CableLossDB:  req.CableLossDB,
		StartDBm:     req.StartDBm,
		EndDBm:       req.EndDBm,
		StepDBm:      req.StepDBm,
		RepeatCount:  req.RepeatCount,
	}

	err := s.StartSweep(cfg,
		func(p sweep.Progress) {
			broadcastJSON(map[string]interface{}{
				"type":     "sweep_progress",
				"progress": p,
			})
		},
		func(result sweep.Result, err error) {
			if err != nil {
				log.Printf("sweep failed: %v", err)
				broadcastJSON(map[string]interface{}{
					"type":  "sweep_error",
					"error": err.Error(),
				})
				return
			}

			if req.ResultsPath != "" {
				if err := saveResults(req.ResultsPath, cfg, result); err != nil {
					log.Printf("saving sweep results failed: %v", err)
				}
			}

			broadcastJSON(map[string]interface{}{
				"type":      "sweep_done",
				"steps":     len(result.Steps),
				"cancelled": result.Cancelled,
			})
		})
	if err != nil {
		writeError(w, 409, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

func (s *AppState) handleSweepCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", 405)
		return
	}

	s.CancelSweep()
	json.NewEncoder(w).Encode(map[string]interface{}{"success": true})
}

func (s *AppState) handleState(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(s.Snapshot())
}
