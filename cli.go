package main

import (
	"fmt"
	"log"
	"time"

	"github.com/otalab/rxsweep/pkg/dut"
	"github.com/otalab/rxsweep/pkg/sweep"
	"github.com/otalab/rxsweep/pkg/vsg"
	"github.com/otalab/rxsweep/pkg/waveform"
)

// runCLI executes a full one-shot receiver sweep from a YAML config file.
func runCLI(configFile string, outputFile string) {
	fmt.Println("--- RX Sweep Session Start ---")

	cfg, err := loadConfig(configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	fmt.Printf(">>> Connecting to generator at %s\n", cfg.Instrument.IP)
	gen, err := vsg.Connect(cfg.Instrument.IP, cfg.instrumentTimeout(), cfg.Instrument.Reset)
	if err != nil {
		log.Fatalf("Generator connection failed: %v", err)
	}
	defer gen.Close()
	fmt.Printf("    Identity: %s\n", gen.ID())

	var tel *dut.Client
	if cfg.DUT.IP != "" {
		fmt.Printf(">>> Connecting to DUT at %s\n", cfg.DUT.IP)
		tel, err = dut.DialHost(cfg.DUT.IP, cfg.dutTimeout())
		if err != nil {
			log.Fatalf("DUT connection failed: %v", err)
		}
		defer tel.Close()
	} else {
		fmt.Println(">>> No DUT configured, running transmit-only")
	}

	fmt.Printf(">>> Loading waveform %s\n", cfg.Waveform.Path)
	data, info, err := waveform.LoadFile(cfg.Waveform.Path, cfg.Waveform.BwMHz, cfg.Waveform.FrameIntervalUs)
	if err != nil {
		log.Fatalf("Waveform load failed: %v", err)
	}
	fmt.Printf("    %d samples, %d bytes\n", info.SampleCount, info.FileSize)

	sweepCfg := sweep.Config{
		CarrierHz:    cfg.Sweep.CarrierHz,
		BandwidthMHz: float64(cfg.Waveform.BwMHz),
		CableLossDB:  cfg.Sweep.CableLossDB,
		StartDBm:     cfg.Sweep.StartDBm,
		EndDBm:       cfg.Sweep.EndDBm,
		StepDBm:      cfg.Sweep.StepDBm,
		RepeatCount:  cfg.Sweep.RepeatCount,
		GuardMargin:  time.Duration(cfg.Sweep.GuardMs) * time.Millisecond,
	}

	fmt.Printf(">>> SWEEPING %.1f to %.1f dBm, step %.1f\n",
		sweepCfg.StartDBm, sweepCfg.EndDBm, sweepCfg.StepDBm)
	start := time.Now()

	var telemetry sweep.Telemetry
	if tel != nil {
		telemetry = tel
	}

	result, err := sweep.Run(sweepCfg, gen, telemetry, data, nil, func(p sweep.Progress) {
		fmt.Printf("    [%d/%d] %.1f dBm\n", p.StepIndex, p.TotalSteps, p.CurrentPower)
	})
	if err != nil {
		log.Fatalf("Sweep failed: %v", err)
	}

	fmt.Println("--- Results ---")
	fmt.Printf("Steps:    %d\n", len(result.Steps))
	fmt.Printf("Duration: %v\n", time.Since(start))

	records := buildRecords(sweepCfg, result)
	if mean, ok := summarize(records); ok {
		fmt.Printf("Mean PER: %.4f\n", mean)
	}

	resultsPath := outputFile
	if resultsPath == "" {
		resultsPath = cfg.Output.Results
	}
	if resultsPath != "" {
		fmt.Printf(">>> SAVING TO FILE: %s ... ", resultsPath)
		if err := saveResults(resultsPath, sweepCfg, result); err != nil {
			fmt.Printf("\nError saving results: %v\n", err)
		} else {
			fmt.Println("DONE")
		}
	}
}
