package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/otalab/rxsweep/pkg/sweep"
	"github.com/segmentio/parquet-go"
	"gonum.org/v1/gonum/stat"
)

// StepRecord is one row of the sweep results parquet file. Counter columns
// hold -1 when the DUT did not report the corresponding MIB field.
type StepRecord struct {
	TimestampMs int64   `parquet:"timestamp_ms"`
	StepIndex   int32   `parquet:"step_index"`
	PowerDBm    float64 `parquet:"power_dbm"`
	RecRxCount  int64   `parquet:"rec_rx_count"`
	RxOKCount   int64   `parquet:"rx_ok_count"`
	PER         float64 `parquet:"per"`
}

func buildRecords(cfg sweep.Config, result sweep.Result) []StepRecord {
	repeat := cfg.RepeatCount
	if repeat == 0 {
		repeat = sweep.DefaultRepeatCount
	}

	records := make([]StepRecord, 0, len(result.Steps))
	for i, step := range result.Steps {
		rec := StepRecord{
			TimestampMs: step.Timestamp.UnixMilli(),
			StepIndex:   int32(i + 1),
			PowerDBm:    step.PowerDBm,
			RecRxCount:  -1,
			RxOKCount:   -1,
			PER:         -1,
		}
		if step.Mib.RecRxCount != nil {
			rec.RecRxCount = int64(*step.Mib.RecRxCount)
		}
		if step.Mib.RxOKCount != nil {
			rec.RxOKCount = int64(*step.Mib.RxOKCount)
			rec.PER = 1 - float64(*step.Mib.RxOKCount)/float64(repeat)
		}
		records = append(records, rec)
	}
	return records
}

// saveResults writes the sweep steps to a parquet file. The sweep
// configuration travels along as file metadata so results stay
// self-describing.
func saveResults(path string, cfg sweep.Config, result sweep.Result) error {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating results file: %w", err)
	}
	defer f.Close()

	writer := parquet.NewGenericWriter[StepRecord](f,
		parquet.KeyValueMetadata("sweep_config", string(cfgJSON)),
	)

	records := buildRecords(cfg, result)
	if len(records) > 0 {
		if _, err := writer.Write(records); err != nil {
			writer.Close()
			return fmt.Errorf("writing results: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing results file: %w", err)
	}
	return nil
}

// summarize returns the mean PER over steps that reported an OK count.
// The second return is false when no step had one.
func summarize(records []StepRecord) (float64, bool) {
	pers := make([]float64, 0, len(records))
	for _, rec := range records {
		if rec.RxOKCount >= 0 {
			pers = append(pers, rec.PER)
		}
	}
	if len(pers) == 0 {
		return 0, false
	}
	return stat.Mean(pers, nil), true
}
