package main

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/segmentio/parquet-go"

	"github.com/otalab/rxsweep/pkg/dut"
	"github.com/otalab/rxsweep/pkg/sweep"
)

func u32(v uint32) *uint32 { return &v }

func sampleResult() (sweep.Config, sweep.Result) {
	cfg := sweep.Config{
		CarrierHz:    2.412e9,
		BandwidthMHz: 40,
		StartDBm:     -10,
		EndDBm:       -8,
		StepDBm:      1,
		RepeatCount:  1000,
	}
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	result := sweep.Result{
		Steps: []sweep.StepResult{
			{Timestamp: base, PowerDBm: -10, Mib: dut.MibResult{RecRxCount: u32(1000), RxOKCount: u32(990)}},
			{Timestamp: base.Add(time.Second), PowerDBm: -9, Mib: dut.MibResult{RecRxCount: u32(1000), RxOKCount: u32(500)}},
			{Timestamp: base.Add(2 * time.Second), PowerDBm: -8, Mib: dut.MibResult{}},
		},
	}
	return cfg, result
}

func TestBuildRecords(t *testing.T) {
	cfg, result := sampleResult()
	records := buildRecords(cfg, result)

	want := []StepRecord{
		{TimestampMs: result.Steps[0].Timestamp.UnixMilli(), StepIndex: 1, PowerDBm: -10, RecRxCount: 1000, RxOKCount: 990, PER: 0.01},
		{TimestampMs: result.Steps[1].Timestamp.UnixMilli(), StepIndex: 2, PowerDBm: -9, RecRxCount: 1000, RxOKCount: 500, PER: 0.5},
		{TimestampMs: result.Steps[2].Timestamp.UnixMilli(), StepIndex: 3, PowerDBm: -8, RecRxCount: -1, RxOKCount: -1, PER: -1},
	}
	if diff := cmp.Diff(want, records, cmp.Comparer(func(a, b float64) bool {
		return math.Abs(a-b) < 1e-9
	})); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildRecordsDefaultRepeat(t *testing.T) {
	cfg, result := sampleResult()
	cfg.RepeatCount = 0
	result.Steps = result.Steps[:1]

	records := buildRecords(cfg, result)
	if got := records[0].PER; math.Abs(got-0.01) > 1e-9 {
		t.Errorf("PER with default repeat count = %v, want 0.01", got)
	}
}

func TestSummarize(t *testing.T) {
	cfg, result := sampleResult()
	records := buildRecords(cfg, result)

	mean, ok := summarize(records)
	if !ok {
		t.Fatal("summarize reported no data")
	}
	// Third step has no counters and must not enter the mean.
	if want := (0.01 + 0.5) / 2; math.Abs(mean-want) > 1e-9 {
		t.Errorf("mean PER = %v, want %v", mean, want)
	}

	if _, ok := summarize(nil); ok {
		t.Error("summarize of empty records reported data")
	}
}

func TestSaveResultsRoundTrip(t *testing.T) {
	cfg, result := sampleResult()
	path := filepath.Join(t.TempDir(), "sweep.parquet")

	if err := saveResults(path, cfg, result); err != nil {
		t.Fatalf("saveResults: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading results file: %v", err)
	}

	rows, err := parquet.Read[StepRecord](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("reading parquet: %v", err)
	}
	if diff := cmp.Diff(buildRecords(cfg, result), rows); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSaveResultsEmpty(t *testing.T) {
	cfg, _ := sampleResult()
	path := filepath.Join(t.TempDir(), "empty.parquet")

	if err := saveResults(path, cfg, sweep.Result{}); err != nil {
		t.Fatalf("saveResults: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading results file: %v", err)
	}
	rows, err := parquet.Read[StepRecord](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("reading parquet: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows, got %d", len(rows))
	}
}
