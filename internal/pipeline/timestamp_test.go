package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sapflux-io/pipeline/internal/metadata"
)

func newYorkContext(t *testing.T, start, end string) *metadata.ExecutionContext {
	t.Helper()
	startT, err := time.Parse(time.RFC3339, start)
	if err != nil {
		t.Fatalf("parse start: %v", err)
	}
	endT, err := time.Parse(time.RFC3339, end)
	if err != nil {
		t.Fatalf("parse end: %v", err)
	}
	return &metadata.ExecutionContext{
		Dataloggers: []metadata.Datalogger{{ID: "dl-420", Code: "420"}},
		Deployments: []metadata.DeploymentContext{
			{
				Deployment: metadata.Deployment{
					ID: "dep-1", DataloggerID: "dl-420", SDI12Address: "0",
					Interval: metadata.Interval{Start: startT, End: &endT}, IncludeInPipeline: true,
				},
				Timezone: "America/New_York",
			},
		},
	}
}

func TestFixTimestampsDSTChunkBoundary(t *testing.T) {
	ec := newYorkContext(t, "2024-01-01T00:00:00Z", "2025-01-01T00:00:00Z")

	rows := []Row{
		{RawLoggerID: "420", Record: 1, SDI12Address: "0", FileHash: "f1", RawTimestamp: "2024-03-10 01:30:00"},
		{RawLoggerID: "420", Record: 2, SDI12Address: "0", FileHash: "f2", RawTimestamp: "2024-03-10 03:30:00"},
	}

	out, err := FixTimestamps(context.Background(), Frame{Rows: rows}, ec)
	if err != nil {
		t.Fatalf("FixTimestamps: %v", err)
	}
	if len(out.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(out.Rows))
	}
	t1 := time.Unix(0, out.Rows[0].TimestampUTC).UTC()
	t2 := time.Unix(0, out.Rows[1].TimestampUTC).UTC()
	if !t1.Before(t2) {
		t.Fatalf("expected strictly monotone timestamps: %v then %v", t1, t2)
	}
	wantT1 := time.Date(2024, 3, 10, 6, 30, 0, 0, time.UTC) // 01:30 EST = 06:30 UTC
	wantT2 := time.Date(2024, 3, 10, 7, 30, 0, 0, time.UTC) // 03:30 EDT = 07:30 UTC
	if !t1.Equal(wantT1) {
		t.Errorf("pre-DST chunk resolved to %v, want %v (UTC-5)", t1, wantT1)
	}
	if !t2.Equal(wantT2) {
		t.Errorf("post-DST chunk resolved to %v, want %v (UTC-4)", t2, wantT2)
	}
}

func TestFixTimestampsOverlappingDownloadsCollapseDuplicates(t *testing.T) {
	ec := newYorkContext(t, "2024-01-01T00:00:00Z", "2025-01-01T00:00:00Z")
	// America/New_York is at UTC-5 in January; both files use a timestamp
	// consistent with that offset so the chunk resolves unambiguously.
	var rows []Row
	for record := int64(150); record <= 200; record++ {
		ts := "2024-01-10 00:00:00"
		rows = append(rows,
			Row{RawLoggerID: "420", Record: record, SDI12Address: "0", FileHash: "F1", RawTimestamp: ts},
			Row{RawLoggerID: "420", Record: record, SDI12Address: "0", FileHash: "F2", RawTimestamp: ts},
		)
	}

	out, err := FixTimestamps(context.Background(), Frame{Rows: rows}, ec)
	if err != nil {
		t.Fatalf("FixTimestamps: %v", err)
	}
	if len(out.Rows) != 51 {
		t.Fatalf("got %d collapsed rows, want 51 (one per distinct record)", len(out.Rows))
	}
	for _, r := range out.Rows {
		if r.FileSetSignature != "F1,F2" {
			t.Errorf("record %d signature = %q, want sorted union \"F1,F2\"", r.Record, r.FileSetSignature)
		}
	}
}

func TestFixTimestampsAmbiguousChunkOfOneErrors(t *testing.T) {
	// No deployment registered at all: neither offset resolves to a
	// plausible deployment, so the chunk is ambiguous and the batch fails.
	ec := &metadata.ExecutionContext{Dataloggers: []metadata.Datalogger{{ID: "dl-420", Code: "420"}}}
	rows := []Row{
		{RawLoggerID: "420", Record: 1, SDI12Address: "0", FileHash: "f1", RawTimestamp: "2024-03-10 01:30:00"},
	}
	_, err := FixTimestamps(context.Background(), Frame{Rows: rows}, ec)
	if err == nil {
		t.Fatal("expected a TimestampAmbiguityError, got nil")
	}
}

func TestFixTimestampsConflictingRawTimestampsReject(t *testing.T) {
	ec := newYorkContext(t, "2024-01-01T00:00:00Z", "2025-01-01T00:00:00Z")
	rows := []Row{
		{RawLoggerID: "420", Record: 7, SDI12Address: "0", FileHash: "F1", RawTimestamp: "2024-01-10 00:00:00"},
		{RawLoggerID: "420", Record: 7, SDI12Address: "0", FileHash: "F2", RawTimestamp: "2024-01-10 00:30:00"},
	}
	_, err := FixTimestamps(context.Background(), Frame{Rows: rows}, ec)
	var conflict *RecordConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected a RecordConflictError for a record recurring with a different timestamp, got %v", err)
	}
	if conflict.Record != 7 {
		t.Fatalf("conflict record = %d, want 7", conflict.Record)
	}
}

func TestFixTimestampsFixedOffsetSiteResolvesUnambiguously(t *testing.T) {
	start, _ := time.Parse(time.RFC3339, "2025-01-01T00:00:00Z")
	end, _ := time.Parse(time.RFC3339, "2026-01-01T00:00:00Z")
	ec := &metadata.ExecutionContext{
		Dataloggers: []metadata.Datalogger{{ID: "dl-420", Code: "420"}},
		Deployments: []metadata.DeploymentContext{{
			Deployment: metadata.Deployment{
				ID: "dep-1", DataloggerID: "dl-420", SDI12Address: "0",
				Interval: metadata.Interval{Start: start, End: &end}, IncludeInPipeline: true,
			},
			Timezone: "UTC",
		}},
	}
	rows := []Row{
		{RawLoggerID: "420", Record: 1, SDI12Address: "0", FileHash: "f1", RawTimestamp: "2025-07-28 00:00:00"},
	}
	out, err := FixTimestamps(context.Background(), Frame{Rows: rows}, ec)
	if err != nil {
		t.Fatalf("FixTimestamps: %v", err)
	}
	got := time.Unix(0, out.Rows[0].TimestampUTC).UTC()
	want := time.Date(2025, 7, 28, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("fixed-offset site: timestamp = %v, want %v", got, want)
	}
}
