package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sapflux-io/pipeline/internal/idgen"
	"github.com/sapflux-io/pipeline/internal/metadata"
	"github.com/sapflux-io/pipeline/internal/objectstore"
	"github.com/sapflux-io/pipeline/internal/pipeline"
	"github.com/sapflux-io/pipeline/internal/retry"
)

// PipelineCodeIdentifier names the compiled calculation implementation this
// binary runs, recorded on every Run row.
const PipelineCodeIdentifier = "sapflux_dma_peclet_v1"

// Publisher implements C7: serialize, upload, and record one output within
// the orchestrator's already-open storage transaction.
type Publisher struct {
	store          objectstore.Store
	newID          idgen.Generator
	sourceRevision string
	uploadPolicy   retry.Policy
}

// New constructs a Publisher. sourceRevision is embedded in every run row.
func New(store objectstore.Store, newID idgen.Generator, sourceRevision string) *Publisher {
	return &Publisher{store: store, newID: newID, sourceRevision: sourceRevision, uploadPolicy: retry.DefaultPolicy()}
}

// PublishInput is everything Publish needs beyond the open Tx.
type PublishInput struct {
	TransactionID string
	Result        pipeline.Result
	ManifestText  []byte
	Snapshot      *metadata.StoreSnapshot
	RawFileHashes []string
	StartedAt     time.Time
}

// Publish serializes the pipeline frame to
// deterministic parquet, assemble and upload the reproducibility cartridge,
// then insert the run and output rows with the is_latest flip, all within
// the caller's open Tx so no intermediate state exposes two latest outputs.
func (p *Publisher) Publish(ctx context.Context, tx metadata.Tx, in PublishInput) (*metadata.Output, error) {
	outputID := p.newID()

	parquetBytes, err := SerializeParquet(in.Result)
	if err != nil {
		return nil, fmt.Errorf("publisher: serialize parquet: %w", err)
	}
	cartridgeBytes, err := BuildCartridge(CartridgeInputs{
		Snapshot:       in.Snapshot,
		ManifestText:   in.ManifestText,
		RawFileHashes:  in.RawFileHashes,
		SourceRevision: p.sourceRevision,
	})
	if err != nil {
		return nil, fmt.Errorf("publisher: build cartridge: %w", err)
	}

	parquetKey := objectstore.OutputParquetKey(outputID)
	cartridgeKey := objectstore.CartridgeKey(outputID)

	if err := retry.Do(ctx, p.uploadPolicy, "upload parquet", func(ctx context.Context) error {
		return p.store.Put(ctx, parquetKey, parquetBytes)
	}); err != nil {
		return nil, fmt.Errorf("publisher: upload parquet: %w", err)
	}
	if err := retry.Do(ctx, p.uploadPolicy, "upload cartridge", func(ctx context.Context) error {
		return p.store.Put(ctx, cartridgeKey, cartridgeBytes)
	}); err != nil {
		return nil, fmt.Errorf("publisher: upload cartridge: %w", err)
	}

	summary, err := json.Marshal(runSummary{
		RowCount:              in.Result.RowCount,
		SuspectCount:          in.Result.SuspectCount,
		AmbiguousDrop:         in.Result.AmbiguousDrop,
		ParameterSourceCounts: pipeline.ParameterSourceCounts(in.Result.Frame),
	})
	if err != nil {
		return nil, fmt.Errorf("publisher: marshal run summary: %w", err)
	}

	run := &metadata.Run{
		ID:                     p.newID(),
		TransactionID:          in.TransactionID,
		PipelineCodeIdentifier: PipelineCodeIdentifier,
		Status:                 metadata.RunSuccess,
		StartedAt:              in.StartedAt,
		FinishedAt:             time.Now().UTC(),
		SourceRevision:         p.sourceRevision,
		Summary:                summary,
	}
	if err := tx.InsertRun(ctx, run); err != nil {
		return nil, fmt.Errorf("publisher: insert run: %w", err)
	}

	if err := tx.ClearLatest(ctx); err != nil {
		return nil, fmt.Errorf("publisher: clear previous is_latest: %w", err)
	}

	output := &metadata.Output{
		ID:           outputID,
		RunID:        run.ID,
		ParquetKey:   parquetKey,
		CartridgeKey: cartridgeKey,
		IsLatest:     true,
	}
	if err := tx.InsertOutput(ctx, output); err != nil {
		return nil, fmt.Errorf("publisher: insert output: %w", err)
	}

	return output, nil
}

type runSummary struct {
	RowCount              int                        `json:"row_count"`
	SuspectCount          int                        `json:"suspect_count"`
	AmbiguousDrop         int                        `json:"ambiguous_drop"`
	ParameterSourceCounts map[string]map[string]int `json:"parameter_source_counts"`
}
