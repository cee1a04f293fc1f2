package pipeline

import (
	"context"
	"fmt"

	"github.com/sapflux-io/pipeline/internal/metadata"
	"github.com/sapflux-io/pipeline/internal/parser"
)

// Run executes the full batch pipeline in fixed stage order: flatten,
// timestamp-fix, enrich, resolve parameters, calculate, quality-filter.
// Each stage consumes only the previous stage's output.
func Run(ctx context.Context, files []*parser.ParsedFile, ec *metadata.ExecutionContext) (Result, error) {
	flat := Flatten(files)

	fixed, err := FixTimestamps(ctx, flat, ec)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: timestamp fixer: %w", err)
	}

	enriched, err := Enrich(fixed, ec)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: enrichment: %w", err)
	}

	resolved := ResolveParameters(enriched, ec)
	calculated := Calculate(resolved)
	result := QualityFilter(calculated)

	ambiguousDrop := 0
	for _, r := range result.Rows {
		if r.EnrichmentMissing {
			ambiguousDrop++
		}
	}
	result.AmbiguousDrop = ambiguousDrop

	return result, nil
}
