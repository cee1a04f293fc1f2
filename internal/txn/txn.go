// Package txn implements the transaction orchestrator: the full
// submit-a-manifest-plus-files lifecycle, from the queue advisory lock
// through ledger finalization. Acquire the guard, do the work, always
// release, always record an outcome.
package txn

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sapflux-io/pipeline/internal/blake3hash"
	"github.com/sapflux-io/pipeline/internal/config"
	"github.com/sapflux-io/pipeline/internal/idgen"
	"github.com/sapflux-io/pipeline/internal/manifest"
	"github.com/sapflux-io/pipeline/internal/metadata"
	"github.com/sapflux-io/pipeline/internal/objectstore"
	"github.com/sapflux-io/pipeline/internal/parser"
	"github.com/sapflux-io/pipeline/internal/pipeline"
	"github.com/sapflux-io/pipeline/internal/publisher"
	"github.com/sapflux-io/pipeline/internal/receipt"
	"github.com/sapflux-io/pipeline/internal/retry"
)

// SubmittedFile is one sibling multipart part: filename plus raw bytes,
// content not yet hashed or parsed.
type SubmittedFile struct {
	Filename string
	Content  []byte
}

// Request is one call to Submit: the (manifest, files, dry_run) tuple the
// external transport hands over.
type Request struct {
	ManifestText []byte
	Files        []SubmittedFile
	DryRun       bool
}

// Orchestrator drives the full transaction lifecycle.
type Orchestrator struct {
	store     metadata.Store
	blobs     objectstore.Store
	parsers   *parser.Registry
	publisher *publisher.Publisher
	newID     idgen.Generator
	log       *slog.Logger
	cfg       *config.Config
}

// New constructs an Orchestrator from its collaborators.
func New(store metadata.Store, blobs objectstore.Store, parsers *parser.Registry, pub *publisher.Publisher, newID idgen.Generator, log *slog.Logger, cfg *config.Config) *Orchestrator {
	return &Orchestrator{store: store, blobs: blobs, parsers: parsers, publisher: pub, newID: newID, log: log, cfg: cfg}
}

// uploadPolicy honors the configured upload attempt cap, falling back to the
// package default when no config was supplied (e.g. in tests).
func (o *Orchestrator) uploadPolicy() retry.Policy {
	policy := retry.DefaultPolicy()
	policy.Logger = o.log
	if o.cfg != nil && o.cfg.UploadMaxAttempts > 0 {
		policy.MaxAttempts = o.cfg.UploadMaxAttempts
	}
	return policy
}

// ExitCode maps a receipt outcome to the CLI exit codes: 0 accepted or
// dry-run, 1 rejected by validation, 2 rejected by the pipeline, 3
// infrastructure failure.
func ExitCode(r *receipt.Receipt) int {
	switch r.Outcome {
	case metadata.OutcomeAccepted, metadata.OutcomeDryRun:
		return 0
	case metadata.OutcomeRejected:
		if r.Error != nil && r.Error.Type == "InfrastructureFailure" {
			return 3
		}
		if r.Error != nil && (r.Error.Type == "ManifestSyntax" || r.Error.Type == "ManifestValidation") {
			return 1
		}
		return 2
	default:
		return 3
	}
}

// Submit runs the full transaction lifecycle. It
// always returns a receipt, even on rejection; the error return is reserved
// for infrastructure failures the receipt cannot usefully describe.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (*receipt.Receipt, error) {
	guard, err := o.store.AcquireQueueLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("txn: acquire queue lock: %w", err)
	}
	defer func() {
		if rerr := guard.Release(ctx); rerr != nil {
			o.log.ErrorContext(ctx, "failed to release queue lock", "error", rerr)
		}
	}()

	m, perr := manifest.Parse(req.ManifestText)
	if perr != nil {
		return o.rejectBeforeLedger(ctx, req, "ManifestSyntax", perr)
	}

	startedAt := time.Now().UTC()
	txnID := o.newID()

	if req.DryRun {
		return o.dryRun(ctx, txnID, startedAt, m, req)
	}

	stub, err := json.Marshal(map[string]string{"manifest_digest": blake3hash.SumBytes(req.ManifestText)})
	if err != nil {
		return nil, fmt.Errorf("txn: marshal stub receipt: %w", err)
	}
	ledgerRow := &metadata.Transaction{ID: txnID, CreatedAt: startedAt, Message: m.Message, Outcome: metadata.OutcomePending, Receipt: stub}
	if err := o.store.InsertLedgerRow(ctx, ledgerRow); err != nil {
		return nil, fmt.Errorf("txn: insert ledger row: %w", err)
	}

	rec, runErr := o.run(ctx, txnID, startedAt, m, req)
	if runErr != nil {
		rec = rejectedReceipt(txnID, "InfrastructureFailure", runErr)
	}

	receiptBytes, merr := json.Marshal(rec)
	if merr != nil {
		return nil, fmt.Errorf("txn: marshal final receipt: %w", merr)
	}
	if ferr := o.store.FinalizeLedgerRow(ctx, txnID, rec.Outcome, receiptBytes); ferr != nil {
		return nil, fmt.Errorf("txn: finalize ledger row: %w", ferr)
	}
	return rec, nil
}

// rejectBeforeLedger handles a manifest parse failure, which happens
// during preflight, before any ledger row exists.
func (o *Orchestrator) rejectBeforeLedger(ctx context.Context, req Request, kind string, cause error) (*receipt.Receipt, error) {
	rec := rejectedReceipt("", kind, cause)
	if req.DryRun {
		rec.Outcome = metadata.OutcomeDryRun
	}
	return rec, nil
}

func rejectedReceipt(txnID, kind string, cause error) *receipt.Receipt {
	return &receipt.Receipt{
		Outcome:       metadata.OutcomeRejected,
		TransactionID: txnID,
		Message:       cause.Error(),
		Error:         &receipt.ErrorDetail{Type: kind, Message: cause.Error()},
	}
}

// dryRun performs preflight only: parse, hash, and attempt-parse every
// file, with no ledger row, no blob upload, and no metadata mutation.
func (o *Orchestrator) dryRun(ctx context.Context, txnID string, startedAt time.Time, m *manifest.Manifest, req Request) (*receipt.Receipt, error) {
	snap, err := o.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("txn: dry-run snapshot: %w", err)
	}
	plan, verrs := manifest.Preflight(snap, m, idgen.Default)
	if len(verrs) > 0 {
		return validationRejection(txnID, verrs), nil
	}

	fileSummaries, _, _ := o.ingestFiles(req.Files, knownHashSet(snap))

	rec := &receipt.Receipt{
		Outcome:          metadata.OutcomeDryRun,
		TransactionID:    txnID,
		Message:          m.Message,
		IngestionSummary: fileSummaries,
		MetadataSummary:  metadataSummaryOf(plan),
		Summary:          summaryOf(fileSummaries, nil),
	}
	o.truncateReceipt(rec)
	return rec, nil
}

// run performs the mutating path: preflight, upload, apply, pipeline,
// publish, commit.
func (o *Orchestrator) run(ctx context.Context, txnID string, startedAt time.Time, m *manifest.Manifest, req Request) (*receipt.Receipt, error) {
	snap, err := o.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("preflight snapshot: %w", err)
	}
	plan, verrs := manifest.Preflight(snap, m, idgen.Default)
	if len(verrs) > 0 {
		return validationRejection(txnID, verrs), nil
	}

	fileSummaries, parsedFiles, hashes := o.ingestFiles(req.Files, knownHashSet(snap))

	for _, hash := range hashes {
		content := contentFor(req.Files, hash, parsedFiles)
		if content == nil {
			continue
		}
		if uerr := retry.Do(ctx, o.uploadPolicy(), "upload raw file", func(ctx context.Context) error {
			return o.blobs.Put(ctx, objectstore.RawFileKey(hash), content)
		}); uerr != nil {
			return rejectedReceipt(txnID, "ObjectStoreUploadFailed", uerr), nil
		}
	}

	tx, err := o.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin storage tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	for i := range plan.ParameterOverrides {
		plan.ParameterOverrides[i].EffectiveTransactionID = txnID
	}
	if err := manifest.Apply(ctx, tx, plan); err != nil {
		return rejectedReceipt(txnID, "PipelineError", err), nil
	}

	for _, pf := range parsedFiles {
		if err := tx.InsertRawFile(ctx, &metadata.RawFile{
			Hash:                   pf.ContentHash,
			OriginalUploadPath:     pf.LoggerName,
			IngestingTransactionID: txnID,
			CreatedAt:              time.Now().UTC(),
		}); err != nil {
			return rejectedReceipt(txnID, "PipelineError", fmt.Errorf("insert raw_files row: %w", err)), nil
		}
	}

	ec, err := tx.LoadExecutionContext(ctx)
	if err != nil {
		return rejectedReceipt(txnID, "PipelineError", fmt.Errorf("load execution context: %w", err)), nil
	}

	result, err := pipeline.Run(ctx, parsedFiles, ec)
	if err != nil {
		return rejectedReceipt(txnID, "PipelineError", err), nil
	}

	output, err := o.publisher.Publish(ctx, tx, publisher.PublishInput{
		TransactionID: txnID,
		Result:        result,
		ManifestText:  req.ManifestText,
		Snapshot:      snap,
		RawFileHashes: hashes,
		StartedAt:     startedAt,
	})
	if err != nil {
		return rejectedReceipt(txnID, "PipelineError", fmt.Errorf("publish: %w", err)), nil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit storage tx: %w", err)
	}
	committed = true

	metaSummary := metadataSummaryOf(plan)
	metaSummary.ParameterSourceCounts = pipeline.ParameterSourceCounts(result.Frame)

	rec := &receipt.Receipt{
		Outcome:          metadata.OutcomeAccepted,
		TransactionID:    txnID,
		Message:          m.Message,
		IngestionSummary: fileSummaries,
		MetadataSummary:  metaSummary,
		Summary:          summaryOf(fileSummaries, &result),
		Artifacts: &receipt.Artifacts{
			OutputID:     output.ID,
			ParquetKey:   output.ParquetKey,
			CartridgeKey: output.CartridgeKey,
		},
	}
	o.truncateReceipt(rec)
	return rec, nil
}

func validationRejection(txnID string, verrs []manifest.ValidationError) *receipt.Receipt {
	details := make(map[string]any, len(verrs))
	for i, v := range verrs {
		details[fmt.Sprintf("%d", i)] = map[string]string{"path": v.Path, "message": v.Message}
	}
	return &receipt.Receipt{
		Outcome:       metadata.OutcomeRejected,
		TransactionID: txnID,
		Message:       "manifest validation failed",
		Error: &receipt.ErrorDetail{
			Type:    "ManifestValidation",
			Message: fmt.Sprintf("%d validation error(s)", len(verrs)),
			Details: details,
		},
	}
}

// knownHashSet collects the already-ingested raw-file hashes out of a
// pre-transaction snapshot, for duplicate reporting during ingest.
func knownHashSet(snap *metadata.StoreSnapshot) map[string]bool {
	known := make(map[string]bool, len(snap.RawFileHashes))
	for _, h := range snap.RawFileHashes {
		known[h] = true
	}
	return known
}

// ingestFiles hashes and parses every submitted file:
// hashes already present in the store, or repeated within this submission,
// are recorded as duplicates and excluded from downstream work; only files
// the registry successfully parses are returned for the pipeline.
func (o *Orchestrator) ingestFiles(files []SubmittedFile, known map[string]bool) ([]receipt.FileSummary, []*parser.ParsedFile, []string) {
	summaries := make([]receipt.FileSummary, 0, len(files))
	var parsed []*parser.ParsedFile
	var hashes []string
	seen := make(map[string]bool)

	for _, f := range files {
		hash := blake3hash.SumBytes(f.Content)
		fs := receipt.FileSummary{OriginalFilename: f.Filename, Hash: hash}

		if seen[hash] || known[hash] {
			fs.Duplicate = true
			summaries = append(summaries, fs)
			continue
		}
		seen[hash] = true

		pf, attempts, err := o.parsers.Parse(f.Content)
		for _, a := range attempts {
			as := receipt.ParserAttemptSummary{ParserCode: a.ParserCode, Succeeded: a.Err == nil}
			if a.Err != nil {
				as.ErrorKind = string(a.Err.Kind)
				as.ErrorMessage = a.Err.Message
				as.LineIndex = a.Err.LineIndex
				as.ByteOffset = a.Err.ByteOffset
			}
			fs.Attempts = append(fs.Attempts, as)
		}
		if err != nil {
			if len(attempts) > 0 && attempts[len(attempts)-1].Err != nil {
				fs.FirstErrorLine = attempts[len(attempts)-1].Err.LineIndex
			}
			summaries = append(summaries, fs)
			continue
		}

		pf.ContentHash = hash
		fs.ChosenParser = parserCodeOf(attempts)
		fs.ProgramSignature = pf.ProgramSignature
		summaries = append(summaries, fs)
		parsed = append(parsed, pf)
		hashes = append(hashes, hash)
	}

	return summaries, parsed, hashes
}

func parserCodeOf(attempts []parser.Attempt) string {
	for _, a := range attempts {
		if a.Err == nil {
			return a.ParserCode
		}
	}
	return ""
}

func contentFor(files []SubmittedFile, hash string, parsed []*parser.ParsedFile) []byte {
	for _, pf := range parsed {
		if pf.ContentHash == hash {
			return pf.RawText
		}
	}
	return nil
}

func summaryOf(files []receipt.FileSummary, result *pipeline.Result) receipt.Summary {
	s := receipt.Summary{}
	for _, f := range files {
		s.FilesProcessed++
		switch {
		case f.Duplicate:
			s.FilesDuplicate++
		case f.ChosenParser != "":
			s.FilesAccepted++
		default:
			s.FilesRejected++
		}
	}
	if result != nil {
		s.PipelineRowCount = result.RowCount
		s.QualitySuspectCount = result.SuspectCount
		s.QualityGoodCount = result.RowCount - result.SuspectCount
		s.EnrichmentMissingCount = result.AmbiguousDrop
	}
	return s
}

// truncateReceipt bounds the receipt's per-file enumeration:
// entries beyond the configured cap are dropped and counted in
// FilesOmitted. No cap applies when no config was supplied (tests).
func (o *Orchestrator) truncateReceipt(rec *receipt.Receipt) {
	if o.cfg == nil || o.cfg.ReceiptMaxEntries <= 0 {
		return
	}
	limit := o.cfg.ReceiptMaxEntries
	if len(rec.IngestionSummary) > limit {
		rec.FilesOmitted = len(rec.IngestionSummary) - limit
		rec.IngestionSummary = rec.IngestionSummary[:limit]
	}
}

func metadataSummaryOf(plan *manifest.Plan) receipt.MetadataSummary {
	counts := map[string]int{
		"projects":            len(plan.Projects),
		"sites":               len(plan.Sites),
		"zones":               len(plan.Zones),
		"plots":               len(plan.Plots),
		"species":             len(plan.Species),
		"plants":              len(plan.Plants),
		"stems":               len(plan.Stems),
		"datalogger_types":    len(plan.DataloggerTypes),
		"dataloggers":         len(plan.Dataloggers),
		"datalogger_aliases":  len(plan.DataloggerAliases),
		"sensor_types":        len(plan.SensorTypes),
		"thermistor_pairs":    len(plan.ThermistorPairs),
		"deployments":         len(plan.Deployments),
		"parameter_overrides": len(plan.ParameterOverrides),
	}
	for k, v := range counts {
		if v == 0 {
			delete(counts, k)
		}
	}
	return receipt.MetadataSummary{EntityCounts: counts}
}
