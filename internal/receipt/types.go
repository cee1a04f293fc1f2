// Package receipt defines the structured document every transaction
// attempt produces. A Receipt is built incrementally across
// preflight, apply, and publish, then marshaled into the ledger row's
// receipt column and returned to the caller.
package receipt

import "github.com/sapflux-io/pipeline/internal/metadata"

// Receipt is the full per-attempt document.
type Receipt struct {
	Outcome         metadata.TransactionOutcome `json:"outcome"`
	TransactionID   string                      `json:"transaction_id,omitempty"`
	Message         string                      `json:"message"`
	Summary         Summary                     `json:"summary"`
	IngestionSummary []FileSummary              `json:"ingestion_summary"`
	MetadataSummary MetadataSummary             `json:"metadata_summary"`
	Artifacts       *Artifacts                  `json:"artifacts,omitempty"`
	Error           *ErrorDetail                `json:"error,omitempty"`

	FilesOmitted int `json:"files_omitted,omitempty"`
}

// Summary carries the receipt's top-level counts.
type Summary struct {
	FilesProcessed int `json:"files_processed"`
	FilesAccepted  int `json:"files_accepted"`
	FilesDuplicate int `json:"files_duplicate"`
	FilesRejected  int `json:"files_rejected"`

	PipelineRowCount     int `json:"pipeline_row_count,omitempty"`
	QualitySuspectCount  int `json:"quality_suspect_count,omitempty"`
	QualityGoodCount     int `json:"quality_good_count,omitempty"`
	EnrichmentMissingCount int `json:"enrichment_missing_count,omitempty"`
}

// ParserAttemptSummary is one parser's outcome against one file, including
// the byte-offset diagnostic supplemented from original_source/.
type ParserAttemptSummary struct {
	ParserCode   string `json:"parser_code"`
	Succeeded    bool   `json:"succeeded"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	LineIndex    int    `json:"line_index,omitempty"`
	ByteOffset   int64  `json:"byte_offset,omitempty"`
}

// FileSummary is the per-file ingestion record.
type FileSummary struct {
	OriginalFilename string                 `json:"original_filename"`
	Hash             string                 `json:"hash,omitempty"`
	ChosenParser     string                 `json:"chosen_parser,omitempty"`
	Duplicate        bool                   `json:"duplicate"`
	Attempts         []ParserAttemptSummary `json:"attempts"`
	FirstErrorLine   int                    `json:"first_error_line,omitempty"`
	ProgramSignature string                 `json:"program_signature,omitempty"`
}

// MetadataSummary records what the manifest apply produced, plus the
// parameter-override provenance audit trail supplemented from
// original_source/.
type MetadataSummary struct {
	EntityCounts          map[string]int            `json:"entity_counts,omitempty"`
	EntitiesOmitted       int                        `json:"entities_omitted,omitempty"`
	ParameterSourceCounts map[string]map[string]int `json:"parameter_source_counts,omitempty"`
}

// Artifacts is populated only on ACCEPTED outcomes.
type Artifacts struct {
	OutputID     string `json:"output_id"`
	ParquetKey   string `json:"parquet_key"`
	CartridgeKey string `json:"cartridge_key"`
}

// ErrorDetail is populated only on REJECTED outcomes.
type ErrorDetail struct {
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}
