// Package parser implements the TOA5 variant parsers and the registry that
// selects among them: header validation, then row-by-row scanning that
// stops at the first row error, producing the hierarchical sdi12/
// thermistor-pair frame downstream stages consume.
package parser

import "fmt"

// LoggerFrame holds the file-level timeseries columns common to every row:
// timestamp, record number, battery voltage, panel temperature.
type LoggerFrame struct {
	Timestamp     []string // raw text, offset not yet resolved (C5 stage 2 does that)
	Record        []int64
	BatteryVoltage []*float64
	PanelTempC     []*float64
}

// ThermistorFrame is one thermistor pair's columnar metrics, all rows
// aligned by index to the LoggerFrame they belong to.
type ThermistorFrame struct {
	Alpha        []*float64
	Beta         []*float64
	TimeToMaxS   []*float64
	TempPrePulseC  []*float64
	TempPostPulseC []*float64
}

// ThermistorPair is one depth position ("inner"/"outer") within a Sensor.
type ThermistorPair struct {
	DepthLabel string // "inner" or "outer"
	Metrics    ThermistorFrame
}

// Sensor is one sdi12 address's worth of thermistor pairs.
type Sensor struct {
	SDI12Address string
	Pairs         []ThermistorPair
}

// ParsedFile is the canonical hierarchical value produced by a successful
// parse: file-level metadata, the logger frame, and the
// sensor/thermistor hierarchy.
type ParsedFile struct {
	FormatMarker    string
	LoggerName      string
	LoggerType      string
	ProgramName     string
	ProgramSignature string // firmware/OS version string from the header, diagnostic only
	TableName       string

	LoggerID string // derived canonical logger id for this file, constant across all rows

	Logger  LoggerFrame
	Sensors []Sensor

	// RawText preserves the file bit-for-bit alongside the parsed frames
	//. ContentHash is attached by the ingestion layer after
	// parsing, not by the parser itself.
	RawText     []byte
	ContentHash string
}

// ErrorKind enumerates the parser failure taxonomy.
type ErrorKind string

const (
	ErrFormatMismatch  ErrorKind = "FormatMismatch"
	ErrDataRow         ErrorKind = "DataRow"
	ErrLoggerIDConflict ErrorKind = "LoggerIdConflict"
	ErrSDI12Invalid    ErrorKind = "Sdi12Invalid"
)

// ParserError is the structured error every parser returns on rejection.
// LineIndex and ByteOffset let an operator locate the offending row; both
// are zero-valued when not applicable (e.g. FormatMismatch before any row
// is read).
type ParserError struct {
	Kind       ErrorKind
	Message    string
	LineIndex  int
	ByteOffset int64
}

func (e *ParserError) Error() string {
	if e.LineIndex > 0 {
		return fmt.Sprintf("%s: %s (line %d)", e.Kind, e.Message, e.LineIndex)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}
