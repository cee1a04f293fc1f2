package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// TOA5Parser implements the Campbell Scientific TOA5 ASCII table format.
// Column names after TIMESTAMP/RECORD/battery/panel-temp
// follow the fixed pattern "<Metric>_<sdi12>_<depth>", e.g. "Alpha_0_inner".
type TOA5Parser struct {
	code       string
	dataFormat string
}

// NewTOA5Parser constructs the standard sdi12/thermistor-pair TOA5 variant.
func NewTOA5Parser() *TOA5Parser {
	return &TOA5Parser{code: "toa5_sdi12_thermistor_v1", dataFormat: "toa5_sdi12_thermistor"}
}

func (p *TOA5Parser) Code() string       { return p.code }
func (p *TOA5Parser) DataFormat() string { return p.dataFormat }

var metricColumnPattern = regexp.MustCompile(`^(Alpha|Beta|Tmax|TempPre|TempPost)_([0-9A-Za-z])_(inner|outer)$`)

var loggerIDFromName = regexp.MustCompile(`(\d+)$`)

// Parse implements Parser.
func (p *TOA5Parser) Parse(content []byte) (*ParsedFile, *ParserError) {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil || len(header) == 0 || header[0] != "TOA5" {
		return nil, &ParserError{Kind: ErrFormatMismatch, Message: "first header token is not TOA5"}
	}

	pf := &ParsedFile{FormatMarker: header[0], RawText: content}
	if len(header) > 1 {
		pf.LoggerName = header[1]
	}
	if len(header) > 2 {
		pf.LoggerType = header[2]
	}
	if len(header) > 5 {
		pf.ProgramName = header[5]
	}
	if len(header) > 6 {
		pf.ProgramSignature = header[6]
	}
	if len(header) > 7 {
		pf.TableName = header[7]
	}

	fieldNames, err := r.Read()
	if err != nil {
		return nil, &ParserError{Kind: ErrFormatMismatch, Message: "missing field-name header row"}
	}
	units, err := r.Read()
	if err != nil || len(units) != len(fieldNames) {
		return nil, &ParserError{Kind: ErrFormatMismatch, Message: "units row does not match field-name row positionally"}
	}
	characteristics, err := r.Read()
	if err != nil || len(characteristics) != len(fieldNames) {
		return nil, &ParserError{Kind: ErrFormatMismatch, Message: "measurement-characteristics row does not match field-name row positionally"}
	}

	cols, cerr := classifyColumns(fieldNames)
	if cerr != nil {
		return nil, cerr
	}

	sensorIdx := make(map[string]int) // sdi12 -> index into pf.Sensors
	pairIdx := make(map[[2]string]int) // [sdi12, depth] -> index into Sensor.Pairs

	var prevRecord int64
	haveRecord := false
	loggerIDFromRows := ""
	rowCount := 0

	for {
		lineIdx := rowCount + 4 // four header rows precede the first data row
		byteOffset := r.InputOffset()
		row, rerr := r.Read()
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return nil, &ParserError{Kind: ErrDataRow, Message: rerr.Error(), LineIndex: lineIdx, ByteOffset: byteOffset}
		}
		if len(row) != len(fieldNames) {
			return nil, &ParserError{Kind: ErrDataRow, Message: fmt.Sprintf("row has %d fields, expected %d", len(row), len(fieldNames)), LineIndex: lineIdx, ByteOffset: byteOffset}
		}

		rawTimestamp := row[cols.timestampIdx]
		recordStr := row[cols.recordIdx]
		record, perr := strconv.ParseInt(strings.TrimSpace(recordStr), 10, 64)
		if perr != nil {
			return nil, &ParserError{Kind: ErrDataRow, Message: "RECORD column is not an integer: " + recordStr, LineIndex: lineIdx, ByteOffset: byteOffset}
		}
		if haveRecord && record != prevRecord+1 {
			return nil, &ParserError{Kind: ErrDataRow, Message: fmt.Sprintf("RECORD did not increment by exactly one: %d -> %d", prevRecord, record), LineIndex: lineIdx, ByteOffset: byteOffset}
		}
		prevRecord = record
		haveRecord = true

		rowLoggerID := ""
		if cols.idIdx >= 0 {
			rowLoggerID = strings.TrimSpace(row[cols.idIdx])
		} else {
			m := loggerIDFromName.FindStringSubmatch(pf.LoggerName)
			if m == nil {
				return nil, &ParserError{Kind: ErrLoggerIDConflict, Message: "no id column and logger_name has no trailing numeric segment: " + pf.LoggerName, LineIndex: lineIdx, ByteOffset: byteOffset}
			}
			rowLoggerID = m[1]
		}
		if loggerIDFromRows == "" {
			loggerIDFromRows = rowLoggerID
		} else if loggerIDFromRows != rowLoggerID {
			return nil, &ParserError{Kind: ErrLoggerIDConflict, Message: fmt.Sprintf("logger id disagreement: %q vs %q", loggerIDFromRows, rowLoggerID), LineIndex: lineIdx, ByteOffset: byteOffset}
		}

		pf.Logger.Timestamp = append(pf.Logger.Timestamp, rawTimestamp)
		pf.Logger.Record = append(pf.Logger.Record, record)
		pf.Logger.BatteryVoltage = append(pf.Logger.BatteryVoltage, optionalColumn(row, cols.battIdx))
		pf.Logger.PanelTempC = append(pf.Logger.PanelTempC, optionalColumn(row, cols.ptempIdx))

		for _, mc := range cols.metrics {
			if len(mc.sdi12) != 1 || !isAlnum(mc.sdi12[0]) {
				return nil, &ParserError{Kind: ErrSDI12Invalid, Message: "invalid sdi12 address in column " + mc.name, LineIndex: lineIdx, ByteOffset: byteOffset}
			}
			si, ok := sensorIdx[mc.sdi12]
			if !ok {
				pf.Sensors = append(pf.Sensors, Sensor{SDI12Address: mc.sdi12})
				si = len(pf.Sensors) - 1
				sensorIdx[mc.sdi12] = si
			}
			key := [2]string{mc.sdi12, mc.depth}
			pi, ok := pairIdx[key]
			if !ok {
				pf.Sensors[si].Pairs = append(pf.Sensors[si].Pairs, ThermistorPair{DepthLabel: mc.depth})
				pi = len(pf.Sensors[si].Pairs) - 1
				pairIdx[key] = pi
			}
			pair := &pf.Sensors[si].Pairs[pi]
			val := parseSentinelFloat(row[mc.idx])
			switch mc.metric {
			case "Alpha":
				pair.Metrics.Alpha = appendAligned(pair.Metrics.Alpha, rowCount, val)
			case "Beta":
				pair.Metrics.Beta = appendAligned(pair.Metrics.Beta, rowCount, val)
			case "Tmax":
				pair.Metrics.TimeToMaxS = appendAligned(pair.Metrics.TimeToMaxS, rowCount, val)
			case "TempPre":
				pair.Metrics.TempPrePulseC = appendAligned(pair.Metrics.TempPrePulseC, rowCount, val)
			case "TempPost":
				pair.Metrics.TempPostPulseC = appendAligned(pair.Metrics.TempPostPulseC, rowCount, val)
			}
		}

		rowCount++
	}

	if rowCount == 0 {
		return nil, &ParserError{Kind: ErrFormatMismatch, Message: "no data rows present"}
	}

	pf.LoggerID = loggerIDFromRows
	return pf, nil
}

// appendAligned keeps every thermistor-pair metric slice the same length as
// rowCount even when a pair's columns first appear mid-file (all sparse
// real-world TOA5 exports keep columns fixed, but this guards the
// invariant rather than assuming it).
func appendAligned(s []*float64, rowCount int, v *float64) []*float64 {
	for len(s) < rowCount {
		s = append(s, nil)
	}
	return append(s, v)
}

// optionalColumn reads a column that some firmware variants omit entirely
// (Batt_volt, PTemp_C); absent columns yield nil, same as a sentinel value.
func optionalColumn(row []string, idx int) *float64 {
	if idx < 0 || idx >= len(row) {
		return nil
	}
	return parseSentinelFloat(row[idx])
}

func isAlnum(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// parseSentinelFloat converts TOA5 missing-value sentinels ("-99", "NAN")
// to nil, otherwise parses the value as a float64.
func parseSentinelFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, `"`)
	if s == "" || s == "-99" || strings.EqualFold(s, "NAN") {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

type metricColumn struct {
	name   string
	idx    int
	metric string
	sdi12  string
	depth  string
}

type columnIndex struct {
	timestampIdx int
	recordIdx    int
	idIdx        int
	battIdx      int
	ptempIdx     int
	metrics      []metricColumn
}

// classifyColumns locates the fixed leading columns and parses every
// remaining column name against metricColumnPattern.
func classifyColumns(fieldNames []string) (columnIndex, *ParserError) {
	cols := columnIndex{idIdx: -1, battIdx: -1, ptempIdx: -1}
	foundTimestamp, foundRecord := false, false
	for i, name := range fieldNames {
		switch name {
		case "TIMESTAMP":
			cols.timestampIdx = i
			foundTimestamp = true
		case "RECORD":
			cols.recordIdx = i
			foundRecord = true
		case "ID":
			cols.idIdx = i
		case "Batt_volt":
			cols.battIdx = i
		case "PTemp_C":
			cols.ptempIdx = i
		default:
			m := metricColumnPattern.FindStringSubmatch(name)
			if m == nil {
				continue // unrecognized auxiliary columns are tolerated, not rejected
			}
			cols.metrics = append(cols.metrics, metricColumn{name: name, idx: i, metric: m[1], sdi12: m[2], depth: m[3]})
		}
	}
	if !foundTimestamp || !foundRecord {
		return cols, &ParserError{Kind: ErrFormatMismatch, Message: "missing required TIMESTAMP or RECORD column"}
	}
	return cols, nil
}
