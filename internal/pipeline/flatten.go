package pipeline

import "github.com/sapflux-io/pipeline/internal/parser"

// Flatten unions the hierarchical ParsedFile set into one wide observation
// frame. Each row is one (file_hash, logger_id,
// record, sdi12_address, thermistor_depth) tuple.
func Flatten(files []*parser.ParsedFile) Frame {
	var rows []Row
	for _, f := range files {
		lf := f.Logger
		for i, record := range lf.Record {
			for _, sensor := range f.Sensors {
				for _, pair := range sensor.Pairs {
					rows = append(rows, Row{
						FileHash:        f.ContentHash,
						RawLoggerID:     f.LoggerID,
						Record:          record,
						SDI12Address:    sensor.SDI12Address,
						ThermistorDepth: pair.DepthLabel,
						RawTimestamp:    lf.Timestamp[i],
						BatteryVoltage:  lf.BatteryVoltage[i],
						PanelTempC:      lf.PanelTempC[i],
						Alpha:           pair.Metrics.Alpha[i],
						Beta:            pair.Metrics.Beta[i],
						TimeToMaxS:      pair.Metrics.TimeToMaxS[i],
						TempPrePulseC:   pair.Metrics.TempPrePulseC[i],
						TempPostPulseC:  pair.Metrics.TempPostPulseC[i],
					})
				}
			}
		}
	}
	return Frame{Rows: rows}
}
