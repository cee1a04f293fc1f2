package pipeline

import (
	"sort"
	"strings"
	"time"
)

// qualityRuleOutOfWindow etc. name the fixed rule order quality_explanation
// joins in, regardless of which order the rules were evaluated in.
const (
	qualityRuleOutOfWindow = "out_of_deployment_window"
	qualityRuleRecordGap   = "record_gap"
	qualityRuleMagnitude   = "magnitude"
)

var qualityRuleOrder = []string{qualityRuleOutOfWindow, qualityRuleRecordGap, qualityRuleMagnitude}

// QualityFilter applies the declarative quality rules
// parameterized by quality_* thresholds. Failing rows are flagged, never
// dropped.
func QualityFilter(in Frame) Result {
	rows := make([]Row, len(in.Rows))
	copy(rows, in.Rows)

	failed := make([]map[string]bool, len(rows))
	for i := range failed {
		failed[i] = make(map[string]bool)
	}

	for i, r := range rows {
		if r.EnrichmentMissing {
			failed[i][qualityRuleOutOfWindow] = true
		}
	}

	flagRecordGaps(rows, failed)

	for i, r := range rows {
		if r.SapFluxDensityCmHr == nil {
			continue
		}
		min := r.Float("quality_min_flux_cm_hr")
		max := r.Float("quality_max_flux_cm_hr")
		if min != nil && *r.SapFluxDensityCmHr < *min {
			failed[i][qualityRuleMagnitude] = true
		}
		if max != nil && *r.SapFluxDensityCmHr > *max {
			failed[i][qualityRuleMagnitude] = true
		}
	}

	suspectCount := 0
	for i := range rows {
		names := make([]string, 0, len(qualityRuleOrder))
		for _, name := range qualityRuleOrder {
			if failed[i][name] {
				names = append(names, name)
			}
		}
		if len(names) == 0 {
			continue
		}
		rows[i].Quality = "SUSPECT"
		rows[i].QualityExplanation = strings.Join(names, ",")
		suspectCount++
	}

	return Result{Frame: Frame{Rows: rows}, RowCount: len(rows), SuspectCount: suspectCount}
}

// flagRecordGaps implements the record-gap rule: within a
// canonical_datalogger_id group sorted by record, a gap in timestamp_utc
// exceeding quality_gap_years flags the LATER row. The flag is written back
// to the row's original index in rows, not its position in the sorted
// group.
func flagRecordGaps(rows []Row, failed []map[string]bool) {
	groups := make(map[string][]int)
	for i, r := range rows {
		if r.CanonicalDataloggerID == "" {
			continue
		}
		groups[r.CanonicalDataloggerID] = append(groups[r.CanonicalDataloggerID], i)
	}
	for _, indices := range groups {
		sort.Slice(indices, func(a, b int) bool { return rows[indices[a]].Record < rows[indices[b]].Record })
		for k := 1; k < len(indices); k++ {
			prevIdx, curIdx := indices[k-1], indices[k]
			threshold := rows[curIdx].Float("quality_gap_years")
			if threshold == nil {
				continue
			}
			prevT := time.Unix(0, rows[prevIdx].TimestampUTC).UTC()
			curT := time.Unix(0, rows[curIdx].TimestampUTC).UTC()
			gapYears := curT.Sub(prevT).Hours() / (24 * 365.25)
			if gapYears > *threshold {
				failed[curIdx][qualityRuleRecordGap] = true
			}
		}
	}
}
