package pipeline

import (
	"fmt"
	"time"

	"github.com/sapflux-io/pipeline/internal/metadata"
)

// EnrichmentAmbiguityError is returned when more than one deployment (or
// datalogger alias) matches a row. Unlike a
// missing match, ambiguity is a hard error: the whole batch fails.
type EnrichmentAmbiguityError struct {
	RawLoggerID string
	Record      int64
	SDI12       string
	Reason      string
}

func (e *EnrichmentAmbiguityError) Error() string {
	return fmt.Sprintf("pipeline: enrichment ambiguity: logger %s record %d sdi12 %s: %s", e.RawLoggerID, e.Record, e.SDI12, e.Reason)
}

// Enrich implements metadata enrichment: resolve the canonical datalogger
// id, find the one covering deployment with include_in_pipeline = true,
// attach the full hierarchy, and expand installation_metadata into
// prefixed columns. Rows with no matching deployment get null hierarchy
// keys and are flagged for the quality filter rather than dropped.
func Enrich(in Frame, ec *metadata.ExecutionContext) (Frame, error) {
	out := make([]Row, len(in.Rows))
	for i, r := range in.Rows {
		row := r
		ts := time.Unix(0, r.TimestampUTC).UTC()

		canonicalID, ok := resolveCanonicalID(r.RawLoggerID, ts, ec)
		if !ok {
			row.EnrichmentMissing = true
			out[i] = row
			continue
		}

		dep, ambiguous, found := findPipelineDeployment(canonicalID, r.SDI12Address, ts, ec)
		if ambiguous {
			return Frame{}, &EnrichmentAmbiguityError{RawLoggerID: r.RawLoggerID, Record: r.Record, SDI12: r.SDI12Address, Reason: "more than one deployment matches"}
		}
		if !found {
			row.EnrichmentMissing = true
			out[i] = row
			continue
		}

		row.CanonicalDataloggerID = canonicalID
		row.DeploymentID = dep.Deployment.ID
		row.StemID = dep.StemID
		row.PlantID = dep.PlantID
		row.PlotID = dep.PlotID
		row.ZoneID = dep.ZoneID
		row.SiteID = dep.SiteID
		row.SpeciesID = dep.SpeciesID
		row.ProjectID = dep.ProjectID
		row.InstallationMetadata = expandInstallationMetadata(dep.Deployment.InstallationMetadata)
		out[i] = row
	}
	return Frame{Rows: out}, nil
}

// findPipelineDeployment returns the deployment whose interval contains at
// for (canonicalID, sdi12) among deployments with include_in_pipeline =
// true. ambiguous is true when more than one candidate matches; found is
// false only when zero candidates match (not ambiguous).
func findPipelineDeployment(canonicalID, sdi12 string, at time.Time, ec *metadata.ExecutionContext) (dep metadata.DeploymentContext, ambiguous, found bool) {
	count := 0
	for _, dc := range ec.Deployments {
		d := dc.Deployment
		if !d.IncludeInPipeline {
			continue
		}
		if d.DataloggerID != canonicalID || d.SDI12Address != sdi12 {
			continue
		}
		if !d.Interval.Contains(at) {
			continue
		}
		dep = dc
		count++
	}
	switch count {
	case 0:
		return metadata.DeploymentContext{}, false, false
	case 1:
		return dep, false, true
	default:
		return metadata.DeploymentContext{}, true, false
	}
}

// installationMetadataPrefix avoids column-name collision between expanded
// installation_metadata keys and the frame's own columns.
const installationMetadataPrefix = "installation_"

func expandInstallationMetadata(raw map[string]string) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		out[installationMetadataPrefix+k] = v
	}
	return out
}
