package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sapflux-io/pipeline/internal/metadata"
)

// probeOffsets are the interpretations tried to locate a chunk's anchor
// deployment before the site timezone is known: UTC itself, plus the
// standard/daylight offsets field loggers in this network actually run at.
// Deployment intervals span days to years, so any of these lands inside
// the right interval; the real candidate offsets are then derived from the
// resolved site's zone.
var probeOffsets = []time.Duration{0, -5 * time.Hour, -4 * time.Hour}

// rawTimestampLayout is the logger's naive local-clock text format, with no
// zone information (the whole reason the offset must be inferred).
const rawTimestampLayout = "2006-01-02 15:04:05"

// TimestampAmbiguityError is returned when a chunk's clock offset cannot be
// disambiguated. The implementation does not guess; the whole batch fails.
type TimestampAmbiguityError struct {
	LoggerID  string
	Signature string
	Reason    string
}

func (e *TimestampAmbiguityError) Error() string {
	return fmt.Sprintf("pipeline: timestamp ambiguity: logger %s chunk %s: %s", e.LoggerID, e.Signature, e.Reason)
}

// RecordConflictError is returned when the same (logger_id, record) appears
// with conflicting raw timestamps across files — the precondition that
// overlapping downloads carry identical payloads is broken, so the batch
// is rejected rather than guessed at.
type RecordConflictError struct {
	LoggerID string
	Record   int64
}

func (e *RecordConflictError) Error() string {
	return fmt.Sprintf("pipeline: record conflict: logger %s record %d appears with differing raw timestamps across source files", e.LoggerID, e.Record)
}

// keyLR identifies one (logger_id, record) pair.
type keyLR struct {
	loggerID string
	record   int64
}

// recordInfo is what stage 2 tracks per distinct (logger_id, record),
// before the chosen offset is known.
type recordInfo struct {
	key          keyLR
	fileHashes   map[string]struct{}
	rawTimestamp string
	sdi12        string // representative sdi12 address, for anchor resolution
	signature    string
	timestampUTC time.Time // filled in once the chunk's offset is resolved
}

// chunk is one (logger_id, file_set_signature) group: within it the
// logger's clock offset is constant.
type chunk struct {
	loggerID  string
	signature string
	records   []*recordInfo // sorted by record ascending
}

// FixTimestamps implements the implied-visit algorithm. It consumes the flattened frame (stage 1 output) and the
// execution context loaded from the metadata store, and returns a frame
// with timestamp_utc resolved and duplicates on (logger_id, record,
// sdi12_address, thermistor_depth) collapsed.
func FixTimestamps(ctx context.Context, in Frame, ec *metadata.ExecutionContext) (Frame, error) {
	infoByKey, order, err := projectAndSign(in.Rows)
	if err != nil {
		return Frame{}, err
	}

	chunksByLogger := make(map[string][]*chunk)
	chunkByKey := make(map[string]*chunk) // loggerID+"\x00"+signature -> chunk
	for _, k := range order {
		info := infoByKey[k]
		ckey := info.key.loggerID + "\x00" + info.signature
		c, ok := chunkByKey[ckey]
		if !ok {
			c = &chunk{loggerID: info.key.loggerID, signature: info.signature}
			chunkByKey[ckey] = c
			chunksByLogger[info.key.loggerID] = append(chunksByLogger[info.key.loggerID], c)
		}
		c.records = append(c.records, info)
	}
	for _, cs := range chunksByLogger {
		for _, c := range cs {
			sort.Slice(c.records, func(i, j int) bool { return c.records[i].key.record < c.records[j].key.record })
		}
		sort.Slice(cs, func(i, j int) bool { return cs[i].records[0].key.record < cs[j].records[0].key.record })
	}

	// Chunks for different loggers are fully independent; the
	// previous-chunk continuity rule (step 4) only ever looks within a
	// logger, so each logger's chunk sequence is resolved on its own
	// goroutine while chunks inside it are resolved in record order
	//.
	g, _ := errgroup.WithContext(ctx)
	for _, cs := range chunksByLogger {
		cs := cs
		g.Go(func() error {
			return resolveLoggerChunks(cs, ec)
		})
	}
	if err := g.Wait(); err != nil {
		return Frame{}, err
	}

	return collapseDuplicates(in.Rows, infoByKey), nil
}

// projectAndSign implements stage 2 steps 1-2: project to (logger_id,
// record, file_hash, raw_timestamp), drop exact duplicates on (logger_id,
// record), and build each surviving pair's file-set signature. A record
// recurring with a different raw timestamp is a data error, not a
// duplicate.
func projectAndSign(rows []Row) (map[keyLR]*recordInfo, []keyLR, error) {
	infoByKey := make(map[keyLR]*recordInfo)
	var order []keyLR
	for _, r := range rows {
		k := keyLR{loggerID: r.RawLoggerID, record: r.Record}
		info, ok := infoByKey[k]
		if !ok {
			info = &recordInfo{
				key:          k,
				fileHashes:   map[string]struct{}{},
				rawTimestamp: r.RawTimestamp,
				sdi12:        r.SDI12Address,
			}
			infoByKey[k] = info
			order = append(order, k)
		} else if info.rawTimestamp != r.RawTimestamp {
			return nil, nil, &RecordConflictError{LoggerID: k.loggerID, Record: k.record}
		}
		info.fileHashes[r.FileHash] = struct{}{}
		// A representative sdi12 address is needed to probe the deployment
		// table for the anchor row; the smallest address is picked so the
		// choice is deterministic regardless of input row order.
		if r.SDI12Address < info.sdi12 {
			info.sdi12 = r.SDI12Address
		}
	}
	for _, k := range order {
		infoByKey[k].signature = fileSetSignature(infoByKey[k].fileHashes)
	}
	return infoByKey, order, nil
}

// fileSetSignature is the lexicographically sorted concatenation of the
// source file hashes.
func fileSetSignature(hashes map[string]struct{}) string {
	list := make([]string, 0, len(hashes))
	for h := range hashes {
		list = append(list, h)
	}
	sort.Strings(list)
	return strings.Join(list, ",")
}

// resolveLoggerChunks resolves the clock offset for every chunk belonging
// to one logger, in record order, so the step-4 continuity fallback can
// consult the immediately preceding chunk's already-chosen offset.
func resolveLoggerChunks(chunks []*chunk, ec *metadata.ExecutionContext) error {
	var prevOffset *time.Duration
	for _, c := range chunks {
		offset, err := resolveChunkOffset(c, prevOffset, ec)
		if err != nil {
			return err
		}
		for _, info := range c.records {
			info.timestampUTC = utcFor(info.rawTimestamp, offset)
		}
		o := offset
		prevOffset = &o
	}
	return nil
}

// offsetCandidate is one plausible (offset, canonical datalogger,
// deployment) resolution for a chunk's anchor row.
type offsetCandidate struct {
	offset      time.Duration
	canonicalID string
	deployment  metadata.DeploymentContext
}

// zoneCandidateOffsets returns the distinct UTC offsets loc uses during
// year: one entry for a fixed-offset zone, the standard and daylight
// offsets for a DST-observing one (UTC-5 and UTC-4 for America/New_York,
// matching the raw-clock precondition).
func zoneCandidateOffsets(loc *time.Location, year int) []time.Duration {
	_, jan := time.Date(year, 1, 1, 12, 0, 0, 0, loc).Zone()
	_, jul := time.Date(year, 7, 1, 12, 0, 0, 0, loc).Zone()
	offsets := []time.Duration{time.Duration(jan) * time.Second}
	if jul != jan {
		offsets = append(offsets, time.Duration(jul)*time.Second)
	}
	return offsets
}

// resolveChunkOffset picks a chunk's clock offset: locate the
// anchor row's deployment, derive the candidate offsets from its site's
// zone, and keep every candidate for which the anchor interpretation is a
// valid local instant mapping back to a deployment.
func resolveChunkOffset(c *chunk, prevOffset *time.Duration, ec *metadata.ExecutionContext) (time.Duration, error) {
	anchor := c.records[0]
	last := c.records[len(c.records)-1]

	anchorLocal, err := time.Parse(rawTimestampLayout, anchor.rawTimestamp)
	if err != nil {
		return 0, &TimestampAmbiguityError{LoggerID: c.loggerID, Signature: c.signature, Reason: "anchor raw timestamp is unparseable: " + anchor.rawTimestamp}
	}

	var anchorDep metadata.DeploymentContext
	found := false
	for _, po := range probeOffsets {
		utc := utcFor(anchor.rawTimestamp, po)
		canonicalID, ok := resolveCanonicalID(anchor.key.loggerID, utc, ec)
		if !ok {
			continue
		}
		dep, ok := findDeployment(canonicalID, anchor.sdi12, utc, ec)
		if !ok {
			continue
		}
		anchorDep = dep
		found = true
		break
	}
	if !found {
		return 0, &TimestampAmbiguityError{LoggerID: c.loggerID, Signature: c.signature, Reason: "no offset candidate resolves to a plausible deployment"}
	}
	loc, err := time.LoadLocation(anchorDep.Timezone)
	if err != nil {
		return 0, &TimestampAmbiguityError{LoggerID: c.loggerID, Signature: c.signature, Reason: "site timezone is not loadable: " + anchorDep.Timezone}
	}

	var candidates []offsetCandidate
	for _, offset := range zoneCandidateOffsets(loc, anchorLocal.Year()) {
		utc := utcFor(anchor.rawTimestamp, offset)
		canonicalID, ok := resolveCanonicalID(anchor.key.loggerID, utc, ec)
		if !ok {
			continue
		}
		dep, ok := findDeployment(canonicalID, anchor.sdi12, utc, ec)
		if !ok {
			continue
		}
		// The interpretation is valid only if the zone really runs at this
		// offset at that instant (a daylight offset during standard time is
		// not a real local instant).
		_, actualOffsetSec := utc.In(loc).Zone()
		if time.Duration(actualOffsetSec)*time.Second != offset {
			continue
		}
		candidates = append(candidates, offsetCandidate{offset: offset, canonicalID: canonicalID, deployment: dep})
	}

	switch len(candidates) {
	case 0:
		return 0, &TimestampAmbiguityError{LoggerID: c.loggerID, Signature: c.signature, Reason: "no offset candidate resolves to a plausible deployment"}
	case 1:
		return candidates[0].offset, nil
	}

	// Two candidates: prefer the one whose chunk-last raw_timestamp still
	// falls within that candidate's deployment interval.
	var stillInWindow []offsetCandidate
	for _, cand := range candidates {
		lastUTC := utcFor(last.rawTimestamp, cand.offset)
		if cand.deployment.Deployment.Interval.Contains(lastUTC) {
			stillInWindow = append(stillInWindow, cand)
		}
	}
	if len(stillInWindow) == 1 {
		return stillInWindow[0].offset, nil
	}
	if len(stillInWindow) > 1 {
		candidates = stillInWindow
	}

	// Still ambiguous: prefer continuity with the adjacent (preceding)
	// chunk's already-chosen offset.
	if prevOffset != nil {
		for _, cand := range candidates {
			if cand.offset == *prevOffset {
				return cand.offset, nil
			}
		}
	}

	if len(c.records) == 1 {
		return 0, &TimestampAmbiguityError{LoggerID: c.loggerID, Signature: c.signature, Reason: "chunk of length 1 with both offsets plausible and no neighbour to disambiguate against"}
	}
	return 0, &TimestampAmbiguityError{LoggerID: c.loggerID, Signature: c.signature, Reason: "both offsets remain plausible after window and continuity checks"}
}

// utcFor parses a naive local timestamp and applies offset (the signed
// duration from UTC to local) to produce the UTC instant.
func utcFor(raw string, offset time.Duration) time.Time {
	local, err := time.Parse(rawTimestampLayout, raw)
	if err != nil {
		// Malformed timestamps are rejected by the parser (C1) long before
		// stage 2 runs; this is unreachable in practice but avoids a panic.
		return time.Time{}
	}
	return local.Add(-offset)
}

// resolveCanonicalID mirrors metadata.Resolver.ResolveDatalogger but against
// the in-memory ExecutionContext, since stage 2 runs before any storage
// round-trip within the pipeline proper.
func resolveCanonicalID(rawLoggerID string, at time.Time, ec *metadata.ExecutionContext) (string, bool) {
	for _, d := range ec.Dataloggers {
		if d.Code == rawLoggerID {
			return d.ID, true
		}
	}
	var match string
	count := 0
	for _, a := range ec.Aliases {
		if a.Alias == rawLoggerID && a.Interval.Contains(at) {
			match = a.DataloggerID
			count++
		}
	}
	if count != 1 {
		return "", false
	}
	return match, true
}

// findDeployment returns the deployment covering (canonicalID, sdi12) at
// instant at, regardless of include_in_pipeline — stage 2 only needs the
// site's timezone and interval, not pipeline inclusion (stage 3 applies the
// include_in_pipeline filter separately).
func findDeployment(canonicalID, sdi12 string, at time.Time, ec *metadata.ExecutionContext) (metadata.DeploymentContext, bool) {
	var match metadata.DeploymentContext
	count := 0
	for _, dc := range ec.Deployments {
		if dc.Deployment.DataloggerID == canonicalID && dc.Deployment.SDI12Address == sdi12 && dc.Deployment.Interval.Contains(at) {
			match = dc
			count++
		}
	}
	if count != 1 {
		return metadata.DeploymentContext{}, false
	}
	return match, true
}

// collapseDuplicates implements stage 2 step 6: join timestamp_utc back to
// the flat frame and keep one row per unique (logger_id, record,
// sdi12_address, thermistor_depth), preferring the first occurrence in
// input order for determinism (overlapping-download duplicates carry
// identical metric payloads per the stage's precondition).
func collapseDuplicates(rows []Row, infoByKey map[keyLR]*recordInfo) Frame {
	type dedupKey struct {
		loggerID string
		record   int64
		sdi12    string
		depth    string
	}
	seen := make(map[dedupKey]bool, len(rows))
	out := make([]Row, 0, len(rows))
	for _, r := range rows {
		dk := dedupKey{r.RawLoggerID, r.Record, r.SDI12Address, r.ThermistorDepth}
		if seen[dk] {
			continue
		}
		seen[dk] = true
		info := infoByKey[keyLR{r.RawLoggerID, r.Record}]
		row := r
		row.TimestampUTC = info.timestampUTC.UnixNano()
		row.FileSetSignature = info.signature
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.RawLoggerID != b.RawLoggerID {
			return a.RawLoggerID < b.RawLoggerID
		}
		if a.Record != b.Record {
			return a.Record < b.Record
		}
		if a.SDI12Address != b.SDI12Address {
			return a.SDI12Address < b.SDI12Address
		}
		return a.ThermistorDepth < b.ThermistorDepth
	})
	return Frame{Rows: out}
}
