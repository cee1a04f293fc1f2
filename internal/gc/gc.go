// Package gc implements the garbage collector: reconciling blob-store
// prefixes against the set of keys the metadata store still references,
// with a dry-run and a confirm mode.
package gc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sapflux-io/pipeline/internal/objectstore"
)

// ReferenceSource is the slice of metadata.Store the collector needs: the
// raw-file hashes and output IDs currently referenced by committed
// metadata, expanded here into full blob keys. Any metadata.Store
// satisfies this without an adapter.
type ReferenceSource interface {
	ReferencedBlobKeys(ctx context.Context) (rawFileHashes []string, outputIDs []string, err error)
}

// Prefix names one of the three blob-store namespaces.
type Prefix string

const (
	PrefixRawFiles   Prefix = "raw-files/"
	PrefixOutputs    Prefix = "outputs/"
	PrefixCartridges Prefix = "repro-cartridges/"
)

// Orphan is one unreferenced key found under a prefix.
type Orphan struct {
	Key    string
	Prefix Prefix
}

// Report is the result of one reconciliation pass.
type Report struct {
	Orphans []Orphan
	Deleted []string // populated only in confirm mode
}

// Collector reconciles the blob store against the metadata store.
type Collector struct {
	blobs objectstore.Store
	store ReferenceSource
	log   *slog.Logger
	// AgeFloor, when non-zero, restricts deletion to keys whose
	// LastModified age exceeds it, mitigating races with in-flight
	// transactions that have uploaded a blob but not yet committed the
	// referencing metadata row.
	AgeFloor time.Duration
	// Now lets tests pin the reference instant instead of depending on
	// wall-clock time; nil means time.Now.
	Now func() time.Time
}

// New constructs a Collector.
func New(blobs objectstore.Store, store ReferenceSource, log *slog.Logger) *Collector {
	return &Collector{blobs: blobs, store: store, log: log}
}

// Reconcile lists every key under the three prefixes, diffs against
// referenced keys, and either reports (confirm=false) or deletes
// (confirm=true) the orphans.
func (c *Collector) Reconcile(ctx context.Context, confirm bool) (*Report, error) {
	rawHashes, outputIDs, err := c.store.ReferencedBlobKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("gc: load referenced keys: %w", err)
	}

	referenced := make(map[string]bool, len(rawHashes)+2*len(outputIDs))
	for _, h := range rawHashes {
		referenced[objectstore.RawFileKey(h)] = true
	}
	for _, id := range outputIDs {
		referenced[objectstore.OutputParquetKey(id)] = true
		referenced[objectstore.CartridgeKey(id)] = true
	}

	report := &Report{}
	for _, prefix := range []Prefix{PrefixRawFiles, PrefixOutputs, PrefixCartridges} {
		keys, err := c.blobs.List(ctx, string(prefix))
		if err != nil {
			return nil, fmt.Errorf("gc: list %s: %w", prefix, err)
		}
		for _, key := range keys {
			if referenced[key] {
				continue
			}
			report.Orphans = append(report.Orphans, Orphan{Key: key, Prefix: prefix})
		}
	}

	if !confirm {
		c.log.InfoContext(ctx, "gc dry run complete", "orphan_count", len(report.Orphans))
		return report, nil
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}

	for _, o := range report.Orphans {
		if c.AgeFloor > 0 {
			modTime, err := c.blobs.LastModified(ctx, o.Key)
			if err != nil {
				return report, fmt.Errorf("gc: stat %s: %w", o.Key, err)
			}
			if now().Sub(modTime) < c.AgeFloor {
				continue
			}
		}
		if err := c.blobs.Delete(ctx, o.Key); err != nil {
			return report, fmt.Errorf("gc: delete %s: %w", o.Key, err)
		}
		report.Deleted = append(report.Deleted, o.Key)
	}
	c.log.InfoContext(ctx, "gc confirm run complete", "deleted_count", len(report.Deleted))
	return report, nil
}
