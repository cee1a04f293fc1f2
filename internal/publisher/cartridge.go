package publisher

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/sapflux-io/pipeline/internal/metadata"
)

// CartridgeInputs is everything the reproducibility cartridge captures: a pre-transaction metadata snapshot, the manifest
// that was applied, the hashes of every raw file the output depends on, and
// the source revision an external verifier checks out before running the
// execution script.
type CartridgeInputs struct {
	Snapshot       *metadata.StoreSnapshot
	ManifestText   []byte
	RawFileHashes  []string
	SourceRevision string
}

// BuildCartridge assembles the reproducibility cartridge archive: snapshot.json, manifest.toml, raw_file_manifest.txt,
// download_data.sh, and run.sh. Zip is a file *format*, not a swappable
// library concern, so archive/zip (stdlib) is used directly rather than a
// third-party archiver.
func BuildCartridge(in CartridgeInputs) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	snapJSON, err := json.MarshalIndent(in.Snapshot, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("publisher: marshal snapshot: %w", err)
	}
	if err := writeZipEntry(zw, "snapshot.json", snapJSON); err != nil {
		return nil, err
	}
	if err := writeZipEntry(zw, "manifest.toml", in.ManifestText); err != nil {
		return nil, err
	}
	if err := writeZipEntry(zw, "raw_file_manifest.txt", rawFileManifest(in.RawFileHashes)); err != nil {
		return nil, err
	}
	if err := writeZipEntry(zw, "download_data.sh", dataDownloadScript(in.RawFileHashes)); err != nil {
		return nil, err
	}
	if err := writeZipEntry(zw, "run.sh", executionScript(in.SourceRevision)); err != nil {
		return nil, err
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("publisher: close cartridge archive: %w", err)
	}
	return buf.Bytes(), nil
}

func writeZipEntry(zw *zip.Writer, name string, content []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("publisher: create cartridge entry %s: %w", name, err)
	}
	if _, err := w.Write(content); err != nil {
		return fmt.Errorf("publisher: write cartridge entry %s: %w", name, err)
	}
	return nil
}

func rawFileManifest(hashes []string) []byte {
	var buf bytes.Buffer
	for _, h := range hashes {
		fmt.Fprintf(&buf, "raw-files/%s\n", h)
	}
	return buf.Bytes()
}

func dataDownloadScript(hashes []string) []byte {
	var buf bytes.Buffer
	buf.WriteString("#!/usr/bin/env bash\nset -euo pipefail\nmkdir -p raw-files\n")
	for _, h := range hashes {
		fmt.Fprintf(&buf, "sapflux-object-get raw-files/%s > raw-files/%s\n", h, h)
	}
	return buf.Bytes()
}

func executionScript(sourceRevision string) []byte {
	var buf bytes.Buffer
	buf.WriteString("#!/usr/bin/env bash\nset -euo pipefail\n")
	fmt.Fprintf(&buf, "# Re-run the transaction that produced this output against revision %s.\n", sourceRevision)
	buf.WriteString("./download_data.sh\n")
	buf.WriteString("sapflux-transact --message \"cartridge reproduction\" --manifest manifest.toml --snapshot snapshot.json $(cat raw_file_manifest.txt | sed 's#^#--file #')\n")
	return buf.Bytes()
}
