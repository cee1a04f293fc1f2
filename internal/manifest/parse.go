package manifest

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// ValidationError is ManifestSyntax or ManifestValidation,
// collected rather than returned on first failure so an operator sees every
// problem from one submission.
type ValidationError struct {
	Kind    string // "ManifestSyntax" or "ManifestValidation"
	Path    string // dotted manifest path, e.g. "sites.add[2].timezone"
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, e.Message)
}

// Parse decodes raw TOML text into a Manifest. A malformed document returns
// a single ManifestSyntax ValidationError immediately, before any preflight
// work runs.
func Parse(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(raw, &m); err != nil {
		return nil, &ValidationError{Kind: "ManifestSyntax", Path: "", Message: err.Error()}
	}
	if m.Message == "" {
		return nil, &ValidationError{Kind: "ManifestSyntax", Path: "message", Message: "message is required"}
	}
	return &m, nil
}
