// Package export implements the Export Manifest Builder (C12): every
// artifact leaving the archive is accompanied by a sidecar manifest
// carrying a content hash and purpose, so a downstream consumer — or a
// later audit — can verify exactly what left and why. Modeled on the
// teacher's pattern of pairing a generated artifact with a small JSON
// sidecar record (see its output-file naming in internal/conf) rather
// than embedding provenance into the artifact itself.
package export

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/clinisys/diarocore/internal/errs"
	"github.com/clinisys/diarocore/internal/hashing"
)

// Format is the closed set of artifact encodings an export may take.
type Format string

const (
	FormatMarkdown Format = "MARKDOWN"
	FormatJSON     Format = "JSON"
	FormatBinary   Format = "BINARY"
	FormatCSV      Format = "CSV"
	FormatText     Format = "TEXT"
)

// Purpose is the closed set of reasons an export may be requested for.
type Purpose string

const (
	PurposePersonalReview Purpose = "PERSONAL_REVIEW"
	PurposeBackup         Purpose = "BACKUP"
	PurposeMigration      Purpose = "MIGRATION"
	PurposeAnalysis       Purpose = "ANALYSIS"
	PurposeCompliance     Purpose = "COMPLIANCE"
	PurposeResearch       Purpose = "RESEARCH"
)

var validFormats = map[Format]bool{
	FormatMarkdown: true, FormatJSON: true, FormatBinary: true, FormatCSV: true, FormatText: true,
}

var validPurposes = map[Purpose]bool{
	PurposePersonalReview: true, PurposeBackup: true, PurposeMigration: true,
	PurposeAnalysis: true, PurposeCompliance: true, PurposeResearch: true,
}

// Manifest is the sidecar record (spec.md §3) accompanying any bytes
// exported out of the core. It lives outside the archive as a JSON
// file named "{artifact_name}.manifest.json".
type Manifest struct {
	ExportID      string         `json:"export_id"`
	Timestamp     time.Time      `json:"timestamp"`
	ExportedBy    string         `json:"exported_by"`
	DataSource    string         `json:"data_source"`
	DataHash      string         `json:"data_hash"`
	Format        Format         `json:"format"`
	Purpose       Purpose        `json:"purpose"`
	IncludesPII   bool           `json:"includes_pii"`
	RetentionDays *uint          `json:"retention_days,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Request carries the caller-supplied fields needed to build a
// Manifest; DataHash is computed by Build, never supplied by the
// caller, so a manifest can never claim a hash that doesn't match its
// own artifact bytes.
type Request struct {
	ExportedBy    string
	DataSource    string
	Format        Format
	Purpose       Purpose
	IncludesPII   bool
	RetentionDays *uint
	Metadata      map[string]any
}

// Build produces a Manifest for artifactBytes per req, computing
// data_hash over the exact bytes being exported.
func Build(artifactBytes []byte, req Request) (Manifest, error) {
	if !validFormats[req.Format] {
		return Manifest{}, errs.Newf("unknown export format %q", req.Format).
			Kind(errs.KindExportManifestInvalid).Component("export").Build()
	}
	if !validPurposes[req.Purpose] {
		return Manifest{}, errs.Newf("unknown export purpose %q", req.Purpose).
			Kind(errs.KindExportManifestInvalid).Component("export").Build()
	}
	if req.ExportedBy == "" || req.DataSource == "" {
		return Manifest{}, errs.Newf("export request requires exported_by and data_source").
			Kind(errs.KindExportManifestInvalid).Component("export").Build()
	}

	return Manifest{
		ExportID:      uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		ExportedBy:    req.ExportedBy,
		DataSource:    req.DataSource,
		DataHash:      hashing.Hex(artifactBytes),
		Format:        req.Format,
		Purpose:       req.Purpose,
		IncludesPII:   req.IncludesPII,
		RetentionDays: req.RetentionDays,
		Metadata:      req.Metadata,
	}, nil
}

// Validate recomputes data_hash over artifactBytes and compares it
// against the manifest's recorded value, per spec.md §4.11's
// validate(artifact_bytes, manifest) contract.
func Validate(artifactBytes []byte, m Manifest) error {
	actual := hashing.Hex(artifactBytes)
	if actual != m.DataHash {
		return errs.Newf("export %s: data_hash mismatch, manifest says %s, artifact hashes to %s", m.ExportID, m.DataHash, actual).
			Kind(errs.KindExportManifestInvalid).Component("export").Build()
	}
	return nil
}

// SidecarName returns the manifest's conventional file name for the
// given artifact name.
func SidecarName(artifactName string) string {
	return artifactName + ".manifest.json"
}

// MarshalSidecar renders m as the JSON bytes of its sidecar file.
func MarshalSidecar(m Manifest) ([]byte, error) {
	encoded, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, errs.Newf("marshal export manifest %s: %v", m.ExportID, err).
			Kind(errs.KindExportManifestInvalid).Component("export").Build()
	}
	return encoded, nil
}
