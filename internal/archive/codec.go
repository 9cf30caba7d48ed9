package archive

import (
	"bytes"
	"encoding/gob"

	"github.com/clinisys/diarocore/internal/errs"
)

// Encode renders v as a gob record. Callers define their row/attribute
// structs with exported fields in the order the data model's encoding
// addendum requires (canonical field order, never map iteration order),
// so the same value always produces the same bytes — this is what keeps
// the archive's content hashes reproducible.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, errs.New(err).Kind(errs.KindSchemaViolation).Component("archive").Build()
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode into dst, which must be a pointer to the same
// concrete type (or a structurally compatible one) used to encode.
func Decode(data []byte, dst any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(dst); err != nil {
		return errs.New(err).Kind(errs.KindSchemaViolation).Component("archive").Build()
	}
	return nil
}
