// Package audit implements the Audit Ledger (C2): an append-only
// evidence trail for every sensitive operation the core performs,
// persisted as the archive's /audit_logs dataset rather than a
// separate file.
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinisys/diarocore/internal/archive"
	"github.com/clinisys/diarocore/internal/errs"
	"github.com/clinisys/diarocore/internal/eventname"
	"github.com/clinisys/diarocore/internal/hashing"
	"github.com/clinisys/diarocore/internal/logging"
)

// Status is the outcome recorded for a sensitive operation.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
	StatusBlocked Status = "BLOCKED"
)

// Entry is one audit row. Field order here is the canonical gob
// encoding order for this type; do not reorder without treating it as
// a schema change.
type Entry struct {
	AuditID      string
	Timestamp    time.Time
	Operation    string
	Actor        string
	Endpoint     string
	PayloadHash  string
	ResultHash   string
	Status       Status
	MetadataJSON string
}

var auditGroup = []string{"audit_logs"}

const auditDataset = "entries"

// Ledger is the Audit Ledger (C2), backed by an archive.Store.
type Ledger struct {
	store *archive.Store
	log   logging.Logger
}

// New wraps store with the Audit Ledger's append/query contract.
func New(store *archive.Store, log logging.Logger) *Ledger {
	if log == nil {
		log = logging.Discard()
	}
	return &Ledger{store: store, log: log.Module("audit")}
}

// Append hashes payload and result with the core's canonical content
// hash, writes an Entry row, and returns its audit_id. operation must
// already be a canonical event name; callers are expected to validate
// with eventname.Validate before calling Append, but Append itself
// re-validates defensively since an unaudited-but-unvalidated event
// name would silently violate invariant 7.
func (l *Ledger) Append(operation, actor, endpoint string, payload, result []byte, status Status, metadataJSON string) (string, error) {
	if !eventname.Validate(operation) {
		return "", errs.Newf("operation %q is not a canonical event name", operation).
			Kind(errs.KindPolicyViolationDetected).Component("audit").Build()
	}

	entry := Entry{
		AuditID:      uuid.NewString(),
		Timestamp:    time.Now().UTC(),
		Operation:    operation,
		Actor:        actor,
		Endpoint:     endpoint,
		PayloadHash:  hashing.Hex(payload),
		ResultHash:   hashing.Hex(result),
		Status:       status,
		MetadataJSON: metadataJSON,
	}

	encoded, err := archive.Encode(entry)
	if err != nil {
		return "", errs.New(err).Kind(errs.KindAuditAppendFailed).Component("audit").Build()
	}

	if _, err := l.store.AppendRow(auditGroup, auditDataset, encoded); err != nil {
		l.log.Error("audit append failed", "operation", operation, "err", err)
		return "", errs.New(err).Kind(errs.KindAuditAppendFailed).
			Component("audit").Context("operation", operation).Build()
	}

	l.log.Info("audit entry appended", "operation", operation, "status", status, "audit_id", entry.AuditID)
	return entry.AuditID, nil
}

// Filters narrows a Query call; zero values mean "no filter" on that
// field. Since and Until, when non-zero, are inclusive bounds.
type Filters struct {
	Operation string
	Actor     string
	Since     time.Time
	Until     time.Time
}

func (f Filters) matches(e Entry) bool {
	if f.Operation != "" && e.Operation != f.Operation {
		return false
	}
	if f.Actor != "" && e.Actor != f.Actor {
		return false
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// Query returns up to limit entries matching filters, most recent
// first. limit <= 0 means unbounded.
func (l *Ledger) Query(filters Filters, limit int) ([]Entry, error) {
	length, err := l.store.DatasetLength(auditGroup, auditDataset)
	if err != nil {
		return nil, err
	}
	raw, err := l.store.ReadRows(auditGroup, auditDataset, 0, length)
	if err != nil {
		return nil, err
	}

	var matched []Entry
	for i := len(raw) - 1; i >= 0; i-- {
		var e Entry
		if err := archive.Decode(raw[i], &e); err != nil {
			return nil, err
		}
		if !filters.matches(e) {
			continue
		}
		matched = append(matched, e)
		if limit > 0 && len(matched) >= limit {
			break
		}
	}
	return matched, nil
}

// Stats summarizes the full ledger contents.
type Stats struct {
	Total      int
	ByStatus   map[Status]int
	ByOperation map[string]int
}

// Stats computes aggregate counts over every entry in the ledger.
func (l *Ledger) Stats() (Stats, error) {
	length, err := l.store.DatasetLength(auditGroup, auditDataset)
	if err != nil {
		return Stats{}, err
	}
	raw, err := l.store.ReadRows(auditGroup, auditDataset, 0, length)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{ByStatus: make(map[Status]int), ByOperation: make(map[string]int)}
	for _, r := range raw {
		var e Entry
		if err := archive.Decode(r, &e); err != nil {
			return Stats{}, err
		}
		stats.Total++
		stats.ByStatus[e.Status]++
		stats.ByOperation[e.Operation]++
	}
	return stats, nil
}
