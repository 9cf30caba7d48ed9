// Package archive implements the Archive Store: a single-writer,
// append-only hierarchical container built on go.etcd.io/bbolt, whose
// nested-bucket model already matches the groups/datasets shape the
// archive needs. Process-level exclusivity is reinforced with an
// independent gofrs/flock lock on the archive path, so a second OS
// process that tries to open the same file fails fast instead of
// blocking on bbolt's own advisory lock.
package archive

import (
	"encoding/binary"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/clinisys/diarocore/internal/errs"
	"github.com/clinisys/diarocore/internal/hashing"
	"github.com/clinisys/diarocore/internal/logging"
)

// SchemaVersion is stamped into every freshly initialized archive root.
const SchemaVersion = "diarocore/1"

// Fixed top-level groups created on first open. The diarization core
// only ever writes under auditLogsGroup and diarizationGroup; the other
// three are reserved namespaces belonging to neighboring subsystems that
// share the same archive file and must never be disturbed by this core.
const (
	interactionsGroup = "interactions"
	embeddingsGroup   = "embeddings"
	metadataGroup     = "metadata"
	auditLogsGroup    = "audit_logs"
	diarizationGroup  = "diarization"

	rootAttrsBucket = "__root_attrs__"
	attrKeyPrefix   = "__attr__"
	attrHistoryName = "attribute_history"
)

var fixedTopLevelGroups = []string{interactionsGroup, embeddingsGroup, metadataGroup, auditLogsGroup, diarizationGroup}

// Identity holds the archive root's immutable identity attributes.
type Identity struct {
	ArchiveID        string
	OwnerFingerprint string
	SchemaVersion    string
	CreatedAt        time.Time
}

// Store is the Archive Store (C1). One Store owns one archive file for
// the lifetime of the process; Open enforces single-writer exclusivity.
type Store struct {
	path         string
	db           *bolt.DB
	fileLock     *flock.Flock
	maxBatchRows int
	writeSlots   chan struct{}

	log logging.Logger

	identity Identity
}

// Open opens or initializes the archive at path. ownerIdentifier and
// salt feed the owner_fingerprint computation (§C5); on an existing
// archive the fingerprint is recomputed and compared, failing with
// IDENTITY_MISMATCH on divergence. maxBatchRows bounds how many rows a
// single AppendRows transaction covers before the call falls back to a
// row-by-row batch (see AppendRows). writeQueueCapacity bounds how many
// writers may be queued waiting for the single writer lane before new
// callers are rejected with WRITE_BACKPRESSURE.
func Open(path, ownerIdentifier, salt string, maxBatchRows, writeQueueCapacity int, log logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Discard()
	}
	if maxBatchRows <= 0 {
		maxBatchRows = 256
	}
	if writeQueueCapacity <= 0 {
		writeQueueCapacity = 64
	}

	fl := flock.New(path + ".lock")
	locked, err := fl.TryLock()
	if err != nil {
		return nil, errs.New(err).Kind(errs.KindArchiveOpenFailed).
			Component("archive").Context("path", path).Build()
	}
	if !locked {
		return nil, errs.Newf("archive %s is already held by another process", path).
			Kind(errs.KindArchiveOpenFailed).Component("archive").Build()
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		_ = fl.Unlock()
		return nil, errs.New(err).Kind(errs.KindArchiveOpenFailed).
			Component("archive").Context("path", path).Build()
	}

	s := &Store{
		path:         path,
		db:           db,
		fileLock:     fl,
		maxBatchRows: maxBatchRows,
		writeSlots:   make(chan struct{}, writeQueueCapacity),
		log:          log.Module("archive"),
	}

	if err := s.initOrVerifyIdentity(ownerIdentifier, salt); err != nil {
		_ = db.Close()
		_ = fl.Unlock()
		return nil, err
	}

	s.log.Info("archive opened", "path", path, "archive_id", s.identity.ArchiveID)
	return s, nil
}

func (s *Store) initOrVerifyIdentity(ownerIdentifier, salt string) error {
	fingerprint := hashing.Fingerprint(ownerIdentifier, salt)

	return s.db.Update(func(tx *bolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists([]byte(rootAttrsBucket))
		if err != nil {
			return errs.New(err).Kind(errs.KindArchiveOpenFailed).Component("archive").Build()
		}

		for _, name := range fixedTopLevelGroups {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return errs.New(err).Kind(errs.KindArchiveOpenFailed).Component("archive").Build()
			}
		}

		existingID := root.Get([]byte("archive_id"))
		if existingID == nil {
			now := time.Now().UTC()
			s.identity = Identity{
				ArchiveID:        uuid.NewString(),
				OwnerFingerprint: fingerprint,
				SchemaVersion:    SchemaVersion,
				CreatedAt:        now,
			}
			if err := root.Put([]byte("archive_id"), []byte(s.identity.ArchiveID)); err != nil {
				return errs.New(err).Kind(errs.KindArchiveOpenFailed).Component("archive").Build()
			}
			if err := root.Put([]byte("owner_fingerprint"), []byte(s.identity.OwnerFingerprint)); err != nil {
				return errs.New(err).Kind(errs.KindArchiveOpenFailed).Component("archive").Build()
			}
			if err := root.Put([]byte("schema_version"), []byte(s.identity.SchemaVersion)); err != nil {
				return errs.New(err).Kind(errs.KindArchiveOpenFailed).Component("archive").Build()
			}
			if err := root.Put([]byte("created_at"), []byte(s.identity.CreatedAt.Format(time.RFC3339))); err != nil {
				return errs.New(err).Kind(errs.KindArchiveOpenFailed).Component("archive").Build()
			}
			return nil
		}

		existingFingerprint := string(root.Get([]byte("owner_fingerprint")))
		if existingFingerprint != fingerprint {
			return errs.Newf("owner fingerprint mismatch on reopen").
				Kind(errs.KindIdentityMismatch).Component("archive").Build()
		}

		createdAt, _ := time.Parse(time.RFC3339, string(root.Get([]byte("created_at"))))
		s.identity = Identity{
			ArchiveID:        string(existingID),
			OwnerFingerprint: existingFingerprint,
			SchemaVersion:    string(root.Get([]byte("schema_version"))),
			CreatedAt:        createdAt,
		}
		return nil
	})
}

// Identity returns the archive root's identity attributes.
func (s *Store) Identity() Identity { return s.identity }

// Close flushes and releases both the bbolt file handle and the
// process-exclusivity flock.
func (s *Store) Close() error {
	dbErr := s.db.Close()
	lockErr := s.fileLock.Unlock()
	if dbErr != nil {
		return errs.New(dbErr).Kind(errs.KindArchiveWriteFailed).Component("archive").Build()
	}
	if lockErr != nil {
		return errs.New(lockErr).Kind(errs.KindArchiveOpenFailed).Component("archive").Build()
	}
	_ = os.Remove(s.path + ".lock")
	return nil
}

// acquireWriteSlot enforces the single writer lane's bounded queue;
// bbolt already serializes Update transactions, so this exists purely
// to fail fast with WRITE_BACKPRESSURE instead of letting callers pile
// up indefinitely behind bbolt's internal writer mutex.
func (s *Store) acquireWriteSlot() error {
	select {
	case s.writeSlots <- struct{}{}:
		return nil
	default:
		return errs.Newf("write queue is full").Kind(errs.KindWriteBackpressure).Component("archive").Build()
	}
}

func (s *Store) releaseWriteSlot() {
	<-s.writeSlots
}

// openGroupBucketForWrite walks groupPath from the archive root, creating
// nested buckets as needed. groupPath must not be empty and its first
// element must be one of the fixed top-level groups.
func (s *Store) openGroupBucketForWrite(tx *bolt.Tx, groupPath []string) (*bolt.Bucket, error) {
	if len(groupPath) == 0 {
		return nil, errs.Newf("group path must not be empty").Kind(errs.KindSchemaViolation).Build()
	}
	bucket := tx.Bucket([]byte(groupPath[0]))
	if bucket == nil {
		return nil, errs.Newf("unknown top-level group %q", groupPath[0]).Kind(errs.KindSchemaViolation).Build()
	}
	for _, seg := range groupPath[1:] {
		next, err := bucket.CreateBucketIfNotExists([]byte(seg))
		if err != nil {
			return nil, errs.New(err).Kind(errs.KindArchiveWriteFailed).Component("archive").Build()
		}
		bucket = next
	}
	return bucket, nil
}

func (s *Store) openGroupBucketForRead(tx *bolt.Tx, groupPath []string) (*bolt.Bucket, bool) {
	if len(groupPath) == 0 {
		return nil, false
	}
	bucket := tx.Bucket([]byte(groupPath[0]))
	if bucket == nil {
		return nil, false
	}
	for _, seg := range groupPath[1:] {
		bucket = bucket.Bucket([]byte(seg))
		if bucket == nil {
			return nil, false
		}
	}
	return bucket, true
}

// EnsureGroup creates groupPath if it does not already exist, without
// writing any rows or attributes.
func (s *Store) EnsureGroup(groupPath []string) error {
	if err := s.acquireWriteSlot(); err != nil {
		return err
	}
	defer s.releaseWriteSlot()

	return s.db.Update(func(tx *bolt.Tx) error {
		_, err := s.openGroupBucketForWrite(tx, groupPath)
		return err
	})
}

func rowKey(index uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, index)
	return key
}

func rowIndex(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
}

// DatasetLength returns the current number of rows in the named
// dataset, 0 if the dataset (or its group) does not exist yet.
func (s *Store) DatasetLength(groupPath []string, dataset string) (uint64, error) {
	var length uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		group, ok := s.openGroupBucketForRead(tx, groupPath)
		if !ok {
			return nil
		}
		ds := group.Bucket([]byte(dataset))
		if ds == nil {
			return nil
		}
		length = ds.Sequence()
		return nil
	})
	return length, err
}

// AppendRow appends one encoded row to the named dataset, enforcing the
// append-only invariant, and returns the new row's index.
func (s *Store) AppendRow(groupPath []string, dataset string, row []byte) (uint64, error) {
	indexes, err := s.AppendRows(groupPath, dataset, [][]byte{row})
	if err != nil {
		return 0, err
	}
	return indexes[0], nil
}

// AppendRows appends rows in order within a single all-or-nothing
// transaction when len(rows) <= maxBatchRows, so bbolt's native
// transaction rollback gives the all-or-nothing guarantee directly. For
// larger batches it falls back to row-by-row sub-transactions and, on
// the first failure, logs a warning and returns the indexes appended so
// far together with a PARTIAL_APPEND_DETECTED error.
func (s *Store) AppendRows(groupPath []string, dataset string, rows [][]byte) ([]uint64, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	if err := s.acquireWriteSlot(); err != nil {
		return nil, err
	}
	defer s.releaseWriteSlot()

	if len(rows) <= s.maxBatchRows {
		var indexes []uint64
		err := s.db.Update(func(tx *bolt.Tx) error {
			group, err := s.openGroupBucketForWrite(tx, groupPath)
			if err != nil {
				return err
			}
			ds, err := group.CreateBucketIfNotExists([]byte(dataset))
			if err != nil {
				return errs.New(err).Kind(errs.KindArchiveWriteFailed).Component("archive").Build()
			}
			preLength := ds.Sequence()
			for i, row := range rows {
				idx, err := ds.NextSequence()
				if err != nil {
					return errs.New(err).Kind(errs.KindArchiveWriteFailed).Component("archive").Build()
				}
				// NextSequence is monotonic and unique per bucket, so idx
				// can never collide with an existing key; this assertion
				// guards the append-only invariant against a logic bug.
				if idx != preLength+uint64(i)+1 {
					return errs.Newf("dataset sequence drifted: want %d got %d", preLength+uint64(i)+1, idx).
						Kind(errs.KindAppendOnlyViolation).Component("archive").Build()
				}
				if err := ds.Put(rowKey(idx-1), row); err != nil {
					return errs.New(err).Kind(errs.KindArchiveWriteFailed).Component("archive").Build()
				}
				indexes = append(indexes, idx-1)
			}
			postLength := ds.Sequence()
			if postLength != preLength+uint64(len(rows)) {
				return errs.Newf("append did not advance length by exactly %d", len(rows)).
					Kind(errs.KindArchiveWriteFailed).Component("archive").Build()
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return indexes, nil
	}

	return s.appendRowsChunked(groupPath, dataset, rows)
}

func (s *Store) appendRowsChunked(groupPath []string, dataset string, rows [][]byte) ([]uint64, error) {
	var indexes []uint64
	for i, row := range rows {
		idx, err := s.appendSingleLocked(groupPath, dataset, row)
		if err != nil {
			s.log.Warn("partial append detected", "dataset", dataset, "rows_appended", i, "rows_requested", len(rows))
			return indexes, errs.New(err).Kind(errs.KindPartialAppendDetected).
				Component("archive").Context("rows_appended", i).Build()
		}
		indexes = append(indexes, idx)
	}
	return indexes, nil
}

// appendSingleLocked appends one row without acquiring a write slot; the
// caller already holds one.
func (s *Store) appendSingleLocked(groupPath []string, dataset string, row []byte) (uint64, error) {
	var index uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		group, err := s.openGroupBucketForWrite(tx, groupPath)
		if err != nil {
			return err
		}
		ds, err := group.CreateBucketIfNotExists([]byte(dataset))
		if err != nil {
			return errs.New(err).Kind(errs.KindArchiveWriteFailed).Component("archive").Build()
		}
		idx, err := ds.NextSequence()
		if err != nil {
			return errs.New(err).Kind(errs.KindArchiveWriteFailed).Component("archive").Build()
		}
		index = idx - 1
		return ds.Put(rowKey(index), row)
	})
	return index, err
}

// ReadRows returns the encoded rows in [start, end) for the named
// dataset. end may exceed the dataset's length; it is clamped.
func (s *Store) ReadRows(groupPath []string, dataset string, start, end uint64) ([][]byte, error) {
	var rows [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		group, ok := s.openGroupBucketForRead(tx, groupPath)
		if !ok {
			return nil
		}
		ds := group.Bucket([]byte(dataset))
		if ds == nil {
			return nil
		}
		c := ds.Cursor()
		for k, v := c.Seek(rowKey(start)); k != nil && rowIndex(k) < end; k, v = c.Next() {
			row := make([]byte, len(v))
			copy(row, v)
			rows = append(rows, row)
		}
		return nil
	})
	return rows, err
}

// SetAttr writes a group-level scalar attribute. Every key is write-once
// except the mutable set handled by SetMutableAttr; writing an existing
// immutable key is rejected with APPEND_ONLY_VIOLATION.
func (s *Store) SetAttr(groupPath []string, key string, value []byte) error {
	if err := s.acquireWriteSlot(); err != nil {
		return err
	}
	defer s.releaseWriteSlot()

	return s.db.Update(func(tx *bolt.Tx) error {
		group, err := s.openGroupBucketForWrite(tx, groupPath)
		if err != nil {
			return err
		}
		attrKey := []byte(attrKeyPrefix + key)
		if group.Get(attrKey) != nil {
			return errs.Newf("attribute %q is write-once and already set", key).
				Kind(errs.KindAppendOnlyViolation).Component("archive").Build()
		}
		return group.Put(attrKey, value)
	})
}

// GetAttr reads a group-level scalar attribute.
func (s *Store) GetAttr(groupPath []string, key string) ([]byte, bool, error) {
	var value []byte
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		group, ok := s.openGroupBucketForRead(tx, groupPath)
		if !ok {
			return nil
		}
		v := group.Get([]byte(attrKeyPrefix + key))
		if v == nil {
			return nil
		}
		found = true
		value = make([]byte, len(v))
		copy(value, v)
		return nil
	})
	return value, found, err
}

// AttrHistoryEntry is one row of a group's attribute_history dataset:
// the no-mutation policy's sole exception, used for the handful of
// fields a job attribute is allowed to carry forward across its
// lifetime (status, processed_chunks, progress_pct, updated_at, error).
type AttrHistoryEntry struct {
	Key       string
	Value     []byte
	Timestamp time.Time
}

// SetMutableAttr implements the attribute-update-as-append pattern: it
// appends a new AttrHistoryEntry to the group's attribute_history
// dataset, then overwrites the tail cache key so GetAttr keeps returning
// the latest value in O(1) without scanning history on every read. The
// history dataset itself is append-only like any other dataset; only
// the tail cache key is ever rewritten, and only through this path.
func (s *Store) SetMutableAttr(groupPath []string, key string, value []byte) error {
	if err := s.acquireWriteSlot(); err != nil {
		return err
	}
	defer s.releaseWriteSlot()

	entry := AttrHistoryEntry{Key: key, Value: value, Timestamp: time.Now().UTC()}
	encoded, err := Encode(entry)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		group, err := s.openGroupBucketForWrite(tx, groupPath)
		if err != nil {
			return err
		}
		history, err := group.CreateBucketIfNotExists([]byte(attrHistoryName))
		if err != nil {
			return errs.New(err).Kind(errs.KindArchiveWriteFailed).Component("archive").Build()
		}
		idx, err := history.NextSequence()
		if err != nil {
			return errs.New(err).Kind(errs.KindArchiveWriteFailed).Component("archive").Build()
		}
		if err := history.Put(rowKey(idx-1), encoded); err != nil {
			return errs.New(err).Kind(errs.KindArchiveWriteFailed).Component("archive").Build()
		}
		return group.Put([]byte(attrKeyPrefix+key), value)
	})
}

// AttrHistory reads the full attribute_history dataset for a group, for
// audit/debugging purposes; the tail cache (GetAttr) is the fast path
// used by the Status/Result Reader.
func (s *Store) AttrHistory(groupPath []string) ([]AttrHistoryEntry, error) {
	length, err := s.DatasetLength(groupPath, attrHistoryName)
	if err != nil {
		return nil, err
	}
	raw, err := s.ReadRows(groupPath, attrHistoryName, 0, length)
	if err != nil {
		return nil, err
	}
	entries := make([]AttrHistoryEntry, 0, len(raw))
	for _, r := range raw {
		var e AttrHistoryEntry
		if err := Decode(r, &e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// GroupExists reports whether groupPath has been created.
func (s *Store) GroupExists(groupPath []string) bool {
	exists := false
	_ = s.db.View(func(tx *bolt.Tx) error {
		_, exists = s.openGroupBucketForRead(tx, groupPath)
		return nil
	})
	return exists
}

// ListChildGroups returns the immediate child bucket names of
// groupPath, used by the Scheduler's startup scan over
// /diarization/*.
func (s *Store) ListChildGroups(groupPath []string) ([]string, error) {
	var children []string
	err := s.db.View(func(tx *bolt.Tx) error {
		group, ok := s.openGroupBucketForRead(tx, groupPath)
		if !ok {
			return nil
		}
		return group.ForEach(func(k, v []byte) error {
			if v == nil && group.Bucket(k) != nil {
				children = append(children, string(k))
			}
			return nil
		})
	})
	return children, err
}
