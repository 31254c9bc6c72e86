package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jklevins/permrevert/internal/models"
)

// File names under the storage root.
const (
	OperationsFile = "operations.json"
	RollbacksFile  = "rollbacks.json"
)

// FileStore keeps the ledger in two append-oriented JSON documents under a
// storage root. A corrupt or missing document degrades to empty rather than
// failing the process; writes go through a temp file and rename so readers
// never observe a partial document.
type FileStore struct {
	mu   sync.Mutex
	root string
}

type operationsDoc struct {
	Operations []*models.OperationRecord `json:"operations"`
}

type rollbacksDoc struct {
	Rollbacks []*models.RollbackSummary `json:"rollbacks"`
}

// NewFileStore opens (or creates) a file-backed ledger at root.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) operationsPath() string { return filepath.Join(s.root, OperationsFile) }
func (s *FileStore) rollbacksPath() string  { return filepath.Join(s.root, RollbacksFile) }

// loadOperations reads the operations document. Decode failures degrade to
// an empty ledger.
func (s *FileStore) loadOperations() *operationsDoc {
	var doc operationsDoc
	data, err := os.ReadFile(s.operationsPath())
	if err != nil {
		return &doc
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return &operationsDoc{}
	}
	return &doc
}

func (s *FileStore) loadRollbacks() *rollbacksDoc {
	var doc rollbacksDoc
	data, err := os.ReadFile(s.rollbacksPath())
	if err != nil {
		return &doc
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return &rollbacksDoc{}
	}
	return &doc
}

// writeAtomic marshals v and replaces path in one rename.
func writeAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger document: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write ledger document: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace ledger document: %w", err)
	}
	return nil
}

// Record appends an operation record.
func (s *FileStore) Record(record *models.OperationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.loadOperations()
	doc.Operations = append(doc.Operations, record)
	return writeAtomic(s.operationsPath(), doc)
}

// Get returns the record for an operation id, or ErrNotFound.
func (s *FileStore) Get(operationID string) (*models.OperationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.loadOperations().Operations {
		if rec.OperationID == operationID {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("operation %s: %w", operationID, ErrNotFound)
}

// List returns matching records, newest first.
func (s *FileStore) List(q Query) ([]*models.OperationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.OperationRecord
	for _, rec := range s.loadOperations().Operations {
		if matches(rec, q) {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// matches applies query filters to a single record.
func matches(rec *models.OperationRecord, q Query) bool {
	if q.Type != "" && rec.Type != q.Type {
		return false
	}
	if q.Principal != "" &&
		!strings.Contains(rec.PrincipalID, q.Principal) &&
		!strings.Contains(rec.PrincipalName, q.Principal) {
		return false
	}
	if q.PermissionSet != "" &&
		!strings.Contains(rec.PermissionSetARN, q.PermissionSet) &&
		!strings.Contains(rec.PermissionSetName, q.PermissionSet) {
		return false
	}
	if q.SinceDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -q.SinceDays)
		if rec.Timestamp.Before(cutoff) {
			return false
		}
	}
	return true
}

// MarkRolledBack conditionally flags an operation as rolled back.
func (s *FileStore) MarkRolledBack(operationID, rollbackID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.loadOperations()
	for _, rec := range doc.Operations {
		if rec.OperationID != operationID {
			continue
		}
		if rec.RolledBack {
			return false, nil
		}
		rec.RolledBack = true
		rec.RollbackOperationID = rollbackID
		if err := writeAtomic(s.operationsPath(), doc); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// RecordRollback appends a rollback summary.
func (s *FileStore) RecordRollback(summary *models.RollbackSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := s.loadRollbacks()
	doc.Rollbacks = append(doc.Rollbacks, summary)
	return writeAtomic(s.rollbacksPath(), doc)
}

// GetRollback returns a rollback summary by id, or ErrNotFound.
func (s *FileStore) GetRollback(rollbackID string) (*models.RollbackSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rb := range s.loadRollbacks().Rollbacks {
		if rb.RollbackID == rollbackID {
			return rb, nil
		}
	}
	return nil, fmt.Errorf("rollback %s: %w", rollbackID, ErrNotFound)
}

// ListRollbacks returns rollback summaries, newest first.
func (s *FileStore) ListRollbacks(limit int) ([]*models.RollbackSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rollbacks := s.loadRollbacks().Rollbacks
	out := make([]*models.RollbackSummary, len(rollbacks))
	copy(out, rollbacks)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close is a no-op for the file-backed ledger.
func (s *FileStore) Close() error { return nil }
