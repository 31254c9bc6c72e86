// Package ledger persists the append-only record of executed assignment
// operations and their rollbacks. The ledger is the single source of truth
// for idempotency: a rolled_back flag, once written, is never lost.
package ledger

import (
	"errors"

	"github.com/jklevins/permrevert/internal/models"
)

// ErrNotFound is returned when an operation or rollback id is absent.
var ErrNotFound = errors.New("not found")

// Query filters ledger listings. Zero values match everything.
type Query struct {
	Type          models.OperationType // exact match on operation type
	Principal     string               // substring match on principal id or name
	PermissionSet string               // substring match on permission set ARN or name
	SinceDays     int                  // only records newer than N days
	Limit         int                  // max records returned, 0 = unlimited
}

// Store is the operation ledger contract. Implementations must make
// MarkRolledBack a conditional write (false -> true only) so concurrent
// rollback attempts cannot both claim the same operation.
type Store interface {
	// Record appends an operation record.
	Record(record *models.OperationRecord) error

	// Get returns the record for an operation id, or ErrNotFound.
	Get(operationID string) (*models.OperationRecord, error)

	// List returns matching records, newest first.
	List(q Query) ([]*models.OperationRecord, error)

	// MarkRolledBack sets rolled_back and the rollback id on an operation.
	// It returns true only when the record existed and was not already
	// rolled back; repeated calls return false without modifying anything.
	MarkRolledBack(operationID, rollbackID string) (bool, error)

	// RecordRollback appends a rollback summary.
	RecordRollback(summary *models.RollbackSummary) error

	// GetRollback returns a rollback summary by id, or ErrNotFound.
	GetRollback(rollbackID string) (*models.RollbackSummary, error)

	// ListRollbacks returns rollback summaries, newest first.
	ListRollbacks(limit int) ([]*models.RollbackSummary, error)

	Close() error
}

// Verify that both backends satisfy Store at compile time
var (
	_ Store = (*FileStore)(nil)
	_ Store = (*SQLStore)(nil)
)
