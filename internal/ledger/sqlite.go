package ledger

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jklevins/permrevert/internal/models"
)

// SQLStore is the SQLite-backed ledger, intended for large operation
// histories where scanning a JSON document per query gets expensive.
// MarkRolledBack uses a guarded UPDATE so the false -> true transition is
// atomic across processes sharing the database file.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens (or creates) a SQLite-backed ledger at dbPath.
func NewSQLStore(dbPath string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &SQLStore{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initialize creates the database schema.
func (s *SQLStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS operations (
		operation_id TEXT PRIMARY KEY,
		timestamp DATETIME NOT NULL,
		operation_type TEXT NOT NULL,
		principal_id TEXT NOT NULL,
		principal_name TEXT,
		permission_set_arn TEXT NOT NULL,
		permission_set_name TEXT,
		rolled_back BOOLEAN NOT NULL DEFAULT FALSE,
		rollback_operation_id TEXT,
		record JSON NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_operations_timestamp ON operations(timestamp);

	CREATE TABLE IF NOT EXISTS rollbacks (
		rollback_id TEXT PRIMARY KEY,
		operation_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		record JSON NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Record appends an operation record.
func (s *SQLStore) Record(record *models.OperationRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal operation record: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO operations
		(operation_id, timestamp, operation_type, principal_id, principal_name,
		 permission_set_arn, permission_set_name, rolled_back, rollback_operation_id, record)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.OperationID, record.Timestamp.UTC(), string(record.Type),
		record.PrincipalID, record.PrincipalName,
		record.PermissionSetARN, record.PermissionSetName,
		record.RolledBack, record.RollbackOperationID, string(data))
	if err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

// Get returns the record for an operation id, or ErrNotFound.
func (s *SQLStore) Get(operationID string) (*models.OperationRecord, error) {
	var data string
	err := s.db.QueryRow(
		`SELECT record FROM operations WHERE operation_id = ?`, operationID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("operation %s: %w", operationID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query operation: %w", err)
	}
	var rec models.OperationRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal operation record: %w", err)
	}
	return &rec, nil
}

// List returns matching records, newest first.
func (s *SQLStore) List(q Query) ([]*models.OperationRecord, error) {
	var (
		where []string
		args  []interface{}
	)
	if q.Type != "" {
		where = append(where, "operation_type = ?")
		args = append(args, string(q.Type))
	}
	if q.Principal != "" {
		where = append(where, "(principal_id LIKE ? OR principal_name LIKE ?)")
		args = append(args, "%"+q.Principal+"%", "%"+q.Principal+"%")
	}
	if q.PermissionSet != "" {
		where = append(where, "(permission_set_arn LIKE ? OR permission_set_name LIKE ?)")
		args = append(args, "%"+q.PermissionSet+"%", "%"+q.PermissionSet+"%")
	}
	if q.SinceDays > 0 {
		where = append(where, "timestamp >= ?")
		args = append(args, time.Now().UTC().AddDate(0, 0, -q.SinceDays))
	}

	query := "SELECT record FROM operations"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	var out []*models.OperationRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rec models.OperationRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal operation record: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// MarkRolledBack conditionally flags an operation as rolled back. The
// WHERE clause guards the transition so only one writer can win.
func (s *SQLStore) MarkRolledBack(operationID, rollbackID string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE operations SET rolled_back = TRUE, rollback_operation_id = ?
		WHERE operation_id = ? AND rolled_back = FALSE`,
		rollbackID, operationID)
	if err != nil {
		return false, fmt.Errorf("mark rolled back: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	// Keep the serialized record in sync with the flag columns.
	var data string
	if err := tx.QueryRow(
		`SELECT record FROM operations WHERE operation_id = ?`, operationID).Scan(&data); err != nil {
		return false, err
	}
	var rec models.OperationRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return false, fmt.Errorf("unmarshal operation record: %w", err)
	}
	rec.RolledBack = true
	rec.RollbackOperationID = rollbackID
	updated, err := json.Marshal(&rec)
	if err != nil {
		return false, fmt.Errorf("marshal operation record: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE operations SET record = ? WHERE operation_id = ?`,
		string(updated), operationID); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// RecordRollback appends a rollback summary.
func (s *SQLStore) RecordRollback(summary *models.RollbackSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal rollback summary: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO rollbacks (rollback_id, operation_id, timestamp, record)
		VALUES (?, ?, ?, ?)`,
		summary.RollbackID, summary.OperationID, summary.Timestamp.UTC(), string(data))
	if err != nil {
		return fmt.Errorf("insert rollback: %w", err)
	}
	return nil
}

// GetRollback returns a rollback summary by id, or ErrNotFound.
func (s *SQLStore) GetRollback(rollbackID string) (*models.RollbackSummary, error) {
	var data string
	err := s.db.QueryRow(
		`SELECT record FROM rollbacks WHERE rollback_id = ?`, rollbackID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rollback %s: %w", rollbackID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query rollback: %w", err)
	}
	var rb models.RollbackSummary
	if err := json.Unmarshal([]byte(data), &rb); err != nil {
		return nil, fmt.Errorf("unmarshal rollback summary: %w", err)
	}
	return &rb, nil
}

// ListRollbacks returns rollback summaries, newest first.
func (s *SQLStore) ListRollbacks(limit int) ([]*models.RollbackSummary, error) {
	query := `SELECT record FROM rollbacks ORDER BY timestamp DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rollbacks: %w", err)
	}
	defer rows.Close()

	var out []*models.RollbackSummary
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rb models.RollbackSummary
		if err := json.Unmarshal([]byte(data), &rb); err != nil {
			return nil, fmt.Errorf("unmarshal rollback summary: %w", err)
		}
		out = append(out, &rb)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
