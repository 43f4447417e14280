package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// AuditEntry records one engine operation outcome. Orphaned-container
// reports land here too so operators can reconcile them later.
type AuditEntry struct {
	ID           int64
	Timestamp    time.Time
	TraceID      string
	Operation    string
	SandboxID    sql.NullString
	Result       string
	DetailJSON   sql.NullString
	ErrorMessage sql.NullString
}

// AuditDetail is a helper for structured audit payloads
type AuditDetail map[string]interface{}

// WriteAudit logs an audit entry
func (s *Store) WriteAudit(ctx context.Context, traceID, operation, sandboxID, result string, detail AuditDetail, errorMsg string) error {
	var detailJSON sql.NullString
	if detail != nil {
		jsonBytes, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("failed to marshal audit detail: %w", err)
		}
		detailJSON = sql.NullString{String: string(jsonBytes), Valid: true}
	}

	var sandboxNull sql.NullString
	if sandboxID != "" {
		sandboxNull = sql.NullString{String: sandboxID, Valid: true}
	}

	var errorNull sql.NullString
	if errorMsg != "" {
		errorNull = sql.NullString{String: errorMsg, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (ts, trace_id, operation, sandbox_id, result, detail_json, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, time.Now(), traceID, operation, sandboxNull, result, detailJSON, errorNull)
	if err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}

	return nil
}

// GetAuditLog retrieves recent audit entries
func (s *Store) GetAuditLog(ctx context.Context, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, trace_id, operation, sandbox_id, result, detail_json, error_message
		FROM audit_log
		ORDER BY ts DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID, &entry.Timestamp, &entry.TraceID, &entry.Operation,
			&entry.SandboxID, &entry.Result, &entry.DetailJSON, &entry.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit log: %w", err)
	}

	return entries, nil
}
