package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sandbox status values. PauseSandbox records StatusStopped rather than
// StatusPaused (the constant exists for completeness; see engine docs).
const (
	StatusCreated = "created"
	StatusRunning = "running"
	StatusStopped = "stopped"
	StatusPaused  = "paused"
	StatusError   = "error"
)

// ErrSandboxNotFound is returned by single-row writes that matched no row.
var ErrSandboxNotFound = errors.New("sandbox not found")

// Sandbox is the persisted sandbox record. The engine is the only writer.
type Sandbox struct {
	ID            string
	UserID        string
	Name          string
	Slug          string
	Description   sql.NullString
	RepoName      string
	Status        string
	TierID        string
	FlavorID      string
	AddonIDs      []string
	ContainerID   sql.NullString
	ContainerName sql.NullString
	OpencodeURL   sql.NullString
	VNCURL        sql.NullString
	CodeServerURL sql.NullString
	ErrorMessage  sql.NullString
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SandboxFilter narrows ListSandboxes. Both fields combine with AND
// semantics when set.
type SandboxFilter struct {
	UserID   string
	Statuses []string
}

// SandboxUpdate is a partial update; nil fields are left untouched.
type SandboxUpdate struct {
	Status        *string
	ContainerID   *string
	ContainerName *string
	OpencodeURL   *string
	VNCURL        *string
	CodeServerURL *string
	ErrorMessage  *string
}

const sandboxColumns = `id, user_id, name, slug, description, repo_name, status,
	resource_tier_id, flavor_id, addon_ids, container_id, container_name,
	opencode_url, vnc_url, code_server_url, error_message, created_at, updated_at`

// InsertSandbox inserts a new sandbox record.
func (s *Store) InsertSandbox(ctx context.Context, sb *Sandbox) error {
	sb.CreatedAt = time.Now()
	sb.UpdatedAt = sb.CreatedAt

	addons, err := json.Marshal(sb.AddonIDs)
	if err != nil {
		return fmt.Errorf("failed to encode addon ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sandboxes (`+sandboxColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sb.ID, sb.UserID, sb.Name, sb.Slug, sb.Description, sb.RepoName, sb.Status,
		sb.TierID, sb.FlavorID, string(addons), sb.ContainerID, sb.ContainerName,
		sb.OpencodeURL, sb.VNCURL, sb.CodeServerURL, sb.ErrorMessage, sb.CreatedAt, sb.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert sandbox: %w", err)
	}

	return nil
}

// GetSandbox retrieves a sandbox by ID. The second return value reports
// whether the record exists; callers must handle the absent case explicitly.
func (s *Store) GetSandbox(ctx context.Context, id string) (*Sandbox, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sandboxColumns+` FROM sandboxes WHERE id = ?`, id)

	sb, err := scanSandbox(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get sandbox: %w", err)
	}
	return sb, true, nil
}

// ListSandboxes returns sandboxes matching the filter, newest first.
func (s *Store) ListSandboxes(ctx context.Context, filter SandboxFilter) ([]*Sandbox, error) {
	query := `SELECT ` + sandboxColumns + ` FROM sandboxes`
	var conds []string
	var args []interface{}

	if filter.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if len(filter.Statuses) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(filter.Statuses)), ", ")
		conds = append(conds, "status IN ("+placeholders+")")
		for _, st := range filter.Statuses {
			args = append(args, st)
		}
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sandboxes: %w", err)
	}
	defer rows.Close()

	var sandboxes []*Sandbox
	for rows.Next() {
		sb, err := scanSandbox(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sandbox: %w", err)
		}
		sandboxes = append(sandboxes, sb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sandboxes: %w", err)
	}

	return sandboxes, nil
}

// ListSandboxesByUser returns all sandboxes owned by userID.
func (s *Store) ListSandboxesByUser(ctx context.Context, userID string) ([]*Sandbox, error) {
	return s.ListSandboxes(ctx, SandboxFilter{UserID: userID})
}

// UpdateSandboxFields applies a partial update to a sandbox record.
func (s *Store) UpdateSandboxFields(ctx context.Context, id string, update SandboxUpdate) error {
	var sets []string
	var args []interface{}

	add := func(col string, val *string) {
		if val != nil {
			sets = append(sets, col+" = ?")
			args = append(args, *val)
		}
	}
	add("status", update.Status)
	add("container_id", update.ContainerID)
	add("container_name", update.ContainerName)
	add("opencode_url", update.OpencodeURL)
	add("vnc_url", update.VNCURL)
	add("code_server_url", update.CodeServerURL)
	add("error_message", update.ErrorMessage)

	if len(sets) == 0 {
		return nil
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now(), id)

	result, err := s.db.ExecContext(ctx,
		"UPDATE sandboxes SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update sandbox: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrSandboxNotFound, id)
	}

	return nil
}

// UpdateSandboxStatus updates a sandbox's status. An empty errorMessage
// clears any previous error.
func (s *Store) UpdateSandboxStatus(ctx context.Context, id, status, errorMessage string) error {
	var errNull sql.NullString
	if errorMessage != "" {
		errNull = sql.NullString{String: errorMessage, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE sandboxes
		SET status = ?, error_message = ?, updated_at = ?
		WHERE id = ?
	`, status, errNull, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update sandbox status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrSandboxNotFound, id)
	}

	return nil
}

// DeleteSandbox removes a sandbox record, reporting whether a row existed.
func (s *Store) DeleteSandbox(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sandboxes WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("failed to delete sandbox: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}

	return rows > 0, nil
}

// SlugExists reports whether the slug is already taken within the user's scope.
func (s *Store) SlugExists(ctx context.Context, userID, slug string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sandboxes WHERE user_id = ? AND slug = ?",
		userID, slug,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return count > 0, nil
}

// scanSandbox reads one sandbox row via the given Scan function.
func scanSandbox(scan func(...interface{}) error) (*Sandbox, error) {
	sb := &Sandbox{}
	var addons string
	err := scan(
		&sb.ID, &sb.UserID, &sb.Name, &sb.Slug, &sb.Description, &sb.RepoName,
		&sb.Status, &sb.TierID, &sb.FlavorID, &addons, &sb.ContainerID,
		&sb.ContainerName, &sb.OpencodeURL, &sb.VNCURL, &sb.CodeServerURL,
		&sb.ErrorMessage, &sb.CreatedAt, &sb.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(addons), &sb.AddonIDs); err != nil {
		return nil, fmt.Errorf("failed to decode addon ids: %w", err)
	}
	return sb, nil
}
