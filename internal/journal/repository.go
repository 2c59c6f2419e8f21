// Package journal provides access to the command_journal table, which
// records every shade and scene command the bridge forwards to the
// gateway together with its outcome.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Outcome values for journal entries.
const (
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
)

// Target kinds for journal entries.
const (
	TargetShade = "shade"
	TargetScene = "scene"
)

// Entry represents one forwarded command and its result.
type Entry struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Command    string         `json:"command"`
	TargetKind string         `json:"target_kind"`
	TargetID   string         `json:"target_id"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Source     string         `json:"source,omitempty"`
	Outcome    string         `json:"outcome"`
	Error      string         `json:"error,omitempty"`
	LatencyMs  int64          `json:"latency_ms"`
}

// Filter controls which journal entries to return.
type Filter struct {
	Command    string // optional: filter by command name
	TargetKind string // optional: "shade" or "scene"
	TargetID   string // optional: filter by specific target ID
	Outcome    string // optional: success, failed, rejected
	Limit      int    // default 50, max 200
	Offset     int    // pagination offset
}

// ListResult contains the paginated journal results.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository defines the interface for command journal operations.
type Repository interface {
	Record(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores journal entries in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new command journal repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts a new journal entry. The ID and Timestamp are generated
// if empty.
func (r *SQLiteRepository) Record(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = "cmd-" + uuid.NewString()[:8]
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	var paramsJSON *string
	if entry.Parameters != nil {
		b, err := json.Marshal(entry.Parameters)
		if err != nil {
			return fmt.Errorf("marshalling journal parameters: %w", err)
		}
		s := string(b)
		paramsJSON = &s
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO command_journal (id, timestamp, command, target_kind, target_id, parameters, source, outcome, error, latency_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Timestamp.Format(time.RFC3339),
		entry.Command, entry.TargetKind, entry.TargetID,
		paramsJSON, entry.Source, entry.Outcome,
		nullableString(entry.Error), entry.LatencyMs,
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}

	return nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns journal entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) { //nolint:gocognit,gocyclo // dynamic query builder: WHERE clause assembly from filter fields
	// Clamp limit.
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size for journal queries
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	// Build WHERE clause dynamically.
	var conditions []string
	var args []any

	if filter.Command != "" {
		conditions = append(conditions, "command = ?")
		args = append(args, filter.Command)
	}
	if filter.TargetKind != "" {
		conditions = append(conditions, "target_kind = ?")
		args = append(args, filter.TargetKind)
	}
	if filter.TargetID != "" {
		conditions = append(conditions, "target_id = ?")
		args = append(args, filter.TargetID)
	}
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, filter.Outcome)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	// Get total count.
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM command_journal %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting journal entries: %w", err)
	}

	// Get paginated results.
	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		"SELECT id, timestamp, command, target_kind, target_id, parameters, source, error, outcome, latency_ms FROM command_journal %s ORDER BY timestamp DESC LIMIT ? OFFSET ?",
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var paramsJSON, errText sql.NullString
		var timestamp string

		if err := rows.Scan(&entry.ID, &timestamp, &entry.Command,
			&entry.TargetKind, &entry.TargetID, &paramsJSON,
			&entry.Source, &errText, &entry.Outcome, &entry.LatencyMs); err != nil {
			return nil, fmt.Errorf("scanning journal entry: %w", err)
		}

		if paramsJSON.Valid && paramsJSON.String != "" {
			var params map[string]any
			if json.Unmarshal([]byte(paramsJSON.String), &params) == nil {
				entry.Parameters = params
			}
		}
		if errText.Valid {
			entry.Error = errText.String
		}

		t, err := time.Parse(time.RFC3339, timestamp)
		if err != nil {
			return nil, fmt.Errorf("parsing journal timestamp %q: %w", timestamp, err)
		}
		entry.Timestamp = t

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal entries: %w", err)
	}

	if entries == nil {
		entries = []Entry{}
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
