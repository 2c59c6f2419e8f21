package journal

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the journal schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// Create table matching the migration schema
	schema := `
		CREATE TABLE command_journal (
			id TEXT PRIMARY KEY,
			timestamp TEXT NOT NULL,
			command TEXT NOT NULL,
			target_kind TEXT NOT NULL,
			target_id TEXT NOT NULL,
			parameters TEXT,
			source TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL,
			error TEXT,
			latency_ms INTEGER NOT NULL DEFAULT 0
		) STRICT;
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestSQLiteRepository_Record(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	t.Run("generates id and timestamp", func(t *testing.T) {
		entry := &Entry{
			Command:    "set_position",
			TargetKind: TargetShade,
			TargetID:   "shade-001",
			Parameters: map[string]any{"primary": 40},
			Source:     "core",
			Outcome:    OutcomeSuccess,
			LatencyMs:  152,
		}

		if err := repo.Record(ctx, entry); err != nil {
			t.Fatalf("Record() error = %v", err)
		}

		if !strings.HasPrefix(entry.ID, "cmd-") {
			t.Errorf("ID = %q, want cmd- prefix", entry.ID)
		}
		if entry.Timestamp.IsZero() {
			t.Error("Timestamp not generated")
		}
	})

	t.Run("preserves provided id", func(t *testing.T) {
		entry := &Entry{
			ID:         "cmd-fixed01",
			Timestamp:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
			Command:    "activate",
			TargetKind: TargetScene,
			TargetID:   "scene-003",
			Outcome:    OutcomeSuccess,
		}

		if err := repo.Record(ctx, entry); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
		if entry.ID != "cmd-fixed01" {
			t.Errorf("ID = %q, want cmd-fixed01", entry.ID)
		}
	})

	t.Run("records failure with error text", func(t *testing.T) {
		entry := &Entry{
			Command:    "jog",
			TargetKind: TargetShade,
			TargetID:   "shade-002",
			Outcome:    OutcomeFailed,
			Error:      "gateway unreachable",
		}

		if err := repo.Record(ctx, entry); err != nil {
			t.Fatalf("Record() error = %v", err)
		}

		result, err := repo.List(ctx, Filter{Outcome: OutcomeFailed})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(result.Entries) != 1 {
			t.Fatalf("len(Entries) = %d, want 1", len(result.Entries))
		}
		if result.Entries[0].Error != "gateway unreachable" {
			t.Errorf("Error = %q, want %q", result.Entries[0].Error, "gateway unreachable")
		}
	})
}

func TestSQLiteRepository_List(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	base := time.Date(2026, 8, 10, 9, 0, 0, 0, time.UTC)
	seed := []Entry{
		{ID: "cmd-1", Timestamp: base, Command: "set_position", TargetKind: TargetShade, TargetID: "shade-001", Parameters: map[string]any{"primary": 25}, Outcome: OutcomeSuccess},
		{ID: "cmd-2", Timestamp: base.Add(1 * time.Minute), Command: "stop", TargetKind: TargetShade, TargetID: "shade-001", Outcome: OutcomeSuccess},
		{ID: "cmd-3", Timestamp: base.Add(2 * time.Minute), Command: "activate", TargetKind: TargetScene, TargetID: "scene-001", Outcome: OutcomeSuccess},
		{ID: "cmd-4", Timestamp: base.Add(3 * time.Minute), Command: "tilt", TargetKind: TargetShade, TargetID: "shade-002", Outcome: OutcomeRejected, Error: "capability 0 has no tilt"},
	}
	for i := range seed {
		e := seed[i]
		if err := repo.Record(ctx, &e); err != nil {
			t.Fatalf("Record(%s) error = %v", seed[i].ID, err)
		}
	}

	t.Run("returns all most recent first", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 4 {
			t.Errorf("Total = %d, want 4", result.Total)
		}
		if len(result.Entries) != 4 {
			t.Fatalf("len(Entries) = %d, want 4", len(result.Entries))
		}
		if result.Entries[0].ID != "cmd-4" {
			t.Errorf("Entries[0].ID = %q, want cmd-4 (most recent)", result.Entries[0].ID)
		}
	})

	t.Run("filters by target", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{TargetKind: TargetShade, TargetID: "shade-001"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 2 {
			t.Errorf("Total = %d, want 2", result.Total)
		}
		for _, e := range result.Entries {
			if e.TargetID != "shade-001" {
				t.Errorf("TargetID = %q, want shade-001", e.TargetID)
			}
		}
	})

	t.Run("filters by command", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Command: "activate"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 1 {
			t.Fatalf("Total = %d, want 1", result.Total)
		}
		if result.Entries[0].TargetKind != TargetScene {
			t.Errorf("TargetKind = %q, want scene", result.Entries[0].TargetKind)
		}
	})

	t.Run("filters by outcome", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Outcome: OutcomeRejected})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 1 {
			t.Fatalf("Total = %d, want 1", result.Total)
		}
		if result.Entries[0].ID != "cmd-4" {
			t.Errorf("Entries[0].ID = %q, want cmd-4", result.Entries[0].ID)
		}
	})

	t.Run("round-trips parameters", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Command: "set_position"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(result.Entries) != 1 {
			t.Fatalf("len(Entries) = %d, want 1", len(result.Entries))
		}
		params := result.Entries[0].Parameters
		if params == nil {
			t.Fatal("Parameters = nil, want map")
		}
		// JSON numbers decode to float64.
		if got, ok := params["primary"].(float64); !ok || got != 25 {
			t.Errorf("Parameters[primary] = %v, want 25", params["primary"])
		}
	})

	t.Run("paginates", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Limit: 2, Offset: 2})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Total != 4 {
			t.Errorf("Total = %d, want 4", result.Total)
		}
		if len(result.Entries) != 2 {
			t.Fatalf("len(Entries) = %d, want 2", len(result.Entries))
		}
		if result.Entries[0].ID != "cmd-2" {
			t.Errorf("Entries[0].ID = %q, want cmd-2", result.Entries[0].ID)
		}
	})

	t.Run("clamps limit", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Limit: 1000})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Limit != 200 {
			t.Errorf("Limit = %d, want 200", result.Limit)
		}
	})

	t.Run("empty result is non-nil", func(t *testing.T) {
		result, err := repo.List(ctx, Filter{Command: "nonexistent"})
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if result.Entries == nil {
			t.Error("Entries = nil, want empty slice")
		}
		if result.Total != 0 {
			t.Errorf("Total = %d, want 0", result.Total)
		}
	})
}
