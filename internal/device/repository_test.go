package device

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates an in-memory SQLite database with the shade schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// Create tables matching the migration schema
	schema := `
		CREATE TABLE shades (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			room_id TEXT,
			capability INTEGER NOT NULL DEFAULT 0,
			position_primary INTEGER,
			position_secondary INTEGER,
			position_tilt INTEGER,
			battery TEXT NOT NULL DEFAULT 'none',
			motion INTEGER NOT NULL DEFAULT 0,
			last_seen TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		) STRICT;
		CREATE TABLE scenes (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			room_id TEXT,
			active INTEGER NOT NULL DEFAULT 0,
			last_seen TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
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

func TestSQLiteRepository_UpsertShade(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	t.Run("inserts new shade", func(t *testing.T) {
		shade := &ShadeState{
			ID:         "shade-001",
			Name:       "Living Room East",
			RoomID:     "room-1",
			Capability: 7,
			Primary:    intPtr(30),
			Secondary:  intPtr(10),
			Battery:    BatteryHigh,
			Motion:     false,
			LastSeen:   time.Now().UTC(),
		}

		if err := repo.UpsertShade(ctx, shade); err != nil {
			t.Fatalf("UpsertShade() error = %v", err)
		}

		got, err := repo.GetShade(ctx, "shade-001")
		if err != nil {
			t.Fatalf("GetShade() error = %v", err)
		}
		if got.Name != "Living Room East" {
			t.Errorf("Name = %q, want %q", got.Name, "Living Room East")
		}
		if got.RoomID != "room-1" {
			t.Errorf("RoomID = %q, want %q", got.RoomID, "room-1")
		}
		if got.Primary == nil || *got.Primary != 30 {
			t.Errorf("Primary = %v, want 30", got.Primary)
		}
		if got.Secondary == nil || *got.Secondary != 10 {
			t.Errorf("Secondary = %v, want 10", got.Secondary)
		}
		if got.Tilt != nil {
			t.Errorf("Tilt = %v, want nil", *got.Tilt)
		}
		if got.Battery != BatteryHigh {
			t.Errorf("Battery = %q, want %q", got.Battery, BatteryHigh)
		}
	})

	t.Run("replaces existing shade", func(t *testing.T) {
		shade := &ShadeState{
			ID:         "shade-001",
			Name:       "Living Room East",
			Capability: 7,
			Primary:    intPtr(85),
			Battery:    BatteryLow,
			Motion:     true,
			LastSeen:   time.Now().UTC(),
		}

		if err := repo.UpsertShade(ctx, shade); err != nil {
			t.Fatalf("UpsertShade() error = %v", err)
		}

		got, err := repo.GetShade(ctx, "shade-001")
		if err != nil {
			t.Fatalf("GetShade() error = %v", err)
		}
		if *got.Primary != 85 {
			t.Errorf("Primary = %d, want 85", *got.Primary)
		}
		if got.Secondary != nil {
			t.Errorf("Secondary = %v, want nil after replacement", *got.Secondary)
		}
		if !got.Motion {
			t.Error("Motion = false, want true")
		}
		if got.RoomID != "" {
			t.Errorf("RoomID = %q, want empty after replacement", got.RoomID)
		}
	})

	t.Run("nil positions round-trip as nil", func(t *testing.T) {
		shade := &ShadeState{
			ID:         "shade-tilt-only",
			Name:       "Venetian",
			Capability: 5,
			Tilt:       intPtr(25),
			Battery:    BatteryWired,
			LastSeen:   time.Now().UTC(),
		}

		if err := repo.UpsertShade(ctx, shade); err != nil {
			t.Fatalf("UpsertShade() error = %v", err)
		}

		got, err := repo.GetShade(ctx, "shade-tilt-only")
		if err != nil {
			t.Fatalf("GetShade() error = %v", err)
		}
		if got.Primary != nil || got.Secondary != nil {
			t.Error("lift positions should be nil for tilt-only shade")
		}
		if got.Tilt == nil || *got.Tilt != 25 {
			t.Errorf("Tilt = %v, want 25", got.Tilt)
		}
	})
}

func TestSQLiteRepository_ListShades(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	shades := []*ShadeState{
		{ID: "s1", Name: "Charlie", Battery: BatteryNone, LastSeen: time.Now().UTC()},
		{ID: "s2", Name: "Alpha", Battery: BatteryNone, LastSeen: time.Now().UTC()},
		{ID: "s3", Name: "Bravo", Battery: BatteryNone, LastSeen: time.Now().UTC()},
	}
	for _, s := range shades {
		if err := repo.UpsertShade(ctx, s); err != nil {
			t.Fatalf("UpsertShade(%s) error = %v", s.ID, err)
		}
	}

	got, err := repo.ListShades(ctx)
	if err != nil {
		t.Fatalf("ListShades() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(ListShades()) = %d, want 3", len(got))
	}

	// Ordered by name.
	wantOrder := []string{"Alpha", "Bravo", "Charlie"}
	for i, want := range wantOrder {
		if got[i].Name != want {
			t.Errorf("ListShades()[%d].Name = %q, want %q", i, got[i].Name, want)
		}
	}
}

func TestSQLiteRepository_DeleteShade(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	shade := &ShadeState{ID: "shade-del", Name: "Doomed", Battery: BatteryNone, LastSeen: time.Now().UTC()}
	if err := repo.UpsertShade(ctx, shade); err != nil {
		t.Fatalf("UpsertShade() error = %v", err)
	}

	if err := repo.DeleteShade(ctx, "shade-del"); err != nil {
		t.Fatalf("DeleteShade() error = %v", err)
	}

	if _, err := repo.GetShade(ctx, "shade-del"); !errors.Is(err, ErrShadeNotFound) {
		t.Errorf("GetShade() error = %v, want ErrShadeNotFound", err)
	}

	if err := repo.DeleteShade(ctx, "shade-del"); !errors.Is(err, ErrShadeNotFound) {
		t.Errorf("second DeleteShade() error = %v, want ErrShadeNotFound", err)
	}
}

func TestSQLiteRepository_Scenes(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	scene := &SceneState{
		ID:       "scene-001",
		Name:     "Good Morning",
		RoomID:   "room-2",
		Active:   false,
		LastSeen: time.Now().UTC(),
	}

	t.Run("upsert and get", func(t *testing.T) {
		if err := repo.UpsertScene(ctx, scene); err != nil {
			t.Fatalf("UpsertScene() error = %v", err)
		}

		got, err := repo.GetScene(ctx, "scene-001")
		if err != nil {
			t.Fatalf("GetScene() error = %v", err)
		}
		if got.Name != "Good Morning" {
			t.Errorf("Name = %q, want %q", got.Name, "Good Morning")
		}
		if got.Active {
			t.Error("Active = true, want false")
		}
	})

	t.Run("activation round-trips", func(t *testing.T) {
		scene.Active = true
		if err := repo.UpsertScene(ctx, scene); err != nil {
			t.Fatalf("UpsertScene() error = %v", err)
		}

		got, err := repo.GetScene(ctx, "scene-001")
		if err != nil {
			t.Fatalf("GetScene() error = %v", err)
		}
		if !got.Active {
			t.Error("Active = false, want true")
		}
	})

	t.Run("list", func(t *testing.T) {
		second := &SceneState{ID: "scene-002", Name: "All Down", LastSeen: time.Now().UTC()}
		if err := repo.UpsertScene(ctx, second); err != nil {
			t.Fatalf("UpsertScene() error = %v", err)
		}

		got, err := repo.ListScenes(ctx)
		if err != nil {
			t.Fatalf("ListScenes() error = %v", err)
		}
		if len(got) != 2 {
			t.Errorf("len(ListScenes()) = %d, want 2", len(got))
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := repo.DeleteScene(ctx, "scene-001"); err != nil {
			t.Fatalf("DeleteScene() error = %v", err)
		}
		if _, err := repo.GetScene(ctx, "scene-001"); !errors.Is(err, ErrSceneNotFound) {
			t.Errorf("GetScene() error = %v, want ErrSceneNotFound", err)
		}
		if err := repo.DeleteScene(ctx, "nonexistent"); !errors.Is(err, ErrSceneNotFound) {
			t.Errorf("DeleteScene() error = %v, want ErrSceneNotFound", err)
		}
	})
}

func TestRegistry_WithSQLiteRepository(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	registry := NewRegistry(repo)
	ctx := context.Background()

	// Persist through the registry, then warm-start a second registry
	// from the same database and verify state survived.
	shade := &ShadeState{
		ID:         "shade-persist",
		Name:       "Office",
		Capability: 2,
		Primary:    intPtr(60),
		Tilt:       intPtr(40),
		Battery:    BatteryMedium,
		LastSeen:   time.Now().UTC(),
	}
	if _, err := registry.UpsertShade(ctx, shade); err != nil {
		t.Fatalf("UpsertShade() error = %v", err)
	}

	reloaded := NewRegistry(repo)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	got, err := reloaded.GetShade("shade-persist")
	if err != nil {
		t.Fatalf("GetShade() after reload error = %v", err)
	}
	if *got.Primary != 60 || *got.Tilt != 40 {
		t.Errorf("positions after reload = (%v, %v), want (60, 40)", got.Primary, got.Tilt)
	}
	if got.Battery != BatteryMedium {
		t.Errorf("Battery after reload = %q, want %q", got.Battery, BatteryMedium)
	}
}
