package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository defines the interface for shade and scene persistence.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetShade retrieves a shade by its unique identifier.
	// Returns ErrShadeNotFound if the shade does not exist.
	GetShade(ctx context.Context, id string) (*ShadeState, error)

	// ListShades retrieves all shades.
	ListShades(ctx context.Context) ([]ShadeState, error)

	// GetScene retrieves a scene by its unique identifier.
	// Returns ErrSceneNotFound if the scene does not exist.
	GetScene(ctx context.Context, id string) (*SceneState, error)

	// ListScenes retrieves all scenes.
	ListScenes(ctx context.Context) ([]SceneState, error)

	// UpsertShade inserts or replaces a shade.
	UpsertShade(ctx context.Context, shade *ShadeState) error

	// UpsertScene inserts or replaces a scene.
	UpsertScene(ctx context.Context, scene *SceneState) error

	// DeleteShade removes a shade by ID.
	// Returns ErrShadeNotFound if the shade does not exist.
	DeleteShade(ctx context.Context, id string) error

	// DeleteScene removes a scene by ID.
	// Returns ErrSceneNotFound if the scene does not exist.
	DeleteScene(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// GetShade retrieves a shade by its unique identifier.
func (r *SQLiteRepository) GetShade(ctx context.Context, id string) (*ShadeState, error) {
	query := `
		SELECT id, name, room_id, capability, position_primary,
			position_secondary, position_tilt, battery, motion, last_seen
		FROM shades
		WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	shade, err := scanShade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrShadeNotFound
		}
		return nil, fmt.Errorf("querying shade by id: %w", err)
	}
	return shade, nil
}

// ListShades retrieves all shades.
func (r *SQLiteRepository) ListShades(ctx context.Context) ([]ShadeState, error) {
	query := `
		SELECT id, name, room_id, capability, position_primary,
			position_secondary, position_tilt, battery, motion, last_seen
		FROM shades
		ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying shades: %w", err)
	}
	defer rows.Close()

	var shades []ShadeState
	for rows.Next() {
		shade, err := scanShade(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning shade: %w", err)
		}
		shades = append(shades, *shade)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating shades: %w", err)
	}

	return shades, nil
}

// GetScene retrieves a scene by its unique identifier.
func (r *SQLiteRepository) GetScene(ctx context.Context, id string) (*SceneState, error) {
	query := `
		SELECT id, name, room_id, active, last_seen
		FROM scenes
		WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	scene, err := scanScene(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSceneNotFound
		}
		return nil, fmt.Errorf("querying scene by id: %w", err)
	}
	return scene, nil
}

// ListScenes retrieves all scenes.
func (r *SQLiteRepository) ListScenes(ctx context.Context) ([]SceneState, error) {
	query := `
		SELECT id, name, room_id, active, last_seen
		FROM scenes
		ORDER BY name`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying scenes: %w", err)
	}
	defer rows.Close()

	var scenes []SceneState
	for rows.Next() {
		scene, err := scanScene(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning scene: %w", err)
		}
		scenes = append(scenes, *scene)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scenes: %w", err)
	}

	return scenes, nil
}

// UpsertShade inserts or replaces a shade. Sync passes call this for
// every shade in every snapshot, so it is a single statement with no
// existence pre-check. The created_at column survives replacement.
func (r *SQLiteRepository) UpsertShade(ctx context.Context, shade *ShadeState) error {
	now := time.Now().UTC().Format(time.RFC3339)

	query := `
		INSERT INTO shades (
			id, name, room_id, capability, position_primary,
			position_secondary, position_tilt, battery, motion, last_seen,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			room_id = excluded.room_id,
			capability = excluded.capability,
			position_primary = excluded.position_primary,
			position_secondary = excluded.position_secondary,
			position_tilt = excluded.position_tilt,
			battery = excluded.battery,
			motion = excluded.motion,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		shade.ID,
		shade.Name,
		nullableStr(shade.RoomID),
		shade.Capability,
		nullableInt(shade.Primary),
		nullableInt(shade.Secondary),
		nullableInt(shade.Tilt),
		string(shade.Battery),
		boolToInt(shade.Motion),
		shade.LastSeen.UTC().Format(time.RFC3339),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("upserting shade: %w", err)
	}

	return nil
}

// UpsertScene inserts or replaces a scene.
func (r *SQLiteRepository) UpsertScene(ctx context.Context, scene *SceneState) error {
	now := time.Now().UTC().Format(time.RFC3339)

	query := `
		INSERT INTO scenes (
			id, name, room_id, active, last_seen, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			room_id = excluded.room_id,
			active = excluded.active,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		scene.ID,
		scene.Name,
		nullableStr(scene.RoomID),
		boolToInt(scene.Active),
		scene.LastSeen.UTC().Format(time.RFC3339),
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("upserting scene: %w", err)
	}

	return nil
}

// DeleteShade removes a shade by ID.
func (r *SQLiteRepository) DeleteShade(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM shades WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting shade: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrShadeNotFound
	}

	return nil
}

// DeleteScene removes a scene by ID.
func (r *SQLiteRepository) DeleteScene(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM scenes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting scene: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrSceneNotFound
	}

	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanShade scans a row or rows result into a ShadeState.
func scanShade(scanner rowScanner) (*ShadeState, error) {
	var s ShadeState
	var roomID sql.NullString
	var primary, secondary, tilt sql.NullInt64
	var battery string
	var motion int
	var lastSeen string

	err := scanner.Scan(
		&s.ID,
		&s.Name,
		&roomID,
		&s.Capability,
		&primary,
		&secondary,
		&tilt,
		&battery,
		&motion,
		&lastSeen,
	)
	if err != nil {
		return nil, err
	}

	s.Battery = BatteryLevel(battery)
	s.Motion = motion != 0

	if roomID.Valid {
		s.RoomID = roomID.String
	}
	if primary.Valid {
		v := int(primary.Int64)
		s.Primary = &v
	}
	if secondary.Valid {
		v := int(secondary.Int64)
		s.Secondary = &v
	}
	if tilt.Valid {
		v := int(tilt.Int64)
		s.Tilt = &v
	}

	s.LastSeen, err = time.Parse(time.RFC3339, lastSeen)
	if err != nil {
		return nil, fmt.Errorf("parsing last_seen: %w", err)
	}

	return &s, nil
}

// scanScene scans a row or rows result into a SceneState.
func scanScene(scanner rowScanner) (*SceneState, error) {
	var s SceneState
	var roomID sql.NullString
	var active int
	var lastSeen string

	err := scanner.Scan(
		&s.ID,
		&s.Name,
		&roomID,
		&active,
		&lastSeen,
	)
	if err != nil {
		return nil, err
	}

	s.Active = active != 0
	if roomID.Valid {
		s.RoomID = roomID.String
	}

	s.LastSeen, err = time.Parse(time.RFC3339, lastSeen)
	if err != nil {
		return nil, fmt.Errorf("parsing last_seen: %w", err)
	}

	return &s, nil
}

// nullableStr returns a sql.NullString for optional strings.
func nullableStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullableInt returns a sql.NullInt64 for optional int pointers.
func nullableInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

// boolToInt converts a boolean to 0/1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
