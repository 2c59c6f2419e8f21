package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the authoritative in-memory store of shade and scene state.
// It wraps a Repository for write-through persistence so state survives
// restarts, but after Load the in-memory maps are the source of truth:
// reads never fall back to the repository, so a removed id stays removed.
//
// Mutating methods strip position fields the shade's capability does not
// expose and report whether the stored state actually changed, which is
// what drives state publishes and telemetry writes upstream.
//
// All public methods are thread-safe, though by convention only the sync
// scheduler's goroutine mutates the registry.
type Registry struct {
	repo    Repository
	shades  map[string]*ShadeState
	scenes  map[string]*SceneState
	cacheMu sync.RWMutex // Protects shades and scenes
	logger  Logger
}

// NewRegistry creates a new shade registry.
// The repository is used for persistence; the registry adds caching.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		shades: make(map[string]*ShadeState),
		scenes: make(map[string]*SceneState),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Load reads all shades and scenes from the repository into memory.
// This should be called once on application startup, before the sync
// scheduler starts.
func (r *Registry) Load(ctx context.Context) error {
	shades, err := r.repo.ListShades(ctx)
	if err != nil {
		return fmt.Errorf("loading shades: %w", err)
	}
	scenes, err := r.repo.ListScenes(ctx)
	if err != nil {
		return fmt.Errorf("loading scenes: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.shades = make(map[string]*ShadeState, len(shades))
	for i := range shades {
		s := shades[i]
		r.shades[s.ID] = s.DeepCopy()
	}
	r.scenes = make(map[string]*SceneState, len(scenes))
	for i := range scenes {
		s := scenes[i]
		r.scenes[s.ID] = s.DeepCopy()
	}

	r.logger.Info("device state loaded", "shades", len(shades), "scenes", len(scenes))
	return nil
}

// GetShade retrieves a shade by ID.
// Returns ErrShadeNotFound if the shade does not exist.
// The returned shade is a deep copy; callers can safely modify it.
func (r *Registry) GetShade(id string) (*ShadeState, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	cached, ok := r.shades[id]
	if !ok {
		return nil, ErrShadeNotFound
	}
	return cached.DeepCopy(), nil
}

// ListShades retrieves all shades.
// The returned shades are deep copies; callers can safely modify them.
func (r *Registry) ListShades() []ShadeState {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	shades := make([]ShadeState, 0, len(r.shades))
	for _, s := range r.shades {
		shades = append(shades, *s.DeepCopy())
	}
	return shades
}

// GetScene retrieves a scene by ID.
// Returns ErrSceneNotFound if the scene does not exist.
// The returned scene is a deep copy; callers can safely modify it.
func (r *Registry) GetScene(id string) (*SceneState, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	cached, ok := r.scenes[id]
	if !ok {
		return nil, ErrSceneNotFound
	}
	return cached.DeepCopy(), nil
}

// ListScenes retrieves all scenes.
// The returned scenes are deep copies; callers can safely modify them.
func (r *Registry) ListScenes() []SceneState {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	scenes := make([]SceneState, 0, len(r.scenes))
	for _, s := range r.scenes {
		scenes = append(scenes, *s.DeepCopy())
	}
	return scenes
}

// UpsertShade validates, persists and caches a shade state.
// Position fields the shade's capability does not expose are cleared
// before the state is stored, so a capability-invalid field can never
// reach the cache or the database.
//
// Returns true when the stored state differs from what was previously
// cached (LastSeen excluded), which signals a state change worth
// publishing.
func (r *Registry) UpsertShade(ctx context.Context, shade *ShadeState) (bool, error) {
	if shade == nil {
		return false, ErrInvalidShade
	}

	stored := shade.DeepCopy()
	stripInvalidFields(stored)
	if stored.LastSeen.IsZero() {
		stored.LastSeen = time.Now().UTC()
	}

	if err := ValidateShade(stored); err != nil {
		return false, err
	}

	r.cacheMu.RLock()
	existing, exists := r.shades[stored.ID]
	changed := !exists || !existing.Equal(stored)
	r.cacheMu.RUnlock()

	if err := r.repo.UpsertShade(ctx, stored); err != nil {
		return false, err
	}

	r.cacheMu.Lock()
	r.shades[stored.ID] = stored
	r.cacheMu.Unlock()

	r.logger.Debug("shade upserted", "id", stored.ID, "changed", changed)
	return changed, nil
}

// UpsertScene validates, persists and caches a scene state.
// Returns true when the stored state differs from what was previously
// cached (LastSeen excluded).
func (r *Registry) UpsertScene(ctx context.Context, scene *SceneState) (bool, error) {
	if scene == nil {
		return false, ErrInvalidScene
	}

	stored := scene.DeepCopy()
	if stored.LastSeen.IsZero() {
		stored.LastSeen = time.Now().UTC()
	}

	if err := ValidateScene(stored); err != nil {
		return false, err
	}

	r.cacheMu.RLock()
	existing, exists := r.scenes[stored.ID]
	changed := !exists || !existing.Equal(stored)
	r.cacheMu.RUnlock()

	if err := r.repo.UpsertScene(ctx, stored); err != nil {
		return false, err
	}

	r.cacheMu.Lock()
	r.scenes[stored.ID] = stored
	r.cacheMu.Unlock()

	r.logger.Debug("scene upserted", "id", stored.ID, "changed", changed)
	return changed, nil
}

// RemoveShade deletes a shade from the store.
// Returns ErrShadeNotFound if the shade does not exist.
func (r *Registry) RemoveShade(ctx context.Context, id string) error {
	if err := r.repo.DeleteShade(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.shades, id)
	r.cacheMu.Unlock()

	r.logger.Info("shade removed", "id", id)
	return nil
}

// RemoveScene deletes a scene from the store.
// Returns ErrSceneNotFound if the scene does not exist.
func (r *Registry) RemoveScene(ctx context.Context, id string) error {
	if err := r.repo.DeleteScene(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.scenes, id)
	r.cacheMu.Unlock()

	r.logger.Info("scene removed", "id", id)
	return nil
}

// SetShadeMotion updates the motion flag of a shade.
// This is optimised for frequent updates from the event stream.
// Returns true when the flag actually changed.
func (r *Registry) SetShadeMotion(ctx context.Context, id string, motion bool) (bool, error) {
	r.cacheMu.RLock()
	cached, ok := r.shades[id]
	if !ok {
		r.cacheMu.RUnlock()
		return false, ErrShadeNotFound
	}
	updated := cached.DeepCopy()
	r.cacheMu.RUnlock()

	if updated.Motion == motion {
		return false, nil
	}
	updated.Motion = motion
	updated.LastSeen = time.Now().UTC()

	if err := r.repo.UpsertShade(ctx, updated); err != nil {
		return false, err
	}

	r.cacheMu.Lock()
	r.shades[id] = updated
	r.cacheMu.Unlock()

	r.logger.Debug("shade motion updated", "id", id, "motion", motion)
	return true, nil
}

// SetSceneActive updates the active flag of a scene.
// Returns true when the flag actually changed.
func (r *Registry) SetSceneActive(ctx context.Context, id string, active bool) (bool, error) {
	r.cacheMu.RLock()
	cached, ok := r.scenes[id]
	if !ok {
		r.cacheMu.RUnlock()
		return false, ErrSceneNotFound
	}
	updated := cached.DeepCopy()
	r.cacheMu.RUnlock()

	if updated.Active == active {
		return false, nil
	}
	updated.Active = active
	updated.LastSeen = time.Now().UTC()

	if err := r.repo.UpsertScene(ctx, updated); err != nil {
		return false, err
	}

	r.cacheMu.Lock()
	r.scenes[id] = updated
	r.cacheMu.Unlock()

	r.logger.Debug("scene active updated", "id", id, "active", active)
	return true, nil
}

// ShadeCount returns the number of cached shades.
func (r *Registry) ShadeCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.shades)
}

// SceneCount returns the number of cached scenes.
func (r *Registry) SceneCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.scenes)
}

// Stats returns registry statistics for monitoring.
type Stats struct {
	TotalShades  int
	TotalScenes  int
	ActiveScenes int
	ByCapability map[int]int
	ByBattery    map[BatteryLevel]int
}

// GetStats returns current registry statistics.
func (r *Registry) GetStats() Stats {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	stats := Stats{
		TotalShades:  len(r.shades),
		TotalScenes:  len(r.scenes),
		ByCapability: make(map[int]int),
		ByBattery:    make(map[BatteryLevel]int),
	}

	for _, s := range r.shades {
		stats.ByCapability[s.Capability]++
		stats.ByBattery[s.Battery]++
	}
	for _, s := range r.scenes {
		if s.Active {
			stats.ActiveScenes++
		}
	}

	return stats
}

// stripInvalidFields clears position fields the shade's capability does
// not expose. The capability table is the single source of truth for
// which dimensions exist on a shade.
func stripInvalidFields(s *ShadeState) {
	capability := Classify(s.Capability)
	if !capability.HasPrimary {
		s.Primary = nil
	}
	if !capability.HasSecondary {
		s.Secondary = nil
	}
	if !capability.HasTilt {
		s.Tilt = nil
	}
}
