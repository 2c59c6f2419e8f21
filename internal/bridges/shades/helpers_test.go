package shades

import (
	"context"
	"sync"

	"github.com/nerrad567/gray-logic-shades/internal/device"
)

// memRepo is an in-memory device.Repository for tests.
type memRepo struct {
	mu     sync.Mutex
	shades map[string]*device.ShadeState
	scenes map[string]*device.SceneState
}

func newMemRepo() *memRepo {
	return &memRepo{
		shades: make(map[string]*device.ShadeState),
		scenes: make(map[string]*device.SceneState),
	}
}

func (m *memRepo) GetShade(_ context.Context, id string) (*device.ShadeState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.shades[id]; ok {
		return s.DeepCopy(), nil
	}
	return nil, device.ErrShadeNotFound
}

func (m *memRepo) ListShades(_ context.Context) ([]device.ShadeState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]device.ShadeState, 0, len(m.shades))
	for _, s := range m.shades {
		out = append(out, *s.DeepCopy())
	}
	return out, nil
}

func (m *memRepo) GetScene(_ context.Context, id string) (*device.SceneState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.scenes[id]; ok {
		return s.DeepCopy(), nil
	}
	return nil, device.ErrSceneNotFound
}

func (m *memRepo) ListScenes(_ context.Context) ([]device.SceneState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]device.SceneState, 0, len(m.scenes))
	for _, s := range m.scenes {
		out = append(out, *s.DeepCopy())
	}
	return out, nil
}

func (m *memRepo) UpsertShade(_ context.Context, shade *device.ShadeState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shades[shade.ID] = shade.DeepCopy()
	return nil
}

func (m *memRepo) UpsertScene(_ context.Context, scene *device.SceneState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scenes[scene.ID] = scene.DeepCopy()
	return nil
}

func (m *memRepo) DeleteShade(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shades[id]; !ok {
		return device.ErrShadeNotFound
	}
	delete(m.shades, id)
	return nil
}

func (m *memRepo) DeleteScene(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scenes[id]; !ok {
		return device.ErrSceneNotFound
	}
	delete(m.scenes, id)
	return nil
}

// newTestRegistry creates a registry backed by an in-memory repository.
func newTestRegistry() *device.Registry {
	return device.NewRegistry(newMemRepo())
}

// fakeGateway is a scriptable GatewayClient for tests.
type fakeGateway struct {
	mu sync.Mutex

	generation string

	// roles maps candidate addresses to probe outcomes.
	roles map[string]ProbeResult

	// snapshot and snapshotErr script FetchSnapshot.
	snapshot    *Snapshot
	snapshotErr error

	// commandErr scripts the command methods.
	commandErr error

	// Call records.
	probed     []string
	fetched    []string
	positions  []Positions
	stopped    []string
	jogged     []string
	activated  []string
	commandIDs []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		generation: GenerationPush,
		roles:      make(map[string]ProbeResult),
	}
}

func (f *fakeGateway) Generation() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generation
}

func (f *fakeGateway) Probe(_ context.Context, addr string) ProbeResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probed = append(f.probed, addr)
	return f.roles[addr]
}

func (f *fakeGateway) FetchSnapshot(_ context.Context, addr string) (*Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, addr)
	if f.snapshotErr != nil {
		return nil, f.snapshotErr
	}
	if f.snapshot == nil {
		return &Snapshot{}, nil
	}
	return f.snapshot, nil
}

func (f *fakeGateway) SetPositions(_ context.Context, _, shadeID string, pos Positions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions = append(f.positions, pos)
	f.commandIDs = append(f.commandIDs, shadeID)
	return f.commandErr
}

func (f *fakeGateway) StopShade(_ context.Context, _, shadeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, shadeID)
	return f.commandErr
}

func (f *fakeGateway) JogShade(_ context.Context, _, shadeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jogged = append(f.jogged, shadeID)
	return f.commandErr
}

func (f *fakeGateway) ActivateScene(_ context.Context, _, sceneID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.activated = append(f.activated, sceneID)
	return f.commandErr
}

// mapResolver is a fixed-map Resolver for tests.
type mapResolver struct {
	addrs map[string]string
	err   error
}

func (r *mapResolver) Resolve(_ context.Context, host string) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	if ip, ok := r.addrs[host]; ok {
		return ip, nil
	}
	return "", context.DeadlineExceeded
}

// publishRecord is one captured MQTT publish.
type publishRecord struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// mockMQTT captures publishes and subscriptions.
type mockMQTT struct {
	mu         sync.Mutex
	published  []publishRecord
	subscribed map[string]func(topic string, payload []byte) error
	connected  bool
	publishErr error
}

func newMockMQTT() *mockMQTT {
	return &mockMQTT{
		subscribed: make(map[string]func(topic string, payload []byte) error),
		connected:  true,
	}
}

func (m *mockMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, publishRecord{topic, payload, qos, retained})
	return m.publishErr
}

func (m *mockMQTT) Subscribe(topic string, _ byte, handler func(topic string, payload []byte) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed[topic] = handler
	return nil
}

func (m *mockMQTT) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// onTopic returns captured publishes for one topic.
func (m *mockMQTT) onTopic(topic string) []publishRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []publishRecord
	for _, p := range m.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}

// intPtr is a test convenience for optional position values.
func intPtr(v int) *int { return &v }
