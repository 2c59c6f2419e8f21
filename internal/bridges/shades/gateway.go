package shades

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-shades/internal/device"
)

// Gateway generations.
const (
	// GenerationPush identifies gateways with an event stream and a
	// primary/secondary role protocol.
	GenerationPush = "push"

	// GenerationPoll identifies legacy poll-only gateways.
	GenerationPoll = "poll"
)

// maxResponseSize bounds gateway response bodies (snapshots of large
// installations stay well under this).
const maxResponseSize = 4 * 1024 * 1024

// Positions holds model-scale (0–100, 0 = open) position values.
// Nil fields are absent: not carried by the wire, or not requested by a
// command.
type Positions struct {
	Primary   *int
	Secondary *int
	Tilt      *int
}

// IsZero reports whether no dimension is set.
func (p Positions) IsZero() bool {
	return p.Primary == nil && p.Secondary == nil && p.Tilt == nil
}

// ShadeRecord is one shade as parsed from a gateway snapshot, already
// converted to the model scale with its name decoded.
type ShadeRecord struct {
	ID         string
	Name       string
	RoomID     string
	Capability int
	Positions  Positions
	Battery    device.BatteryLevel
}

// SceneRecord is one scene as parsed from a gateway snapshot.
type SceneRecord struct {
	ID     string
	Name   string
	RoomID string

	// Active is non-nil only when the wire expresses activation. The
	// push generation cannot; the poll generation reports every scene
	// explicitly inactive, which clears optimistic activation.
	Active *bool
}

// Snapshot is the parsed full state fetched from a gateway.
type Snapshot struct {
	Shades []ShadeRecord
	Scenes []SceneRecord
}

// ProbeResult classifies a candidate gateway during elections.
type ProbeResult int

// Probe outcomes.
const (
	ProbeUnreachable ProbeResult = iota
	ProbeSecondary
	ProbePrimary
)

// String returns the role name for logs.
func (p ProbeResult) String() string {
	switch p {
	case ProbePrimary:
		return "primary"
	case ProbeSecondary:
		return "secondary"
	default:
		return "unreachable"
	}
}

// GatewayClient abstracts one gateway API generation. Addresses are
// passed per call: the primary designation can change between calls and
// is owned by the Locator.
type GatewayClient interface {
	// Generation returns the API dialect this client speaks.
	Generation() string

	// Probe issues the election status request against one candidate.
	Probe(ctx context.Context, addr string) ProbeResult

	// FetchSnapshot retrieves the full shade and scene state.
	// Returns ErrNotPrimary when the gateway has lost the primary role.
	FetchSnapshot(ctx context.Context, addr string) (*Snapshot, error)

	// SetPositions moves a shade to the given model-scale targets.
	SetPositions(ctx context.Context, addr, shadeID string, pos Positions) error

	// StopShade halts a moving shade.
	StopShade(ctx context.Context, addr, shadeID string) error

	// JogShade nudges a shade to physically identify it.
	JogShade(ctx context.Context, addr, shadeID string) error

	// ActivateScene triggers a gateway-stored scene.
	ActivateScene(ctx context.Context, addr, sceneID string) error
}

// NewGatewayClient creates the client for the configured generation.
func NewGatewayClient(generation string, requestTimeout, probeTimeout time.Duration, logger Logger) (GatewayClient, error) {
	switch generation {
	case GenerationPush:
		return newPushClient(requestTimeout, probeTimeout, logger), nil
	case GenerationPoll:
		return newPollClient(requestTimeout, probeTimeout, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownGeneration, generation)
	}
}

// decodeName decodes a base64 wire name, falling back to the raw value
// when it is not valid base64 (some firmware writes plain names).
func decodeName(raw string) string {
	if raw == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return raw
	}
	return string(decoded)
}

// baseURL normalises a candidate address into a dialable URL base.
func baseURL(addr string) string {
	if strings.Contains(addr, "://") {
		return strings.TrimSuffix(addr, "/")
	}
	return "http://" + addr
}

// --- push generation ---

// pushClient speaks the push generation's REST dialect: float positions
// 0..1 on the model's sense, names nested under ptName, a /home document
// whose absence or not-primary error body drives elections.
type pushClient struct {
	http         *http.Client
	probeTimeout time.Duration
	logger       Logger
}

func newPushClient(requestTimeout, probeTimeout time.Duration, logger Logger) *pushClient {
	return &pushClient{
		http:         &http.Client{Timeout: requestTimeout},
		probeTimeout: probeTimeout,
		logger:       logger,
	}
}

func (c *pushClient) Generation() string { return GenerationPush }

// pushPositions is the push generation's wire position object.
type pushPositions struct {
	Primary   *float64 `json:"primary,omitempty"`
	Secondary *float64 `json:"secondary,omitempty"`
	Tilt      *float64 `json:"tilt,omitempty"`
}

// toModel converts wire floats 0..1 to model percents.
// Percent = trunc(pos*100 + 0.5).
func (p pushPositions) toModel() Positions {
	conv := func(f *float64) *int {
		if f == nil {
			return nil
		}
		pct := int(*f*100 + 0.5)
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		return &pct
	}
	return Positions{
		Primary:   conv(p.Primary),
		Secondary: conv(p.Secondary),
		Tilt:      conv(p.Tilt),
	}
}

// fromModel converts model percents to wire floats 0..1.
func pushFromModel(pos Positions) pushPositions {
	conv := func(pct *int) *float64 {
		if pct == nil {
			return nil
		}
		f := float64(*pct) / 100
		return &f
	}
	return pushPositions{
		Primary:   conv(pos.Primary),
		Secondary: conv(pos.Secondary),
		Tilt:      conv(pos.Tilt),
	}
}

// pushShade is the push generation's shade wire record.
type pushShade struct {
	ID            int           `json:"id"`
	PtName        string        `json:"ptName"`
	Name          string        `json:"name"`
	RoomID        int           `json:"roomId"`
	Capabilities  int           `json:"capabilities"`
	BatteryStatus int           `json:"batteryStatus"`
	Positions     pushPositions `json:"positions"`
}

func (s pushShade) toRecord() ShadeRecord {
	name := s.PtName
	if name == "" {
		name = s.Name
	}
	rec := ShadeRecord{
		ID:         strconv.Itoa(s.ID),
		Name:       decodeName(name),
		Capability: s.Capabilities,
		Positions:  s.Positions.toModel(),
		Battery:    device.BatteryFromCode(s.BatteryStatus),
	}
	if s.RoomID != 0 {
		rec.RoomID = strconv.Itoa(s.RoomID)
	}
	return rec
}

// pushScene is the push generation's scene wire record.
type pushScene struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	PtName string `json:"ptName"`
	RoomID int    `json:"roomId"`
}

func (s pushScene) toRecord() SceneRecord {
	name := s.Name
	if name == "" {
		name = s.PtName
	}
	rec := SceneRecord{
		ID:   strconv.Itoa(s.ID),
		Name: decodeName(name),
	}
	if s.RoomID != 0 {
		rec.RoomID = strconv.Itoa(s.RoomID)
	}
	return rec
}

// notPrimaryBody reports whether a response body carries the push
// generation's not-primary error marker.
func notPrimaryBody(body []byte) bool {
	var probe struct {
		ErrMsg string `json:"errMsg"`
	}
	if json.Unmarshal(body, &probe) != nil {
		return false
	}
	return strings.Contains(strings.ToLower(probe.ErrMsg), "primary")
}

// Probe issues GET /home against one candidate. A 2xx with a parseable
// document marks primary; a not-primary error body or HTTP 423 marks
// secondary; anything else unreachable.
func (c *pushClient) Probe(ctx context.Context, addr string) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL(addr)+"/home", nil)
	if err != nil {
		return ProbeUnreachable
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return ProbeUnreachable
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return ProbeUnreachable
	}

	if resp.StatusCode == http.StatusLocked || notPrimaryBody(body) {
		return ProbeSecondary
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 && json.Valid(body) {
		return ProbePrimary
	}
	return ProbeUnreachable
}

// get performs a GET returning the body, mapping the not-primary marker
// to ErrNotPrimary and anything else non-2xx to ErrGatewayUnreachable.
func (c *pushClient) get(ctx context.Context, addr, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL(addr)+path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGatewayUnreachable, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGatewayUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGatewayUnreachable, err)
	}
	if resp.StatusCode == http.StatusLocked || notPrimaryBody(body) {
		return nil, ErrNotPrimary
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s returned %d", ErrGatewayUnreachable, path, resp.StatusCode)
	}
	return body, nil
}

// put performs a PUT with an optional JSON body, with the same error
// mapping as get.
func (c *pushClient) put(ctx context.Context, addr, path string, body any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, baseURL(addr)+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrGatewayUnreachable, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrGatewayUnreachable, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if resp.StatusCode == http.StatusLocked || notPrimaryBody(respBody) {
		return ErrNotPrimary
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s returned %d", ErrGatewayUnreachable, path, resp.StatusCode)
	}
	return nil
}

// FetchSnapshot validates the primary role via /home, then retrieves the
// shade and scene lists.
func (c *pushClient) FetchSnapshot(ctx context.Context, addr string) (*Snapshot, error) {
	home, err := c.get(ctx, addr, "/home")
	if err != nil {
		return nil, err
	}
	if !json.Valid(home) {
		return nil, fmt.Errorf("%w: home document is not JSON", ErrMalformedResponse)
	}

	shadesBody, err := c.get(ctx, addr, "/home/shades")
	if err != nil {
		return nil, err
	}
	var wireShades []pushShade
	if err := json.Unmarshal(shadesBody, &wireShades); err != nil {
		return nil, fmt.Errorf("%w: shades list: %w", ErrMalformedResponse, err)
	}

	scenesBody, err := c.get(ctx, addr, "/home/scenes")
	if err != nil {
		return nil, err
	}
	var wireScenes []pushScene
	if err := json.Unmarshal(scenesBody, &wireScenes); err != nil {
		return nil, fmt.Errorf("%w: scenes list: %w", ErrMalformedResponse, err)
	}

	snap := &Snapshot{
		Shades: make([]ShadeRecord, 0, len(wireShades)),
		Scenes: make([]SceneRecord, 0, len(wireScenes)),
	}
	for _, s := range wireShades {
		snap.Shades = append(snap.Shades, s.toRecord())
	}
	for _, s := range wireScenes {
		snap.Scenes = append(snap.Scenes, s.toRecord())
	}
	return snap, nil
}

// SetPositions issues PUT /home/shades/positions?ids={id}.
func (c *pushClient) SetPositions(ctx context.Context, addr, shadeID string, pos Positions) error {
	if pos.IsZero() {
		return fmt.Errorf("%w: no position targets", ErrMalformedResponse)
	}
	body := struct {
		Positions pushPositions `json:"positions"`
	}{Positions: pushFromModel(pos)}
	return c.put(ctx, addr, "/home/shades/positions?ids="+shadeID, body)
}

// StopShade issues PUT /home/shades/stop?ids={id}.
func (c *pushClient) StopShade(ctx context.Context, addr, shadeID string) error {
	return c.put(ctx, addr, "/home/shades/stop?ids="+shadeID, nil)
}

// JogShade issues PUT /home/shades/{id}/motion with a jog body.
func (c *pushClient) JogShade(ctx context.Context, addr, shadeID string) error {
	body := struct {
		Motion string `json:"motion"`
	}{Motion: "jog"}
	return c.put(ctx, addr, "/home/shades/"+shadeID+"/motion", body)
}

// ActivateScene issues PUT /home/scenes/{id}/activate.
func (c *pushClient) ActivateScene(ctx context.Context, addr, sceneID string) error {
	return c.put(ctx, addr, "/home/scenes/"+sceneID+"/activate", nil)
}

// --- poll generation ---

// pollWireMax is the poll generation's full-travel wire value. The wire
// sense is inverted relative to the model: wire 0 = model 100 (closed).
const pollWireMax = 65535

// Position kind codes on the poll generation's wire.
const (
	pollKindPrimary   = 1
	pollKindSecondary = 2
	pollKindTilt      = 3
)

// pollClient speaks the legacy poll-only dialect: inverted integer
// positions 0–65535 in posKind slots, no event stream, no primary role
// (the first reachable candidate is used).
type pollClient struct {
	http         *http.Client
	probeTimeout time.Duration
	logger       Logger
}

func newPollClient(requestTimeout, probeTimeout time.Duration, logger Logger) *pollClient {
	return &pollClient{
		http:         &http.Client{Timeout: requestTimeout},
		probeTimeout: probeTimeout,
		logger:       logger,
	}
}

func (c *pollClient) Generation() string { return GenerationPoll }

// pollToPercent converts an inverted 0–65535 wire value to a model percent.
func pollToPercent(raw int) int {
	if raw < 0 {
		raw = 0
	}
	if raw > pollWireMax {
		raw = pollWireMax
	}
	return int((float64(pollWireMax-raw)*100)/pollWireMax + 0.5)
}

// percentToPoll converts a model percent to the inverted wire scale.
func percentToPoll(pct int) int {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pollWireMax - int(float64(pct)*pollWireMax/100+0.5)
}

// pollPositions is the poll generation's slot-based wire position object.
type pollPositions struct {
	PosKind1  *int `json:"posKind1,omitempty"`
	Position1 *int `json:"position1,omitempty"`
	PosKind2  *int `json:"posKind2,omitempty"`
	Position2 *int `json:"position2,omitempty"`
}

// toModel maps posKind slots onto model dimensions.
func (p pollPositions) toModel() Positions {
	var pos Positions
	apply := func(kind, raw *int) {
		if kind == nil || raw == nil {
			return
		}
		pct := pollToPercent(*raw)
		switch *kind {
		case pollKindPrimary:
			pos.Primary = &pct
		case pollKindSecondary:
			pos.Secondary = &pct
		case pollKindTilt:
			pos.Tilt = &pct
		}
	}
	apply(p.PosKind1, p.Position1)
	apply(p.PosKind2, p.Position2)
	return pos
}

// pollFromModel packs model dimensions into the wire's two posKind slots
// in primary, secondary, tilt order. The wire cannot carry a third
// dimension in one request.
func pollFromModel(pos Positions) pollPositions {
	type dim struct {
		kind int
		pct  *int
	}
	dims := []dim{
		{pollKindPrimary, pos.Primary},
		{pollKindSecondary, pos.Secondary},
		{pollKindTilt, pos.Tilt},
	}

	var wire pollPositions
	slot := 0
	for _, d := range dims {
		if d.pct == nil {
			continue
		}
		kind := d.kind
		raw := percentToPoll(*d.pct)
		switch slot {
		case 0:
			wire.PosKind1, wire.Position1 = &kind, &raw
		case 1:
			wire.PosKind2, wire.Position2 = &kind, &raw
		default:
			return wire
		}
		slot++
	}
	return wire
}

// pollShade is the poll generation's shade wire record.
type pollShade struct {
	ID            int           `json:"id"`
	Name          string        `json:"name"`
	RoomID        int           `json:"roomId"`
	Capabilities  int           `json:"capabilities"`
	BatteryStatus int           `json:"batteryStatus"`
	Positions     pollPositions `json:"positions"`
}

func (s pollShade) toRecord() ShadeRecord {
	rec := ShadeRecord{
		ID:         strconv.Itoa(s.ID),
		Name:       decodeName(s.Name),
		Capability: s.Capabilities,
		Positions:  s.Positions.toModel(),
		Battery:    device.BatteryFromCode(s.BatteryStatus),
	}
	if s.RoomID != 0 {
		rec.RoomID = strconv.Itoa(s.RoomID)
	}
	return rec
}

// pollScene is the poll generation's scene wire record.
type pollScene struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	RoomID int    `json:"roomId"`
}

func (s pollScene) toRecord() SceneRecord {
	// The poll wire has no activation notion; every snapshot reports the
	// scene explicitly inactive, clearing optimistic activation.
	inactive := false
	rec := SceneRecord{
		ID:     strconv.Itoa(s.ID),
		Name:   decodeName(s.Name),
		Active: &inactive,
	}
	if s.RoomID != 0 {
		rec.RoomID = strconv.Itoa(s.RoomID)
	}
	return rec
}

// Probe issues GET /api/userdata/ against one candidate. The poll
// generation has no primary notion: any reachable candidate is usable.
func (c *pollClient) Probe(ctx context.Context, addr string) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL(addr)+"/api/userdata/", nil)
	if err != nil {
		return ProbeUnreachable
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return ProbeUnreachable
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize)) //nolint:errcheck // drain for connection reuse

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return ProbePrimary
	}
	return ProbeUnreachable
}

// getJSON performs a GET and decodes the response body.
func (c *pollClient) getJSON(ctx context.Context, addr, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL(addr)+path, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrGatewayUnreachable, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrGatewayUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrGatewayUnreachable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s returned %d", ErrGatewayUnreachable, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrMalformedResponse, path, err)
		}
	}
	return nil
}

// FetchSnapshot retrieves the shade and scene lists.
func (c *pollClient) FetchSnapshot(ctx context.Context, addr string) (*Snapshot, error) {
	var shadesDoc struct {
		ShadeData []pollShade `json:"shadeData"`
	}
	if err := c.getJSON(ctx, addr, "/api/shades/", &shadesDoc); err != nil {
		return nil, err
	}

	var scenesDoc struct {
		SceneData []pollScene `json:"sceneData"`
	}
	if err := c.getJSON(ctx, addr, "/api/scenes/", &scenesDoc); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Shades: make([]ShadeRecord, 0, len(shadesDoc.ShadeData)),
		Scenes: make([]SceneRecord, 0, len(scenesDoc.SceneData)),
	}
	for _, s := range shadesDoc.ShadeData {
		snap.Shades = append(snap.Shades, s.toRecord())
	}
	for _, s := range scenesDoc.SceneData {
		snap.Scenes = append(snap.Scenes, s.toRecord())
	}
	return snap, nil
}

// putShade issues PUT /api/shades/{id} with a shade update body.
func (c *pollClient) putShade(ctx context.Context, addr, shadeID string, shade map[string]any) error {
	id, err := strconv.Atoi(shadeID)
	if err != nil {
		return fmt.Errorf("%w: shade id %q", ErrMalformedResponse, shadeID)
	}
	shade["id"] = id

	data, err := json.Marshal(map[string]any{"shade": shade})
	if err != nil {
		return fmt.Errorf("encoding request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, baseURL(addr)+"/api/shades/"+shadeID, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrGatewayUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrGatewayUnreachable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseSize)) //nolint:errcheck // drain for connection reuse

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: shade update returned %d", ErrGatewayUnreachable, resp.StatusCode)
	}
	return nil
}

// SetPositions converts targets to the inverted wire scale and issues
// the shade update.
func (c *pollClient) SetPositions(ctx context.Context, addr, shadeID string, pos Positions) error {
	if pos.IsZero() {
		return fmt.Errorf("%w: no position targets", ErrMalformedResponse)
	}
	return c.putShade(ctx, addr, shadeID, map[string]any{
		"positions": pollFromModel(pos),
	})
}

// StopShade issues the shade update with a stop motion.
func (c *pollClient) StopShade(ctx context.Context, addr, shadeID string) error {
	return c.putShade(ctx, addr, shadeID, map[string]any{"motion": "stop"})
}

// JogShade nudges the shade via the battery-refresh side effect.
func (c *pollClient) JogShade(ctx context.Context, addr, shadeID string) error {
	return c.getJSON(ctx, addr, "/api/shades/"+shadeID+"?updateBatteryLevel=true", nil)
}

// ActivateScene issues GET /api/scenes?sceneId={id}.
func (c *pollClient) ActivateScene(ctx context.Context, addr, sceneID string) error {
	return c.getJSON(ctx, addr, "/api/scenes?sceneId="+sceneID, nil)
}
