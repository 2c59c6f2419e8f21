package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteShadePosition records the position of a shade across its capability
// dimensions. Nil dimensions (not present on the shade's capability) are
// omitted from the point.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - shadeID: Gateway-assigned shade identifier
//   - primary, secondary, tilt: Position percentages (0-100), nil if absent
//
// Example:
//
//	pos := 40
//	client.WriteShadePosition("shade-42", &pos, nil, nil)
func (c *Client) WriteShadePosition(shadeID string, primary, secondary, tilt *int) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{}
	if primary != nil {
		fields["primary"] = *primary
	}
	if secondary != nil {
		fields["secondary"] = *secondary
	}
	if tilt != nil {
		fields["tilt"] = *tilt
	}
	if len(fields) == 0 {
		return
	}

	point := write.NewPoint(
		"shade_position",
		map[string]string{
			"shade_id": shadeID,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteBatteryLevel records a shade's reported battery level.
//
// The raw gateway code is stored as the field so it can be graphed, with
// the human-readable level as a tag for filtering.
//
// Parameters:
//   - shadeID: Gateway-assigned shade identifier
//   - code: Raw battery code from the gateway (0-3)
//   - level: Decoded level name (e.g., "low", "medium", "high", "plugged")
func (c *Client) WriteBatteryLevel(shadeID string, code int, level string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"shade_battery",
		map[string]string{
			"shade_id": shadeID,
			"level":    level,
		},
		map[string]interface{}{
			"code": code,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSyncStats records the outcome of one synchronization cycle.
//
// Parameters:
//   - cycle: Cycle kind ("long", "short", "rediscovery")
//   - shades: Number of shades observed
//   - scenes: Number of scenes observed
//   - changed: Number of devices whose state changed this cycle
//   - durationMs: Wall time of the cycle in milliseconds
func (c *Client) WriteSyncStats(cycle string, shades, scenes, changed int, durationMs float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"sync_cycle",
		map[string]string{
			"cycle": cycle,
		},
		map[string]interface{}{
			"shades":      shades,
			"scenes":      scenes,
			"changed":     changed,
			"duration_ms": durationMs,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteCommandLatency records the round-trip latency of a gateway command.
//
// Parameters:
//   - command: Command name (e.g., "set_position", "activate")
//   - targetKind: "shade" or "scene"
//   - latencyMs: Time from command receipt to gateway acknowledgement
//   - ok: Whether the command succeeded
func (c *Client) WriteCommandLatency(command, targetKind string, latencyMs float64, ok bool) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"command_latency",
		map[string]string{
			"command":     command,
			"target_kind": targetKind,
		},
		map[string]interface{}{
			"latency_ms": latencyMs,
			"ok":         ok,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("stream_stats",
//	    map[string]string{"gateway": "192.168.1.100"},
//	    map[string]interface{}{"events": 1523, "dropped": 2})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
