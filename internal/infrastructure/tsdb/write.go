package tsdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteStatusTransition records a server lifecycle status change.
//
// Each adapter status transition (stopped, starting, running, stopping,
// crashed) is written as a point so dashboards can chart uptime and
// crash frequency per server.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Example:
//
//	client.WriteStatusTransition("srv-a1b2c3d4", "running")
func (c *Client) WriteStatusTransition(serverID string, status string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"server_status",
		map[string]string{
			"server_id": serverID,
			"status":    status,
		},
		map[string]interface{}{
			// Tag-only points are dropped by InfluxDB; the value field
			// makes each transition countable.
			"value": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteResourceSample records a process resource usage sample for a server.
//
// Samples are produced by the Sampler for every running server with a
// known PID.
//
// Parameters:
//   - serverID: Server identifier (e.g., "srv-a1b2c3d4")
//   - cpuPercent: CPU usage as a percentage of one core
//   - rssBytes: Resident set size in bytes
func (c *Client) WriteResourceSample(serverID string, cpuPercent float64, rssBytes uint64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"server_resources",
		map[string]string{
			"server_id": serverID,
		},
		map[string]interface{}{
			"cpu_percent": cpuPercent,
			"rss_bytes":   int64(rssBytes), // #nosec G115 -- RSS fits in int64
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteConsoleActivity records how many console lines a server emitted
// during a sampling window. Useful for spotting log storms.
func (c *Client) WriteConsoleActivity(serverID string, lineCount int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"server_console",
		map[string]string{
			"server_id": serverID,
		},
		map[string]interface{}{
			"lines": lineCount,
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
//	client.WritePoint("panel_stats",
//	    map[string]string{"host": "panel-01"},
//	    map[string]interface{}{"active_servers": 4, "ws_clients": 12})
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
