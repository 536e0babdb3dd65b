package influxdb

import (
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	MeasurementFunction   = "qlc_function"
	MeasurementConnection = "qlc_connection"
	MeasurementBridge     = "qlc_bridge"
)

// WriteFunctionStatus records a function status change.
//
// The running field is 1 while the function runs and 0 otherwise, so
// dashboards can plot activity directly.
//
// Parameters:
//   - id: Controller function id
//   - label: Display label at the time of the change
//   - status: Status string pushed by the controller
func (c *Client) WriteFunctionStatus(id, label, status string) {
	running := 0
	if status == "Running" {
		running = 1
	}
	c.writePoint(MeasurementFunction,
		map[string]string{"function_id": id, "label": label},
		map[string]any{"status": status, "running": running},
	)
}

// WriteConnectionState records a controller connection state transition.
func (c *Client) WriteConnectionState(endpoint, state string) {
	connected := 0
	if state == "connected" {
		connected = 1
	}
	c.writePoint(MeasurementConnection,
		map[string]string{"endpoint": endpoint},
		map[string]any{"state": state, "connected": connected},
	)
}

// WriteBridgeStats records a snapshot of bridge counters.
//
// Example:
//
//	client.WriteBridgeStats(map[string]any{"frames_rx": 1200, "pending": 0})
func (c *Client) WriteBridgeStats(fields map[string]any) {
	if len(fields) == 0 {
		return
	}
	c.writePoint(MeasurementBridge, nil, fields)
}

// WritePoint writes a custom point with full control over tags and fields.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.writePoint(measurement, tags, fields)
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, c.now()))
}
