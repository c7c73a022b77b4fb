package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by DALI Center.
const (
	MeasurementEnergy       = "dali_energy"
	MeasurementOnlineStatus = "dali_online"
)

// WriteEnergyReport records an energy reading pushed by a gateway for one
// device.
//
// Parameters:
//   - gatewaySerial: Serial of the reporting gateway
//   - deviceKey: Item key of the device (serial:device:id)
//   - energy: Reported energy value as sent by the gateway
//   - at: Time the report was received
func (c *Client) WriteEnergyReport(gatewaySerial, deviceKey string, energy float64, at time.Time) {
	c.writePoint(MeasurementEnergy,
		map[string]string{
			"gateway": gatewaySerial,
			"device":  deviceKey,
		},
		map[string]any{"energy": energy},
		at,
	)
}

// WriteOnlineStatus records an availability change for one item.
func (c *Client) WriteOnlineStatus(gatewaySerial, itemKey string, online bool, at time.Time) {
	c.writePoint(MeasurementOnlineStatus,
		map[string]string{
			"gateway": gatewaySerial,
			"item":    itemKey,
		},
		map[string]any{"online": online},
		at,
	)
}

// WritePoint writes a custom point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any) {
	c.writePoint(measurement, tags, fields, time.Now())
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() || c.writer == nil {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
