// Package influxdb records DALI gateway telemetry in InfluxDB.
//
// It wraps influxdb-client-go v2. The runtime bridge forwards energy reports
// and online status changes for selected items here; writes are batched
// according to influxdb.batch_size and influxdb.flush_interval.
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteEnergyReport("GW0012", "GW0012:device:7", 12.5, time.Now())
//
// Write errors are delivered asynchronously through SetOnError.
package influxdb
