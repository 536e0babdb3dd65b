// Package influxdb writes bridge metrics to InfluxDB v2.
//
// It wraps influxdb-client-go v2 and satisfies the bridge's MetricsWriter:
// function status changes land in qlc_function, controller connection
// transitions in qlc_connection and periodic counter snapshots in
// qlc_bridge. Every point carries the default tags passed to Connect.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, map[string]string{"bridge": cfg.Bridge.ID})
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without metrics
//	}
//	defer client.Close()
//
//	client.WriteFunctionStatus("3", "Chaser: Intro", "Running")
//
// Writes are non-blocking and batched per batch_size and flush_interval.
// Batch failures arrive asynchronously through SetOnError.
package influxdb
