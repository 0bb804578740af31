// Package influxdb is the history sink of the monitor.
//
// Connect pings the server once and returns a Client whose WritePoint
// queues points into batches sized by batch_size and sent every
// flush_interval seconds. A failed batch never reaches the caller that
// queued the point; install SetOnError to log it.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // history switched off
//	}
//	defer client.Close()
package influxdb
