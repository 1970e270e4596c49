// Package influxdb records SnapDog telemetry in InfluxDB v2.
//
// Two series are written:
//
//   - snapdog_operations: one point per command or query the pipeline
//     dispatches, tagged by operation, kind and outcome.
//   - snapdog_status: one point per scalar status change published on the
//     notification dispatcher, tagged by status id, scope and index.
//
// The client implements pipeline.MetricsSink and has a notify.Handler
// method, so wiring is:
//
//	influx, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil { ... }
//	defer influx.Close()
//
//	p := pipeline.New(pcfg, pipeline.WithMetrics(pipeline.MultiSink{stats, influx}))
//	dispatcher.SubscribeAll("influxdb", influx.HandleNotification)
//
// Writes are non-blocking and batched per config.yaml (batch_size,
// flush_interval). Rejected batches are counted (WriteErrors) and passed to the SetOnError
// callback.
package influxdb
