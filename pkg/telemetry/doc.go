// Package telemetry provides observability for the module loader host.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry) and Prometheus metrics behind one Config.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Metrics.Enabled = true
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	l, err := loader.New(roots, files, db, sb,
//	    loader.WithLogger(tel.Logger.NewComponentLogger("loader").Zerolog()),
//	    loader.WithObserver(tel.Metrics),
//	    loader.WithTracer(tel.Tracer.Trace()),
//	)
//
// # Metrics
//
// Metrics implements loader.Observer. With metrics disabled every
// observation is dropped and Handler serves 404. Exposed series, under the
// configured namespace:
//
//	requires_total{outcome}
//	require_duration_seconds{outcome}
//	module_loads_total{origin,kind,status}
//	module_load_duration_seconds{origin,kind}
//	module_faults_total{kind}
//	cache_events_total{origin,event}
//	database_errors_total{collection}
//	modules_in_flight
//
// # Tracing
//
// The loader opens one span per materialized module. StartOperation opens
// the enclosing span for a top-level require and records the fault kind
// when it fails. Supported exporters: otlp, stdout, none.
package telemetry
