package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/starmod/pkg/loader"
	"github.com/openfroyo/starmod/pkg/modpath"
	"github.com/openfroyo/starmod/pkg/telemetry"
)

// Example_basicSetup demonstrates creating telemetry from the defaults.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Output = "stdout"
	cfg.Logging.Format = "json"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())
	op := telemetry.StartOperation(ctx, "greeter")
	op.End(nil)

	fmt.Println("Telemetry ready")
	// Output: Telemetry ready
}

// Example_metricsObserver demonstrates metrics receiving loader observations.
func Example_metricsObserver() {
	cfg := telemetry.DefaultConfig().Metrics
	cfg.Enabled = true

	metrics, err := telemetry.NewMetrics(cfg)
	if err != nil {
		panic(err)
	}

	var observer loader.Observer = metrics
	observer.ObserveRequire(loader.OutcomeLoaded, 3*time.Millisecond)
	observer.ObserveLoad(modpath.Filesystem, loader.KindScript, 2*time.Millisecond, nil)
	observer.ObserveCache(modpath.Filesystem, loader.CacheHit)

	families, _ := metrics.Gather()
	fmt.Println(len(families) > 0)
	// Output: true
}
