package loader

import (
	"context"
	"time"

	"github.com/openfroyo/starmod/pkg/modpath"
)

// Require outcomes reported to an Observer.
const (
	OutcomeLoaded   = "loaded"
	OutcomeNotFound = "not_found"
	OutcomeFailed   = "failed"
	OutcomeDenied   = "denied"
)

// Cache events reported to an Observer.
const (
	CacheHit         = "hit"
	CacheMiss        = "miss"
	CacheInvalidated = "invalidated"
	ProbeHit         = "probe_hit"
	ProbeMiss        = "probe_miss"
)

// Observer receives loader measurements. telemetry.Metrics implements it.
type Observer interface {
	ObserveRequire(outcome string, d time.Duration)
	ObserveLoad(origin modpath.OriginKind, kind Kind, d time.Duration, err error)
	ObserveCache(origin modpath.OriginKind, event string)
	ObserveDatabaseError(collection string)
	SetInFlight(n int)
}

type nopObserver struct{}

func (nopObserver) ObserveRequire(string, time.Duration)                       {}
func (nopObserver) ObserveLoad(modpath.OriginKind, Kind, time.Duration, error) {}
func (nopObserver) ObserveCache(modpath.OriginKind, string)                    {}
func (nopObserver) ObserveDatabaseError(string)                                {}
func (nopObserver) SetInFlight(int)                                            {}

// RequireRequest describes a require for a Guard.
type RequireRequest struct {
	Identifier  string `json:"identifier"`
	FromModule  string `json:"from_module"`
	FromPackage string `json:"from_package"`
	FromOrigin  string `json:"from_origin"`
	System      bool   `json:"system"`
}

// Guard can veto a require before any resolution happens.
// policy.Guard implements it.
type Guard interface {
	CheckRequire(ctx context.Context, req RequireRequest) error
}
