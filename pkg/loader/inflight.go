package loader

import (
	"fmt"
	"sort"
)

// inFlight tracks modules whose bodies are currently executing. Entries are
// keyed by package and module so identical ids in different packages do not
// collide.
type inFlight struct {
	modules map[string]*Module
}

func newInFlight() *inFlight {
	return &inFlight{modules: make(map[string]*Module)}
}

func inFlightKey(m *Module) string {
	return m.pkg + "|" + cacheKey(m.id, m.kind)
}

func (f *inFlight) add(m *Module) {
	f.modules[inFlightKey(m)] = m
}

func (f *inFlight) remove(m *Module) {
	delete(f.modules, inFlightKey(m))
}

func (f *inFlight) len() int {
	return len(f.modules)
}

// drain empties the registry and returns its modules in key order.
func (f *inFlight) drain() []*Module {
	keys := make([]string, 0, len(f.modules))
	for k := range f.modules {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*Module, 0, len(keys))
	for _, k := range keys {
		out = append(out, f.modules[k])
	}
	f.modules = make(map[string]*Module)
	return out
}

// InFlight returns the ids of modules currently being initialized.
func (l *Loader) InFlight() []string {
	ids := make([]string, 0, l.inflight.len())
	for _, m := range l.inflight.modules {
		ids = append(ids, m.id)
	}
	sort.Strings(ids)
	return ids
}

// CleanupAfterCancellation evicts every module whose initialization was
// interrupted so that a later require starts over. It panics if the
// registry is not empty afterwards.
func (l *Loader) CleanupAfterCancellation() {
	for _, m := range l.inflight.drain() {
		if pkg := l.packages[m.pkg]; pkg != nil {
			if cached, ok := pkg.Module(m.id, m.kind); ok && cached == m {
				pkg.clearModule(m.id, m.kind)
			}
		}
		l.logger.Debug().Str("module", m.id).Msg("Evicted interrupted module")
	}
	l.observer.SetInFlight(0)

	l.assertSettled("cleanup after cancellation")
}

// assertSettled panics when modules are still registered as in flight.
// Callers invoke it only at points where nothing can be executing.
func (l *Loader) assertSettled(where string) {
	if n := l.inflight.len(); n != 0 {
		panic(fmt.Sprintf("loader: %d modules still in flight after %s: %v", n, where, l.InFlight()))
	}
}
