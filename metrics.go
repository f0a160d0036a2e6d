// Internal metrics counters (SPEC_FULL.md §B): instrumentation only, no
// HTTP exposition server — exposing these is left to the embedding
// application, consistent with spec.md §1 ruling metric exposition out of
// core scope. Modeled on cuemby-warren's habit of giving every subsystem
// its own small prometheus.Collector wrapper rather than a single global
// registry.
package corvus

import "github.com/prometheus/client_golang/prometheus"

// storeMetrics tracks per-HashStore counters. Callers that want exposition
// register Collectors() with their own prometheus.Registry; corvus never
// touches the default registry.
type storeMetrics struct {
	Gets       prometheus.Counter
	Sets       prometheus.Counter
	Removes    prometheus.Counter
	Misses     prometheus.Counter
	DefragRuns prometheus.Counter
	TxnCommits prometheus.Counter
	TxnAborts  prometheus.Counter
}

func newStoreMetrics() *storeMetrics {
	mk := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "corvus",
			Subsystem: "hashstore",
			Name:      name,
			Help:      help,
		})
	}
	return &storeMetrics{
		Gets:       mk("gets_total", "Successful Get calls."),
		Sets:       mk("sets_total", "Successful Set calls."),
		Removes:    mk("removes_total", "Successful Remove calls."),
		Misses:     mk("misses_total", "Get/Remove calls that found no record."),
		DefragRuns: mk("defrag_runs_total", "Defrag passes executed."),
		TxnCommits: mk("txn_commits_total", "Transactions committed."),
		TxnAborts:  mk("txn_aborts_total", "Transactions aborted."),
	}
}

// Collectors returns every metric so an embedder can register them with
// its own prometheus.Registry.
func (m *storeMetrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Gets, m.Sets, m.Removes, m.Misses, m.DefragRuns, m.TxnCommits, m.TxnAborts,
	}
}
