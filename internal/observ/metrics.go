package observ

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// In-process metrics keyed by "name{k=v,...}" with label keys sorted so the
// same label set always lands on the same series.
var (
	metricsMu sync.RWMutex
	counters  = map[string]int64{}
	gauges    = map[string]float64{}
)

func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

// IncCounter adds one to the counter series for name+labels.
func IncCounter(name string, labels map[string]string) {
	metricsMu.Lock()
	counters[seriesKey(name, labels)]++
	metricsMu.Unlock()
}

// SetGauge records the current value of the gauge series for name+labels.
func SetGauge(name string, value float64, labels map[string]string) {
	metricsMu.Lock()
	gauges[seriesKey(name, labels)] = value
	metricsMu.Unlock()
}

// CounterValue reads a counter back, mainly for tests.
func CounterValue(name string, labels map[string]string) int64 {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return counters[seriesKey(name, labels)]
}

// Handler serves the registry as JSON. Deliberately not Prometheus exposition
// format; this is a single-process paper trader, scrape tooling is overkill.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		metricsMu.RLock()
		defer metricsMu.RUnlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"counters": counters,
			"gauges":   gauges,
		})
	})
}
