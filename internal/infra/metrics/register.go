package metrics

import (
	"errors"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once       sync.Once
	collectors []prometheus.Collector
)

// register is called from init() in each metrics file.
func register(cs ...prometheus.Collector) {
	collectors = append(collectors, cs...)
}

// MustRegister adds every queued collector to the default registry once.
// Collectors that are already registered (tests, embedded use) are skipped.
func MustRegister() {
	once.Do(func() {
		for _, c := range collectors {
			if err := prometheus.Register(c); err != nil {
				var are prometheus.AlreadyRegisteredError
				if errors.As(err, &are) {
					continue
				}
				panic(err)
			}
		}
	})
}

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
