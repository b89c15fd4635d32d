package health

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/MrWong99/voicecoach/internal/resilience"
)

// Pinger is implemented by dependencies that can report reachability, such as
// the audio asset store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker returns a [Checker] that passes when p.Ping succeeds.
func PingChecker(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// ProvidersChecker returns a [Checker] that passes when every kind in
// configured maps to a non-empty provider name.
func ProvidersChecker(configured map[string]string) Checker {
	return Checker{
		Name: "providers",
		Check: func(context.Context) error {
			var missing []string
			for _, kind := range slices.Sorted(maps.Keys(configured)) {
				if configured[kind] == "" {
					missing = append(missing, kind)
				}
			}
			if len(missing) > 0 {
				return fmt.Errorf("not configured: %s", strings.Join(missing, ", "))
			}
			return nil
		},
	}
}

// BreakerReporter exposes the circuit breaker states of a failover group.
type BreakerReporter interface {
	States() map[string]resilience.State
}

// CircuitChecker returns a [Checker] that fails when every backend behind r
// has an open circuit breaker. A single healthy or probing backend is enough
// to serve traffic.
func CircuitChecker(name string, r BreakerReporter) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			states := r.States()
			if len(states) == 0 {
				return errors.New("no backends")
			}
			for _, s := range states {
				if s != resilience.StateOpen {
					return nil
				}
			}
			return fmt.Errorf("all circuits open: %s", strings.Join(slices.Sorted(maps.Keys(states)), ", "))
		},
	}
}
