package health

import (
	"context"
	"fmt"

	"github.com/MrWong99/shopvox/internal/resilience"
)

// Pinger is implemented by stores that can probe their backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker is a required check that pings p.
func PingChecker(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// BreakerChecker is an optional check that fails while the breaker reported
// by state is open. Searches keep answering with demo results in that case,
// so readiness degrades instead of failing.
func BreakerChecker(name string, state func() resilience.State) Checker {
	return Checker{
		Name:     name,
		Optional: true,
		Check: func(context.Context) error {
			if s := state(); s == resilience.StateOpen {
				return fmt.Errorf("circuit breaker %s", s)
			}
			return nil
		},
	}
}
