package health

import (
	"context"
	"fmt"
	"time"
)

// PingFunc checks a backend connection, typically a database or Redis ping
type PingFunc func(ctx context.Context) error

// PingChecker probes a backend through its Ping method
type PingChecker struct {
	Name string
	Ping PingFunc
}

// NewPingChecker creates a checker for the named backend
func NewPingChecker(name string, ping PingFunc) *PingChecker {
	return &PingChecker{Name: name, Ping: ping}
}

func (p *PingChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if err := p.Ping(ctx); err != nil {
		return Result{
			Healthy:   false,
			Message:   fmt.Sprintf("%s ping failed: %v", p.Name, err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	return Result{
		Healthy:   true,
		Message:   p.Name,
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

func (p *PingChecker) Type() CheckType {
	return CheckTypePing
}
