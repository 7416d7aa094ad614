package conversation

import (
	"github.com/nexhearth/mimirgo/internal/metrics"
	"github.com/nexhearth/mimirgo/internal/mode"
	"github.com/nexhearth/mimirgo/internal/ratelimit"
)

// combinedGuard composes the operating-mode gate and the rate limiter into
// the single agent.ExecutionGuard the tool registry calls through. Mode is
// checked first: a tool Chat mode forbids never reaches the rate limiter.
type combinedGuard struct {
	mode    *mode.Manager
	limiter *ratelimit.Limiter
	metrics *metrics.Metrics
}

// NewGuard builds the ExecutionGuard the conversation manager wires into
// its tool registry. Either argument may be nil to disable that half of the
// policy (used in tests).
func NewGuard(modeManager *mode.Manager, limiter *ratelimit.Limiter) *combinedGuard {
	return &combinedGuard{mode: modeManager, limiter: limiter}
}

// SetMetrics wires a Prometheus collector set into the guard. Nil disables
// instrumentation.
func (g *combinedGuard) SetMetrics(m *metrics.Metrics) {
	g.metrics = m
}

func (g *combinedGuard) Allow(toolName string) (bool, string) {
	if g.mode != nil {
		if allowed, reason := g.mode.CheckToolAllowed(toolName); !allowed {
			return false, reason
		}
	}
	if g.limiter != nil {
		if opType, limited := ratelimit.OperationTypeOf(toolName); limited {
			if allowed, reason := g.limiter.CheckAllowed(opType); !allowed {
				if g.metrics != nil {
					g.metrics.RateLimitDeniedCounter.WithLabelValues(string(opType)).Inc()
				}
				return false, reason
			}
		}
	}
	return true, ""
}

func (g *combinedGuard) Record(toolName string) {
	if g.limiter == nil {
		return
	}
	if opType, limited := ratelimit.OperationTypeOf(toolName); limited {
		g.limiter.RecordOperation(opType)
	}
}
