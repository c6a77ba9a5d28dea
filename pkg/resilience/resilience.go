// Package resilience guards the object store path with a circuit breaker.
// Retrying a failed upload is an explicit user action, so the breaker does
// not retry; it only refuses work while the store keeps failing.
package resilience

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// State represents the circuit breaker state
type State string

const (
	StateClosed   State = "closed"
	StateHalfOpen State = "half_open"
	StateOpen     State = "open"
)

const (
	// openThreshold is how many consecutive failures open the circuit
	openThreshold = 3

	// cooldown is how long the circuit stays open before probing again
	cooldown = 10 * time.Second
)

type breakerMetrics struct {
	requestsTotal *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	state         prometheus.Gauge
}

var (
	metricsInstance *breakerMetrics
	metricsOnce     sync.Once
)

func sharedMetrics() *breakerMetrics {
	metricsOnce.Do(func() {
		metricsInstance = &breakerMetrics{
			requestsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "object_store_requests_total",
					Help: "Object store operations, by operation and status",
				},
				[]string{"operation", "status"},
			),
			errorsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "object_store_errors_total",
					Help: "Object store errors, by operation and error type",
				},
				[]string{"operation", "error_type"},
			),
			state: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "object_store_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half_open, 2=open)",
			}),
		}
	})
	return metricsInstance
}

// Breaker wraps object store calls with a circuit breaker
type Breaker struct {
	log *zap.Logger

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	lastFailure         time.Time

	metrics *breakerMetrics
}

// NewBreaker creates a closed breaker
func NewBreaker(log *zap.Logger) *Breaker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Breaker{
		log:     log,
		state:   StateClosed,
		metrics: sharedMetrics(),
	}
}

// Execute runs fn unless the circuit is open. The operation label feeds
// metrics and logs.
func (b *Breaker) Execute(operation string, fn func() error) error {
	b.mu.Lock()
	if b.state == StateOpen {
		if time.Since(b.lastFailure) > cooldown {
			b.state = StateHalfOpen
			b.metrics.state.Set(1)
			b.log.Warn("circuit breaker half-open, probing",
				zap.String("operation", operation))
		} else {
			b.mu.Unlock()
			b.metrics.requestsTotal.WithLabelValues(operation, "circuit_open").Inc()
			return fmt.Errorf("object store temporarily unavailable (circuit breaker open)")
		}
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state != StateClosed {
			b.log.Info("circuit breaker closed, store recovered",
				zap.String("operation", operation))
		}
		b.state = StateClosed
		b.consecutiveFailures = 0
		b.metrics.state.Set(0)
		b.metrics.requestsTotal.WithLabelValues(operation, "success").Inc()
		return nil
	}

	b.consecutiveFailures++
	b.lastFailure = time.Now()
	b.metrics.errorsTotal.WithLabelValues(operation, classifyError(err)).Inc()
	b.metrics.requestsTotal.WithLabelValues(operation, "failure").Inc()

	if b.consecutiveFailures >= openThreshold {
		b.state = StateOpen
		b.metrics.state.Set(2)
		b.log.Error("circuit breaker open",
			zap.String("operation", operation),
			zap.Int("consecutive_failures", b.consecutiveFailures))
	}
	return err
}

// State returns the current circuit breaker state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// classifyError buckets errors for metrics
func classifyError(err error) string {
	if err == nil {
		return "none"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return "timeout"
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "network unreachable"):
		return "network"
	case strings.Contains(msg, "no such host") || strings.Contains(msg, "dns"):
		return "dns"
	case strings.Contains(msg, "not found"):
		return "not_found"
	case strings.Contains(msg, "access denied") || strings.Contains(msg, "permission denied"):
		return "permission"
	default:
		return "unknown"
	}
}
