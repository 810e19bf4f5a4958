package supervisor

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/stepguard/pkg/stepguard/observability"
	"github.com/randalmurphal/stepguard/pkg/stepguard/policy"
)

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithPolicy sets the checkpoint policy. Default: policy.Always.
func WithPolicy(p policy.Policy) Option {
	return func(s *Supervisor) {
		if p != nil {
			s.policy = p
		}
	}
}

// WithSelector sets the rollback selector. Default: Latest.
func WithSelector(sel Selector) Option {
	return func(s *Supervisor) {
		if sel != nil {
			s.selector = sel
		}
	}
}

// WithCaptureTimeout bounds container resolution plus image capture.
// Default: 2m.
func WithCaptureTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.captureTimeout = d
		}
	}
}

// WithLogger sets the logger. The agent identity is added to every record.
func WithLogger(l *slog.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics enables metrics recording.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(s *Supervisor) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithSpanManager enables tracing.
func WithSpanManager(sm observability.SpanManager) Option {
	return func(s *Supervisor) {
		if sm != nil {
			s.spans = sm
		}
	}
}
