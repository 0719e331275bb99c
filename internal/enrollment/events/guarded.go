package events

import (
	"context"
	"log/slog"

	dErrors "enrolld/pkg/domain-errors"
	"enrolld/pkg/platform/circuit"
)

// Publisher delivers committed-enrollment events.
type Publisher interface {
	PublishEnrollmentCommitted(ctx context.Context, event EnrollmentCommitted) error
}

// GuardedPublisher stops calling a failing broker for a cooldown so that an
// outage does not add a produce timeout to every commit.
type GuardedPublisher struct {
	next    Publisher
	breaker *circuit.Breaker
	logger  *slog.Logger
}

// NewGuardedPublisher wraps next with breaker.
func NewGuardedPublisher(next Publisher, breaker *circuit.Breaker, logger *slog.Logger) *GuardedPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &GuardedPublisher{next: next, breaker: breaker, logger: logger}
}

func (p *GuardedPublisher) PublishEnrollmentCommitted(ctx context.Context, event EnrollmentCommitted) error {
	if !p.breaker.Allow() {
		return dErrors.New(dErrors.CodeUnavailable, "event publisher circuit is open")
	}
	if err := p.next.PublishEnrollmentCommitted(ctx, event); err != nil {
		if _, change := p.breaker.RecordFailure(); change.Opened {
			p.logger.WarnContext(ctx, "event publisher circuit opened",
				"breaker", p.breaker.Name(),
				"error", err,
			)
		}
		return err
	}
	if _, change := p.breaker.RecordSuccess(); change.Closed {
		p.logger.InfoContext(ctx, "event publisher circuit closed", "breaker", p.breaker.Name())
	}
	return nil
}
