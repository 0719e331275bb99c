package service

import (
	"context"
	"strings"

	"enrolld/internal/enrollment/models"
	"enrolld/pkg/domain"
	"enrolld/pkg/requestcontext"
)

// ListFilter narrows operator listings.
type ListFilter struct {
	// OverdueOnly keeps pending applications whose deadline has passed.
	OverdueOnly bool
}

// List returns every record with its computed status, ordered by national ID.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*ApplicationView, error) {
	apps, err := s.pending.ListAll(ctx)
	if err != nil {
		return nil, translateStoreError(err, "failed to list applications")
	}
	views := make([]*ApplicationView, 0, len(apps))
	for _, app := range apps {
		view := s.view(ctx, app)
		if filter.OverdueOnly && (app.State.IsTerminal() || !view.Deadline.Overdue) {
			continue
		}
		views = append(views, view)
	}
	return views, nil
}

// ResetAlarm grants an application days more to complete its documents,
// counted from now. Unlike the automatic reset on incomplete processing, an
// operator reset may shorten the window.
func (s *Service) ResetAlarm(ctx context.Context, id domain.NationalID, days int, reason string) (*ApplicationView, error) {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	app, err := s.pending.Get(ctx, id)
	if err != nil {
		return nil, translateStoreError(err, "failed to load application")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "deadline reset"
	}
	if operator := requestcontext.Operator(ctx); operator != "" {
		reason += " (by " + operator + ")"
	}
	if err := s.tracker.ResetAlarm(app, days, reason, requestcontext.Now(ctx).UTC()); err != nil {
		return nil, err
	}
	stored, err := s.pending.Upsert(ctx, app)
	if err != nil {
		return nil, translateStoreError(err, "failed to save application")
	}
	s.metrics.IncrementAlarmReset()
	s.logger.InfoContext(ctx, "application deadline reset",
		"national_id", id.String(),
		"days", days,
		"operator", requestcontext.Operator(ctx),
		"request_id", requestcontext.RequestID(ctx),
	)
	return s.view(ctx, stored), nil
}

// Remove deletes a pending record. Committed data and stored files are kept.
func (s *Service) Remove(ctx context.Context, id domain.NationalID) error {
	unlock, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.pending.Remove(ctx, id); err != nil {
		return translateStoreError(err, "failed to remove application")
	}
	s.logger.InfoContext(ctx, "application removed",
		"national_id", id.String(),
		"operator", requestcontext.Operator(ctx),
		"request_id", requestcontext.RequestID(ctx),
	)
	return nil
}

// Requirements resolves the documents a selection needs.
func (s *Service) Requirements(modality domain.ModalityID, plan domain.PlanID) models.RequirementSet {
	return s.resolver.Resolve(modality, plan)
}
