// Package lifecycle advances application statuses on elapsed-time
// thresholds and reconciles the delivery status of outbound emails. It
// runs from scheduled jobs, never from request handlers.
package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/model"
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/notify"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Store is the persistence surface the reconciler needs.
type Store interface {
	GetTimeFlag(ctx context.Context) (model.TimeFlag, error)
	ListAgedApplications(ctx context.Context, status model.ApplicationStatus, olderThanDays int) ([]model.Application, error)
	TransitionStatus(ctx context.Context, id string, from, to model.ApplicationStatus) error
	SetStatusByReference(ctx context.Context, reference string, to model.ApplicationStatus) error
	ListNotificationIDs(ctx context.Context) ([]model.NotificationID, error)
	DeleteNotificationID(ctx context.Context, id string) error
	RecordEvent(ctx context.Context, applicationID, actor, kind string, detail map[string]interface{}) error
	GetApplicationByReference(ctx context.Context, reference string) (model.Application, error)
}

// Publisher pushes application events to the case-working console.
type Publisher interface {
	PublishApplication(reference string, event map[string]interface{}) error
}

type Reconciler struct {
	store     Store
	provider  notify.Provider
	templates notify.Templates
	opsEmail  string
	bus       Publisher
	log       *zap.Logger
}

func NewReconciler(store Store, provider notify.Provider, templates notify.Templates, opsEmail string, bus Publisher, log *zap.Logger) *Reconciler {
	return &Reconciler{
		store:     store,
		provider:  provider,
		templates: templates,
		opsEmail:  opsEmail,
		bus:       bus,
		log:       log,
	}
}

// SweepStatuses applies the elapsed-time transitions. Both candidate sets
// are snapshotted before any write, so a row moved to on-hold in this
// pass cannot also be rejected in it: one step per application per run.
// The optimistic WHERE-status guard means a reviewer's racing manual
// change wins and the row is skipped.
func (r *Reconciler) SweepStatuses(ctx context.Context) error {
	tf, err := r.store.GetTimeFlag(ctx)
	if err != nil {
		return fmt.Errorf("failed to read time flags: %w", err)
	}

	toHold, err := r.store.ListAgedApplications(ctx, model.StatusMoreInformation, tf.OnHoldDays)
	if err != nil {
		return fmt.Errorf("failed to list aged more-information applications: %w", err)
	}
	toReject, err := r.store.ListAgedApplications(ctx, model.StatusOnHold, tf.ToCloseDays)
	if err != nil {
		return fmt.Errorf("failed to list aged on-hold applications: %w", err)
	}

	for _, app := range toHold {
		r.transition(ctx, app, model.StatusMoreInformation, model.StatusOnHold)
	}
	for _, app := range toReject {
		r.transition(ctx, app, model.StatusOnHold, model.StatusRejected)
	}
	return nil
}

func (r *Reconciler) transition(ctx context.Context, app model.Application, from, to model.ApplicationStatus) {
	err := r.store.TransitionStatus(ctx, app.ID, from, to)
	if errors.Is(err, pgx.ErrNoRows) {
		r.log.Info("Skipping status sweep, row changed underneath",
			zap.String("reference", app.Reference), zap.String("from", string(from)))
		return
	}
	if err != nil {
		r.log.Error("Failed to transition status",
			zap.String("reference", app.Reference), zap.Error(err))
		return
	}

	if err := r.store.RecordEvent(ctx, app.ID, "lifecycle", "application.status_changed", map[string]interface{}{
		"from": string(from),
		"to":   string(to),
	}); err != nil {
		r.log.Warn("Failed to record sweep event", zap.String("reference", app.Reference), zap.Error(err))
	}

	if r.bus != nil {
		_ = r.bus.PublishApplication(app.Reference, map[string]interface{}{
			"type":      "application.status_changed",
			"reference": app.Reference,
			"status":    string(to),
		})
	}

	r.log.Info("Swept application status",
		zap.String("reference", app.Reference),
		zap.String("from", string(from)), zap.String("to", string(to)))
}

// ReconcileNotifications resolves every tracked outbound email against
// the provider. Delivered mails and unknown tracking ids clean up
// silently; terminal failures mark the application and alert operations.
// Any other provider error aborts the run instead of dropping tracking
// state.
func (r *Reconciler) ReconcileNotifications(ctx context.Context) error {
	tracked, err := r.store.ListNotificationIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tracked notifications: %w", err)
	}

	for _, n := range tracked {
		result, err := r.provider.Status(ctx, n.ProviderID)
		if errors.Is(err, notify.ErrNotFound) {
			// Expected for simulated test addresses.
			r.log.Info("Provider does not know notification, dropping tracker",
				zap.String("provider_id", n.ProviderID), zap.String("reference", n.Reference))
			if err := r.store.DeleteNotificationID(ctx, n.ID); err != nil {
				return fmt.Errorf("failed to delete tracker %s: %w", n.ID, err)
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to query notification %s: %w", n.ProviderID, err)
		}

		switch {
		case !notify.IsTerminal(result.Status):
			// Still in flight; keep the tracker for the next pass.

		case result.Status == notify.StatusDelivered:
			if err := r.store.DeleteNotificationID(ctx, n.ID); err != nil {
				return fmt.Errorf("failed to delete tracker %s: %w", n.ID, err)
			}

		default:
			if err := r.handleFailure(ctx, n, result); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Reconciler) handleFailure(ctx context.Context, n model.NotificationID, result notify.StatusResult) error {
	reference := result.Reference
	if reference == "" {
		reference = n.Reference
	}

	failedStatus := model.StatusFailedConfirmationEmail
	if r.classify(n, result) == model.NotificationDecision {
		failedStatus = model.StatusFailedDecisionEmail
	}

	if err := r.store.SetStatusByReference(ctx, reference, failedStatus); err != nil {
		return fmt.Errorf("failed to mark %s: %w", reference, err)
	}

	if app, err := r.store.GetApplicationByReference(ctx, reference); err == nil {
		_ = r.store.RecordEvent(ctx, app.ID, "lifecycle", "notification.failed", map[string]interface{}{
			"status":      result.Status,
			"provider_id": n.ProviderID,
		})
	}

	// Alert operations before dropping the tracker: if the alert fails
	// the run aborts and the tracker survives for a retry.
	_, err := r.provider.SendEmail(ctx, r.opsEmail, r.templates.OpsAlert, map[string]string{
		"reference": reference,
		"status":    result.Status,
	}, reference)
	if err != nil {
		return fmt.Errorf("failed to alert operations about %s: %w", reference, err)
	}

	if err := r.store.DeleteNotificationID(ctx, n.ID); err != nil {
		return fmt.Errorf("failed to delete tracker %s: %w", n.ID, err)
	}

	r.log.Warn("Notification delivery failed",
		zap.String("reference", reference),
		zap.String("status", result.Status),
		zap.String("marked", string(failedStatus)))
	return nil
}

// classify decides which email failed, preferring the provider's template
// id over the locally recorded kind.
func (r *Reconciler) classify(n model.NotificationID, result notify.StatusResult) model.NotificationKind {
	switch result.TemplateID {
	case r.templates.Decision:
		return model.NotificationDecision
	case r.templates.Confirmation:
		return model.NotificationConfirmation
	}
	return n.Kind
}
