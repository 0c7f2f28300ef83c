package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/db"
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/lifecycle"
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/model"
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/notify"
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/pubsub"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Task type names. Emails are enqueued per application; the lifecycle
// tasks are fired by the scheduler.
const (
	TaskConfirmationEmail = "email:confirmation"
	TaskDecisionEmail     = "email:decision"
	TaskLifecycleSweep    = "lifecycle:sweep"
	TaskNotifyReconcile   = "notify:reconcile"
)

type emailPayload struct {
	Reference string `json:"reference"`
}

type JobServer struct {
	server     *asynq.Server
	scheduler  *asynq.Scheduler
	client     *asynq.Client
	db         *db.Pool
	provider   notify.Provider
	templates  notify.Templates
	reconciler *lifecycle.Reconciler
	bus        *pubsub.Bus
	log        *zap.Logger
}

func NewJobServer(redisAddr string, dbPool *db.Pool, provider notify.Provider, templates notify.Templates, reconciler *lifecycle.Reconciler, bus *pubsub.Bus, log *zap.Logger) (*JobServer, *asynq.Client) {
	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{})
	client := asynq.NewClient(redisOpt)

	return &JobServer{
		server:     server,
		scheduler:  scheduler,
		client:     client,
		db:         dbPool,
		provider:   provider,
		templates:  templates,
		reconciler: reconciler,
		bus:        bus,
		log:        log,
	}, client
}

func (js *JobServer) Start() error {
	mux := asynq.NewServeMux()

	// Register job handlers
	mux.HandleFunc(TaskConfirmationEmail, js.handleConfirmationEmail)
	mux.HandleFunc(TaskDecisionEmail, js.handleDecisionEmail)
	mux.HandleFunc(TaskLifecycleSweep, js.handleLifecycleSweep)
	mux.HandleFunc(TaskNotifyReconcile, js.handleNotifyReconcile)

	// The sweep and the reconcile pass run on fixed intervals. Both are
	// idempotent so overlapping runs after a slow cycle are harmless.
	if _, err := js.scheduler.Register("@every 1h", asynq.NewTask(TaskLifecycleSweep, nil), asynq.Queue("low")); err != nil {
		return fmt.Errorf("failed to register sweep schedule: %w", err)
	}
	if _, err := js.scheduler.Register("@every 10m", asynq.NewTask(TaskNotifyReconcile, nil), asynq.Queue("low")); err != nil {
		return fmt.Errorf("failed to register reconcile schedule: %w", err)
	}

	if err := js.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	return js.server.Start(mux)
}

func (js *JobServer) Stop() {
	js.scheduler.Shutdown()
	js.server.Shutdown()
	js.client.Close()
}

// Job handlers

func (js *JobServer) handleConfirmationEmail(ctx context.Context, t *asynq.Task) error {
	return js.sendEmail(ctx, t, model.NotificationConfirmation)
}

func (js *JobServer) handleDecisionEmail(ctx context.Context, t *asynq.Task) error {
	return js.sendEmail(ctx, t, model.NotificationDecision)
}

func (js *JobServer) sendEmail(ctx context.Context, t *asynq.Task, kind model.NotificationKind) error {
	var p emailPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("bad payload: %v: %w", err, asynq.SkipRetry)
	}

	app, err := js.db.Queries.GetApplicationByReference(ctx, p.Reference)
	if err != nil {
		return fmt.Errorf("failed to get application %s: %w", p.Reference, err)
	}
	recipient, err := js.db.Queries.GetRegistrarEmail(ctx, p.Reference)
	if err != nil {
		return fmt.Errorf("failed to resolve registrar email for %s: %w", p.Reference, err)
	}

	templateID := js.templates.Confirmation
	personalisation := map[string]string{
		"reference":   app.Reference,
		"domain_name": app.DomainName,
	}
	if kind == model.NotificationDecision {
		templateID = js.templates.Decision
		personalisation["outcome"] = string(app.Status)
	}

	providerID, err := js.provider.SendEmail(ctx, recipient, templateID, personalisation, app.Reference)
	if err != nil {
		// The dispatch itself failed. Flag the application for the ops
		// team and stop retrying; a re-send after the flag would race
		// the manual follow-up.
		failed := model.StatusFailedConfirmationEmail
		if kind == model.NotificationDecision {
			failed = model.StatusFailedDecisionEmail
		}
		if serr := js.db.Queries.SetStatusByReference(ctx, app.Reference, failed); serr != nil {
			js.log.Error("Failed to flag email failure",
				zap.String("reference", app.Reference), zap.Error(serr))
		}
		_ = js.db.Queries.RecordEvent(ctx, app.ID, "system", "email.send_failed", map[string]interface{}{
			"kind":  string(kind),
			"error": err.Error(),
		})
		js.log.Error("Email send failed",
			zap.String("reference", app.Reference), zap.String("kind", string(kind)), zap.Error(err))
		return fmt.Errorf("send %s email for %s: %v: %w", kind, app.Reference, err, asynq.SkipRetry)
	}

	if _, err := js.db.Queries.CreateNotificationID(ctx, providerID, app.Reference, kind); err != nil {
		return fmt.Errorf("failed to track notification %s: %w", providerID, err)
	}

	_ = js.bus.PublishApplication(app.Reference, map[string]interface{}{
		"type":      "application.email_sent",
		"reference": app.Reference,
		"kind":      string(kind),
	})

	js.log.Info("Email sent",
		zap.String("reference", app.Reference),
		zap.String("kind", string(kind)),
		zap.String("provider_id", providerID))
	return nil
}

func (js *JobServer) handleLifecycleSweep(ctx context.Context, _ *asynq.Task) error {
	return js.reconciler.SweepStatuses(ctx)
}

func (js *JobServer) handleNotifyReconcile(ctx context.Context, _ *asynq.Task) error {
	return js.reconciler.ReconcileNotifications(ctx)
}

// Enqueue helpers

func EnqueueConfirmationEmail(client *asynq.Client, reference string) error {
	payload, _ := json.Marshal(emailPayload{Reference: reference})
	task := asynq.NewTask(TaskConfirmationEmail, payload)
	_, err := client.Enqueue(task, asynq.Queue("critical"), asynq.MaxRetry(5), asynq.Timeout(time.Minute))
	return err
}

func EnqueueDecisionEmail(client *asynq.Client, reference string) error {
	payload, _ := json.Marshal(emailPayload{Reference: reference})
	task := asynq.NewTask(TaskDecisionEmail, payload)
	_, err := client.Enqueue(task, asynq.Queue("critical"), asynq.MaxRetry(5), asynq.Timeout(time.Minute))
	return err
}
