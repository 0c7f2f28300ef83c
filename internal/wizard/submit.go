package wizard

import (
	"context"
	"errors"
	"fmt"

	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/db"
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/model"
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/reference"
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/route"
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/session"
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/storage"

	"go.uber.org/zap"
)

// Registry is the slice of the persistence layer the submitter needs.
type Registry interface {
	ReferenceExists(ctx context.Context, reference string) (bool, error)
	SubmitApplication(ctx context.Context, p db.SubmitApplicationParams) (model.Application, error)
	GetApplicationBySessionKey(ctx context.Context, sessionKey string) (model.Application, error)
}

// JobClient schedules the post-submission email work.
type JobClient interface {
	EnqueueConfirmationEmail(reference string) error
	EnqueueDecisionEmail(reference string) error
}

// Publisher pushes application events to the reviewer console.
type Publisher interface {
	PublishApplication(reference string, event map[string]interface{}) error
}

// Submitter turns a completed wizard session into a persisted
// application: sanitize, verify completeness, mint a reference, write
// the record, then move evidence files into their permanent home and
// clear the session.
type Submitter struct {
	sessions session.Store
	files    storage.Storage
	registry Registry
	jobs     JobClient
	bus      Publisher
	log      *zap.Logger
}

func NewSubmitter(sessions session.Store, files storage.Storage, registry Registry, jobs JobClient, bus Publisher, log *zap.Logger) *Submitter {
	return &Submitter{
		sessions: sessions,
		files:    files,
		registry: registry,
		jobs:     jobs,
		bus:      bus,
		log:      log,
	}
}

// SubmitOutcome is the result of a final submission.
type SubmitOutcome struct {
	Application      model.Application
	AlreadySubmitted bool
}

// Submit finalises the wizard session. Submitting the same session
// twice is safe: the second call finds the existing application and
// returns it without side effects.
func (s *Submitter) Submit(ctx context.Context, sessionKey string) (*SubmitOutcome, error) {
	answers, err := s.sessions.Get(ctx, sessionKey)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			// The session was cleared by an earlier successful submission.
			if app, aerr := s.registry.GetApplicationBySessionKey(ctx, sessionKey); aerr == nil {
				return &SubmitOutcome{Application: app, AlreadySubmitted: true}, nil
			}
		}
		return nil, err
	}

	r := route.Compute(answers)
	clean, orphans := Sanitize(answers, r)

	// Temp files the final route no longer references are deleted before
	// anything is persisted; the stored names only survive in the
	// pre-sanitize answers.
	for _, field := range orphans {
		s.deleteTempFile(ctx, sessionKey, field, answers.Get(model.UploadKeys(field)[0]))
	}

	if err := Complete(clean, r); err != nil {
		return nil, err
	}

	ref, err := reference.NewUnique(ctx, s.registry.ReferenceExists)
	if err != nil {
		return nil, fmt.Errorf("failed to mint reference: %w", err)
	}

	params := db.SubmitApplicationParams{
		Reference:     ref,
		SessionKey:    sessionKey,
		RegistrarOrg:  clean.Get("registrar_organisation"),
		RegistrantOrg: clean.Get("registrant_organisation"),
		RegistrarPerson: db.PersonParams{
			Name:  clean.Get("registrar_name"),
			Email: clean.Get("registrar_email"),
			Phone: optional(clean, "registrar_phone"),
		},
		RegistrantPerson: db.PersonParams{
			Name:  clean.Get("registrant_full_name"),
			Email: clean.Get("registrant_email"),
			Phone: optional(clean, "registrant_phone"),
		},
		RegistryPerson: db.PersonParams{
			Name:  clean.Get("registry_published_name"),
			Email: clean.Get("registry_published_email"),
		},
		DomainName:    clean.Get("domain_name"),
		DomainPurpose: optional(clean, "domain_purpose"),
	}

	// Evidence columns point at the permanent namespace the files will
	// occupy once moved. The move itself happens after commit so a failed
	// transaction leaves temp files intact for a retry.
	type pendingMove struct{ from, to string }
	var moves []pendingMove
	filePtr := func(field string) *string {
		stored := clean.Get(model.UploadKeys(field)[0])
		if stored == "" {
			return nil
		}
		object := storage.PermanentObject(ref, field, stored)
		moves = append(moves, pendingMove{
			from: storage.TempObject(sessionKey, field, stored),
			to:   object,
		})
		return &object
	}
	params.ExemptionFile = filePtr("exemption")
	params.PermissionFile = filePtr("written_permission")
	params.MinisterFile = filePtr("minister")

	app, err := s.registry.SubmitApplication(ctx, params)
	if err != nil {
		if errors.Is(err, db.ErrDuplicateSubmission) {
			existing, gerr := s.registry.GetApplicationBySessionKey(ctx, sessionKey)
			if gerr != nil {
				return nil, fmt.Errorf("duplicate submission but lookup failed: %w", gerr)
			}
			return &SubmitOutcome{Application: existing, AlreadySubmitted: true}, nil
		}
		return nil, err
	}

	for _, mv := range moves {
		if err := s.files.Move(ctx, mv.from, mv.to); err != nil {
			// The record is committed; a stuck file is an operational
			// problem, not a submission failure.
			s.log.Error("Failed to move evidence file",
				zap.String("reference", ref), zap.String("from", mv.from),
				zap.String("to", mv.to), zap.Error(err))
		}
	}

	if err := s.sessions.Clear(ctx, sessionKey); err != nil {
		s.log.Warn("Failed to clear submitted session",
			zap.String("reference", ref), zap.Error(err))
	}

	if err := s.jobs.EnqueueConfirmationEmail(ref); err != nil {
		s.log.Error("Failed to enqueue confirmation email",
			zap.String("reference", ref), zap.Error(err))
	}

	_ = s.bus.PublishApplication(ref, map[string]interface{}{
		"type":      "application.submitted",
		"reference": ref,
		"domain":    app.DomainName,
	})

	s.log.Info("Application submitted",
		zap.String("reference", ref), zap.String("domain", app.DomainName))
	return &SubmitOutcome{Application: app}, nil
}

func (s *Submitter) deleteTempFile(ctx context.Context, sessionKey, field, storedName string) {
	if storedName == "" {
		return
	}
	object := storage.TempObject(sessionKey, field, storedName)
	if err := s.files.Delete(ctx, object); err != nil {
		s.log.Warn("Failed to delete orphaned temp file",
			zap.String("object", object), zap.Error(err))
	}
}

func optional(answers model.Answers, key string) *string {
	if !answers.Has(key) {
		return nil
	}
	v := answers.Get(key)
	return &v
}
