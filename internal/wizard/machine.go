// Package wizard drives the multi-step registration journey: step
// sequencing, answer persistence, invalidation of downstream answers when
// an upstream branch point changes, and the final atomic submission.
package wizard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/model"
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/route"
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/schema"
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/session"
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/storage"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

var (
	// ErrValidation marks malformed user input: the step re-renders, no
	// state transition happens.
	ErrValidation = errors.New("validation error")

	// ErrUnknownStep means the requested step is not part of the wizard.
	ErrUnknownStep = errors.New("unknown wizard step")
)

// Machine orchestrates the wizard over its collaborators.
type Machine struct {
	sessions  session.Store
	files     storage.Storage
	scanner   storage.Scanner
	validator *schema.Validator
	log       *zap.Logger
}

func NewMachine(sessions session.Store, files storage.Storage, scanner storage.Scanner, log *zap.Logger) *Machine {
	return &Machine{
		sessions:  sessions,
		files:     files,
		scanner:   scanner,
		validator: schema.NewValidator(64),
		log:       log,
	}
}

// StepOutcome reports where the wizard goes after a step submission.
type StepOutcome struct {
	Next  Step
	Route model.Route
}

// Begin mints a fresh session and returns its opaque key.
func (m *Machine) Begin(ctx context.Context) (string, error) {
	key := ulid.Make().String()
	if err := m.sessions.Set(ctx, key, model.Answers{}); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return key, nil
}

// Answers returns the current session answers, for prefilling forms in
// change mode.
func (m *Machine) Answers(ctx context.Context, sessionKey string) (model.Answers, error) {
	return m.sessions.Get(ctx, sessionKey)
}

// Advance applies one validated step submission: merge the fields,
// invalidate whatever the change made stale, recompute the route and pick
// the next step from the per-step table.
func (m *Machine) Advance(ctx context.Context, sessionKey string, step Step, fields map[string]string) (*StepOutcome, error) {
	def, ok := steps[step]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStep, step)
	}

	answers, err := m.sessions.Get(ctx, sessionKey)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) && step == StepRegistrarDetails {
			answers = model.Answers{}
		} else {
			return nil, err
		}
	}

	if def.schema != nil {
		submitted := make(map[string]string, len(def.fields))
		for _, f := range def.fields {
			if v, ok := fields[f]; ok && v != "" {
				submitted[f] = v
			}
		}
		if err := m.validator.Validate(ctx, string(step), def.schema, submitted); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}

	// Invalidate downstream answers before merging: a changed branch
	// point must not leave stale data behind.
	for _, f := range def.fields {
		if answers.Has(f) && answers.Get(f) != fields[f] {
			m.clearKeys(ctx, sessionKey, answers, def.downstream)
			break
		}
	}

	for _, f := range def.fields {
		answers[f] = fields[f]
	}

	// A "no" on an evidence question orphans any file uploaded for it
	// during an earlier pass.
	for _, field := range model.EvidenceFields {
		if contains(def.fields, field) && answers.Get(field) == "no" {
			m.purgeUpload(ctx, sessionKey, answers, field)
		}
	}

	if err := m.sessions.Set(ctx, sessionKey, answers); err != nil {
		return nil, fmt.Errorf("failed to persist answers: %w", err)
	}

	r := route.Compute(answers)
	return &StepOutcome{Next: def.next(r, answers), Route: r}, nil
}

// UploadInput carries one evidence file submission.
type UploadInput struct {
	Filename    string
	ContentType string
	Size        int64
	Content     io.Reader
}

// Upload handles an evidence upload step: purge any previous file of this
// type, validate against the upload policy, scan, store into the temp
// namespace and record the reference triple in the session.
func (m *Machine) Upload(ctx context.Context, sessionKey string, step Step, input UploadInput) (*StepOutcome, error) {
	meta, ok := uploadSteps[step]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an upload step", ErrUnknownStep, step)
	}

	answers, err := m.sessions.Get(ctx, sessionKey)
	if err != nil {
		return nil, err
	}

	// Entering an upload step always discards the previous file first so
	// re-uploads never orphan temp objects.
	m.purgeUpload(ctx, sessionKey, answers, meta.field)

	if err := storage.EvidencePolicy.ValidateFile(input.Filename, input.ContentType, input.Size); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	content, err := io.ReadAll(io.LimitReader(input.Content, int64(storage.EvidencePolicy.MaxFileMB*1024*1024)+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(len(content)) > int64(storage.EvidencePolicy.MaxFileMB*1024*1024) {
		return nil, fmt.Errorf("%w: file larger than declared size", ErrValidation)
	}

	if err := m.scanner.Scan(ctx, bytes.NewReader(content)); err != nil {
		if errors.Is(err, storage.ErrScanRejected) {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	storedName := ulid.Make().String() + filepath.Ext(input.Filename)
	object := storage.TempObject(sessionKey, meta.field, storedName)
	if err := m.files.Put(ctx, object, bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	keys := model.UploadKeys(meta.field)
	answers[keys[0]] = storedName
	answers[keys[1]] = input.Filename
	answers[keys[2]] = m.files.URL(object)

	if err := m.sessions.Set(ctx, sessionKey, answers); err != nil {
		return nil, fmt.Errorf("failed to persist answers: %w", err)
	}

	return &StepOutcome{Next: meta.confirm, Route: route.Compute(answers)}, nil
}

// clearKeys wipes the given answer keys and deletes any temp file an
// evidence triple among them still points at.
func (m *Machine) clearKeys(ctx context.Context, sessionKey string, answers model.Answers, keys []string) {
	for _, field := range model.EvidenceFields {
		uploadedKey := model.UploadKeys(field)[0]
		if contains(keys, uploadedKey) {
			m.deleteTempFile(ctx, sessionKey, field, answers.Get(uploadedKey))
		}
	}
	for _, k := range keys {
		delete(answers, k)
	}
}

// purgeUpload drops the upload triple for field and its temp file.
func (m *Machine) purgeUpload(ctx context.Context, sessionKey string, answers model.Answers, field string) {
	keys := model.UploadKeys(field)
	m.deleteTempFile(ctx, sessionKey, field, answers.Get(keys[0]))
	delete(answers, keys[0])
	delete(answers, keys[1])
	delete(answers, keys[2])
}

func (m *Machine) deleteTempFile(ctx context.Context, sessionKey, field, storedName string) {
	if storedName == "" {
		return
	}
	object := storage.TempObject(sessionKey, field, storedName)
	if err := m.files.Delete(ctx, object); err != nil {
		m.log.Warn("Failed to delete orphaned temp file",
			zap.String("object", object), zap.Error(err))
	}
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
