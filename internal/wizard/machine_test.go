package wizard

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/model"
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/session"
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStorage is an in-memory Storage for tests.
type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (s *memStorage) Put(_ context.Context, name string, reader io.Reader) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = data
	return nil
}

func (s *memStorage) Get(_ context.Context, name string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[name]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *memStorage) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, name)
	return nil
}

func (s *memStorage) Exists(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[name]
	return ok, nil
}

func (s *memStorage) Move(_ context.Context, from, to string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[from]
	if !ok {
		return io.ErrUnexpectedEOF
	}
	s.objects[to] = data
	delete(s.objects, from)
	return nil
}

func (s *memStorage) URL(name string) string {
	return "/files/" + name
}

func (s *memStorage) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func newTestMachine() (*Machine, *session.MemoryStore, *memStorage) {
	sessions := session.NewMemoryStore()
	files := newMemStorage()
	m := NewMachine(sessions, files, storage.PassScanner{}, zap.NewNop())
	return m, sessions, files
}

func registrarFields() map[string]string {
	return map[string]string{
		"registrar_organisation": "WeRegister Ltd",
		"registrar_name":         "Joe Bloggs",
		"registrar_phone":        "01225672345",
		"registrar_email":        "joe@weregister.example",
	}
}

func pdfUpload() UploadInput {
	content := []byte("%PDF-1.4 test evidence")
	return UploadInput{
		Filename:    "evidence.pdf",
		ContentType: "application/pdf",
		Size:        int64(len(content)),
		Content:     bytes.NewReader(content),
	}
}

func TestAdvanceWalksParishPath(t *testing.T) {
	m, _, _ := newTestMachine()
	ctx := context.Background()

	key, err := m.Begin(ctx)
	require.NoError(t, err)

	out, err := m.Advance(ctx, key, StepRegistrarDetails, registrarFields())
	require.NoError(t, err)
	assert.Equal(t, StepRegistrantType, out.Next)

	out, err = m.Advance(ctx, key, StepRegistrantType, map[string]string{"registrant_type": model.TypeParishCouncil})
	require.NoError(t, err)
	assert.Equal(t, StepDomain, out.Next)
	assert.Equal(t, 1, out.Route.Primary)

	out, err = m.Advance(ctx, key, StepDomain, map[string]string{"domain_name": "littleton-pc.gov.uk"})
	require.NoError(t, err)
	assert.Equal(t, StepDomainConfirmation, out.Next)

	out, err = m.Advance(ctx, key, StepDomainConfirmation, map[string]string{"domain_confirmation": "yes"})
	require.NoError(t, err)
	assert.Equal(t, StepRegistrantDetails, out.Next)
}

func TestAdvanceCentralGoesThroughPurpose(t *testing.T) {
	m, _, _ := newTestMachine()
	ctx := context.Background()

	key, _ := m.Begin(ctx)
	_, err := m.Advance(ctx, key, StepRegistrarDetails, registrarFields())
	require.NoError(t, err)

	out, err := m.Advance(ctx, key, StepRegistrantType, map[string]string{"registrant_type": model.TypeCentralGovernment})
	require.NoError(t, err)
	assert.Equal(t, StepDomainPurpose, out.Next)
	assert.Equal(t, 2, out.Route.Primary)
}

func TestAdvanceIneligibleTypeTerminates(t *testing.T) {
	m, _, _ := newTestMachine()
	ctx := context.Background()

	key, _ := m.Begin(ctx)
	_, err := m.Advance(ctx, key, StepRegistrarDetails, registrarFields())
	require.NoError(t, err)

	out, err := m.Advance(ctx, key, StepRegistrantType, map[string]string{"registrant_type": model.TypeNone})
	require.NoError(t, err)
	assert.Equal(t, StepIneligible, out.Next)
	assert.True(t, out.Next.Terminal())
}

func TestAdvanceUnconfirmedDomainLoops(t *testing.T) {
	m, _, _ := newTestMachine()
	ctx := context.Background()

	key, _ := m.Begin(ctx)
	m.Advance(ctx, key, StepRegistrarDetails, registrarFields())
	m.Advance(ctx, key, StepRegistrantType, map[string]string{"registrant_type": model.TypeParishCouncil})
	m.Advance(ctx, key, StepDomain, map[string]string{"domain_name": "wrongname-pc.gov.uk"})

	out, err := m.Advance(ctx, key, StepDomainConfirmation, map[string]string{"domain_confirmation": "no"})
	require.NoError(t, err)
	assert.Equal(t, StepDomain, out.Next)
	assert.Equal(t, 12, out.Route.Secondary)
}

func TestAdvanceRejectsBadInput(t *testing.T) {
	m, _, _ := newTestMachine()
	ctx := context.Background()
	key, _ := m.Begin(ctx)

	_, err := m.Advance(ctx, key, StepRegistrarDetails, map[string]string{
		"registrar_organisation": "WeRegister Ltd",
		"registrar_name":         "Joe Bloggs",
		"registrar_phone":        "01225672345",
		"registrar_email":        "not-an-email",
	})
	assert.ErrorIs(t, err, ErrValidation)

	m.Advance(ctx, key, StepRegistrarDetails, registrarFields())
	m.Advance(ctx, key, StepRegistrantType, map[string]string{"registrant_type": model.TypeParishCouncil})

	_, err = m.Advance(ctx, key, StepDomain, map[string]string{"domain_name": "not-gov-uk.example.com"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestAdvanceUnknownStep(t *testing.T) {
	m, _, _ := newTestMachine()
	key, _ := m.Begin(context.Background())

	_, err := m.Advance(context.Background(), key, Step("nonsense"), nil)
	assert.ErrorIs(t, err, ErrUnknownStep)
}

func TestRegistrantTypeChangeInvalidatesDownstream(t *testing.T) {
	m, sessions, files := newTestMachine()
	ctx := context.Background()

	key, _ := m.Begin(ctx)
	m.Advance(ctx, key, StepRegistrarDetails, registrarFields())
	m.Advance(ctx, key, StepRegistrantType, map[string]string{"registrant_type": model.TypeCentralGovernment})
	m.Advance(ctx, key, StepDomainPurpose, map[string]string{"domain_purpose": "fleet management"})
	m.Advance(ctx, key, StepDomain, map[string]string{"domain_name": "fleet.gov.uk"})
	m.Advance(ctx, key, StepDomainConfirmation, map[string]string{"domain_confirmation": "yes"})
	m.Advance(ctx, key, StepExemption, map[string]string{"exemption": "yes"})

	_, err := m.Upload(ctx, key, StepExemptionUpload, pdfUpload())
	require.NoError(t, err)
	require.Equal(t, 1, files.count())

	// Going back and changing the registrant type must wipe everything
	// downstream, including the uploaded evidence file.
	out, err := m.Advance(ctx, key, StepRegistrantType, map[string]string{"registrant_type": model.TypeParishCouncil})
	require.NoError(t, err)
	assert.Equal(t, StepDomain, out.Next)

	answers, err := sessions.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, answers.Has("domain_purpose"))
	assert.False(t, answers.Has("domain_name"))
	assert.False(t, answers.Has("domain_confirmation"))
	assert.False(t, answers.Has("exemption"))
	assert.False(t, answers.Has(model.UploadKeys("exemption")[0]))
	assert.Equal(t, 0, files.count())

	// The registrar details upstream of the change survive.
	assert.Equal(t, "Joe Bloggs", answers.Get("registrar_name"))
}

func TestResubmittingSameValueKeepsDownstream(t *testing.T) {
	m, sessions, _ := newTestMachine()
	ctx := context.Background()

	key, _ := m.Begin(ctx)
	m.Advance(ctx, key, StepRegistrarDetails, registrarFields())
	m.Advance(ctx, key, StepRegistrantType, map[string]string{"registrant_type": model.TypeParishCouncil})
	m.Advance(ctx, key, StepDomain, map[string]string{"domain_name": "littleton-pc.gov.uk"})
	m.Advance(ctx, key, StepDomainConfirmation, map[string]string{"domain_confirmation": "yes"})

	// Change mode: revisiting the branch step with the unchanged value
	// must not cascade.
	_, err := m.Advance(ctx, key, StepRegistrantType, map[string]string{"registrant_type": model.TypeParishCouncil})
	require.NoError(t, err)

	answers, _ := sessions.Get(ctx, key)
	assert.Equal(t, "littleton-pc.gov.uk", answers.Get("domain_name"))
	assert.Equal(t, "yes", answers.Get("domain_confirmation"))
}

func TestDomainChangeClearsOnlyConfirmation(t *testing.T) {
	m, sessions, _ := newTestMachine()
	ctx := context.Background()

	key, _ := m.Begin(ctx)
	m.Advance(ctx, key, StepRegistrarDetails, registrarFields())
	m.Advance(ctx, key, StepRegistrantType, map[string]string{"registrant_type": model.TypeParishCouncil})
	m.Advance(ctx, key, StepDomain, map[string]string{"domain_name": "first-pc.gov.uk"})
	m.Advance(ctx, key, StepDomainConfirmation, map[string]string{"domain_confirmation": "yes"})

	_, err := m.Advance(ctx, key, StepDomain, map[string]string{"domain_name": "second-pc.gov.uk"})
	require.NoError(t, err)

	answers, _ := sessions.Get(ctx, key)
	assert.Equal(t, "second-pc.gov.uk", answers.Get("domain_name"))
	assert.False(t, answers.Has("domain_confirmation"))
	assert.Equal(t, model.TypeParishCouncil, answers.Get("registrant_type"))
}

func TestEvidenceNoPurgesUploadTriple(t *testing.T) {
	m, sessions, files := newTestMachine()
	ctx := context.Background()

	key, _ := m.Begin(ctx)
	m.Advance(ctx, key, StepRegistrarDetails, registrarFields())
	m.Advance(ctx, key, StepRegistrantType, map[string]string{"registrant_type": model.TypeNDPB})
	m.Advance(ctx, key, StepDomainPurpose, map[string]string{"domain_purpose": "public information"})
	m.Advance(ctx, key, StepDomain, map[string]string{"domain_name": "info-service.gov.uk"})
	m.Advance(ctx, key, StepDomainConfirmation, map[string]string{"domain_confirmation": "yes"})
	m.Advance(ctx, key, StepExemption, map[string]string{"exemption": "yes"})

	_, err := m.Upload(ctx, key, StepExemptionUpload, pdfUpload())
	require.NoError(t, err)

	answers, _ := sessions.Get(ctx, key)
	uk := model.UploadKeys("exemption")
	require.True(t, answers.Has(uk[0]))
	require.True(t, answers.Has(uk[1]))
	require.Equal(t,
		files.URL(storage.TempObject(key, "exemption", answers.Get(uk[0]))),
		answers.Get(uk[2]))
	require.Equal(t, 1, files.count())

	// Flipping the answer to "no" orphans the file and its triple.
	out, err := m.Advance(ctx, key, StepExemption, map[string]string{"exemption": "no"})
	require.NoError(t, err)
	assert.Equal(t, StepExemptionRefused, out.Next)

	answers, _ = sessions.Get(ctx, key)
	assert.False(t, answers.Has(uk[0]))
	assert.False(t, answers.Has(uk[1]))
	assert.False(t, answers.Has(uk[2]))
	assert.Equal(t, 0, files.count())
}

func TestReuploadReplacesPreviousFile(t *testing.T) {
	m, sessions, files := newTestMachine()
	ctx := context.Background()

	key, _ := m.Begin(ctx)
	m.Advance(ctx, key, StepRegistrarDetails, registrarFields())
	m.Advance(ctx, key, StepRegistrantType, map[string]string{"registrant_type": model.TypeCentralGovernment})
	m.Advance(ctx, key, StepDomainPurpose, map[string]string{"domain_purpose": "case tracking"})
	m.Advance(ctx, key, StepDomain, map[string]string{"domain_name": "cases.gov.uk"})
	m.Advance(ctx, key, StepDomainConfirmation, map[string]string{"domain_confirmation": "yes"})
	m.Advance(ctx, key, StepExemption, map[string]string{"exemption": "yes"})

	_, err := m.Upload(ctx, key, StepExemptionUpload, pdfUpload())
	require.NoError(t, err)
	answers, _ := sessions.Get(ctx, key)
	first := answers.Get(model.UploadKeys("exemption")[0])

	out, err := m.Upload(ctx, key, StepExemptionUpload, pdfUpload())
	require.NoError(t, err)
	assert.Equal(t, StepExemptionConfirm, out.Next)

	answers, _ = sessions.Get(ctx, key)
	second := answers.Get(model.UploadKeys("exemption")[0])
	assert.NotEqual(t, first, second)
	assert.Equal(t, 1, files.count())
	assert.Equal(t, "evidence.pdf", answers.Get(model.UploadKeys("exemption")[1]))
}

func TestUploadRejectsDisallowedType(t *testing.T) {
	m, _, files := newTestMachine()
	ctx := context.Background()

	key, _ := m.Begin(ctx)
	m.Advance(ctx, key, StepRegistrarDetails, registrarFields())
	m.Advance(ctx, key, StepRegistrantType, map[string]string{"registrant_type": model.TypeCentralGovernment})
	m.Advance(ctx, key, StepDomainPurpose, map[string]string{"domain_purpose": "web publishing"})
	m.Advance(ctx, key, StepDomain, map[string]string{"domain_name": "publish.gov.uk"})
	m.Advance(ctx, key, StepDomainConfirmation, map[string]string{"domain_confirmation": "yes"})
	m.Advance(ctx, key, StepExemption, map[string]string{"exemption": "yes"})

	content := []byte("MZ fake executable")
	_, err := m.Upload(ctx, key, StepExemptionUpload, UploadInput{
		Filename:    "evidence.exe",
		ContentType: "application/octet-stream",
		Size:        int64(len(content)),
		Content:     bytes.NewReader(content),
	})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 0, files.count())
}

func TestUploadRejectsScannerHit(t *testing.T) {
	sessions := session.NewMemoryStore()
	files := newMemStorage()
	m := NewMachine(sessions, files, storage.RejectScanner{Signature: []byte("EICAR")}, zap.NewNop())
	ctx := context.Background()

	key, _ := m.Begin(ctx)
	m.Advance(ctx, key, StepRegistrarDetails, registrarFields())
	m.Advance(ctx, key, StepRegistrantType, map[string]string{"registrant_type": model.TypeCentralGovernment})
	m.Advance(ctx, key, StepDomainPurpose, map[string]string{"domain_purpose": "internal portal"})
	m.Advance(ctx, key, StepDomain, map[string]string{"domain_name": "portal.gov.uk"})
	m.Advance(ctx, key, StepDomainConfirmation, map[string]string{"domain_confirmation": "yes"})
	m.Advance(ctx, key, StepExemption, map[string]string{"exemption": "yes"})

	content := []byte("prefix EICAR suffix")
	_, err := m.Upload(ctx, key, StepExemptionUpload, UploadInput{
		Filename:    "evidence.pdf",
		ContentType: "application/pdf",
		Size:        int64(len(content)),
		Content:     bytes.NewReader(content),
	})
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 0, files.count())
}

func TestUploadOnNonUploadStep(t *testing.T) {
	m, _, _ := newTestMachine()
	key, _ := m.Begin(context.Background())

	_, err := m.Upload(context.Background(), key, StepDomain, pdfUpload())
	assert.ErrorIs(t, err, ErrUnknownStep)
}

func TestEmailOnlyPurposeSkipsExemption(t *testing.T) {
	m, _, _ := newTestMachine()
	ctx := context.Background()

	key, _ := m.Begin(ctx)
	m.Advance(ctx, key, StepRegistrarDetails, registrarFields())
	m.Advance(ctx, key, StepRegistrantType, map[string]string{"registrant_type": model.TypeCentralGovernment})
	m.Advance(ctx, key, StepDomainPurpose, map[string]string{"domain_purpose": model.PurposeEmailOnly})
	m.Advance(ctx, key, StepDomain, map[string]string{"domain_name": "mail-only.gov.uk"})

	out, err := m.Advance(ctx, key, StepDomainConfirmation, map[string]string{"domain_confirmation": "yes"})
	require.NoError(t, err)
	assert.Equal(t, StepWrittenPermission, out.Next)
	assert.Equal(t, 5, out.Route.Secondary)
}

func TestFullCentralJourneyReachesConfirm(t *testing.T) {
	m, _, files := newTestMachine()
	ctx := context.Background()

	key, _ := m.Begin(ctx)
	m.Advance(ctx, key, StepRegistrarDetails, registrarFields())
	m.Advance(ctx, key, StepRegistrantType, map[string]string{"registrant_type": model.TypeCentralGovernment})
	m.Advance(ctx, key, StepDomainPurpose, map[string]string{"domain_purpose": model.PurposeWebsiteEmail})
	m.Advance(ctx, key, StepDomain, map[string]string{"domain_name": "new-service.gov.uk"})

	out, err := m.Advance(ctx, key, StepDomainConfirmation, map[string]string{"domain_confirmation": "yes"})
	require.NoError(t, err)
	require.Equal(t, StepExemption, out.Next)

	out, err = m.Advance(ctx, key, StepExemption, map[string]string{"exemption": "yes"})
	require.NoError(t, err)
	require.Equal(t, StepExemptionUpload, out.Next)

	out, err = m.Upload(ctx, key, StepExemptionUpload, pdfUpload())
	require.NoError(t, err)
	require.Equal(t, StepExemptionConfirm, out.Next)

	out, err = m.Advance(ctx, key, StepExemptionConfirm, nil)
	require.NoError(t, err)
	require.Equal(t, StepWrittenPermission, out.Next)

	out, err = m.Advance(ctx, key, StepWrittenPermission, map[string]string{"written_permission": "yes"})
	require.NoError(t, err)
	require.Equal(t, StepPermissionUpload, out.Next)

	out, err = m.Upload(ctx, key, StepPermissionUpload, pdfUpload())
	require.NoError(t, err)
	require.Equal(t, StepPermissionConfirm, out.Next)

	out, err = m.Advance(ctx, key, StepPermissionConfirm, nil)
	require.NoError(t, err)
	require.Equal(t, StepMinister, out.Next)

	out, err = m.Advance(ctx, key, StepMinister, map[string]string{"minister": "no"})
	require.NoError(t, err)
	require.Equal(t, StepRegistrantDetails, out.Next)

	out, err = m.Advance(ctx, key, StepRegistrantDetails, map[string]string{
		"registrant_organisation": "Ministry of Domains",
		"registrant_full_name":    "Sam Smith",
		"registrant_phone":        "02071234567",
		"registrant_email":        "sam@ministry.example",
	})
	require.NoError(t, err)
	require.Equal(t, StepRegistryDetails, out.Next)

	out, err = m.Advance(ctx, key, StepRegistryDetails, map[string]string{
		"registrant_role":          "Service owner",
		"registry_published_name":  "Ministry of Domains",
		"registry_published_email": "domains@ministry.example",
	})
	require.NoError(t, err)
	assert.Equal(t, StepConfirm, out.Next)
	assert.Equal(t, 2, files.count())
}

func TestSessionNotFoundOnMidJourneyStep(t *testing.T) {
	m, _, _ := newTestMachine()

	_, err := m.Advance(context.Background(), "unknown-session", StepDomain, map[string]string{"domain_name": "x.gov.uk"})
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestOversizedUploadRejected(t *testing.T) {
	m, _, _ := newTestMachine()
	ctx := context.Background()

	key, _ := m.Begin(ctx)
	m.Advance(ctx, key, StepRegistrarDetails, registrarFields())
	m.Advance(ctx, key, StepRegistrantType, map[string]string{"registrant_type": model.TypeCentralGovernment})
	m.Advance(ctx, key, StepDomainPurpose, map[string]string{"domain_purpose": "data sharing"})
	m.Advance(ctx, key, StepDomain, map[string]string{"domain_name": "data-share.gov.uk"})
	m.Advance(ctx, key, StepDomainConfirmation, map[string]string{"domain_confirmation": "yes"})
	m.Advance(ctx, key, StepExemption, map[string]string{"exemption": "yes"})

	tooBig := int64(storage.EvidencePolicy.MaxFileMB)*1024*1024 + 1
	_, err := m.Upload(ctx, key, StepExemptionUpload, UploadInput{
		Filename:    "evidence.pdf",
		ContentType: "application/pdf",
		Size:        tooBig,
		Content:     strings.NewReader("small body, oversized declaration"),
	})
	assert.ErrorIs(t, err, ErrValidation)
}
