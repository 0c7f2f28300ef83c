package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// ErrDuplicateSubmission means this session already created an
// application; the storage-layer uniqueness constraint is the sole
// arbiter of "first writer wins".
var ErrDuplicateSubmission = errors.New("application already submitted for this session")

const uniqueViolation = "23505"

// Queries wraps database queries
type Queries struct {
	*pgxpool.Pool
}

func NewQueries(pool *pgxpool.Pool) *Queries {
	return &Queries{Pool: pool}
}

// ReferenceExists reports whether an application reference is taken.
func (q *Queries) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := q.Pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM applications WHERE reference = $1)",
		reference,
	).Scan(&exists)
	return exists, err
}

// PersonParams carries a contact for lookup-or-create
type PersonParams struct {
	Name  string
	Email string
	Phone *string
}

// SubmitApplicationParams is everything the final submission persists
type SubmitApplicationParams struct {
	Reference        string
	SessionKey       string
	RegistrarOrg     string
	RegistrantOrg    string
	RegistrarPerson  PersonParams
	RegistrantPerson PersonParams
	RegistryPerson   PersonParams
	DomainName       string
	DomainPurpose    *string
	ExemptionFile    *string
	PermissionFile   *string
	MinisterFile     *string
}

// SubmitApplication atomically resolves the organisations and persons by
// natural key, creates the application with its paired review and writes
// the audit event, all in one transaction. A concurrent duplicate
// submission loses on the session_key uniqueness constraint and gets
// ErrDuplicateSubmission instead of a second row.
func (q *Queries) SubmitApplication(ctx context.Context, p SubmitApplicationParams) (model.Application, error) {
	var app model.Application

	tx, err := q.Pool.Begin(ctx)
	if err != nil {
		return app, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	registrarOrgID, err := upsertOrganisation(ctx, tx, "registrar", p.RegistrarOrg)
	if err != nil {
		return app, err
	}
	registrantOrgID, err := upsertOrganisation(ctx, tx, "registrant", p.RegistrantOrg)
	if err != nil {
		return app, err
	}

	registrarPersonID, err := upsertPerson(ctx, tx, p.RegistrarPerson)
	if err != nil {
		return app, err
	}
	registrantPersonID, err := upsertPerson(ctx, tx, p.RegistrantPerson)
	if err != nil {
		return app, err
	}
	registryPersonID, err := upsertPerson(ctx, tx, p.RegistryPerson)
	if err != nil {
		return app, err
	}

	appID := ulid.Make().String()
	err = tx.QueryRow(ctx,
		`INSERT INTO applications (
			id, reference, session_key, status,
			registrar_org_id, registrant_org_id,
			registrar_person_id, registrant_person_id, registry_person_id,
			domain_name, domain_purpose,
			exemption_file, permission_file, minister_file
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id, reference, session_key, status, owner,
			registrar_org_id, registrant_org_id,
			registrar_person_id, registrant_person_id, registry_person_id,
			domain_name, domain_purpose,
			exemption_file, permission_file, minister_file,
			time_submitted, time_decided, last_updated`,
		appID, p.Reference, p.SessionKey, string(model.StatusNew),
		registrarOrgID, registrantOrgID,
		registrarPersonID, registrantPersonID, registryPersonID,
		p.DomainName, p.DomainPurpose,
		p.ExemptionFile, p.PermissionFile, p.MinisterFile,
	).Scan(
		&app.ID, &app.Reference, &app.SessionKey, &app.Status, &app.Owner,
		&app.RegistrarOrgID, &app.RegistrantOrgID,
		&app.RegistrarPersonID, &app.RegistrantPersonID, &app.RegistryPersonID,
		&app.DomainName, &app.DomainPurpose,
		&app.ExemptionFile, &app.PermissionFile, &app.MinisterFile,
		&app.TimeSubmitted, &app.TimeDecided, &app.LastUpdated,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			if pgErr.ConstraintName == "applications_session_key_key" {
				return app, ErrDuplicateSubmission
			}
		}
		return app, fmt.Errorf("failed to create application: %w", err)
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO reviews (id, application_id, verdicts, notes) VALUES ($1, $2, '{}', '{}')",
		ulid.Make().String(), appID,
	)
	if err != nil {
		return app, fmt.Errorf("failed to create review: %w", err)
	}

	if err := insertEvent(ctx, tx, appID, "applicant", "application.submitted", map[string]interface{}{
		"reference": p.Reference,
		"domain":    p.DomainName,
	}); err != nil {
		return app, err
	}

	if err := tx.Commit(ctx); err != nil {
		return app, fmt.Errorf("failed to commit submission: %w", err)
	}
	return app, nil
}

func upsertOrganisation(ctx context.Context, tx pgx.Tx, kind, name string) (string, error) {
	var id string
	err := tx.QueryRow(ctx,
		`INSERT INTO organisations (id, kind, name) VALUES ($1, $2, $3)
		ON CONFLICT (kind, name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`,
		ulid.Make().String(), kind, name,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s organisation: %w", kind, err)
	}
	return id, nil
}

func upsertPerson(ctx context.Context, tx pgx.Tx, p PersonParams) (string, error) {
	var id string
	err := tx.QueryRow(ctx,
		`INSERT INTO persons (id, name, email, phone) VALUES ($1, $2, $3, $4)
		ON CONFLICT (name, email) DO UPDATE SET phone = EXCLUDED.phone
		RETURNING id`,
		ulid.Make().String(), p.Name, p.Email, p.Phone,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("failed to resolve person: %w", err)
	}
	return id, nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, appID, actor, kind string, detail map[string]interface{}) error {
	_, err := tx.Exec(ctx,
		"INSERT INTO application_events (id, application_id, actor, kind, detail) VALUES ($1, $2, $3, $4, $5)",
		ulid.Make().String(), appID, actor, kind, detail,
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

const applicationColumns = `id, reference, session_key, status, owner,
	registrar_org_id, registrant_org_id,
	registrar_person_id, registrant_person_id, registry_person_id,
	domain_name, domain_purpose,
	exemption_file, permission_file, minister_file,
	time_submitted, time_decided, last_updated`

func scanApplication(row pgx.Row) (model.Application, error) {
	var a model.Application
	err := row.Scan(
		&a.ID, &a.Reference, &a.SessionKey, &a.Status, &a.Owner,
		&a.RegistrarOrgID, &a.RegistrantOrgID,
		&a.RegistrarPersonID, &a.RegistrantPersonID, &a.RegistryPersonID,
		&a.DomainName, &a.DomainPurpose,
		&a.ExemptionFile, &a.PermissionFile, &a.MinisterFile,
		&a.TimeSubmitted, &a.TimeDecided, &a.LastUpdated,
	)
	return a, err
}

func (q *Queries) GetApplicationByID(ctx context.Context, id string) (model.Application, error) {
	return scanApplication(q.Pool.QueryRow(ctx,
		"SELECT "+applicationColumns+" FROM applications WHERE id = $1", id))
}

func (q *Queries) GetApplicationByReference(ctx context.Context, reference string) (model.Application, error) {
	return scanApplication(q.Pool.QueryRow(ctx,
		"SELECT "+applicationColumns+" FROM applications WHERE reference = $1", reference))
}

// GetApplicationBySessionKey finds the application a wizard session
// already produced, if any. Backs the idempotent re-submission path.
func (q *Queries) GetApplicationBySessionKey(ctx context.Context, sessionKey string) (model.Application, error) {
	return scanApplication(q.Pool.QueryRow(ctx,
		"SELECT "+applicationColumns+" FROM applications WHERE session_key = $1", sessionKey))
}

// GetRegistrarEmail resolves the registrar contact address for an
// application. Confirmation and decision emails go to the registrar,
// never to the registrant.
func (q *Queries) GetRegistrarEmail(ctx context.Context, reference string) (string, error) {
	var email string
	err := q.Pool.QueryRow(ctx,
		`SELECT p.email FROM applications a
		JOIN persons p ON p.id = a.registrar_person_id
		WHERE a.reference = $1`,
		reference,
	).Scan(&email)
	return email, err
}

// TransitionStatus moves an application from an expected status to the
// next one. The WHERE clause is the optimistic guard: a racing manual
// change wins and the caller sees pgx.ErrNoRows.
func (q *Queries) TransitionStatus(ctx context.Context, id string, from, to model.ApplicationStatus) error {
	result, err := q.Pool.Exec(ctx,
		"UPDATE applications SET status = $3, last_updated = NOW() WHERE id = $1 AND status = $2",
		id, string(from), string(to),
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// SetStatusByReference sets a status unconditionally. Used for the
// operational failed-email markers where the current status is whatever
// it happens to be.
func (q *Queries) SetStatusByReference(ctx context.Context, reference string, to model.ApplicationStatus) error {
	_, err := q.Pool.Exec(ctx,
		"UPDATE applications SET status = $2, last_updated = NOW() WHERE reference = $1",
		reference, string(to),
	)
	return err
}

// ListAgedApplications returns applications sitting in status for longer
// than the given number of days.
func (q *Queries) ListAgedApplications(ctx context.Context, status model.ApplicationStatus, olderThanDays int) ([]model.Application, error) {
	rows, err := q.Pool.Query(ctx,
		`SELECT `+applicationColumns+` FROM applications
		WHERE status = $1 AND last_updated < NOW() - make_interval(days => $2)
		ORDER BY last_updated ASC`,
		string(status), olderThanDays,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []model.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

// GetTimeFlag reads the singleton threshold row
func (q *Queries) GetTimeFlag(ctx context.Context) (model.TimeFlag, error) {
	var tf model.TimeFlag
	err := q.Pool.QueryRow(ctx,
		"SELECT on_hold_days, to_close_days FROM time_flags WHERE id = 1",
	).Scan(&tf.OnHoldDays, &tf.ToCloseDays)
	return tf, err
}

func (q *Queries) UpdateTimeFlag(ctx context.Context, tf model.TimeFlag) error {
	_, err := q.Pool.Exec(ctx,
		"UPDATE time_flags SET on_hold_days = $1, to_close_days = $2 WHERE id = 1",
		tf.OnHoldDays, tf.ToCloseDays,
	)
	return err
}

// Notification tracking

func (q *Queries) CreateNotificationID(ctx context.Context, providerID, reference string, kind model.NotificationKind) (model.NotificationID, error) {
	var n model.NotificationID
	err := q.Pool.QueryRow(ctx,
		`INSERT INTO notification_ids (id, provider_id, reference, kind)
		VALUES ($1, $2, $3, $4)
		RETURNING id, provider_id, reference, kind, created_at`,
		ulid.Make().String(), providerID, reference, string(kind),
	).Scan(&n.ID, &n.ProviderID, &n.Reference, &n.Kind, &n.CreatedAt)
	return n, err
}

func (q *Queries) ListNotificationIDs(ctx context.Context) ([]model.NotificationID, error) {
	rows, err := q.Pool.Query(ctx,
		"SELECT id, provider_id, reference, kind, created_at FROM notification_ids ORDER BY created_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []model.NotificationID
	for rows.Next() {
		var n model.NotificationID
		if err := rows.Scan(&n.ID, &n.ProviderID, &n.Reference, &n.Kind, &n.CreatedAt); err != nil {
			return nil, err
		}
		ids = append(ids, n)
	}
	return ids, rows.Err()
}

func (q *Queries) DeleteNotificationID(ctx context.Context, id string) error {
	_, err := q.Pool.Exec(ctx, "DELETE FROM notification_ids WHERE id = $1", id)
	return err
}

// Reviews

func (q *Queries) GetReviewByApplicationID(ctx context.Context, applicationID string) (model.Review, error) {
	var r model.Review
	var verdicts map[string]string
	err := q.Pool.QueryRow(ctx,
		`SELECT id, application_id, verdicts, notes, reason, created_at, updated_at
		FROM reviews WHERE application_id = $1`,
		applicationID,
	).Scan(&r.ID, &r.ApplicationID, &verdicts, &r.Notes, &r.Reason, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return r, err
	}

	r.Verdicts = make(map[string]model.ReviewVerdict, len(verdicts))
	for section, v := range verdicts {
		r.Verdicts[section] = model.ReviewVerdict(v)
	}
	return r, nil
}

// SetReviewSection records one section's verdict and notes.
func (q *Queries) SetReviewSection(ctx context.Context, applicationID, section string, verdict model.ReviewVerdict, notes string) error {
	result, err := q.Pool.Exec(ctx,
		`UPDATE reviews SET
			verdicts = verdicts || jsonb_build_object($2::text, $3::text),
			notes = notes || jsonb_build_object($2::text, $4::text),
			updated_at = NOW()
		WHERE application_id = $1`,
		applicationID, section, string(verdict), notes,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// DecideApplication finalises an application: status, decision time, the
// review reason and the audit event move together in one transaction.
func (q *Queries) DecideApplication(ctx context.Context, applicationID string, to model.ApplicationStatus, reason, actor string) (model.Application, error) {
	var app model.Application

	tx, err := q.Pool.Begin(ctx)
	if err != nil {
		return app, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	app, err = scanApplication(tx.QueryRow(ctx,
		`UPDATE applications SET status = $2, time_decided = NOW(), last_updated = NOW()
		WHERE id = $1
		RETURNING `+applicationColumns,
		applicationID, string(to),
	))
	if err != nil {
		return app, fmt.Errorf("failed to decide application: %w", err)
	}

	_, err = tx.Exec(ctx,
		"UPDATE reviews SET reason = $2, updated_at = NOW() WHERE application_id = $1",
		applicationID, reason,
	)
	if err != nil {
		return app, fmt.Errorf("failed to record decision reason: %w", err)
	}

	if err := insertEvent(ctx, tx, applicationID, actor, "application.decided", map[string]interface{}{
		"status": string(to),
		"reason": reason,
	}); err != nil {
		return app, err
	}

	if err := tx.Commit(ctx); err != nil {
		return app, fmt.Errorf("failed to commit decision: %w", err)
	}
	return app, nil
}

// RecordEvent appends one audit row outside a surrounding transaction.
func (q *Queries) RecordEvent(ctx context.Context, applicationID, actor, kind string, detail map[string]interface{}) error {
	_, err := q.Pool.Exec(ctx,
		"INSERT INTO application_events (id, application_id, actor, kind, detail) VALUES ($1, $2, $3, $4, $5)",
		ulid.Make().String(), applicationID, actor, kind, detail,
	)
	return err
}

// ListEvents returns the audit trail for an application, oldest first.
func (q *Queries) ListEvents(ctx context.Context, applicationID string, limit int) ([]model.ApplicationEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.Pool.Query(ctx,
		`SELECT id, application_id, actor, kind, detail, created_at
		FROM application_events WHERE application_id = $1
		ORDER BY created_at ASC LIMIT $2`,
		applicationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.ApplicationEvent
	for rows.Next() {
		var e model.ApplicationEvent
		if err := rows.Scan(&e.ID, &e.ApplicationID, &e.Actor, &e.Kind, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// SetOwner assigns or clears the staff owner of an application.
func (q *Queries) SetOwner(ctx context.Context, applicationID string, owner *string) error {
	_, err := q.Pool.Exec(ctx,
		"UPDATE applications SET owner = $2, last_updated = NOW() WHERE id = $1",
		applicationID, owner,
	)
	return err
}

// ListApplications returns applications filtered by optional status,
// newest submissions first.
func (q *Queries) ListApplications(ctx context.Context, status *model.ApplicationStatus, limit, offset int) ([]model.Application, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows pgx.Rows
	var err error
	if status != nil {
		rows, err = q.Pool.Query(ctx,
			`SELECT `+applicationColumns+` FROM applications
			WHERE status = $1 ORDER BY time_submitted DESC LIMIT $2 OFFSET $3`,
			string(*status), limit, offset,
		)
	} else {
		rows, err = q.Pool.Query(ctx,
			`SELECT `+applicationColumns+` FROM applications
			ORDER BY time_submitted DESC LIMIT $1 OFFSET $2`,
			limit, offset,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	apps := make([]model.Application, 0)
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}

// Touch bumps last_updated, for manual more-information exchanges.
func (q *Queries) Touch(ctx context.Context, applicationID string, at time.Time) error {
	_, err := q.Pool.Exec(ctx,
		"UPDATE applications SET last_updated = $2 WHERE id = $1",
		applicationID, at,
	)
	return err
}
