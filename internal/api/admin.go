package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/auth"
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/model"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

func (d Dependencies) listApplications(w http.ResponseWriter, r *http.Request) {
	var status *model.ApplicationStatus
	if s := r.URL.Query().Get("status"); s != "" {
		st := model.ApplicationStatus(s)
		status = &st
	}

	limit := 50
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 200 {
		limit = l
	}
	offset := 0
	if o, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && o >= 0 {
		offset = o
	}

	apps, err := d.DB.Queries.ListApplications(r.Context(), status, limit, offset)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "list_failed", err.Error(), d.Log)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"applications": apps})
}

func (d Dependencies) getApplication(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	app, err := d.DB.Queries.GetApplicationByID(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusNotFound, "not_found", "Application not found", d.Log)
		return
	}
	WriteJSON(w, http.StatusOK, app)
}

func (d Dependencies) listEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	events, err := d.DB.Queries.ListEvents(r.Context(), id, 200)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "list_failed", err.Error(), d.Log)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (d Dependencies) setOwner(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		Owner *string `json:"owner"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}

	if err := d.DB.Queries.SetOwner(r.Context(), id, body.Owner); err != nil {
		WriteError(w, http.StatusInternalServerError, "update_failed", err.Error(), d.Log)
		return
	}

	actor := auth.GetStaffEmail(r.Context())
	_ = d.DB.Queries.RecordEvent(r.Context(), id, actor, "application.owner_changed", map[string]interface{}{
		"owner": body.Owner,
	})
	WriteJSON(w, http.StatusOK, map[string]interface{}{"owner": body.Owner})
}

// setStatus handles the manual moves a reviewer makes: picking up a case,
// asking for more information, archiving. The expected current status
// comes with the request so a concurrent change is rejected rather than
// silently overwritten.
func (d Dependencies) setStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	if body.From == "" || body.To == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Both from and to statuses are required", d.Log)
		return
	}

	from := model.ApplicationStatus(body.From)
	to := model.ApplicationStatus(body.To)
	// Decided and closed cases do not move again; archiving is the one
	// manual move still allowed after a decision.
	if from.Terminal() && to != model.StatusArchive {
		WriteError(w, http.StatusBadRequest, "status_final", "A decided application can only be archived", d.Log)
		return
	}

	err := d.DB.Queries.TransitionStatus(r.Context(), id, from, to)
	if errors.Is(err, pgx.ErrNoRows) {
		WriteError(w, http.StatusConflict, "status_conflict", "Application is no longer in the expected status", d.Log)
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "update_failed", err.Error(), d.Log)
		return
	}

	actor := auth.GetStaffEmail(r.Context())
	_ = d.DB.Queries.RecordEvent(r.Context(), id, actor, "application.status_changed", map[string]interface{}{
		"from": body.From,
		"to":   body.To,
	})

	app, err := d.DB.Queries.GetApplicationByID(r.Context(), id)
	if err == nil {
		_ = d.Bus.PublishApplication(app.Reference, map[string]interface{}{
			"type":      "application.status_changed",
			"reference": app.Reference,
			"status":    body.To,
		})
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": body.To})
}

func (d Dependencies) getReview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	review, err := d.DB.Queries.GetReviewByApplicationID(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusNotFound, "not_found", "Review not found", d.Log)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"review":    review,
		"decidable": review.Decidable(),
	})
}

func (d Dependencies) setReviewSection(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	section := chi.URLParam(r, "section")

	if !validSection(section) {
		WriteError(w, http.StatusNotFound, "unknown_section", "Unknown review section", d.Log)
		return
	}

	var body struct {
		Verdict string `json:"verdict"`
		Notes   string `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	verdict := model.ReviewVerdict(body.Verdict)
	switch verdict {
	case model.VerdictApprove, model.VerdictHold, model.VerdictReject:
	default:
		WriteError(w, http.StatusBadRequest, "invalid_verdict", "Verdict must be approve, holding or reject", d.Log)
		return
	}
	if body.Notes == "" {
		WriteError(w, http.StatusBadRequest, "notes_required", "A verdict needs supporting notes", d.Log)
		return
	}

	if err := d.DB.Queries.SetReviewSection(r.Context(), id, section, verdict, body.Notes); err != nil {
		WriteError(w, http.StatusInternalServerError, "update_failed", err.Error(), d.Log)
		return
	}
	// Review work counts as activity; without this the lifecycle sweep
	// would age a case that is actively being worked.
	if err := d.DB.Queries.Touch(r.Context(), id, time.Now()); err != nil {
		d.Log.Warn("Failed to bump last_updated after review", zap.String("id", id), zap.Error(err))
	}

	actor := auth.GetStaffEmail(r.Context())
	_ = d.DB.Queries.RecordEvent(r.Context(), id, actor, "review.section_set", map[string]interface{}{
		"section": section,
		"verdict": body.Verdict,
	})
	WriteJSON(w, http.StatusOK, map[string]string{"section": section, "verdict": body.Verdict})
}

func (d Dependencies) decideApplication(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if auth.GetStaffRole(r.Context()) != auth.RoleDecider {
		WriteError(w, http.StatusForbidden, "forbidden", "Only deciders can approve or reject", d.Log)
		return
	}

	var body struct {
		Decision string `json:"decision"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}

	var to model.ApplicationStatus
	switch body.Decision {
	case "approve":
		to = model.StatusApproved
	case "reject":
		to = model.StatusRejected
	default:
		WriteError(w, http.StatusBadRequest, "invalid_decision", "Decision must be approve or reject", d.Log)
		return
	}
	if body.Reason == "" {
		WriteError(w, http.StatusBadRequest, "reason_required", "A decision needs a reason", d.Log)
		return
	}

	review, err := d.DB.Queries.GetReviewByApplicationID(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusNotFound, "not_found", "Review not found", d.Log)
		return
	}
	if !review.Decidable() {
		WriteError(w, http.StatusConflict, "review_incomplete", "Every review section needs a verdict and notes first", d.Log)
		return
	}

	actor := auth.GetStaffEmail(r.Context())
	app, err := d.DB.Queries.DecideApplication(r.Context(), id, to, body.Reason, actor)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "decision_failed", err.Error(), d.Log)
		return
	}

	if err := d.JobClient.EnqueueDecisionEmail(app.Reference); err != nil {
		d.Log.Error("Failed to enqueue decision email",
			zap.String("reference", app.Reference), zap.Error(err))
	}

	_ = d.Bus.PublishApplication(app.Reference, map[string]interface{}{
		"type":      "application.decided",
		"reference": app.Reference,
		"status":    string(to),
	})

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"reference": app.Reference,
		"status":    app.Status,
	})
}

func (d Dependencies) getTimeFlag(w http.ResponseWriter, r *http.Request) {
	tf, err := d.DB.Queries.GetTimeFlag(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "read_failed", err.Error(), d.Log)
		return
	}
	WriteJSON(w, http.StatusOK, tf)
}

func (d Dependencies) updateTimeFlag(w http.ResponseWriter, r *http.Request) {
	var tf model.TimeFlag
	if err := json.NewDecoder(r.Body).Decode(&tf); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}
	if tf.OnHoldDays <= 0 || tf.ToCloseDays <= tf.OnHoldDays {
		WriteError(w, http.StatusBadRequest, "invalid_thresholds", "to_close must exceed on_hold and both must be positive", d.Log)
		return
	}

	if err := d.DB.Queries.UpdateTimeFlag(r.Context(), tf); err != nil {
		WriteError(w, http.StatusInternalServerError, "update_failed", err.Error(), d.Log)
		return
	}
	WriteJSON(w, http.StatusOK, tf)
}

func validSection(section string) bool {
	for _, s := range model.ReviewSections {
		if s == section {
			return true
		}
	}
	return false
}
