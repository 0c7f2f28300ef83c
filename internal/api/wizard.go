package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/session"
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/wizard"

	"github.com/go-chi/chi/v5"
)

func (d Dependencies) beginSession(w http.ResponseWriter, r *http.Request) {
	key, err := d.Machine.Begin(r.Context())
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "session_failed", "Could not start a session", d.Log)
		return
	}
	WriteJSON(w, http.StatusCreated, map[string]string{
		"sessionKey": key,
		"firstStep":  string(wizard.StepRegistrarDetails),
	})
}

// sessionAnswers backs change mode: the frontend prefills each form from
// what the session already holds.
func (d Dependencies) sessionAnswers(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	answers, err := d.Machine.Answers(r.Context(), key)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "session_not_found", "Unknown or expired session", d.Log)
			return
		}
		WriteError(w, http.StatusInternalServerError, "session_failed", err.Error(), d.Log)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"answers": answers})
}

func (d Dependencies) advanceStep(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	step := wizard.Step(chi.URLParam(r, "step"))

	var body struct {
		Fields map[string]string `json:"fields"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", d.Log)
		return
	}

	outcome, err := d.Machine.Advance(r.Context(), key, step, body.Fields)
	if err != nil {
		switch {
		case errors.Is(err, wizard.ErrValidation):
			WriteError(w, http.StatusBadRequest, "validation_failed", err.Error(), d.Log)
		case errors.Is(err, wizard.ErrUnknownStep):
			WriteError(w, http.StatusNotFound, "unknown_step", err.Error(), d.Log)
		case errors.Is(err, session.ErrNotFound):
			WriteError(w, http.StatusNotFound, "session_not_found", "Unknown or expired session", d.Log)
		default:
			WriteError(w, http.StatusInternalServerError, "step_failed", err.Error(), d.Log)
		}
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"next":  outcome.Next,
		"route": outcome.Route,
	})
}

func (d Dependencies) uploadFile(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	step := wizard.Step(chi.URLParam(r, "step"))

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Missing file field", d.Log)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(filepath.Ext(header.Filename))
	}

	outcome, err := d.Machine.Upload(r.Context(), key, step, wizard.UploadInput{
		Filename:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		Content:     file,
	})
	if err != nil {
		switch {
		case errors.Is(err, wizard.ErrValidation):
			WriteError(w, http.StatusBadRequest, "validation_failed", err.Error(), d.Log)
		case errors.Is(err, wizard.ErrUnknownStep):
			WriteError(w, http.StatusNotFound, "unknown_step", err.Error(), d.Log)
		case errors.Is(err, session.ErrNotFound):
			WriteError(w, http.StatusNotFound, "session_not_found", "Unknown or expired session", d.Log)
		default:
			WriteError(w, http.StatusInternalServerError, "upload_failed", err.Error(), d.Log)
		}
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"next":  outcome.Next,
		"route": outcome.Route,
	})
}

func (d Dependencies) submitApplication(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	outcome, err := d.Submitter.Submit(r.Context(), key)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotFound):
			WriteError(w, http.StatusNotFound, "session_not_found", "Unknown or expired session", d.Log)
		case errors.Is(err, wizard.ErrIneligibleRoute):
			WriteError(w, http.StatusConflict, "ineligible", err.Error(), d.Log)
		case errors.Is(err, wizard.ErrIncompleteAnswers):
			WriteError(w, http.StatusConflict, "incomplete", err.Error(), d.Log)
		default:
			WriteError(w, http.StatusInternalServerError, "submit_failed", err.Error(), d.Log)
		}
		return
	}

	code := http.StatusCreated
	if outcome.AlreadySubmitted {
		code = http.StatusOK
	}
	WriteJSON(w, code, map[string]interface{}{
		"reference":        outcome.Application.Reference,
		"status":           outcome.Application.Status,
		"alreadySubmitted": outcome.AlreadySubmitted,
	})
}

func (d Dependencies) serveFile(w http.ResponseWriter, r *http.Request) {
	object := chi.URLParam(r, "*")
	if object == "" || strings.Contains(object, "..") {
		WriteError(w, http.StatusBadRequest, "invalid_request", "Bad object name", d.Log)
		return
	}

	reader, err := d.Files.Get(r.Context(), object)
	if err != nil {
		WriteError(w, http.StatusNotFound, "not_found", "File not found", d.Log)
		return
	}
	defer reader.Close()

	if ct := mime.TypeByExtension(filepath.Ext(object)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	io.Copy(w, reader)
}
