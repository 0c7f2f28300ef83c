package wizard

import (
	"errors"
	"fmt"
	"strings"

	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/model"
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/route"
)

// ErrIncompleteAnswers is the data-integrity failure: the sanitized
// answers do not cover the resolved route. Partial data is never
// persisted silently.
var ErrIncompleteAnswers = errors.New("answers incomplete for resolved route")

// ErrIneligibleRoute means the final route is the terminal failure path.
var ErrIneligibleRoute = errors.New("ineligible application cannot be submitted")

// Sanitize strips every answer and file reference that the final route
// does not use, so leftovers from an abandoned alternate path never reach
// the persisted record. It returns the cleaned copy plus the evidence
// fields whose temp files became orphans.
func Sanitize(answers model.Answers, r model.Route) (model.Answers, []string) {
	clean := answers.Clone()
	var orphans []string

	drop := func(keys ...string) {
		for _, k := range keys {
			delete(clean, k)
		}
	}
	dropEvidence := func(field string) {
		uk := model.UploadKeys(field)
		if clean.Has(uk[0]) {
			orphans = append(orphans, field)
		}
		drop(field, uk[0], uk[1], uk[2])
	}

	if r.Primary != route.PrimaryCentral {
		// Parish and public-body tiers never ask about purpose or
		// evidence; the ineligible tier keeps nothing either.
		drop("domain_purpose")
		for _, field := range model.EvidenceFields {
			dropEvidence(field)
		}
		return clean, orphans
	}

	if r.Secondary == route.SecondaryEmailOnly {
		dropEvidence("exemption")
	}

	if r.Tertiary != route.TertiaryMinisterSupport && clean.Get("minister") != "yes" {
		// No senior-official support on this path: normalise the answer
		// and purge any evidence left from an earlier pass.
		dropEvidence("minister")
		clean["minister"] = "no"
	}

	return clean, orphans
}

// requiredAlways are the keys every submittable route must carry.
var requiredAlways = []string{
	"registrar_organisation", "registrar_name", "registrar_phone", "registrar_email",
	"registrant_type", "domain_name", "domain_confirmation",
	"registrant_organisation", "registrant_full_name", "registrant_phone", "registrant_email",
	"registrant_role", "registry_published_name", "registry_published_email",
}

// Complete validates that sanitized answers fully cover the resolved
// route. Any gap is a data-integrity error, not a validation error: the
// wizard should never have allowed the user this far.
func Complete(answers model.Answers, r model.Route) error {
	if r.Primary == route.PrimaryIneligible {
		return ErrIneligibleRoute
	}

	// The refusal leaves are terminal, but every step posts to its own
	// endpoint and Advance merges the answer before the leaf is shown.
	// An out-of-order submit carrying a refused answer must not persist.
	if r.Primary == route.PrimaryCentral {
		if r.Tertiary == route.TertiaryBlocked {
			return ErrIneligibleRoute
		}
		if answers.Get("written_permission") == "no" && r.Tertiary != route.TertiaryMinisterSupport {
			return ErrIneligibleRoute
		}
		if r.Secondary != route.SecondaryEmailOnly && answers.Get("exemption") == "no" {
			return ErrIneligibleRoute
		}
	}

	var missing []string
	need := func(key string) {
		if !answers.Has(key) {
			missing = append(missing, key)
		}
	}
	needEvidence := func(field string) {
		uk := model.UploadKeys(field)
		need(uk[0])
		need(uk[1])
		need(uk[2])
	}

	for _, key := range requiredAlways {
		need(key)
	}

	if answers.Get("domain_confirmation") != "yes" {
		missing = append(missing, "domain_confirmation=yes")
	}

	if r.Primary == route.PrimaryCentral {
		need("domain_purpose")
		need("written_permission")
		if answers.Get("written_permission") == "yes" {
			needEvidence("written_permission")
		}
		if r.Secondary != route.SecondaryEmailOnly {
			need("exemption")
			if answers.Get("exemption") == "yes" {
				needEvidence("exemption")
			}
		}
		need("minister")
		if answers.Get("minister") == "yes" {
			needEvidence("minister")
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrIncompleteAnswers, strings.Join(missing, ", "))
	}
	return nil
}
