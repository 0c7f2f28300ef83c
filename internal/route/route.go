// Package route computes the eligibility path through the registration
// wizard from the answers accumulated so far. The computation is pure:
// no I/O, no stored state, same answers in means same route out.
package route

import (
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/model"
)

// Secondary and tertiary route constants. Primary 1-4 pick the applicant
// category; the finer numbers qualify sub-paths within primary 2 plus the
// domain-confirmation loop on primary 1.
const (
	PrimaryParish      = 1 // parish or village council
	PrimaryCentral     = 2 // central government department or NDPB
	PrimaryPublicBody  = 3 // other eligible public-sector body
	PrimaryIneligible  = 4 // not eligible for .gov.uk

	SecondaryEmailOnly     = 5  // central, email-only use
	SecondaryNoPermission  = 6  // central, written permission still open
	SecondaryPermissioned  = 7  // central, permission evidence resolved
	SecondaryRetryDomain   = 12 // domain not confirmed, loop back to entry

	TertiaryMinisterSupport = 8 // senior-official/ministerial override
	TertiaryBlocked         = 9 // no permission and no override recorded
)

// centralTypes and publicBodyTypes partition the eligible registrant
// types below the parish tier.
var centralTypes = map[string]bool{
	model.TypeCentralGovernment: true,
	model.TypeNDPB:              true,
}

var publicBodyTypes = map[string]bool{
	model.TypeFireService:       true,
	model.TypeCombinedAuthority: true,
	model.TypePCC:               true,
	model.TypeJointAuthority:    true,
	model.TypeJointCommittee:    true,
	model.TypeLocalAuthority:    true,
	model.TypeRepresentingPS:    true,
	model.TypeRepresentingProf:  true,
}

// Compute maps the current answers to a route. Rules are evaluated top to
// bottom and the first match wins. Missing optional keys degrade to the
// coarsest determinable route rather than erroring, so the function is
// safe to call at any point mid-wizard.
func Compute(a model.Answers) model.Route {
	switch rt := a.Get("registrant_type"); {
	case rt == model.TypeParishCouncil || rt == model.TypeVillageCouncil:
		r := model.Route{Primary: PrimaryParish}
		if a.Get("domain_confirmation") == "no" {
			r.Secondary = SecondaryRetryDomain
		}
		return r

	case centralTypes[rt]:
		return centralRoute(a)

	case publicBodyTypes[rt]:
		return model.Route{Primary: PrimaryPublicBody}

	default:
		// "none", unknown values and the unanswered step all land here.
		return model.Route{Primary: PrimaryIneligible}
	}
}

func centralRoute(a model.Answers) model.Route {
	r := model.Route{Primary: PrimaryCentral}

	purpose := a.Get("domain_purpose")
	switch purpose {
	case "":
		// Mid-wizard: purpose not asked yet, no secondary determinable.
		return r

	case model.PurposeEmailOnly:
		r.Secondary = SecondaryEmailOnly
		return r

	case model.PurposeWebsiteEmail:
		if a.Has("written_permission") {
			r.Secondary = SecondaryPermissioned
		} else {
			r.Secondary = SecondaryNoPermission
		}
		return r

	default:
		// A named "other" use case.
		switch {
		case a.Get("minister") == "yes":
			// Ministerial support short-circuits the permission
			// requirement whatever its current state.
			r.Secondary = SecondaryPermissioned
			r.Tertiary = TertiaryMinisterSupport
		case a.Get("written_permission") == "no":
			r.Secondary = SecondaryNoPermission
			r.Tertiary = TertiaryBlocked
		default:
			r.Secondary = SecondaryPermissioned
		}
		return r
	}
}
