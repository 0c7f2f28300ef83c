package wizard

import (
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/model"
	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/route"
)

// Step identifies one wizard state.
type Step string

const (
	StepRegistrarDetails    Step = "registrar-details"
	StepRegistrantType      Step = "registrant-type"
	StepDomainPurpose       Step = "domain-purpose"
	StepDomain              Step = "domain"
	StepDomainConfirmation  Step = "domain-confirmation"
	StepExemption           Step = "exemption"
	StepExemptionUpload     Step = "exemption-upload"
	StepExemptionConfirm    Step = "exemption-upload-confirm"
	StepWrittenPermission   Step = "written-permission"
	StepPermissionUpload    Step = "written-permission-upload"
	StepPermissionConfirm   Step = "written-permission-upload-confirm"
	StepMinister            Step = "minister"
	StepMinisterUpload      Step = "minister-upload"
	StepMinisterConfirm     Step = "minister-upload-confirm"
	StepRegistrantDetails   Step = "registrant-details"
	StepRegistryDetails     Step = "registry-details"
	StepConfirm             Step = "confirm"

	// Terminal states
	StepSuccess           Step = "success"
	StepIneligible        Step = "ineligible"
	StepExemptionRefused  Step = "exemption-refused"
	StepPermissionRefused Step = "written-permission-refused"
)

// Terminal reports whether no further navigation leaves the step.
func (s Step) Terminal() bool {
	switch s {
	case StepSuccess, StepIneligible, StepExemptionRefused, StepPermissionRefused:
		return true
	}
	return false
}

// stepDef drives the state machine: which fields the step submits, the
// JSON Schema they must satisfy, which downstream answer keys become
// invalid when one of this step's fields changes, and how the next step
// is chosen from the freshly computed route.
type stepDef struct {
	fields     []string
	schema     map[string]interface{}
	downstream []string
	next       func(r model.Route, a model.Answers) Step
}

const yesNoPattern = "^(yes|no)$"

var registrantTypeValues = []interface{}{
	model.TypeParishCouncil, model.TypeVillageCouncil,
	model.TypeCentralGovernment, model.TypeNDPB,
	model.TypeFireService, model.TypeCombinedAuthority, model.TypePCC,
	model.TypeJointAuthority, model.TypeJointCommittee, model.TypeLocalAuthority,
	model.TypeRepresentingPS, model.TypeRepresentingProf,
	model.TypeNone,
}

func objectSchema(required []string, properties map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func nonEmptyString() map[string]interface{} {
	return map[string]interface{}{"type": "string", "minLength": 1}
}

func yesNo() map[string]interface{} {
	return map[string]interface{}{"type": "string", "pattern": yesNoPattern}
}

// allEvidenceKeys lists every evidence answer and its upload triple.
func allEvidenceKeys() []string {
	keys := make([]string, 0, 12)
	for _, field := range model.EvidenceFields {
		keys = append(keys, field)
		uk := model.UploadKeys(field)
		keys = append(keys, uk[0], uk[1], uk[2])
	}
	return keys
}

// steps is the per-step lookup table. Branch fields must not drift: the
// registrant-type step turns on the primary route, domain-confirmation on
// the secondary, and the evidence steps on their own submitted value.
var steps = map[Step]stepDef{
	StepRegistrarDetails: {
		fields: []string{"registrar_organisation", "registrar_name", "registrar_phone", "registrar_email"},
		schema: objectSchema(
			[]string{"registrar_organisation", "registrar_name", "registrar_phone", "registrar_email"},
			map[string]interface{}{
				"registrar_organisation": nonEmptyString(),
				"registrar_name":         nonEmptyString(),
				"registrar_phone":        nonEmptyString(),
				"registrar_email":        map[string]interface{}{"type": "string", "pattern": "^[^@\\s]+@[^@\\s]+$"},
			},
		),
		next: func(model.Route, model.Answers) Step { return StepRegistrantType },
	},

	StepRegistrantType: {
		fields: []string{"registrant_type"},
		schema: objectSchema([]string{"registrant_type"}, map[string]interface{}{
			"registrant_type": map[string]interface{}{"type": "string", "enum": registrantTypeValues},
		}),
		downstream: append([]string{
			"domain_purpose", "domain_name", "domain_confirmation",
		}, allEvidenceKeys()...),
		next: func(r model.Route, _ model.Answers) Step {
			switch r.Primary {
			case route.PrimaryCentral:
				return StepDomainPurpose
			case route.PrimaryIneligible:
				return StepIneligible
			default:
				return StepDomain
			}
		},
	},

	StepDomainPurpose: {
		fields: []string{"domain_purpose"},
		schema: objectSchema([]string{"domain_purpose"}, map[string]interface{}{
			"domain_purpose": nonEmptyString(),
		}),
		downstream: append([]string{
			"domain_name", "domain_confirmation",
			"registrant_organisation", "registrant_full_name", "registrant_phone", "registrant_email",
			"registrant_role", "registry_published_name", "registry_published_email",
		}, allEvidenceKeys()...),
		// The purpose value decides which evidence chain runs; the domain
		// entry loop sits in between, so the branch materialises at
		// domain-confirmation via the secondary route it produces.
		next: func(model.Route, model.Answers) Step { return StepDomain },
	},

	StepDomain: {
		fields: []string{"domain_name"},
		schema: objectSchema([]string{"domain_name"}, map[string]interface{}{
			"domain_name": map[string]interface{}{
				"type":    "string",
				"pattern": "^[a-z0-9][a-z0-9-]*\\.gov\\.uk$",
			},
		}),
		downstream: []string{"domain_confirmation"},
		next:       func(model.Route, model.Answers) Step { return StepDomainConfirmation },
	},

	StepDomainConfirmation: {
		fields: []string{"domain_confirmation"},
		schema: objectSchema([]string{"domain_confirmation"}, map[string]interface{}{
			"domain_confirmation": yesNo(),
		}),
		next: func(r model.Route, a model.Answers) Step {
			// Secondary 12 is the parish-tier retry loop; any tier goes
			// back to domain entry when the name is not confirmed.
			if r.Secondary == route.SecondaryRetryDomain || a.Get("domain_confirmation") == "no" {
				return StepDomain
			}
			if r.Primary != route.PrimaryCentral {
				return StepRegistrantDetails
			}
			if r.Secondary == route.SecondaryEmailOnly {
				return StepWrittenPermission
			}
			return StepExemption
		},
	},

	StepExemption: {
		fields: []string{"exemption"},
		schema: objectSchema([]string{"exemption"}, map[string]interface{}{
			"exemption": yesNo(),
		}),
		next: func(_ model.Route, a model.Answers) Step {
			if a.Get("exemption") == "yes" {
				return StepExemptionUpload
			}
			return StepExemptionRefused
		},
	},
	StepExemptionConfirm: {
		next: func(model.Route, model.Answers) Step { return StepWrittenPermission },
	},

	StepWrittenPermission: {
		fields: []string{"written_permission"},
		schema: objectSchema([]string{"written_permission"}, map[string]interface{}{
			"written_permission": yesNo(),
		}),
		next: func(_ model.Route, a model.Answers) Step {
			if a.Get("written_permission") == "yes" {
				return StepPermissionUpload
			}
			return StepPermissionRefused
		},
	},
	StepPermissionConfirm: {
		next: func(model.Route, model.Answers) Step { return StepMinister },
	},

	StepMinister: {
		fields: []string{"minister"},
		schema: objectSchema([]string{"minister"}, map[string]interface{}{
			"minister": yesNo(),
		}),
		next: func(_ model.Route, a model.Answers) Step {
			if a.Get("minister") == "yes" {
				return StepMinisterUpload
			}
			return StepRegistrantDetails
		},
	},
	StepMinisterConfirm: {
		next: func(model.Route, model.Answers) Step { return StepRegistrantDetails },
	},

	StepRegistrantDetails: {
		fields: []string{"registrant_organisation", "registrant_full_name", "registrant_phone", "registrant_email"},
		schema: objectSchema(
			[]string{"registrant_organisation", "registrant_full_name", "registrant_phone", "registrant_email"},
			map[string]interface{}{
				"registrant_organisation": nonEmptyString(),
				"registrant_full_name":    nonEmptyString(),
				"registrant_phone":        nonEmptyString(),
				"registrant_email":        map[string]interface{}{"type": "string", "pattern": "^[^@\\s]+@[^@\\s]+$"},
			},
		),
		next: func(model.Route, model.Answers) Step { return StepRegistryDetails },
	},

	StepRegistryDetails: {
		fields: []string{"registrant_role", "registry_published_name", "registry_published_email"},
		schema: objectSchema(
			[]string{"registrant_role", "registry_published_name", "registry_published_email"},
			map[string]interface{}{
				"registrant_role":          nonEmptyString(),
				"registry_published_name":  nonEmptyString(),
				"registry_published_email": map[string]interface{}{"type": "string", "pattern": "^[^@\\s]+@[^@\\s]+$"},
			},
		),
		next: func(model.Route, model.Answers) Step { return StepConfirm },
	},
}

// uploadSteps maps each upload state to the evidence field it stores and
// the confirm state that follows it.
var uploadSteps = map[Step]struct {
	field   string
	confirm Step
}{
	StepExemptionUpload:  {"exemption", StepExemptionConfirm},
	StepPermissionUpload: {"written_permission", StepPermissionConfirm},
	StepMinisterUpload:   {"minister", StepMinisterConfirm},
}
