package route

import (
	"testing"

	"github.com/co-cddo/domains-register-a-govuk-domain-sub000/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestCompute_ParishTier(t *testing.T) {
	for _, rt := range []string{model.TypeParishCouncil, model.TypeVillageCouncil} {
		r := Compute(model.Answers{"registrant_type": rt})
		assert.Equal(t, model.Route{Primary: 1}, r, rt)
	}
}

func TestCompute_ParishDomainNotConfirmed(t *testing.T) {
	r := Compute(model.Answers{
		"registrant_type":     model.TypeParishCouncil,
		"domain_confirmation": "no",
	})
	assert.Equal(t, model.Route{Primary: 1, Secondary: 12}, r)
}

func TestCompute_CentralMidWizard(t *testing.T) {
	// Purpose not asked yet: secondary stays undetermined.
	r := Compute(model.Answers{"registrant_type": model.TypeCentralGovernment})
	assert.Equal(t, model.Route{Primary: 2}, r)
}

func TestCompute_CentralEmailOnly(t *testing.T) {
	for _, rt := range []string{model.TypeCentralGovernment, model.TypeNDPB} {
		r := Compute(model.Answers{
			"registrant_type": rt,
			"domain_purpose":  model.PurposeEmailOnly,
		})
		assert.Equal(t, model.Route{Primary: 2, Secondary: 5}, r, rt)
	}
}

func TestCompute_CentralWebsite(t *testing.T) {
	answers := model.Answers{
		"registrant_type": model.TypeNDPB,
		"domain_purpose":  model.PurposeWebsiteEmail,
	}
	assert.Equal(t, model.Route{Primary: 2, Secondary: 6}, Compute(answers))

	// Once the permission question is resolved the branches converge.
	answers["written_permission"] = "yes"
	assert.Equal(t, model.Route{Primary: 2, Secondary: 7}, Compute(answers))
}

func TestCompute_CentralOtherPurpose(t *testing.T) {
	base := model.Answers{
		"registrant_type": model.TypeCentralGovernment,
		"domain_purpose":  "api-service",
	}

	assert.Equal(t, model.Route{Primary: 2, Secondary: 7}, Compute(base))

	blocked := base.Clone()
	blocked["written_permission"] = "no"
	assert.Equal(t, model.Route{Primary: 2, Secondary: 6, Tertiary: 9}, Compute(blocked))

	// Ministerial support wins over the missing permission.
	override := blocked.Clone()
	override["minister"] = "yes"
	assert.Equal(t, model.Route{Primary: 2, Secondary: 7, Tertiary: 8}, Compute(override))
}

func TestCompute_PublicBodies(t *testing.T) {
	for _, rt := range []string{
		model.TypeFireService, model.TypeCombinedAuthority, model.TypePCC,
		model.TypeJointAuthority, model.TypeJointCommittee, model.TypeLocalAuthority,
		model.TypeRepresentingPS, model.TypeRepresentingProf,
	} {
		assert.Equal(t, model.Route{Primary: 3}, Compute(model.Answers{"registrant_type": rt}), rt)
	}
}

func TestCompute_Ineligible(t *testing.T) {
	assert.Equal(t, model.Route{Primary: 4}, Compute(model.Answers{"registrant_type": model.TypeNone}))
	assert.Equal(t, model.Route{Primary: 4}, Compute(model.Answers{"registrant_type": "private_company"}))
	assert.Equal(t, model.Route{Primary: 4}, Compute(model.Answers{}))
	assert.Equal(t, model.Route{Primary: 4}, Compute(nil))
}

func TestCompute_Deterministic(t *testing.T) {
	answers := model.Answers{
		"registrant_type":    model.TypeCentralGovernment,
		"domain_purpose":     "intranet",
		"written_permission": "no",
		"minister":           "yes",
	}
	first := Compute(answers)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Compute(answers))
	}
}
