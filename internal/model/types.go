package model

import "time"

// ApplicationStatus represents the lifecycle status of an application
type ApplicationStatus string

const (
	StatusNew                     ApplicationStatus = "new"
	StatusInProgress              ApplicationStatus = "in_progress"
	StatusReadyForReview          ApplicationStatus = "ready_for_review"
	StatusMoreInformation         ApplicationStatus = "more_information"
	StatusOnHold                  ApplicationStatus = "on_hold"
	StatusApproved                ApplicationStatus = "approved"
	StatusRejected                ApplicationStatus = "rejected"
	StatusFailedConfirmationEmail ApplicationStatus = "failed_confirmation_email"
	StatusFailedDecisionEmail     ApplicationStatus = "failed_decision_email"
	StatusDuplicate               ApplicationStatus = "duplicate_application"
	StatusArchive                 ApplicationStatus = "archive"
)

// Terminal reports whether the automated lifecycle must leave the
// application alone. Reviewers can still archive manually.
func (s ApplicationStatus) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusDuplicate, StatusArchive:
		return true
	}
	return false
}

// Registrant types accepted by the registrant-type step
const (
	TypeParishCouncil     = "parish_council"
	TypeVillageCouncil    = "village_council"
	TypeCentralGovernment = "central_government"
	TypeNDPB              = "ndpb"
	TypeFireService       = "fire_service"
	TypeCombinedAuthority = "combined_authority"
	TypePCC               = "pcc"
	TypeJointAuthority    = "joint_authority"
	TypeJointCommittee    = "joint_committee"
	TypeLocalAuthority    = "local_authority"
	TypeRepresentingPS    = "representing_public_sector"
	TypeRepresentingProf  = "representing_profession"
	TypeNone              = "none"
)

// Domain purposes accepted by the domain-purpose step. Any other non-empty
// value is treated as a named "other" use case.
const (
	PurposeEmailOnly    = "email-only"
	PurposeWebsiteEmail = "website-email"
)

// Route is the computed eligibility path through the wizard. Zero fields
// mean "not yet determinable from the answers so far".
type Route struct {
	Primary   int `json:"primary"`
	Secondary int `json:"secondary,omitempty"`
	Tertiary  int `json:"tertiary,omitempty"`
}

// Answers is the session-scoped registration data, one wizard field per
// key. Upload steps contribute three keys per evidence type:
// {field}_file_uploaded_filename, {field}_file_original_filename and
// {field}_file_uploaded_url.
type Answers map[string]string

// Get returns the value for key, or "" when unset.
func (a Answers) Get(key string) string {
	if a == nil {
		return ""
	}
	return a[key]
}

// Has reports whether key holds a non-empty value.
func (a Answers) Has(key string) bool {
	return a.Get(key) != ""
}

// Clone returns a copy so callers can mutate without aliasing the
// session-held map.
func (a Answers) Clone() Answers {
	out := make(Answers, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// EvidenceFields are the answer keys that carry upload sub-steps
var EvidenceFields = []string{"exemption", "written_permission", "minister"}

// UploadKeys returns the three session keys holding upload state for field.
func UploadKeys(field string) [3]string {
	return [3]string{
		field + "_file_uploaded_filename",
		field + "_file_original_filename",
		field + "_file_uploaded_url",
	}
}

// Application is the persisted record created once at final submission
type Application struct {
	ID                 string            `json:"id"`
	Reference          string            `json:"reference"`
	SessionKey         string            `json:"-"`
	Status             ApplicationStatus `json:"status"`
	Owner              *string           `json:"owner,omitempty"`
	RegistrarOrgID     string            `json:"registrarOrgId"`
	RegistrantOrgID    string            `json:"registrantOrgId"`
	RegistrarPersonID  string            `json:"registrarPersonId"`
	RegistrantPersonID string            `json:"registrantPersonId"`
	RegistryPersonID   string            `json:"registryPersonId"`
	DomainName         string            `json:"domainName"`
	DomainPurpose      *string           `json:"domainPurpose,omitempty"`
	ExemptionFile      *string           `json:"exemptionFile,omitempty"`
	PermissionFile     *string           `json:"permissionFile,omitempty"`
	MinisterFile       *string           `json:"ministerFile,omitempty"`
	TimeSubmitted      time.Time         `json:"timeSubmitted"`
	TimeDecided        *time.Time        `json:"timeDecided,omitempty"`
	LastUpdated        time.Time         `json:"lastUpdated"`
}

// ReviewVerdict is a per-section triage outcome
type ReviewVerdict string

const (
	VerdictApprove ReviewVerdict = "approve"
	VerdictHold    ReviewVerdict = "holding"
	VerdictReject  ReviewVerdict = "reject"
)

// ReviewSections must all carry a verdict and notes before a decision
var ReviewSections = []string{"registrar", "domain", "registrant", "registry"}

// Review is the 1:1 triage companion of an Application, created in the
// same transaction.
type Review struct {
	ID            string                   `json:"id"`
	ApplicationID string                   `json:"applicationId"`
	Verdicts      map[string]ReviewVerdict `json:"verdicts"`
	Notes         map[string]string        `json:"notes"`
	Reason        string                   `json:"reason,omitempty"`
	CreatedAt     time.Time                `json:"createdAt"`
	UpdatedAt     time.Time                `json:"updatedAt"`
}

// Decidable reports whether every required section has a verdict backed by
// non-empty notes.
func (r *Review) Decidable() bool {
	for _, section := range ReviewSections {
		if _, ok := r.Verdicts[section]; !ok {
			return false
		}
		if r.Notes[section] == "" {
			return false
		}
	}
	return true
}

// Organisation is a registrar or registrant body, deduplicated by
// (kind, name) across applications
type Organisation struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"` // "registrar" | "registrant"
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Person is a named contact, deduplicated by (name, email)
type Person struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     *string   `json:"phone,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// TimeFlag holds the process-wide lifecycle thresholds (singleton row)
type TimeFlag struct {
	OnHoldDays  int `json:"onHoldDays"`
	ToCloseDays int `json:"toCloseDays"`
}

// NotificationKind classifies outbound emails for failure handling
type NotificationKind string

const (
	NotificationConfirmation NotificationKind = "confirmation"
	NotificationDecision     NotificationKind = "decision"
)

// NotificationID correlates an outbound email with its provider-side
// tracking id. Rows are deleted once a terminal delivery status is seen.
type NotificationID struct {
	ID         string           `json:"id"`
	ProviderID string           `json:"providerId"`
	Reference  string           `json:"reference"` // application reference the email carries
	Kind       NotificationKind `json:"kind"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// ApplicationEvent is one row of the append-only audit log, written in the
// same transaction as the mutation it records.
type ApplicationEvent struct {
	ID            string                 `json:"id"`
	ApplicationID string                 `json:"applicationId"`
	Actor         string                 `json:"actor"`
	Kind          string                 `json:"kind"`
	Detail        map[string]interface{} `json:"detail,omitempty"`
	CreatedAt     time.Time              `json:"createdAt"`
}
