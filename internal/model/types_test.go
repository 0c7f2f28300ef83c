package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusTerminal(t *testing.T) {
	for _, s := range []ApplicationStatus{StatusApproved, StatusRejected, StatusDuplicate, StatusArchive} {
		assert.True(t, s.Terminal(), string(s))
	}
	for _, s := range []ApplicationStatus{
		StatusNew, StatusInProgress, StatusReadyForReview, StatusMoreInformation,
		StatusOnHold, StatusFailedConfirmationEmail, StatusFailedDecisionEmail,
	} {
		assert.False(t, s.Terminal(), string(s))
	}
}
