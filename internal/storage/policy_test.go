package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvidencePolicyAcceptsAllowedTypes(t *testing.T) {
	for _, tc := range []struct {
		name        string
		contentType string
	}{
		{"evidence.pdf", "application/pdf"},
		{"evidence.png", "image/png"},
		{"evidence.jpg", "image/jpeg"},
		{"evidence.jpeg", "image/jpeg"},
	} {
		assert.NoError(t, EvidencePolicy.ValidateFile(tc.name, tc.contentType, 1024), tc.name)
	}
}

func TestEvidencePolicyRejectsOversizedFile(t *testing.T) {
	tooBig := int64(EvidencePolicy.MaxFileMB)*1024*1024 + 1
	err := EvidencePolicy.ValidateFile("evidence.pdf", "application/pdf", tooBig)
	assert.Error(t, err)
}

func TestEvidencePolicyRejectsDisallowedMime(t *testing.T) {
	err := EvidencePolicy.ValidateFile("evidence.pdf", "application/zip", 1024)
	assert.Error(t, err)
}

func TestEvidencePolicyRejectsDisallowedExtension(t *testing.T) {
	// Matching MIME type is not enough when the extension is wrong.
	err := EvidencePolicy.ValidateFile("evidence.exe", "application/pdf", 1024)
	assert.Error(t, err)
}

func TestEvidencePolicyMimeParameters(t *testing.T) {
	assert.NoError(t, EvidencePolicy.ValidateFile("evidence.pdf", "application/pdf; charset=binary", 1024))
}

func TestObjectNamespaces(t *testing.T) {
	assert.Equal(t, "tmp/sess1/exemption/01ABC.pdf", TempObject("sess1", "exemption", "01ABC.pdf"))
	assert.Equal(t, "applications/GOVUK12042026BCDF/exemption/01ABC.pdf",
		PermanentObject("GOVUK12042026BCDF", "exemption", "01ABC.pdf"))
}
