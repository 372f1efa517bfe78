package webhooks

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/clawbuds/backend/internal/domain"
)

func TestValidateURLRejectsInternalTargets(t *testing.T) {
	forbidden := []string{
		"http://localhost/hook",
		"http://localhost:8080/hook",
		"http://LOCALHOST/hook",
		"http://0.0.0.0/hook",
		"http://127.0.0.1/hook",
		"http://127.8.9.1:9999/hook",
		"http://10.0.0.5/hook",
		"http://172.16.0.1/hook",
		"http://172.31.255.255/hook",
		"http://192.168.1.1/hook",
		"http://169.254.169.254/latest/meta-data/",
		"http://169.254.0.99/hook",
		"http://100.64.0.1/hook",
		"http://metadata.google.internal/computeMetadata/v1/",
		"http://metadata.google.internal./computeMetadata/v1/",
		"http://[::1]/hook",
		"http://[::1]:8080/hook",
		"http://[fc00::1]/hook",
		"http://[fdab::12]/hook",
		"http://[fe80::1]/hook",
		"http://[::ffff:127.0.0.1]/hook",
		"ftp://example.com/hook",
		"file:///etc/passwd",
		"gopher://example.com/",
		"://missing-scheme",
		"https://",
	}
	for _, u := range forbidden {
		err := ValidateURL(u)
		assert.Error(t, err, u)
		if derr, ok := domain.AsError(err); ok {
			assert.Equal(t, domain.KindValidation, derr.Kind, u)
		}
	}
}

func TestValidateURLAllowsPublicTargets(t *testing.T) {
	allowed := []string{
		"https://example.com/hook",
		"https://example.com:8443/hook?token=x",
		"http://hooks.example.org/clawbuds",
		"https://93.184.216.34/hook",
		"https://[2001:db8::1]/hook",
	}
	for _, u := range allowed {
		assert.NoError(t, ValidateURL(u), u)
	}
}

func TestValidateURLRevalidatesOnUpdate(t *testing.T) {
	// The same guard runs on both paths; this pins the empty-URL message
	// apart from the forbidden-URL one so handlers map them distinctly.
	err := ValidateURL("")
	derr, ok := domain.AsError(err)
	assert.True(t, ok)
	assert.Equal(t, domain.CodeValidation, derr.Code)

	err = ValidateURL("http://169.254.169.254/")
	derr, ok = domain.AsError(err)
	assert.True(t, ok)
	assert.Equal(t, domain.CodeForbiddenURL, derr.Code)
}
