package email_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumeapp/billingd/pkg/email"
)

func TestSendEmailParamsValidate(t *testing.T) {
	t.Parallel()

	valid := email.SendEmailParams{
		SendTo:   "user@example.com",
		Subject:  "Payment issue",
		BodyHTML: "<p>hello</p>",
	}

	t.Run("valid params", func(t *testing.T) {
		t.Parallel()
		assert.NoError(t, valid.Validate())
	})

	t.Run("missing recipient", func(t *testing.T) {
		t.Parallel()
		p := valid
		p.SendTo = ""
		assert.ErrorIs(t, p.Validate(), email.ErrInvalidParams)
	})

	t.Run("malformed recipient", func(t *testing.T) {
		t.Parallel()
		p := valid
		p.SendTo = "not-an-email"
		assert.ErrorIs(t, p.Validate(), email.ErrInvalidParams)
	})

	t.Run("missing subject", func(t *testing.T) {
		t.Parallel()
		p := valid
		p.Subject = ""
		assert.ErrorIs(t, p.Validate(), email.ErrInvalidParams)
	})

	t.Run("missing body", func(t *testing.T) {
		t.Parallel()
		p := valid
		p.BodyHTML = ""
		assert.ErrorIs(t, p.Validate(), email.ErrInvalidParams)
	})
}

func TestNewPostmarkSender(t *testing.T) {
	t.Parallel()

	t.Run("missing tokens rejected", func(t *testing.T) {
		t.Parallel()
		_, err := email.NewPostmarkSender(email.Config{
			SenderEmail:  "billing@example.com",
			SupportEmail: "support@example.com",
		})
		assert.ErrorIs(t, err, email.ErrInvalidConfig)
	})

	t.Run("invalid sender rejected", func(t *testing.T) {
		t.Parallel()
		_, err := email.NewPostmarkSender(email.Config{
			PostmarkServerToken:  "token",
			PostmarkAccountToken: "token",
			SenderEmail:          "nope",
			SupportEmail:         "support@example.com",
		})
		assert.ErrorIs(t, err, email.ErrInvalidConfig)
	})
}

func TestDevSender(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	sender := email.NewDevSender(dir)

	err := sender.SendEmail(context.Background(), email.SendEmailParams{
		SendTo:   "user@example.com",
		Subject:  "Payment issue",
		BodyHTML: "<p>update your card</p>",
		Tag:      "billing-issue",
	})
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "billing-issue")

	content, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(content), "update your card"))
}
