package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"testing"

	"cvewatch/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailNotifierSend(t *testing.T) {
	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte

	n := NewEmailNotifier(SMTPConfig{
		Host: "smtp.example.com",
		Port: 587,
		From: "alerts@example.com",
	}, model.EmailExtras{To: "oncall@acme.dev"})
	n.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	code, err := n.Send(context.Background(), sampleReport())
	require.NoError(t, err)
	assert.Zero(t, code)

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, "alerts@example.com", gotFrom)
	assert.Equal(t, []string{"oncall@acme.dev"}, gotTo)

	body := string(gotMsg)
	assert.Contains(t, body, "Subject: [acme/backend] 1 change on Apache")
	assert.Contains(t, body, "CVE-2024-1234 [CVSS 8.1]")
	assert.Contains(t, body, "A crafted request causes a crash.")
	assert.Contains(t, body, "Events: metrics")
}

func TestEmailNotifierSendError(t *testing.T) {
	n := NewEmailNotifier(SMTPConfig{Host: "smtp.example.com", Port: 25, From: "a@b.c"},
		model.EmailExtras{To: "x@y.z"})
	n.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return fmt.Errorf("550 mailbox unavailable")
	}

	_, err := n.Send(context.Background(), sampleReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "550 mailbox unavailable")
}

func TestEmailNotifierMissingHost(t *testing.T) {
	n := NewEmailNotifier(SMTPConfig{}, model.EmailExtras{To: "x@y.z"})
	_, err := n.Send(context.Background(), sampleReport())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp host is not configured")
}

func TestRenderEmailNullScore(t *testing.T) {
	rep := sampleReport()
	rep.Changes[0].CVE.CVSS31 = nil

	body := string(renderEmail("a@b.c", "x@y.z", rep))
	assert.Contains(t, body, "CVE-2024-1234 [CVSS N/A]")
}
