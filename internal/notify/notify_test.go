package notify

import (
	"context"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMail struct {
	addr string
	from string
	to   []string
	msg  string
}

func captureSender(cfg SMTPConfig) (*SMTP, *[]sentMail) {
	var sent []sentMail
	s := NewSMTP(cfg)
	s.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		sent = append(sent, sentMail{addr: addr, from: from, to: to, msg: string(msg)})
		return nil
	}
	return s, &sent
}

func TestSMTPOTPMessage(t *testing.T) {
	s, sent := captureSender(SMTPConfig{
		Host: "mail.test", Port: 587, From: "no-reply@tokenly.test",
	})

	require.NoError(t, s.SendOTP(context.Background(), "alice@acme.test", "482913", "Acme"))

	require.Len(t, *sent, 1)
	m := (*sent)[0]
	assert.Equal(t, "mail.test:587", m.addr)
	assert.Equal(t, "no-reply@tokenly.test", m.from)
	assert.Equal(t, []string{"alice@acme.test"}, m.to)
	assert.Contains(t, m.msg, "Subject: 482913 is your Acme verification code")
	assert.Contains(t, m.msg, "482913")
}

func TestSMTPMagicLinkCarriesAppID(t *testing.T) {
	s, sent := captureSender(SMTPConfig{
		Host: "mail.test", Port: 25, From: "no-reply@tokenly.test",
		FrontendURL: "https://app.acme.test",
	})

	require.NoError(t, s.SendMagicLink(context.Background(), "alice@acme.test", "tok-1", "app-1", "Acme"))

	require.Len(t, *sent, 1)
	assert.Contains(t, (*sent)[0].msg, "https://app.acme.test/auth/verify?token=tok-1&appId=app-1")
}

func TestSMTPCancelledContext(t *testing.T) {
	s, sent := captureSender(SMTPConfig{Host: "mail.test", Port: 25})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.SendWelcome(ctx, "alice@acme.test", "Acme")
	assert.Error(t, err)
	assert.Empty(t, *sent)
}

func TestSMTPHeadersTerminated(t *testing.T) {
	s, sent := captureSender(SMTPConfig{Host: "mail.test", Port: 25, From: "no-reply@tokenly.test", BackendURL: "https://api.tokenly.test"})

	require.NoError(t, s.SendVerification(context.Background(), "alice@acme.test", "tok-v", "Acme"))

	require.Len(t, *sent, 1)
	head, _, found := strings.Cut((*sent)[0].msg, "\r\n\r\n")
	require.True(t, found)
	assert.Contains(t, head, "From: no-reply@tokenly.test")
	assert.Contains(t, head, "To: alice@acme.test")
}
