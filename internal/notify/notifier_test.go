package notify

import (
	"bytes"
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gomarketplace_sync/pkg/logger"
)

func TestNewFallsBackToLog(t *testing.T) {
	n := New(SMTPConfig{}, logger.Discard())
	assert.IsType(t, &LogNotifier{}, n)
	assert.NoError(t, n.EmailAlert(context.Background(), "s", "b", errors.New("x")))
}

func TestLogNotifierWritesAlert(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewLogger(&buf, "[test]")
	log.SetConsole(false)

	require.NoError(t, NewLogNotifier(log).EmailAlert(context.Background(), "sync failed", "2 items", errors.New("boom")))
	assert.Contains(t, buf.String(), "sync failed")
	assert.Contains(t, buf.String(), "cause: boom")
}

func TestSMTPNotifierRetries(t *testing.T) {
	n := New(SMTPConfig{Host: "mail.example.com", From: "sync@example.com", To: []string{"ops@example.com"}, MaxTries: 3}, logger.Discard()).(*SMTPNotifier)

	var attempts int
	var sent []byte
	n.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		attempts++
		assert.Equal(t, "mail.example.com:587", addr)
		if attempts < 2 {
			return errors.New("421 try later")
		}
		sent = msg
		return nil
	}

	require.NoError(t, n.EmailAlert(context.Background(), "sync report", "line1\nline2", nil))
	assert.Equal(t, 2, attempts)
	assert.True(t, strings.Contains(string(sent), "Subject: sync report\r\n"))
	assert.Contains(t, string(sent), "line1\r\nline2")
}

func TestSMTPNotifierGivesUp(t *testing.T) {
	n := New(SMTPConfig{Host: "mail.example.com", To: []string{"ops@example.com"}, MaxTries: 2}, logger.Discard()).(*SMTPNotifier)
	attempts := 0
	n.send = func(string, smtp.Auth, string, []string, []byte) error {
		attempts++
		return errors.New("550 rejected")
	}

	err := n.EmailAlert(context.Background(), "s", "b", nil)
	assert.ErrorContains(t, err, "550 rejected")
	assert.Equal(t, 2, attempts)
}
