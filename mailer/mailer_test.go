package mailer

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"

	connect "github.com/goliatone/go-connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMTPSenderBuildsMultipartMessage(t *testing.T) {
	var (
		gotAddr string
		gotFrom string
		gotTo   []string
		gotBody string
		gotAuth smtp.Auth
	)

	sender := NewSMTPSender(SMTPConfig{
		Host:     "smtp.example.com",
		Username: "user",
		Password: "secret",
		From:     "no-reply@example.com",
	})
	sender.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	sender.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotFrom, gotTo, gotBody = addr, a, from, to, string(msg)
		return nil
	}

	err := sender.Send(context.Background(), connect.NotificationMessage{
		To:      "jane@example.com",
		Subject: "You Got a Connection Request",
		Text:    "Hi Jane",
		HTML:    "<p>Hi Jane</p>",
	})
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.NotNil(t, gotAuth)
	assert.Equal(t, "no-reply@example.com", gotFrom)
	assert.Equal(t, []string{"jane@example.com"}, gotTo)
	assert.Contains(t, gotBody, "Subject: You Got a Connection Request\r\n")
	assert.Contains(t, gotBody, "To: jane@example.com\r\n")
	assert.Contains(t, gotBody, "multipart/alternative; boundary=")
	assert.Contains(t, gotBody, "text/plain; charset=utf-8")
	assert.Contains(t, gotBody, "<p>Hi Jane</p>")
	assert.True(t, strings.Index(gotBody, "Hi Jane") < strings.Index(gotBody, "<p>Hi Jane</p>"))
}

func TestSMTPSenderWrapsDeliveryErrors(t *testing.T) {
	sender := NewSMTPSender(SMTPConfig{Host: "smtp.example.com", Port: 25})
	sender.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}

	err := sender.Send(context.Background(), connect.NotificationMessage{To: "a@example.com", Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp delivery failed")
}

func TestSMTPSenderRequiresRecipient(t *testing.T) {
	sender := NewSMTPSender(SMTPConfig{Host: "smtp.example.com"})
	sender.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("must not dial")
		return nil
	}

	assert.Error(t, sender.Send(context.Background(), connect.NotificationMessage{}))
}

func TestSMTPSenderHonoursCancelledContext(t *testing.T) {
	sender := NewSMTPSender(SMTPConfig{Host: "smtp.example.com"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, sender.Send(ctx, connect.NotificationMessage{To: "a@example.com"}), context.Canceled)
}

func TestOutbox(t *testing.T) {
	box := NewOutbox()
	ctx := context.Background()

	require.NoError(t, box.Send(ctx, connect.NotificationMessage{To: "a@example.com"}))
	require.NoError(t, box.Send(ctx, connect.NotificationMessage{To: "b@example.com"}))
	assert.Len(t, box.Messages(), 2)
	assert.Len(t, box.To("a@example.com"), 1)

	box.FailWith(errors.New("down"))
	assert.Error(t, box.Send(ctx, connect.NotificationMessage{To: "a@example.com"}))
	assert.Len(t, box.Messages(), 2)
}

func TestLogSender(t *testing.T) {
	assert.NoError(t, NewLogSender(nil, false).Send(context.Background(), connect.NotificationMessage{To: "a@example.com"}))
	assert.NoError(t, NewLogSender(nil, true).Send(context.Background(), connect.NotificationMessage{To: "a@example.com"}))
}
