// Package mailer delivers connect.NotificationMessage values.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"sync"
	"time"

	connect "github.com/goliatone/go-connect"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

// SMTPConfig holds the SMTP relay settings
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender sends multipart text and HTML messages through an SMTP relay
type SMTPSender struct {
	cfg      SMTPConfig
	sendMail sendMailFunc
	now      func() time.Time
}

var _ connect.NotificationSender = (*SMTPSender)(nil)

// NewSMTPSender returns an SMTPSender
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPSender{
		cfg:      cfg,
		sendMail: smtp.SendMail,
		now:      time.Now,
	}
}

// Send delivers msg. net/smtp has no context support, so ctx is only
// checked before dialing.
func (s *SMTPSender) Send(ctx context.Context, msg connect.NotificationMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if msg.To == "" {
		return errors.New("notification has no recipient", errors.CategoryBadInput)
	}

	body, err := s.build(msg)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to build email")
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	if err := s.sendMail(addr, auth, s.cfg.From, []string{msg.To}, body); err != nil {
		return errors.Wrap(err, errors.CategoryExternal, "smtp delivery failed").
			WithMetadata(map[string]any{"to": msg.To, "addr": addr})
	}

	return nil
}

func (s *SMTPSender) build(msg connect.NotificationMessage) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	headers := []struct{ k, v string }{
		{"From", s.cfg.From},
		{"To", msg.To},
		{"Subject", mime.QEncoding.Encode("utf-8", msg.Subject)},
		{"Date", s.now().Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "multipart/alternative; boundary=" + mw.Boundary()},
	}

	var head bytes.Buffer
	for _, h := range headers {
		fmt.Fprintf(&head, "%s: %s\r\n", h.k, h.v)
	}
	head.WriteString("\r\n")

	parts := []struct{ contentType, body string }{
		{"text/plain; charset=utf-8", msg.Text},
		{"text/html; charset=utf-8", msg.HTML},
	}

	for _, p := range parts {
		if p.body == "" {
			continue
		}
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(p.body)); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, err
	}

	return append(head.Bytes(), buf.Bytes()...), nil
}

// LogSender writes messages to the logger instead of delivering them. Used
// when no SMTP relay is configured.
type LogSender struct {
	logger connect.Logger
	debug  bool
}

// NewLogSender returns a LogSender. With debug on the whole message is dumped.
func NewLogSender(logger connect.Logger, debug bool) *LogSender {
	if logger == nil {
		logger = connect.NewSlogLogger(nil)
	}
	return &LogSender{logger: logger, debug: debug}
}

func (l *LogSender) Send(_ context.Context, msg connect.NotificationMessage) error {
	if l.debug {
		l.logger.Debug("email\n" + print.MaybePrettyJSON(msg))
		return nil
	}
	l.logger.Info("email", "to", msg.To, "subject", msg.Subject)
	return nil
}

// Outbox collects messages in memory
type Outbox struct {
	mu       sync.Mutex
	messages []connect.NotificationMessage
	err      error
}

// NewOutbox returns an empty Outbox
func NewOutbox() *Outbox {
	return &Outbox{}
}

// FailWith makes every following Send return err
func (o *Outbox) FailWith(err error) {
	o.mu.Lock()
	o.err = err
	o.mu.Unlock()
}

func (o *Outbox) Send(_ context.Context, msg connect.NotificationMessage) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.messages = append(o.messages, msg)
	return nil
}

// Messages returns a copy of the collected messages
func (o *Outbox) Messages() []connect.NotificationMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]connect.NotificationMessage(nil), o.messages...)
}

// To returns the messages addressed to email
func (o *Outbox) To(email string) []connect.NotificationMessage {
	out := []connect.NotificationMessage{}
	for _, m := range o.Messages() {
		if m.To == email {
			out = append(out, m)
		}
	}
	return out
}
