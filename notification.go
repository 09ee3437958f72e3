package connect

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"
	"github.com/gofiber/template/django/v3"
)

//go:embed templates/*.html
var templatesFS embed.FS

// GetTemplatesFS returns the email templates shipped with this package
func GetTemplatesFS() fs.FS {
	sub, err := fs.Sub(templatesFS, "templates")
	if err != nil {
		panic(err)
	}
	return sub
}

// NotificationMessage is a single outgoing email
type NotificationMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
}

// Template names
const (
	TemplateConnectionRequested = "connection_requested"
	TemplateConnectionAccepted  = "connection_accepted"
	TemplateEmailConfirmation   = "email_confirmation"
	TemplateResetPassword       = "reset_password"
)

// Subjects of the lifecycle notifications
const (
	SubjectConnectionRequested = "You Got a Connection Request"
	SubjectConnectionAccepted  = "Your Connection Request is Accepted"
	SubjectEmailConfirmation   = "Account confirmation"
	SubjectResetPassword       = "Reset password"
)

// MailTemplate defines the subject and text body as pongo2 sources. The
// HTML body is the view of the same name in the templates FS.
type MailTemplate struct {
	Subject string
	Text    string
}

// DefaultMailTemplates are the templates used unless overridden
var DefaultMailTemplates = map[string]MailTemplate{
	TemplateConnectionRequested: {
		Subject: SubjectConnectionRequested,
		Text:    "Hi {{ receiver_name }},\n\n{{ requester_name }} would like to connect with you.{% if message %}\n\n\"{{ message }}\"{% endif %}\n",
	},
	TemplateConnectionAccepted: {
		Subject: SubjectConnectionAccepted,
		Text:    "Hi {{ requester_name }},\n\n{{ receiver_name }} accepted your connection request.\n",
	},
	TemplateEmailConfirmation: {
		Subject: SubjectEmailConfirmation,
		Text:    "Hi {{ name }},\n\nThank you for registering. Please confirm your email address:\n\n{{ url }}\n",
	},
	TemplateResetPassword: {
		Subject: SubjectResetPassword,
		Text:    "Hi {{ name }},\n\nUse the link below to reset your password:\n\n{{ url }}\n\nIf you did not ask for a reset you can ignore this email.\n",
	},
}

type compiledTemplate struct {
	subject *pongo2.Template
	text    *pongo2.Template
}

// Templates renders notification messages. Safe for concurrent use.
type Templates struct {
	mu       sync.RWMutex
	engine   *django.Engine
	layout   string
	siteName string
	compiled map[string]compiledTemplate
}

// TemplatesOption configures Templates
type TemplatesOption func(*Templates)

// WithTemplatesLayout sets the HTML layout view, empty disables it
func WithTemplatesLayout(layout string) TemplatesOption {
	return func(t *Templates) {
		t.layout = layout
	}
}

// WithTemplatesSiteName sets the site name exposed to all templates
func WithTemplatesSiteName(name string) TemplatesOption {
	return func(t *Templates) {
		t.siteName = name
	}
}

// NewTemplates loads the HTML views from views (the embedded set when nil)
// and compiles the default subject and text templates.
func NewTemplates(views fs.FS, opts ...TemplatesOption) (*Templates, error) {
	if views == nil {
		views = GetTemplatesFS()
	}

	t := &Templates{
		engine:   django.NewFileSystem(http.FS(views), ".html"),
		layout:   "layout",
		siteName: "Connect",
		compiled: map[string]compiledTemplate{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}

	if err := t.engine.Load(); err != nil {
		return nil, fmt.Errorf("load mail views: %w", err)
	}

	for name, def := range DefaultMailTemplates {
		if err := t.Register(name, def); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// MustTemplates is NewTemplates with the embedded views, panicking on error
func MustTemplates(opts ...TemplatesOption) *Templates {
	t, err := NewTemplates(nil, opts...)
	if err != nil {
		panic(err)
	}
	return t
}

// Register compiles def and stores it under name, replacing any previous one
func (t *Templates) Register(name string, def MailTemplate) error {
	subject, err := pongo2.FromString(plain(def.Subject))
	if err != nil {
		return fmt.Errorf("compile %s subject: %w", name, err)
	}

	text, err := pongo2.FromString(plain(def.Text))
	if err != nil {
		return fmt.Errorf("compile %s text: %w", name, err)
	}

	t.mu.Lock()
	t.compiled[name] = compiledTemplate{subject: subject, text: text}
	t.mu.Unlock()
	return nil
}

// Render builds the message for template name addressed to to
func (t *Templates) Render(name, to string, data map[string]any) (NotificationMessage, error) {
	t.mu.RLock()
	tpl, ok := t.compiled[name]
	t.mu.RUnlock()
	if !ok {
		return NotificationMessage{}, fmt.Errorf("unknown mail template %q", name)
	}

	ctx := pongo2.Context{"site_name": t.siteName}
	for k, v := range data {
		ctx[k] = v
	}

	subject, err := tpl.subject.Execute(ctx)
	if err != nil {
		return NotificationMessage{}, fmt.Errorf("render %s subject: %w", name, err)
	}

	text, err := tpl.text.Execute(ctx)
	if err != nil {
		return NotificationMessage{}, fmt.Errorf("render %s text: %w", name, err)
	}

	ctx["subject"] = subject

	var html bytes.Buffer
	if err := t.engine.Render(&html, name, map[string]any(ctx), t.layout); err != nil {
		return NotificationMessage{}, fmt.Errorf("render %s html: %w", name, err)
	}

	return NotificationMessage{
		To:      to,
		Subject: strings.TrimSpace(subject),
		Text:    text,
		HTML:    html.String(),
	}, nil
}

// ConnectionRequestedMessage notifies the receiver of a new request
func (t *Templates) ConnectionRequestedMessage(req *ConnectionRequest) (NotificationMessage, error) {
	return t.Render(TemplateConnectionRequested, req.Receiver.Email, connectionData(req))
}

// ConnectionAcceptedMessage notifies the requester that the receiver accepted
func (t *Templates) ConnectionAcceptedMessage(req *ConnectionRequest) (NotificationMessage, error) {
	return t.Render(TemplateConnectionAccepted, req.Requester.Email, connectionData(req))
}

// EmailConfirmationMessage carries the confirmation link
func (t *Templates) EmailConfirmationMessage(user *User, url string) (NotificationMessage, error) {
	return t.Render(TemplateEmailConfirmation, user.Email, map[string]any{
		"name": user.DisplayName(),
		"url":  url,
	})
}

// ResetPasswordMessage carries the reset link
func (t *Templates) ResetPasswordMessage(user *User, url string) (NotificationMessage, error) {
	return t.Render(TemplateResetPassword, user.Email, map[string]any{
		"name": user.DisplayName(),
		"url":  url,
	})
}

// plain disables HTML escaping for subject and text bodies
func plain(src string) string {
	return "{% autoescape off %}" + src + "{% endautoescape %}"
}

func connectionData(req *ConnectionRequest) map[string]any {
	return map[string]any{
		"requester_name": req.Requester.DisplayName(),
		"receiver_name":  req.Receiver.DisplayName(),
		"message":        req.Message,
		"status":         string(req.Status),
	}
}
