package connect

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-print"
	"github.com/google/uuid"
)

var (
	errEmptyBody       = errors.New("request body is empty")
	errUnsupportedBody = errors.New("request body must be json or a form")
)

// DefaultContextKey is the fiber locals key holding the request AuthClaims
const DefaultContextKey = "user"

// ClaimsFromContext returns the claims stored by the JWT middleware
func ClaimsFromContext(c *fiber.Ctx, key string) (AuthClaims, bool) {
	if key == "" {
		key = DefaultContextKey
	}
	claims, ok := c.Locals(key).(AuthClaims)
	return claims, ok && claims != nil
}

type AuthControllerRoutes struct {
	Register              string
	EmailConfirmation     string
	SendEmailConfirmation string
	ForgotPassword        string
	ResetPassword         string
	Login                 string
}

// AuthControllerAliases are extra paths mounted on the same handlers
type AuthControllerAliases struct {
	Register          []string
	EmailConfirmation []string
	Login             []string
}

type AuthController struct {
	Debug   bool
	Logger  Logger
	Auth    AuthCapability
	Routes  *AuthControllerRoutes
	Aliases *AuthControllerAliases
}

type AuthControllerOption func(*AuthController) *AuthController

// WithAuthControllerDebug dumps responses to the logger
func WithAuthControllerDebug(debug bool) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		a.Debug = debug
		return a
	}
}

// WithAuthControllerLogger sets the logger
func WithAuthControllerLogger(logger Logger) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		if logger != nil {
			a.Logger = logger
		}
		return a
	}
}

// WithAuthControllerRoutes replaces the default paths
func WithAuthControllerRoutes(routes *AuthControllerRoutes) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		if routes != nil {
			a.Routes = routes
		}
		return a
	}
}

// WithAuthControllerAliases replaces the default alias paths
func WithAuthControllerAliases(aliases *AuthControllerAliases) AuthControllerOption {
	return func(a *AuthController) *AuthController {
		if aliases != nil {
			a.Aliases = aliases
		}
		return a
	}
}

func NewAuthController(auth AuthCapability, opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger: defLogger{},
		Auth:   auth,
		Routes: &AuthControllerRoutes{
			Register:              "/auth/local/register",
			EmailConfirmation:     DefaultConfirmationPath,
			SendEmailConfirmation: "/auth/send-email-confirmation",
			ForgotPassword:        "/auth/forgot-password",
			ResetPassword:         "/auth/reset-password",
			Login:                 "/auth/local",
		},
		Aliases: &AuthControllerAliases{
			Register:          []string{"/auth/register"},
			EmailConfirmation: []string{"/auth/verify"},
			Login:             []string{"/auth/callback"},
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Auth == nil {
		panic("Missing AuthCapability in auth controller...")
	}

	return c
}

// RegisterAuthRoutes mounts the auth endpoints. limiters run in front of
// the login, forgot password and resend confirmation handlers.
func RegisterAuthRoutes(app fiber.Router, controller *AuthController, limiters ...fiber.Handler) {
	limited := func(h fiber.Handler) []fiber.Handler {
		return append(append([]fiber.Handler{}, limiters...), h)
	}

	for _, path := range withAliases(controller.Routes.Register, controller.Aliases.Register) {
		app.Post(path, controller.RegisterPost).Name("auth.register")
	}

	for _, path := range withAliases(controller.Routes.EmailConfirmation, controller.Aliases.EmailConfirmation) {
		app.Get(path, controller.EmailConfirmationGet).Name("auth.email-confirmation")
	}

	app.Post(controller.Routes.SendEmailConfirmation, limited(controller.SendEmailConfirmationPost)...).
		Name("auth.send-email-confirmation")

	app.Post(controller.Routes.ForgotPassword, limited(controller.ForgotPasswordPost)...).
		Name("auth.forgot-password")

	app.Post(controller.Routes.ResetPassword, controller.ResetPasswordPost).
		Name("auth.reset-password")

	for _, path := range withAliases(controller.Routes.Login, controller.Aliases.Login) {
		app.Post(path, limited(controller.LoginPost)...).Name("auth.login")
	}
}

func (a *AuthController) RegisterPost(c *fiber.Ctx) error {
	payload := RegisterInput{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}

	res, err := a.Auth.Register(c.UserContext(), payload)
	if err != nil {
		return err
	}

	a.dump("register", res)
	return c.JSON(res)
}

// EmailConfirmationGet confirms the token in the confirmation query
// parameter and answers with the user, or redirects when configured to.
func (a *AuthController) EmailConfirmationGet(c *fiber.Ctx) error {
	res, err := a.Auth.ConfirmEmail(c.UserContext(), c.Query("confirmation"))
	if err != nil {
		return err
	}

	if res.Redirect != "" {
		return c.Redirect(res.Redirect, fiber.StatusFound)
	}

	a.dump("email confirmation", res.User)
	return c.JSON(res.User)
}

func (a *AuthController) SendEmailConfirmationPost(c *fiber.Ctx) error {
	payload := SendEmailConfirmationInput{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}

	res, err := a.Auth.SendEmailConfirmation(c.UserContext(), payload)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (a *AuthController) ForgotPasswordPost(c *fiber.Ctx) error {
	payload := ForgotPasswordInput{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}

	res, err := a.Auth.ForgotPassword(c.UserContext(), payload)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (a *AuthController) ResetPasswordPost(c *fiber.Ctx) error {
	payload := ResetPasswordInput{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}

	res, err := a.Auth.ResetPassword(c.UserContext(), payload)
	if err != nil {
		return err
	}

	a.dump("reset password", res)
	return c.JSON(res)
}

func (a *AuthController) LoginPost(c *fiber.Ctx) error {
	payload := Credentials{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}

	res, err := a.Auth.Login(c.UserContext(), payload)
	if err != nil {
		return err
	}

	a.dump("login", res)
	return c.JSON(res)
}

func (a *AuthController) dump(label string, v any) {
	if !a.Debug {
		return
	}
	a.Logger.Debug("======= AUTH "+strings.ToUpper(label)+" ======\n" + print.MaybePrettyJSON(v))
}

// ConnectionManager is the connection request surface used over HTTP
type ConnectionManager interface {
	Create(ctx context.Context, requesterID uuid.UUID, input ConnectionCreateInput) (*ConnectionRequest, error)
	Update(ctx context.Context, actorID, id uuid.UUID, update ConnectionUpdate) (*ConnectionRequest, error)
	Get(ctx context.Context, actorID, id uuid.UUID) (*ConnectionRequest, error)
	ListForUser(ctx context.Context, userID uuid.UUID, status ConnectionStatus) ([]*ConnectionRequest, error)
}

var _ ConnectionManager = (*ConnectionService)(nil)

type ConnectionController struct {
	Debug      bool
	Logger     Logger
	Service    ConnectionManager
	BasePath   string
	ContextKey string
}

type ConnectionControllerOption func(*ConnectionController) *ConnectionController

// WithConnectionControllerDebug dumps responses to the logger
func WithConnectionControllerDebug(debug bool) ConnectionControllerOption {
	return func(cc *ConnectionController) *ConnectionController {
		cc.Debug = debug
		return cc
	}
}

// WithConnectionControllerLogger sets the logger
func WithConnectionControllerLogger(logger Logger) ConnectionControllerOption {
	return func(cc *ConnectionController) *ConnectionController {
		if logger != nil {
			cc.Logger = logger
		}
		return cc
	}
}

// WithConnectionControllerContextKey sets the locals key the claims are read from
func WithConnectionControllerContextKey(key string) ConnectionControllerOption {
	return func(cc *ConnectionController) *ConnectionController {
		if key != "" {
			cc.ContextKey = key
		}
		return cc
	}
}

func NewConnectionController(service ConnectionManager, opts ...ConnectionControllerOption) *ConnectionController {
	c := &ConnectionController{
		Logger:     defLogger{},
		Service:    service,
		BasePath:   "/connection-requests",
		ContextKey: DefaultContextKey,
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Service == nil {
		panic("Missing ConnectionManager in connection controller...")
	}

	return c
}

// RegisterConnectionRoutes mounts the connection request endpoints behind protected
func RegisterConnectionRoutes(app fiber.Router, controller *ConnectionController, protected fiber.Handler) {
	group := app.Group(controller.BasePath, protected)
	group.Post("/", controller.Create).Name("connection-requests.create")
	group.Get("/", controller.Index).Name("connection-requests.index")
	group.Get("/:id", controller.Show).Name("connection-requests.show")
	group.Put("/:id", controller.Update).Name("connection-requests.update")
}

func (cc *ConnectionController) Create(c *fiber.Ctx) error {
	actor, err := cc.actor(c)
	if err != nil {
		return err
	}

	payload := ConnectionCreateInput{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}

	record, err := cc.Service.Create(c.UserContext(), actor, payload)
	if err != nil {
		return err
	}

	cc.dump("create", record)
	return c.Status(fiber.StatusCreated).JSON(record)
}

func (cc *ConnectionController) Update(c *fiber.Ctx) error {
	actor, err := cc.actor(c)
	if err != nil {
		return err
	}

	id, err := pathID(c)
	if err != nil {
		return err
	}

	payload := ConnectionUpdate{}
	if err := parseBody(c, &payload); err != nil {
		return err
	}

	record, err := cc.Service.Update(c.UserContext(), actor, id, payload)
	if err != nil {
		return err
	}

	cc.dump("update", record)
	return c.JSON(record)
}

func (cc *ConnectionController) Show(c *fiber.Ctx) error {
	actor, err := cc.actor(c)
	if err != nil {
		return err
	}

	id, err := pathID(c)
	if err != nil {
		return err
	}

	record, err := cc.Service.Get(c.UserContext(), actor, id)
	if err != nil {
		return err
	}
	return c.JSON(record)
}

func (cc *ConnectionController) Index(c *fiber.Ctx) error {
	actor, err := cc.actor(c)
	if err != nil {
		return err
	}

	records, err := cc.Service.ListForUser(c.UserContext(), actor, ConnectionStatus(c.Query("status")))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": records, "count": len(records)})
}

func (cc *ConnectionController) actor(c *fiber.Ctx) (uuid.UUID, error) {
	claims, ok := ClaimsFromContext(c, cc.ContextKey)
	if !ok {
		return uuid.Nil, ErrUnauthorized
	}
	return ActorID(claims)
}

func (cc *ConnectionController) dump(label string, v any) {
	if !cc.Debug {
		return
	}
	cc.Logger.Debug("======= CONNECTION "+strings.ToUpper(label)+" ======\n" + print.MaybePrettyJSON(v))
}

// ErrorHandler renders errors as {"error": {status, name, message, details}}.
// Errors outside the go-errors taxonomy become a generic 500.
func ErrorHandler(logger Logger) fiber.ErrorHandler {
	if logger == nil {
		logger = defLogger{}
	}

	return func(c *fiber.Ctx, err error) error {
		status := http.StatusInternalServerError
		name := TextCodeInternal
		message := "internal server error"
		details := map[string]any{}

		var ferr *fiber.Error
		if rich, ok := richError(err); ok {
			status = HTTPStatus(rich)
			message = rich.Message
			if rich.TextCode != "" {
				name = rich.TextCode
			}
			for k, v := range rich.Metadata {
				details[k] = v
			}
			if status >= http.StatusInternalServerError {
				logger.Error("request failed", "path", c.Path(), "error", err)
			}
		} else if errors.As(err, &ferr) {
			status = ferr.Code
			message = ferr.Message
			name = strings.ToUpper(strings.ReplaceAll(http.StatusText(ferr.Code), " ", "_"))
		} else {
			logger.Error("unhandled request error", "path", c.Path(), "error", err)
		}

		return c.Status(status).JSON(fiber.Map{
			"error": fiber.Map{
				"status":  status,
				"name":    name,
				"message": message,
				"details": details,
			},
		})
	}
}

// fieldRecorder is implemented by payloads that reject unknown keys.
// JSON bodies record their keys while decoding, form bodies through here.
type fieldRecorder interface {
	recordFields(keys []string)
}

func parseBody(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return NewValidationError(errEmptyBody)
	}
	if err := c.BodyParser(out); err != nil {
		return NewValidationError(err)
	}

	recorder, ok := out.(fieldRecorder)
	if !ok {
		return nil
	}

	keys, isForm, err := formKeys(c)
	if err != nil {
		return NewValidationError(err)
	}
	if isForm {
		recorder.recordFields(keys)
		return nil
	}
	if !strings.HasSuffix(bodyContentType(c), "json") {
		return NewValidationError(errUnsupportedBody)
	}
	return nil
}

func bodyContentType(c *fiber.Ctx) string {
	ctype := strings.ToLower(string(c.Request().Header.ContentType()))
	if i := strings.IndexByte(ctype, ';'); i >= 0 {
		ctype = ctype[:i]
	}
	return strings.TrimSpace(ctype)
}

// formKeys lists the keys of an urlencoded or multipart body. isForm is
// false for any other content type.
func formKeys(c *fiber.Ctx) (keys []string, isForm bool, err error) {
	ctype := bodyContentType(c)
	seen := map[string]bool{}
	add := func(k string) {
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}

	switch {
	case strings.HasPrefix(ctype, fiber.MIMEApplicationForm):
		c.Request().PostArgs().VisitAll(func(k, _ []byte) {
			add(string(k))
		})
	case strings.HasPrefix(ctype, fiber.MIMEMultipartForm):
		form, ferr := c.MultipartForm()
		if ferr != nil {
			return nil, true, ferr
		}
		for k := range form.Value {
			add(k)
		}
		for k := range form.File {
			add(k)
		}
	default:
		return nil, false, nil
	}

	sort.Strings(keys)
	return keys, true, nil
}

func pathID(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, ErrNotFound
	}
	return id, nil
}

func withAliases(path string, aliases []string) []string {
	out := []string{path}
	for _, alias := range aliases {
		if alias != "" && alias != path {
			out = append(out, alias)
		}
	}
	return out
}
