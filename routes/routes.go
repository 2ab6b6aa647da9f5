package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/didip/tollbooth/v6/limiter"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/config"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/dbhelper"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/logger"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/mailer"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/middlewares"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/models"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/payments"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/utils"
)

const mailTimeout = 30 * time.Second

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Deps are the collaborators of the HTTP layer.
type Deps struct {
	Config     *config.AppConfig
	Store      *dbhelper.Store
	Signer     *utils.TokenSigner
	Mailer     mailer.Sender
	Verifier   *payments.Verifier
	Reconciler *payments.Reconciler
	Limiter    *limiter.Limiter
	Logger     *zap.Logger
}

type Server struct {
	cfg        *config.AppConfig
	store      *dbhelper.Store
	signer     *utils.TokenSigner
	mailer     mailer.Sender
	auth       *middlewares.Authenticator
	verifier   *payments.Verifier
	reconciler *payments.Reconciler
	policy     *utils.PasswordPolicy
	limiter    *limiter.Limiter
	log        *zap.Logger
	// dispatch runs email delivery off the request path.
	dispatch func(func())
}

func NewServer(deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:        deps.Config,
		store:      deps.Store,
		signer:     deps.Signer,
		mailer:     deps.Mailer,
		auth:       middlewares.NewAuthenticator(deps.Signer, deps.Store, deps.Config.Auth.CookieName, log),
		verifier:   deps.Verifier,
		reconciler: deps.Reconciler,
		policy:     utils.DefaultPasswordPolicy(),
		limiter:    deps.Limiter,
		log:        log,
		dispatch:   func(f func()) { go f() },
	}
}

func CreateRoutes(r *mux.Router, s *Server) {
	r.StrictSlash(true)
	r.HandleFunc("/healthz", s.Health).Methods(http.MethodGet)

	AdminRouter(r.PathPrefix("/api/admin").Subrouter(), s)
	UserRouter(r.PathPrefix("/api/users").Subrouter(), s)
	WebhookRouter(r.PathPrefix("/api/payments").Subrouter(), s)
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		logger.FromContext(r.Context(), s.log).Error("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, StatusResponse{Status: "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

type StatusResponse struct {
	Status string `json:"status"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func requestMeta(r *http.Request) dbhelper.RequestMeta {
	return dbhelper.RequestMeta{IP: middlewares.ClientIP(r), UserAgent: r.UserAgent()}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// signFunc issues session tokens inside the login transactions.
func (s *Server) signFunc() dbhelper.SignFunc {
	return func(user *models.User) (string, error) {
		token, _, err := s.signer.Sign(user.ID, user.Email, user.Role)
		return token, err
	}
}

// sendOTP hands the code to the mailer after the request's transaction committed. Delivery
// failures are logged; the caller already answered.
func (s *Server) sendOTP(ctx context.Context, to, name, code string, purpose mailer.Purpose) {
	log := logger.FromContext(ctx, s.log)
	ctx = context.WithoutCancel(ctx)
	s.dispatch(func() {
		ctx, cancel := context.WithTimeout(ctx, mailTimeout)
		defer cancel()
		if err := s.mailer.SendOTP(ctx, to, name, code, purpose); err != nil {
			log.Error("send otp email",
				zap.String("to", logger.MaskEmail(to)),
				zap.String("purpose", string(purpose)),
				zap.Error(err),
			)
		}
	})
}

func (s *Server) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, s.sessionCookie(token, int(s.signer.TTL().Seconds())))
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, s.sessionCookie("", -1))
}

func (s *Server) sessionCookie(value string, maxAge int) *http.Cookie {
	c := &http.Cookie{
		Name:     s.cfg.Auth.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	if s.cfg.App.IsProduction() {
		c.Secure = true
		c.SameSite = http.SameSiteStrictMode
	}
	return c
}
