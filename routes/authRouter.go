package routes

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/config"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/dbhelper"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/mailer"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/middlewares"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/models"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/utils"
)

const maxAuthBodyBytes = 1 << 20

type LoginAttempt struct {
	Email    string `json:"email" validate:"required,email,max=191"`
	Password string `json:"password" validate:"required,max=128"`
}

type OTPAttempt struct {
	Email string `json:"email" validate:"required,email,max=191"`
	OTP   string `json:"otp" validate:"required,max=16"`
}

type SignupAttempt struct {
	Name     string `json:"name" validate:"required,min=2,max=64"`
	Email    string `json:"email" validate:"required,email,max=191"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type RegistrationOTPAttempt struct {
	UserID uint   `json:"userId" validate:"required"`
	OTP    string `json:"otp" validate:"required,max=16"`
}

type RequestBody interface {
	LoginAttempt | OTPAttempt | SignupAttempt | RegistrationOTPAttempt
}

type SessionResponse struct {
	Token string         `json:"token"`
	User  models.Profile `json:"user"`
}

type LoginAttemptsResponse struct {
	Data  []models.LoginAttempt `json:"data"`
	Page  int                   `json:"page"`
	Limit int                   `json:"limit"`
	Total int64                 `json:"total"`
}

func DecodeValidBody[B RequestBody](w http.ResponseWriter, r *http.Request) (B, error) {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAuthBodyBytes))
	var requestBody B
	err := decoder.Decode(&requestBody)
	if err != nil {
		return requestBody, err
	}
	err = validate.Struct(requestBody)
	if err != nil {
		return requestBody, err
	}
	return requestBody, nil
}

func AdminRouter(r *mux.Router, s *Server) {
	r.HandleFunc("/login", middlewares.RateLimit(s.limiter, s.AdminLogin)).Methods(http.MethodPost)
	r.HandleFunc("/verify-otp", middlewares.RateLimit(s.limiter, s.AdminVerifyOTP)).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.auth.OptionalIdentity(s.logout(utils.ADMIN_PATH))).Methods(http.MethodPost)
	r.HandleFunc("/me", s.auth.RequireRole(models.RoleAdmin, s.Me)).Methods(http.MethodGet)
	r.HandleFunc("/login-attempts", s.auth.RequireRole(models.RoleAdmin, s.ListLoginAttempts)).Methods(http.MethodGet)
	r.HandleFunc("/orders/{id:[0-9]+}", s.auth.RequireRole(models.RoleAdmin, s.GetOrder)).Methods(http.MethodGet)
}

func (s *Server) AdminLogin(w http.ResponseWriter, r *http.Request) {
	s.login(w, r, utils.ADMIN_PATH, models.RoleAdmin)
}

func (s *Server) AdminVerifyOTP(w http.ResponseWriter, r *http.Request) {
	s.verifyOTP(w, r, utils.ADMIN_PATH, models.RoleAdmin, true)
}

// login runs the password step for accounts of role on path. The lockout budget follows the
// account's role, not the path it came in through.
func (s *Server) login(w http.ResponseWriter, r *http.Request, path, role string) {
	loginAttempt, err := DecodeValidBody[LoginAttempt](w, r)
	if err != nil {
		ValidationError(w, err)
		return
	}
	challenge, err := s.store.LoginWithPassword(r.Context(), dbhelper.LoginRequest{
		Email:       normalizeEmail(loginAttempt.Email),
		Password:    loginAttempt.Password,
		Path:        path,
		PolicyFor:   s.lockoutPolicy,
		RequireRole: role,
		OTPTTL:      s.cfg.Auth.OTPTTL,
		Meta:        requestMeta(r),
	})
	if err != nil {
		s.GenericAuthError(w, r, err)
		return
	}
	s.sendOTP(r.Context(), challenge.User.Email, challenge.User.Name, challenge.Code, mailer.PurposeLogin)
	writeJSON(w, http.StatusOK, MessageResponse{Message: utils.OTP_SENT_MESSAGE})
}

func (s *Server) lockoutPolicy(role string) config.LockoutPolicy {
	if role == models.RoleAdmin {
		return s.cfg.Auth.AdminPolicy
	}
	return s.cfg.Auth.UserPolicy
}

func (s *Server) verifyOTP(w http.ResponseWriter, r *http.Request, path, role string, setCookie bool) {
	otpAttempt, err := DecodeValidBody[OTPAttempt](w, r)
	if err != nil {
		ValidationError(w, err)
		return
	}
	user, token, err := s.store.VerifyLoginOTP(r.Context(), dbhelper.OTPRequest{
		Email:       normalizeEmail(otpAttempt.Email),
		Code:        otpAttempt.OTP,
		Path:        path,
		MaxAttempts: s.cfg.Auth.OTPMaxAttempts,
		RequireRole: role,
		Meta:        requestMeta(r),
	}, s.signFunc())
	if err != nil {
		s.GenericAuthError(w, r, err)
		return
	}
	if setCookie {
		s.setSessionCookie(w, token)
	}
	writeJSON(w, http.StatusOK, SessionResponse{Token: token, User: user.Profile()})
}

// logout records the logout and revokes the token when the request carries a valid one. The
// cookie is cleared either way.
func (s *Server) logout(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if claims, ok := middlewares.ClaimsFromContext(r.Context()); ok {
			expiresAt := time.Now().Add(s.signer.TTL())
			if claims.ExpiresAt != nil {
				expiresAt = claims.ExpiresAt.Time
			}
			if err := s.store.RecordLogout(r.Context(), claims.UserID, claims.Email, path, claims.ID, expiresAt, requestMeta(r)); err != nil {
				s.clearSessionCookie(w)
				s.serverError(w, r, err)
				return
			}
		}
		s.clearSessionCookie(w)
		writeJSON(w, http.StatusOK, MessageResponse{Message: utils.LOGGED_OUT_MESSAGE})
	}
}

func (s *Server) Me(w http.ResponseWriter, r *http.Request) {
	claims, _ := middlewares.ClaimsFromContext(r.Context())
	user, err := s.store.GetUser(r.Context(), claims.UserID)
	if err != nil {
		s.GenericAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user.Profile())
}

func (s *Server) ListLoginAttempts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := queryInt(q.Get("page"), 1)
	limit := queryInt(q.Get("limit"), 20)
	status := q.Get("status")
	switch status {
	case "", models.AttemptFailed, models.AttemptPending, models.AttemptSuccess, models.AttemptLogout:
	default:
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "Unknown status filter", Type: "status"})
		return
	}
	attempts, total, err := s.store.ListLoginAttempts(r.Context(), page, limit, status)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	writeJSON(w, http.StatusOK, LoginAttemptsResponse{Data: attempts, Page: page, Limit: limit, Total: total})
}

func (s *Server) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "Invalid order id", Type: "id"})
		return
	}
	order, err := s.store.GetOrder(r.Context(), uint(id))
	if err != nil {
		s.GenericAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func queryInt(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
