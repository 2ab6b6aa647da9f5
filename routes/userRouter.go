package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/dbhelper"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/mailer"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/middlewares"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/models"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/utils"
)

type RegisterResponse struct {
	UserID  uint   `json:"userId"`
	Message string `json:"message"`
}

func UserRouter(r *mux.Router, s *Server) {
	r.HandleFunc("/register", middlewares.RateLimit(s.limiter, s.Register)).Methods(http.MethodPost)
	r.HandleFunc("/verify-registration", middlewares.RateLimit(s.limiter, s.VerifyRegistration)).Methods(http.MethodPost)
	r.HandleFunc("/login", middlewares.RateLimit(s.limiter, s.UserLogin)).Methods(http.MethodPost)
	r.HandleFunc("/verify-otp", middlewares.RateLimit(s.limiter, s.UserVerifyOTP)).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.auth.OptionalIdentity(s.logout(utils.USER_PATH))).Methods(http.MethodPost)
	r.HandleFunc("/me", s.auth.IsAccessTokenAuthorized(s.Me)).Methods(http.MethodGet)
}

func (s *Server) UserLogin(w http.ResponseWriter, r *http.Request) {
	s.login(w, r, utils.USER_PATH, models.RoleUser)
}

func (s *Server) UserVerifyOTP(w http.ResponseWriter, r *http.Request) {
	s.verifyOTP(w, r, utils.USER_PATH, models.RoleUser, false)
}

// Register stores a pending account with an already hashed password and mails the
// verification code.
func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	signupAttempt, err := DecodeValidBody[SignupAttempt](w, r)
	if err != nil {
		ValidationError(w, err)
		return
	}
	email := normalizeEmail(signupAttempt.Email)
	if err := s.policy.Validate(signupAttempt.Password, email, signupAttempt.Name); err != nil {
		s.GenericAuthError(w, r, err)
		return
	}
	passwordHash, err := utils.HashPassword(signupAttempt.Password)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	user, code, err := s.store.CreatePendingUser(r.Context(), dbhelper.RegisterRequest{
		Name:         signupAttempt.Name,
		Email:        email,
		PasswordHash: passwordHash,
		OTPTTL:       s.cfg.Auth.OTPTTL,
	})
	if err != nil {
		s.GenericAuthError(w, r, err)
		return
	}
	s.sendOTP(r.Context(), user.Email, user.Name, code, mailer.PurposeRegistration)
	writeJSON(w, http.StatusCreated, RegisterResponse{UserID: user.ID, Message: utils.OTP_SENT_MESSAGE})
}

func (s *Server) VerifyRegistration(w http.ResponseWriter, r *http.Request) {
	otpAttempt, err := DecodeValidBody[RegistrationOTPAttempt](w, r)
	if err != nil {
		ValidationError(w, err)
		return
	}
	user, token, err := s.store.VerifyRegistration(r.Context(), dbhelper.VerifyRegistrationRequest{
		UserID:      otpAttempt.UserID,
		Code:        otpAttempt.OTP,
		MaxAttempts: s.cfg.Auth.RegistrationMaxAttempts,
		Meta:        requestMeta(r),
	}, s.signFunc())
	if err != nil {
		s.GenericAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Token: token, User: user.Profile()})
}
