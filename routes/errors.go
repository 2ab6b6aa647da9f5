package routes

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/dbhelper"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/logger"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/middlewares"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/utils"
)

// ErrorResponse is the body of every non-2xx answer. Type names the failing input or
// condition so clients can branch on it.
type ErrorResponse struct {
	Message               string     `json:"message"`
	Type                  string     `json:"type"`
	Code                  string     `json:"code,omitempty"`
	UnlockTime            *time.Time `json:"unlockTime,omitempty"`
	RemainingAttempts     *int       `json:"remainingAttempts,omitempty"`
	RegistrationCancelled bool       `json:"registrationCancelled,omitempty"`
}

func remaining(n int) *int {
	return &n
}

// GenericAuthError maps a domain error to its HTTP answer. Unexpected errors are logged with
// the request context and answered with a generic 500.
func (s *Server) GenericAuthError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		locked   *dbhelper.AccountLockedError
		password *dbhelper.InvalidPasswordError
		regOTP   *dbhelper.RegistrationOTPError
		policy   *utils.PasswordError
	)
	switch {
	case errors.As(err, &locked):
		until := locked.Until.UTC()
		writeJSON(w, http.StatusForbidden, ErrorResponse{
			Message:    utils.ACCOUNT_LOCKED_ERROR + " " + utils.GenerateBanMessage(until, s.store.Now()),
			Type:       "account_locked",
			UnlockTime: &until,
		})
	case errors.As(err, &password):
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{
			Message:           utils.INVALID_PASSWORD_ERROR,
			Type:              "password",
			RemainingAttempts: remaining(password.Remaining),
		})
	case errors.As(err, &regOTP):
		body := ErrorResponse{
			Message:           utils.INVALID_OTP_ERROR,
			Type:              "otp",
			RemainingAttempts: remaining(regOTP.Remaining),
		}
		if regOTP.Cancelled() {
			body.Message = utils.REGISTRATION_CANCELLED_ERROR
			body.RegistrationCancelled = true
		}
		writeJSON(w, http.StatusUnauthorized, body)
	case errors.As(err, &policy):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: policy.Message, Type: "password", Code: policy.Code})
	case errors.Is(err, dbhelper.ErrUnknownEmail):
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Message: utils.INVALID_EMAIL_ERROR, Type: "email"})
	case errors.Is(err, dbhelper.ErrAccountNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Message: utils.ACCOUNT_NOT_FOUND_ERROR, Type: "email"})
	case errors.Is(err, dbhelper.ErrAccountPending):
		writeJSON(w, http.StatusForbidden, ErrorResponse{Message: utils.ACCOUNT_PENDING_ERROR, Type: "account_pending"})
	case errors.Is(err, dbhelper.ErrRoleNotAllowed):
		writeJSON(w, http.StatusForbidden, ErrorResponse{Message: utils.ROLE_NOT_ALLOWED_ERROR, Type: "role"})
	case errors.Is(err, dbhelper.ErrInvalidOTP):
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Message: utils.INVALID_OTP_ERROR, Type: "otp"})
	case errors.Is(err, dbhelper.ErrEmailTaken):
		writeJSON(w, http.StatusConflict, ErrorResponse{Message: utils.EMAIL_TAKEN_SIGNUP_ERROR, Type: "email"})
	case errors.Is(err, dbhelper.ErrRegistrationNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Message: utils.REGISTRATION_NOT_FOUND_ERROR, Type: "registration"})
	case errors.Is(err, dbhelper.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Message: "Order not found", Type: "order"})
	default:
		s.serverError(w, r, err)
	}
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	fields := []zap.Field{
		zap.String("route", r.URL.Path),
		zap.String("method", r.Method),
		zap.String("client_ip", logger.MaskIP(middlewares.ClientIP(r))),
		zap.String("user_agent", r.UserAgent()),
		zap.Error(err),
	}
	if claims, ok := middlewares.ClaimsFromContext(r.Context()); ok {
		fields = append(fields, zap.Uint("user_id", claims.UserID))
	}
	logger.FromContext(r.Context(), s.log).Error("request failed", fields...)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Message: utils.GENERIC_SERVER_ERROR, Type: "server"})
}

// ValidationError answers a body that failed to decode or validate.
func ValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: validationMessage(fe), Type: fe.Field()})
		return
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Message: "Request body too large", Type: "body"})
		return
	}
	msg := "Malformed request body"
	if errors.Is(err, io.EOF) {
		msg = "Request body is required"
	}
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: msg, Type: "body"})
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return utils.INVALID_EMAIL_ERROR
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}
