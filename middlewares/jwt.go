package middlewares

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/logger"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/utils"
)

var ErrMissingToken = errors.New(utils.UNAUTHORIZED_ERROR)
var ErrRevokedToken = errors.New(utils.JWT_TOKEN_EXPIRED_ERROR)

type claimsKey struct{}

type TokenVerifier interface {
	Verify(token string) (*utils.SessionClaims, error)
}

type RevocationChecker interface {
	IsTokenRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Authenticator resolves the session identity of a request from its bearer token or,
// failing that, from the session cookie.
type Authenticator struct {
	verifier   TokenVerifier
	revoked    RevocationChecker
	cookieName string
	log        *zap.Logger
}

func NewAuthenticator(verifier TokenVerifier, revoked RevocationChecker, cookieName string, log *zap.Logger) *Authenticator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Authenticator{verifier: verifier, revoked: revoked, cookieName: cookieName, log: log}
}

func GetTokenFromAuthorizationHeader(authHeader string) (string, error) {
	if len(authHeader) == 0 {
		return "", ErrMissingToken
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(authHeader), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", ErrMissingToken
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

func (a *Authenticator) TokenFromRequest(r *http.Request) (string, error) {
	if token, err := GetTokenFromAuthorizationHeader(r.Header.Get("Authorization")); err == nil {
		return token, nil
	}
	if a.cookieName != "" {
		if c, err := r.Cookie(a.cookieName); err == nil && c.Value != "" {
			return c.Value, nil
		}
	}
	return "", ErrMissingToken
}

// Authenticate returns the claims of a valid, unrevoked session token on the request.
func (a *Authenticator) Authenticate(r *http.Request) (*utils.SessionClaims, error) {
	token, err := a.TokenFromRequest(r)
	if err != nil {
		return nil, err
	}
	claims, err := a.verifier.Verify(token)
	if err != nil {
		return nil, err
	}
	if a.revoked != nil {
		revoked, err := a.revoked.IsTokenRevoked(r.Context(), claims.ID)
		if err != nil {
			return nil, err
		}
		if revoked {
			return nil, ErrRevokedToken
		}
	}
	return claims, nil
}

func (a *Authenticator) IsAccessTokenAuthorized(f http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.Authenticate(r)
		if err != nil {
			a.reject(w, r, err)
			return
		}
		f(w, r.WithContext(WithClaims(r.Context(), claims)))
	}
}

// RequireRole is IsAccessTokenAuthorized plus a role check; other roles get a 403.
func (a *Authenticator) RequireRole(role string, f http.HandlerFunc) http.HandlerFunc {
	return a.IsAccessTokenAuthorized(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := ClaimsFromContext(r.Context())
		if claims.Role != role {
			WriteError(w, http.StatusForbidden, utils.FORBIDDEN_ERROR, "role")
			return
		}
		f(w, r)
	})
}

// OptionalIdentity attaches the identity when the request carries a valid token and calls f
// either way.
func (a *Authenticator) OptionalIdentity(f http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if claims, err := a.Authenticate(r); err == nil {
			r = r.WithContext(WithClaims(r.Context(), claims))
		}
		f(w, r)
	}
}

func (a *Authenticator) reject(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrMissingToken):
		WriteError(w, http.StatusUnauthorized, utils.UNAUTHORIZED_ERROR, "token")
	case errors.Is(err, utils.ErrExpiredToken), errors.Is(err, ErrRevokedToken):
		WriteError(w, http.StatusUnauthorized, utils.JWT_TOKEN_EXPIRED_ERROR, "token")
	case errors.Is(err, utils.ErrInvalidToken):
		WriteError(w, http.StatusUnauthorized, utils.JWT_TOKEN_PARSING_ERROR, "token")
	default:
		logger.FromContext(r.Context(), a.log).Error("authenticate request",
			zap.String("path", r.URL.Path), zap.Error(err))
		WriteError(w, http.StatusInternalServerError, utils.GENERIC_SERVER_ERROR, "server")
	}
}

func WithClaims(ctx context.Context, claims *utils.SessionClaims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

func ClaimsFromContext(ctx context.Context) (*utils.SessionClaims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*utils.SessionClaims)
	return claims, ok && claims != nil
}

// WriteError writes the {message, type} error body every endpoint answers with.
func WriteError(w http.ResponseWriter, status int, message, errType string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message, "type": errType})
}
