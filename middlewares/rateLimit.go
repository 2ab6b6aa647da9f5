package middlewares

import (
	"encoding/json"
	"net/http"

	"github.com/didip/tollbooth/v6"
	"github.com/didip/tollbooth/v6/limiter"
	"go.uber.org/zap"

	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/config"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/logger"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/utils"
)

// NewRateLimiter builds the per-IP token bucket used on the credential endpoints.
func NewRateLimiter(cfg config.RateLimitSettings, log *zap.Logger) *limiter.Limiter {
	if log == nil {
		log = zap.NewNop()
	}
	lmt := tollbooth.NewLimiter(cfg.RequestsPerSecond, &limiter.ExpirableOptions{DefaultExpirationTTL: cfg.TTL})
	if cfg.Burst > 0 {
		lmt.SetBurst(cfg.Burst)
	}
	// forwarded headers are resolved by RealIP, and only for trusted proxies
	lmt.SetIPLookups([]string{"RemoteAddr"})

	body, _ := json.Marshal(map[string]string{"message": utils.RATE_LIMIT_ERROR, "type": "rate_limit"})
	lmt.SetMessage(string(body))
	lmt.SetMessageContentType("application/json")
	lmt.SetOnLimitReached(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context(), log).Warn("rate limit reached",
			zap.String("path", r.URL.Path),
			zap.String("client_ip", logger.MaskIP(ClientIP(r))),
		)
	})
	return lmt
}

// RateLimit wraps f with lmt. A nil limiter disables limiting.
func RateLimit(lmt *limiter.Limiter, f http.HandlerFunc) http.HandlerFunc {
	if lmt == nil {
		return f
	}
	return tollbooth.LimitFuncHandler(lmt, f).ServeHTTP
}
