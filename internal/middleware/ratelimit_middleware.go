package middleware

import (
	"context"
	"net/http"
	"strconv"

	"relay-chat/internal/auth"
	"relay-chat/internal/redis"
	"relay-chat/internal/transport/httpdto"
	"relay-chat/pkg/logger"

	"github.com/gin-gonic/gin"
)

type MessageLimiter interface {
	AllowMessage(ctx context.Context, userID string) (*redis.RateLimitResult, error)
}

type ProfileResolver interface {
	FetchProfile(ctx context.Context, token string) (auth.Profile, error)
}

// MessageRateLimitMiddleware limits message sends per user. Apply it after
// RequireToken. Unresolvable tokens pass through; the handler rejects them.
func MessageRateLimitMiddleware(limiter MessageLimiter, resolver ProfileResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		profile, err := resolver.FetchProfile(c.Request.Context(), Token(c))
		if err != nil {
			c.Next()
			return
		}

		userID := strconv.FormatInt(profile.ID, 10)
		c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), userID))

		result, err := limiter.AllowMessage(c.Request.Context(), userID)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, httpdto.NewErrorResponse("rate limit error", "INTERNAL_ERROR"))
			return
		}

		setRateLimitHeaders(c, result)

		if !result.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, httpdto.NewErrorResponse("message rate limit exceeded", "RATE_LIMITED"))
			return
		}

		c.Next()
	}
}

func setRateLimitHeaders(c *gin.Context, result *redis.RateLimitResult) {
	c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	c.Header("X-RateLimit-Reset", strconv.FormatInt(int64(result.ResetIn.Seconds()), 10))
}
