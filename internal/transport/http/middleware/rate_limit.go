package middleware

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"questionnaire/internal/transport/http/response"
)

type SubmissionLimiter interface {
	Allow(ctx context.Context, clientKey string) (bool, error)
}

// LimitSubmissions rejects POSTs from clients over their quota. Limiter
// errors let the request through.
func LimitSubmissions(limiter SubmissionLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		allowed, err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			slog.WarnContext(c.Request.Context(), "submission limiter unavailable", slog.String("error", err.Error()))
			c.Next()
			return
		}
		if !allowed {
			response.Page(c, http.StatusTooManyRequests, "Too many submissions", "Please wait a moment before submitting again.")
			return
		}
		c.Next()
	}
}
