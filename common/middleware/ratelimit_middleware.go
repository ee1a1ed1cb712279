package middleware

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/flowrunner/common/ratelimit"
	"github.com/lyzr/flowrunner/store"
)

// WebhookRateLimitMiddleware throttles webhook triggers per workflow.
// The workflow's complexity tier picks the quota; heavier workflows get
// fewer triggers per window. Errors fail open so a Redis outage never
// blocks webhook delivery.
func WebhookRateLimitMiddleware(rateLimiter *ratelimit.RateLimiter, workflows store.WorkflowStore) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			workflowID := c.Param("workflowID")
			if workflowID == "" {
				return next(c)
			}

			stored, err := workflows.Get(c.Request().Context(), workflowID)
			if err != nil {
				// Unknown workflow: let the handler produce its 404.
				return next(c)
			}

			tier := ratelimit.InspectWorkflow(stored.Workflow).Tier
			result, err := rateLimiter.CheckWebhookLimit(c.Request().Context(), workflowID, tier)
			if err != nil {
				// On error, allow request (fail open for availability)
				return next(c)
			}

			if !result.Allowed {
				c.Response().Header().Set("Retry-After", strconv.FormatInt(result.RetryAfterSeconds, 10))
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "rate_limit_exceeded",
					"message": "Webhook trigger quota exhausted for this workflow. Please try again later.",
					"details": map[string]interface{}{
						"tier":                string(tier),
						"limit":               result.Limit,
						"window":              "60 seconds",
						"current_count":       result.CurrentCount,
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}

			return next(c)
		}
	}
}

// GlobalRateLimitMiddleware checks the global service-wide rate limit
// Protects the entire service from being overwhelmed
func GlobalRateLimitMiddleware(rateLimiter *ratelimit.RateLimiter, limit int64) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			result, err := rateLimiter.CheckGlobalLimit(c.Request().Context(), limit)
			if err != nil {
				// On error, allow request (fail open for availability)
				return next(c)
			}

			if !result.Allowed {
				c.Response().Header().Set("Retry-After", strconv.FormatInt(result.RetryAfterSeconds, 10))
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "global_rate_limit_exceeded",
					"message": "Service is experiencing high load. Please try again later.",
					"details": map[string]interface{}{
						"limit":               result.Limit,
						"window":              "60 seconds",
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}

			return next(c)
		}
	}
}
