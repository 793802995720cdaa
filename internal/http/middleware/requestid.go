package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	applog "dbprov/internal/log"
)

const (
	// RequestIDHeader is the header used to propagate request IDs.
	RequestIDHeader = "X-Request-ID"
	// RequestIDLocalKey is the Fiber locals key holding the request ID.
	RequestIDLocalKey = "request_id"
)

// RequestID ensures every request carries an ID. An incoming X-Request-ID is
// reused, otherwise a UUID is generated. The ID is echoed in the response
// header, stored in locals, and attached to a request-scoped logger that
// handlers reach through zerolog.Ctx(c.UserContext()).
func RequestID() fiber.Handler {
	return RequestIDWithLogger(applog.WithComponent("http"))
}

// RequestIDWithLogger is RequestID with an explicit parent logger.
func RequestIDWithLogger(parent zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		c.Locals(RequestIDLocalKey, id)
		c.Set(RequestIDHeader, id)

		logger := parent.With().Str(applog.FieldRequestID, id).Logger()
		c.SetUserContext(logger.WithContext(c.UserContext()))

		return c.Next()
	}
}
