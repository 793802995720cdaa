package middleware

import (
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	applog "dbprov/internal/log"
)

// Logger logs one structured entry per request with request_id, method,
// path, status and latency in milliseconds.
func Logger() fiber.Handler {
	return loggerWith(applog.WithComponent("http"))
}

// LoggerWithWriter writes the access log to w instead of the base logger.
func LoggerWithWriter(w io.Writer) fiber.Handler {
	return loggerWith(zerolog.New(w).With().Timestamp().Logger())
}

func loggerWith(logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		status := c.Response().StatusCode()
		if fe, ok := err.(*fiber.Error); ok {
			status = fe.Code
		}
		rid, _ := c.Locals(RequestIDLocalKey).(string)

		ev := logger.Info()
		switch {
		case status >= fiber.StatusInternalServerError:
			ev = logger.Error()
		case status >= fiber.StatusBadRequest:
			ev = logger.Warn()
		}
		ev.Str(applog.FieldRequestID, rid).
			Str("method", c.Method()).
			Str("path", c.Path()).
			Int("status", status).
			Float64("latency", float64(time.Since(start).Microseconds())/1000).
			Msg("request")

		return err
	}
}
