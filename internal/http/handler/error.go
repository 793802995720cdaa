package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"dbprov/internal/dburl"
	"dbprov/internal/dialect"
	"dbprov/internal/http/middleware"
	"dbprov/internal/provision"
	"dbprov/internal/service"
)

// errorPayload defines the standardized error response body.
type errorPayload struct {
	RequestID string        `json:"request_id"`
	Error     errorEnvelope `json:"error"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// requestIDFromCtx extracts request_id previously stored by middleware.RequestID.
func requestIDFromCtx(c *fiber.Ctx) string {
	if v := c.Locals(middleware.RequestIDLocalKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// writeError writes a standardized JSON error response. message must be
// safe to show to the caller.
func writeError(c *fiber.Ctx, status int, code, message string) error {
	res := errorPayload{
		RequestID: requestIDFromCtx(c),
		Error: errorEnvelope{
			Code:    code,
			Message: message,
		},
	}
	return c.Status(status).JSON(res)
}

// inputError maps errors caused by the caller's input. Their messages name
// only the offending URL part and never carry a password.
type inputError struct {
	err    error
	status int
	code   string
}

var inputErrors = []inputError{
	{dburl.ErrMixedMultihost, fiber.StatusBadRequest, "MIXED_MULTIHOST"},
	{dburl.ErrHostPortMismatch, fiber.StatusBadRequest, "HOST_PORT_MISMATCH"},
	{dburl.ErrInvalidPort, fiber.StatusBadRequest, "INVALID_PORT"},
	{dburl.ErrEmptyHost, fiber.StatusBadRequest, "EMPTY_HOST"},
	{dburl.ErrAmbiguousHost, fiber.StatusBadRequest, "AMBIGUOUS_HOST"},
	{dburl.ErrInvalidHost, fiber.StatusBadRequest, "INVALID_URL"},
	{dburl.ErrInvalidURL, fiber.StatusBadRequest, "INVALID_URL"},
	{dialect.ErrInvalidDatabase, fiber.StatusBadRequest, "INVALID_URL"},
	{dialect.ErrInvalidQueryOption, fiber.StatusBadRequest, "INVALID_URL"},
	{dialect.ErrHostsNotSupported, fiber.StatusBadRequest, "INVALID_URL"},
	{dialect.ErrNoSuchDialect, fiber.StatusBadRequest, "UNKNOWN_DIALECT"},
	{provision.ErrInvalidIdent, fiber.StatusBadRequest, "INVALID_IDENT"},
	{provision.ErrMalformedLine, fiber.StatusBadRequest, "INVALID_IDENTS"},
	{provision.ErrUnsupportedMultihost, fiber.StatusBadRequest, "UNSUPPORTED_MULTIHOST"},
	{provision.ErrDatabaseNotFound, fiber.StatusNotFound, "DATABASE_NOT_FOUND"},
	{service.ErrURLRequired, fiber.StatusBadRequest, "URL_REQUIRED"},
	{service.ErrNotFound, fiber.StatusNotFound, "NOT_FOUND"},
	{service.ErrFollowerExists, fiber.StatusConflict, "FOLLOWER_EXISTS"},
	{service.ErrUnmanaged, fiber.StatusConflict, "FOLLOWER_UNMANAGED"},
}

// writeServiceError translates a service error into the error envelope.
// Unrecognized errors are logged and reported as fallbackCode without
// their message.
func writeServiceError(c *fiber.Ctx, err error, fallbackStatus int, fallbackCode, fallbackMessage string) error {
	for _, ie := range inputErrors {
		if errors.Is(err, ie.err) {
			return writeError(c, ie.status, ie.code, err.Error())
		}
	}

	switch {
	case errors.Is(err, service.ErrNoMainURLs):
		return writeError(c, fiber.StatusServiceUnavailable, "NOT_CONFIGURED", "no provisioning urls configured")
	case errors.Is(err, provision.ErrNotImplemented):
		return writeError(c, fiber.StatusNotImplemented, "NOT_IMPLEMENTED", "backend does not support provisioning")
	}

	zerolog.Ctx(c.UserContext()).Error().
		Err(err).
		Str("path", c.Path()).
		Msg("request failed")
	return writeError(c, fallbackStatus, fallbackCode, fallbackMessage)
}

// ErrorHandler returns a Fiber global error handler that standardizes error responses.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			status = e.Code
		}

		switch status {
		case fiber.StatusBadRequest:
			return writeError(c, status, "BAD_REQUEST", "bad request")
		case fiber.StatusNotFound:
			return writeError(c, status, "NOT_FOUND", "resource not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, status, "METHOD_NOT_ALLOWED", "method not allowed")
		case fiber.StatusRequestEntityTooLarge:
			return writeError(c, status, "BODY_TOO_LARGE", "request body too large")
		default:
			return writeError(c, status, "INTERNAL_ERROR", "internal server error")
		}
	}
}
