package handler

import (
	"bytes"
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"dbprov/internal/service"
)

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
func RegisterRoutes(app *fiber.App, db *sql.DB, svc service.ProvisionService) {
	app.Get("/health", HealthCheck(db))
	app.Get("/healthz", LivenessProbe())

	urls := app.Group("/urls")
	urls.Post("/parse", ParseURL(svc))
	urls.Post("/expand", ExpandURLs(svc))
	urls.Post("/check", CheckURL(svc))

	followers := app.Group("/followers")
	followers.Get("/", ListFollowers(svc))
	followers.Post("/", CreateFollower(svc))
	followers.Post("/reap", ReapFollowers(svc))
	followers.Delete("/:ident", DropFollower(svc))
}

// HealthCheck reports whether the follower registry database is reachable.
func HealthCheck(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe always answers 200.
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

type urlRequest struct {
	URL   string `json:"url"`
	Ident string `json:"ident"`
}

type expandRequest struct {
	URLs    []string `json:"urls"`
	Drivers []string `json:"drivers"`
}

type followerRequest struct {
	Ident string `json:"ident"`
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}

func newList[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Data: items}
}

// ParseURL parses a connection URL and returns its endpoints and driver DSN.
func ParseURL(svc service.ProvisionService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req urlRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}
		info, err := svc.ParseURL(c.UserContext(), req.URL)
		if err != nil {
			return writeServiceError(c, err, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(info)
	}
}

// ExpandURLs expands URLs across extra drivers. An empty body expands the
// configured provisioning URLs.
func ExpandURLs(svc service.ProvisionService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req expandRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
			}
		}
		infos, err := svc.ExpandURLs(c.UserContext(), req.URLs, req.Drivers)
		if err != nil {
			return writeServiceError(c, err, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(newList(infos))
	}
}

// CheckURL opens a database, or its follower when ident is given, and pings it.
func CheckURL(svc service.ProvisionService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req urlRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}
		res, err := svc.Check(c.UserContext(), req.URL, req.Ident)
		if err != nil {
			return writeServiceError(c, err, fiber.StatusBadGateway, "DATABASE_UNREACHABLE", "database unreachable")
		}
		return c.JSON(res)
	}
}

// ListFollowers lists recorded followers, filtered by the ident query parameter.
func ListFollowers(svc service.ProvisionService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		items, err := svc.ListFollowers(c.UserContext(), c.Query("ident"))
		if err != nil {
			return writeServiceError(c, err, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(newList(items))
	}
}

// CreateFollower provisions a follower on every configured main database.
func CreateFollower(svc service.ProvisionService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req followerRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "invalid request body")
		}
		items, err := svc.CreateFollower(c.UserContext(), req.Ident)
		if err != nil {
			return writeServiceError(c, err, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.Status(fiber.StatusCreated).JSON(newList(items))
	}
}

// DropFollower drops a recorded follower.
func DropFollower(svc service.ProvisionService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := svc.DropFollower(c.UserContext(), c.Params("ident")); err != nil {
			return writeServiceError(c, err, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}
}

// ReapFollowers drops every recorded follower. A text/plain body is read as
// an idents file ("<ident> <url>" per line) and reaped instead.
func ReapFollowers(svc service.ProvisionService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var (
			res *service.ReapResult
			err error
		)
		if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMETextPlain) && len(c.Body()) > 0 {
			res, err = svc.ReapIdents(c.UserContext(), bytes.NewReader(c.Body()))
		} else {
			res, err = svc.Reap(c.UserContext())
		}
		if err != nil {
			return writeServiceError(c, err, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
		}
		return c.JSON(res)
	}
}
