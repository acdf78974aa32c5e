package handler

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"stampd/internal/model"
	"stampd/internal/service"
)

// WebhookTokenHeader carries the gateway's shared-secret token.
const WebhookTokenHeader = "access-token"

// Actor headers asserted by the trusted authentication gateway.
const (
	ActorIDHeader   = "X-Actor-ID"
	ActorRoleHeader = "X-Actor-Role"
)

// Services groups the injected service dependencies for route registration.
type Services struct {
	Ledger     service.LedgerService
	Webhook    service.WebhookService
	Pipeline   service.PipelineService
	Reconciler service.ReconcilerService
	Verify     service.VerificationService
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// Handlers stay thin: parse, delegate, translate errors.
func RegisterRoutes(app *fiber.App, db *sql.DB, svcs Services) {
	// Serve OpenAPI spec and Swagger UI
	app.Get("/openapi.yaml", func(c *fiber.Ctx) error {
		c.Type("yaml")
		return c.SendFile("openapi.yaml")
	})
	app.Get("/docs", func(c *fiber.Ctx) error {
		html := `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>API Docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.ui = SwaggerUIBundle({
      url: '/openapi.yaml',
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: 'BaseLayout'
    });
  </script>
</body>
</html>`
		return c.Type("html").SendString(html)
	})

	app.Get("/health", HealthCheck(db))

	// Backward-compatible simple liveness probe
	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	app.Post("/webhooks/payment", PaymentWebhook(svcs.Webhook))

	app.Post("/registrations", CreateRegistration(svcs.Pipeline))
	app.Get("/registrations/:id", GetRegistration(svcs.Pipeline))
	app.Post("/registrations/:id/submit", SubmitRegistration(svcs.Pipeline))

	app.Get("/balances/:userID", GetBalance(svcs.Ledger))
	app.Get("/balances/:userID/entries", ListLedgerEntries(svcs.Ledger))

	app.Post("/verify", VerifyHash(svcs.Verify))

	app.Post("/admin/users/:userID/refund", RefundCredits(svcs.Ledger))
	app.Post("/admin/users/:userID/adjust", AdjustBalance(svcs.Ledger))
	app.Post("/admin/users/:userID/reconcile", ReconcileBalance(svcs.Reconciler))
	app.Post("/admin/payments/reconcile", ReconcilePayments(svcs.Webhook))
}

// HealthCheck reports DB connectivity.
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

// PaymentWebhook ingests one gateway event. 200 on accept or duplicate,
// 401 on bad token, 500 on internal failure (the audit row is still
// attempted before any of those returns).
func PaymentWebhook(svc service.WebhookService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var payload model.WebhookPayload
		if err := c.BodyParser(&payload); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_PAYLOAD", "invalid webhook payload")
		}

		res, err := svc.Process(c.UserContext(), c.Get(WebhookTokenHeader), &payload)
		if err != nil {
			if errors.Is(err, service.ErrUnauthorized) {
				return writeError(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "invalid access token")
			}
			return serviceError(c, err)
		}
		return c.JSON(res)
	}
}

// CreateRegistration accepts a multipart upload and opens a PENDING
// registration for it.
func CreateRegistration(svc service.PipelineService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor := actorFromCtx(c)
		if actor.ID == "" {
			return writeError(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "actor identity required")
		}

		fh, err := c.FormFile("file")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "file is required")
		}
		f, err := fh.Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
		}
		defer f.Close()

		reg, err := svc.Create(c.UserContext(), actor.ID, fh.Filename, f, fh.Size)
		if err != nil {
			return serviceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(reg)
	}
}

// GetRegistration returns a registration with its anchor metadata.
func GetRegistration(svc service.PipelineService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		view, err := svc.Get(c.UserContext(), id)
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(view)
	}
}

// SubmitRegistration drives the submission pipeline for one registration.
func SubmitRegistration(svc service.PipelineService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		res, err := svc.Submit(c.UserContext(), id, actorFromCtx(c))
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(res)
	}
}

// GetBalance returns the cached balance view for display surfaces.
func GetBalance(svc service.LedgerService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		bal, err := svc.CachedBalance(c.UserContext(), c.Params("userID"))
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(bal)
	}
}

// ListLedgerEntries returns a user's ledger entries, oldest first.
func ListLedgerEntries(svc service.LedgerService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "50"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		offset, err := strconv.Atoi(c.Query("offset", "0"))
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
		}
		res, err := svc.ListEntries(c.UserContext(), c.Params("userID"), limit, offset)
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(fiber.Map{"data": res.Items, "total": res.Total})
	}
}

type verifyRequest struct {
	Hash  string `json:"hash"`
	Proof string `json:"proof,omitempty"` // base64, optional
}

// VerifyHash answers whether a hash (or proof+hash pair) is anchored.
func VerifyHash(svc service.VerificationService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req verifyRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_PAYLOAD", "invalid request body")
		}

		var (
			res *service.VerificationResult
			err error
		)
		if req.Proof != "" {
			proof, decErr := base64.StdEncoding.DecodeString(req.Proof)
			if decErr != nil {
				return c.JSON(&service.VerificationResult{Status: service.VerificationInvalidFormat})
			}
			res, err = svc.VerifyProof(c.UserContext(), req.Hash, proof)
		} else {
			res, err = svc.VerifyHash(c.UserContext(), req.Hash)
		}
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(res)
	}
}

type refundRequest struct {
	Amount      int64  `json:"amount"`
	Reason      string `json:"reason"`
	ReferenceID string `json:"reference_id"`
}

// RefundCredits performs an administrative refund write.
func RefundCredits(svc service.LedgerService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req refundRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_PAYLOAD", "invalid request body")
		}
		res, err := svc.RefundCredit(c.UserContext(), service.RefundParams{
			UserID:      c.Params("userID"),
			Amount:      req.Amount,
			Reason:      req.Reason,
			ReferenceID: req.ReferenceID,
			Actor:       actorFromCtx(c),
		})
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(res)
	}
}

type adjustRequest struct {
	NewBalance int64  `json:"new_balance"`
	Reason     string `json:"reason"`
}

// AdjustBalance performs an administrative balance override.
func AdjustBalance(svc service.LedgerService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req adjustRequest
		if err := c.BodyParser(&req); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_PAYLOAD", "invalid request body")
		}
		res, err := svc.AdjustBalance(c.UserContext(), c.Params("userID"), req.NewBalance, req.Reason, actorFromCtx(c))
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(res)
	}
}

// ReconcileBalance recomputes a user's balance from the ledger fold.
func ReconcileBalance(svc service.ReconcilerService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !actorFromCtx(c).IsAdmin() {
			return writeError(c, fiber.StatusForbidden, "FORBIDDEN", "admin role required")
		}
		res, err := svc.Reconcile(c.UserContext(), c.Params("userID"))
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(res)
	}
}

// ReconcilePayments sweeps locally pending payments against the gateway.
func ReconcilePayments(svc service.WebhookService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !actorFromCtx(c).IsAdmin() {
			return writeError(c, fiber.StatusForbidden, "FORBIDDEN", "admin role required")
		}
		res, err := svc.ReconcilePendingPayments(c.UserContext())
		if err != nil {
			return serviceError(c, err)
		}
		return c.JSON(res)
	}
}

// actorFromCtx builds the actor asserted by the trusted gateway's headers.
func actorFromCtx(c *fiber.Ctx) model.Actor {
	role := model.Role(c.Get(ActorRoleHeader))
	switch role {
	case model.RoleAdmin, model.RoleUnlimited, model.RoleUser:
	default:
		role = model.RoleUser
	}
	return model.Actor{ID: c.Get(ActorIDHeader), Role: role}
}

// serviceError translates service sentinels into the HTTP error taxonomy.
// Unknown errors surface as a generic 500; details stay in server logs.
func serviceError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrUserRequired),
		errors.Is(err, service.ErrIDRequired),
		errors.Is(err, service.ErrReasonRequired),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidHash):
		return writeError(c, fiber.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, service.ErrUnauthorized):
		return writeError(c, fiber.StatusForbidden, "FORBIDDEN", "actor is not authorized")
	case errors.Is(err, service.ErrInsufficientBalance):
		return writeError(c, fiber.StatusPaymentRequired, "INSUFFICIENT_BALANCE", "insufficient balance")
	case errors.Is(err, service.ErrNotFound), errors.Is(err, sql.ErrNoRows):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "resource not found")
	case errors.Is(err, service.ErrAlreadyConfirmed):
		return writeError(c, fiber.StatusConflict, "ALREADY_CONFIRMED", "registration already confirmed")
	case errors.Is(err, service.ErrRegistrationBusy):
		return writeError(c, fiber.StatusConflict, "PROCESSING", "registration is being processed")
	case errors.Is(err, service.ErrAttemptsExhausted):
		return writeError(c, fiber.StatusConflict, "ATTEMPTS_EXHAUSTED", "submission attempt limit reached")
	default:
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}
