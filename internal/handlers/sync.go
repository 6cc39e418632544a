package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/montrack/montrack-api/internal/models"
	"github.com/montrack/montrack-api/internal/money"
	"github.com/montrack/montrack-api/internal/services"
	"github.com/montrack/montrack-api/internal/utils"
)

// autolinkTimeout bounds a background pass kicked off by a sync callback.
const autolinkTimeout = 2 * time.Minute

// SyncHandler receives bank-sync callbacks: raw external transactions and the
// post-sync auto-link trigger. These routes sit under /internal and are
// called by the sync components, not by end users.
type SyncHandler struct {
	ledger *services.Ledger
	linker *services.Linker
	log    zerolog.Logger
}

func NewSyncHandler(ledger *services.Ledger, linker *services.Linker, log zerolog.Logger) *SyncHandler {
	return &SyncHandler{ledger: ledger, linker: linker, log: log}
}

type ingestRequest struct {
	UserID       int64                  `json:"user_id"`
	AccountID    int64                  `json:"account_id"`
	OriginalID   string                 `json:"original_id"`
	Amount       string                 `json:"amount"`
	CurrencyCode string                 `json:"currency_code"`
	Type         string                 `json:"transaction_type"`
	Time         time.Time              `json:"time"`
	Note         string                 `json:"note"`
	ExternalData map[string]interface{} `json:"external_data"`
}

// IngestTransaction stores one external movement, deduplicated by
// (account_id, original_id)
// POST /v1/internal/sync/transactions
func (h *SyncHandler) IngestTransaction(c fiber.Ctx) error {
	var req ingestRequest
	if err := c.Bind().Body(&req); err != nil {
		return utils.NewBadRequestError("invalid request body", err.Error())
	}

	amount, err := money.FromDecimalString(req.Amount, money.ScaleCents)
	if err != nil {
		return utils.NewValidationError("invalid amount", req.Amount)
	}

	created, err := h.ledger.Ingest(c.Context(), models.ExternalTransaction{
		UserID:       req.UserID,
		AccountID:    req.AccountID,
		OriginalID:   req.OriginalID,
		Amount:       amount,
		CurrencyCode: req.CurrencyCode,
		Type:         models.TransactionType(req.Type),
		Time:         req.Time,
		Note:         req.Note,
		ExternalData: req.ExternalData,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    created,
	})
}

type autolinkRequest struct {
	UserID     int64      `json:"user_id"`
	Provider   string     `json:"provider"`
	AccountIDs []int64    `json:"account_ids"`
	Since      *time.Time `json:"since"`
}

// TriggerAutolink starts an auto-link pass for a user. The pass runs in the
// background; the sync caller must not block on it.
// POST /v1/internal/sync/autolink
func (h *SyncHandler) TriggerAutolink(c fiber.Ctx) error {
	var req autolinkRequest
	if err := c.Bind().Body(&req); err != nil {
		return utils.NewBadRequestError("invalid request body", err.Error())
	}
	if req.UserID <= 0 {
		return utils.NewValidationError("user_id is required", nil)
	}

	profile, ok := providerProfile(req.Provider)
	if !ok {
		return utils.NewValidationError("unknown provider", req.Provider)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), autolinkTimeout)
		defer cancel()

		// The linker logs its own pass summary on success.
		if _, err := h.linker.Run(ctx, services.RunParams{
			UserID:     req.UserID,
			Profile:    profile,
			AccountIDs: req.AccountIDs,
			Since:      req.Since,
		}); err != nil {
			h.log.Error().
				Err(err).
				Int64("user_id", req.UserID).
				Str("provider", req.Provider).
				Msg("auto-link pass aborted")
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
		"data":    fiber.Map{"status": "scheduled"},
	})
}

func providerProfile(name string) (services.ProviderProfile, bool) {
	switch name {
	case services.WalutomatProfile.Name:
		return services.WalutomatProfile, true
	default:
		return services.ProviderProfile{}, false
	}
}
