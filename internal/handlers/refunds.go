package handlers

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/montrack/montrack-api/internal/services"
	"github.com/montrack/montrack-api/internal/utils"
)

// RefundHandler exposes the refund sub-ledger
type RefundHandler struct {
	ledger *services.Ledger
	log    zerolog.Logger
}

func NewRefundHandler(ledger *services.Ledger, log zerolog.Logger) *RefundHandler {
	return &RefundHandler{ledger: ledger, log: log}
}

type linkRefundRequest struct {
	RefundTxID   int64  `json:"refund_tx_id"`
	OriginalTxID int64  `json:"original_tx_id"`
	SplitID      *int64 `json:"split_id"`
}

// LinkRefund connects an existing transaction to the one it refunds
// POST /v1/refunds
func (h *RefundHandler) LinkRefund(c fiber.Ctx) error {
	userID, err := requireUserID(c)
	if err != nil {
		return err
	}

	var req linkRefundRequest
	if err := c.Bind().Body(&req); err != nil {
		return utils.NewBadRequestError("invalid request body", err.Error())
	}

	link, err := h.ledger.LinkRefund(c.Context(), services.LinkRefundParams{
		UserID:       userID,
		RefundTxID:   req.RefundTxID,
		OriginalTxID: req.OriginalTxID,
		SplitID:      req.SplitID,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    link,
	})
}

// UnlinkRefund removes the refund edge; both transactions stay
// DELETE /v1/refunds/:refundTxId
func (h *RefundHandler) UnlinkRefund(c fiber.Ctx) error {
	userID, err := requireUserID(c)
	if err != nil {
		return err
	}
	refundTxID, err := pathID(c, "refundTxId")
	if err != nil {
		return err
	}

	if err := h.ledger.UnlinkRefund(c.Context(), userID, refundTxID); err != nil {
		return mapServiceError(err)
	}
	return utils.SuccessResponse(c, fiber.Map{"unlinked": refundTxID})
}
