package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/montrack/montrack-api/internal/models"
	"github.com/montrack/montrack-api/internal/money"
	"github.com/montrack/montrack-api/internal/services"
	"github.com/montrack/montrack-api/internal/utils"
)

// TransactionHandler exposes the ledger's transaction operations
type TransactionHandler struct {
	ledger *services.Ledger
	log    zerolog.Logger
}

// NewTransactionHandler creates a new transaction handler
func NewTransactionHandler(ledger *services.Ledger, log zerolog.Logger) *TransactionHandler {
	return &TransactionHandler{ledger: ledger, log: log}
}

type splitRequest struct {
	CategoryID int64  `json:"category_id"`
	Amount     string `json:"amount"`
	Note       string `json:"note"`
}

type refundOfRequest struct {
	OriginalTxID int64  `json:"original_tx_id"`
	SplitID      *int64 `json:"split_id"`
}

type createTransactionRequest struct {
	AccountID      int64                  `json:"account_id"`
	Amount         string                 `json:"amount"`
	Type           string                 `json:"transaction_type"`
	Time           *time.Time             `json:"time"`
	Note           string                 `json:"note"`
	TransferNature string                 `json:"transfer_nature"`
	CategoryID     int64                  `json:"category_id"`
	Splits         []splitRequest         `json:"splits"`
	RefundOf       *refundOfRequest       `json:"refund_of"`
	DestAccountID  int64                  `json:"destination_account_id"`
	DestAmount     string                 `json:"destination_amount"`
	DestTxID       int64                  `json:"destination_transaction_id"`
	PortfolioID    int64                  `json:"portfolio_id"`
	ExternalData   map[string]interface{} `json:"external_data"`
}

// CreateTransaction records a transaction or transfer pair
// POST /v1/transactions
func (h *TransactionHandler) CreateTransaction(c fiber.Ctx) error {
	userID, err := requireUserID(c)
	if err != nil {
		return err
	}

	var req createTransactionRequest
	if err := c.Bind().Body(&req); err != nil {
		return utils.NewBadRequestError("invalid request body", err.Error())
	}

	amount, err := money.FromDecimalString(req.Amount, money.ScaleCents)
	if err != nil {
		return utils.NewValidationError("invalid amount", req.Amount)
	}

	transfer, err := buildTransferSpec(&req)
	if err != nil {
		return err
	}

	params := services.CreateParams{
		UserID:       userID,
		AccountID:    req.AccountID,
		Amount:       amount,
		Type:         models.TransactionType(req.Type),
		Note:         req.Note,
		Transfer:     transfer,
		ExternalData: req.ExternalData,
	}
	if req.Time != nil {
		params.Time = *req.Time
	}

	created, err := h.ledger.Create(c.Context(), params)
	if err != nil {
		return mapServiceError(err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    created,
	})
}

// buildTransferSpec converts the flat request shape into the nature-specific
// spec. Unknown natures and contradictory field combinations fail here with a
// 422; the ledger re-validates the business rules regardless.
func buildTransferSpec(req *createTransactionRequest) (models.TransferSpec, error) {
	switch models.TransferNature(req.TransferNature) {
	case models.NotTransfer, "":
		spec := models.NotTransferSpec{CategoryID: req.CategoryID}
		for _, s := range req.Splits {
			amount, err := money.FromDecimalString(s.Amount, money.ScaleCents)
			if err != nil {
				return nil, utils.NewValidationError("invalid split amount", s.Amount)
			}
			spec.Splits = append(spec.Splits, models.SplitInput{
				CategoryID: s.CategoryID,
				Amount:     amount,
				Note:       s.Note,
			})
		}
		if req.RefundOf != nil {
			spec.RefundOf = &models.RefundTarget{
				OriginalTxID: req.RefundOf.OriginalTxID,
				SplitID:      req.RefundOf.SplitID,
			}
		}
		return spec, nil
	case models.CommonTransfer:
		if req.DestTxID > 0 {
			if req.DestAccountID > 0 || req.DestAmount != "" {
				return nil, utils.NewValidationError(
					"destination transaction and destination account are mutually exclusive", nil)
			}
			return models.CommonTransferSpec{
				Destination: models.ExistingTx{TransactionID: req.DestTxID},
			}, nil
		}
		destAmount, err := money.FromDecimalString(req.DestAmount, money.ScaleCents)
		if err != nil {
			return nil, utils.NewValidationError("invalid destination amount", req.DestAmount)
		}
		return models.CommonTransferSpec{
			Destination: models.NewLeg{AccountID: req.DestAccountID, Amount: destAmount},
		}, nil
	case models.TransferOutWallet:
		return models.OutOfWalletSpec{}, nil
	case models.TransferToPortfolio:
		return models.ToPortfolioSpec{PortfolioID: req.PortfolioID}, nil
	default:
		return nil, utils.NewValidationError("unknown transfer nature", req.TransferNature)
	}
}

type updateTransactionRequest struct {
	Amount     *string         `json:"amount"`
	AccountID  *int64          `json:"account_id"`
	Type       *string         `json:"transaction_type"`
	Time       *time.Time      `json:"time"`
	Note       *string         `json:"note"`
	CategoryID *int64          `json:"category_id"`
	Splits     *[]splitRequest `json:"splits"`
	DestAmount *string         `json:"destination_amount"`
}

// UpdateTransaction patches a transaction, rebalancing affected accounts
// PUT /v1/transactions/:id
func (h *TransactionHandler) UpdateTransaction(c fiber.Ctx) error {
	userID, err := requireUserID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	var req updateTransactionRequest
	if err := c.Bind().Body(&req); err != nil {
		return utils.NewBadRequestError("invalid request body", err.Error())
	}

	params := services.UpdateParams{
		AccountID: req.AccountID,
		Time:      req.Time,
		Note:      req.Note,
	}
	if req.Amount != nil {
		amount, err := money.FromDecimalString(*req.Amount, money.ScaleCents)
		if err != nil {
			return utils.NewValidationError("invalid amount", *req.Amount)
		}
		params.Amount = &amount
	}
	if req.Type != nil {
		t := models.TransactionType(*req.Type)
		params.Type = &t
	}
	if req.CategoryID != nil {
		params.CategoryID = req.CategoryID
	}
	if req.Splits != nil {
		splits := make([]models.SplitInput, 0, len(*req.Splits))
		for _, s := range *req.Splits {
			amount, err := money.FromDecimalString(s.Amount, money.ScaleCents)
			if err != nil {
				return utils.NewValidationError("invalid split amount", s.Amount)
			}
			splits = append(splits, models.SplitInput{
				CategoryID: s.CategoryID,
				Amount:     amount,
				Note:       s.Note,
			})
		}
		params.Splits = &splits
	}
	if req.DestAmount != nil {
		amount, err := money.FromDecimalString(*req.DestAmount, money.ScaleCents)
		if err != nil {
			return utils.NewValidationError("invalid destination amount", *req.DestAmount)
		}
		params.DestinationAmount = &amount
	}

	updated, err := h.ledger.Update(c.Context(), userID, id, params)
	if err != nil {
		return mapServiceError(err)
	}
	return utils.SuccessResponse(c, updated)
}

// DeleteTransaction removes a transaction, reversing its balance effect
// DELETE /v1/transactions/:id
func (h *TransactionHandler) DeleteTransaction(c fiber.Ctx) error {
	userID, err := requireUserID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	if err := h.ledger.Delete(c.Context(), userID, id); err != nil {
		return mapServiceError(err)
	}
	return utils.SuccessResponse(c, fiber.Map{"deleted": id})
}

type linkTransactionsRequest struct {
	Pairs []struct {
		BaseTxID     int64 `json:"base_tx_id"`
		OppositeTxID int64 `json:"opposite_tx_id"`
	} `json:"pairs"`
}

// LinkTransactions merges pairs of transactions into transfer pairs
// POST /v1/transactions/link
func (h *TransactionHandler) LinkTransactions(c fiber.Ctx) error {
	userID, err := requireUserID(c)
	if err != nil {
		return err
	}

	var req linkTransactionsRequest
	if err := c.Bind().Body(&req); err != nil {
		return utils.NewBadRequestError("invalid request body", err.Error())
	}
	if len(req.Pairs) == 0 {
		return utils.NewValidationError("at least one pair is required", nil)
	}

	pairs := make([]services.LinkPair, 0, len(req.Pairs))
	for _, p := range req.Pairs {
		pairs = append(pairs, services.LinkPair{BaseTxID: p.BaseTxID, OppositeTxID: p.OppositeTxID})
	}

	linked, err := h.ledger.LinkTransactions(c.Context(), userID, pairs)
	if err != nil {
		return mapServiceError(err)
	}
	return utils.SuccessResponse(c, linked)
}

// GetSplits lists the splits of a transaction
// GET /v1/transactions/:id/splits
func (h *TransactionHandler) GetSplits(c fiber.Ctx) error {
	userID, err := requireUserID(c)
	if err != nil {
		return err
	}
	id, err := pathID(c, "id")
	if err != nil {
		return err
	}

	splits, err := h.ledger.Splits(c.Context(), userID, id)
	if err != nil {
		return mapServiceError(err)
	}
	return utils.SuccessResponse(c, splits)
}

func requireUserID(c fiber.Ctx) (int64, error) {
	userID, ok := c.Locals("user_id").(int64)
	if !ok || userID <= 0 {
		return 0, &utils.APIError{
			StatusCode: fiber.StatusUnauthorized,
			Code:       "UNAUTHORIZED",
			Message:    "user not authenticated",
		}
	}
	return userID, nil
}

func pathID(c fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, utils.NewBadRequestError("invalid id", c.Params(name))
	}
	return id, nil
}

// mapServiceError translates the service taxonomy into HTTP errors.
func mapServiceError(err error) error {
	var (
		vErr  *services.ValidationError
		cErr  *services.ConflictError
		nfErr *services.NotFoundError
	)
	switch {
	case errors.As(err, &vErr):
		return utils.NewValidationError(vErr.Message, fiber.Map{"field": vErr.Field})
	case errors.As(err, &cErr):
		return utils.NewConflictError(cErr.Message, nil)
	case errors.As(err, &nfErr):
		return utils.NewNotFoundError(nfErr.Resource)
	case errors.Is(err, services.ErrRateNotFound):
		return utils.NewValidationError("no exchange rate available for the currency pair", nil)
	default:
		return utils.NewInternalError(err)
	}
}
