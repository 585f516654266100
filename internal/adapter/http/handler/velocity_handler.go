package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/iho/goledger-velocity/internal/adapter/http/dto"
	"github.com/iho/goledger-velocity/internal/domain"
	"github.com/iho/goledger-velocity/internal/usecase"
)

// OperationExecutor defines the behavior needed by VelocityHandler.
type OperationExecutor interface {
	Execute(ctx context.Context, input usecase.UpdateBalancesInput) error
}

// VelocityHandler handles velocity enforcement requests.
type VelocityHandler struct {
	operations OperationExecutor
	logger     zerolog.Logger
}

// NewVelocityHandler creates a new VelocityHandler.
func NewVelocityHandler(operations OperationExecutor, logger zerolog.Logger) *VelocityHandler {
	return &VelocityHandler{operations: operations, logger: logger}
}

// SubmitOperation enforces the velocity controls of one ledger operation.
func (h *VelocityHandler) SubmitOperation(w http.ResponseWriter, r *http.Request) {
	var req dto.SubmitOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	input, err := req.ToUseCaseInput()
	if err != nil {
		writeError(w, mapDomainError(err), "invalid operation", err.Error())
		return
	}

	if err := h.operations.Execute(r.Context(), input); err != nil {
		h.writeOperationError(w, input, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.OperationResponse{
		Status:        "accepted",
		TransactionID: input.Transaction.ID,
		Entries:       len(input.Entries),
	})
}

func (h *VelocityHandler) writeOperationError(w http.ResponseWriter, input usecase.UpdateBalancesInput, err error) {
	status := mapDomainError(err)

	var exceeded *domain.LimitExceededError
	if errors.As(err, &exceeded) {
		writeErrorDetails(w, status, "velocity limit exceeded", err.Error(), dto.LimitExceededFromDomain(exceeded))
		return
	}

	if status >= http.StatusInternalServerError {
		h.logger.Error().
			Err(err).
			Str("transaction_id", input.Transaction.ID).
			Msg("velocity enforcement failed")
	}

	writeError(w, status, "velocity enforcement failed", err.Error())
}
