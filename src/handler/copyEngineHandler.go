package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	logger "github.com/sirupsen/logrus"

	"tradecopier/src/auth"
	"tradecopier/src/engine"
	"tradecopier/src/model"
	"tradecopier/src/repository"
)

type copyExecutor interface {
	Execute(ctx context.Context, req engine.Request) (*engine.Result, error)
}

type operationSearcher interface {
	Search(ctx context.Context, options repository.CopyOperationSearchOptions) ([]model.CopyOperation, error)
}

// ExecuteCopyHandler returns the handler behind POST /api/copy-engine.
// It is an infrastructure endpoint: trading containers authenticate with the
// shared internal token, not a user session.
func ExecuteCopyHandler(eng copyExecutor, internalToken string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Internal-Token") != internalToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var req engine.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		result, err := eng.Execute(r.Context(), req)
		if err != nil {
			switch {
			case errors.Is(err, engine.ErrInvalidRequest),
				errors.Is(err, engine.ErrInvalidOperationType),
				errors.Is(err, engine.ErrOwnershipMismatch):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, engine.ErrMasterTradeNotFound),
				errors.Is(err, engine.ErrCopyRuleNotFound):
				http.Error(w, err.Error(), http.StatusNotFound)
			case errors.Is(err, repository.ErrClaimContention):
				// The claim kept colliding with concurrently settling
				// duplicates; the container retries the request.
				http.Error(w, err.Error(), http.StatusConflict)
			default:
				logger.WithError(err).Error("copy engine execution failed")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(result); err != nil {
			logger.WithError(err).Error("failed to encode copy result")
		}
	}
}

// SearchCopyOperationsHandler returns a handler that lists the authenticated
// user's ledger rows. Supports pagination and filters (copyRuleId, status).
func SearchCopyOperationsHandler(repo operationSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var copyRuleID *uint
		if ruleParam := r.URL.Query().Get("copyRuleId"); ruleParam != "" {
			id, err := strconv.ParseUint(ruleParam, 10, 64)
			if err != nil {
				http.Error(w, "invalid copyRuleId", http.StatusBadRequest)
				return
			}
			rule := uint(id)
			copyRuleID = &rule
		}

		var status *string
		if statusParam := r.URL.Query().Get("status"); statusParam != "" {
			switch statusParam {
			case model.CopyOperationStatusPending, model.CopyOperationStatusSuccess, model.CopyOperationStatusFailed:
			default:
				http.Error(w, "invalid status", http.StatusBadRequest)
				return
			}
			status = &statusParam
		}

		page, pageSize, ok := pagination(w, r)
		if !ok {
			return
		}

		operations, err := repo.Search(r.Context(), repository.CopyOperationSearchOptions{
			UserID:     user.ID,
			CopyRuleID: copyRuleID,
			Status:     status,
			Limit:      pageSize,
			Offset:     (page - 1) * pageSize,
		})
		if err != nil {
			logger.WithError(err).Error("failed to search copy operations")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(operations); err != nil {
			logger.WithError(err).Error("failed to encode copy operation search response")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	}
}

// DefaultSearchCopyOperationsHandler wires the handler to the production
// repository implementation.
func DefaultSearchCopyOperationsHandler() http.HandlerFunc {
	return SearchCopyOperationsHandler(repository.NewCopyOperationRepository())
}

// pagination reads page/pageSize query params with the shared defaults.
// Writes a 400 and reports ok=false on invalid input.
func pagination(w http.ResponseWriter, r *http.Request) (page, pageSize int, ok bool) {
	page = 1
	if pageParam := r.URL.Query().Get("page"); pageParam != "" {
		parsed, err := strconv.Atoi(pageParam)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid page", http.StatusBadRequest)
			return 0, 0, false
		}
		page = parsed
	}

	pageSize = 20
	if sizeParam := r.URL.Query().Get("pageSize"); sizeParam != "" {
		parsed, err := strconv.Atoi(sizeParam)
		if err != nil || parsed <= 0 {
			http.Error(w, "invalid pageSize", http.StatusBadRequest)
			return 0, 0, false
		}
		pageSize = parsed
	}

	return page, pageSize, true
}
