package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	logger "github.com/sirupsen/logrus"

	"tradecopier/src/auth"
	"tradecopier/src/engine"
	"tradecopier/src/model"
	"tradecopier/src/repository"
)

type tradeStore interface {
	Create(ctx context.Context, trade *model.Trade) error
	FindByID(ctx context.Context, id uint) (*model.Trade, error)
	Close(ctx context.Context, trade *model.Trade, closePrice *float64, closedAt time.Time, profit float64) error
	UpdateStops(ctx context.Context, trade *model.Trade, stopLoss, takeProfit *float64) error
}

type tradeSearcher interface {
	Search(ctx context.Context, options repository.TradeSearchOptions) ([]model.Trade, error)
}

type accountFinder interface {
	FindByIDForUser(ctx context.Context, id, userID uint) (*model.Account, error)
}

type masterDispatcher interface {
	ExecuteForMasterTrade(ctx context.Context, masterTradeID uint, operationType string) ([]engine.Result, error)
}

// IngestTradeRequest is the body of POST /api/trades. Operation defaults to
// OPEN; CLOSE and MODIFY reference an existing trade by id.
type IngestTradeRequest struct {
	AccountID  uint     `json:"accountId"`
	Operation  string   `json:"operation,omitempty"`
	TradeID    uint     `json:"tradeId,omitempty"`
	Ticket     int64    `json:"ticket,omitempty"`
	Symbol     string   `json:"symbol,omitempty"`
	TradeType  string   `json:"tradeType,omitempty"`
	LotSize    float64  `json:"lotSize,omitempty"`
	OpenPrice  *float64 `json:"openPrice,omitempty"`
	ClosePrice *float64 `json:"closePrice,omitempty"`
	StopLoss   *float64 `json:"stopLoss,omitempty"`
	TakeProfit *float64 `json:"takeProfit,omitempty"`
	Profit     float64  `json:"profit,omitempty"`
	Magic      int64    `json:"magicNumber,omitempty"`
	Comment    string   `json:"comment,omitempty"`
}

// IngestTradeResponse pairs the stored trade with the replication outcomes
// the mutation triggered on master accounts.
type IngestTradeResponse struct {
	Trade   *model.Trade    `json:"trade"`
	Results []engine.Result `json:"results,omitempty"`
}

// IngestTradeHandler records a trade mutation reported for one of the
// authenticated user's accounts and, when the account is a master, fans the
// mutation out across its active copy rules.
func IngestTradeHandler(accounts accountFinder, trades tradeStore, dispatcher masterDispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var req IngestTradeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.AccountID == 0 {
			http.Error(w, "accountId is required", http.StatusBadRequest)
			return
		}
		if req.Operation == "" {
			req.Operation = model.OperationTypeOpen
		}

		account, err := accounts.FindByIDForUser(r.Context(), req.AccountID, user.ID)
		if err != nil {
			logger.WithError(err).Error("failed to resolve ingest account")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if account == nil {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}

		var trade *model.Trade
		switch req.Operation {
		case model.OperationTypeOpen:
			trade, err = openTrade(r.Context(), trades, &req)
		case model.OperationTypeClose, model.OperationTypeModify:
			trade, err = amendTrade(r.Context(), trades, &req)
			if err == nil && trade == nil {
				http.Error(w, "trade not found", http.StatusNotFound)
				return
			}
		default:
			http.Error(w, "operation must be OPEN, CLOSE or MODIFY", http.StatusBadRequest)
			return
		}
		if err != nil {
			logger.WithError(err).Error("failed to record ingested trade")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		response := IngestTradeResponse{Trade: trade}

		if account.Role == model.AccountRoleMaster {
			results, err := dispatcher.ExecuteForMasterTrade(r.Context(), trade.ID, req.Operation)
			if err != nil {
				logger.WithError(err).WithField("trade_id", trade.ID).
					Error("failed to dispatch trade to copy rules")
			} else {
				response.Results = results
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.WithError(err).Error("failed to encode ingest response")
		}
	}
}

func openTrade(ctx context.Context, trades tradeStore, req *IngestTradeRequest) (*model.Trade, error) {
	openedAt := time.Now().UTC()
	trade := &model.Trade{
		AccountID:   req.AccountID,
		Ticket:      req.Ticket,
		Symbol:      req.Symbol,
		TradeType:   req.TradeType,
		LotSize:     req.LotSize,
		OpenPrice:   req.OpenPrice,
		StopLoss:    req.StopLoss,
		TakeProfit:  req.TakeProfit,
		MagicNumber: req.Magic,
		Comment:     req.Comment,
		OpenTime:    &openedAt,
		Status:      model.TradeStatusOpen,
	}

	if err := trades.Create(ctx, trade); err != nil {
		return nil, err
	}
	return trade, nil
}

func amendTrade(ctx context.Context, trades tradeStore, req *IngestTradeRequest) (*model.Trade, error) {
	trade, err := trades.FindByID(ctx, req.TradeID)
	if err != nil || trade == nil {
		return nil, err
	}
	if trade.AccountID != req.AccountID {
		return nil, nil
	}

	if req.Operation == model.OperationTypeClose {
		closedAt := time.Now().UTC()
		if err := trades.Close(ctx, trade, req.ClosePrice, closedAt, req.Profit); err != nil {
			return nil, err
		}
		return trade, nil
	}

	if err := trades.UpdateStops(ctx, trade, req.StopLoss, req.TakeProfit); err != nil {
		return nil, err
	}
	return trade, nil
}

// SearchTradesHandler returns a handler that lists trades on one of the
// authenticated user's accounts. Supports pagination and filters (symbol,
// status, copied).
func SearchTradesHandler(accounts accountFinder, trades tradeSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		accountParam := r.URL.Query().Get("accountId")
		if accountParam == "" {
			http.Error(w, "accountId is required", http.StatusBadRequest)
			return
		}
		id, err := strconv.ParseUint(accountParam, 10, 64)
		if err != nil {
			http.Error(w, "invalid accountId", http.StatusBadRequest)
			return
		}
		accountID := uint(id)

		account, err := accounts.FindByIDForUser(r.Context(), accountID, user.ID)
		if err != nil {
			logger.WithError(err).Error("failed to resolve search account")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if account == nil {
			http.Error(w, "account not found", http.StatusNotFound)
			return
		}

		var symbol *string
		if symbolParam := r.URL.Query().Get("symbol"); symbolParam != "" {
			symbol = &symbolParam
		}

		var status *string
		if statusParam := r.URL.Query().Get("status"); statusParam != "" {
			switch statusParam {
			case model.TradeStatusOpen, model.TradeStatusClosed:
			default:
				http.Error(w, "invalid status", http.StatusBadRequest)
				return
			}
			status = &statusParam
		}

		var isCopied *bool
		if copiedParam := r.URL.Query().Get("copied"); copiedParam != "" {
			copied, err := strconv.ParseBool(copiedParam)
			if err != nil {
				http.Error(w, "invalid copied", http.StatusBadRequest)
				return
			}
			isCopied = &copied
		}

		page, pageSize, ok := pagination(w, r)
		if !ok {
			return
		}

		results, err := trades.Search(r.Context(), repository.TradeSearchOptions{
			AccountID: &accountID,
			Symbol:    symbol,
			Status:    status,
			IsCopied:  isCopied,
			Limit:     pageSize,
			Offset:    (page - 1) * pageSize,
		})
		if err != nil {
			logger.WithError(err).Error("failed to search trades")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(results); err != nil {
			logger.WithError(err).Error("failed to encode trade search response")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	}
}

// DefaultSearchTradesHandler wires the handler to the production repository
// implementations.
func DefaultSearchTradesHandler() http.HandlerFunc {
	return SearchTradesHandler(repository.NewAccountRepository(), repository.NewTradeRepository())
}
