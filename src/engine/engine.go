package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"tradecopier/src/model"
	"tradecopier/src/repository"
	"tradecopier/src/rule"
)

// Validation failures: rejected before any ledger row exists.
var (
	ErrInvalidRequest       = errors.New("masterTradeId, copyRuleId and operationType are required")
	ErrInvalidOperationType = errors.New("operationType must be OPEN, CLOSE or MODIFY")
	ErrMasterTradeNotFound  = errors.New("master trade not found")
	ErrCopyRuleNotFound     = errors.New("copy rule not found or inactive")
	ErrOwnershipMismatch    = errors.New("trade does not belong to the rule's master account")
)

// Request identifies one replication attempt. The triple doubles as the
// ledger idempotency key.
type Request struct {
	MasterTradeID uint   `json:"masterTradeId"`
	CopyRuleID    uint   `json:"copyRuleId"`
	OperationType string `json:"operationType"`
}

// Result is the structured outcome of Execute. Callers never need to
// interpret faults: execution failures come back as Success=false with the
// ledger row already settled.
type Result struct {
	Success         bool         `json:"success"`
	Filtered        bool         `json:"filtered,omitempty"`
	Duplicate       bool         `json:"duplicate,omitempty"`
	CopyOperationID uint         `json:"copyOperationId,omitempty"`
	SlaveTrade      *model.Trade `json:"slaveTrade,omitempty"`
	LatencyMS       int64        `json:"latencyMs"`
	Error           string       `json:"error,omitempty"`
}

// Notifier receives typed change notifications for the fan-out layer.
// Implementations must not block.
type Notifier interface {
	TradeChanged(changeType string, trade *model.Trade)
	CopyOperationChanged(changeType string, op *model.CopyOperation)
	SystemEventLogged(event *model.SystemEvent)
}

// Engine orchestrates trade replication: it loads the entities, applies the
// rule evaluator, claims the ledger row, executes the slave-side effect and
// settles the outcome.
type Engine struct {
	logger *logrus.Entry

	trades     *repository.TradeRepository
	rules      *repository.CopyRuleRepository
	operations *repository.CopyOperationRepository
	events     *repository.SystemEventRepository

	notifier Notifier
	config   Config
	now      func() time.Time
}

func New(
	logger *logrus.Entry,
	trades *repository.TradeRepository,
	rules *repository.CopyRuleRepository,
	operations *repository.CopyOperationRepository,
	events *repository.SystemEventRepository,
	notifier Notifier,
	config Config,
) *Engine {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Engine{
		logger:     logger,
		trades:     trades,
		rules:      rules,
		operations: operations,
		events:     events,
		notifier:   notifier,
		config:     config,
		now:        time.Now,
	}
}

// Execute performs one replication attempt. Validation failures return an
// error with no ledger row; everything past the claim settles the row and
// reports through the Result.
func (e *Engine) Execute(ctx context.Context, req Request) (*Result, error) {
	if req.MasterTradeID == 0 || req.CopyRuleID == 0 || req.OperationType == "" {
		return nil, ErrInvalidRequest
	}

	switch req.OperationType {
	case model.OperationTypeOpen, model.OperationTypeClose, model.OperationTypeModify:
	default:
		return nil, ErrInvalidOperationType
	}

	masterTrade, err := e.trades.FindByID(ctx, req.MasterTradeID)
	if err != nil {
		return nil, fmt.Errorf("loading master trade: %w", err)
	}
	if masterTrade == nil {
		return nil, ErrMasterTradeNotFound
	}

	copyRule, err := e.rules.FindActiveByID(ctx, req.CopyRuleID)
	if err != nil {
		return nil, fmt.Errorf("loading copy rule: %w", err)
	}
	if copyRule == nil {
		return nil, ErrCopyRuleNotFound
	}

	if masterTrade.AccountID != copyRule.MasterAccountID {
		return nil, ErrOwnershipMismatch
	}

	if !rule.Admits(masterTrade, copyRule) {
		e.logger.WithFields(logrus.Fields{
			"master_trade_id": masterTrade.ID,
			"copy_rule_id":    copyRule.ID,
			"symbol":          masterTrade.Symbol,
		}).Debug("trade filtered out, not copied")

		return &Result{Filtered: true}, nil
	}

	op, claimed, err := e.operations.Claim(ctx, req.MasterTradeID, req.CopyRuleID, req.OperationType)
	if err != nil {
		return nil, fmt.Errorf("claiming copy operation: %w", err)
	}

	if !claimed {
		return e.awaitSettled(ctx, op)
	}

	e.notify(func(n Notifier) { n.CopyOperationChanged("insert", op) })

	return e.runEffect(ctx, masterTrade, copyRule, op, req.OperationType), nil
}

// awaitSettled handles the losing side of a duplicate invocation: observe
// the holder's outcome without re-executing the effect.
func (e *Engine) awaitSettled(ctx context.Context, op *model.CopyOperation) (*Result, error) {
	deadline := time.NewTimer(e.config.EffectTimeout)
	defer deadline.Stop()

	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()

	current := op
	for !current.Settled() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return &Result{
				Duplicate:       true,
				CopyOperationID: current.ID,
				Error:           "duplicate request, original operation still pending",
			}, nil
		case <-poll.C:
		}

		refreshed, err := e.operations.FindByID(ctx, current.ID)
		if err != nil {
			return nil, fmt.Errorf("polling duplicate copy operation: %w", err)
		}
		if refreshed == nil {
			break
		}
		current = refreshed
	}

	result := &Result{
		Duplicate:       true,
		Success:         current.Status == model.CopyOperationStatusSuccess,
		CopyOperationID: current.ID,
		LatencyMS:       current.LatencyMS,
		Error:           current.ErrorMessage,
	}

	if current.SlaveTradeID != nil {
		slave, err := e.trades.FindByID(ctx, *current.SlaveTradeID)
		if err == nil && slave != nil {
			result.SlaveTrade = slave
		}
	}

	return result, nil
}

// runEffect executes the slave-side mirror operation for a freshly claimed
// ledger row and settles the row either way.
func (e *Engine) runEffect(ctx context.Context, masterTrade *model.Trade, copyRule *model.CopyRule, op *model.CopyOperation, operationType string) *Result {
	effectCtx, cancel := context.WithTimeout(ctx, e.config.EffectTimeout)
	defer cancel()

	started := e.now()

	var slaveTrade *model.Trade
	var effectErr error

	switch operationType {
	case model.OperationTypeOpen:
		slaveTrade, effectErr = e.openSlaveTrade(effectCtx, masterTrade, copyRule)
	case model.OperationTypeClose:
		slaveTrade, effectErr = e.closeSlaveTrade(effectCtx, masterTrade, copyRule)
	case model.OperationTypeModify:
		slaveTrade, effectErr = e.modifySlaveTrade(effectCtx, masterTrade, copyRule)
	}

	latency := e.now().Sub(started)

	if effectErr != nil {
		return e.settleFailed(ctx, masterTrade, copyRule, op, operationType, effectErr, latency)
	}

	return e.settleSuccess(ctx, masterTrade, copyRule, op, operationType, slaveTrade, latency)
}

func (e *Engine) openSlaveTrade(ctx context.Context, masterTrade *model.Trade, copyRule *model.CopyRule) (*model.Trade, error) {
	slave := rule.BuildSlaveTrade(masterTrade, copyRule, e.now().UTC())

	if err := e.trades.Create(ctx, slave); err != nil {
		return nil, fmt.Errorf("failed to create slave trade: %w", err)
	}

	e.notify(func(n Notifier) { n.TradeChanged("insert", slave) })

	return slave, nil
}

func (e *Engine) closeSlaveTrade(ctx context.Context, masterTrade *model.Trade, copyRule *model.CopyRule) (*model.Trade, error) {
	slave, err := e.trades.FindOpenSlaveTrade(ctx, masterTrade.ID, copyRule.SlaveAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up slave trade: %w", err)
	}
	if slave == nil {
		// A missing close is a risk-control failure, never a no-op.
		return nil, errors.New("no corresponding open slave trade")
	}

	closedAt := e.now().UTC()
	profit := rule.SlaveProfit(masterTrade, slave.LotSize)

	if err := e.trades.Close(ctx, slave, masterTrade.ClosePrice, closedAt, profit); err != nil {
		return nil, fmt.Errorf("failed to close slave trade: %w", err)
	}

	slave.Status = model.TradeStatusClosed
	slave.ClosePrice = masterTrade.ClosePrice
	slave.CloseTime = &closedAt
	slave.Profit = profit

	e.notify(func(n Notifier) { n.TradeChanged("update", slave) })

	return slave, nil
}

func (e *Engine) modifySlaveTrade(ctx context.Context, masterTrade *model.Trade, copyRule *model.CopyRule) (*model.Trade, error) {
	slave, err := e.trades.FindOpenSlaveTrade(ctx, masterTrade.ID, copyRule.SlaveAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up slave trade: %w", err)
	}
	if slave == nil {
		return nil, errors.New("no corresponding open slave trade")
	}

	stopLoss, takeProfit := rule.SlaveStops(masterTrade, copyRule)

	if err := e.trades.UpdateStops(ctx, slave, stopLoss, takeProfit); err != nil {
		return nil, fmt.Errorf("failed to modify slave trade: %w", err)
	}

	slave.StopLoss = stopLoss
	slave.TakeProfit = takeProfit

	e.notify(func(n Notifier) { n.TradeChanged("update", slave) })

	return slave, nil
}

func (e *Engine) settleSuccess(ctx context.Context, masterTrade *model.Trade, copyRule *model.CopyRule, op *model.CopyOperation, operationType string, slaveTrade *model.Trade, latency time.Duration) *Result {
	var slaveTradeID *uint
	if slaveTrade != nil {
		slaveTradeID = &slaveTrade.ID
	}

	if err := e.operations.MarkSuccess(ctx, op, slaveTradeID, latency); err != nil {
		e.logger.WithError(err).WithField("operation_id", op.ID).
			Error("effect succeeded but the ledger update failed; reconciler will settle the row")
	}

	e.notify(func(n Notifier) { n.CopyOperationChanged("update", op) })

	event := &model.SystemEvent{
		EventType: model.EventTradeCopied,
		AccountID: &copyRule.SlaveAccountID,
		Severity:  model.SeverityInfo,
		Message:   fmt.Sprintf("Trade %d copied successfully", masterTrade.Ticket),
		Metadata: map[string]any{
			"master_trade_id": masterTrade.ID,
			"operation_type":  operationType,
			"latency_ms":      latency.Milliseconds(),
		},
	}
	e.events.Log(ctx, event)
	e.notify(func(n Notifier) { n.SystemEventLogged(event) })

	e.logger.WithFields(logrus.Fields{
		"operation_id":    op.ID,
		"master_trade_id": masterTrade.ID,
		"copy_rule_id":    copyRule.ID,
		"operation_type":  operationType,
		"latency_ms":      latency.Milliseconds(),
	}).Info("copy operation succeeded")

	return &Result{
		Success:         true,
		CopyOperationID: op.ID,
		SlaveTrade:      slaveTrade,
		LatencyMS:       latency.Milliseconds(),
	}
}

func (e *Engine) settleFailed(ctx context.Context, masterTrade *model.Trade, copyRule *model.CopyRule, op *model.CopyOperation, operationType string, effectErr error, latency time.Duration) *Result {
	if err := e.operations.MarkFailed(ctx, op, effectErr.Error(), latency); err != nil {
		e.logger.WithError(err).WithField("operation_id", op.ID).
			Error("failed to settle ledger row; reconciler will settle it")
	}

	e.notify(func(n Notifier) { n.CopyOperationChanged("update", op) })

	event := &model.SystemEvent{
		EventType: model.EventTradeCopyFailed,
		AccountID: &copyRule.SlaveAccountID,
		Severity:  model.SeverityError,
		Message:   fmt.Sprintf("Failed to copy trade %d: %s", masterTrade.Ticket, effectErr),
		Metadata: map[string]any{
			"master_trade_id": masterTrade.ID,
			"operation_type":  operationType,
			"error":           effectErr.Error(),
			"latency_ms":      latency.Milliseconds(),
		},
	}
	e.events.Log(ctx, event)
	e.notify(func(n Notifier) { n.SystemEventLogged(event) })

	e.logger.WithError(effectErr).WithFields(logrus.Fields{
		"operation_id":    op.ID,
		"master_trade_id": masterTrade.ID,
		"copy_rule_id":    copyRule.ID,
		"operation_type":  operationType,
	}).Error("copy operation failed")

	return &Result{
		Success:         false,
		CopyOperationID: op.ID,
		LatencyMS:       latency.Milliseconds(),
		Error:           effectErr.Error(),
	}
}

// ExecuteForMasterTrade fans one master trade event out across every active
// rule replicating from the trade's account. Per-rule outcomes are
// independent; a failing rule does not stop the others.
func (e *Engine) ExecuteForMasterTrade(ctx context.Context, masterTradeID uint, operationType string) ([]Result, error) {
	masterTrade, err := e.trades.FindByID(ctx, masterTradeID)
	if err != nil {
		return nil, fmt.Errorf("loading master trade: %w", err)
	}
	if masterTrade == nil {
		return nil, ErrMasterTradeNotFound
	}

	rules, err := e.rules.FindActiveByMasterAccount(ctx, masterTrade.AccountID)
	if err != nil {
		return nil, fmt.Errorf("loading rules for master account: %w", err)
	}

	results := make([]Result, 0, len(rules))
	for i := range rules {
		result, err := e.Execute(ctx, Request{
			MasterTradeID: masterTradeID,
			CopyRuleID:    rules[i].ID,
			OperationType: operationType,
		})
		if err != nil {
			results = append(results, Result{Error: err.Error()})
			continue
		}
		results = append(results, *result)
	}

	return results, nil
}

func (e *Engine) notify(fn func(Notifier)) {
	if e.notifier != nil {
		fn(e.notifier)
	}
}
