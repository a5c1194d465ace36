package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tradecopier/src/database"
	"tradecopier/src/model"
	"tradecopier/src/repository"
)

type recordingNotifier struct {
	mu         sync.Mutex
	trades     []string
	operations []string
	events     []string
}

func (n *recordingNotifier) TradeChanged(changeType string, trade *model.Trade) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.trades = append(n.trades, changeType)
}

func (n *recordingNotifier) CopyOperationChanged(changeType string, op *model.CopyOperation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.operations = append(n.operations, changeType)
}

func (n *recordingNotifier) SystemEventLogged(event *model.SystemEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event.EventType)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))

	return db
}

type fixture struct {
	db       *gorm.DB
	engine   *Engine
	notifier *recordingNotifier

	trades     *repository.TradeRepository
	rules      *repository.CopyRuleRepository
	operations *repository.CopyOperationRepository
	events     *repository.SystemEventRepository

	masterAccount model.Account
	slaveAccount  model.Account
	rule          model.CopyRule
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := newTestDB(t)
	logger, _ := logrustest.NewNullLogger()
	notifier := &recordingNotifier{}

	f := &fixture{
		db:         db,
		notifier:   notifier,
		trades:     (&repository.TradeRepository{}).WithDB(db),
		rules:      (&repository.CopyRuleRepository{}).WithDB(db),
		operations: (&repository.CopyOperationRepository{}).WithDB(db),
		events:     (&repository.SystemEventRepository{}).WithDB(db),
	}

	f.engine = New(
		logrus.NewEntry(logger),
		f.trades, f.rules, f.operations, f.events,
		notifier,
		Config{EffectTimeout: 2 * time.Second, PendingMaxAge: time.Minute, SweepPeriod: time.Second},
	)

	f.masterAccount = model.Account{
		UserID: 1, AccountLogin: "100001", CredentialsEncrypted: "blob",
		ServerName: "Broker-Demo", Platform: model.PlatformMT4, Role: model.AccountRoleMaster,
	}
	require.NoError(t, db.Create(&f.masterAccount).Error)

	f.slaveAccount = model.Account{
		UserID: 1, AccountLogin: "100002", CredentialsEncrypted: "blob",
		ServerName: "Broker-Demo", Platform: model.PlatformMT4, Role: model.AccountRoleSlave,
	}
	require.NoError(t, db.Create(&f.slaveAccount).Error)

	f.rule = model.CopyRule{
		UserID:          1,
		MasterAccountID: f.masterAccount.ID,
		SlaveAccountID:  f.slaveAccount.ID,
		LotMultiplier:   2,
		MaxLotSize:      5,
		CopyStopLoss:    true,
		CopyTakeProfit:  true,
		IsActive:        true,
	}
	require.NoError(t, db.Create(&f.rule).Error)

	return f
}

func (f *fixture) createMasterTrade(t *testing.T, lot float64, mutate ...func(*model.Trade)) *model.Trade {
	t.Helper()

	openPrice := 1.1000
	trade := &model.Trade{
		AccountID: f.masterAccount.ID,
		Ticket:    555001,
		Symbol:    "EURUSD",
		TradeType: "buy",
		LotSize:   lot,
		OpenPrice: &openPrice,
		Status:    model.TradeStatusOpen,
	}
	for _, fn := range mutate {
		fn(trade)
	}
	require.NoError(t, f.db.Create(trade).Error)

	return trade
}

func TestExecuteOpenCapsLotSize(t *testing.T) {
	f := newFixture(t)
	master := f.createMasterTrade(t, 3) // 3 * 2 = 6, capped at 5

	result, err := f.engine.Execute(context.Background(), Request{
		MasterTradeID: master.ID,
		CopyRuleID:    f.rule.ID,
		OperationType: model.OperationTypeOpen,
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.False(t, result.Filtered)
	require.NotNil(t, result.SlaveTrade)
	assert.InDelta(t, 5.0, result.SlaveTrade.LotSize, 1e-9)
	assert.Equal(t, f.slaveAccount.ID, result.SlaveTrade.AccountID)
	assert.True(t, result.SlaveTrade.IsCopiedTrade)

	op, err := f.operations.FindByID(context.Background(), result.CopyOperationID)
	require.NoError(t, err)
	require.NotNil(t, op)
	assert.Equal(t, model.CopyOperationStatusSuccess, op.Status)
	require.NotNil(t, op.SlaveTradeID)
	assert.Equal(t, result.SlaveTrade.ID, *op.SlaveTradeID)

	events, err := f.events.Search(context.Background(), repository.SystemEventSearchOptions{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventTradeCopied, events[0].EventType)
	assert.Equal(t, model.SeverityInfo, events[0].Severity)

	assert.Contains(t, f.notifier.trades, "insert")
	assert.Contains(t, f.notifier.operations, "update")
}

func TestExecuteOpenUncappedLotSize(t *testing.T) {
	f := newFixture(t)
	master := f.createMasterTrade(t, 1) // 1 * 2 = 2, below the cap

	result, err := f.engine.Execute(context.Background(), Request{
		MasterTradeID: master.ID,
		CopyRuleID:    f.rule.ID,
		OperationType: model.OperationTypeOpen,
	})
	require.NoError(t, err)
	require.NotNil(t, result.SlaveTrade)
	assert.InDelta(t, 2.0, result.SlaveTrade.LotSize, 1e-9)
}

func TestExecuteFilteredOutCreatesNoLedgerRow(t *testing.T) {
	f := newFixture(t)

	f.rule.SymbolFilter = []string{"EURUSD"}
	require.NoError(t, f.db.Save(&f.rule).Error)

	master := f.createMasterTrade(t, 1, func(tr *model.Trade) { tr.Symbol = "GBPUSD" })

	result, err := f.engine.Execute(context.Background(), Request{
		MasterTradeID: master.ID,
		CopyRuleID:    f.rule.ID,
		OperationType: model.OperationTypeOpen,
	})
	require.NoError(t, err)

	assert.True(t, result.Filtered)
	assert.False(t, result.Success)
	assert.Zero(t, result.CopyOperationID)

	var count int64
	require.NoError(t, f.db.Model(&model.CopyOperation{}).Count(&count).Error)
	assert.Zero(t, count, "a filtered trade must not create a ledger row")
}

func TestExecuteValidationFailures(t *testing.T) {
	f := newFixture(t)
	master := f.createMasterTrade(t, 1)

	_, err := f.engine.Execute(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.engine.Execute(context.Background(), Request{MasterTradeID: master.ID, CopyRuleID: f.rule.ID, OperationType: "CANCEL"})
	assert.ErrorIs(t, err, ErrInvalidOperationType)

	_, err = f.engine.Execute(context.Background(), Request{MasterTradeID: 9999, CopyRuleID: f.rule.ID, OperationType: model.OperationTypeOpen})
	assert.ErrorIs(t, err, ErrMasterTradeNotFound)

	_, err = f.engine.Execute(context.Background(), Request{MasterTradeID: master.ID, CopyRuleID: 9999, OperationType: model.OperationTypeOpen})
	assert.ErrorIs(t, err, ErrCopyRuleNotFound)

	require.NoError(t, f.db.Model(&model.CopyRule{}).Where("id = ?", f.rule.ID).Update("is_active", false).Error)
	_, err = f.engine.Execute(context.Background(), Request{MasterTradeID: master.ID, CopyRuleID: f.rule.ID, OperationType: model.OperationTypeOpen})
	assert.ErrorIs(t, err, ErrCopyRuleNotFound, "an inactive rule must be treated as missing")

	var count int64
	require.NoError(t, f.db.Model(&model.CopyOperation{}).Count(&count).Error)
	assert.Zero(t, count, "validation failures must not create ledger rows")
}

func TestExecuteOwnershipMismatch(t *testing.T) {
	f := newFixture(t)

	stranger := model.Account{
		UserID: 2, AccountLogin: "200001", CredentialsEncrypted: "blob",
		ServerName: "Broker-Demo", Platform: model.PlatformMT4, Role: model.AccountRoleMaster,
	}
	require.NoError(t, f.db.Create(&stranger).Error)

	foreign := f.createMasterTrade(t, 1, func(tr *model.Trade) { tr.AccountID = stranger.ID })

	_, err := f.engine.Execute(context.Background(), Request{
		MasterTradeID: foreign.ID,
		CopyRuleID:    f.rule.ID,
		OperationType: model.OperationTypeOpen,
	})
	assert.ErrorIs(t, err, ErrOwnershipMismatch)
}

func TestExecuteCloseWithoutSlaveTradeFails(t *testing.T) {
	f := newFixture(t)
	master := f.createMasterTrade(t, 1)

	result, err := f.engine.Execute(context.Background(), Request{
		MasterTradeID: master.ID,
		CopyRuleID:    f.rule.ID,
		OperationType: model.OperationTypeClose,
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "no corresponding open slave trade")

	op, err := f.operations.FindByID(context.Background(), result.CopyOperationID)
	require.NoError(t, err)
	require.NotNil(t, op)
	assert.Equal(t, model.CopyOperationStatusFailed, op.Status)
	assert.Contains(t, op.ErrorMessage, "no corresponding open slave trade")
}

func TestExecuteOpenThenClose(t *testing.T) {
	f := newFixture(t)

	master := f.createMasterTrade(t, 3)

	openRes, err := f.engine.Execute(context.Background(), Request{
		MasterTradeID: master.ID, CopyRuleID: f.rule.ID, OperationType: model.OperationTypeOpen,
	})
	require.NoError(t, err)
	require.True(t, openRes.Success)
	slaveLot := openRes.SlaveTrade.LotSize // capped at 5

	closePrice := 1.1200
	require.NoError(t, f.db.Model(&model.Trade{}).Where("id = ?", master.ID).Updates(map[string]interface{}{
		"status":      model.TradeStatusClosed,
		"close_price": closePrice,
		"profit":      90.0,
	}).Error)

	closeRes, err := f.engine.Execute(context.Background(), Request{
		MasterTradeID: master.ID, CopyRuleID: f.rule.ID, OperationType: model.OperationTypeClose,
	})
	require.NoError(t, err)
	require.True(t, closeRes.Success)

	require.NotNil(t, closeRes.SlaveTrade)
	assert.Equal(t, model.TradeStatusClosed, closeRes.SlaveTrade.Status)
	require.NotNil(t, closeRes.SlaveTrade.ClosePrice)
	assert.InDelta(t, closePrice, *closeRes.SlaveTrade.ClosePrice, 1e-9)

	// profit = (masterProfit / masterLot) * slaveLot = (90 / 3) * 5 = 150
	assert.InDelta(t, 30.0*slaveLot, closeRes.SlaveTrade.Profit, 1e-9)

	var ops []model.CopyOperation
	require.NoError(t, f.db.Order("id ASC").Find(&ops).Error)
	require.Len(t, ops, 2)
	assert.Equal(t, model.OperationTypeOpen, ops[0].OperationType)
	assert.Equal(t, model.OperationTypeClose, ops[1].OperationType)
	assert.Equal(t, model.CopyOperationStatusSuccess, ops[0].Status)
	assert.Equal(t, model.CopyOperationStatusSuccess, ops[1].Status)
}

func TestExecuteModifyUpdatesStops(t *testing.T) {
	f := newFixture(t)

	master := f.createMasterTrade(t, 1)

	openRes, err := f.engine.Execute(context.Background(), Request{
		MasterTradeID: master.ID, CopyRuleID: f.rule.ID, OperationType: model.OperationTypeOpen,
	})
	require.NoError(t, err)
	require.True(t, openRes.Success)

	newSL := 1.0900
	newTP := 1.1300
	require.NoError(t, f.db.Model(&model.Trade{}).Where("id = ?", master.ID).Updates(map[string]interface{}{
		"stop_loss":   newSL,
		"take_profit": newTP,
	}).Error)

	modRes, err := f.engine.Execute(context.Background(), Request{
		MasterTradeID: master.ID, CopyRuleID: f.rule.ID, OperationType: model.OperationTypeModify,
	})
	require.NoError(t, err)
	require.True(t, modRes.Success)

	slave, err := f.trades.FindByID(context.Background(), openRes.SlaveTrade.ID)
	require.NoError(t, err)
	require.NotNil(t, slave.StopLoss)
	require.NotNil(t, slave.TakeProfit)
	assert.InDelta(t, newSL, *slave.StopLoss, 1e-9)
	assert.InDelta(t, newTP, *slave.TakeProfit, 1e-9)
}

func TestExecuteDuplicateShortCircuits(t *testing.T) {
	f := newFixture(t)
	master := f.createMasterTrade(t, 1)

	first, err := f.engine.Execute(context.Background(), Request{
		MasterTradeID: master.ID, CopyRuleID: f.rule.ID, OperationType: model.OperationTypeOpen,
	})
	require.NoError(t, err)
	require.True(t, first.Success)

	second, err := f.engine.Execute(context.Background(), Request{
		MasterTradeID: master.ID, CopyRuleID: f.rule.ID, OperationType: model.OperationTypeOpen,
	})
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.True(t, second.Success)
	assert.Equal(t, first.CopyOperationID, second.CopyOperationID)

	var slaveCount int64
	require.NoError(t, f.db.Model(&model.Trade{}).Where("is_copied_trade = ?", true).Count(&slaveCount).Error)
	assert.Equal(t, int64(1), slaveCount, "a redelivered OPEN must not create a second slave trade")
}

func TestExecuteConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	master := f.createMasterTrade(t, 1)

	req := Request{MasterTradeID: master.ID, CopyRuleID: f.rule.ID, OperationType: model.OperationTypeOpen}

	const callers = 4
	results := make([]*Result, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.engine.Execute(context.Background(), req)
		}(i)
	}
	wg.Wait()

	executed := 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		assert.True(t, results[i].Success, "caller %d must observe the settled success", i)
		if !results[i].Duplicate {
			executed++
		}
	}
	assert.Equal(t, 1, executed, "exactly one caller executes the effect")

	var slaveCount int64
	require.NoError(t, f.db.Model(&model.Trade{}).Where("is_copied_trade = ?", true).Count(&slaveCount).Error)
	assert.Equal(t, int64(1), slaveCount)

	var opCount int64
	require.NoError(t, f.db.Model(&model.CopyOperation{}).Count(&opCount).Error)
	assert.Equal(t, int64(1), opCount, "exactly one ledger row for the idempotency key")
}

func TestExecuteForMasterTradeFansOutAcrossRules(t *testing.T) {
	f := newFixture(t)

	secondSlave := model.Account{
		UserID: 1, AccountLogin: "100003", CredentialsEncrypted: "blob",
		ServerName: "Broker-Demo", Platform: model.PlatformMT5, Role: model.AccountRoleSlave,
	}
	require.NoError(t, f.db.Create(&secondSlave).Error)

	secondRule := model.CopyRule{
		UserID:          1,
		MasterAccountID: f.masterAccount.ID,
		SlaveAccountID:  secondSlave.ID,
		LotMultiplier:   1,
		MaxLotSize:      1,
		IsActive:        true,
	}
	require.NoError(t, f.db.Create(&secondRule).Error)

	master := f.createMasterTrade(t, 2)

	results, err := f.engine.ExecuteForMasterTrade(context.Background(), master.ID, model.OperationTypeOpen)
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, result := range results {
		assert.True(t, result.Success)
	}

	var slaveCount int64
	require.NoError(t, f.db.Model(&model.Trade{}).Where("is_copied_trade = ?", true).Count(&slaveCount).Error)
	assert.Equal(t, int64(2), slaveCount)
}
