package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"tradecopier/src/model"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func TestTradeRepositorySearch(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := &TradeRepository{db: mockDB}

	createdAt := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	trades := []model.Trade{
		{ID: 1, AccountID: 1, Symbol: "EURUSD", Status: model.TradeStatusOpen, CreatedAt: createdAt, UpdatedAt: createdAt},
		{ID: 2, AccountID: 1, Symbol: "GBPUSD", Status: model.TradeStatusClosed, CreatedAt: createdAt.Add(24 * time.Hour), UpdatedAt: createdAt.Add(24 * time.Hour)},
		{ID: 3, AccountID: 2, Symbol: "EURUSD", Status: model.TradeStatusOpen, CreatedAt: createdAt.Add(48 * time.Hour), UpdatedAt: createdAt.Add(48 * time.Hour)},
	}

	tradeRows := func(returned ...model.Trade) *sqlmock.Rows {
		rows := sqlmock.NewRows([]string{"id", "account_id", "symbol", "status", "created_at", "updated_at"})
		for _, trade := range returned {
			rows.AddRow(trade.ID, trade.AccountID, trade.Symbol, trade.Status, trade.CreatedAt, trade.UpdatedAt)
		}
		return rows
	}

	t.Run("filters by account", func(t *testing.T) {
		mockRows := tradeRows(trades[1], trades[0])
		accountID := uint(1)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "trades" WHERE account_id = $1 ORDER BY created_at DESC, id DESC`)).
			WithArgs(accountID).
			WillReturnRows(mockRows)

		results, err := repo.Search(context.Background(), TradeSearchOptions{AccountID: &accountID})
		if err != nil {
			t.Fatalf("unexpected error searching trades: %v", err)
		}

		if len(results) != 2 {
			t.Fatalf("expected 2 trades for account 1, got %d", len(results))
		}

		if results[0].Symbol != "GBPUSD" || results[1].Symbol != "EURUSD" {
			t.Fatalf("trades not returned in expected order: %+v", results)
		}
	})

	t.Run("filters by account, symbol and status", func(t *testing.T) {
		mockRows := tradeRows(trades[0])
		filters := TradeSearchOptions{
			AccountID: ptrUint(1),
			Symbol:    ptrString("EURUSD"),
			Status:    ptrString(model.TradeStatusOpen),
		}

		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "trades" WHERE account_id = $1 AND symbol = $2 AND status = $3 ORDER BY created_at DESC, id DESC`)).
			WithArgs(*filters.AccountID, *filters.Symbol, *filters.Status).
			WillReturnRows(mockRows)

		results, err := repo.Search(context.Background(), filters)
		if err != nil {
			t.Fatalf("unexpected error searching trades: %v", err)
		}

		if len(results) != 1 {
			t.Fatalf("expected 1 open EURUSD trade, got %d", len(results))
		}

		if results[0].ID != 1 {
			t.Fatalf("unexpected trade returned: %+v", results[0])
		}
	})

	t.Run("filters copied trades", func(t *testing.T) {
		mockRows := tradeRows(trades[2])
		copied := true
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "trades" WHERE is_copied_trade = $1 ORDER BY created_at DESC, id DESC`)).
			WithArgs(copied).
			WillReturnRows(mockRows)

		results, err := repo.Search(context.Background(), TradeSearchOptions{IsCopied: &copied})
		if err != nil {
			t.Fatalf("unexpected error searching trades: %v", err)
		}

		if len(results) != 1 {
			t.Fatalf("expected 1 copied trade, got %d", len(results))
		}
	})

	t.Run("applies pagination", func(t *testing.T) {
		mockRows := tradeRows(trades[0])
		accountID := uint(1)
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "trades" WHERE account_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`)).
			WithArgs(accountID, 1, 1).
			WillReturnRows(mockRows)

		results, err := repo.Search(context.Background(), TradeSearchOptions{AccountID: &accountID, Limit: 1, Offset: 1})
		if err != nil {
			t.Fatalf("unexpected error searching trades: %v", err)
		}

		if len(results) != 1 {
			t.Fatalf("expected 1 trade for pagination, got %d", len(results))
		}

		if results[0].Symbol != "EURUSD" {
			t.Fatalf("unexpected paginated trade: %+v", results[0])
		}
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sqlmock expectations: %v", err)
	}
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	dialector := postgres.New(postgres.Config{
		DSN:                  "sqlmock_db_0",
		Conn:                 sqlDB,
		PreferSimpleProtocol: true,
	})

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		sqlDB.Close()
		t.Fatalf("failed to open gorm DB with sqlmock: %v", err)
	}

	return gdb, mock
}

func ptrString(val string) *string {
	return &val
}

func ptrUint(val uint) *uint {
	return &val
}
