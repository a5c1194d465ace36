package rule

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"tradecopier/src/model"
)

// The evaluator is deliberately pure: given a master trade and a rule it
// decides admissibility and computes the sized slave parameters with no
// side effects, so duplicate and retried invocations are safe by
// construction.

// Admits reports whether the rule's filters accept the master trade.
// An empty filter means "no restriction". Symbol and magic-number filters
// are independent and both must pass.
func Admits(trade *model.Trade, r *model.CopyRule) bool {
	if len(r.SymbolFilter) > 0 && !containsString(r.SymbolFilter, trade.Symbol) {
		return false
	}

	if len(r.MagicNumberFilter) > 0 && !containsInt64(r.MagicNumberFilter, trade.MagicNumber) {
		return false
	}

	return true
}

// SizedLot scales the master lot by the rule multiplier and caps the result
// at the rule's max lot size. Rounding to broker lot steps is left to the
// slave execution boundary.
func SizedLot(masterLot float64, r *model.CopyRule) float64 {
	scaled := decimal.NewFromFloat(masterLot).Mul(decimal.NewFromFloat(r.LotMultiplier))
	maxLot := decimal.NewFromFloat(r.MaxLotSize)

	if scaled.GreaterThan(maxLot) {
		scaled = maxLot
	}

	out, _ := scaled.Float64()
	return out
}

// SlaveProfit approximates the slave-side profit from the master's realized
// profit, scaled by the lot ratio. Spread, commission and swap differences
// between the two accounts are intentionally not modeled.
func SlaveProfit(master *model.Trade, slaveLot float64) float64 {
	masterLot := decimal.NewFromFloat(master.LotSize)
	if masterLot.IsZero() {
		masterLot = decimal.NewFromInt(1)
	}

	ratio := decimal.NewFromFloat(master.Profit).Div(masterLot)

	out, _ := ratio.Mul(decimal.NewFromFloat(slaveLot)).Float64()
	return out
}

// BuildSlaveTrade synthesizes the slave-side trade for an OPEN replication.
// Stop-loss and take-profit pass through only when the rule copies them;
// symbol and magic number are copied verbatim and the comment references the
// originating ticket for traceability.
func BuildSlaveTrade(master *model.Trade, r *model.CopyRule, openedAt time.Time) *model.Trade {
	trade := &model.Trade{
		AccountID:     r.SlaveAccountID,
		Ticket:        synthesizeTicket(),
		Symbol:        master.Symbol,
		TradeType:     master.TradeType,
		LotSize:       SizedLot(master.LotSize, r),
		OpenPrice:     master.OpenPrice,
		MagicNumber:   master.MagicNumber,
		Comment:       fmt.Sprintf("Copy of %d", master.Ticket),
		OpenTime:      &openedAt,
		Status:        model.TradeStatusOpen,
		IsCopiedTrade: true,
		MasterTradeID: &master.ID,
	}

	if r.CopyStopLoss {
		trade.StopLoss = master.StopLoss
	}
	if r.CopyTakeProfit {
		trade.TakeProfit = master.TakeProfit
	}

	return trade
}

// SlaveStops returns the stop levels a MODIFY replication should apply,
// honoring the rule's copy flags.
func SlaveStops(master *model.Trade, r *model.CopyRule) (stopLoss, takeProfit *float64) {
	if r.CopyStopLoss {
		stopLoss = master.StopLoss
	}
	if r.CopyTakeProfit {
		takeProfit = master.TakeProfit
	}
	return stopLoss, takeProfit
}

// synthesizeTicket generates a ticket for a copied trade. Real tickets are
// broker-assigned; this stands in until the slave platform reports its own.
func synthesizeTicket() int64 {
	return 1_000_000_000 + rand.Int63n(1_000_000_000)
}

func containsString(set []string, value string) bool {
	for _, item := range set {
		if item == value {
			return true
		}
	}
	return false
}

func containsInt64(set []int64, value int64) bool {
	for _, item := range set {
		if item == value {
			return true
		}
	}
	return false
}
