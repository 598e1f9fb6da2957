package engine

import (
	"context"
	"strconv"
	"strings"

	"helmsman/core"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
)

// sessionSummary renders a per-symbol table of the session's closed trades.
func (e *Engine) sessionSummary(ctx context.Context) string {
	trades, err := e.store.Trades(ctx, core.WithSince(e.started), core.WithAction(core.SideSell))
	if err != nil {
		e.log.WithError(err).Warn("failed to load trades for session summary")
		return ""
	}
	if len(trades) == 0 {
		return ""
	}

	type row struct {
		trades int
		wins   int
		pnl    decimal.Decimal
	}
	bySymbol := make(map[string]*row)
	order := make([]string, 0)
	totalPnL := decimal.Zero
	totalWins, totalTrades := 0, 0

	for _, trade := range trades {
		r, ok := bySymbol[trade.Symbol]
		if !ok {
			r = &row{}
			bySymbol[trade.Symbol] = r
			order = append(order, trade.Symbol)
		}
		r.trades++
		totalTrades++
		if trade.IsWin() {
			r.wins++
			totalWins++
		}
		r.pnl = r.pnl.Add(trade.PnL)
		totalPnL = totalPnL.Add(trade.PnL)
	}

	builder := &strings.Builder{}
	table := tablewriter.NewWriter(builder)
	table.SetHeader([]string{"Symbol", "Trades", "Wins", "PnL"})
	table.SetFooter([]string{"TOTAL", strconv.Itoa(totalTrades),
		strconv.Itoa(totalWins), core.FormatUSD(totalPnL)})
	table.SetFooterAlignment(tablewriter.ALIGN_RIGHT)
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT,
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT,
	})

	for _, symbol := range order {
		r := bySymbol[symbol]
		table.Append([]string{symbol, strconv.Itoa(r.trades),
			strconv.Itoa(r.wins), core.FormatUSD(r.pnl)})
	}
	table.Render()

	return builder.String()
}
