package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints recent paper trades.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show trades")
	}
	defer closeStore()

	trades, err := store.ListRecentTrades(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(trades) == 0 {
		fmt.Fprintln(os.Stdout, "no trades found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Opened (UTC)\tSymbol\tSide\tEntry\tTP\tSL\tStatus\tReason\tMFE%\tMAE%\tNotes")

	for _, trade := range trades {
		reason := ""
		if trade.CloseReason != nil {
			reason = *trade.CloseReason
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			trade.OpenedAt.UTC().Format(time.RFC3339),
			trade.Symbol,
			trade.Side,
			formatDecimal(trade.Entry, 6),
			formatDecimal(trade.TP, 6),
			formatDecimal(trade.SL, 6),
			trade.Status,
			reason,
			formatDecimal(trade.MaxFavorablePct, 2),
			formatDecimal(trade.MaxAdversePct, 2),
			sanitizeInline(trade.Notes),
		)
	}

	writer.Flush()
	return nil
}

// Stats prints the closed-trade summary for the window.
func (a *App) Stats(ctx context.Context, opts StatsOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot compute stats")
	}
	defer closeStore()

	tradeLedger := a.newLedger(store, a.newGateway())

	var from, to time.Time
	if opts.From != nil {
		from = *opts.From
	}
	if opts.To != nil {
		to = *opts.To
	}

	stats, err := tradeLedger.Stats(ctx, from, to)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Total\tWins\tLosses\tExpired\tWinrate%")
	fmt.Fprintf(writer, "%d\t%d\t%d\t%d\t%.1f\n",
		stats.Total, stats.Wins, stats.Losses, stats.Expired, stats.WinratePct)
	writer.Flush()
	return nil
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
