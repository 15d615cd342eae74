package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"crosswatch/internal/storage"
)

// Export renders closed trades as CSV and/or a cumulative-PnL PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := time.Unix(0, 0).UTC()
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	trades, err := store.ListClosedTradesBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(trades) == 0 {
		a.Logger.Info().Msg("no closed trades found for export window")
		return nil
	}

	downsampled := downsampleTrades(trades, opts.MaxPoints)
	a.Logger.Info().Int("total", len(trades)).Int("exported", len(downsampled)).Msg("exporting closed trades")

	if opts.CSVPath != "" {
		if err := writeTradesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeTradesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// realizedPnlPct is the leg-implied return of a closed trade: the TP leg for
// wins, the SL leg for losses, zero for expiries.
func realizedPnlPct(trade storage.PaperTrade) float64 {
	if trade.CloseReason == nil {
		return 0
	}
	entry := trade.Entry.InexactFloat64()
	if entry == 0 {
		return 0
	}

	var exit float64
	switch *trade.CloseReason {
	case storage.CloseTP:
		exit = trade.TP.InexactFloat64()
	case storage.CloseSL:
		exit = trade.SL.InexactFloat64()
	default:
		return 0
	}

	pnl := (exit - entry) / entry * 100.0
	if trade.Side == "SHORT" {
		pnl = -pnl
	}
	return pnl
}

func downsampleTrades(trades []storage.PaperTrade, max int) []storage.PaperTrade {
	if max <= 0 || len(trades) <= max {
		return trades
	}

	result := make([]storage.PaperTrade, 0, max)
	step := float64(len(trades)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(trades) {
			idx = len(trades) - 1
		}
		result = append(result, trades[idx])
	}
	return result
}

func writeTradesCSV(path string, trades []storage.PaperTrade) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"uid", "scan_id", "symbol", "side", "opened_at", "closed_at", "entry", "tp", "sl", "close_reason", "pnl_pct", "mfe_pct", "mae_pct"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, trade := range trades {
		closedAt := ""
		if trade.ClosedAt != nil {
			closedAt = trade.ClosedAt.Format(time.RFC3339)
		}
		reason := ""
		if trade.CloseReason != nil {
			reason = *trade.CloseReason
		}
		record := []string{
			trade.UID,
			trade.ScanID,
			trade.Symbol,
			trade.Side,
			trade.OpenedAt.Format(time.RFC3339),
			closedAt,
			trade.Entry.String(),
			trade.TP.String(),
			trade.SL.String(),
			reason,
			formatFloat(realizedPnlPct(trade)),
			trade.MaxFavorablePct.String(),
			trade.MaxAdversePct.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeTradesPNG(path string, trades []storage.PaperTrade) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(trades))
	perTrade := make([]float64, len(trades))
	cumulative := make([]float64, len(trades))

	running := 0.0
	for i, trade := range trades {
		when := trade.OpenedAt
		if trade.ClosedAt != nil {
			when = *trade.ClosedAt
		}
		x[i] = when
		perTrade[i] = realizedPnlPct(trade)
		running += perTrade[i]
		cumulative[i] = running
	}

	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "PnL (%)",
			ValueFormatter: pctFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Cumulative PnL %",
				XValues: x,
				YValues: cumulative,
			},
			chart.TimeSeries{
				Name:    "Per-trade PnL %",
				XValues: x,
				YValues: perTrade,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
