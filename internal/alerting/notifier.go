package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"crosswatch/internal/storage"
)

// Event distinguishes trade notifications.
type Event string

const (
	// EventOpened fires when a new paper trade is admitted.
	EventOpened Event = "opened"
	// EventClosed fires when settlement closes a trade.
	EventClosed Event = "closed"
)

// Notification wraps one trade lifecycle event.
type Notification struct {
	Event Event
	Trade storage.PaperTrade
}

// Notifier delivers trade notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify posts the rendered message via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("event", string(note.Event)).
		Str("symbol", note.Trade.Symbol).
		Str("uid", note.Trade.UID).
		Msg("trade alert sent")
	return nil
}

func renderMessage(note Notification) string {
	trade := note.Trade
	builder := strings.Builder{}

	switch note.Event {
	case EventClosed:
		reason := ""
		if trade.CloseReason != nil {
			reason = *trade.CloseReason
		}
		builder.WriteString(fmt.Sprintf("[crosswatch] %s %s closed (%s)\n", trade.Symbol, trade.Side, reason))
		if trade.ClosedAt != nil {
			builder.WriteString(fmt.Sprintf("Closed: %s UTC\n", trade.ClosedAt.UTC().Format(time.RFC3339)))
		}
		builder.WriteString(fmt.Sprintf("MFE: %s%%  MAE: %s%%\n",
			trade.MaxFavorablePct.StringFixed(2), trade.MaxAdversePct.StringFixed(2)))
	default:
		builder.WriteString(fmt.Sprintf("[crosswatch] %s %s opened\n", trade.Symbol, trade.Side))
	}

	builder.WriteString(fmt.Sprintf("Entry: %s\n", trade.Entry.String()))
	builder.WriteString(fmt.Sprintf("TP: %s  SL: %s\n", trade.TP.String(), trade.SL.String()))
	builder.WriteString(fmt.Sprintf("Opened: %s UTC\n", trade.OpenedAt.UTC().Format(time.RFC3339)))
	if trade.Notes != "" {
		builder.WriteString(trade.Notes)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
