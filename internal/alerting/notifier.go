// Package alerting dispatches high fee-rate notifications.
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
	"github.com/shopspring/decimal"

	"median-fee-estimator/internal/estimator"
)

// Notification carries the alert context.
type Notification struct {
	Height        uint64
	Hash          string
	Window        estimator.FeeRateEstimate
	Block         estimator.FeeRateEstimate
	ThresholdRate float64
	WindowSize    uint32
	Environment   string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier posts messages via the Telegram Bot API.
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

// Notify calls sendMessage with the rendered text.
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
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Uint64("height", note.Height).
		Float64("window_high", note.Window.High).
		Msg("alert sent (telegram)")
	return nil
}

// LogNotifier writes alerts to the log only.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Warn().Uint64("height", note.Height).
		Float64("window_high", note.Window.High).
		Float64("window_middle", note.Window.Middle).
		Float64("window_low", note.Window.Low).
		Float64("threshold_rate", note.ThresholdRate).
		Msg("fee rate above threshold")
	return nil
}

func rate(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(3)
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Fee Rate Alert]\n")
	if note.Environment != "" {
		builder.WriteString(fmt.Sprintf("Environment: %s\n", note.Environment))
	}
	builder.WriteString(fmt.Sprintf("Block: %d", note.Height))
	if note.Hash != "" {
		builder.WriteString(fmt.Sprintf(" (%s)", note.Hash))
	}
	builder.WriteString("\n")
	builder.WriteString(fmt.Sprintf("Window (%d blocks): low %s / middle %s / high %s\n",
		note.WindowSize, rate(note.Window.Low), rate(note.Window.Middle), rate(note.Window.High)))
	builder.WriteString(fmt.Sprintf("Block: low %s / middle %s / high %s\n",
		rate(note.Block.Low), rate(note.Block.Middle), rate(note.Block.High)))
	builder.WriteString(fmt.Sprintf("Threshold: %s\n", rate(note.ThresholdRate)))
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
