// Package telegram sends density alerts and health notifications via the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/densityscope/internal/logger"
	"github.com/rewired-gh/densityscope/internal/models"
	"github.com/rewired-gh/densityscope/internal/retry"
)

const topCount = 5

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TopProvider returns the densities of the latest scan, best first.
type TopProvider func() []models.Density

// Client handles Telegram notifications.
type Client struct {
	bot    *tgbotapi.BotAPI
	api    sender
	chatID int64
	retry  retry.Policy
	top    TopProvider
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	c := newClient(bot, chatIDInt, maxRetries, retryDelayBase)
	c.bot = bot
	return c, nil
}

func newClient(api sender, chatID int64, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		api:    api,
		chatID: chatID,
		retry: retry.Policy{
			Attempts:  maxRetries,
			BaseDelay: retryDelayBase,
			MaxDelay:  retryDelayBase * time.Duration(maxRetries),
		},
	}
}

// SetTopProvider registers the source used to answer /top.
func (c *Client) SetTopProvider(p TopProvider) {
	c.top = p
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	if c.bot == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message.Chat.ID, update.Message.Command())
				}
			}
		}
	}()
}

func (c *Client) handleCommand(chatID int64, command string) {
	var text string
	switch command {
	case "ping":
		text = "Pong"
	case "top":
		text = c.formatTop()
	default:
		return
	}

	reply := tgbotapi.NewMessage(chatID, text)
	if command == "top" {
		reply.ParseMode = tgbotapi.ModeMarkdownV2
	}
	if _, err := c.api.Send(reply); err != nil {
		logger.Warn("Failed to answer /%s: %v", command, err)
	}
}

// sendMarkdownV2 sends a MarkdownV2 message to the configured chat with
// exponential-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	_, err := retry.Do(context.Background(), c.retry, func(context.Context) (tgbotapi.Message, error) {
		return c.api.Send(msg)
	})
	return err
}

// SendError sends a monitoring error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Scan error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Scanning recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// SendDensityAlert notifies about a large wall close to the mark.
func (c *Client) SendDensityAlert(d models.Density) error {
	return c.sendMarkdownV2(formatAlert(d))
}

func formatAlert(d models.Density) string {
	var b strings.Builder
	b.WriteString("🧱 *Density alert*\n\n")
	fmt.Fprintf(&b, "*%s* %s wall at %s\n", escapeMarkdownV2(d.Symbol), sideLabel(d.Side), escapeMarkdownV2(priceText(d)))
	fmt.Fprintf(&b, "💰 %s \\(x%s, %s\\)\n",
		escapeMarkdownV2(formatNotional(d.Notional)),
		escapeMarkdownV2(strconv.FormatFloat(d.X, 'f', 1, 64)),
		escapeMarkdownV2(levelsLabel(d.MMCount)))
	fmt.Fprintf(&b, "📏 %s from mark\n", escapeMarkdownV2(fmt.Sprintf("%.2f%%", d.DistancePct)))
	fmt.Fprintf(&b, "⭐ Score %s\n", escapeMarkdownV2(fmt.Sprintf("%.2f", d.Score)))
	fmt.Fprintf(&b, "⏳ Time to eat: %s\n", escapeMarkdownV2(formatMinutes(d.TimeToEatMinutes)))
	fmt.Fprintf(&b, "📊 NATR %s, lifetime %ds, touches %d",
		escapeMarkdownV2(fmt.Sprintf("%.2f%%", d.NATR)), d.LifetimeSec, d.Touches)
	return b.String()
}

func (c *Client) formatTop() string {
	if c.top == nil {
		return escapeMarkdownV2("No scan results yet.")
	}
	top := c.top()
	if len(top) == 0 {
		return escapeMarkdownV2("No densities in the latest scan.")
	}
	if len(top) > topCount {
		top = top[:topCount]
	}

	var b strings.Builder
	b.WriteString("🏆 *Top densities*\n\n")
	for i, d := range top {
		fmt.Fprintf(&b, "%d\\. *%s* %s %s %s, score %s\n",
			i+1,
			escapeMarkdownV2(d.Symbol),
			sideLabel(d.Side),
			escapeMarkdownV2(formatNotional(d.Notional)),
			escapeMarkdownV2(fmt.Sprintf("@ %s (%.2f%%)", priceText(d), d.DistancePct)),
			escapeMarkdownV2(fmt.Sprintf("%.2f", d.Score)))
	}
	return b.String()
}

func sideLabel(s models.Side) string {
	if s == models.SideBid {
		return "🟢 bid"
	}
	return "🔴 ask"
}

func priceText(d models.Density) string {
	if d.PriceKey != "" {
		return d.PriceKey
	}
	return strconv.FormatFloat(d.Price, 'f', -1, 64)
}

func levelsLabel(n int) string {
	if n == 1 {
		return "1 level"
	}
	return fmt.Sprintf("%d levels", n)
}

func formatNotional(v float64) string {
	switch {
	case v >= 1_000_000:
		return fmt.Sprintf("$%.2fM", v/1_000_000)
	case v >= 1_000:
		return fmt.Sprintf("$%.0fK", v/1_000)
	default:
		return fmt.Sprintf("$%.0f", v)
	}
}

func formatMinutes(m float64) string {
	if math.IsInf(m, 1) || math.IsNaN(m) {
		return "∞"
	}
	if m >= 60 {
		return fmt.Sprintf("%.1fh", m/60)
	}
	return fmt.Sprintf("%.1fm", m)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
