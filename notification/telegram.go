// Package notification provides implementations for various notification services
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"slices"

	"helmsman/core"
	"helmsman/exchange"

	tb "gopkg.in/tucnak/telebot.v2"
)

const pollingTimeout = 10 * time.Second

// Controller is the slice of the trading engine the Telegram surface needs.
type Controller interface {
	Report(ctx context.Context) string
	Positions() []*core.Position
	RecentTrades(ctx context.Context, limit int) ([]*core.TradeRecord, error)
	Start(ctx context.Context) error
	Stop()
}

// Settings holds the Telegram credentials and the authorized user list.
type Settings struct {
	Token string
	Users []int64
}

// Telegram implements the core.NotifierWithStart interface
type Telegram struct {
	settings    Settings
	controller  Controller
	defaultMenu *tb.ReplyMarkup
	client      *tb.Bot
	log         core.Logger
}

// NewTelegram creates and initializes a new Telegram service
func NewTelegram(controller Controller, settings Settings, log core.Logger) (core.NotifierWithStart, error) {
	menu := &tb.ReplyMarkup{ResizeReplyKeyboard: true}
	poller := &tb.LongPoller{Timeout: pollingTimeout}
	userMiddleware := newAuthMiddleware(poller, settings, log)

	client, err := tb.NewBot(tb.Settings{
		ParseMode: tb.ModeMarkdown,
		Token:     settings.Token,
		Poller:    userMiddleware,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	setupKeyboard(menu)
	if err := setupCommands(client); err != nil {
		return nil, fmt.Errorf("failed to set commands: %w", err)
	}

	bot := &Telegram{
		controller:  controller,
		client:      client,
		settings:    settings,
		defaultMenu: menu,
		log:         log,
	}

	registerHandlers(client, bot)

	return bot, nil
}

// newAuthMiddleware creates a middleware to validate authorized users
func newAuthMiddleware(poller *tb.LongPoller, settings Settings, log core.Logger) *tb.MiddlewarePoller {
	return tb.NewMiddlewarePoller(poller, func(u *tb.Update) bool {
		if u.Message == nil || u.Message.Sender == nil {
			log.Error("message or sender is nil ", u)
			return false
		}

		if slices.Contains(settings.Users, u.Message.Sender.ID) {
			return true
		}

		log.Error("unauthorized user ", u.Message.Sender.ID)
		return false
	})
}

// setupKeyboard configures the reply keyboard layout
func setupKeyboard(menu *tb.ReplyMarkup) {
	var (
		statusBtn    = menu.Text("/status")
		positionsBtn = menu.Text("/positions")
		tradesBtn    = menu.Text("/trades")
		startBtn     = menu.Text("/start")
		stopBtn      = menu.Text("/stop")
	)

	menu.Reply(
		menu.Row(statusBtn, positionsBtn, tradesBtn),
		menu.Row(startBtn, stopBtn),
	)
}

// setupCommands configures available bot commands
func setupCommands(client *tb.Bot) error {
	return client.SetCommands([]tb.Command{
		{Text: "/help", Description: "Display help instructions"},
		{Text: "/start", Description: "Start the trading loop"},
		{Text: "/stop", Description: "Stop the trading loop"},
		{Text: "/status", Description: "Check agent status"},
		{Text: "/positions", Description: "List open positions"},
		{Text: "/trades", Description: "Summary of last trade results"},
	})
}

// registerHandlers registers all command handlers
func registerHandlers(client *tb.Bot, bot *Telegram) {
	client.Handle("/help", bot.HelpHandle)
	client.Handle("/start", bot.StartHandle)
	client.Handle("/stop", bot.StopHandle)
	client.Handle("/status", bot.StatusHandle)
	client.Handle("/positions", bot.PositionsHandle)
	client.Handle("/trades", bot.TradesHandle)
}

// Start begins the Telegram bot and notifies all authorized users
func (t *Telegram) Start() {
	go t.client.Start()
	t.sendMessageWithOptions("Agent initialized.", t.defaultMenu)
}

// Notify sends a message to all authorized users
func (t *Telegram) Notify(text string) {
	for _, user := range t.settings.Users {
		_, err := t.client.Send(&tb.User{ID: user}, text)
		if err != nil {
			t.log.WithError(err).Error("failed to send notification")
		}
	}
}

// sendMessageWithOptions sends a message to all authorized users with additional options
func (t *Telegram) sendMessageWithOptions(text string, options ...any) {
	for _, user := range t.settings.Users {
		_, err := t.client.Send(&tb.User{ID: user}, text, options...)
		if err != nil {
			t.log.WithError(err).Error("failed to send notification with options")
		}
	}
}

// sendMessage sends a message to a specific user
func (t *Telegram) sendMessage(to *tb.User, text string, options ...any) {
	_, err := t.client.Send(to, text, options...)
	if err != nil {
		t.log.WithError(err).Error("failed to send message")
	}
}

// Command handlers
// ---------------

// HelpHandle displays available commands
func (t *Telegram) HelpHandle(m *tb.Message) {
	commands, err := t.client.GetCommands()
	if err != nil {
		t.log.WithError(err).Error("failed to get commands")
		t.OnError(err)
		return
	}

	lines := make([]string, 0, len(commands))
	for _, command := range commands {
		lines = append(lines, fmt.Sprintf("/%s - %s", command.Text, command.Description))
	}

	t.sendMessage(m.Sender, strings.Join(lines, "\n"))
}

// StatusHandle displays the current agent status with account totals
func (t *Telegram) StatusHandle(m *tb.Message) {
	t.sendMessage(m.Sender, t.controller.Report(context.Background()))
}

// PositionsHandle lists the open positions with live entry data
func (t *Telegram) PositionsHandle(m *tb.Message) {
	positions := t.controller.Positions()
	if len(positions) == 0 {
		t.sendMessage(m.Sender, "No open positions.")
		return
	}

	var sb strings.Builder
	sb.WriteString("*OPEN POSITIONS*\n")
	for _, p := range positions {
		fmt.Fprintf(&sb, "`%s` [%s] qty `%s` @ %s since %s\n",
			p.Symbol, p.Strategy, p.Quantity.String(),
			core.FormatUSD(p.EntryPrice), p.EntryTime.Format("2006-01-02 15:04"))
	}
	t.sendMessage(m.Sender, sb.String())
}

// TradesHandle shows the most recent trade results
func (t *Telegram) TradesHandle(m *tb.Message) {
	trades, err := t.controller.RecentTrades(context.Background(), 10)
	if err != nil {
		t.OnError(err)
		return
	}
	if len(trades) == 0 {
		t.sendMessage(m.Sender, "No trades registered.")
		return
	}

	var sb strings.Builder
	sb.WriteString("*RECENT TRADES*\n")
	for _, trade := range trades {
		fmt.Fprintf(&sb, "`%s` %s %s @ %s (%s)",
			trade.Symbol, trade.Action, trade.Quantity.String(),
			core.FormatUSD(trade.Price), trade.Reason)
		if trade.Action == core.SideSell {
			fmt.Fprintf(&sb, " PnL %s%%", trade.PnLPercent.StringFixed(2))
		}
		sb.WriteString("\n")
	}
	t.sendMessage(m.Sender, sb.String())
}

// StartHandle starts the trading loop
func (t *Telegram) StartHandle(m *tb.Message) {
	if err := t.controller.Start(context.Background()); err != nil {
		t.sendMessage(m.Sender, fmt.Sprintf("Failed to start: %s", err), t.defaultMenu)
		return
	}
	t.sendMessage(m.Sender, "Agent started.", t.defaultMenu)
}

// StopHandle stops the trading loop
func (t *Telegram) StopHandle(m *tb.Message) {
	t.controller.Stop()
	t.sendMessage(m.Sender, "Agent stopped.", t.defaultMenu)
}

// Event handlers
// -------------

// OnTrade notifies users about executed trades
func (t *Telegram) OnTrade(trade core.TradeRecord) {
	var sb strings.Builder
	switch trade.Action {
	case core.SideBuy:
		fmt.Fprintf(&sb, "✅ POSITION OPENED - %s\n", trade.Symbol)
	default:
		fmt.Fprintf(&sb, "🔔 POSITION CLOSED - %s\n", trade.Symbol)
	}
	sb.WriteString("-----\n")
	fmt.Fprintf(&sb, "Strategy: %s\n", trade.Strategy)
	fmt.Fprintf(&sb, "Quantity: %s\n", trade.Quantity.String())
	fmt.Fprintf(&sb, "Price: %s\n", core.FormatUSD(trade.Price))
	fmt.Fprintf(&sb, "Value: %s\n", core.FormatUSD(trade.QuoteValue))
	fmt.Fprintf(&sb, "Reason: %s\n", trade.Reason)
	if trade.Action == core.SideSell {
		fmt.Fprintf(&sb, "PnL: %s (%s%%)\n", core.FormatUSD(trade.PnL), trade.PnLPercent.StringFixed(2))
	}
	t.Notify(sb.String())
}

// OnError notifies users about errors
func (t *Telegram) OnError(err error) {
	var sb strings.Builder
	sb.WriteString("🛑 ERROR\n")

	var orderError *exchange.OrderError
	if errors.As(err, &orderError) {
		sb.WriteString("-----\n")
		fmt.Fprintf(&sb, "Pair: %s\n", orderError.Pair)
		fmt.Fprintf(&sb, "Side: %s\n", orderError.Side)
		fmt.Fprintf(&sb, "Amount: %s\n", orderError.Amount.String())
		sb.WriteString("-----\n")
		sb.WriteString(orderError.Err.Error())
		t.Notify(sb.String())
		return
	}

	sb.WriteString("-----\n")
	sb.WriteString(err.Error())

	t.Notify(sb.String())
}
