package channel

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stellarlinkco/taskflow/internal/bus"
	"github.com/stellarlinkco/taskflow/internal/command"
	"github.com/stellarlinkco/taskflow/internal/config"
)

// TelegramName is the bus channel name of the Telegram transport.
const TelegramName = "telegram"

// TelegramBot interface for mocking telegram bot API
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetSelf() tgbotapi.User
}

// tgBotWrapper wraps tgbotapi.BotAPI to implement TelegramBot interface
type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return w.bot.Request(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

// BotFactory creates TelegramBot instances (allows mocking)
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

// defaultBotFactory creates real telegram bot
var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

type TelegramChannel struct {
	BaseChannel
	token      string
	bot        TelegramBot
	proxy      string
	commands   []command.Descriptor
	cancel     context.CancelFunc
	botFactory BotFactory
}

func NewTelegramChannel(cfg config.TelegramConfig, b *bus.MessageBus) (*TelegramChannel, error) {
	return NewTelegramChannelWithFactory(cfg, b, defaultBotFactory)
}

// NewTelegramChannelWithFactory creates a TelegramChannel with custom bot factory (for testing)
func NewTelegramChannelWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, factory BotFactory) (*TelegramChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}

	ch := &TelegramChannel{
		BaseChannel: NewBaseChannel(TelegramName, b, cfg.AllowFrom),
		token:       cfg.Token,
		proxy:       cfg.Proxy,
		commands:    command.Commands(),
		botFactory:  factory,
	}
	return ch, nil
}

func (t *TelegramChannel) initBot() error {
	client := http.DefaultClient
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}

	bot, err := t.botFactory(t.token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	log.Printf("[telegram] authorized as @%s", bot.GetSelf().UserName)
	return nil
}

// registerCommands publishes the command menu. Failure only degrades the
// client-side autocomplete, so it is logged and ignored.
func (t *TelegramChannel) registerCommands() {
	if len(t.commands) == 0 {
		return
	}
	cmds := make([]tgbotapi.BotCommand, 0, len(t.commands))
	for _, c := range t.commands {
		cmds = append(cmds, tgbotapi.BotCommand{Command: c.Name, Description: c.Description})
	}
	if _, err := t.bot.Request(tgbotapi.NewSetMyCommands(cmds...)); err != nil {
		log.Printf("[telegram] register commands failed: %v", err)
		return
	}
	log.Printf("[telegram] registered %d commands", len(cmds))
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	if err := t.initBot(); err != nil {
		return err
	}
	t.registerCommands()

	ctx, t.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message", "callback_query"}
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case update := <-updates:
				switch {
				case update.CallbackQuery != nil:
					t.handleCallback(ctx, update.CallbackQuery)
				case update.Message != nil:
					t.handleMessage(ctx, update.Message)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("[telegram] polling started")
	return nil
}

func (t *TelegramChannel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	senderID := strconv.FormatInt(msg.From.ID, 10)

	if !t.IsAllowed(senderID) {
		log.Printf("[telegram] rejected message from %s (%s)", senderID, msg.From.UserName)
		return
	}

	// Only commands drive the workflow; other chatter is ignored.
	if !msg.IsCommand() {
		return
	}

	text, mentions := resolveTextMentions(msg.Text, msg.Entities)
	if reply := msg.ReplyToMessage; reply != nil && reply.From != nil && !reply.From.IsBot {
		mentions = append(mentions, strconv.FormatInt(reply.From.ID, 10))
	}

	t.publish(ctx, bus.InboundMessage{
		Channel:   TelegramName,
		SenderID:  senderID,
		ChatID:    strconv.FormatInt(msg.Chat.ID, 10),
		Content:   commandArguments(text),
		Command:   msg.Command(),
		Mentions:  mentions,
		Timestamp: time.Unix(int64(msg.Date), 0),
		Metadata: map[string]any{
			"username":   msg.From.UserName,
			"first_name": msg.From.FirstName,
			"message_id": msg.MessageID,
		},
	})
}

func (t *TelegramChannel) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.From == nil {
		return
	}
	senderID := strconv.FormatInt(cb.From.ID, 10)

	if !t.IsAllowed(senderID) {
		log.Printf("[telegram] rejected button press from %s (%s)", senderID, cb.From.UserName)
		return
	}

	chatID := senderID
	if cb.Message != nil && cb.Message.Chat != nil {
		chatID = strconv.FormatInt(cb.Message.Chat.ID, 10)
	}

	t.publish(ctx, bus.InboundMessage{
		Channel:    TelegramName,
		SenderID:   senderID,
		ChatID:     chatID,
		CallbackID: cb.ID,
		Action:     cb.Data,
		Timestamp:  time.Now(),
		Metadata: map[string]any{
			"username":   cb.From.UserName,
			"first_name": cb.From.FirstName,
		},
	})
}

func (t *TelegramChannel) publish(ctx context.Context, msg bus.InboundMessage) {
	select {
	case t.bus.Inbound <- msg:
	case <-ctx.Done():
	}
}

func (t *TelegramChannel) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	log.Printf("[telegram] stopped")
	return nil
}

// SetBot sets the bot (for testing)
func (t *TelegramChannel) SetBot(bot TelegramBot) {
	t.bot = bot
}

func (t *TelegramChannel) Send(msg bus.OutboundMessage) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}

	if msg.CallbackID != "" {
		return t.answerCallback(msg)
	}

	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", msg.ChatID, err)
	}

	content := toTelegramHTML(msg.Content)

	// Telegram has a 4096 char limit per message
	const maxLen = 4000
	for len(content) > 0 {
		chunk := content
		if len(chunk) > maxLen {
			// Try to split at last newline before maxLen
			idx := strings.LastIndex(chunk[:maxLen], "\n")
			if idx > 0 {
				chunk = chunk[:idx]
			} else {
				chunk = chunk[:maxLen]
			}
		}
		content = content[len(chunk):]

		tgMsg := tgbotapi.NewMessage(chatID, chunk)
		tgMsg.ParseMode = tgbotapi.ModeHTML
		// Buttons go on the last chunk.
		if content == "" && len(msg.Buttons) > 0 {
			tgMsg.ReplyMarkup = inlineKeyboard(msg.Buttons)
		}
		if _, err := t.bot.Send(tgMsg); err != nil {
			// Retry without HTML parse mode
			tgMsg.ParseMode = ""
			tgMsg.Text = msg.Content
			if len(msg.Buttons) > 0 {
				tgMsg.ReplyMarkup = inlineKeyboard(msg.Buttons)
			}
			if _, err2 := t.bot.Send(tgMsg); err2 != nil {
				return fmt.Errorf("send telegram message: %w", err2)
			}
			return nil
		}
	}
	return nil
}

// answerCallback replies to a button press. The text is shown only to the
// user who pressed it and must be plain.
func (t *TelegramChannel) answerCallback(msg bus.OutboundMessage) error {
	text := plainText(msg.Content)
	// Callback answers are limited to 200 characters.
	if r := []rune(text); len(r) > 200 {
		text = string(r[:197]) + "..."
	}
	if _, err := t.bot.Request(tgbotapi.NewCallback(msg.CallbackID, text)); err != nil {
		return fmt.Errorf("answer telegram callback: %w", err)
	}
	return nil
}

func inlineKeyboard(rows [][]bus.Button) tgbotapi.InlineKeyboardMarkup {
	kb := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		kb = append(kb, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(kb...)
}

// resolveTextMentions replaces each text_mention span with the mentioned
// user's id and returns those ids in order. Offsets are in UTF-16 units.
func resolveTextMentions(text string, entities []tgbotapi.MessageEntity) (string, []string) {
	var mentions []string
	units := utf16.Encode([]rune(text))
	var out []uint16
	pos := 0
	for _, e := range entities {
		if e.Type != "text_mention" || e.User == nil {
			continue
		}
		if e.Offset < pos || e.Offset+e.Length > len(units) {
			continue
		}
		id := strconv.FormatInt(e.User.ID, 10)
		mentions = append(mentions, id)
		out = append(out, units[pos:e.Offset]...)
		out = append(out, utf16.Encode([]rune(id))...)
		pos = e.Offset + e.Length
	}
	if mentions == nil {
		return text, nil
	}
	out = append(out, units[pos:]...)
	return string(utf16.Decode(out)), mentions
}

// commandArguments drops the leading "/command[@bot]" token.
func commandArguments(text string) string {
	idx := strings.IndexFunc(text, unicode.IsSpace)
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(text[idx:])
}

// plainText strips the markdown markers used in message catalogs.
func plainText(s string) string {
	s = strings.ReplaceAll(s, "**", "")
	return strings.ReplaceAll(s, "`", "")
}

// toTelegramHTML converts basic markdown to Telegram HTML.
func toTelegramHTML(s string) string {
	// Escape HTML entities first
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")

	// Inline code: `...` -> <code>...</code>
	s = replacePairs(s, "`", "<code>", "</code>")
	// Bold: **...** -> <b>...</b>
	s = replacePairs(s, "**", "<b>", "</b>")
	return s
}

func replacePairs(s, marker, open, close string) string {
	for {
		start := strings.Index(s, marker)
		if start == -1 {
			return s
		}
		end := strings.Index(s[start+len(marker):], marker)
		if end == -1 {
			return s
		}
		end += start + len(marker)
		s = s[:start] + open + s[start+len(marker):end] + close + s[end+len(marker):]
	}
}
