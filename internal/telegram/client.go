// Package telegram connects the command router to the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"litshelf/internal/bot"
	"litshelf/internal/util"
	"litshelf/pkg/domain"
)

// Client wraps the Bot API for sending, downloading and command menus.
type Client struct {
	api          *tgbotapi.BotAPI
	httpClient   *http.Client
	logger       *slog.Logger
	messageLimit int
}

type Config struct {
	Token        string
	MessageLimit int
	Logger       *slog.Logger
	HTTPClient   *http.Client
}

// NewClient authenticates against the Bot API.
func NewClient(cfg Config) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("bot token required")
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("init bot api: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	limit := cfg.MessageLimit
	if limit <= 0 {
		limit = util.DefaultMessageLimit
	}
	logger.Info("telegram bot authorized", "username", api.Self.UserName)
	return &Client{api: api, httpClient: httpClient, logger: logger, messageLimit: limit}, nil
}

// Send delivers text to chatID, split into message-sized chunks.
func (c *Client) Send(ctx context.Context, chatID int64, text string) error {
	for _, part := range util.SplitText(text, c.messageLimit) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.api.Send(tgbotapi.NewMessage(chatID, part)); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

// Reply sends router replies, attaching inline keyboards where present.
func (c *Client) Reply(ctx context.Context, chatID int64, replies []bot.Reply) error {
	for _, r := range replies {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := c.api.Send(newMessage(chatID, r)); err != nil {
			return fmt.Errorf("send reply: %w", err)
		}
	}
	return nil
}

// Download fetches a document, refusing files larger than maxBytes.
func (c *Client) Download(ctx context.Context, fileID string, maxBytes int64) ([]byte, error) {
	url, err := c.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("file exceeds %d bytes", maxBytes)
	}
	return data, nil
}

// SetCommands installs the role's command menu for one chat.
func (c *Client) SetCommands(_ context.Context, chatID int64, role domain.Role) error {
	cfg := tgbotapi.NewSetMyCommandsWithScope(tgbotapi.NewBotCommandScopeChat(chatID), menu(role)...)
	if _, err := c.api.Request(cfg); err != nil {
		return fmt.Errorf("set commands: %w", err)
	}
	return nil
}

// SyncMenus installs the reader menu as default and a per-chat menu for
// every user. Failures are logged and skipped.
func (c *Client) SyncMenus(ctx context.Context, users []domain.User) {
	if _, err := c.api.Request(tgbotapi.NewSetMyCommands(menu(domain.RoleReader)...)); err != nil {
		c.logger.Warn("set default commands failed", "err", err)
	}
	for _, u := range users {
		if ctx.Err() != nil {
			return
		}
		if err := c.SetCommands(ctx, u.ID, u.Role); err != nil {
			c.logger.Warn("set user commands failed", "user_id", u.ID, "err", err)
		}
	}
}

// RefreshMenu is an app.RoleObserver that updates a user's menu after a role change.
func (c *Client) RefreshMenu(ctx context.Context, user domain.User) {
	if err := c.SetCommands(ctx, user.ID, user.Role); err != nil {
		c.logger.Warn("refresh commands failed", "user_id", user.ID, "err", err)
	}
}

func (c *Client) answerCallback(id string) {
	if _, err := c.api.Request(tgbotapi.NewCallback(id, "")); err != nil {
		c.logger.Debug("answer callback failed", "err", err)
	}
}

func menu(role domain.Role) []tgbotapi.BotCommand {
	cmds := bot.CommandsFor(role)
	out := make([]tgbotapi.BotCommand, 0, len(cmds))
	for _, cmd := range cmds {
		out = append(out, tgbotapi.BotCommand{Command: cmd.Name, Description: cmd.Description})
	}
	return out
}

func newMessage(chatID int64, r bot.Reply) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, r.Text)
	if len(r.Buttons) > 0 {
		msg.ReplyMarkup = keyboard(r.Buttons)
	}
	return msg
}

func keyboard(rows [][]bot.Button) tgbotapi.InlineKeyboardMarkup {
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		out = append(out, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(out...)
}
