package telegram

import (
	"context"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"
	"litshelf/internal/bot"
	"litshelf/internal/util"
)

// Handler turns one inbound update into replies.
type Handler interface {
	Handle(ctx context.Context, u bot.Update) []bot.Reply
}

type inbound struct {
	updateID   int
	chatID     int64
	callbackID string
	update     bot.Update
}

// Run long-polls for updates until ctx is done. Updates are sharded by user
// so each user's events are handled in order while different users proceed
// in parallel.
func (c *Client) Run(ctx context.Context, handler Handler, workers, pollTimeout int) error {
	if workers <= 0 {
		workers = 1
	}
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = pollTimeout
	updates := c.api.GetUpdatesChan(cfg)

	shards := make([]chan inbound, workers)
	g, gctx := errgroup.WithContext(ctx)
	for i := range shards {
		ch := make(chan inbound, 64)
		shards[i] = ch
		g.Go(func() error {
			for in := range ch {
				c.process(gctx, handler, in)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, ch := range shards {
				close(ch)
			}
		}()
		for {
			select {
			case <-gctx.Done():
				c.api.StopReceivingUpdates()
				return nil
			case raw, ok := <-updates:
				if !ok {
					return nil
				}
				in, ok := convert(raw)
				if !ok {
					continue
				}
				select {
				case shards[shardFor(in.update.UserID, workers)] <- in:
				case <-gctx.Done():
					c.api.StopReceivingUpdates()
					return nil
				}
			}
		}
	})
	return g.Wait()
}

func (c *Client) process(ctx context.Context, handler Handler, in inbound) {
	ctx = util.WithUpdateID(ctx, strconv.Itoa(in.updateID), c.logger)
	logger := util.LoggerFromContext(ctx)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("update handler panicked", "user_id", in.update.UserID, "panic", r)
		}
	}()
	if in.callbackID != "" {
		c.answerCallback(in.callbackID)
	}
	replies := handler.Handle(ctx, in.update)
	if err := c.Reply(ctx, in.chatID, replies); err != nil {
		logger.Warn("reply failed", "user_id", in.update.UserID, "err", err)
	}
	util.LogUpdate(ctx, updateKind(in.update), in.update.UserID, len(replies), start)
}

func updateKind(u bot.Update) string {
	switch {
	case u.Callback != "":
		return "callback"
	case u.Document != nil:
		return "document"
	case len(u.Text) > 0 && u.Text[0] == '/':
		return "command"
	default:
		return "text"
	}
}

func shardFor(userID int64, workers int) int {
	if userID < 0 {
		userID = -userID
	}
	return int(userID % int64(workers))
}

// convert maps a Bot API update onto the router's update. Updates without a
// sender, such as channel posts, are dropped.
func convert(raw tgbotapi.Update) (inbound, bool) {
	if cb := raw.CallbackQuery; cb != nil && cb.From != nil {
		chatID := cb.From.ID
		if cb.Message != nil && cb.Message.Chat != nil {
			chatID = cb.Message.Chat.ID
		}
		return inbound{
			updateID:   raw.UpdateID,
			chatID:     chatID,
			callbackID: cb.ID,
			update: bot.Update{
				UserID:    cb.From.ID,
				Username:  cb.From.UserName,
				FirstName: cb.From.FirstName,
				Callback:  cb.Data,
			},
		}, true
	}
	msg := raw.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return inbound{}, false
	}
	u := bot.Update{
		UserID:    msg.From.ID,
		Username:  msg.From.UserName,
		FirstName: msg.From.FirstName,
		Text:      msg.Text,
	}
	if doc := msg.Document; doc != nil {
		u.Document = &bot.Document{FileID: doc.FileID, FileName: doc.FileName, Size: int64(doc.FileSize)}
	}
	return inbound{updateID: raw.UpdateID, chatID: msg.Chat.ID, update: u}, true
}
