// Package bot maps transport-neutral updates (commands, replies, button
// presses, documents) onto the workflow engine and renders the replies.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"litshelf/internal/app"
	"litshelf/internal/util"
	"litshelf/pkg/conversation"
	"litshelf/pkg/domain"
)

const defaultMaxUploadBytes = 1 << 20

// Document is an attached file as announced by the transport.
type Document struct {
	FileID   string
	FileName string
	Size     int64
}

// Update is one inbound event from a user.
type Update struct {
	UserID    int64
	Username  string
	FirstName string
	Text      string
	Document  *Document
	// Callback carries button data such as "rate:12".
	Callback string
}

// Button is an inline choice attached to a reply.
type Button struct {
	Text string
	Data string
}

// Reply is one outbound message. Buttons are laid out in rows.
type Reply struct {
	Text    string
	Buttons [][]Button
}

// Files downloads attached documents.
type Files interface {
	Download(ctx context.Context, fileID string, maxBytes int64) ([]byte, error)
}

// Limiter throttles commands per user.
type Limiter interface {
	Allow(key string) bool
}

type Config struct {
	App            *app.App
	Files          Files
	Limiter        Limiter
	Logger         *slog.Logger
	MessageLimit   int
	MaxUploadBytes int64
}

type Router struct {
	app            *app.App
	files          Files
	limiter        Limiter
	logger         *slog.Logger
	messageLimit   int
	maxUploadBytes int64
}

func New(cfg Config) (*Router, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.MessageLimit
	if limit <= 0 {
		limit = util.DefaultMessageLimit
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	return &Router{
		app:            cfg.App,
		files:          cfg.Files,
		limiter:        cfg.Limiter,
		logger:         logger,
		messageLimit:   limit,
		maxUploadBytes: maxUpload,
	}, nil
}

// Handle processes one update and returns the replies for the sender.
func (r *Router) Handle(ctx context.Context, u Update) []Reply {
	if _, err := r.app.Register(ctx, app.Profile{ID: u.UserID, Username: u.Username, FirstName: u.FirstName}); err != nil {
		return r.fail(err)
	}
	if u.Callback != "" {
		return r.handleCallback(ctx, u)
	}
	text := strings.TrimSpace(u.Text)
	if name, args, ok := parseCommand(text); ok {
		if r.limiter != nil && !r.limiter.Allow(fmt.Sprintf("user:%d", u.UserID)) {
			return r.say("⏳ Too many commands. Please wait a minute and try again.")
		}
		return r.handleCommand(ctx, u, name, args)
	}
	if u.Document != nil {
		return r.handleDocument(ctx, u)
	}
	return r.handleText(ctx, u.UserID, u.Text)
}

func (r *Router) handleCommand(ctx context.Context, u Update, name, args string) []Reply {
	switch name {
	case "start":
		return r.start(ctx, u)
	case "works_list":
		return r.worksList(ctx, u.UserID)
	case "read":
		return r.readList(ctx, u.UserID)
	case "read_work":
		id, ok := parseID(args)
		if !ok {
			return r.say("Usage: /read_work <work id>")
		}
		return r.readWork(ctx, u.UserID, id)
	case "rate_work":
		id, ok := parseID(args)
		if !ok {
			return r.say("Usage: /rate_work <work id>")
		}
		return r.beginRating(ctx, u.UserID, id)
	case "cancel":
		cancelled, err := r.app.Cancel(ctx, u.UserID)
		if err != nil {
			return r.fail(err)
		}
		if !cancelled {
			return r.say("Nothing to cancel.")
		}
		return r.say("Cancelled.")
	case "skip":
		return r.handleText(ctx, u.UserID, "/skip")
	case "submit_work":
		if err := r.app.BeginSubmission(ctx, u.UserID); err != nil {
			return r.fail(err)
		}
		return r.say("Send the title of your work (up to 100 characters).")
	case "review":
		return r.pending(ctx, u.UserID)
	case "delete_work":
		id, ok := parseID(args)
		if !ok {
			return r.say("Usage: /delete_work <work id>")
		}
		work, err := r.app.DeleteWork(ctx, u.UserID, id)
		if err != nil {
			return r.fail(err)
		}
		return r.say(fmt.Sprintf("Work %q (ID: %d) deleted.", work.Title, work.ID))
	case "users":
		return r.users(ctx, u.UserID)
	case "setrole":
		fields := strings.Fields(args)
		if len(fields) != 2 {
			return r.say("Usage: /setrole <id|@username> <role>")
		}
		user, err := r.app.SetRole(ctx, u.UserID, fields[0], fields[1])
		if err != nil {
			return r.fail(err)
		}
		return r.say(fmt.Sprintf("Role %s set for %s.", user.Role.Title(), user.Mention()))
	case "init_owner":
		if _, err := r.app.InitOwner(ctx, u.UserID); err != nil {
			return r.fail(err)
		}
		return r.say("You are now the bot owner.")
	default:
		return r.say("Unknown command. Send /start to see what you can do.")
	}
}

// handleText routes free text by the sender's conversation step.
func (r *Router) handleText(ctx context.Context, userID int64, text string) []Reply {
	state, err := r.app.State(ctx, userID)
	if err != nil {
		return r.fail(err)
	}
	switch state.Step {
	case conversation.StepAwaitingTitle:
		if err := r.app.SubmitTitle(ctx, userID, text); err != nil {
			return r.fail(err)
		}
		return r.say(fmt.Sprintf("Now send the text of the work (up to %d characters) as a message or a .txt file.", r.app.MaxWorkLength()))
	case conversation.StepAwaitingContent:
		return r.submitContent(ctx, userID, app.Content{Text: text})
	case conversation.StepAwaitingStars:
		return r.say("Choose a rating with the buttons above, or send /cancel.")
	case conversation.StepAwaitingReview:
		work, err := r.app.SubmitReview(ctx, userID, text)
		if err != nil {
			return r.fail(err)
		}
		msg := fmt.Sprintf("Thank you for rating! Current rating of %q: %.2f⭐ (%d ratings)", work.Title, work.Rating, work.RatingCount)
		if comment := strings.TrimSpace(text); comment != "" && !app.IsSkip(comment) {
			msg += "\nYour review was saved: " + comment
		}
		return r.say(msg)
	default:
		return r.fail(&app.StateError{})
	}
}

func (r *Router) handleDocument(ctx context.Context, u Update) []Reply {
	state, err := r.app.State(ctx, u.UserID)
	if err != nil {
		return r.fail(err)
	}
	if !state.ReadyForContent() {
		return r.fail(&app.StateError{Reason: "no submission is waiting for a file"})
	}
	if !strings.EqualFold(filepath.Ext(u.Document.FileName), ".txt") {
		return r.fail(&app.ValidationError{Field: "file", Message: "only plain-text .txt files are accepted"})
	}
	if u.Document.Size > r.maxUploadBytes {
		return r.fail(&app.ValidationError{Field: "file", Message: fmt.Sprintf("the file is too large (limit %d bytes)", r.maxUploadBytes)})
	}
	if r.files == nil {
		return r.fail(errors.New("file downloads not configured"))
	}
	data, err := r.files.Download(ctx, u.Document.FileID, r.maxUploadBytes)
	if err != nil {
		r.logger.WarnContext(ctx, "document download failed", "user_id", u.UserID, "err", err)
		return r.fail(err)
	}
	return r.submitContent(ctx, u.UserID, app.Content{File: &app.File{Name: u.Document.FileName, Data: data}})
}

func (r *Router) submitContent(ctx context.Context, userID int64, content app.Content) []Reply {
	work, err := r.app.SubmitContent(ctx, userID, content)
	if err != nil {
		return r.fail(err)
	}
	return r.say(fmt.Sprintf("Your work %q was sent for moderation (ID: %d).", work.Title, work.ID))
}

func (r *Router) handleCallback(ctx context.Context, u Update) []Reply {
	parts := strings.Split(u.Callback, ":")
	switch {
	case len(parts) == 2 && parts[0] == "rate":
		if id, ok := parseID(parts[1]); ok {
			return r.beginRating(ctx, u.UserID, id)
		}
	case len(parts) == 3 && parts[0] == "stars":
		stars, err := strconv.Atoi(parts[1])
		id, ok := parseID(parts[2])
		if err != nil || !ok {
			break
		}
		if err := r.app.ChooseStars(ctx, u.UserID, id, stars); err != nil {
			return r.fail(err)
		}
		return r.say("Write your review of the work, or send skip.")
	case len(parts) == 2 && parts[0] == "reviews":
		if id, ok := parseID(parts[1]); ok {
			return r.reviews(ctx, u.UserID, id)
		}
	case len(parts) == 2 && parts[0] == "approve":
		if id, ok := parseID(parts[1]); ok {
			work, err := r.app.Approve(ctx, u.UserID, id)
			if err != nil {
				return r.fail(err)
			}
			return r.say(fmt.Sprintf("Work %q approved.", work.Title))
		}
	case len(parts) == 2 && parts[0] == "reject":
		if id, ok := parseID(parts[1]); ok {
			work, err := r.app.Reject(ctx, u.UserID, id)
			if err != nil {
				return r.fail(err)
			}
			return r.say(fmt.Sprintf("Work %q rejected.", work.Title))
		}
	}
	return r.say("Unknown action.")
}

func (r *Router) beginRating(ctx context.Context, userID, workID int64) []Reply {
	work, err := r.app.BeginRating(ctx, userID, workID)
	if errors.Is(err, app.ErrAlreadyRated) {
		replies := r.say("You have already rated this work.")
		return append(replies, r.reviews(ctx, userID, workID)...)
	}
	if err != nil {
		return r.fail(err)
	}
	rows := make([][]Button, 0, 5)
	for n := domain.MinStars; n <= domain.MaxStars; n++ {
		rows = append(rows, []Button{{
			Text: strings.Repeat("⭐", n),
			Data: fmt.Sprintf("stars:%d:%d", n, work.ID),
		}})
	}
	return []Reply{{Text: fmt.Sprintf("Rate %q from %d to %d stars:", work.Title, domain.MinStars, domain.MaxStars), Buttons: rows}}
}

// fail renders err for the user. Anything outside the error taxonomy is
// reported generically.
func (r *Router) fail(err error) []Reply {
	return r.say(ErrorText(err))
}

// ErrorText maps an engine error to the message shown to users.
func ErrorText(err error) string {
	var (
		perr *app.PermissionError
		verr *app.ValidationError
		serr *app.StateError
	)
	switch {
	case errors.As(err, &perr):
		return "🚫 " + perr.Error()
	case errors.As(err, &verr):
		return "⚠️ " + verr.Error()
	case errors.As(err, &serr):
		return "↩️ " + serr.Error()
	case errors.Is(err, app.ErrNotFound):
		return "Not found."
	case errors.Is(err, app.ErrAlreadyRated), errors.Is(err, app.ErrOwnerExists):
		return err.Error() + "."
	default:
		return app.ErrInternal.Error() + "."
	}
}

func (r *Router) say(text string) []Reply {
	return r.chunks(text, nil)
}

// chunks splits text to the message limit. Buttons go on the last chunk.
func (r *Router) chunks(text string, buttons [][]Button) []Reply {
	parts := util.SplitText(text, r.messageLimit)
	if len(parts) == 0 {
		parts = []string{""}
	}
	replies := make([]Reply, len(parts))
	for i, p := range parts {
		replies[i] = Reply{Text: p}
	}
	replies[len(replies)-1].Buttons = buttons
	return replies
}

// parseCommand splits "/name@bot args" into name and args.
func parseCommand(text string) (string, string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, args, _ := strings.Cut(text[1:], " ")
	name, _, _ := strings.Cut(head, "@")
	name = strings.ToLower(name)
	if name == "" {
		return "", "", false
	}
	return name, strings.TrimSpace(args), true
}

func parseID(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.ContainsAny(raw, " \t") {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
