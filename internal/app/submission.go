package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"litshelf/internal/util"
	"litshelf/pkg/conversation"
	"litshelf/pkg/domain"
	"litshelf/pkg/notify"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// File is an uploaded document carrying the work text.
type File struct {
	Name string
	Data []byte
}

// Content is a work body sent either inline or as a plain-text file.
type Content struct {
	Text string
	File *File
}

// BeginSubmission admits an author into the submission flow.
func (a *App) BeginSubmission(ctx context.Context, userID int64) error {
	if _, err := a.require(ctx, userID, domain.CapAuthor); err != nil {
		return err
	}
	return a.startFlow(ctx, userID, conversation.Idle().StartSubmission())
}

// SubmitTitle records the title. A rejected title keeps the user on the title step.
func (a *App) SubmitTitle(ctx context.Context, userID int64, title string) error {
	state, err := a.State(ctx, userID)
	if err != nil {
		return err
	}
	if state.Flow != conversation.FlowSubmission || state.Step != conversation.StepAwaitingTitle {
		return &StateError{Reason: "no submission is waiting for a title"}
	}
	title = strings.TrimSpace(title)
	if err := a.validate.Var(title, fmt.Sprintf("required,max=%d", domain.MaxTitleLength)); err != nil {
		return lengthError("title", title, domain.MaxTitleLength, err)
	}
	next, err := state.WithTitle(title)
	if err != nil {
		return &StateError{Reason: err.Error()}
	}
	return a.saveState(ctx, userID, next)
}

// SubmitContent resolves the body, creates a pending work and tells moderators.
func (a *App) SubmitContent(ctx context.Context, userID int64, content Content) (domain.Work, error) {
	state, err := a.State(ctx, userID)
	if err != nil {
		return domain.Work{}, err
	}
	if !state.ReadyForContent() {
		return domain.Work{}, &StateError{Reason: "no submission is waiting for content"}
	}
	author, err := a.require(ctx, userID, domain.CapAuthor)
	if err != nil {
		a.dropIfDenied(ctx, userID, err)
		return domain.Work{}, err
	}
	text, err := a.resolveContent(ctx, userID, content)
	if err != nil {
		return domain.Work{}, err
	}
	if err := a.validate.Var(text, fmt.Sprintf("max=%d", a.maxWorkLength)); err != nil {
		return domain.Work{}, lengthError("content", text, a.maxWorkLength, err)
	}

	work, err := a.store.CreateWork(domain.Work{
		AuthorID: userID,
		Title:    state.Payload.Title,
		Content:  text,
	})
	if err != nil {
		return domain.Work{}, a.internal(ctx, "create work", err, "user_id", userID)
	}
	a.clearState(ctx, userID)
	a.logger.InfoContext(ctx, "work submitted", "work_id", work.ID, "user_id", userID)

	a.dispatch(ctx, a.submissionIntents(ctx, work, author)...)
	return work, nil
}

func (a *App) resolveContent(ctx context.Context, userID int64, content Content) (string, error) {
	text := content.Text
	if content.File != nil {
		if !strings.EqualFold(filepath.Ext(content.File.Name), ".txt") {
			return "", &ValidationError{Field: "file", Message: "only plain-text .txt files are accepted"}
		}
		data := bytes.TrimPrefix(content.File.Data, utf8BOM)
		if !utf8.Valid(data) {
			a.clearState(ctx, userID)
			return "", &ValidationError{Field: "file", Message: "the file is not valid UTF-8 text. Start again with /submit_work"}
		}
		text = string(data)
	}
	if strings.TrimSpace(text) == "" {
		return "", &ValidationError{Field: "content", Message: "the work text is empty"}
	}
	return text, nil
}

func (a *App) submissionIntents(ctx context.Context, work domain.Work, author domain.User) []notify.Intent {
	reviewers, err := a.store.ListUsersByRole(domain.RoleModerator, domain.RoleOwner)
	if err != nil {
		a.logger.WarnContext(ctx, "list moderators failed", "work_id", work.ID, "err", err)
		return nil
	}
	text := fmt.Sprintf("📝 New work awaiting review: %q (ID: %d) by %s.\nUse /review to moderate it.",
		work.Title, work.ID, author.Mention())
	intents := make([]notify.Intent, 0, len(reviewers))
	for _, reviewer := range reviewers {
		intents = append(intents, notify.NewIntent(reviewer.ID, notify.KindWorkSubmitted, text))
	}
	return intents
}

// lengthError converts a validator failure into a ValidationError carrying
// the limit and overflow.
func lengthError(field, value string, limit int, err error) error {
	length := util.RuneLen(value)
	verr := &ValidationError{Field: field, Limit: limit, Length: length}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 && fieldErrs[0].Tag() == "required" {
		verr.Message = fmt.Sprintf("the %s must not be empty", field)
		return verr
	}
	if length > limit {
		verr.Overflow = length - limit
	}
	verr.Message = fmt.Sprintf("the %s is too long: %d characters, the limit is %d (%d over)",
		field, length, limit, verr.Overflow)
	return verr
}
