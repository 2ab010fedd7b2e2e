package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"litshelf/pkg/conversation"
	"litshelf/pkg/domain"
	"litshelf/pkg/notify"
	"litshelf/pkg/store"
)

// IsSkip reports whether text means "no written review".
func IsSkip(text string) bool {
	text = strings.TrimSpace(text)
	return strings.EqualFold(text, "skip") || strings.EqualFold(text, "/skip")
}

// BeginRating starts the rating flow for an approved work the user has not rated.
func (a *App) BeginRating(ctx context.Context, userID, workID int64) (domain.Work, error) {
	if _, err := a.requireActive(ctx, userID); err != nil {
		return domain.Work{}, err
	}
	work, ok, err := a.store.GetApprovedWork(workID)
	if err != nil {
		return domain.Work{}, a.internal(ctx, "get work", err, "work_id", workID)
	}
	if !ok {
		return domain.Work{}, ErrNotFound
	}
	rated, err := a.store.HasReview(workID, userID)
	if err != nil {
		return domain.Work{}, a.internal(ctx, "check review", err, "work_id", workID, "user_id", userID)
	}
	if rated {
		return domain.Work{}, ErrAlreadyRated
	}
	if err := a.startFlow(ctx, userID, conversation.Idle().StartRating(workID)); err != nil {
		return domain.Work{}, err
	}
	return work, nil
}

// ChooseStars records the star value. Any mismatch resets the flow.
func (a *App) ChooseStars(ctx context.Context, userID, workID int64, stars int) error {
	state, err := a.State(ctx, userID)
	if err != nil {
		return err
	}
	next, err := state.WithStars(workID, stars)
	if err != nil {
		return a.resetFlow(ctx, userID, "this rating is no longer active")
	}
	return a.saveState(ctx, userID, next)
}

// SubmitReview commits the rating with an optional comment and tells the author.
func (a *App) SubmitReview(ctx context.Context, userID int64, text string) (domain.Work, error) {
	state, err := a.State(ctx, userID)
	if err != nil {
		return domain.Work{}, err
	}
	if !state.ReadyForReview() {
		return domain.Work{}, &StateError{Reason: "no rating is waiting for a review"}
	}
	rater, err := a.requireActive(ctx, userID)
	if err != nil {
		a.dropIfDenied(ctx, userID, err)
		return domain.Work{}, err
	}
	comment := strings.TrimSpace(text)
	if IsSkip(comment) {
		comment = ""
	}

	work, err := a.store.CommitRating(domain.Review{
		WorkID:  state.Payload.WorkID,
		UserID:  userID,
		Stars:   state.Payload.Stars,
		Comment: comment,
	})
	switch {
	case errors.Is(err, store.ErrAlreadyRated):
		a.clearState(ctx, userID)
		return domain.Work{}, ErrAlreadyRated
	case errors.Is(err, store.ErrNotFound):
		a.clearState(ctx, userID)
		return domain.Work{}, ErrNotFound
	case err != nil:
		return domain.Work{}, a.internal(ctx, "commit rating", err, "work_id", state.Payload.WorkID, "user_id", userID)
	}
	a.clearState(ctx, userID)
	a.logger.InfoContext(ctx, "work rated", "work_id", work.ID, "user_id", userID, "stars", state.Payload.Stars)

	msg := fmt.Sprintf("📊 Your work %q got a new rating: %d⭐ from %s\nCurrent rating: %.2f⭐ (%d ratings)",
		work.Title, state.Payload.Stars, rater.Mention(), work.Rating, work.RatingCount)
	if comment != "" {
		msg += "\nReview: " + comment
	}
	a.dispatch(ctx, notify.NewIntent(work.AuthorID, notify.KindWorkRated, msg))
	return work, nil
}
