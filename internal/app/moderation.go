package app

import (
	"context"
	"errors"
	"fmt"

	"litshelf/internal/util"
	"litshelf/pkg/domain"
	"litshelf/pkg/notify"
	"litshelf/pkg/store"
)

// WorkListing pairs a work with its author. Truncated is set when the
// content was cut for preview.
type WorkListing struct {
	Work      domain.Work
	Author    domain.User
	Truncated bool
}

// PendingWorks lists works awaiting moderation with previews capped in length.
func (a *App) PendingWorks(ctx context.Context, moderatorID int64) ([]WorkListing, error) {
	if _, err := a.require(ctx, moderatorID, domain.CapModerator); err != nil {
		return nil, err
	}
	works, err := a.store.ListPendingWorks()
	if err != nil {
		return nil, a.internal(ctx, "list pending works", err)
	}
	out := make([]WorkListing, 0, len(works))
	for _, work := range works {
		preview, truncated := util.Truncate(work.Content, a.previewLength)
		work.Content = preview
		out = append(out, WorkListing{Work: work, Author: a.authorOf(ctx, work), Truncated: truncated})
	}
	return out, nil
}

// Approve publishes a pending work.
func (a *App) Approve(ctx context.Context, moderatorID, workID int64) (domain.Work, error) {
	if _, err := a.require(ctx, moderatorID, domain.CapModerator); err != nil {
		return domain.Work{}, err
	}
	work, err := a.store.ApprovePendingWork(workID)
	if err != nil {
		return domain.Work{}, a.mutationError(ctx, "approve work", err, workID)
	}
	a.logger.InfoContext(ctx, "work approved", "work_id", work.ID, "moderator_id", moderatorID)
	a.dispatch(ctx, notify.NewIntent(work.AuthorID, notify.KindWorkApproved,
		fmt.Sprintf("✅ Your work %q was approved by a moderator and is now public.", work.Title)))
	return work, nil
}

// Reject deletes a pending work.
func (a *App) Reject(ctx context.Context, moderatorID, workID int64) (domain.Work, error) {
	if _, err := a.require(ctx, moderatorID, domain.CapModerator); err != nil {
		return domain.Work{}, err
	}
	work, err := a.store.RejectPendingWork(workID)
	if err != nil {
		return domain.Work{}, a.mutationError(ctx, "reject work", err, workID)
	}
	a.logger.InfoContext(ctx, "work rejected", "work_id", work.ID, "moderator_id", moderatorID)
	a.dispatch(ctx, notify.NewIntent(work.AuthorID, notify.KindWorkRejected,
		fmt.Sprintf("❌ Your work %q was rejected by a moderator.", work.Title)))
	return work, nil
}

// DeleteWork removes a work whether pending or approved.
func (a *App) DeleteWork(ctx context.Context, moderatorID, workID int64) (domain.Work, error) {
	if _, err := a.require(ctx, moderatorID, domain.CapModerator); err != nil {
		return domain.Work{}, err
	}
	work, err := a.store.DeleteWork(workID)
	if err != nil {
		return domain.Work{}, a.mutationError(ctx, "delete work", err, workID)
	}
	a.logger.InfoContext(ctx, "work deleted", "work_id", work.ID, "moderator_id", moderatorID)
	return work, nil
}

func (a *App) mutationError(ctx context.Context, op string, err error, workID int64) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return a.internal(ctx, op, err, "work_id", workID)
}
