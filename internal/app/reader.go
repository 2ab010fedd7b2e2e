package app

import (
	"context"

	"litshelf/pkg/domain"
)

// ReviewListing pairs a review with its reviewer.
type ReviewListing struct {
	Review   domain.Review
	Reviewer domain.User
}

// ListApproved returns published works with their authors.
func (a *App) ListApproved(ctx context.Context, userID int64) ([]WorkListing, error) {
	if _, err := a.requireActive(ctx, userID); err != nil {
		return nil, err
	}
	works, err := a.store.ListApprovedWorks()
	if err != nil {
		return nil, a.internal(ctx, "list approved works", err)
	}
	out := make([]WorkListing, 0, len(works))
	for _, work := range works {
		out = append(out, WorkListing{Work: work, Author: a.authorOf(ctx, work)})
	}
	return out, nil
}

// ReadWork returns an approved work, its author and whether the caller rated it.
func (a *App) ReadWork(ctx context.Context, userID, workID int64) (WorkListing, bool, error) {
	if _, err := a.requireActive(ctx, userID); err != nil {
		return WorkListing{}, false, err
	}
	work, ok, err := a.store.GetApprovedWork(workID)
	if err != nil {
		return WorkListing{}, false, a.internal(ctx, "get work", err, "work_id", workID)
	}
	if !ok {
		return WorkListing{}, false, ErrNotFound
	}
	rated, err := a.store.HasReview(workID, userID)
	if err != nil {
		return WorkListing{}, false, a.internal(ctx, "check review", err, "work_id", workID)
	}
	return WorkListing{Work: work, Author: a.authorOf(ctx, work)}, rated, nil
}

// Reviews lists the reviews of an approved work.
func (a *App) Reviews(ctx context.Context, userID, workID int64) (domain.Work, []ReviewListing, error) {
	if _, err := a.requireActive(ctx, userID); err != nil {
		return domain.Work{}, nil, err
	}
	work, ok, err := a.store.GetApprovedWork(workID)
	if err != nil {
		return domain.Work{}, nil, a.internal(ctx, "get work", err, "work_id", workID)
	}
	if !ok {
		return domain.Work{}, nil, ErrNotFound
	}
	reviews, err := a.store.ListReviews(workID)
	if err != nil {
		return domain.Work{}, nil, a.internal(ctx, "list reviews", err, "work_id", workID)
	}
	out := make([]ReviewListing, 0, len(reviews))
	for _, r := range reviews {
		reviewer, found, err := a.store.GetUser(r.UserID)
		if err != nil || !found {
			reviewer = domain.User{ID: r.UserID}
		}
		out = append(out, ReviewListing{Review: r, Reviewer: reviewer})
	}
	return work, out, nil
}
