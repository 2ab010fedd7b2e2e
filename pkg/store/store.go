package store

import (
	"errors"

	"litshelf/pkg/domain"
)

var (
	// ErrNotFound is returned by conditional mutations whose predicate no longer holds.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyRated is returned when a (work, user) review already exists.
	ErrAlreadyRated = errors.New("work already rated by user")
	// ErrOwnerExists is returned when an owner has already been claimed.
	ErrOwnerExists = errors.New("owner already assigned")
)

// Store defines persistence operations for users, works, and reviews.
type Store interface {
	// users
	GetUser(id int64) (domain.User, bool, error)
	GetUserByUsername(username string) (domain.User, bool, error)
	RegisterUser(u domain.User) (domain.User, bool, error)
	SetUserRole(id int64, role domain.Role) (domain.User, error)
	ClaimOwner(id int64) (domain.User, error)
	ListUsers() ([]domain.User, error)
	ListUsersByRole(roles ...domain.Role) ([]domain.User, error)

	// works
	CreateWork(w domain.Work) (domain.Work, error)
	GetWork(id int64) (domain.Work, bool, error)
	GetApprovedWork(id int64) (domain.Work, bool, error)
	ListApprovedWorks() ([]domain.Work, error)
	ListPendingWorks() ([]domain.Work, error)
	ApprovePendingWork(id int64) (domain.Work, error)
	RejectPendingWork(id int64) (domain.Work, error)
	DeleteWork(id int64) (domain.Work, error)

	// reviews
	HasReview(workID, userID int64) (bool, error)
	ListReviews(workID int64) ([]domain.Review, error)
	CommitRating(r domain.Review) (domain.Work, error)
}
