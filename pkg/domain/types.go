package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Role is the single authorization attribute of a user.
type Role string

const (
	RoleReader    Role = "reader"
	RoleAuthor    Role = "author"
	RoleModerator Role = "moderator"
	RoleOwner     Role = "owner"
	RoleBanned    Role = "banned"
)

// Roles lists every valid role in display order.
var Roles = []Role{RoleReader, RoleAuthor, RoleModerator, RoleOwner, RoleBanned}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// Title returns a human-readable role name.
func (r Role) Title() string {
	switch r {
	case RoleReader:
		return "Reader"
	case RoleAuthor:
		return "Author"
	case RoleModerator:
		return "Moderator"
	case RoleOwner:
		return "Owner"
	case RoleBanned:
		return "Banned"
	default:
		return string(r)
	}
}

// ParseRole converts user input into a Role.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", raw)
	}
	return role, nil
}

// Capability is an action gated by role.
type Capability string

const (
	CapReader    Capability = "reader"
	CapAuthor    Capability = "author"
	CapModerator Capability = "moderator"
	CapOwner     Capability = "owner"
)

// Capabilities lists every capability.
var Capabilities = []Capability{CapReader, CapAuthor, CapModerator, CapOwner}

const (
	// MaxTitleLength is the title limit in characters.
	MaxTitleLength = 100
	MinStars       = 1
	MaxStars       = 5
)

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username,omitempty"`
	FirstName string    `json:"firstName,omitempty"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Mention renders the user as @handle, falling back to id<N>.
func (u User) Mention() string {
	if u.Username != "" {
		return "@" + u.Username
	}
	return fmt.Sprintf("id%d", u.ID)
}

// Work is a literary submission. It is pending until Approved is set.
type Work struct {
	ID          int64     `json:"id"`
	AuthorID    int64     `json:"authorId"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Approved    bool      `json:"approved"`
	Rating      float64   `json:"rating"`
	RatingCount int       `json:"ratingCount"`
	RatingSum   int       `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Pending reports whether the work still awaits moderation.
func (w Work) Pending() bool {
	return !w.Approved
}

// AddRating returns w with one more star rating folded into the aggregate.
func (w Work) AddRating(stars int) Work {
	w.RatingSum += stars
	w.RatingCount++
	w.Rating = MeanRating(w.RatingSum, w.RatingCount)
	return w
}

// Review is one user's rating of a work. Comment is empty when skipped.
type Review struct {
	ID        int64     `json:"id"`
	WorkID    int64     `json:"workId"`
	UserID    int64     `json:"userId"`
	Stars     int       `json:"stars"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// MeanRating is sum/count rounded to two decimal places.
func MeanRating(sum, count int) float64 {
	if count <= 0 {
		return 0
	}
	return RoundRating(float64(sum) / float64(count))
}

// NextRating applies one incremental mean update:
// (mean*count + stars) / (count+1), rounded to two decimal places.
// It is the reference formula only. Stored aggregates use MeanRating over the
// exact star sum, which it matches up to rounding.
func NextRating(mean float64, count, stars int) float64 {
	return RoundRating((mean*float64(count) + float64(stars)) / float64(count+1))
}

// RoundRating rounds to two decimal places.
func RoundRating(v float64) float64 {
	return math.Round(v*100) / 100
}
