// Package conversation holds the per-user state machine that drives the
// multi-step submission and rating flows.
package conversation

import (
	"errors"
	"time"

	"litshelf/pkg/domain"
)

// Flow names the multi-step interaction a user is in.
type Flow string

const (
	FlowNone       Flow = ""
	FlowSubmission Flow = "submission"
	FlowRating     Flow = "rating"
)

// Step is the position within a flow.
type Step string

const (
	StepIdle            Step = "idle"
	StepAwaitingTitle   Step = "awaiting_title"
	StepAwaitingContent Step = "awaiting_content"
	StepAwaitingStars   Step = "awaiting_stars"
	StepAwaitingReview  Step = "awaiting_review"
)

var (
	// ErrUnexpectedStep is returned when an event does not fit the current step.
	ErrUnexpectedStep = errors.New("event does not match conversation step")
	// ErrWorkMismatch is returned when a rating event names a different work.
	ErrWorkMismatch = errors.New("event refers to a different work")
	// ErrStarsOutOfRange is returned for star values outside 1..5.
	ErrStarsOutOfRange = errors.New("stars out of range")
)

// Payload is the data accumulated across steps.
type Payload struct {
	Title  string `json:"title,omitempty"`
	WorkID int64  `json:"workId,omitempty"`
	Stars  int    `json:"stars,omitempty"`
}

// State is one user's conversation. The zero value is idle.
type State struct {
	Flow      Flow      `json:"flow"`
	Step      Step      `json:"step"`
	Payload   Payload   `json:"payload"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Idle returns the initial state.
func Idle() State {
	return State{Flow: FlowNone, Step: StepIdle}
}

// IsIdle reports whether no flow is in progress.
func (s State) IsIdle() bool {
	return s.Flow == FlowNone || s.Step == "" || s.Step == StepIdle
}

// Expired reports whether the state has been idle longer than ttl.
func (s State) Expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 || s.UpdatedAt.IsZero() {
		return false
	}
	return now.Sub(s.UpdatedAt) > ttl
}

// StartSubmission enters the submission flow. Any previous state is discarded.
func (s State) StartSubmission() State {
	return State{Flow: FlowSubmission, Step: StepAwaitingTitle}
}

// WithTitle records the title and moves on to content.
func (s State) WithTitle(title string) (State, error) {
	if s.Flow != FlowSubmission || s.Step != StepAwaitingTitle {
		return s, ErrUnexpectedStep
	}
	s.Step = StepAwaitingContent
	s.Payload.Title = title
	return s, nil
}

// ReadyForContent reports whether content is the expected next input.
func (s State) ReadyForContent() bool {
	return s.Flow == FlowSubmission && s.Step == StepAwaitingContent && s.Payload.Title != ""
}

// StartRating enters the rating flow for workID. Any previous state is discarded.
func (s State) StartRating(workID int64) State {
	return State{Flow: FlowRating, Step: StepAwaitingStars, Payload: Payload{WorkID: workID}}
}

// WithStars records the star value and moves on to the review text.
func (s State) WithStars(workID int64, stars int) (State, error) {
	if s.Flow != FlowRating || s.Step != StepAwaitingStars {
		return s, ErrUnexpectedStep
	}
	if s.Payload.WorkID != workID {
		return s, ErrWorkMismatch
	}
	if stars < domain.MinStars || stars > domain.MaxStars {
		return s, ErrStarsOutOfRange
	}
	s.Step = StepAwaitingReview
	s.Payload.Stars = stars
	return s, nil
}

// ReadyForReview reports whether review text is the expected next input.
func (s State) ReadyForReview() bool {
	return s.Flow == FlowRating && s.Step == StepAwaitingReview && s.Payload.WorkID > 0 && s.Payload.Stars > 0
}
