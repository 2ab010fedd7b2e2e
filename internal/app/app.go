package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"litshelf/internal/util"
	"litshelf/pkg/conversation"
	"litshelf/pkg/domain"
	"litshelf/pkg/notify"
	"litshelf/pkg/policy"
	"litshelf/pkg/store"
)

const (
	DefaultMaxWorkLength       = 3500
	DefaultReviewPreviewLength = 3500
	defaultConversationTTL     = 30 * time.Minute
)

// FlowConflict decides what happens when a user starts a flow while another
// one is still in progress.
type FlowConflict string

const (
	FlowConflictReplace FlowConflict = "replace"
	FlowConflictReject  FlowConflict = "reject"
)

// ParseFlowConflict accepts replace or reject; empty means replace.
func ParseFlowConflict(raw string) (FlowConflict, error) {
	switch FlowConflict(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FlowConflictReplace:
		return FlowConflictReplace, nil
	case FlowConflictReject:
		return FlowConflictReject, nil
	default:
		return "", fmt.Errorf("unknown flow conflict policy: %s", raw)
	}
}

// RoleObserver is told about every committed role change.
type RoleObserver func(ctx context.Context, user domain.User)

// Config holds runtime configuration for the workflow engine.
type Config struct {
	Store                store.Store
	Conversations        conversation.Store
	Notifier             notify.Notifier
	Logger               *slog.Logger
	MaxWorkLength        int
	ReviewPreviewLength  int
	FlowConflict         FlowConflict
	AllowOwnerAssignment bool
	RoleObserver         RoleObserver
}

// App is the role-gated workflow engine: submission and rating flows,
// moderation and owner administration.
type App struct {
	store          store.Store
	conversations  conversation.Store
	notifier       notify.Notifier
	logger         *slog.Logger
	validate       *validator.Validate
	maxWorkLength  int
	previewLength  int
	flowConflict   FlowConflict
	allowOwnerRole bool
	roleObserver   RoleObserver
}

// New constructs the engine. Only Store is required.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	conversations := cfg.Conversations
	if conversations == nil {
		conversations = conversation.NewMemoryStore(defaultConversationTTL, 0)
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxWorkLength := cfg.MaxWorkLength
	if maxWorkLength <= 0 {
		maxWorkLength = DefaultMaxWorkLength
	}
	previewLength := cfg.ReviewPreviewLength
	if previewLength <= 0 {
		previewLength = DefaultReviewPreviewLength
	}
	conflict := cfg.FlowConflict
	if conflict == "" {
		conflict = FlowConflictReplace
	}
	if conflict != FlowConflictReplace && conflict != FlowConflictReject {
		return nil, fmt.Errorf("unknown flow conflict policy: %s", conflict)
	}
	return &App{
		store:          cfg.Store,
		conversations:  conversations,
		notifier:       notifier,
		logger:         logger,
		validate:       validator.New(),
		maxWorkLength:  maxWorkLength,
		previewLength:  previewLength,
		flowConflict:   conflict,
		allowOwnerRole: cfg.AllowOwnerAssignment,
		roleObserver:   cfg.RoleObserver,
	}, nil
}

// MaxWorkLength is the configured content limit in characters.
func (a *App) MaxWorkLength() int {
	return a.maxWorkLength
}

// User returns the stored user. Unregistered users read as readers.
func (a *App) User(ctx context.Context, userID int64) (domain.User, error) {
	user, ok, err := a.store.GetUser(userID)
	if err != nil {
		return domain.User{}, a.internal(ctx, "get user", err, "user_id", userID)
	}
	if !ok {
		return domain.User{ID: userID, Role: domain.RoleReader}, nil
	}
	return user, nil
}

// State returns the user's conversation state.
func (a *App) State(ctx context.Context, userID int64) (conversation.State, error) {
	state, err := a.conversations.Get(ctx, userID)
	if err != nil {
		return conversation.State{}, a.internal(ctx, "load conversation", err, "user_id", userID)
	}
	return state, nil
}

func (a *App) require(ctx context.Context, userID int64, capability domain.Capability) (domain.User, error) {
	user, err := a.User(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if policy.Authorize(user.Role, capability) {
		return user, nil
	}
	if user.Role == domain.RoleBanned {
		return domain.User{}, &PermissionError{Capability: capability, Banned: true}
	}
	return domain.User{}, a.permissionError(ctx, capability)
}

// requireActive admits any non-banned user to public reader actions.
func (a *App) requireActive(ctx context.Context, userID int64) (domain.User, error) {
	user, err := a.User(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	if !policy.Active(user.Role) {
		return domain.User{}, &PermissionError{Capability: domain.CapReader, Banned: true}
	}
	return user, nil
}

// dropIfDenied ends an in-flight flow for a user who lost the capability it needs.
func (a *App) dropIfDenied(ctx context.Context, userID int64, err error) {
	var perr *PermissionError
	if errors.As(err, &perr) {
		a.clearState(ctx, userID)
	}
}

func (a *App) permissionError(ctx context.Context, capability domain.Capability) error {
	perr := &PermissionError{Capability: capability}
	owners, err := a.store.ListUsersByRole(domain.RoleOwner)
	if err != nil {
		a.logger.WarnContext(ctx, "owner lookup failed", "err", err)
		return perr
	}
	if len(owners) == 0 {
		perr.NoOwner = true
		return perr
	}
	perr.Contact = owners[0].Mention()
	return perr
}

// startFlow enforces the flow conflict policy before a new flow begins.
func (a *App) startFlow(ctx context.Context, userID int64, next conversation.State) error {
	if a.flowConflict == FlowConflictReject {
		current, err := a.State(ctx, userID)
		if err != nil {
			return err
		}
		if !current.IsIdle() {
			return &StateError{Reason: "another action is in progress; send /cancel first"}
		}
	}
	if err := a.conversations.Put(ctx, userID, next); err != nil {
		return a.internal(ctx, "save conversation", err, "user_id", userID)
	}
	return nil
}

func (a *App) saveState(ctx context.Context, userID int64, state conversation.State) error {
	if err := a.conversations.Put(ctx, userID, state); err != nil {
		return a.internal(ctx, "save conversation", err, "user_id", userID)
	}
	return nil
}

// clearState drops the conversation after a commit or terminal error. A
// failure here is logged only; the entry still expires on its own.
func (a *App) clearState(ctx context.Context, userID int64) {
	if err := a.conversations.Clear(ctx, userID); err != nil {
		a.logger.WarnContext(ctx, "clear conversation failed", "user_id", userID, "err", err)
	}
}

// resetFlow clears the conversation and reports a StateError.
func (a *App) resetFlow(ctx context.Context, userID int64, reason string) error {
	a.clearState(ctx, userID)
	return &StateError{Reason: reason}
}

// Cancel abandons any in-progress flow. It reports whether one was active.
func (a *App) Cancel(ctx context.Context, userID int64) (bool, error) {
	state, err := a.State(ctx, userID)
	if err != nil {
		return false, err
	}
	if state.IsIdle() {
		return false, nil
	}
	if err := a.conversations.Clear(ctx, userID); err != nil {
		return false, a.internal(ctx, "clear conversation", err, "user_id", userID)
	}
	return true, nil
}

func (a *App) internal(ctx context.Context, op string, err error, attrs ...any) error {
	args := append([]any{"op", op, "err", err}, attrs...)
	if id := util.UpdateIDFromContext(ctx); id != "" {
		args = append(args, "update_id", id)
	}
	a.logger.ErrorContext(ctx, "operation failed", args...)
	return ErrInternal
}

func (a *App) dispatch(ctx context.Context, intents ...notify.Intent) {
	if len(intents) == 0 {
		return
	}
	notify.Dispatch(ctx, a.notifier, a.logger, intents...)
}

func (a *App) authorOf(ctx context.Context, work domain.Work) domain.User {
	author, ok, err := a.store.GetUser(work.AuthorID)
	if err != nil {
		a.logger.WarnContext(ctx, "author lookup failed", "work_id", work.ID, "err", err)
	}
	if err != nil || !ok {
		return domain.User{ID: work.AuthorID, Role: domain.RoleReader}
	}
	return author
}
