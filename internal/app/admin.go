package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"litshelf/pkg/domain"
	"litshelf/pkg/notify"
	"litshelf/pkg/store"
)

// Profile is what the transport knows about a sender.
type Profile struct {
	ID        int64
	Username  string
	FirstName string
}

// Register records a contact, creating a reader on first sight and
// refreshing the stored handle otherwise.
func (a *App) Register(ctx context.Context, profile Profile) (domain.User, error) {
	user, created, err := a.store.RegisterUser(domain.User{
		ID:        profile.ID,
		Username:  strings.TrimPrefix(strings.TrimSpace(profile.Username), "@"),
		FirstName: strings.TrimSpace(profile.FirstName),
		Role:      domain.RoleReader,
	})
	if err != nil {
		return domain.User{}, a.internal(ctx, "register user", err, "user_id", profile.ID)
	}
	if created {
		a.logger.InfoContext(ctx, "user registered", "user_id", user.ID)
	}
	return user, nil
}

// InitOwner claims the owner role while it is unclaimed.
func (a *App) InitOwner(ctx context.Context, userID int64) (domain.User, error) {
	user, err := a.store.ClaimOwner(userID)
	if errors.Is(err, store.ErrOwnerExists) {
		return domain.User{}, ErrOwnerExists
	}
	if err != nil {
		return domain.User{}, a.internal(ctx, "claim owner", err, "user_id", userID)
	}
	a.logger.InfoContext(ctx, "owner claimed", "user_id", userID)
	a.observeRole(ctx, user)
	return user, nil
}

// ListUsers returns every known user.
func (a *App) ListUsers(ctx context.Context, ownerID int64) ([]domain.User, error) {
	if _, err := a.require(ctx, ownerID, domain.CapOwner); err != nil {
		return nil, err
	}
	users, err := a.store.ListUsers()
	if err != nil {
		return nil, a.internal(ctx, "list users", err)
	}
	return users, nil
}

// SetRole assigns role to target, a numeric id or @handle. Unknown numeric
// ids are created with the role.
func (a *App) SetRole(ctx context.Context, ownerID int64, target, rawRole string) (domain.User, error) {
	if _, err := a.require(ctx, ownerID, domain.CapOwner); err != nil {
		return domain.User{}, err
	}
	role, err := domain.ParseRole(rawRole)
	if err != nil {
		return domain.User{}, &ValidationError{Field: "role", Message: "unknown role. Valid roles: " + roleNames(a.assignableRoles())}
	}
	if role == domain.RoleOwner && !a.allowOwnerRole {
		return domain.User{}, &ValidationError{Field: "role", Message: "the owner role cannot be assigned. Valid roles: " + roleNames(a.assignableRoles())}
	}
	targetID, err := a.resolveTarget(ctx, target)
	if err != nil {
		return domain.User{}, err
	}

	user, err := a.store.SetUserRole(targetID, role)
	if err != nil {
		return domain.User{}, a.internal(ctx, "set role", err, "user_id", targetID)
	}
	a.logger.InfoContext(ctx, "role changed", "user_id", targetID, "role", string(role), "owner_id", ownerID)
	if role == domain.RoleBanned {
		a.clearState(ctx, targetID)
	}

	msg := fmt.Sprintf("🔄 Your role was changed to: %s", role.Title())
	if role == domain.RoleBanned {
		msg = "⛔️ You have been banned."
	}
	a.dispatch(ctx, notify.NewIntent(targetID, notify.KindRoleChanged, msg))
	a.observeRole(ctx, user)
	return user, nil
}

func (a *App) resolveTarget(ctx context.Context, target string) (int64, error) {
	target = strings.TrimSpace(target)
	if handle, ok := strings.CutPrefix(target, "@"); ok {
		if handle == "" {
			return 0, &ValidationError{Field: "target", Message: "empty username"}
		}
		user, found, err := a.store.GetUserByUsername(handle)
		if err != nil {
			return 0, a.internal(ctx, "get user by username", err)
		}
		if !found {
			return 0, ErrNotFound
		}
		return user.ID, nil
	}
	id, err := strconv.ParseInt(target, 10, 64)
	if err != nil || id <= 0 {
		return 0, &ValidationError{Field: "target", Message: "the user must be a numeric id or @username"}
	}
	return id, nil
}

func (a *App) assignableRoles() []domain.Role {
	roles := make([]domain.Role, 0, len(domain.Roles))
	for _, r := range domain.Roles {
		if r == domain.RoleOwner && !a.allowOwnerRole {
			continue
		}
		roles = append(roles, r)
	}
	return roles
}

func roleNames(roles []domain.Role) string {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, string(r))
	}
	return strings.Join(names, ", ")
}

func (a *App) observeRole(ctx context.Context, user domain.User) {
	if a.roleObserver != nil {
		a.roleObserver(ctx, user)
	}
}
