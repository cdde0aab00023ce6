package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/labtracksimple/labtrack/internal/domain"
	"github.com/labtracksimple/labtrack/internal/domain/household"
	"github.com/labtracksimple/labtrack/internal/domain/user"
	"github.com/labtracksimple/labtrack/internal/port/database"
)

const (
	msgUnauthorized   = "Unauthorized"
	msgReportNotFound = "Lab report not found"
	msgPersonNotFound = "Person not found"
	msgRunNotFound    = "Extraction run not found"
	msgNotMember      = "Not a member of this household"
)

// requireUser returns an unauthenticated error unless caller is a signed-in user.
func requireUser(caller *user.Identity) error {
	if caller.Anonymous() || caller.UserID == "" {
		return domain.Errorf(domain.ErrUnauthenticated, msgUnauthorized)
	}
	return nil
}

// memberRole resolves caller's role in a household. Callers outside the
// household get a forbidden error; service identities act as owners.
func memberRole(ctx context.Context, store database.Store, householdID string, caller *user.Identity) (household.Role, error) {
	if caller != nil && caller.Service {
		return household.RoleOwner, nil
	}
	role, err := store.GetMemberRole(ctx, householdID, caller.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return "", domain.Errorf(domain.ErrForbidden, msgNotMember)
	}
	if err != nil {
		return "", fmt.Errorf("member role: %w", err)
	}
	return role, nil
}

// requireOwner is memberRole restricted to owners; msg is returned to members.
func requireOwner(ctx context.Context, store database.Store, householdID string, caller *user.Identity, msg string) error {
	role, err := memberRole(ctx, store, householdID, caller)
	if err != nil {
		return err
	}
	if !role.IsOwner() {
		return domain.Errorf(domain.ErrForbidden, msg)
	}
	return nil
}

// notFound rewrites a store not-found error into a caller-facing message and
// passes every other error through.
func notFound(err error, msg string) error {
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Errorf(domain.ErrNotFound, msg)
	}
	return err
}
