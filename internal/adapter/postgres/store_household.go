package postgres

import (
	"context"

	"github.com/labtracksimple/labtrack/internal/domain/household"
)

func (s *Store) GetPerson(ctx context.Context, id string) (*household.Person, error) {
	var p household.Person
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT p.id, p.household_id, p.user_id, p.name, p.date_of_birth, p.gender, p.created_at
		 FROM people p
		 JOIN households h ON h.id = p.household_id AND `+alive("h")+`
		 WHERE p.id = $1 AND `+alive("p"), id).
		Scan(&p.ID, &p.HouseholdID, &p.UserID, &p.Name, &p.DateOfBirth, &p.Gender, &p.CreatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get person %s", id)
	}
	return &p, nil
}

// GetMemberRole returns the caller's role in the household. A user without a
// live membership gets domain.ErrNotFound.
func (s *Store) GetMemberRole(ctx context.Context, householdID, userID string) (household.Role, error) {
	var role household.Role
	err := s.conn(ctx).QueryRow(ctx,
		`SELECT m.role
		 FROM household_members m
		 JOIN households h ON h.id = m.household_id AND `+alive("h")+`
		 WHERE m.household_id = $1 AND m.user_id = $2 AND `+alive("m"), householdID, userID).
		Scan(&role)
	if err != nil {
		return "", notFoundWrap(err, "get member role %s/%s", householdID, userID)
	}
	return role, nil
}
