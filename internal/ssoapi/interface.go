// Package ssoapi wraps the Identity Center administrative API behind a
// capability interface so the rollback engine can be tested without AWS.
package ssoapi

import (
	"context"

	"github.com/jklevins/permrevert/internal/models"
)

// Assignment is one (principal, permission set, account) binding as
// reported by the API.
type Assignment struct {
	PrincipalID   string
	PrincipalType models.PrincipalType
}

// AdminClient defines the contract for Identity Center admin operations.
// This interface enables mocking for testing the rollback packages.
type AdminClient interface {
	// ListAssignments returns the principals bound to a permission set on
	// an account.
	ListAssignments(ctx context.Context, accountID, permissionSetARN string) ([]Assignment, error)

	// CreateAssignment binds a principal to a permission set on an account.
	CreateAssignment(ctx context.Context, accountID, permissionSetARN, principalID string, principalType models.PrincipalType) error

	// DeleteAssignment removes a principal's binding.
	DeleteAssignment(ctx context.Context, accountID, permissionSetARN, principalID string, principalType models.PrincipalType) error

	// ListPermissionSets lists permission set ARNs; used as a lightweight
	// access probe.
	ListPermissionSets(ctx context.Context) ([]string, error)
}

// Verify that implementations satisfy AdminClient at compile time
var (
	_ AdminClient = (*Client)(nil)
	_ AdminClient = (*MockClient)(nil)
)
