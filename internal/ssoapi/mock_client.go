package ssoapi

import (
	"context"
	"sync"

	"github.com/jklevins/permrevert/internal/models"
)

// MockClient is a mock implementation of AdminClient for testing. It is
// safe for concurrent use; batch execution runs actions in parallel.
type MockClient struct {
	mu sync.Mutex
	// Assignments stores bindings by "accountID/permissionSetARN" key
	Assignments map[string][]Assignment
	// PermissionSets is returned by ListPermissionSets
	PermissionSets []string
	// Err can be set to make all methods return an error
	Err error
	// ListErr, CreateErr, DeleteErr override Err for individual methods
	ListErr   error
	CreateErr error
	DeleteErr error
	// CreateErrFor and DeleteErrFor fail mutations for specific account IDs
	CreateErrFor map[string]error
	DeleteErrFor map[string]error
	// Calls records every method invocation as "Method accountID psARN"
	Calls []string
}

// NewMockClient creates a new MockClient for testing.
func NewMockClient() *MockClient {
	return &MockClient{
		Assignments: make(map[string][]Assignment),
	}
}

func assignmentKey(accountID, permissionSetARN string) string {
	return accountID + "/" + permissionSetARN
}

// Assign seeds an assignment into the mock state.
func (m *MockClient) Assign(accountID, permissionSetARN, principalID string, principalType models.PrincipalType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignLocked(accountID, permissionSetARN, principalID, principalType)
}

func (m *MockClient) assignLocked(accountID, permissionSetARN, principalID string, principalType models.PrincipalType) {
	key := assignmentKey(accountID, permissionSetARN)
	for _, a := range m.Assignments[key] {
		if a.PrincipalID == principalID && a.PrincipalType == principalType {
			return
		}
	}
	m.Assignments[key] = append(m.Assignments[key], Assignment{
		PrincipalID:   principalID,
		PrincipalType: principalType,
	})
}

// HasAssignment reports whether the mock state contains a binding.
func (m *MockClient) HasAssignment(accountID, permissionSetARN, principalID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.Assignments[assignmentKey(accountID, permissionSetARN)] {
		if a.PrincipalID == principalID {
			return true
		}
	}
	return false
}

// ListAssignments returns the mock bindings for an account/permission set.
func (m *MockClient) ListAssignments(ctx context.Context, accountID, permissionSetARN string) ([]Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "ListAssignments "+accountID+" "+permissionSetARN)
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	if m.Err != nil {
		return nil, m.Err
	}
	key := assignmentKey(accountID, permissionSetARN)
	out := make([]Assignment, len(m.Assignments[key]))
	copy(out, m.Assignments[key])
	return out, nil
}

// CreateAssignment adds a binding to the mock state.
func (m *MockClient) CreateAssignment(ctx context.Context, accountID, permissionSetARN, principalID string, principalType models.PrincipalType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "CreateAssignment "+accountID+" "+permissionSetARN)
	if err := m.CreateErrFor[accountID]; err != nil {
		return err
	}
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if m.Err != nil {
		return m.Err
	}
	m.assignLocked(accountID, permissionSetARN, principalID, principalType)
	return nil
}

// DeleteAssignment removes a binding from the mock state.
func (m *MockClient) DeleteAssignment(ctx context.Context, accountID, permissionSetARN, principalID string, principalType models.PrincipalType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "DeleteAssignment "+accountID+" "+permissionSetARN)
	if err := m.DeleteErrFor[accountID]; err != nil {
		return err
	}
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	if m.Err != nil {
		return m.Err
	}
	key := assignmentKey(accountID, permissionSetARN)
	kept := m.Assignments[key][:0]
	for _, a := range m.Assignments[key] {
		if a.PrincipalID != principalID {
			kept = append(kept, a)
		}
	}
	m.Assignments[key] = kept
	return nil
}

// ListPermissionSets returns the mock permission set ARNs.
func (m *MockClient) ListPermissionSets(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "ListPermissionSets")
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return m.PermissionSets, nil
}

// CallCount returns how many recorded calls start with the given method name.
func (m *MockClient) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if len(c) >= len(method) && c[:len(method)] == method {
			n++
		}
	}
	return n
}
