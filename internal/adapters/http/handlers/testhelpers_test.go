package handlers_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/jsamuelsen11/go-actionbus/internal/ports"
)

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var result T
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	return result
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rec.Code, want, rec.Body.String())
	}
}

// mockRequester is a testify mock of ports.ActionRequester.
type mockRequester struct {
	mock.Mock
}

var _ ports.ActionRequester = (*mockRequester)(nil)

func newMockRequester(t *testing.T) *mockRequester {
	t.Helper()
	m := &mockRequester{}
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *mockRequester) Request(ctx context.Context, address string, msg *ports.Message) (*ports.Message, error) {
	args := m.Called(ctx, address, msg)
	reply, _ := args.Get(0).(*ports.Message)
	return reply, args.Error(1)
}

// mockHealthRegistry is a testify mock of ports.HealthRegistry.
type mockHealthRegistry struct {
	mock.Mock
}

var _ ports.HealthRegistry = (*mockHealthRegistry)(nil)

func newMockHealthRegistry(t *testing.T) *mockHealthRegistry {
	t.Helper()
	m := &mockHealthRegistry{}
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *mockHealthRegistry) Register(checker ports.HealthChecker) {
	m.Called(checker)
}

func (m *mockHealthRegistry) CheckAll(ctx context.Context) map[string]error {
	args := m.Called(ctx)
	results, _ := args.Get(0).(map[string]error)
	return results
}
