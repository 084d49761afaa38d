package mocks

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"

	"github.com/openbms/devicebus/internal/models"
	"github.com/openbms/devicebus/internal/transport"
)

// MockAdapter is a mock implementation of the transport.Adapter interface
type MockAdapter struct {
	mock.Mock
}

func (m *MockAdapter) Start(identity models.SessionIdentity) error {
	args := m.Called(identity)
	return args.Error(0)
}

func (m *MockAdapter) Stop() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockAdapter) ConnectionStatus() <-chan models.ConnectionStatus {
	args := m.Called()
	return args.Get(0).(<-chan models.ConnectionStatus)
}

func (m *MockAdapter) Heartbeats() <-chan transport.HeartbeatEvent {
	args := m.Called()
	return args.Get(0).(<-chan transport.HeartbeatEvent)
}

func (m *MockAdapter) Request(ctx context.Context, command string, payload json.RawMessage) (json.RawMessage, error) {
	args := m.Called(ctx, command, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(json.RawMessage), args.Error(1)
}
