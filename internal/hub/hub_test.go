package hub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/openbms/devicebus/internal/models"
	"github.com/openbms/devicebus/internal/state"
)

var testIdentity = models.SessionIdentity{
	OrganizationID: "org-1",
	SiteID:         "site-1",
	IoTDeviceID:    "device-1",
}

// stubController records session lifecycle calls from editor clients.
type stubController struct {
	mu       sync.Mutex
	started  []models.SessionIdentity
	stops    int
	startErr error
	stopErr  error
}

func (s *stubController) Start(identity models.SessionIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, identity)
	return s.startErr
}

func (s *stubController) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	return s.stopErr
}

// stubSender answers command dispatches with a fixed result.
type stubSender struct {
	mu      sync.Mutex
	calls   []string
	payload json.RawMessage
	err     error
}

func (s *stubSender) Send(_ context.Context, command string, _ json.RawMessage) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, command)
	return s.payload, s.err
}

// nextFrame pops the next frame queued for the client.
func nextFrame(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no frame queued for client")
		return nil
	}
}

// TestHub_Register_SeedsSnapshot tests that a freshly registered client
// immediately receives the current session state.
func TestHub_Register_SeedsSnapshot(t *testing.T) {
	// Setup
	store := state.NewStore(zerolog.Nop())
	h := NewHub(store, zerolog.Nop())
	client := NewClient(nil, h, nil, nil, "alice")

	// Execute
	h.Register(client)

	// Assert
	var envelope stateEnvelope
	assert.NoError(t, json.Unmarshal(nextFrame(t, client), &envelope))
	assert.Equal(t, messageTypeState, envelope.Type)
	assert.Equal(t, models.InitialSessionState(), envelope.State)
}

// TestHub_Broadcast_ReachesEveryClient tests fan-out across all
// registered clients.
func TestHub_Broadcast_ReachesEveryClient(t *testing.T) {
	// Setup
	store := state.NewStore(zerolog.Nop())
	h := NewHub(store, zerolog.Nop())
	first := NewClient(nil, h, nil, nil, "alice")
	second := NewClient(nil, h, nil, nil, "bob")
	h.Register(first)
	h.Register(second)
	nextFrame(t, first)
	nextFrame(t, second)

	// Execute
	h.Broadcast([]byte(`{"type":"state"}`))

	// Assert
	assert.Equal(t, []byte(`{"type":"state"}`), nextFrame(t, first))
	assert.Equal(t, []byte(`{"type":"state"}`), nextFrame(t, second))
}

// TestHub_Broadcast_SkipsSlowClient tests that a client with a full
// queue is skipped instead of stalling the broadcast.
func TestHub_Broadcast_SkipsSlowClient(t *testing.T) {
	// Setup
	store := state.NewStore(zerolog.Nop())
	h := NewHub(store, zerolog.Nop())
	slow := NewClient(nil, h, nil, nil, "slow")
	fast := NewClient(nil, h, nil, nil, "fast")
	h.Register(slow)
	h.Register(fast)
	nextFrame(t, fast)
	for len(slow.send) < cap(slow.send) {
		slow.send <- []byte("filler")
	}

	// Execute
	done := make(chan struct{})
	go func() {
		h.Broadcast([]byte("update"))
		close(done)
	}()

	// Assert
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}
	assert.Equal(t, []byte("update"), nextFrame(t, fast))
}

// TestHub_Run_PushesStateUpdates tests that store changes reach
// connected clients as state frames.
func TestHub_Run_PushesStateUpdates(t *testing.T) {
	// Setup
	store := state.NewStore(zerolog.Nop())
	h := NewHub(store, zerolog.Nop())
	client := NewClient(nil, h, nil, nil, "alice")
	h.Register(client)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	// Execute
	store.SetConnectionStatus(models.ConnectionConnected)

	// Assert
	deadline := time.After(time.Second)
	for {
		select {
		case msg := <-client.send:
			var envelope stateEnvelope
			if err := json.Unmarshal(msg, &envelope); err == nil &&
				envelope.State.ConnectionStatus == models.ConnectionConnected {
				return
			}
		case <-deadline:
			t.Fatal("state update never reached the client")
		}
	}
}

// TestHub_Unregister_ClosesQueue tests that unregistering closes the
// client's queue and later deliveries are dropped.
func TestHub_Unregister_ClosesQueue(t *testing.T) {
	// Setup
	store := state.NewStore(zerolog.Nop())
	h := NewHub(store, zerolog.Nop())
	client := NewClient(nil, h, nil, nil, "alice")
	h.Register(client)
	nextFrame(t, client)

	// Execute
	h.Unregister(client)

	// Assert
	_, open := <-client.send
	assert.False(t, open)
	assert.NotPanics(t, func() {
		client.enqueue([]byte("late"))
		h.Unregister(client)
	})
}

// TestClient_HandleControl_Start tests that a start frame drives the
// session controller and acks the request.
func TestClient_HandleControl_Start(t *testing.T) {
	// Setup
	store := state.NewStore(zerolog.Nop())
	h := NewHub(store, zerolog.Nop())
	controller := &stubController{}
	client := NewClient(nil, h, controller, nil, "alice")
	h.Register(client)
	nextFrame(t, client)

	// Execute
	client.handleControl(controlMessage{Action: "start", ID: "req-1", Identity: testIdentity})

	// Assert
	var ack ackMessage
	assert.NoError(t, json.Unmarshal(nextFrame(t, client), &ack))
	assert.Equal(t, messageTypeAck, ack.Type)
	assert.Equal(t, "req-1", ack.ID)
	assert.Equal(t, "start", ack.Action)
	assert.Empty(t, ack.Error)
	assert.Equal(t, []models.SessionIdentity{testIdentity}, controller.started)
}

// TestClient_HandleControl_StartFailure tests that controller errors
// come back in the ack.
func TestClient_HandleControl_StartFailure(t *testing.T) {
	// Setup
	store := state.NewStore(zerolog.Nop())
	h := NewHub(store, zerolog.Nop())
	controller := &stubController{startErr: errors.New("invalid session identity: site id is required")}
	client := NewClient(nil, h, controller, nil, "alice")
	h.Register(client)
	nextFrame(t, client)

	// Execute
	client.handleControl(controlMessage{Action: "start", ID: "req-2"})

	// Assert
	var ack ackMessage
	assert.NoError(t, json.Unmarshal(nextFrame(t, client), &ack))
	assert.Equal(t, "invalid session identity: site id is required", ack.Error)
}

// TestClient_HandleControl_Stop tests the stop lifecycle frame.
func TestClient_HandleControl_Stop(t *testing.T) {
	// Setup
	store := state.NewStore(zerolog.Nop())
	h := NewHub(store, zerolog.Nop())
	controller := &stubController{}
	client := NewClient(nil, h, controller, nil, "alice")
	h.Register(client)
	nextFrame(t, client)

	// Execute
	client.handleControl(controlMessage{Action: "stop", ID: "req-3"})

	// Assert
	var ack ackMessage
	assert.NoError(t, json.Unmarshal(nextFrame(t, client), &ack))
	assert.Equal(t, "stop", ack.Action)
	assert.Empty(t, ack.Error)
	assert.Equal(t, 1, controller.stops)
}

// TestClient_HandleControl_Command tests that a command frame produces
// a correlated result with the device payload.
func TestClient_HandleControl_Command(t *testing.T) {
	// Setup
	store := state.NewStore(zerolog.Nop())
	h := NewHub(store, zerolog.Nop())
	sender := &stubSender{payload: json.RawMessage(`{"message":"reboot scheduled"}`)}
	client := NewClient(nil, h, nil, sender, "alice")
	h.Register(client)
	nextFrame(t, client)

	// Execute
	client.handleControl(controlMessage{Action: "command", ID: "cmd-1", Command: "reboot"})

	// Assert
	var result commandResult
	assert.NoError(t, json.Unmarshal(nextFrame(t, client), &result))
	assert.Equal(t, messageTypeCommandResult, result.Type)
	assert.Equal(t, "cmd-1", result.ID)
	assert.Equal(t, "reboot", result.Command)
	assert.Equal(t, "success", result.Status)
	assert.JSONEq(t, `{"message":"reboot scheduled"}`, string(result.Payload))
}

// TestClient_HandleControl_CommandFailure tests that dispatch errors
// surface in the result frame.
func TestClient_HandleControl_CommandFailure(t *testing.T) {
	// Setup
	store := state.NewStore(zerolog.Nop())
	h := NewHub(store, zerolog.Nop())
	sender := &stubSender{err: errors.New("no active session")}
	client := NewClient(nil, h, nil, sender, "alice")
	h.Register(client)
	nextFrame(t, client)

	// Execute
	client.handleControl(controlMessage{Action: "command", ID: "cmd-2", Command: "reboot"})

	// Assert
	var result commandResult
	assert.NoError(t, json.Unmarshal(nextFrame(t, client), &result))
	assert.Equal(t, "failed", result.Status)
	assert.Equal(t, "no active session", result.Error)
}

// TestClient_HandleControl_UnknownAction tests that unknown actions are
// dropped without a reply.
func TestClient_HandleControl_UnknownAction(t *testing.T) {
	// Setup
	store := state.NewStore(zerolog.Nop())
	h := NewHub(store, zerolog.Nop())
	client := NewClient(nil, h, nil, nil, "alice")
	h.Register(client)
	nextFrame(t, client)

	// Execute
	client.handleControl(controlMessage{Action: "selfdestruct"})

	// Assert
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, client.send)
}
