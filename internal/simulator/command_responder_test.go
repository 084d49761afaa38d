package simulator_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/openbms/devicebus/internal/constants"
	"github.com/openbms/devicebus/internal/mocks"
	"github.com/openbms/devicebus/internal/models"
	"github.com/openbms/devicebus/internal/simulator"
	"github.com/openbms/devicebus/internal/transport"
)

var testIdentity = models.SessionIdentity{
	OrganizationID: "org-1",
	SiteID:         "site-1",
	IoTDeviceID:    "device-1",
}

// commandBody encodes one command request the way the bridge publishes
// it.
func commandBody(t *testing.T, command, correlationID string, payload json.RawMessage) []byte {
	t.Helper()
	body, err := json.Marshal(models.CommandRequest{
		Command:        command,
		Payload:        payload,
		CorrelationID:  correlationID,
		OrganizationID: testIdentity.OrganizationID,
		SiteID:         testIdentity.SiteID,
		IoTDeviceID:    testIdentity.IoTDeviceID,
		Timestamp:      time.Now().UnixMilli(),
	})
	assert.NoError(t, err)
	return body
}

// expectResponse arms the mock client to capture the published command
// response.
func expectResponse(t *testing.T, client *mocks.MockMQTTClient, response *models.CommandResponse) {
	t.Helper()
	client.On("Publish", transport.CommandResponseTopic(testIdentity), byte(1), false, mock.Anything).
		Return(mocks.NewSucceededToken()).
		Run(func(args mock.Arguments) {
			assert.NoError(t, json.Unmarshal(args.Get(3).([]byte), response))
		})
}

// TestCommandResponder_HandleCommand_Reboot tests that a reboot request
// resets the uptime clock and answers success.
func TestCommandResponder_HandleCommand_Reboot(t *testing.T) {
	// Setup
	client := new(mocks.MockMQTTClient)
	state := simulator.NewDeviceState("4.2.1", 12, 480)
	responder := simulator.NewCommandResponder(testIdentity, 1, client, state, zerolog.Nop())

	var response models.CommandResponse
	expectResponse(t, client, &response)

	// Execute
	responder.HandleCommand(nil, mocks.NewMockMessage(
		transport.CommandRequestTopic(testIdentity),
		commandBody(t, constants.CommandReboot, "corr-1", nil),
	))

	// Assert
	assert.Equal(t, "corr-1", response.CorrelationID)
	assert.Equal(t, constants.CommandStatusSuccess, response.Status)
	assert.JSONEq(t, `{"message":"reboot scheduled"}`, string(response.Payload))
	client.AssertExpectations(t)
}

// TestCommandResponder_HandleCommand_RestartMonitoring tests the
// monitoring restart command.
func TestCommandResponder_HandleCommand_RestartMonitoring(t *testing.T) {
	// Setup
	client := new(mocks.MockMQTTClient)
	state := simulator.NewDeviceState("4.2.1", 12, 480)
	responder := simulator.NewCommandResponder(testIdentity, 1, client, state, zerolog.Nop())

	var response models.CommandResponse
	expectResponse(t, client, &response)

	// Execute
	responder.HandleCommand(nil, mocks.NewMockMessage(
		transport.CommandRequestTopic(testIdentity),
		commandBody(t, constants.CommandRestartMonitoring, "corr-2", nil),
	))

	// Assert
	assert.Equal(t, constants.CommandStatusSuccess, response.Status)
	assert.JSONEq(t, `{"monitoring_status":"running"}`, string(response.Payload))
}

// TestCommandResponder_HandleCommand_RefreshPoints tests that the point
// refresh reports the monitored point count.
func TestCommandResponder_HandleCommand_RefreshPoints(t *testing.T) {
	// Setup
	client := new(mocks.MockMQTTClient)
	state := simulator.NewDeviceState("4.2.1", 12, 480)
	responder := simulator.NewCommandResponder(testIdentity, 1, client, state, zerolog.Nop())

	var response models.CommandResponse
	expectResponse(t, client, &response)

	// Execute
	responder.HandleCommand(nil, mocks.NewMockMessage(
		transport.CommandRequestTopic(testIdentity),
		commandBody(t, constants.CommandRefreshPoints, "corr-3", nil),
	))

	// Assert
	assert.Equal(t, constants.CommandStatusSuccess, response.Status)
	assert.JSONEq(t, `{"monitored_points":480}`, string(response.Payload))
}

// TestCommandResponder_HandleCommand_SetLogLevel tests that a valid log
// level is applied globally.
func TestCommandResponder_HandleCommand_SetLogLevel(t *testing.T) {
	// Setup
	previous := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(previous)

	client := new(mocks.MockMQTTClient)
	state := simulator.NewDeviceState("4.2.1", 12, 480)
	responder := simulator.NewCommandResponder(testIdentity, 1, client, state, zerolog.Nop())

	var response models.CommandResponse
	expectResponse(t, client, &response)

	// Execute
	responder.HandleCommand(nil, mocks.NewMockMessage(
		transport.CommandRequestTopic(testIdentity),
		commandBody(t, constants.CommandSetLogLevel, "corr-4", json.RawMessage(`{"level":"warn"}`)),
	))

	// Assert
	assert.Equal(t, constants.CommandStatusSuccess, response.Status)
	assert.JSONEq(t, `{"level":"warn"}`, string(response.Payload))
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}

// TestCommandResponder_HandleCommand_SetLogLevel_Unknown tests that an
// unknown level is rejected.
func TestCommandResponder_HandleCommand_SetLogLevel_Unknown(t *testing.T) {
	// Setup
	previous := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(previous)

	client := new(mocks.MockMQTTClient)
	state := simulator.NewDeviceState("4.2.1", 12, 480)
	responder := simulator.NewCommandResponder(testIdentity, 1, client, state, zerolog.Nop())

	var response models.CommandResponse
	expectResponse(t, client, &response)

	// Execute
	responder.HandleCommand(nil, mocks.NewMockMessage(
		transport.CommandRequestTopic(testIdentity),
		commandBody(t, constants.CommandSetLogLevel, "corr-5", json.RawMessage(`{"level":"loud"}`)),
	))

	// Assert
	assert.Equal(t, constants.CommandStatusFailed, response.Status)
	assert.Equal(t, `unknown log level "loud"`, response.Error)
	assert.Equal(t, previous, zerolog.GlobalLevel())
}

// TestCommandResponder_HandleCommand_UpdateFirmware tests that a valid
// firmware version is applied to the device state.
func TestCommandResponder_HandleCommand_UpdateFirmware(t *testing.T) {
	// Setup
	client := new(mocks.MockMQTTClient)
	state := simulator.NewDeviceState("4.2.1", 12, 480)
	responder := simulator.NewCommandResponder(testIdentity, 1, client, state, zerolog.Nop())

	var response models.CommandResponse
	expectResponse(t, client, &response)

	// Execute
	responder.HandleCommand(nil, mocks.NewMockMessage(
		transport.CommandRequestTopic(testIdentity),
		commandBody(t, constants.CommandUpdateFirmware, "corr-6", json.RawMessage(`{"version":"9.9.9"}`)),
	))

	// Assert
	assert.Equal(t, constants.CommandStatusSuccess, response.Status)
	assert.JSONEq(t, `{"firmware_version":"9.9.9"}`, string(response.Payload))
	assert.Equal(t, "9.9.9", state.FirmwareVersion())
}

// TestCommandResponder_HandleCommand_UpdateFirmware_InvalidVersion
// tests that a malformed version is rejected and state untouched.
func TestCommandResponder_HandleCommand_UpdateFirmware_InvalidVersion(t *testing.T) {
	// Setup
	client := new(mocks.MockMQTTClient)
	state := simulator.NewDeviceState("4.2.1", 12, 480)
	responder := simulator.NewCommandResponder(testIdentity, 1, client, state, zerolog.Nop())

	var response models.CommandResponse
	expectResponse(t, client, &response)

	// Execute
	responder.HandleCommand(nil, mocks.NewMockMessage(
		transport.CommandRequestTopic(testIdentity),
		commandBody(t, constants.CommandUpdateFirmware, "corr-7", json.RawMessage(`{"version":"not-semver"}`)),
	))

	// Assert
	assert.Equal(t, constants.CommandStatusFailed, response.Status)
	assert.Contains(t, response.Error, "invalid firmware version")
	assert.Equal(t, "4.2.1", state.FirmwareVersion())
}

// TestCommandResponder_HandleCommand_Unsupported tests the response to
// a command outside the device's set.
func TestCommandResponder_HandleCommand_Unsupported(t *testing.T) {
	// Setup
	client := new(mocks.MockMQTTClient)
	state := simulator.NewDeviceState("4.2.1", 12, 480)
	responder := simulator.NewCommandResponder(testIdentity, 1, client, state, zerolog.Nop())

	var response models.CommandResponse
	expectResponse(t, client, &response)

	// Execute
	responder.HandleCommand(nil, mocks.NewMockMessage(
		transport.CommandRequestTopic(testIdentity),
		commandBody(t, "format_disk", "corr-8", nil),
	))

	// Assert
	assert.Equal(t, constants.CommandStatusFailed, response.Status)
	assert.Equal(t, `unsupported command "format_disk"`, response.Error)
}

// TestCommandResponder_HandleCommand_Undecodable tests that garbage on
// the request topic is dropped without a response.
func TestCommandResponder_HandleCommand_Undecodable(t *testing.T) {
	// Setup
	client := new(mocks.MockMQTTClient)
	state := simulator.NewDeviceState("4.2.1", 12, 480)
	responder := simulator.NewCommandResponder(testIdentity, 1, client, state, zerolog.Nop())

	// Execute
	responder.HandleCommand(nil, mocks.NewMockMessage(
		transport.CommandRequestTopic(testIdentity),
		[]byte("{not json"),
	))

	// Assert
	client.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// TestCommandResponder_StartStop tests subscription lifecycle and that
// commands arriving after Stop are ignored.
func TestCommandResponder_StartStop(t *testing.T) {
	// Setup
	client := new(mocks.MockMQTTClient)
	state := simulator.NewDeviceState("4.2.1", 12, 480)
	responder := simulator.NewCommandResponder(testIdentity, 1, client, state, zerolog.Nop())

	requestTopic := transport.CommandRequestTopic(testIdentity)
	client.On("Subscribe", requestTopic, byte(1), mock.Anything).Return(mocks.NewSucceededToken())
	client.On("Unsubscribe", []string{requestTopic}).Return(mocks.NewSucceededToken())

	// Execute
	assert.NoError(t, responder.Start())
	assert.NoError(t, responder.Stop())

	responder.HandleCommand(nil, mocks.NewMockMessage(
		requestTopic,
		commandBody(t, constants.CommandReboot, "corr-9", nil),
	))

	// Assert
	client.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	client.AssertExpectations(t)
}

// TestCommandResponder_Start_SubscribeFailure tests that a failed
// subscription surfaces from Start.
func TestCommandResponder_Start_SubscribeFailure(t *testing.T) {
	// Setup
	client := new(mocks.MockMQTTClient)
	state := simulator.NewDeviceState("4.2.1", 12, 480)
	responder := simulator.NewCommandResponder(testIdentity, 1, client, state, zerolog.Nop())

	client.On("Subscribe", transport.CommandRequestTopic(testIdentity), byte(1), mock.Anything).
		Return(mocks.NewFailedToken(assert.AnError))

	// Execute
	err := responder.Start()

	// Assert
	assert.Error(t, err)
	assert.Equal(t, assert.AnError, err)
}
