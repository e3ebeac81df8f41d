package zalo

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubClient_InitialState(t *testing.T) {
	client := NewStubClient(nil)
	assert.Equal(t, StateLoggedOut, client.GetStatus().State)
}

func TestStubClient_SendRequiresLogin(t *testing.T) {
	client := NewStubClient(nil)

	_, err := client.SendMessage(context.Background(), MessagePayload{Msg: "hi"}, "t1", ThreadUser)
	assert.Error(t, err)
}

func TestStubClient_SendEchoesMessageID(t *testing.T) {
	client := NewStubClient(nil)
	client.SetStatus(Status{State: StateLoggedIn, UserID: "u1"})

	result, err := client.SendMessage(context.Background(), MessagePayload{Msg: "hi"}, "t1", ThreadUser)
	require.NoError(t, err)
	assert.NotEmpty(t, result.MessageID)

	var raw struct {
		Message struct {
			MsgID string `json:"msgId"`
		} `json:"message"`
	}
	require.NoError(t, json.Unmarshal(result.Raw, &raw))
	assert.Equal(t, result.MessageID, raw.Message.MsgID)
}

func TestStubClient_LoginInitiate(t *testing.T) {
	client := NewStubClient(nil)

	status, err := client.LoginInitiate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateLoggingIn, status.State)
	assert.NotEmpty(t, status.QRCode)
}

func TestStubClient_ImportSession(t *testing.T) {
	client := NewStubClient(nil)

	err := client.ImportSession(context.Background(), "imei-1", "ua", []json.RawMessage{json.RawMessage(`{}`)})
	require.NoError(t, err)

	status := client.GetStatus()
	assert.Equal(t, StateLoggedIn, status.State)
	assert.Equal(t, "stub-imei-1", status.UserID)
	assert.True(t, status.Listening)
}

func TestStubClient_ImportSession_Failure(t *testing.T) {
	client := NewStubClient(nil)
	client.ImportErr = errors.New("bad cookies")

	err := client.ImportSession(context.Background(), "imei-1", "ua", nil)
	assert.Error(t, err)
	assert.Equal(t, StateLoggedOut, client.GetStatus().State)
}

func TestStubClient_Logout(t *testing.T) {
	client := NewStubClient(nil)
	client.SetStatus(Status{State: StateLoggedIn, UserID: "u1"})

	require.NoError(t, client.Logout(context.Background()))
	assert.Equal(t, StateLoggedOut, client.GetStatus().State)
}

func TestThreadType_String(t *testing.T) {
	assert.Equal(t, "user", ThreadUser.String())
	assert.Equal(t, "group", ThreadGroup.String())
}

func TestAPIError_Error(t *testing.T) {
	err := &APIError{Code: CodeInvalidRecipient, Message: "blocked"}
	assert.Contains(t, err.Error(), "114")
}
