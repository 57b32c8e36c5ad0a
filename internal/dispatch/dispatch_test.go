package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(msg string) Handler {
	return func(ctx context.Context, req Request) (Result, error) {
		return Result{Success: true, MessageToPlayer: msg}, nil
	}
}

type fakeAdapter struct {
	result Result
	err    error
	called bool
	last   Request
}

func (f *fakeAdapter) Resolve(ctx context.Context, req Request) (Result, error) {
	f.called = true
	f.last = req
	return f.result, f.err
}

func TestDispatchRoutesFastHandler(t *testing.T) {
	d := New(map[string]Handler{"go": echoHandler("moved")}, nil, nil)
	result, err := d.Dispatch(context.Background(), Request{Action: "go"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "moved", result.MessageToPlayer)
}

func TestDispatchRoutesAdminPrefixToAdminRouterOnly(t *testing.T) {
	adapter := &fakeAdapter{}
	d := New(nil, map[string]Handler{"@where": echoHandler("here")}, adapter)
	result, err := d.Dispatch(context.Background(), Request{Action: "@where"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, adapter.called, "admin actions must never reach the interpreter")
}

func TestDispatchUnknownAdminActionIsValidationError(t *testing.T) {
	adapter := &fakeAdapter{}
	d := New(nil, map[string]Handler{}, adapter)
	result, err := d.Dispatch(context.Background(), Request{Action: "@bogus"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "unknown_message_type", result.Error.Code)
	assert.False(t, adapter.called)
}

func TestDispatchFallsBackToInterpreter(t *testing.T) {
	adapter := &fakeAdapter{result: Result{Success: true, MessageToPlayer: "resolved"}}
	d := New(map[string]Handler{"go": echoHandler("moved")}, nil, adapter)

	result, err := d.Dispatch(context.Background(), Request{Action: "talk_to_npc", UserID: "u1", Experience: "e1"})
	require.NoError(t, err)
	assert.True(t, adapter.called)
	assert.Equal(t, "talk_to_npc", adapter.last.Action)
	assert.Equal(t, "resolved", result.MessageToPlayer)
}

func TestDispatchMissingInterpreterIsNotImplemented(t *testing.T) {
	d := New(nil, nil, nil)
	result, err := d.Dispatch(context.Background(), Request{Action: "talk_to_npc"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "not_implemented", result.Error.Code)
}

func TestDispatchMissingActionIsValidationError(t *testing.T) {
	d := New(nil, nil, nil)
	result, err := d.Dispatch(context.Background(), Request{Action: ""})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "missing_action", result.Error.Code)
}

func TestDispatchPropagatesInterpreterTransportError(t *testing.T) {
	adapter := &fakeAdapter{err: errors.New("boom")}
	d := New(nil, nil, adapter)
	_, err := d.Dispatch(context.Background(), Request{Action: "talk_to_npc"})
	assert.Error(t, err)
}
