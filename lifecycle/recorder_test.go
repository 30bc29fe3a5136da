package lifecycle

import (
	"context"
	"testing"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEvent(t *testing.T, eventType string, data any) cloudevents.Event {
	t.Helper()
	e := cloudevents.NewEvent()
	e.SetID(eventType)
	e.SetSource(SourceModule + "arena")
	e.SetType(eventType)
	require.NoError(t, e.SetData(cloudevents.ApplicationJSON, data))
	return e
}

func TestRecorder(t *testing.T) {
	r := NewRecorder("rec", 0)
	assert.Equal(t, "rec", r.ObserverID())
	ctx := context.Background()

	require.NoError(t, r.OnEvent(ctx, newEvent(t, EventTypeModuleLoading, ModuleStatus{Module: "arena"})))
	require.NoError(t, r.OnEvent(ctx, newEvent(t, EventTypeModulePhaseChanged, PhaseChanged{Module: "arena", From: "Start", To: "Configure"})))
	require.NoError(t, r.OnEvent(ctx, newEvent(t, EventTypeModulePhaseChanged, PhaseChanged{Module: "arena", From: "Configure", To: "InjectDependencies"})))

	assert.Len(t, r.Events(), 3)
	assert.Equal(t, 2, r.Count(EventTypeModulePhaseChanged))
	assert.Zero(t, r.Count(EventTypeModuleFailed))

	changes := r.OfType(EventTypeModulePhaseChanged)
	last, err := Decode[PhaseChanged](changes[1])
	require.NoError(t, err)
	assert.Equal(t, PhaseChanged{Module: "arena", From: "Configure", To: "InjectDependencies"}, last)

	events := r.Events()
	events[0] = cloudevents.NewEvent()
	assert.Equal(t, EventTypeModuleLoading, r.Events()[0].Type(), "Events returns a copy")

	r.Reset()
	assert.Empty(t, r.Events())
}

func TestRecorderLimit(t *testing.T) {
	r := NewRecorder("rec", 2)
	for _, typ := range []string{EventTypeModuleLoading, EventTypeModuleLoaded, EventTypeModuleUnloaded} {
		require.NoError(t, r.OnEvent(context.Background(), newEvent(t, typ, ModuleStatus{Module: "arena"})))
	}
	events := r.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventTypeModuleLoaded, events[0].Type())
	assert.Equal(t, EventTypeModuleUnloaded, events[1].Type())
}

func TestDecodeInvalidData(t *testing.T) {
	e := cloudevents.NewEvent()
	e.SetType(EventTypeModuleFailed)
	require.NoError(t, e.SetData(cloudevents.TextPlain, "not json"))
	_, err := Decode[ModuleFailed](e)
	assert.Error(t, err)
}
