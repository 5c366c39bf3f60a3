package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize_Primitives(t *testing.T) {
	assert.Equal(t, "hello", Sanitize("hello"))
	assert.Equal(t, 42, Sanitize(42))
	assert.Equal(t, 3.14, Sanitize(3.14))
	assert.Equal(t, true, Sanitize(true))
	assert.Nil(t, Sanitize(nil))
}

func TestSanitize_BytesBecomeBase64(t *testing.T) {
	assert.Equal(t, "aGVsbG8=", Sanitize([]byte("hello")))
}

func TestSanitize_TimeBecomesRFC3339(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	assert.Equal(t, "2026-03-14T09:26:53Z", Sanitize(ts))
	assert.Equal(t, "2026-03-14T09:26:53Z", Sanitize(&ts))

	var nilTime *time.Time
	assert.Nil(t, Sanitize(nilTime))
}

func TestSanitize_ErrorBecomesString(t *testing.T) {
	assert.Equal(t, "probe timed out", Sanitize(errors.New("probe timed out")))
}

func TestSanitize_NestedStructures(t *testing.T) {
	in := map[string]any{
		"raw":  []byte{0x01, 0x02},
		"list": []any{time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "x"},
		"deep": map[string]any{"err": errors.New("boom")},
	}

	out, ok := Sanitize(in).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "AQI=", out["raw"])
	assert.Equal(t, []any{"2026-01-01T00:00:00Z", "x"}, out["list"])
	assert.Equal(t, map[string]any{"err": "boom"}, out["deep"])

	// Original input untouched.
	assert.IsType(t, []byte{}, in["raw"])
}

func TestSanitize_CircularReference(t *testing.T) {
	m := map[string]any{"name": "loop"}
	m["self"] = m

	out, ok := Sanitize(m).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "loop", out["name"])
	inner, ok := out["self"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "[circular]", inner["self"])

	_, err := json.Marshal(out)
	assert.NoError(t, err, "sanitized output must serialize")
}

func TestSanitize_UnserializableValues(t *testing.T) {
	out, ok := Sanitize(map[string]any{
		"ch": make(chan int),
		"fn": func() {},
	}).(map[string]any)
	require.True(t, ok)
	assert.Contains(t, out["ch"], "[unserializable:")
	assert.Contains(t, out["fn"], "[unserializable:")

	_, err := json.Marshal(out)
	assert.NoError(t, err)
}

func TestSanitize_StructHonorsJSONTags(t *testing.T) {
	type probe struct {
		Host   string `json:"host"`
		Secret string `json:"-"`
	}

	out, ok := Sanitize(probe{Host: "api.example.test", Secret: "nope"}).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "api.example.test", out["host"])
	assert.NotContains(t, out, "Secret")
}

func TestEnvelope_New(t *testing.T) {
	env := New(EventNodeAdded, "m1", "pipeline", map[string]any{"raw": []byte("x")})

	assert.Equal(t, SchemaVersion, env.SchemaVersion)
	assert.Equal(t, EventNodeAdded, env.EventType)
	assert.Equal(t, "m1", env.MissionID)
	assert.Equal(t, "pipeline", env.Producer)
	assert.NotEmpty(t, env.EventID)
	assert.True(t, env.KnownSchema())

	ts, err := time.Parse(time.RFC3339Nano, env.TS)
	require.NoError(t, err)
	assert.Equal(t, time.UTC, ts.Location())

	payload, ok := env.Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "eA==", payload["raw"], "payload is sanitized at construction")
}

func TestEnvelope_CorrelationTags(t *testing.T) {
	env := New(EventToolCalled, "m1", "registry", nil).
		WithPhase("ACTIVE_RECON").
		WithToolCall("tc-1").
		WithTask("task-9")

	assert.Equal(t, "ACTIVE_RECON", env.Phase)
	assert.Equal(t, "tc-1", env.ToolCallID)
	assert.Equal(t, "task-9", env.TaskID)
}

func TestEnvelope_UnknownSchemaDetected(t *testing.T) {
	env := Envelope{SchemaVersion: "v1"}
	assert.False(t, env.KnownSchema())
}

func TestMissionChannel(t *testing.T) {
	assert.Equal(t, "mission:01J0ABC", MissionChannel("01J0ABC"))
	assert.Equal(t, "01J0ABC", missionFromChannel("mission:01J0ABC"))
}
