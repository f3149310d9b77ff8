package execution

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseResult_Structured(t *testing.T) {
	r := ParseResult(json.RawMessage(`{"status_code":201,"message":"ok","data":[{"type":"cache","name":"k","value":{"a":1}}]}`))
	require.Equal(t, ResultStructured, r.Kind)
	require.Equal(t, 201, r.Structured.StatusCode)
	require.Len(t, r.Structured.Data, 1)
	require.Equal(t, "cache", r.Structured.Data[0].Type)

	status, ok := r.Status()
	require.True(t, ok)
	require.Equal(t, StatusCompleted, status)

	r = ParseResult(json.RawMessage(`{"status_code":500,"message":"boom"}`))
	status, ok = r.Status()
	require.True(t, ok)
	require.Equal(t, StatusFailed, status)
}

func TestParseResult_Simple(t *testing.T) {
	cases := map[string]string{
		"string":        `"disk ok"`,
		"object":        `{"uptime":3}`,
		"array":         `[1,2]`,
		"bad_code_type": `{"status_code":"abc"}`,
	}
	for name, raw := range cases {
		r := ParseResult(json.RawMessage(raw))
		require.Equal(t, ResultSimple, r.Kind, name)
		_, ok := r.Status()
		require.False(t, ok, name)
	}

	require.Equal(t, ResultSimple, ParseResult(nil).Kind)
}

func TestResult_JSONRoundTripKeepsKind(t *testing.T) {
	in := ParseResult(json.RawMessage(`{"status_code":404,"message":"missing"}`))
	b, err := json.Marshal(in)
	require.NoError(t, err)
	require.JSONEq(t, `{"kind":"structured","status_code":404,"message":"missing"}`, string(b))

	var out Result
	require.NoError(t, json.Unmarshal(b, &out))
	require.Equal(t, ResultStructured, out.Kind)
	require.Equal(t, 404, out.Structured.StatusCode)

	b, err = json.Marshal(ParseResult(json.RawMessage(`"hello"`)))
	require.NoError(t, err)
	require.JSONEq(t, `{"kind":"simple","output":"hello"}`, string(b))
}

func TestResult_DiagnosticTravelsInEnvelope(t *testing.T) {
	in := ParseResult(json.RawMessage(`"partial"`))
	in.Diagnostic = `unrecognized status "weird"`

	b, err := json.Marshal(in)
	require.NoError(t, err)
	require.JSONEq(t, `{"kind":"simple","output":"partial","diagnostic":"unrecognized status \"weird\""}`, string(b))

	var out Result
	require.NoError(t, json.Unmarshal(b, &out))
	require.Equal(t, in.Diagnostic, out.Diagnostic)
}

func TestNormalizeStatus(t *testing.T) {
	for raw, want := range map[string]Status{
		"success":  StatusCompleted,
		"DONE":     StatusCompleted,
		" error ":  StatusFailed,
		"running":  StatusRunning,
		"queued":   StatusPending,
		"canceled": StatusFailed,
	} {
		got, ok := NormalizeStatus(raw)
		require.True(t, ok, raw)
		require.Equal(t, want, got, raw)
	}

	got, ok := NormalizeStatus("exploded")
	require.False(t, ok)
	require.Equal(t, StatusFailed, got)
}
