package execution

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type ResultKind string

const (
	ResultSimple     ResultKind = "simple"
	ResultStructured ResultKind = "structured"
)

// Operation is one post-processing instruction inside a structured result
// (cache, file or db). The coordinator stores it and does not act on it.
type Operation struct {
	Type  string          `json:"type"`
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value,omitempty"`
}

type StructuredResult struct {
	StatusCode int         `json:"status_code"`
	Message    string      `json:"message,omitempty"`
	Data       []Operation `json:"data,omitempty"`
}

// Result is the plugin output: either an opaque text/JSON value or a
// structured response carrying a status code.
type Result struct {
	Kind       ResultKind
	Simple     json.RawMessage
	Structured *StructuredResult
	// Diagnostic is set by the coordinator when the report itself was
	// malformed, for example an unknown status.
	Diagnostic string
}

// ParseResult decodes a reported result once, at ingestion. Objects with a
// numeric status_code are structured; everything else is simple.
func ParseResult(raw json.RawMessage) Result {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Result{Kind: ResultSimple}
	}

	if !json.Valid(trimmed) {
		quoted, _ := json.Marshal(string(trimmed))
		return Result{Kind: ResultSimple, Simple: quoted}
	}

	if trimmed[0] == '{' {
		var probe struct {
			StatusCode *json.Number `json:"status_code"`
		}
		if err := json.Unmarshal(trimmed, &probe); err == nil && probe.StatusCode != nil {
			var sr StructuredResult
			if err := json.Unmarshal(trimmed, &sr); err == nil {
				return Result{Kind: ResultStructured, Structured: &sr}
			}
		}
	}

	return Result{Kind: ResultSimple, Simple: json.RawMessage(trimmed)}
}

// Status is the outcome implied by a structured result: 2xx completes,
// anything else fails. Simple results imply nothing.
func (r Result) Status() (Status, bool) {
	if r.Kind != ResultStructured || r.Structured == nil {
		return "", false
	}
	if r.Structured.StatusCode >= 200 && r.Structured.StatusCode < 300 {
		return StatusCompleted, true
	}
	return StatusFailed, true
}

type resultEnvelope struct {
	Kind       ResultKind      `json:"kind"`
	Output     json.RawMessage `json:"output,omitempty"`
	StatusCode *int            `json:"status_code,omitempty"`
	Message    string          `json:"message,omitempty"`
	Data       []Operation     `json:"data,omitempty"`
	Diagnostic string          `json:"diagnostic,omitempty"`
}

func (r Result) MarshalJSON() ([]byte, error) {
	env := resultEnvelope{Kind: r.Kind, Diagnostic: r.Diagnostic}
	switch r.Kind {
	case ResultStructured:
		if r.Structured == nil {
			return nil, fmt.Errorf("structured result without body")
		}
		code := r.Structured.StatusCode
		env.StatusCode = &code
		env.Message = r.Structured.Message
		env.Data = r.Structured.Data
	default:
		env.Kind = ResultSimple
		env.Output = r.Simple
	}
	return json.Marshal(env)
}

func (r *Result) UnmarshalJSON(b []byte) error {
	var env resultEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	switch env.Kind {
	case ResultStructured:
		sr := &StructuredResult{Message: env.Message, Data: env.Data}
		if env.StatusCode != nil {
			sr.StatusCode = *env.StatusCode
		}
		*r = Result{Kind: ResultStructured, Structured: sr, Diagnostic: env.Diagnostic}
	case ResultSimple, "":
		*r = Result{Kind: ResultSimple, Simple: env.Output, Diagnostic: env.Diagnostic}
	default:
		return fmt.Errorf("unknown result kind %q", env.Kind)
	}
	return nil
}
