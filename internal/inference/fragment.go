// Package inference streams generations from an Ollama-style backend that
// answers with newline-delimited JSON.
package inference

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	ErrMalformed       = errors.New("malformed chunk")
	ErrInvalidEncoding = errors.New("invalid utf-8 in chunk")
	ErrEmptyLine       = errors.New("empty line")
	ErrTruncated       = errors.New("stream ended before final chunk")
	ErrBackend         = errors.New("backend reported error")
)

// nullContext is the continuation carried by a final chunk without a context field.
var nullContext = json.RawMessage("null")

// Fragment is one decoded unit of a streamed answer. Continuation is non-nil
// exactly when Final is true.
type Fragment struct {
	Text         string
	Final        bool
	Continuation json.RawMessage
}

// DecodeError reports a single unusable line. The stream itself is still healthy.
type DecodeError struct {
	Raw []byte
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode chunk: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

type chunk struct {
	Response string          `json:"response"`
	Done     *bool           `json:"done"`
	Context  json.RawMessage `json:"context,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Decode parses one line of the response body. An object without a done
// flag is malformed. An error object from the backend is a *ConnectionError
// carrying the backend's message.
func Decode(raw []byte) (Fragment, error) {
	line := bytes.TrimSpace(raw)
	if len(line) == 0 {
		return Fragment{}, ErrEmptyLine
	}
	if !utf8.Valid(line) {
		return Fragment{}, &DecodeError{Raw: raw, Err: ErrInvalidEncoding}
	}

	var c chunk
	if err := json.Unmarshal(line, &c); err != nil {
		return Fragment{}, &DecodeError{Raw: raw, Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}

	if c.Error != "" {
		return Fragment{}, &ConnectionError{Op: "read", Err: fmt.Errorf("%w: %s", ErrBackend, c.Error)}
	}
	if c.Done == nil {
		return Fragment{}, &DecodeError{Raw: raw, Err: fmt.Errorf("%w: missing done flag", ErrMalformed)}
	}

	if !*c.Done {
		return Fragment{Text: c.Response}, nil
	}

	cont := nullContext
	if len(c.Context) > 0 {
		cont = append(json.RawMessage(nil), c.Context...)
	}
	return Fragment{Final: true, Continuation: cont}, nil
}
