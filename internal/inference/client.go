package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const promptPlaceholder = "{prompt}"

// ConnectionError is fatal to the turn that observed it.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("inference %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

type Client struct {
	endpoint    string
	model       string
	template    string
	temperature float64
	client      *http.Client
	logger      *slog.Logger
}

type Option func(*Client)

func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// WithPromptTemplate sets the instruction template; "{prompt}" is replaced by the user text.
func WithPromptTemplate(tmpl string) Option {
	return func(c *Client) { c.template = tmpl }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

func NewClient(endpoint, model string, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		endpoint:    endpoint,
		model:       model,
		template:    "[INST]" + promptPlaceholder + "[/INST]",
		temperature: 1,
		client:      &http.Client{Timeout: 5 * time.Minute},
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type request struct {
	Model       string          `json:"model"`
	Prompt      string          `json:"prompt"`
	Context     json.RawMessage `json:"context"`
	Temperature float64         `json:"temperature"`
	Stream      bool            `json:"stream"`
}

// FormatPrompt wraps the user's text in the backend's instruction format.
func (c *Client) FormatPrompt(prompt string) string {
	return strings.ReplaceAll(c.template, promptPlaceholder, prompt)
}

// Stream opens one generate request and returns the fragments as they arrive.
// prior may be nil for the first turn of a conversation.
func (c *Client) Stream(ctx context.Context, prompt string, prior json.RawMessage) (*Stream, error) {
	body, err := json.Marshal(request{
		Model:       c.model,
		Prompt:      c.FormatPrompt(prompt),
		Context:     prior,
		Temperature: c.temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ConnectionError{Op: "connect", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &ConnectionError{
			Op:  "connect",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
		}
	}

	c.logger.Debug("inference stream opened", "model", c.model, "has_context", prior != nil)
	return newStream(resp.Body, c.logger), nil
}

// Stream is a single-pass sequence of fragments over one response body.
type Stream struct {
	body     io.ReadCloser
	lines    *Segmenter
	logger   *slog.Logger
	finished bool
}

// NewStream reads fragments from an arbitrary body.
func NewStream(body io.ReadCloser) *Stream {
	return newStream(body, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func newStream(body io.ReadCloser, logger *slog.Logger) *Stream {
	return &Stream{body: body, lines: NewSegmenter(body), logger: logger}
}

// Next returns the next fragment. After the final fragment it returns io.EOF.
// A *DecodeError means the line was unusable and the caller may keep reading;
// any other error ends the stream.
func (s *Stream) Next() (Fragment, error) {
	if s.finished {
		return Fragment{}, io.EOF
	}
	for {
		line, err := s.lines.Next()
		if err != nil {
			s.finished = true
			if errors.Is(err, io.EOF) {
				return Fragment{}, &ConnectionError{Op: "read", Err: ErrTruncated}
			}
			return Fragment{}, &ConnectionError{Op: "read", Err: err}
		}
		s.logger.Debug("chunk received", "chunk", string(line))

		frag, err := Decode(line)
		if errors.Is(err, ErrEmptyLine) {
			continue
		}
		if err != nil {
			var connErr *ConnectionError
			if errors.As(err, &connErr) {
				s.finished = true
			}
			return Fragment{}, err
		}
		if frag.Final {
			s.finished = true
		}
		return frag, nil
	}
}

func (s *Stream) Close() error {
	s.finished = true
	return s.body.Close()
}
