// Package planstream drives incremental plan generation against the
// streaming text service. It consumes the service's server-sent event frames
// and re-emits them as typed events: text deltas with the accumulated
// buffer, tool-call progress labels, a terminal error, or a finish carrying
// the completed document. Persisting the finished document is the caller's
// job; the controller never writes to storage.
package planstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/mikoto/overseer/internal/domain"
)

// Request describes one generation: v1 when Feedback is nil, otherwise a
// revision of the thread's current version.
type Request struct {
	ThreadID         int64   `json:"thread_id"`
	RepositoryLinkID int64   `json:"repository_link_id"`
	TaskTitle        string  `json:"task_title"`
	TaskDescription  string  `json:"task_description"`
	Model            string  `json:"model"`
	CurrentVersion   int     `json:"current_version"`
	Feedback         *string `json:"feedback,omitempty"`
}

// EventType identifies a stream event.
type EventType string

const (
	EventTextDelta    EventType = "text-delta"
	EventToolStarted  EventType = "tool-started"
	EventToolResolved EventType = "tool-resolved"
	EventError        EventType = "error"
	EventFinish       EventType = "finish"
)

// Event is one typed frame emitted to the consumer.
type Event struct {
	Type EventType `json:"type"`

	// Delta is the new text for text-delta events; Content is the full
	// buffer so far, also populated on error and finish so partial output
	// stays readable.
	Delta   string             `json:"delta,omitempty"`
	Content string             `json:"content,omitempty"`
	Kind    domain.ContentKind `json:"kind,omitempty"`

	// ToolLabel is the human-readable progress line for tool events.
	ToolLabel string `json:"tool_label,omitempty"`

	Err error `json:"-"`
}

// Client talks to the plan-generation service.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a plan-generation client.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		// No overall timeout: generations are long-lived streams,
		// cancellation comes from the request context.
		http: &http.Client{},
	}
}

// Controller runs at most one generation at a time. Starting a new one
// cancels any generation still in flight.
type Controller struct {
	client *Client

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewController creates a controller bound to a client.
func NewController(client *Client) *Controller {
	return &Controller{client: client}
}

// Generate starts a generation and returns its event channel. The channel is
// closed by the reader after a terminal event (error or finish). The
// returned context cancel is also invoked by a subsequent Generate or by
// Cancel.
func (c *Controller) Generate(ctx context.Context, req Request) (<-chan Event, error) {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	genCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	resp, err := c.client.open(genCtx, req)
	if err != nil {
		cancel()
		return nil, err
	}

	events := make(chan Event, 16)
	go readStream(resp, events)
	return events, nil
}

// Cancel aborts the in-flight generation, if any. Component teardown calls
// this; nothing partial is persisted because nothing was handed to a store.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

func (c *Client) open(ctx context.Context, req Request) (*http.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: plan service returned %d", domain.ErrUpstream, resp.StatusCode)
	}
	return resp, nil
}

// frame is the wire shape of one SSE data payload.
type frame struct {
	Type      string          `json:"type"`
	Delta     string          `json:"delta,omitempty"`
	ToolName  string          `json:"toolName,omitempty"`
	ToolInput json.RawMessage `json:"input,omitempty"`
	ErrorText string          `json:"errorText,omitempty"`
}

// readStream owns the event channel: it is the only writer and closes it on
// return. The content buffer accumulates across deltas; its classification
// starts unknown and settles exactly once (the questions heading can only
// appear at the very start, so plan never flips to questions or back).
func readStream(resp *http.Response, events chan<- Event) {
	defer close(events)
	defer resp.Body.Close()

	var content strings.Builder
	kind := domain.ContentUnknown

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		if data == "[DONE]" {
			events <- Event{Type: EventFinish, Content: content.String(), Kind: finalKind(kind, content.String())}
			return
		}

		var f frame
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			events <- Event{Type: EventError, Content: content.String(), Kind: kind,
				Err: fmt.Errorf("%w: decode frame: %v", domain.ErrUpstream, err)}
			return
		}

		switch f.Type {
		case "text-delta":
			content.WriteString(f.Delta)
			if kind == domain.ContentUnknown {
				kind = domain.ClassifyContent(content.String())
			}
			events <- Event{Type: EventTextDelta, Delta: f.Delta, Content: content.String(), Kind: kind}

		case "tool-input-start":
			events <- Event{Type: EventToolStarted, ToolLabel: genericToolLabel(f.ToolName)}

		case "tool-input-available":
			events <- Event{Type: EventToolResolved, ToolLabel: resolvedToolLabel(f.ToolName, f.ToolInput)}

		case "error":
			events <- Event{Type: EventError, Content: content.String(), Kind: kind,
				Err: fmt.Errorf("%w: %s", domain.ErrUpstream, f.ErrorText)}
			return

		case "finish":
			events <- Event{Type: EventFinish, Content: content.String(), Kind: finalKind(kind, content.String())}
			return
		}
	}

	if err := scanner.Err(); err != nil {
		events <- Event{Type: EventError, Content: content.String(), Kind: kind,
			Err: fmt.Errorf("%w: read stream: %v", domain.ErrUpstream, err)}
		return
	}

	// Stream ended without a finish frame.
	events <- Event{Type: EventError, Content: content.String(), Kind: kind,
		Err: fmt.Errorf("%w: stream ended unexpectedly", domain.ErrUpstream)}
}

// finalKind settles a still-undecided classification at end of stream: a
// complete document without the questions heading is a plan.
func finalKind(kind domain.ContentKind, content string) domain.ContentKind {
	if kind != domain.ContentUnknown {
		return kind
	}
	if strings.TrimSpace(content) == "" {
		return domain.ContentUnknown
	}
	return domain.ContentPlan
}

// genericToolLabel maps a tool name to a progress line before its argument
// is known.
func genericToolLabel(toolName string) string {
	switch toolName {
	case "read_file":
		return "Reading file..."
	case "list_directory":
		return "Listing directory..."
	case "search":
		return "Searching..."
	default:
		return "Running " + toolName + "..."
	}
}

// resolvedToolLabel refines the generic label once the tool input resolved.
func resolvedToolLabel(toolName string, input json.RawMessage) string {
	var args struct {
		Path  string `json:"path"`
		Query string `json:"query"`
	}
	_ = json.Unmarshal(input, &args)

	switch toolName {
	case "read_file":
		if args.Path != "" {
			return "Reading " + args.Path
		}
	case "list_directory":
		if args.Path != "" {
			return "Listing " + args.Path
		}
	case "search":
		if args.Query != "" {
			return "Searching for " + strconv.Quote(args.Query)
		}
	}
	return genericToolLabel(toolName)
}
