package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultTimeout bounds how long a request waits for the editor's response
const DefaultTimeout = 10 * time.Second

var (
	// ErrTimeout is returned when the editor does not answer in time
	ErrTimeout = errors.New("host request timed out")
	// ErrUnexpectedType is returned by Dispatch for messages of another protocol
	ErrUnexpectedType = errors.New("unexpected message type")
	// ErrUnknownResponse is returned by Dispatch for responses with no pending request
	ErrUnknownResponse = errors.New("response does not match a pending request")
	// ErrRejected is returned when the editor answers a request with an error
	ErrRejected = errors.New("host rejected request")
)

// Transport delivers messages to the editor
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// TransportFunc adapts a function to Transport
type TransportFunc func(ctx context.Context, msg Message) error

// Send calls f
func (f TransportFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

type pendingRequest struct {
	action Action
	done   chan Message
}

// Client correlates requests to the editor with their responses and fans
// events out to listeners. Responses arrive through Dispatch.
type Client struct {
	transport Transport
	extID     string
	timeout   time.Duration
	log       *zap.Logger

	mu        sync.Mutex
	pending   map[string]pendingRequest
	listeners map[Event][]func(Message)
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithTimeout sets the per-request timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the client logger
func WithLogger(log *zap.Logger) ClientOption {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithExtensionID sets the extension ID sent with every request
func WithExtensionID(id string) ClientOption {
	return func(c *Client) {
		c.extID = id
	}
}

// NewClient creates a client that sends requests over transport
func NewClient(transport Transport, opts ...ClientOption) *Client {
	c := &Client{
		transport: transport,
		timeout:   DefaultTimeout,
		log:       zap.NewNop(),
		pending:   make(map[string]pendingRequest),
		listeners: make(map[Event][]func(Message)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// On registers fn for an editor event
func (c *Client) On(event Event, fn func(Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners[event] = append(c.listeners[event], fn)
}

// Pending returns the number of requests awaiting a response
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Dispatch routes a message received from the editor
func (c *Client) Dispatch(msg Message) error {
	if msg.Type != MessageType {
		return fmt.Errorf("%w: %q", ErrUnexpectedType, msg.Type)
	}

	if msg.ID == "" {
		c.mu.Lock()
		fns := append(([]func(Message))(nil), c.listeners[msg.Event]...)
		c.mu.Unlock()

		if len(fns) == 0 {
			c.log.Debug("unhandled host event", zap.String("event", string(msg.Event)))
		}
		for _, fn := range fns {
			fn(msg)
		}
		return nil
	}

	c.mu.Lock()
	req, ok := c.pending[msg.ID]
	delete(c.pending, msg.ID)
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownResponse, msg.ID)
	}

	c.log.Debug("host response", zap.String("action", string(req.action)), zap.String("id", msg.ID))
	req.done <- msg
	return nil
}

// request sends an action and waits for its response
func (c *Client) request(ctx context.Context, action Action, body any) (Message, error) {
	id := uuid.NewString()
	req := pendingRequest{action: action, done: make(chan Message, 1)}

	c.mu.Lock()
	c.pending[id] = req
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	msg := Message{
		Type:     MessageType,
		ID:       id,
		Action:   action,
		ExtID:    c.extID,
		Response: true,
		Body:     body,
	}
	if err := c.transport.Send(ctx, msg); err != nil {
		return Message{}, fmt.Errorf("failed to send %s: %w", action, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-req.done:
		if len(resp.Error) > 0 {
			return resp, fmt.Errorf("%w: %s: %s", ErrRejected, action, resp.Error)
		}
		return resp, nil
	case <-timer.C:
		c.log.Warn("host request timed out", zap.String("action", string(action)), zap.Duration("timeout", c.timeout))
		return Message{}, fmt.Errorf("%w: %s", ErrTimeout, action)
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Init announces the extension and returns the editor's init payload
func (c *Client) Init(ctx context.Context) (json.RawMessage, error) {
	resp, err := c.request(ctx, ActionInit, nil)
	return resp.Resp, err
}

// Read returns the code and JSON the extension stored in the project
func (c *Client) Read(ctx context.Context) (CodeBody, error) {
	resp, err := c.request(ctx, ActionReadCode, nil)
	if err != nil {
		return CodeBody{}, err
	}

	var body CodeBody
	if len(resp.Resp) > 0 {
		if err := json.Unmarshal(resp.Resp, &body); err != nil {
			return CodeBody{}, fmt.Errorf("failed to decode %s response: %w", ActionReadCode, err)
		}
	}
	return body, nil
}

// ReadUser returns the user's project files
func (c *Client) ReadUser(ctx context.Context) (json.RawMessage, error) {
	resp, err := c.request(ctx, ActionUserCode, nil)
	return resp.Resp, err
}

// Write stores generated code and its JSON source in the project
func (c *Client) Write(ctx context.Context, code, jsonSource string) error {
	_, err := c.request(ctx, ActionWriteCode, CodeBody{Code: code, JSON: jsonSource})
	return err
}

// QueryPermission asks which permissions the extension holds
func (c *Client) QueryPermission(ctx context.Context) (json.RawMessage, error) {
	resp, err := c.request(ctx, ActionQueryPermission, nil)
	return resp.Resp, err
}

// RequestPermission asks the user to grant device permissions
func (c *Client) RequestPermission(ctx context.Context, serial bool) (json.RawMessage, error) {
	resp, err := c.request(ctx, ActionRequestPermission, PermissionBody{Serial: serial})
	return resp.Resp, err
}

// DataStream turns the serial data stream on or off
func (c *Client) DataStream(ctx context.Context, serial bool) error {
	_, err := c.request(ctx, ActionDataStream, PermissionBody{Serial: serial})
	return err
}
