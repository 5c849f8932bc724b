package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// Client talks to the daemon over its Unix socket.
type Client struct {
	socketPath string
	timeout    time.Duration
	requestID  atomic.Uint64
}

// NewClient creates a new daemon client.
func NewClient(cfg Config) *Client {
	return &Client{
		socketPath: cfg.SocketPath,
		timeout:    cfg.Timeout,
	}
}

// Connect establishes a connection to the daemon.
func (c *Client) Connect() (net.Conn, error) {
	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}
	return conn, nil
}

// IsRunning checks if the daemon is accepting connections.
func (c *Client) IsRunning() bool {
	conn, err := c.Connect()
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	conn, err := c.Connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set deadline: %w", err)
	}

	req := Request{JSONRPC: "2.0", Method: method, Params: params, ID: c.nextID()}
	if err := c.send(conn, req); err != nil {
		return err
	}

	resp, err := c.receive(conn)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("%s failed: %s (code: %d)", method, resp.Error.Message, resp.Error.Code)
	}
	if result == nil {
		return nil
	}

	data, err := json.Marshal(resp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	return json.Unmarshal(data, result)
}

// Ping checks if the daemon is responsive.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, MethodPing, nil, &PingResult{})
}

// Create asks the daemon to create a new object.
func (c *Client) Create(ctx context.Context, params CreateParams) (string, error) {
	var result CreateResult
	if err := c.call(ctx, MethodCreate, params, &result); err != nil {
		return "", err
	}
	return result.ID, nil
}

// Update asks the daemon to update an existing object.
func (c *Client) Update(ctx context.Context, params UpdateParams) error {
	return c.call(ctx, MethodUpdate, params, nil)
}

// Find runs a query against the daemon's index and returns a property
// bag per hit, trimmed to params.RequestedProps.
func (c *Client) Find(ctx context.Context, params FindParams) (FindResult, error) {
	var result FindResult
	err := c.call(ctx, MethodFind, params, &result)
	return result, err
}

// FindIDs runs a query against the daemon's index and returns matching
// ids only.
func (c *Client) FindIDs(ctx context.Context, params FindParams) (FindIDsResult, error) {
	var result FindIDsResult
	err := c.call(ctx, MethodFindIDs, params, &result)
	return result, err
}

// GetProperties retrieves an object's property bag.
func (c *Client) GetProperties(ctx context.Context, id string) (map[string]string, error) {
	var result GetPropertiesResult
	err := c.call(ctx, MethodGetProperties, GetPropertiesParams{ID: id}, &result)
	return result.Properties, err
}

// GetFilename retrieves a caller-accessible path to an object's payload.
func (c *Client) GetFilename(ctx context.Context, id string) (string, error) {
	var result GetFilenameResult
	err := c.call(ctx, MethodGetFilename, GetPropertiesParams{ID: id}, &result)
	return result.Path, err
}

// Delete removes an object.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.call(ctx, MethodDelete, DeleteParams{ID: id}, nil)
}

// UniqueValues enumerates distinct values stored for a structured field.
func (c *Client) UniqueValues(ctx context.Context, field string) ([]string, error) {
	var result UniqueValuesResult
	err := c.call(ctx, MethodUniqueValues, UniqueValuesParams{Field: field}, &result)
	return result.Values, err
}

// Status retrieves daemon status.
func (c *Client) Status(ctx context.Context) (*StatusResult, error) {
	var result StatusResult
	if err := c.call(ctx, MethodStatus, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// send encodes and writes a request to the connection.
func (c *Client) send(conn net.Conn, req Request) error {
	encoder := json.NewEncoder(conn)
	if err := encoder.Encode(req); err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	return nil
}

// receive reads and decodes a response from the connection.
func (c *Client) receive(conn net.Conn) (*Response, error) {
	decoder := json.NewDecoder(conn)
	var resp Response
	if err := decoder.Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to receive response: %w", err)
	}
	return &resp, nil
}

// nextID generates a unique request ID.
func (c *Client) nextID() string {
	id := c.requestID.Add(1)
	return fmt.Sprintf("req-%d", id)
}
