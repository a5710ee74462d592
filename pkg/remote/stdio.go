package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ormasoftchile/stepwise/pkg/kernel/actions"
	"github.com/ormasoftchile/stepwise/pkg/kernel/schema"
)

// ProtocolVersion is sent in the initialize handshake.
const ProtocolVersion = "1"

// StdioClient communicates with an action provider process via JSON-RPC 2.0
// over stdio, one request per line.
type StdioClient struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	scanner *bufio.Scanner
	mu      sync.Mutex
	nextID  atomic.Int64
	started bool
	broken  bool

	readOnce  sync.Once
	responses chan []byte
	quit      chan struct{}
	readErr   error // set before responses is closed
}

// closeTimeout bounds the shutdown request sent by Close.
const closeTimeout = 5 * time.Second

// jsonRPCRequest is a JSON-RPC 2.0 request.
type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int64  `json:"id"`
}

// jsonRPCResponse is a JSON-RPC 2.0 response.
type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
	ID      int64           `json:"id"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewStdioClient creates a client for the given command. Start spawns it.
func NewStdioClient(command string, args ...string) *StdioClient {
	return &StdioClient{
		cmd: exec.Command(command, args...),
	}
}

// Start spawns the provider process and sends the initialize handshake.
func (c *StdioClient) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	stdin, err := c.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := c.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	c.stdin = stdin
	c.scanner = bufio.NewScanner(stdout)
	c.scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("start provider: %w", err)
	}
	c.started = true

	if _, err := c.callLocked(ctx, "initialize", map[string]any{"protocol_version": ProtocolVersion}); err != nil {
		c.cmd.Process.Kill()
		return fmt.Errorf("initialize: %w", err)
	}
	return nil
}

// List returns the provider's actions.
func (c *StdioClient) List(ctx context.Context) ([]Spec, error) {
	var out struct {
		Actions []Spec `json:"actions"`
	}
	if err := c.call(ctx, "actions/list", map[string]any{}, &out); err != nil {
		return nil, err
	}
	return out.Actions, nil
}

// Generate asks the provider for the step's code.
func (c *StdioClient) Generate(ctx context.Context, step schema.Step) (string, error) {
	var out generateResponse
	if err := c.call(ctx, "actions/generate", stepRequest{Step: step}, &out); err != nil {
		return "", err
	}
	return out.Code, nil
}

// Run asks the provider for the calls that apply the step.
func (c *StdioClient) Run(ctx context.Context, step schema.Step) ([]actions.Call, error) {
	var out struct {
		Calls []actions.Call `json:"calls"`
	}
	if err := c.call(ctx, "actions/run", stepRequest{Step: step}, &out); err != nil {
		return nil, err
	}
	return out.Calls, nil
}

// Close sends a shutdown request and waits for the process to exit.
func (c *StdioClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return nil
	}
	c.started = false
	if !c.broken {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		_, _ = c.callLocked(ctx, "shutdown", map[string]any{})
		cancel()
	}
	if c.quit != nil {
		close(c.quit)
	}
	c.stdin.Close()
	if c.cmd == nil || c.cmd.Process == nil {
		return nil
	}
	return c.cmd.Wait()
}

func (c *StdioClient) call(ctx context.Context, method string, params, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return fmt.Errorf("%s: provider not started", method)
	}
	raw, err := c.callLocked(ctx, method, params)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("unmarshal %s result: %w", method, err)
	}
	return nil
}

// readLoop forwards every line the provider writes until stdout closes.
func (c *StdioClient) readLoop() {
	for c.scanner.Scan() {
		line := append([]byte(nil), c.scanner.Bytes()...)
		select {
		case c.responses <- line:
		case <-c.quit:
			return
		}
	}
	c.readErr = c.scanner.Err()
	close(c.responses)
}

// abandon closes the connection after a request could not be written in
// full, since the stream can no longer be framed.
func (c *StdioClient) abandon() {
	c.broken = true
	c.stdin.Close()
	if c.cmd != nil && c.cmd.Process != nil {
		c.cmd.Process.Kill()
	}
}

// callLocked sends a JSON-RPC request and waits for its response or for ctx
// to end. Responses to requests abandoned on cancellation are skipped. Must
// be called with mu held.
func (c *StdioClient) callLocked(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.broken {
		return nil, fmt.Errorf("provider connection closed")
	}
	c.readOnce.Do(func() {
		c.responses = make(chan []byte)
		c.quit = make(chan struct{})
		go c.readLoop()
	})

	id := c.nextID.Add(1)
	req := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')

	written := make(chan error, 1)
	go func() {
		_, err := c.stdin.Write(data)
		written <- err
	}()
	select {
	case err := <-written:
		if err != nil {
			return nil, fmt.Errorf("write request: %w", err)
		}
	case <-ctx.Done():
		c.abandon()
		return nil, ctx.Err()
	}

	for {
		var line []byte
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case l, ok := <-c.responses:
			if !ok {
				if c.readErr != nil {
					return nil, fmt.Errorf("read response: %w", c.readErr)
				}
				return nil, fmt.Errorf("provider closed stdout")
			}
			line = l
		}

		var resp jsonRPCResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			return nil, fmt.Errorf("unmarshal response: %w", err)
		}
		if resp.ID < id {
			continue
		}
		if resp.ID != id {
			return nil, fmt.Errorf("response id %d does not match request %d", resp.ID, id)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("provider error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	}
}
