package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// Client is a minimal synchronous client over the newline-JSON protocol,
// used by tests and external front-ends (a CLI/web UI is out of scope
// for this module, but the wire protocol they'd speak is this one).
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects to the daemon's control socket.
func Dial(path string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return nil, fmt.Errorf("ipc: dial: %w", err)
	}
	return &Client{conn: conn, reader: bufio.NewReaderSize(conn, 64*1024)}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Call sends {cmd, ...params} and returns the decoded response.
func (c *Client) Call(cmd string, params map[string]any) (Response, error) {
	req := map[string]any{"cmd": cmd}
	for k, v := range params {
		req[k] = v
	}
	data, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}
	data = append(data, '\n')
	if _, err := c.conn.Write(data); err != nil {
		return Response{}, fmt.Errorf("ipc: write: %w", err)
	}

	line, err := readLine(c.reader, MaxMessageBytes)
	if err != nil {
		return Response{}, fmt.Errorf("ipc: read: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("ipc: decode response: %w", err)
	}
	return resp, nil
}
