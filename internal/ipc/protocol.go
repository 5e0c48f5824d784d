// Package ipc implements the daemon's control plane: newline-delimited
// JSON request/response framing over a local stream socket. Each
// request is one line `{cmd, ...}`; each response one line
// `{ok, result?, error?}`. Grounded on msmacro/io/ipc.py and
// msmacro/ipc.py's length/newline-framed JSON protocol, restructured
// around a client-map and broadcaster lifecycle.
package ipc

import (
	"encoding/json"
	"fmt"

	"github.com/hidrelay/macrod/internal/apperr"
)

// MaxMessageBytes bounds a single request or response line.
const MaxMessageBytes = 2 * 1024 * 1024

// Request is one decoded `{cmd, ...}` line. Params carries every field
// besides "cmd" verbatim, so handlers can pull out command-specific
// arguments without a generated struct per command.
type Request struct {
	Cmd    string
	Params map[string]any
}

// UnmarshalJSON decodes a request line, splitting out "cmd" and keeping
// every other field in Params.
func (r *Request) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	cmd, _ := raw["cmd"].(string)
	if cmd == "" {
		return fmt.Errorf("ipc: missing cmd")
	}
	delete(raw, "cmd")
	r.Cmd = cmd
	r.Params = raw
	return nil
}

// Response is one `{ok, result?, error?}` line.
type Response struct {
	OK     bool   `json:"ok"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

// OK builds a successful response.
func OK(result any) Response {
	return Response{OK: true, Result: result}
}

// ErrResponse builds a failure response, classifying err via apperr so
// the caller can tell protocol/state errors from transient ones without
// string-matching on a machine-readable error kind.
func ErrResponse(err error) Response {
	return Response{OK: false, Error: err.Error(), Kind: apperr.KindOf(err).String()}
}
