package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/sentryfrogg/engine/internal/dispatcher"
	"github.com/sentryfrogg/engine/internal/platform/apperr"
	"github.com/sentryfrogg/engine/internal/platform/logging"
)

// rpcRequest is one newline-delimited JSON-RPC-shaped call: name a tool,
// supply its arguments object (spec §6 "Transport").
type rpcRequest struct {
	ID   interface{}            `json:"id"`
	Tool string                 `json:"tool"`
	Args map[string]interface{} `json:"args"`
}

type rpcResponse struct {
	ID     interface{}      `json:"id"`
	Result map[string]interface{} `json:"result,omitempty"`
	Error  *apperr.ToolError       `json:"error,omitempty"`
}

// serveStdio reads one rpcRequest per line from r, dispatches it, and
// writes one rpcResponse per line to w. It runs until r is exhausted or ctx
// is canceled. Malformed lines get an InvalidParams error response rather
// than killing the loop, so one bad request cannot take down the host.
func serveStdio(ctx context.Context, r io.Reader, w io.Writer, d *dispatcher.Dispatcher, log *logging.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req rpcRequest
		if err := json.Unmarshal(line, &req); err != nil {
			writeResponse(enc, rpcResponse{Error: apperr.Wrap(apperr.InvalidParams, "bad_request", "failed to parse request line", err)}, log)
			continue
		}

		result, err := d.Dispatch(ctx, req.Tool, req.Args)
		resp := rpcResponse{ID: req.ID, Result: result}
		if err != nil {
			resp.Result = nil
			resp.Error = apperr.Normalize(err)
		}
		writeResponse(enc, resp, log)
	}
	return scanner.Err()
}

func writeResponse(enc *json.Encoder, resp rpcResponse, log *logging.Logger) {
	if err := enc.Encode(resp); err != nil {
		log.WithFields(map[string]interface{}{"error": err.Error()}).Error("failed to write response")
	}
}
