// Package mcp – transport.go provides the StdioTransport that connects a
// Server to an IDE peer via line-delimited JSON-RPC 2.0 over stdin / stdout.
//
// Protocol rules (must be followed exactly):
//   - Each JSON-RPC message arrives as a single newline-terminated line on
//     stdin.
//   - Each JSON-RPC response is written as a single newline-terminated line to
//     stdout and flushed before the next line is read.
//   - ALL diagnostic output (logging, errors) MUST go to stderr only. Any
//     stray bytes on stdout corrupt the protocol framing.
package mcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// StdioTransport reads line-delimited JSON-RPC 2.0 messages from an
// io.Reader and writes replies to an io.Writer.
type StdioTransport struct {
	server *Server
	in     io.Reader
	out    io.Writer
	logger *zap.Logger
}

// NewStdioTransport constructs a StdioTransport that reads from in and writes
// to out. The logger must not write to out.
//
// Usage with real stdio:
//
//	t := mcp.NewStdioTransport(srv, os.Stdin, os.Stdout, logger)
//	t.Serve(ctx)
func NewStdioTransport(srv *Server, in io.Reader, out io.Writer, logger *zap.Logger) *StdioTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StdioTransport{server: srv, in: in, out: out, logger: logger}
}

// Serve processes lines until the input is exhausted or ctx is cancelled.
//
// Lines are handled strictly one at a time: a line is read, handled and its
// reply flushed before the next one is read. End of input, including a read
// error on the input, ends the loop without error; a final line without a
// trailing newline is still processed. A failed write is returned because
// the peer can no longer be answered.
func (t *StdioTransport) Serve(ctx context.Context) error {
	reader := bufio.NewReader(t.in)
	writer := bufio.NewWriter(t.out)

	for {
		select {
		case <-ctx.Done():
			t.logger.Debug("context cancelled, shutting down")
			return ctx.Err()
		default:
		}

		line, readErr := reader.ReadBytes('\n')
		if len(line) > 0 {
			if resp := t.server.HandleLine(ctx, line); resp != nil {
				if err := writeLine(writer, resp); err != nil {
					t.logger.Error("write error", zap.Error(err))
					return fmt.Errorf("write response: %w", err)
				}
			}
		}

		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				t.logger.Warn("stdin read error, shutting down", zap.Error(readErr))
			} else {
				t.logger.Debug("stdin closed, shutting down")
			}
			return nil
		}
	}
}

// writeLine writes resp and a trailing newline, then flushes so the peer sees
// the reply immediately.
func writeLine(w *bufio.Writer, resp []byte) error {
	if _, err := w.Write(resp); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}
