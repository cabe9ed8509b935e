package server

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
)

// maxStdioLine bounds one line-delimited JSON-RPC message on stdio.
const maxStdioLine = 4 << 20

// RunStdio serves line-delimited JSON-RPC on stdin/stdout until EOF.
// Logging goes to stderr so stdout stays clean protocol.
func (s *Server) RunStdio(ctx context.Context) error {
	return s.serveStdio(ctx, os.Stdin, os.Stdout)
}

func (s *Server) serveStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("stdio transport ready")
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStdioLine)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		resp := s.HandleMessage(ctx, "stdio", line)
		if resp == nil {
			continue
		}
		resp = append(resp, '\n')
		if _, err := out.Write(resp); err != nil {
			return err
		}
	}
	return scanner.Err()
}
