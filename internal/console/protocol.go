// Package console implements the optional command registrar of spec §6
// ("cgroup help|show groups|show config|reclassify [all|<pid>]"),
// grounded on original_source/plugins/cgroups/cgrp-console.c's stdin
// command console. Since nothing in this tree is embedded in the OHM
// plugin host's softirq-registered console, SPEC_FULL.md exposes the same
// commands over a Unix-domain control socket instead: one JSON Request in,
// one JSON Response out, per connection.
package console

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	hclog "github.com/hashicorp/go-hclog"
)

// Request is one command invocation, e.g. {"command":"reclassify","args":["all"]}.
type Request struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// Response carries either a successful result's output lines or an error.
type Response struct {
	OK    bool     `json:"ok"`
	Error string   `json:"error,omitempty"`
	Lines []string `json:"lines,omitempty"`
}

func Errorf(format string, args ...interface{}) Response {
	return Response{OK: false, Error: fmt.Sprintf(format, args...)}
}

func OK(lines ...string) Response {
	return Response{OK: true, Lines: lines}
}

// Handler answers one Request synchronously.
type Handler func(Request) Response

// Server accepts connections on a Unix-domain socket and answers each with
// a single request/response round trip.
type Server struct {
	ln      net.Listener
	handler Handler
	logger  hclog.Logger
}

// Serve removes any stale socket file at socketPath, binds a new one, and
// starts accepting connections in the background.
func Serve(socketPath string, handler Handler, logger hclog.Logger) (*Server, error) {
	_ = os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("console: listen on %q: %w", socketPath, err)
	}
	s := &Server{ln: ln, handler: handler, logger: logger.Named("console")}
	go s.acceptLoop()
	return s, nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.logger.Warn("decode request failed", "error", err)
		return
	}
	resp := s.handler(req)
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.logger.Warn("encode response failed", "error", err)
	}
}

func (s *Server) Close() error { return s.ln.Close() }

// Call dials socketPath and performs one request/response round trip,
// used by the syspartctl client.
func Call(socketPath string, req Request) (Response, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return Response{}, fmt.Errorf("console: dial %q: %w", socketPath, err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return Response{}, fmt.Errorf("console: send request: %w", err)
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("console: read response: %w", err)
	}
	return resp, nil
}
