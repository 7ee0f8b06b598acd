// Package appnotify implements the UDP "app-tracker" wire protocol shared
// by spec.md §6 (the I/O-wait/DTMF-state notification sockets) and the
// original cgrp-apptrack.c plugin's active-process notifications (see
// SPEC_FULL.md "Supplemented features"): whitespace-separated datagrams
// of the form "<pid> <state>\n", state ∈ {active, standby}.
package appnotify

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"

	hclog "github.com/hashicorp/go-hclog"
)

// DefaultPort is spec.md §6's default UDP port for application-tracker
// notifications.
const DefaultPort = 3001

// State is one of the two wire states a datagram token carries.
type State int

const (
	StateStandby State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "standby"
}

func parseState(tok string) (State, bool) {
	switch tok {
	case "active":
		return StateActive, true
	case "standby":
		return StateStandby, true
	default:
		return 0, false
	}
}

// Handler receives one decoded (pid, state) notification.
type Handler func(pid int, state State)

// Listener binds a UDP socket and decodes inbound "<pid> <state>"
// datagrams, per spec §6: "whitespace-separated concatenations of such
// pairs in one datagram are processed in order."
type Listener struct {
	conn    *net.UDPConn
	logger  hclog.Logger
	handler Handler
}

// Listen binds 127.0.0.1:port (0 selects DefaultPort).
func Listen(port int, handler Handler, logger hclog.Logger) (*Listener, error) {
	if port == 0 {
		port = DefaultPort
	}
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("appnotify: listen on %s: %w", addr, err)
	}
	return &Listener{conn: conn, logger: logger.Named("appnotify"), handler: handler}, nil
}

// Addr reports the bound local address.
func (l *Listener) Addr() net.Addr { return l.conn.LocalAddr() }

// ReadOnce blocks for a single datagram and dispatches every pid/state pair
// it decodes. The main event loop calls this once per readiness
// notification on the underlying fd (spec §5's cooperative model).
func (l *Listener) ReadOnce() error {
	buf := make([]byte, 4096)
	n, _, err := l.conn.ReadFromUDP(buf)
	if err != nil {
		return fmt.Errorf("appnotify: read: %w", err)
	}
	decode(buf[:n], l.handler, l.logger)
	return nil
}

func decode(data []byte, handler Handler, logger hclog.Logger) {
	sc := bufio.NewScanner(strings.NewReader(string(data)))
	sc.Split(bufio.ScanWords)
	var pendingPid int
	havePid := false
	for sc.Scan() {
		tok := sc.Text()
		if !havePid {
			pid, err := strconv.Atoi(tok)
			if err != nil {
				logger.Warn("appnotify: malformed pid token, dropping datagram tail", "token", tok)
				return
			}
			pendingPid = pid
			havePid = true
			continue
		}
		state, ok := parseState(tok)
		if !ok {
			logger.Warn("appnotify: unknown state token, dropping datagram tail", "token", tok)
			return
		}
		handler(pendingPid, state)
		havePid = false
	}
}

func (l *Listener) Close() error { return l.conn.Close() }

// Notifier sends outbound "<pid> <state>\n" datagrams, used by the
// classifier's assign-group action to announce the newly active process
// (spec §3: "if the process is the currently-active process ... fires the
// app-tracker notifier").
type Notifier struct {
	conn *net.UDPConn
}

// DialNotifier opens a UDP socket targeting 127.0.0.1:port for outbound
// notifications.
func DialNotifier(port int) (*Notifier, error) {
	if port == 0 {
		port = DefaultPort
	}
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("appnotify: dial %s: %w", addr, err)
	}
	return &Notifier{conn: conn}, nil
}

func (n *Notifier) Notify(pid int, state State) error {
	_, err := n.conn.Write([]byte(fmt.Sprintf("%d %s\n", pid, state)))
	return err
}

func (n *Notifier) Close() error { return n.conn.Close() }
