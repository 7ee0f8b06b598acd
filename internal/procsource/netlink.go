// Package procsource is the proc-connector netlink client plus /proc bulk
// discovery and per-pid attribute fetch (spec §2 "Process source", §6
// "Proc-connector netlink"). It auto-reconnects and feeds typed Events to
// the classifier's event loop.
package procsource

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"golang.org/x/sys/unix"
)

// What mirrors the kernel's enum proc_cn_event (linux/cn_proc.h).
type What uint32

const (
	EventNone     What = 0x00000000
	EventFork     What = 0x00000001
	EventExec     What = 0x00000002
	EventUID      What = 0x00000004
	EventGID      What = 0x00000040
	EventSID      What = 0x00000080
	EventPtrace   What = 0x00000100
	EventComm     What = 0x00000200
	EventCoredump What = 0x40000000
	EventExit     What = 0x80000000
)

func (w What) String() string {
	switch w {
	case EventNone:
		return "none"
	case EventFork:
		return "fork"
	case EventExec:
		return "exec"
	case EventUID:
		return "uid"
	case EventGID:
		return "gid"
	case EventSID:
		return "sid"
	case EventPtrace:
		return "ptrace"
	case EventComm:
		return "comm"
	case EventCoredump:
		return "coredump"
	case EventExit:
		return "exit"
	default:
		return fmt.Sprintf("what(0x%x)", uint32(w))
	}
}

// Event is a flattened decode of struct proc_event's tagged union: only
// the fields relevant to What are meaningful.
type Event struct {
	What What

	Pid, Tgid int // process_pid / process_tgid in every variant but fork

	// fork
	ParentPid, ParentTgid int
	ChildPid, ChildTgid   int

	// uid/gid
	RealID, EffectiveID uint32

	// ptrace
	TracerPid, TracerTgid int

	// comm
	Comm string

	// exit
	ExitCode, ExitSignal uint32
}

const (
	cnIdxProc uint32 = 1
	cnValProc uint32 = 1

	procCNMcastListen uint32 = 1
	procCNMcastIgnore uint32 = 2

	cnMsgHdrSize   = 20 // idx(4) val(4) seq(4) ack(4) len(2) flags(2)
	procEvtHdrSize = 16 // what(4) cpu(4) timestamp_ns(8)
)

// connACKTimeout bounds how long we wait for the kernel's PROC_EVENT_NONE
// ack after subscribing, per spec §6 ("verify ... within 500 ms").
const connACKTimeout = 500 * time.Millisecond

// retryDelay is the cold-start/disconnect retry interval of spec §5
// ("Netlink setup failures schedule a 5 s retry").
const retryDelay = 5 * time.Second

// Conn manages a NETLINK_CONNECTOR socket subscribed to CN_IDX_PROC,
// auto-reconnecting on failure and delivering decoded Events on a channel.
type Conn struct {
	logger hclog.Logger
	events chan Event
}

func NewConn(logger hclog.Logger) *Conn {
	return &Conn{logger: logger.Named("procsource"), events: make(chan Event, 256)}
}

func (c *Conn) Events() <-chan Event { return c.events }

// Run opens the socket, verifies the kernel supports CONFIG_PROC_EVENTS,
// and reads until ctx is cancelled, reconnecting with retryDelay between
// attempts (spec §2/§5/§6).
func (c *Conn) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			close(c.events)
			return
		}
		if err := c.runOnce(ctx); err != nil {
			c.logger.Warn("netlink connection failed, retrying", "error", err, "retry_in", retryDelay)
			select {
			case <-ctx.Done():
				close(c.events)
				return
			case <-time.After(retryDelay):
			}
		}
	}
}

func (c *Conn) runOnce(ctx context.Context) error {
	sock, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM, unix.NETLINK_CONNECTOR)
	if err != nil {
		return fmt.Errorf("open NETLINK_CONNECTOR socket (requires CAP_NET_ADMIN): %w", err)
	}
	defer unix.Close(sock)

	sa := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: cnIdxProc, Pid: uint32(os.Getpid())}
	if err := unix.Bind(sock, sa); err != nil {
		return fmt.Errorf("bind NETLINK_CONNECTOR: %w", err)
	}

	if err := sendOp(sock, procCNMcastListen); err != nil {
		return fmt.Errorf("subscribe PROC_CN_MCAST_LISTEN: %w", err)
	}
	if err := c.waitForAck(sock); err != nil {
		return err
	}

	return c.readLoop(ctx, sock)
}

// waitForAck reads until a PROC_EVENT_NONE message arrives or the timeout
// expires; a timeout means the kernel lacks CONFIG_PROC_EVENTS.
func (c *Conn) waitForAck(sock int) error {
	deadline := unix.Timeval{Sec: 0, Usec: int64(connACKTimeout / time.Microsecond)}
	if err := unix.SetsockoptTimeval(sock, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &deadline); err != nil {
		return fmt.Errorf("set ack timeout: %w", err)
	}

	buf := make([]byte, 4096)
	n, _, err := unix.Recvfrom(sock, buf, 0)
	if err != nil {
		return fmt.Errorf("no PROC_EVENT_NONE ack within %s, kernel lacks CONFIG_PROC_EVENTS: %w", connACKTimeout, err)
	}
	evs := parseBuffer(buf[:n])
	found := false
	for _, e := range evs {
		if e.What == EventNone {
			found = true
		}
	}
	if !found {
		c.logger.Warn("first netlink message was not PROC_EVENT_NONE, continuing anyway")
	}

	// Clear the timeout for the steady-state read loop; it polls ctx
	// separately via a short timeout set in readLoop.
	return nil
}

func (c *Conn) readLoop(ctx context.Context, sock int) error {
	tv := unix.Timeval{Sec: 1, Usec: 0}
	if err := unix.SetsockoptTimeval(sock, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		return fmt.Errorf("set read timeout: %w", err)
	}

	buf := make([]byte, 16*1024)
	for {
		select {
		case <-ctx.Done():
			_ = sendOp(sock, procCNMcastIgnore)
			return nil
		default:
		}

		n, _, err := unix.Recvfrom(sock, buf, 0)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				continue
			}
			return fmt.Errorf("recvfrom: %w", err)
		}

		for _, ev := range parseBuffer(buf[:n]) {
			select {
			case c.events <- ev:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func sendOp(sock int, op uint32) error {
	const opSize = 4
	const nlHdrSize = 16
	total := nlHdrSize + cnMsgHdrSize + opSize
	buf := make([]byte, total)

	binary.NativeEndian.PutUint32(buf[0:4], uint32(total))
	binary.NativeEndian.PutUint16(buf[4:6], unix.NLMSG_DONE)
	binary.NativeEndian.PutUint16(buf[6:8], 0)
	binary.NativeEndian.PutUint32(buf[8:12], 0)
	binary.NativeEndian.PutUint32(buf[12:16], uint32(os.Getpid()))

	off := nlHdrSize
	binary.NativeEndian.PutUint32(buf[off:off+4], cnIdxProc)
	binary.NativeEndian.PutUint32(buf[off+4:off+8], cnValProc)
	binary.NativeEndian.PutUint32(buf[off+8:off+12], 0)
	binary.NativeEndian.PutUint32(buf[off+12:off+16], 0)
	binary.NativeEndian.PutUint16(buf[off+16:off+18], opSize)
	binary.NativeEndian.PutUint16(buf[off+18:off+20], 0)

	off += cnMsgHdrSize
	binary.NativeEndian.PutUint32(buf[off:off+4], op)

	dst := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Pid: 0}
	return unix.Sendto(sock, buf, 0, dst)
}

// parseBuffer splits buf into netlink messages and decodes every
// CN_IDX_PROC/CN_VAL_PROC payload into an Event.
func parseBuffer(buf []byte) []Event {
	msgs, err := unix.ParseNetlinkMessage(buf)
	if err != nil {
		return nil
	}
	var out []Event
	for _, msg := range msgs {
		if msg.Header.Type == unix.NLMSG_ERROR {
			continue
		}
		if ev, ok := decodeCnMsg(msg.Data); ok {
			out = append(out, ev)
		}
	}
	return out
}

func decodeCnMsg(data []byte) (Event, bool) {
	if len(data) < cnMsgHdrSize {
		return Event{}, false
	}
	idx := binary.NativeEndian.Uint32(data[0:4])
	val := binary.NativeEndian.Uint32(data[4:8])
	if idx != cnIdxProc || val != cnValProc {
		return Event{}, false
	}
	payloadLen := int(binary.NativeEndian.Uint16(data[16:18]))
	payload := data[cnMsgHdrSize:]
	if payloadLen > len(payload) {
		return Event{}, false
	}
	payload = payload[:payloadLen]
	return decodeProcEvent(payload)
}

func decodeProcEvent(payload []byte) (Event, bool) {
	if len(payload) < procEvtHdrSize {
		return Event{}, false
	}
	what := What(binary.NativeEndian.Uint32(payload[0:4]))
	body := payload[procEvtHdrSize:]
	ev := Event{What: what}

	u32 := binary.NativeEndian.Uint32
	need := func(n int) bool { return len(body) >= n }

	switch what {
	case EventNone:
		return ev, true
	case EventFork:
		if !need(16) {
			return Event{}, false
		}
		ev.ParentPid = int(u32(body[0:4]))
		ev.ParentTgid = int(u32(body[4:8]))
		ev.ChildPid = int(u32(body[8:12]))
		ev.ChildTgid = int(u32(body[12:16]))
		ev.Pid, ev.Tgid = ev.ChildPid, ev.ChildTgid
	case EventExec:
		if !need(8) {
			return Event{}, false
		}
		ev.Pid = int(u32(body[0:4]))
		ev.Tgid = int(u32(body[4:8]))
	case EventUID, EventGID:
		if !need(16) {
			return Event{}, false
		}
		ev.Pid = int(u32(body[0:4]))
		ev.Tgid = int(u32(body[4:8]))
		ev.RealID = u32(body[8:12])
		ev.EffectiveID = u32(body[12:16])
	case EventSID:
		if !need(8) {
			return Event{}, false
		}
		ev.Pid = int(u32(body[0:4]))
		ev.Tgid = int(u32(body[4:8]))
	case EventPtrace:
		if !need(16) {
			return Event{}, false
		}
		ev.Pid = int(u32(body[0:4]))
		ev.Tgid = int(u32(body[4:8]))
		ev.TracerPid = int(u32(body[8:12]))
		ev.TracerTgid = int(u32(body[12:16]))
	case EventComm:
		if !need(24) {
			return Event{}, false
		}
		ev.Pid = int(u32(body[0:4]))
		ev.Tgid = int(u32(body[4:8]))
		raw := body[8:24]
		n := 0
		for n < len(raw) && raw[n] != 0 {
			n++
		}
		ev.Comm = string(raw[:n])
	case EventExit:
		if !need(16) {
			return Event{}, false
		}
		ev.Pid = int(u32(body[0:4]))
		ev.Tgid = int(u32(body[4:8]))
		ev.ExitCode = u32(body[8:12])
		ev.ExitSignal = u32(body[12:16])
	default:
		return Event{}, false
	}
	return ev, true
}
