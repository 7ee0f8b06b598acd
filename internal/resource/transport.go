package resource

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
)

// UnixTransport is a minimal line-protocol client over a Unix domain
// socket, the concrete "local-transport resource-protocol client" spec
// §4.7 names without specifying a wire format (transport implementation
// is a non-goal per spec §1's "assume a client-grade library"). Each
// request line is "<verb> <correlation-id> <args...>"; the daemon on the
// other end is expected to answer a single "OK" or "ERR <reason>" line.
type UnixTransport struct {
	addr string
}

func NewUnixTransport(socketPath string) *UnixTransport {
	return &UnixTransport{addr: socketPath}
}

func (t *UnixTransport) roundTrip(ctx context.Context, line string) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", t.addr)
	if err != nil {
		return fmt.Errorf("resource: dial %s: %w", t.addr, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
		return fmt.Errorf("resource: write: %w", err)
	}
	reply, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return fmt.Errorf("resource: read reply: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply != "OK" && !strings.HasPrefix(reply, "OK ") {
		return fmt.Errorf("resource: request %q: %s", line, reply)
	}
	return nil
}

func (t *UnixTransport) Acquire(ctx context.Context, id uuid.UUID, resourceClass string, mask Mask) error {
	return t.roundTrip(ctx, fmt.Sprintf("ACQUIRE %s %s %d", id, resourceClass, mask))
}

func (t *UnixTransport) Update(ctx context.Context, id uuid.UUID, mask Mask) error {
	return t.roundTrip(ctx, fmt.Sprintf("UPDATE %s %d", id, mask))
}

func (t *UnixTransport) Release(ctx context.Context, id uuid.UUID) error {
	return t.roundTrip(ctx, fmt.Sprintf("RELEASE %s", id))
}

func (t *UnixTransport) SetStreamEnginePID(ctx context.Context, pid int) error {
	return t.roundTrip(ctx, fmt.Sprintf("STREAM-ENGINE-PID %d", pid))
}
