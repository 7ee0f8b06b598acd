package procsource

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildCnMsg constructs a raw netlink message carrying one cn_msg +
// proc_event payload, mirroring the layout decodeCnMsg/decodeProcEvent
// expect, for use without a real kernel socket.
func buildCnMsg(t *testing.T, what What, body []byte) []byte {
	t.Helper()
	payload := make([]byte, procEvtHdrSize+len(body))
	binary.NativeEndian.PutUint32(payload[0:4], uint32(what))
	copy(payload[procEvtHdrSize:], body)

	data := make([]byte, cnMsgHdrSize+len(payload))
	binary.NativeEndian.PutUint32(data[0:4], cnIdxProc)
	binary.NativeEndian.PutUint32(data[4:8], cnValProc)
	binary.NativeEndian.PutUint16(data[16:18], uint16(len(payload)))
	copy(data[cnMsgHdrSize:], payload)

	nlHdrSize := 16
	total := nlHdrSize + len(data)
	msg := make([]byte, total)
	binary.NativeEndian.PutUint32(msg[0:4], uint32(total))
	binary.NativeEndian.PutUint16(msg[4:6], 0) // NLMSG_DONE-ish, irrelevant to decode
	copy(msg[nlHdrSize:], data)
	return msg
}

func TestDecodeExecEvent(t *testing.T) {
	body := make([]byte, 8)
	binary.NativeEndian.PutUint32(body[0:4], 4242)
	binary.NativeEndian.PutUint32(body[4:8], 4242)

	msg := buildCnMsg(t, EventExec, body)
	evs := parseBuffer(msg)
	require.Len(t, evs, 1)
	assert.Equal(t, EventExec, evs[0].What)
	assert.Equal(t, 4242, evs[0].Pid)
}

func TestDecodeCommEvent(t *testing.T) {
	body := make([]byte, 24)
	binary.NativeEndian.PutUint32(body[0:4], 7)
	binary.NativeEndian.PutUint32(body[4:8], 7)
	copy(body[8:], []byte("bash\x00"))

	msg := buildCnMsg(t, EventComm, body)
	evs := parseBuffer(msg)
	require.Len(t, evs, 1)
	assert.Equal(t, "bash", evs[0].Comm)
}

func TestDecodeIgnoresWrongConnector(t *testing.T) {
	data, ok := decodeCnMsg(make([]byte, cnMsgHdrSize))
	assert.False(t, ok)
	assert.Equal(t, Event{}, data)
}
