package call

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcceptOutgoingCall(t *testing.T) {
	m := NewMachine()
	rec, trans := m.NewChannel(NewChannelParams{
		Path: "/call/a", Kind: StreamedMedia,
		HaveRequested: true, Requested: true,
		TargetHandle: 42, LocalHandle: 1,
	})
	require.Len(t, trans, 1)
	assert.Equal(t, StateCallout, rec.State)
	assert.Equal(t, DirOutgoing, rec.Direction)
	assert.Equal(t, uint32(42), rec.PeerHandle)

	m.SetMedia("/call/a", "stream-7", false)

	got := m.MembersChanged("/call/a", []uint32{42}, nil, nil, nil, 0)
	require.NotNil(t, got)
	assert.Equal(t, StateCallout, got.From)
	assert.Equal(t, StateActive, got.To)
	assert.True(t, rec.EverConnected)
}

func TestHoldRaceIgnoresPendingAndIsIdempotent(t *testing.T) {
	m := NewMachine()
	rec, _ := m.NewChannel(NewChannelParams{Path: "/call/a", HaveRequested: true, Requested: true, TargetHandle: 1})
	m.transitionTo(rec, StateActive, "active")

	assert.Nil(t, m.HoldStateChanged("/call/a", HoldPendingHold))
	got := m.HoldStateChanged("/call/a", HoldHeld)
	require.NotNil(t, got)
	assert.Equal(t, StateOnHold, got.To)

	assert.Nil(t, m.HoldStateChanged("/call/a", HoldPendingUnhold))
	got = m.HoldStateChanged("/call/a", HoldUnheld)
	require.NotNil(t, got)
	assert.Equal(t, StateActive, got.To)

	got = m.HoldStateChanged("/call/a", HoldHeld)
	require.NotNil(t, got)
	assert.Equal(t, StateOnHold, got.To)

	// repeating HELD while already on hold must be dropped.
	assert.Nil(t, m.HoldStateChanged("/call/a", HoldHeld))
}

func TestConferenceLifecycle(t *testing.T) {
	m := NewMachine()
	a, _ := m.NewChannel(NewChannelParams{Path: "/call/a", HaveRequested: true, Requested: true, TargetHandle: 1})
	b, _ := m.NewChannel(NewChannelParams{Path: "/call/b", HaveRequested: true, Requested: true, TargetHandle: 2})
	m.transitionTo(a, StateActive, "active")
	m.transitionTo(b, StateActive, "active")

	c, trans := m.NewChannel(NewChannelParams{
		Path: "/call/c", HaveRequested: true, Requested: true, TargetHandle: 3,
		InitialMembers: []string{"/call/a", "/call/b"},
	})
	require.True(t, c.Parent.IsSelf())
	require.Len(t, trans, 3) // created + two conference folds

	assert.Equal(t, StateConference, a.State)
	assert.Equal(t, StateActive, a.ConfState)
	resolvedParent, ok := m.Table.Resolve(a, a.Parent)
	require.True(t, ok)
	assert.Same(t, c, resolvedParent)

	removeTrans := m.ChannelRemoved("/call/c", "/call/a")
	require.Len(t, removeTrans, 1)
	assert.Equal(t, StateActive, a.State)
	assert.True(t, a.Parent.IsNone())

	closeTrans := m.ChannelClosed("/call/c")
	require.Len(t, closeTrans, 1)
	assert.Equal(t, StateActive, b.State)
	assert.True(t, b.Parent.IsNone())
	_, stillThere := m.Table.ByPath("/call/c")
	assert.False(t, stillThere)
}

func TestNeedAudioReflectsEmergencyAndCallStates(t *testing.T) {
	m := NewMachine()
	assert.False(t, m.NeedAudio())

	m.Emergency = true
	assert.True(t, m.NeedAudio())
	m.Emergency = false

	rec, _ := m.NewChannel(NewChannelParams{Path: "/call/a", HaveRequested: true, Requested: true, TargetHandle: 1})
	m.transitionTo(rec, StateOnHold, "onhold")
	assert.True(t, m.NeedAudio())

	assert.False(t, m.NeedVideo())
	m.SetMedia("/call/a", "vid-1", true)
	assert.True(t, m.NeedVideo())
}
