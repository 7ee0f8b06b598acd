package resource

import (
	"context"
	"testing"

	"github.com/google/uuid"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	acquired, released int
	lastAcquireMask    Mask
	lastUpdateMask     Mask
	pid                int
}

func (f *fakeTransport) Acquire(ctx context.Context, id uuid.UUID, class string, mask Mask) error {
	f.acquired++
	f.lastAcquireMask = mask
	return nil
}
func (f *fakeTransport) Update(ctx context.Context, id uuid.UUID, mask Mask) error {
	f.lastUpdateMask = mask
	return nil
}
func (f *fakeTransport) Release(ctx context.Context, id uuid.UUID) error {
	f.released++
	return nil
}
func (f *fakeTransport) SetStreamEnginePID(ctx context.Context, pid int) error {
	f.pid = pid
	return nil
}

func TestReconcileAcquiresOnFirstNeed(t *testing.T) {
	ft := &fakeTransport{}
	c := New(ft, hclog.NewNullLogger())

	require.NoError(t, c.Reconcile(context.Background(), true, false))
	assert.Equal(t, 1, ft.acquired)
	assert.Equal(t, BaseAudio, ft.lastAcquireMask)
	assert.True(t, c.HaveAudio())
}

func TestReconcileUpdatesOnVideoChangeThenReleasesOnNoAudio(t *testing.T) {
	ft := &fakeTransport{}
	c := New(ft, hclog.NewNullLogger())

	require.NoError(t, c.Reconcile(context.Background(), true, false))
	require.NoError(t, c.Reconcile(context.Background(), true, true))
	assert.Equal(t, BaseAudio|PlusVideo, ft.lastUpdateMask)
	assert.True(t, c.HaveVideo())

	require.NoError(t, c.Reconcile(context.Background(), false, false))
	assert.Equal(t, 1, ft.released)
	assert.False(t, c.HaveAudio())
	assert.False(t, c.HaveVideo())
}

func TestDisabledEscapeHatchSkipsReconcile(t *testing.T) {
	ft := &fakeTransport{}
	c := New(ft, hclog.NewNullLogger())
	c.Disabled = true

	require.NoError(t, c.Reconcile(context.Background(), true, true))
	assert.Equal(t, 0, ft.acquired)
}
