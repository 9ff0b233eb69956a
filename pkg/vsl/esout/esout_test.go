package esout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	frames     []Frame
	empty      bool
	pcrResets  int
	controls   []int
}

func (f *fakeSink) WriteFrame(_ context.Context, frame Frame) error {
	f.frames = append(f.frames, frame)
	return nil
}
func (f *fakeSink) IsEmpty() bool  { return f.empty }
func (f *fakeSink) GetEmpty() bool { return f.empty }
func (f *fakeSink) ResetPCR()      { f.pcrResets++ }
func (f *fakeSink) Control(query int, _ ...interface{}) error {
	f.controls = append(f.controls, query)
	return nil
}

func TestManagedDelegatesToBackend(t *testing.T) {
	backend := &fakeSink{empty: true}
	m := New(backend)

	require.NoError(t, m.WriteFrame(context.Background(), Frame{StreamID: 1, Payload: []byte("x")}))
	require.Len(t, backend.frames, 1)

	require.True(t, m.IsEmpty())
	require.True(t, m.GetEmpty())

	m.ResetPCR()
	require.Equal(t, 1, backend.pcrResets)

	require.NoError(t, m.Control(7))
	require.Equal(t, []int{7}, backend.controls)
}

// Closing a Managed wrapper must not reach into the backend at all --
// the backend is shared across however many wrappers come and go.
func TestManagedCloseDoesNotTouchBackend(t *testing.T) {
	backend := &fakeSink{}
	m := New(backend)

	require.NoError(t, m.Close())
	require.True(t, m.Closed())

	require.NoError(t, m.WriteFrame(context.Background(), Frame{}))
	require.Len(t, backend.frames, 1)
}
