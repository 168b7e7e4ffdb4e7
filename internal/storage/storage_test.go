package storage

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperfold/fortuneteller/internal/filesource"
	"github.com/paperfold/fortuneteller/internal/processing"
	"github.com/paperfold/fortuneteller/internal/ui"
	"github.com/paperfold/fortuneteller/internal/workflow"
)

type fakeRemote struct {
	mu         sync.Mutex
	cleaned    []string
	cleanupErr error
}

func (f *fakeRemote) Process(ctx context.Context, file processing.Upload) (*processing.ProcessResult, error) {
	return &processing.ProcessResult{SessionID: "proc-1", Segments: map[string]string{"option_1": "data:image/png;base64,AA=="}}, nil
}

func (f *fakeRemote) ReconstructFromComposites(ctx context.Context, files []processing.Upload) (*processing.ReconstructResult, error) {
	return &processing.ReconstructResult{SessionID: "rec-1", Image: "data:image/png;base64,AA=="}, nil
}

func (f *fakeRemote) Cleanup(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleaned = append(f.cleaned, sessionID)
	return f.cleanupErr
}

type fakeGauge struct {
	mu    sync.Mutex
	value float64
}

func (g *fakeGauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

func (g *fakeGauge) get() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

func pngSource(t *testing.T) filesource.Source {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 2, 2))))
	return filesource.NewMemory("fortune.png", buf.Bytes())
}

func TestCreateAndGet(t *testing.T) {
	gauge := &fakeGauge{}
	store := New(&fakeRemote{}, WithGauge(gauge))

	ws, err := store.Create()
	require.NoError(t, err)
	assert.NotEmpty(t, ws.ID)
	assert.Equal(t, TabProcess, ws.Tabs.Active())
	assert.NotNil(t, ws.Process)
	assert.NotNil(t, ws.Reconstruct)
	assert.Equal(t, float64(1), gauge.get())

	got, ok := store.Get(ws.ID)
	require.True(t, ok)
	assert.Same(t, ws, got)

	_, ok = store.Get("missing")
	assert.False(t, ok)
}

func TestGetOrCreate(t *testing.T) {
	store := New(&fakeRemote{})

	ws, created, err := store.GetOrCreate("")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := store.GetOrCreate(ws.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, ws, again)

	other, created, err := store.GetOrCreate("stale-cookie")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, ws.ID, other.ID)
	assert.Equal(t, 2, store.Len())
}

func TestWorkspacesAreIndependent(t *testing.T) {
	store := New(&fakeRemote{})
	a, err := store.Create()
	require.NoError(t, err)
	b, err := store.Create()
	require.NoError(t, err)

	a.Tabs.Select(TabReconstruct)
	require.NoError(t, a.Process.Select(context.Background(), pngSource(t)))

	assert.Equal(t, TabProcess, b.Tabs.Active())
	assert.Nil(t, b.Process.Snapshot().File)
}

func TestDeleteCleansRemoteSessions(t *testing.T) {
	remote := &fakeRemote{}
	gauge := &fakeGauge{}
	store := New(remote, WithGauge(gauge))
	ws, err := store.Create()
	require.NoError(t, err)

	require.NoError(t, ws.Process.Select(context.Background(), pngSource(t)))
	require.NoError(t, ws.Process.Submit())
	require.NoError(t, ws.Process.Wait(context.Background()))

	require.NoError(t, store.Delete(context.Background(), ws.ID))
	assert.Equal(t, []string{"proc-1"}, remote.cleaned)
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, float64(0), gauge.get())

	// deleting twice is a no-op
	require.NoError(t, store.Delete(context.Background(), ws.ID))
}

func TestDeleteReportsCleanupFailure(t *testing.T) {
	remote := &fakeRemote{cleanupErr: errors.New("service down")}
	store := New(remote)
	ws, err := store.Create()
	require.NoError(t, err)
	require.NoError(t, ws.Process.Select(context.Background(), pngSource(t)))
	require.NoError(t, ws.Process.Submit())
	require.NoError(t, ws.Process.Wait(context.Background()))

	assert.Error(t, store.Delete(context.Background(), ws.ID))
	assert.Equal(t, 0, store.Len())
}

func TestSweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	store := New(&fakeRemote{}, WithClock(clock))
	idle, err := store.Create()
	require.NoError(t, err)
	active, err := store.Create()
	require.NoError(t, err)

	advance(20 * time.Minute)
	store.Get(active.ID)
	advance(15 * time.Minute)

	assert.Equal(t, 0, store.Sweep(context.Background(), 0))
	assert.Equal(t, 1, store.Sweep(context.Background(), 30*time.Minute))

	_, ok := store.Get(idle.ID)
	assert.False(t, ok)
	_, ok = store.Get(active.ID)
	assert.True(t, ok)
	assert.ErrorIs(t, idle.Process.Submit(), workflow.ErrClosed)
}

func TestNotifierReceivesControllerChanges(t *testing.T) {
	var mu sync.Mutex
	var events []string
	store := New(&fakeRemote{}, WithNotifier(func(id, event string) {
		mu.Lock()
		events = append(events, id+":"+event)
		mu.Unlock()
	}))
	ws, err := store.Create()
	require.NoError(t, err)

	require.NoError(t, ws.Reconstruct.Remove("combo_flaps"))
	require.NoError(t, ws.Process.Select(context.Background(), pngSource(t)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{ws.ID + ":" + TabProcess}, events)
}

func TestFlashes(t *testing.T) {
	store := New(&fakeRemote{})
	ws, err := store.Create()
	require.NoError(t, err)

	assert.Empty(t, ws.TakeFlashes())
	ws.Flash(ui.Alert{Kind: ui.AlertWarning, Message: "first"})
	ws.Flash(ui.Alert{Kind: ui.AlertWarning, Message: "second"})
	flashes := ws.TakeFlashes()
	require.Len(t, flashes, 2)
	assert.Equal(t, "first", flashes[0].Message)
	assert.Empty(t, ws.TakeFlashes())
}

func TestCloseDeletesAll(t *testing.T) {
	store := New(&fakeRemote{})
	for i := 0; i < 3; i++ {
		_, err := store.Create()
		require.NoError(t, err)
	}
	require.NoError(t, store.Close(context.Background()))
	assert.Equal(t, 0, store.Len())
}
