package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/paperfold/fortuneteller/internal/ui"
	"github.com/paperfold/fortuneteller/internal/workflow"
)

const (
	TabProcess     = "process"
	TabReconstruct = "reconstruct"
)

// Tabs are the panels every workspace shows, in order
var Tabs = []ui.Tab{
	{ID: TabProcess, Label: "Process Image"},
	{ID: TabReconstruct, Label: "Reconstruct"},
}

// Remote is the processing service as seen by a workspace
type Remote interface {
	workflow.Processor
	workflow.Reconstructor
	Cleanup(ctx context.Context, sessionID string) error
}

// Notifier is told whenever something in a workspace changed
type Notifier func(workspaceID, event string)

// Gauge receives the number of live workspaces
type Gauge interface {
	Set(float64)
}

// Workspace is the state owned by one browser: the tab container and one
// instance of each workflow controller.
type Workspace struct {
	ID          string
	CreatedAt   time.Time
	Tabs        *ui.Tabs
	Process     *workflow.SingleImage
	Reconstruct *workflow.Composite

	mu       sync.Mutex
	lastSeen time.Time
	flashes  []ui.Alert
}

func (w *Workspace) touch(now time.Time) {
	w.mu.Lock()
	w.lastSeen = now
	w.mu.Unlock()
}

// LastSeen is when the workspace was last looked up
func (w *Workspace) LastSeen() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastSeen
}

// Flash queues an alert for the next page render
func (w *Workspace) Flash(a ui.Alert) {
	w.mu.Lock()
	w.flashes = append(w.flashes, a)
	w.mu.Unlock()
}

// TakeFlashes returns and clears the queued alerts
func (w *Workspace) TakeFlashes() []ui.Alert {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.flashes
	w.flashes = nil
	return out
}

// RemoteSessions lists every remote session either controller created
func (w *Workspace) RemoteSessions() []string {
	return append(w.Process.RemoteSessions(), w.Reconstruct.RemoteSessions()...)
}

func (w *Workspace) close() {
	w.Process.Close()
	w.Reconstruct.Close()
}

// WorkspaceStore keeps every live workspace in memory
type WorkspaceStore struct {
	workspaces map[string]*Workspace
	mu         sync.RWMutex

	remote   Remote
	notify   Notifier
	observer workflow.Observer
	gauge    Gauge
	now      func() time.Time
}

type Option func(*WorkspaceStore)

// WithNotifier registers a callback for workspace changes
func WithNotifier(n Notifier) Option {
	return func(s *WorkspaceStore) {
		s.notify = n
	}
}

// WithObserver is handed to every controller the store creates
func WithObserver(o workflow.Observer) Option {
	return func(s *WorkspaceStore) {
		s.observer = o
	}
}

// WithGauge reports the workspace count after every change
func WithGauge(g Gauge) Option {
	return func(s *WorkspaceStore) {
		s.gauge = g
	}
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *WorkspaceStore) {
		s.now = now
	}
}

func New(remote Remote, opts ...Option) *WorkspaceStore {
	s := &WorkspaceStore{
		workspaces: make(map[string]*Workspace),
		remote:     remote,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create makes a new workspace with a fresh id
func (s *WorkspaceStore) Create() (*Workspace, error) {
	tabs, err := ui.NewTabs(TabProcess, Tabs...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tabs: %w", err)
	}

	id := uuid.NewString()
	now := s.now()
	ws := &Workspace{
		ID:        id,
		CreatedAt: now,
		Tabs:      tabs,
		lastSeen:  now,
	}
	ws.Process = workflow.NewSingleImage(s.remote, s.controllerOptions(id, TabProcess)...)
	ws.Reconstruct = workflow.NewComposite(s.remote, s.controllerOptions(id, TabReconstruct)...)

	s.mu.Lock()
	s.workspaces[id] = ws
	count := len(s.workspaces)
	s.mu.Unlock()

	s.report(count)
	slog.Debug("Workspace created", "workspace", id)
	return ws, nil
}

func (s *WorkspaceStore) controllerOptions(id, event string) []workflow.Option {
	opts := []workflow.Option{}
	if s.notify != nil {
		notify := s.notify
		opts = append(opts, workflow.WithOnChange(func() { notify(id, event) }))
	}
	if s.observer != nil {
		opts = append(opts, workflow.WithObserver(s.observer))
	}
	return opts
}

// Get returns the workspace and marks it as seen
func (s *WorkspaceStore) Get(id string) (*Workspace, bool) {
	s.mu.RLock()
	ws, exists := s.workspaces[id]
	s.mu.RUnlock()
	if exists {
		ws.touch(s.now())
	}
	return ws, exists
}

// GetOrCreate returns the workspace for id, creating a new one when id is unknown.
// The boolean reports whether a new workspace was created.
func (s *WorkspaceStore) GetOrCreate(id string) (*Workspace, bool, error) {
	if id != "" {
		if ws, ok := s.Get(id); ok {
			return ws, false, nil
		}
	}
	ws, err := s.Create()
	if err != nil {
		return nil, false, err
	}
	return ws, true, nil
}

// GetAll returns every workspace ordered by creation time
func (s *WorkspaceStore) GetAll() []*Workspace {
	s.mu.RLock()
	result := make([]*Workspace, 0, len(s.workspaces))
	for _, ws := range s.workspaces {
		result = append(result, ws)
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

func (s *WorkspaceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workspaces)
}

// Delete tears down a workspace and asks the service to clean up the sessions
// it created. The workspace is removed even when cleanup fails.
func (s *WorkspaceStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	ws, exists := s.workspaces[id]
	delete(s.workspaces, id)
	count := len(s.workspaces)
	s.mu.Unlock()

	if !exists {
		return nil
	}
	s.report(count)
	ws.close()

	var errs []error
	for _, session := range ws.RemoteSessions() {
		if err := s.remote.Cleanup(ctx, session); err != nil {
			errs = append(errs, fmt.Errorf("cleanup %s: %w", session, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("Remote cleanup incomplete", "workspace", id, "err", err)
		return err
	}
	slog.Debug("Workspace deleted", "workspace", id)
	return nil
}

// Sweep deletes workspaces not seen for longer than ttl and returns how many were removed
func (s *WorkspaceStore) Sweep(ctx context.Context, ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-ttl)

	var expired []string
	s.mu.RLock()
	for id, ws := range s.workspaces {
		if ws.LastSeen().Before(cutoff) {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range expired {
		if err := s.Delete(ctx, id); err != nil {
			slog.Error("Unable to clean up expired workspace", "workspace", id, "err", err)
		}
	}
	if len(expired) > 0 {
		slog.Info("Expired idle workspaces", "count", len(expired))
	}
	return len(expired)
}

// Janitor sweeps every interval until ctx is cancelled
func (s *WorkspaceStore) Janitor(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx, ttl)
		}
	}
}

// Close deletes every workspace
func (s *WorkspaceStore) Close(ctx context.Context) error {
	var errs []error
	for _, ws := range s.GetAll() {
		if err := s.Delete(ctx, ws.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *WorkspaceStore) report(count int) {
	if s.gauge != nil {
		s.gauge.Set(float64(count))
	}
}
