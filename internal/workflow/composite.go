package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paperfold/fortuneteller/internal/filesource"
	"github.com/paperfold/fortuneteller/internal/models"
	"github.com/paperfold/fortuneteller/internal/processing"
)

// ReconstructFailedMessage is shown for any failed reconstruction
const ReconstructFailedMessage = "Failed to reconstruct image. Please try again."

// Reconstructor uploads the six composites for reconstruction
type Reconstructor interface {
	ReconstructFromComposites(ctx context.Context, files []processing.Upload) (*processing.ReconstructResult, error)
}

// CompositeSnapshot is a point-in-time view of a Composite controller
type CompositeSnapshot struct {
	State     State              `json:"state"`
	Error     string             `json:"error,omitempty"`
	Slots     []models.SlotState `json:"slots"`
	Missing   []models.SlotID    `json:"missing,omitempty"`
	Image     string             `json:"image,omitempty"`
	SessionID string             `json:"session_id,omitempty"`
	Ready     bool               `json:"ready"`
	CanSubmit bool               `json:"can_submit"`
}

type attachment struct {
	source filesource.Source
	item   *models.FileItem
}

// Composite drives the six-composite reconstruction workflow
type Composite struct {
	mu            sync.Mutex
	m             machine
	opts          options
	reconstructor Reconstructor
	logger        *slog.Logger

	slots     map[models.SlotID]attachment
	image     string
	sessionID string
	sessions  []string
}

// NewComposite creates a controller that submits through r
func NewComposite(r Reconstructor, opts ...Option) *Composite {
	c := &Composite{
		m:             newMachine(),
		reconstructor: r,
		logger:        slog.Default().With("workflow", "reconstruct"),
		slots:         make(map[models.SlotID]attachment, len(models.Slots())),
	}
	for _, opt := range opts {
		opt(&c.opts)
	}
	return c
}

// AttachFromPicker sets or replaces the file of a slot from a file picker
func (c *Composite) AttachFromPicker(ctx context.Context, id models.SlotID, src filesource.Source) error {
	if src == nil {
		return ErrNoFile
	}
	return c.attach(ctx, id, src, "picker")
}

// AttachFromDrop sets or replaces the file of a slot from a drag-and-drop.
// Only the first dropped file is used.
func (c *Composite) AttachFromDrop(ctx context.Context, id models.SlotID, dropped ...filesource.Source) error {
	if len(dropped) == 0 || dropped[0] == nil {
		return ErrNoFile
	}
	return c.attach(ctx, id, dropped[0], "drop")
}

func (c *Composite) attach(ctx context.Context, id models.SlotID, src filesource.Source, via string) error {
	if _, ok := models.LookupSlot(string(id)); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSlot, id)
	}
	item, err := filesource.Inspect(ctx, src)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.m.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.slots[id] = attachment{source: src, item: item}
	c.mu.Unlock()

	c.logger.Info("Composite attached", "slot", id, "name", item.Name, "via", via)
	c.changed()
	return nil
}

// Remove clears one slot, leaving the others untouched
func (c *Composite) Remove(id models.SlotID) error {
	if _, ok := models.LookupSlot(string(id)); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSlot, id)
	}

	c.mu.Lock()
	if c.m.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	_, had := c.slots[id]
	delete(c.slots, id)
	c.mu.Unlock()

	if had {
		c.logger.Info("Composite removed", "slot", id)
		c.changed()
	}
	return nil
}

// Ready reports whether every slot holds a file
func (c *Composite) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready()
}

func (c *Composite) ready() bool {
	for _, s := range models.Slots() {
		if _, ok := c.slots[s.ID]; !ok {
			return false
		}
	}
	return true
}

// CanSubmit reports whether the submit control should be enabled
func (c *Composite) CanSubmit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready() && c.m.canTrigger()
}

// Submit starts the reconstruction. It is refused outright unless all six
// slots are filled and nothing is in flight.
func (c *Composite) Submit() error {
	c.mu.Lock()
	if c.m.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if !c.ready() {
		c.mu.Unlock()
		return ErrIncomplete
	}
	t, err := c.m.begin()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	ordered := make([]models.SlotID, 0, len(c.slots))
	sources := make([]filesource.Source, 0, len(c.slots))
	for _, s := range models.Slots() {
		ordered = append(ordered, s.ID)
		sources = append(sources, c.slots[s.ID].source)
	}
	c.mu.Unlock()

	c.logger.Info("Submitting composites", "count", len(sources))
	c.changed()
	go c.run(t, ordered, sources)
	return nil
}

func (c *Composite) run(t *ticket, ids []models.SlotID, sources []filesource.Source) {
	var result *processing.ReconstructResult
	uploads, err := collectUploads(t.ctx, ids, sources)
	if err == nil {
		result, err = c.reconstructor.ReconstructFromComposites(t.ctx, uploads)
	}

	outcome := OutcomeSuccess
	c.mu.Lock()
	switch {
	case !c.m.current(t):
		outcome = OutcomeDiscarded
	case err != nil:
		outcome = OutcomeFailure
		if ferr := c.m.fail(ReconstructFailedMessage); ferr != nil {
			c.logger.Error("Unable to record failure", "err", ferr)
		}
	default:
		if serr := c.m.succeed(); serr != nil {
			c.logger.Error("Unable to record success", "err", serr)
		}
		c.image = result.Image
		c.sessionID = result.SessionID
		if result.SessionID != "" {
			c.sessions = append(c.sessions, result.SessionID)
		}
	}
	c.m.release(t)
	c.mu.Unlock()

	elapsed := time.Since(t.start)
	switch outcome {
	case OutcomeDiscarded:
		c.logger.Debug("Discarding response for closed controller", "err", err)
	case OutcomeFailure:
		c.logger.Error("Reconstruction failed", "err", err, "elapsed", elapsed)
	default:
		c.logger.Info("Reconstruction complete", "session_id", result.SessionID, "elapsed", elapsed)
	}
	if c.opts.observer != nil {
		c.opts.observer("reconstruct", outcome, elapsed)
	}
	if outcome != OutcomeDiscarded {
		c.changed()
	}
}

func collectUploads(ctx context.Context, ids []models.SlotID, sources []filesource.Source) ([]processing.Upload, error) {
	uploads := make([]processing.Upload, 0, len(sources))
	for i, src := range sources {
		data, err := src.Bytes(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", ids[i], err)
		}
		uploads = append(uploads, processing.Upload{
			Filename: ids[i].UploadName(),
			Data:     data,
		})
	}
	return uploads, nil
}

// Wait blocks until the submission in flight, if any, has finished
func (c *Composite) Wait(ctx context.Context) error {
	c.mu.Lock()
	var done chan struct{}
	if c.m.inflight != nil {
		done = c.m.inflight.done
	}
	c.mu.Unlock()
	return wait(ctx, done)
}

// Snapshot returns the controller's current view
func (c *Composite) Snapshot() CompositeSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := CompositeSnapshot{
		State:     c.m.state,
		Error:     c.m.message,
		SessionID: c.sessionID,
		Ready:     c.ready(),
	}
	snap.CanSubmit = snap.Ready && c.m.canTrigger()
	for _, s := range models.Slots() {
		st := models.SlotState{Slot: s}
		if a, ok := c.slots[s.ID]; ok {
			st.File = a.item
		} else {
			snap.Missing = append(snap.Missing, s.ID)
		}
		snap.Slots = append(snap.Slots, st)
	}
	if c.m.state == StateSucceeded {
		snap.Image = c.image
	}
	return snap
}

// RemoteSessions lists every remote session created by this controller
func (c *Composite) RemoteSessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sessions...)
}

// Close tears the controller down, dropping attached files. A response still
// in flight is discarded.
func (c *Composite) Close() {
	c.mu.Lock()
	c.m.close()
	clear(c.slots)
	c.mu.Unlock()
}

func (c *Composite) changed() {
	if c.opts.onChange != nil {
		c.opts.onChange()
	}
}
