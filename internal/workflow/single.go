package workflow

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/paperfold/fortuneteller/internal/filesource"
	"github.com/paperfold/fortuneteller/internal/models"
	"github.com/paperfold/fortuneteller/internal/processing"
)

// ProcessFailedMessage is shown for any failed single-image submission
const ProcessFailedMessage = "Failed to process image. Please try again."

// Processor uploads one image for segmentation
type Processor interface {
	Process(ctx context.Context, file processing.Upload) (*processing.ProcessResult, error)
}

// SingleImageSnapshot is a point-in-time view of a SingleImage controller
type SingleImageSnapshot struct {
	State     State            `json:"state"`
	Error     string           `json:"error,omitempty"`
	File      *models.FileItem `json:"file,omitempty"`
	Segments  []models.Segment `json:"segments,omitempty"`
	SessionID string           `json:"session_id,omitempty"`
	CanSubmit bool             `json:"can_submit"`
}

// SingleImage drives the upload-one-image-and-show-segments workflow
type SingleImage struct {
	mu        sync.Mutex
	m         machine
	opts      options
	processor Processor
	logger    *slog.Logger

	source    filesource.Source
	file      *models.FileItem
	segments  []models.Segment
	sessionID string
	sessions  []string
}

// NewSingleImage creates a controller that submits through p
func NewSingleImage(p Processor, opts ...Option) *SingleImage {
	c := &SingleImage{
		m:         newMachine(),
		processor: p,
		logger:    slog.Default().With("workflow", "process"),
	}
	for _, opt := range opts {
		opt(&c.opts)
	}
	return c
}

// Select attaches src as the image to process and builds its preview.
// The workflow state is left unchanged.
func (c *SingleImage) Select(ctx context.Context, src filesource.Source) error {
	item, err := filesource.Inspect(ctx, src)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.m.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.source = src
	c.file = item
	c.mu.Unlock()

	c.logger.Info("Image selected", "name", item.Name, "size", item.Size, "width", item.Width, "height", item.Height)
	c.changed()
	return nil
}

// CanSubmit reports whether the submit control should be enabled
func (c *SingleImage) CanSubmit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source != nil && c.m.canTrigger()
}

// Submit starts processing the selected image. It returns once the request
// is under way; the outcome is observed through Snapshot or Wait.
func (c *SingleImage) Submit() error {
	c.mu.Lock()
	if c.m.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.source == nil {
		c.mu.Unlock()
		return ErrNoFile
	}
	t, err := c.m.begin()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	src := c.source
	c.mu.Unlock()

	c.logger.Info("Submitting image", "name", src.Name())
	c.changed()
	go c.run(t, src)
	return nil
}

func (c *SingleImage) run(t *ticket, src filesource.Source) {
	var result *processing.ProcessResult
	data, err := src.Bytes(t.ctx)
	if err == nil {
		result, err = c.processor.Process(t.ctx, processing.Upload{
			Filename: uploadFilename(src.Name()),
			Data:     data,
		})
	}

	outcome := OutcomeSuccess
	c.mu.Lock()
	switch {
	case !c.m.current(t):
		outcome = OutcomeDiscarded
	case err != nil:
		outcome = OutcomeFailure
		if ferr := c.m.fail(ProcessFailedMessage); ferr != nil {
			c.logger.Error("Unable to record failure", "err", ferr)
		}
	default:
		if serr := c.m.succeed(); serr != nil {
			c.logger.Error("Unable to record success", "err", serr)
		}
		c.segments = sortedSegments(result.Segments)
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
		c.logger.Error("Image processing failed", "err", err, "elapsed", elapsed)
	default:
		c.logger.Info("Image processed", "segments", len(result.Segments), "session_id", result.SessionID, "elapsed", elapsed)
	}
	if c.opts.observer != nil {
		c.opts.observer("process", outcome, elapsed)
	}
	if outcome != OutcomeDiscarded {
		c.changed()
	}
}

// Wait blocks until the submission in flight, if any, has finished
func (c *SingleImage) Wait(ctx context.Context) error {
	c.mu.Lock()
	var done chan struct{}
	if c.m.inflight != nil {
		done = c.m.inflight.done
	}
	c.mu.Unlock()
	return wait(ctx, done)
}

// Snapshot returns the controller's current view
func (c *SingleImage) Snapshot() SingleImageSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := SingleImageSnapshot{
		State:     c.m.state,
		Error:     c.m.message,
		File:      c.file,
		SessionID: c.sessionID,
		CanSubmit: c.source != nil && c.m.canTrigger(),
	}
	if c.m.state == StateSucceeded {
		snap.Segments = append([]models.Segment(nil), c.segments...)
	}
	return snap
}

// RemoteSessions lists every remote session created by this controller
func (c *SingleImage) RemoteSessions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sessions...)
}

// Close tears the controller down. A response still in flight is discarded.
func (c *SingleImage) Close() {
	c.mu.Lock()
	c.m.close()
	c.source = nil
	c.mu.Unlock()
}

func (c *SingleImage) changed() {
	if c.opts.onChange != nil {
		c.opts.onChange()
	}
}

func sortedSegments(in map[string]string) []models.Segment {
	out := make([]models.Segment, 0, len(in))
	for name, img := range in {
		out = append(out, models.Segment{Name: name, Image: img})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// uploadFilename keeps the user's name when the service will accept its extension
func uploadFilename(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg":
		return filepath.Base(name)
	}
	return "image.png"
}
