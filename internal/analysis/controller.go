package analysis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lucsky/cuid"

	apperrors "github.com/anime-shed/retina-inspector-go/internal/errors"
	"github.com/anime-shed/retina-inspector-go/internal/observer"
	"github.com/anime-shed/retina-inspector-go/pkg/models"
)

// Status is the lifecycle stage of a session's analysis request.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusUploading Status = "uploading"
	StatusAnalyzing Status = "analyzing"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// InFlight reports whether the status belongs to an unfinished request.
func (s Status) InFlight() bool {
	return s == StatusUploading || s == StatusAnalyzing
}

var (
	ErrBusy   = errors.New("analysis: a request is already in flight")
	ErrClosed = errors.New("analysis: controller closed")
	// ErrSuperseded is returned to a waiter whose request was reset before it finished.
	ErrSuperseded = errors.New("analysis: request superseded by reset")
)

// Predictor sends one image to the classification backend.
type Predictor interface {
	Predict(ctx context.Context, token string, candidate *models.UploadCandidate, onUploaded func()) (*models.PredictResponse, error)
}

// CandidateInfo describes the selected image without its content.
type CandidateInfo struct {
	Filename   string `json:"filename"`
	MediaType  string `json:"media_type"`
	Size       int64  `json:"size"`
	PreviewURL string `json:"preview_url,omitempty"`
}

// Snapshot is a point-in-time copy of the controller state.
type Snapshot struct {
	RequestID  string                  `json:"request_id,omitempty"`
	Status     Status                  `json:"status"`
	Progress   int                     `json:"progress"`
	Error      string                  `json:"error,omitempty"`
	Candidate  *CandidateInfo          `json:"candidate,omitempty"`
	Result     *models.PredictResponse `json:"result,omitempty"`
	StartedAt  *time.Time              `json:"started_at,omitempty"`
	FinishedAt *time.Time              `json:"finished_at,omitempty"`
}

// flight is one in-progress request.
type flight struct {
	gen     uint64
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	driver  *progressDriver
	done    chan struct{}
	started time.Time
}

// Controller runs at most one analysis request at a time for a session and
// drives its simulated progress. It is safe for concurrent use.
type Controller struct {
	sessionID string
	predictor Predictor
	events    observer.Subject
	opts      Options

	mu         sync.Mutex
	pubMu      sync.Mutex
	generation uint64
	current    *flight
	closed     bool

	candidate  *models.UploadCandidate
	status     Status
	progress   int
	errMsg     string
	result     *models.PredictResponse
	requestID  string
	startedAt  time.Time
	finishedAt time.Time
}

// NewController creates a controller for one session. events may be nil.
func NewController(sessionID string, predictor Predictor, events observer.Subject, opts Options) *Controller {
	return &Controller{
		sessionID: sessionID,
		predictor: predictor,
		events:    events,
		opts:      opts.normalized(),
		status:    StatusIdle,
	}
}

// Select stores a validated candidate, clearing any previous outcome.
func (c *Controller) Select(candidate *models.UploadCandidate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.current != nil {
		return ErrBusy
	}
	c.candidate = candidate
	c.clearOutcomeLocked()
	return nil
}

// RecordError surfaces a message without changing the selection, as when a
// newly picked file fails validation.
func (c *Controller) RecordError(message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		c.errMsg = message
	}
}

// Start begins a request for the selected candidate and returns as soon as
// it is in flight. The request runs until it finishes, is reset, or parent
// is cancelled.
func (c *Controller) Start(parent context.Context, token string) (Snapshot, error) {
	fl, candidate, snap, err := c.begin(parent)
	if err != nil {
		return snap, err
	}
	go c.run(fl, token, candidate)
	return snap, nil
}

// Submit runs a request to completion and returns the terminal snapshot.
func (c *Controller) Submit(ctx context.Context, token string) (Snapshot, error) {
	fl, candidate, snap, err := c.begin(ctx)
	if err != nil {
		return snap, err
	}
	return c.run(fl, token, candidate)
}

// Wait blocks until the current request, if any, terminates.
func (c *Controller) Wait(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	fl := c.current
	c.mu.Unlock()

	if fl != nil {
		select {
		case <-fl.done:
		case <-ctx.Done():
			return c.Snapshot(), ctx.Err()
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if fl != nil && c.generation != fl.gen {
		return c.snapshotLocked(), ErrSuperseded
	}
	return c.snapshotLocked(), nil
}

// Reset cancels any in-flight request and returns to idle with nothing
// selected. A response that arrives afterwards is discarded. Calling Reset
// repeatedly has the same effect as calling it once.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.generation++
	fl := c.current
	c.current = nil
	c.candidate = nil
	c.clearOutcomeLocked()
	c.emitAndUnlock(c.eventLocked(observer.AnalysisReset))

	if fl != nil {
		fl.cancel()
		fl.driver.Stop()
	}
}

// Close cancels any in-flight request and rejects further use.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.generation++
	fl := c.current
	c.current = nil
	c.candidate = nil
	c.mu.Unlock()

	if fl != nil {
		fl.cancel()
		fl.driver.Stop()
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) begin(parent context.Context) (*flight, *models.UploadCandidate, Snapshot, error) {
	c.mu.Lock()

	if c.closed {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return nil, nil, snap, ErrClosed
	}
	if c.current != nil {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return nil, nil, snap, ErrBusy
	}
	if c.candidate == nil {
		c.errMsg = models.MsgNoFileSelected
		snap := c.snapshotLocked()
		c.emitAndUnlock(c.eventLocked(observer.AnalysisFailed))
		return nil, nil, snap, apperrors.NewValidationError(models.MsgNoFileSelected, nil)
	}

	c.generation++
	ctx, cancel := context.WithTimeout(parent, c.opts.RequestTimeout)
	fl := &flight{
		gen:     c.generation,
		id:      cuid.New(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		started: time.Now(),
	}
	c.current = fl

	c.result = nil
	c.errMsg = ""
	c.status = StatusUploading
	c.progress = c.opts.ProgressStart
	c.requestID = fl.id
	c.startedAt = fl.started
	c.finishedAt = time.Time{}

	gen := fl.gen
	fl.driver = startProgress(c.opts.ProgressInterval, func() { c.tick(gen) })

	candidate := c.candidate
	snap := c.snapshotLocked()
	c.emitAndUnlock(c.eventLocked(observer.AnalysisStarted))
	return fl, candidate, snap, nil
}

// run performs the single predict call for fl. The progress driver is
// stopped on every path before the terminal state is written.
func (c *Controller) run(fl *flight, token string, candidate *models.UploadCandidate) (Snapshot, error) {
	defer close(fl.done)
	defer fl.cancel()

	resp, err := c.predictor.Predict(fl.ctx, token, candidate, func() { c.markUploaded(fl.gen) })

	fl.driver.Stop()
	return c.finish(fl, resp, err)
}

func (c *Controller) finish(fl *flight, resp *models.PredictResponse, err error) (Snapshot, error) {
	c.mu.Lock()

	if c.generation != fl.gen {
		snap := c.snapshotLocked()
		event := c.eventLocked(observer.ResponseDiscarded)
		event.RequestID = fl.id
		event.Metadata = map[string]interface{}{"cancelled": errors.Is(err, context.Canceled)}
		c.emitAndUnlock(event)
		return snap, ErrSuperseded
	}

	c.current = nil
	c.finishedAt = time.Now()

	var eventType observer.EventType
	var outErr error
	if err != nil {
		c.status = StatusFailed
		c.errMsg = userMessage(err)
		eventType = observer.AnalysisFailed
		outErr = err
	} else {
		c.status = StatusSucceeded
		c.progress = 100
		c.result = resp
		eventType = observer.AnalysisSucceeded
	}

	snap := c.snapshotLocked()
	event := c.eventLocked(eventType)
	event.Duration = c.finishedAt.Sub(fl.started)
	c.emitAndUnlock(event)
	return snap, outErr
}

func (c *Controller) tick(gen uint64) {
	c.mu.Lock()
	if c.generation != gen || !c.status.InFlight() {
		c.mu.Unlock()
		return
	}
	next := c.progress + c.opts.ProgressStep
	if next > c.opts.ProgressCap {
		next = c.opts.ProgressCap
	}
	if next == c.progress {
		c.mu.Unlock()
		return
	}
	c.progress = next
	c.emitAndUnlock(c.eventLocked(observer.AnalysisProgress))
}

func (c *Controller) markUploaded(gen uint64) {
	c.mu.Lock()
	if c.generation != gen || c.status != StatusUploading {
		c.mu.Unlock()
		return
	}
	c.status = StatusAnalyzing
	c.emitAndUnlock(c.eventLocked(observer.ImageUploaded))
}

func (c *Controller) clearOutcomeLocked() {
	c.status = StatusIdle
	c.progress = 0
	c.errMsg = ""
	c.result = nil
	c.requestID = ""
	c.startedAt = time.Time{}
	c.finishedAt = time.Time{}
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		RequestID: c.requestID,
		Status:    c.status,
		Progress:  c.progress,
		Error:     c.errMsg,
		Result:    c.result,
	}
	if c.candidate != nil {
		snap.Candidate = &CandidateInfo{
			Filename:   c.candidate.Filename,
			MediaType:  c.candidate.MediaType,
			Size:       c.candidate.Size,
			PreviewURL: c.candidate.PreviewURL,
		}
	}
	if !c.startedAt.IsZero() {
		t := c.startedAt
		snap.StartedAt = &t
	}
	if !c.finishedAt.IsZero() {
		t := c.finishedAt
		snap.FinishedAt = &t
	}
	return snap
}

func (c *Controller) eventLocked(eventType observer.EventType) observer.AnalysisEvent {
	return observer.AnalysisEvent{
		EventType:    eventType,
		Timestamp:    time.Now(),
		SessionID:    c.sessionID,
		RequestID:    c.requestID,
		Status:       string(c.status),
		Progress:     c.progress,
		ErrorMessage: c.errMsg,
	}
}

// emitAndUnlock publishes event and releases c.mu. Events are delivered in
// the order their state changes happened. Must be called with c.mu held, and
// c.pubMu must never be held while waiting on the progress driver.
func (c *Controller) emitAndUnlock(event observer.AnalysisEvent) {
	c.pubMu.Lock()
	c.mu.Unlock()
	defer c.pubMu.Unlock()

	if c.events != nil {
		c.events.NotifyObservers(context.Background(), event)
	}
}

// userMessage picks the text shown to the user for a failed request.
func userMessage(err error) string {
	if appErr, ok := apperrors.AsAppError(err); ok && appErr.Type != apperrors.ErrorTypeInternal && appErr.Message != "" {
		return appErr.Message
	}
	return models.MsgAnalysisFailed
}
