package service

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/anime-shed/retina-inspector-go/internal/analysis"
	"github.com/anime-shed/retina-inspector-go/internal/consent"
	"github.com/anime-shed/retina-inspector-go/internal/content"
	apperrors "github.com/anime-shed/retina-inspector-go/internal/errors"
	"github.com/anime-shed/retina-inspector-go/internal/observer"
	"github.com/anime-shed/retina-inspector-go/internal/presenter"
	"github.com/anime-shed/retina-inspector-go/internal/session"
	"github.com/anime-shed/retina-inspector-go/pkg/models"
	"github.com/anime-shed/retina-inspector-go/pkg/validation"
)

// WorkflowService drives one visitor's path through consent, image
// selection, analysis and result display, plus the admin page editor.
type WorkflowService interface {
	// Sessions
	CreateSession(ctx context.Context) (*SessionView, error)
	GetSession(ctx context.Context, id string) (*SessionView, error)
	DeleteSession(ctx context.Context, id string) error

	// Consent gate
	RequestPicker(ctx context.Context, id string) (*models.GateActionResponse, error)
	ChooseConsent(ctx context.Context, id, choice string) (*SessionView, error)
	ConfirmConsent(ctx context.Context, id string) (*models.GateActionResponse, error)
	DismissConsent(ctx context.Context, id string) (*SessionView, error)

	// Analysis
	SelectImage(ctx context.Context, id string, candidate *models.UploadCandidate) (*AnalysisView, error)
	RejectOversizedImage(ctx context.Context, id string) error
	StartAnalysis(ctx context.Context, id string) (*AnalysisView, error)
	SubmitAnalysis(ctx context.Context, id string) (*AnalysisView, error)
	GetAnalysis(ctx context.Context, id string) (*AnalysisView, error)
	ResetAnalysis(ctx context.Context, id string) (*AnalysisView, error)
	WriteReport(ctx context.Context, id string, w io.Writer) error

	// Admin
	Login(ctx context.Context, id string, credentials models.LoginRequest) (*SessionView, error)
	Logout(ctx context.Context, id string) (*SessionView, error)
	GetPage(ctx context.Context, slug string) models.PageContent
	UpdatePage(ctx context.Context, id, slug string, page *models.PageContent) (*models.PageContent, error)

	SweepExpired(ctx context.Context) int
	Close()
}

// Authenticator exchanges admin credentials for a bearer token.
type Authenticator interface {
	Login(ctx context.Context, credentials models.LoginRequest) (*models.LoginResponse, error)
}

// Dependencies groups the collaborators of the workflow service.
type Dependencies struct {
	Store     session.Store
	Predictor analysis.Predictor
	Auth      Authenticator
	Pages     *content.Loader
	Validator *validation.ImageValidator
	Events    observer.Subject
	Options   analysis.Options
	Logger    *logrus.Logger
}

// sessionEntry is the instance-local state of a session: its controller and
// the lock serializing read-modify-write cycles on the stored record.
type sessionEntry struct {
	mu         sync.Mutex
	controller *analysis.Controller
}

type workflowService struct {
	deps Dependencies

	// base outlives individual HTTP requests so asynchronous analyses keep
	// running after the submitting request returns.
	base   context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[string]*sessionEntry
}

// NewWorkflowService creates a new workflow service
func NewWorkflowService(deps Dependencies) WorkflowService {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Validator == nil {
		deps.Validator = validation.NewImageValidator()
	}
	base, cancel := context.WithCancel(context.Background())
	return &workflowService{
		deps:    deps,
		base:    base,
		cancel:  cancel,
		entries: make(map[string]*sessionEntry),
	}
}

func (s *workflowService) CreateSession(ctx context.Context) (*SessionView, error) {
	sess := session.New()
	if err := s.deps.Store.Save(ctx, sess); err != nil {
		return nil, storeError(err)
	}
	entry := s.entry(sess.ID())

	s.deps.Logger.WithField("session_id", sess.ID()).Info("Session created")
	return newSessionView(sess, entry.controller.Snapshot()), nil
}

func (s *workflowService) GetSession(ctx context.Context, id string) (*SessionView, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return newSessionView(sess, s.entry(id).controller.Snapshot()), nil
}

// DeleteSession forgets the session and cancels its in-flight analysis.
func (s *workflowService) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.load(ctx, id); err != nil {
		return err
	}
	if err := s.deps.Store.Delete(ctx, id); err != nil {
		return storeError(err)
	}
	s.drop(id)

	s.deps.Logger.WithField("session_id", id).Info("Session deleted")
	return nil
}

func (s *workflowService) RequestPicker(ctx context.Context, id string) (*models.GateActionResponse, error) {
	var resp *models.GateActionResponse
	err := s.update(ctx, id, func(sess *session.Session) error {
		action := sess.Gate().RequestPicker()
		resp = gateResponse(action, sess)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *workflowService) ChooseConsent(ctx context.Context, id, choice string) (*SessionView, error) {
	parsed, err := consent.ParseChoice(choice)
	if err != nil {
		return nil, consentError(err)
	}

	var view *SessionView
	err = s.update(ctx, id, func(sess *session.Session) error {
		if err := sess.Gate().Choose(parsed); err != nil {
			return consentError(err)
		}
		view = newSessionView(sess, s.entry(id).controller.Snapshot())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *workflowService) ConfirmConsent(ctx context.Context, id string) (*models.GateActionResponse, error) {
	var resp *models.GateActionResponse
	err := s.update(ctx, id, func(sess *session.Session) error {
		action, err := sess.Gate().Confirm()
		if err != nil {
			return consentError(err)
		}
		resp = gateResponse(action, sess)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.deps.Logger.WithFields(logrus.Fields{
		"session_id": id,
		"consent":    resp.Consent,
	}).Info("Consent decided")
	return resp, nil
}

func (s *workflowService) DismissConsent(ctx context.Context, id string) (*SessionView, error) {
	var view *SessionView
	err := s.update(ctx, id, func(sess *session.Session) error {
		sess.Gate().Dismiss()
		view = newSessionView(sess, s.entry(id).controller.Snapshot())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

// SelectImage validates candidate and makes it the session's selection. A
// candidate that fails validation leaves the previous selection in place
// and surfaces the message on the analysis state.
func (s *workflowService) SelectImage(ctx context.Context, id string, candidate *models.UploadCandidate) (*AnalysisView, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sess.Gate().CanOpenPicker() {
		return nil, apperrors.NewConsentError(MsgConsentRequired, nil)
	}

	ctrl := s.entry(id).controller
	if candidate == nil {
		ctrl.RecordError(models.MsgNoFileSelected)
		return nil, apperrors.NewValidationError(models.MsgNoFileSelected, nil)
	}
	if err := s.deps.Validator.Validate(candidate); err != nil {
		if appErr, ok := apperrors.AsAppError(err); ok {
			ctrl.RecordError(appErr.Message)
		}
		s.deps.Logger.WithFields(logrus.Fields{
			"session_id": id,
			"filename":   candidate.Filename,
			"size":       candidate.Size,
		}).Debug("Rejected image candidate")
		return nil, err
	}

	candidate.PreviewURL = validation.PreviewDataURL(candidate)
	if err := ctrl.Select(candidate); err != nil {
		return nil, controllerError(err)
	}
	return newAnalysisView(ctrl.Snapshot()), nil
}

// RejectOversizedImage records an upload that was cut off before it could be
// read because it exceeded the request size limit. The analysis state shows
// the same message a validator rejection would.
func (s *workflowService) RejectOversizedImage(ctx context.Context, id string) error {
	sess, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !sess.Gate().CanOpenPicker() {
		return apperrors.NewConsentError(MsgConsentRequired, nil)
	}

	message := s.deps.Validator.TooLargeMessage()
	s.entry(id).controller.RecordError(message)
	return apperrors.NewValidationError(message, nil)
}

// StartAnalysis submits the selection and returns once the request is in
// flight. Progress is observable through GetAnalysis and the event stream.
func (s *workflowService) StartAnalysis(ctx context.Context, id string) (*AnalysisView, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	snap, err := s.entry(id).controller.Start(s.base, sess.AuthToken())
	if err := controllerError(err); err != nil {
		return nil, err
	}
	return newAnalysisView(snap), nil
}

// SubmitAnalysis submits the selection and waits for the terminal state. A
// failed prediction is reported in the returned view, not as an error.
func (s *workflowService) SubmitAnalysis(ctx context.Context, id string) (*AnalysisView, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	snap, err := s.entry(id).controller.Submit(ctx, sess.AuthToken())
	if err := controllerError(err); err != nil {
		return nil, err
	}
	return newAnalysisView(snap), nil
}

func (s *workflowService) GetAnalysis(ctx context.Context, id string) (*AnalysisView, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	return newAnalysisView(s.entry(id).controller.Snapshot()), nil
}

func (s *workflowService) ResetAnalysis(ctx context.Context, id string) (*AnalysisView, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	ctrl := s.entry(id).controller
	ctrl.Reset()
	return newAnalysisView(ctrl.Snapshot()), nil
}

// WriteReport renders the succeeded analysis as Markdown.
func (s *workflowService) WriteReport(ctx context.Context, id string, w io.Writer) error {
	view, err := s.GetAnalysis(ctx, id)
	if err != nil {
		return err
	}
	if view.Presentation == nil {
		return apperrors.NewConflictError(MsgNoResults, nil)
	}
	if err := presenter.WriteMarkdownReport(w, *view.Presentation); err != nil {
		return apperrors.NewInternalError("failed to render report", err)
	}
	return nil
}

// Login authenticates against the backend and keeps the token in the
// session for later page updates and predictions.
func (s *workflowService) Login(ctx context.Context, id string, credentials models.LoginRequest) (*SessionView, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}

	resp, err := s.deps.Auth.Login(ctx, credentials)
	if err != nil {
		s.deps.Logger.WithFields(logrus.Fields{
			"session_id": id,
			"username":   credentials.Username,
		}).Warn("Login rejected")
		return nil, err
	}

	var view *SessionView
	err = s.update(ctx, id, func(sess *session.Session) error {
		user := resp.User
		sess.SetAuth(resp.AccessToken, &user)
		view = newSessionView(sess, s.entry(id).controller.Snapshot())
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.deps.Logger.WithFields(logrus.Fields{
		"session_id": id,
		"username":   resp.User.Username,
	}).Info("Admin logged in")
	return view, nil
}

func (s *workflowService) Logout(ctx context.Context, id string) (*SessionView, error) {
	var view *SessionView
	err := s.update(ctx, id, func(sess *session.Session) error {
		sess.ClearAuth()
		view = newSessionView(sess, s.entry(id).controller.Snapshot())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}

func (s *workflowService) GetPage(ctx context.Context, slug string) models.PageContent {
	return s.deps.Pages.Load(ctx, slug)
}

func (s *workflowService) UpdatePage(ctx context.Context, id, slug string, page *models.PageContent) (*models.PageContent, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.AuthToken() == "" {
		return nil, apperrors.NewUnauthorizedError(MsgLoginRequired, nil)
	}
	return s.deps.Pages.Update(ctx, sess.AuthToken(), slug, page)
}

// SweepExpired closes the controllers of sessions the store no longer has
// and returns how many were dropped.
func (s *workflowService) SweepExpired(ctx context.Context) int {
	if sweeper, ok := s.deps.Store.(interface{ Sweep() []string }); ok {
		sweeper.Sweep()
	}

	s.mu.Lock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	dropped := 0
	for _, id := range ids {
		ok, err := s.deps.Store.Exists(ctx, id)
		if err != nil {
			s.deps.Logger.WithError(err).WithField("session_id", id).Warn("Session lookup failed during sweep")
			continue
		}
		if !ok {
			s.drop(id)
			dropped++
		}
	}
	if dropped > 0 {
		s.deps.Logger.WithField("count", dropped).Info("Expired sessions swept")
	}
	return dropped
}

// RunJanitor sweeps expired sessions every interval until ctx is done.
func RunJanitor(ctx context.Context, svc WorkflowService, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			svc.SweepExpired(ctx)
		}
	}
}

// Close cancels every running analysis.
func (s *workflowService) Close() {
	s.cancel()

	s.mu.Lock()
	entries := s.entries
	s.entries = make(map[string]*sessionEntry)
	s.mu.Unlock()

	for _, e := range entries {
		e.controller.Close()
	}
}

// load reads the session. Reads renew the store TTL, so any activity keeps
// the session alive.
func (s *workflowService) load(ctx context.Context, id string) (*session.Session, error) {
	sess, err := s.deps.Store.Get(ctx, id)
	if err != nil {
		return nil, storeError(err)
	}
	return sess, nil
}

// update applies fn to the stored session and saves the result. Updates of
// one session are serialized within this instance.
func (s *workflowService) update(ctx context.Context, id string, fn func(*session.Session) error) error {
	if _, err := s.load(ctx, id); err != nil {
		return err
	}
	entry := s.entry(id)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	sess, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(sess); err != nil {
		return err
	}
	sess.Touch()
	if err := s.deps.Store.Save(ctx, sess); err != nil {
		return storeError(err)
	}
	return nil
}

// entry returns the instance-local state for id, creating it on first use.
func (s *workflowService) entry(id string) *sessionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		e = &sessionEntry{
			controller: analysis.NewController(id, s.deps.Predictor, s.deps.Events, s.deps.Options),
		}
		s.entries[id] = e
	}
	return e
}

func (s *workflowService) drop(id string) {
	s.mu.Lock()
	e, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()

	if ok {
		e.controller.Close()
	}
}
