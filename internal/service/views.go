package service

import (
	"time"

	"github.com/anime-shed/retina-inspector-go/internal/analysis"
	"github.com/anime-shed/retina-inspector-go/internal/consent"
	"github.com/anime-shed/retina-inspector-go/internal/presenter"
	"github.com/anime-shed/retina-inspector-go/internal/session"
	"github.com/anime-shed/retina-inspector-go/pkg/models"
)

// AnalysisView is the controller snapshot plus the rendered result, if any.
type AnalysisView struct {
	analysis.Snapshot
	Presentation *presenter.View `json:"presentation,omitempty"`
}

// SessionView is what clients see of a session. The bearer token never
// leaves the gateway.
type SessionView struct {
	ID            string          `json:"id"`
	Consent       consent.Consent `json:"consent"`
	DialogOpen    bool            `json:"dialog_open"`
	Choice        consent.Choice  `json:"choice"`
	CanConfirm    bool            `json:"can_confirm"`
	CanOpenPicker bool            `json:"can_open_picker"`
	LoggedIn      bool            `json:"logged_in"`
	User          *models.User    `json:"user,omitempty"`
	Analysis      AnalysisView    `json:"analysis"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func newAnalysisView(snap analysis.Snapshot) *AnalysisView {
	view := &AnalysisView{Snapshot: snap}
	if snap.Status == analysis.StatusSucceeded && snap.Result != nil {
		presented := presenter.Present(snap.Result)
		view.Presentation = &presented
	}
	return view
}

func newSessionView(s *session.Session, snap analysis.Snapshot) *SessionView {
	gate := s.Gate()
	return &SessionView{
		ID:            s.ID(),
		Consent:       s.Consent(),
		DialogOpen:    gate.DialogOpen,
		Choice:        gate.Choice,
		CanConfirm:    gate.CanConfirm(),
		CanOpenPicker: gate.CanOpenPicker(),
		LoggedIn:      s.AuthToken() != "",
		User:          s.User(),
		Analysis:      *newAnalysisView(snap),
		CreatedAt:     s.CreatedAt(),
		UpdatedAt:     s.UpdatedAt(),
	}
}

func gateResponse(action consent.Action, s *session.Session) *models.GateActionResponse {
	resp := &models.GateActionResponse{
		Action:  string(action),
		Consent: string(s.Consent()),
	}
	if action == consent.ActionRedirect {
		resp.Redirect = consent.HomePath
	}
	return resp
}
