// Package consent implements the gate that must be passed before a user can
// pick an image for analysis.
//
// A fresh gate is not decided. Asking for the file picker opens the consent
// dialog; the user picks accept or reject and confirms. Accepting opens the
// picker and is remembered for the rest of the session, so later requests go
// straight to the picker. Rejecting sends the user home and is final.
package consent

import "errors"

// Consent is the persisted decision.
type Consent string

const (
	NotDecided Consent = "not_decided"
	Accepted   Consent = "accepted"
	Rejected   Consent = "rejected"
)

// Choice is the transient selection inside the dialog.
type Choice string

const (
	ChoiceNone   Choice = "none"
	ChoiceAccept Choice = "accept"
	ChoiceReject Choice = "reject"
)

// Action tells the caller what to do next.
type Action string

const (
	ActionShowDialog Action = "show_dialog"
	ActionOpenPicker Action = "open_picker"
	ActionRedirect   Action = "redirect"
)

// HomePath is where a rejected user is sent.
const HomePath = "/"

var (
	ErrNoChoice       = errors.New("consent: no choice selected")
	ErrInvalidChoice  = errors.New("consent: invalid choice")
	ErrDialogClosed   = errors.New("consent: dialog is not open")
	ErrAlreadyDecided = errors.New("consent: already decided")
)

// Gate is the consent state machine. The zero value is not usable; use New.
// Gate is not safe for concurrent use; callers serialize access per session.
type Gate struct {
	Consent    Consent `json:"consent"`
	DialogOpen bool    `json:"dialog_open"`
	Choice     Choice  `json:"choice"`
}

func New() Gate {
	return Gate{Consent: NotDecided, Choice: ChoiceNone}
}

// ParseChoice converts user input into a Choice.
func ParseChoice(s string) (Choice, error) {
	switch Choice(s) {
	case ChoiceAccept, ChoiceReject:
		return Choice(s), nil
	default:
		return ChoiceNone, ErrInvalidChoice
	}
}

// RequestPicker handles a request to open the file picker.
func (g *Gate) RequestPicker() Action {
	g.normalize()
	switch g.Consent {
	case Accepted:
		return ActionOpenPicker
	case Rejected:
		return ActionRedirect
	default:
		g.DialogOpen = true
		g.Choice = ChoiceNone
		return ActionShowDialog
	}
}

// Choose records the dialog selection. It can be changed until confirmed.
func (g *Gate) Choose(c Choice) error {
	g.normalize()
	if g.Consent != NotDecided {
		return ErrAlreadyDecided
	}
	if !g.DialogOpen {
		return ErrDialogClosed
	}
	if c != ChoiceAccept && c != ChoiceReject {
		return ErrInvalidChoice
	}
	g.Choice = c
	return nil
}

// CanConfirm reports whether the confirm control is enabled.
func (g *Gate) CanConfirm() bool {
	return g.Consent == NotDecided && g.DialogOpen && (g.Choice == ChoiceAccept || g.Choice == ChoiceReject)
}

// Confirm applies the current choice and closes the dialog.
func (g *Gate) Confirm() (Action, error) {
	g.normalize()
	if g.Consent != NotDecided {
		return "", ErrAlreadyDecided
	}
	if !g.DialogOpen {
		return "", ErrDialogClosed
	}

	switch g.Choice {
	case ChoiceAccept:
		g.Consent = Accepted
		g.DialogOpen = false
		g.Choice = ChoiceNone
		return ActionOpenPicker, nil
	case ChoiceReject:
		g.Consent = Rejected
		g.DialogOpen = false
		g.Choice = ChoiceNone
		return ActionRedirect, nil
	default:
		return "", ErrNoChoice
	}
}

// Dismiss closes the dialog without deciding.
func (g *Gate) Dismiss() {
	g.DialogOpen = false
	g.Choice = ChoiceNone
}

// CanOpenPicker reports whether image selection is permitted.
func (g *Gate) CanOpenPicker() bool {
	return g.Consent == Accepted
}

// normalize repairs zero values decoded from older session records.
func (g *Gate) normalize() {
	if g.Consent == "" {
		g.Consent = NotDecided
	}
	if g.Choice == "" {
		g.Choice = ChoiceNone
	}
}
