package service

import (
	"errors"

	"github.com/anime-shed/retina-inspector-go/internal/analysis"
	"github.com/anime-shed/retina-inspector-go/internal/consent"
	apperrors "github.com/anime-shed/retina-inspector-go/internal/errors"
	"github.com/anime-shed/retina-inspector-go/internal/session"
)

const (
	MsgSessionNotFound  = "Sesion no encontrada"
	MsgConsentRequired  = "Debes aceptar el consentimiento antes de subir una imagen"
	MsgConsentDecided   = "El consentimiento ya fue registrado"
	MsgDialogClosed     = "El dialogo de consentimiento no esta abierto"
	MsgInvalidChoice    = "Opcion de consentimiento invalida"
	MsgNoChoice         = "Selecciona una opcion antes de confirmar"
	MsgAnalysisBusy     = "Ya hay un analisis en curso"
	MsgAnalysisReset    = "El analisis fue reiniciado"
	MsgNoResults        = "No hay resultados de analisis disponibles"
	MsgLoginRequired    = "Se requiere iniciar sesion"
	MsgSessionStoreDown = "No se pudo acceder a la sesion"
)

// consentError converts a gate failure into the AppError clients receive.
func consentError(err error) error {
	switch {
	case errors.Is(err, consent.ErrAlreadyDecided):
		return apperrors.NewConflictError(MsgConsentDecided, err)
	case errors.Is(err, consent.ErrDialogClosed):
		return apperrors.NewConflictError(MsgDialogClosed, err)
	case errors.Is(err, consent.ErrInvalidChoice):
		return apperrors.NewValidationError(MsgInvalidChoice, err)
	case errors.Is(err, consent.ErrNoChoice):
		return apperrors.NewValidationError(MsgNoChoice, err)
	default:
		return apperrors.NewInternalError("consent transition failed", err)
	}
}

// controllerError converts controller sentinels. Predict failures are
// already reflected in the snapshot and are not errors for the caller.
func controllerError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, analysis.ErrBusy):
		return apperrors.NewConflictError(MsgAnalysisBusy, err)
	case errors.Is(err, analysis.ErrSuperseded):
		return apperrors.NewConflictError(MsgAnalysisReset, err)
	case errors.Is(err, analysis.ErrClosed):
		return apperrors.NewNotFoundError(MsgSessionNotFound, err)
	case apperrors.IsType(err, apperrors.ErrorTypeValidation):
		return err
	default:
		return nil
	}
}

func storeError(err error) error {
	if errors.Is(err, session.ErrNotFound) {
		return apperrors.NewNotFoundError(MsgSessionNotFound, err)
	}
	if _, ok := apperrors.AsAppError(err); ok {
		return err
	}
	return apperrors.NewInternalError(MsgSessionStoreDown, err)
}
