package models

// User facing messages shown by the workflow.
const (
	MsgNoFileSelected = "Por favor selecciona una imagen primero"
	MsgAnalysisFailed = "Error al analizar la imagen. Por favor intenta de nuevo."
	MsgUnknownError   = "Error desconocido"
)
