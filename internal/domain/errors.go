package domain

import "errors"

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound           = errors.New("recurso no encontrado")
	ErrInvalidInput       = errors.New("entrada inválida")
	ErrDuplicate          = errors.New("recurso duplicado")
	ErrUnauthorized       = errors.New("no autorizado")
	ErrForbidden          = errors.New("acceso denegado")
	ErrConflict           = errors.New("conflicto con el estado actual")
	ErrInvalidTransition  = errors.New("transición de estado no permitida")
	ErrTerminalDocument   = errors.New("el documento está en un estado terminal")
	ErrSubmissionInFlight = errors.New("ya existe un envío en curso para este CDC")
	ErrBatchTooLarge      = errors.New("el lote supera la cantidad máxima de documentos")
	ErrLateDocument       = errors.New("el documento superó la ventana máxima de atraso")
	ErrUnresolvedOutcome  = errors.New("respuesta de la SET no clasificable: el documento queda en revisión")
)
