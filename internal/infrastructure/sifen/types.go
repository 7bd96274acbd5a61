// Package sifen implementa la infraestructura del protocolo SIFEN: renderizado del XML v150,
// validación estructural, código QR, transporte SOAP y clasificación de respuestas.
package sifen

import "fmt"

// RenderError un campo cuyo valor calculado viola su restricción de tipo o longitud.
// El renderizado nunca trunca ni rellena por su cuenta.
type RenderError struct {
	Field  string
	Reason string
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("sifen: render %s: %s", e.Field, e.Reason)
}

// QRConfig parámetros del código QR (grupo J).
type QRConfig struct {
	BaseURL string // URL de consulta pública, termina en "?"
	CSCID   string // IdCSC (4 dígitos)
	CSC     string // Código de Seguridad del Contribuyente
}

// BuilderOptions datos del emisor que no forman parte del documento.
type BuilderOptions struct {
	IssuerTaxpayerType string // iTipCont; por defecto persona jurídica
	QR                 QRConfig
}
