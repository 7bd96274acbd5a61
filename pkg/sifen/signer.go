package sifen

import (
	"crypto/tls"
	"fmt"
)

// Signer firma el XML canónico del documento y devuelve el XML con ds:Signature
// como hermano siguiente de <DE>. Errores de certificado se informan como *SigningError.
type Signer interface {
	Sign(canonical []byte, cert tls.Certificate) ([]byte, error)
}

// SigningErrorKind causa de un fallo de firma.
type SigningErrorKind string

const (
	SigningExpired         SigningErrorKind = "CERT_EXPIRED"
	SigningRevoked         SigningErrorKind = "CERT_REVOKED"
	SigningNotYetValid     SigningErrorKind = "CERT_NOT_YET_VALID"
	SigningChainInvalid    SigningErrorKind = "CHAIN_INVALID"
	SigningInvalidMaterial SigningErrorKind = "INVALID_MATERIAL"
)

// SigningError error de firma. Es terminal para el intento de envío: no se reintenta.
type SigningError struct {
	Kind    SigningErrorKind
	Subject string
	Cause   error
}

func (e *SigningError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("sifen: firma [%s] %s: %v", e.Kind, e.Subject, e.Cause)
	}
	return fmt.Sprintf("sifen: firma [%s] %s", e.Kind, e.Subject)
}

func (e *SigningError) Unwrap() error { return e.Cause }
