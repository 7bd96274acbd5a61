package sifen

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var securityCodeSpace = big.NewInt(1_000_000_000)

// NewSecurityCode genera el código de seguridad (dCodSeg) de 9 dígitos.
// Se genera una sola vez al crear el documento.
func NewSecurityCode() (string, error) {
	n, err := rand.Int(rand.Reader, securityCodeSpace)
	if err != nil {
		return "", fmt.Errorf("cdc: generar código de seguridad: %w", err)
	}
	return fmt.Sprintf("%09d", n.Int64()), nil
}
