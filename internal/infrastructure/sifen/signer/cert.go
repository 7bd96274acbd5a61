// Carga del material de firma: certificado + llave (.p12 o PEM), raíces de confianza y
// lista de seriales revocados.

package signer

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"strings"

	"golang.org/x/crypto/pkcs12"
)

// LoadFromP12 carga certificado y llave privada desde un archivo .p12/.pfx.
// El password puede ser vacío si el archivo no está protegido.
func LoadFromP12(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("leer p12: %w", err)
	}
	priv, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decodificar p12: %w", err)
	}
	// pkcs12.Decode solo devuelve el certificado hoja; las intermedias van en las raíces.
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  priv,
		Leaf:        cert,
	}, nil
}

// LoadFromPEM carga certificado y llave desde archivos PEM (por separado o combinados).
func LoadFromPEM(certPath, keyPath string) (tls.Certificate, error) {
	if certPath == "" {
		return tls.Certificate{}, fmt.Errorf("cargar PEM: falta la ruta del certificado")
	}
	if keyPath == "" {
		keyPath = certPath
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("cargar PEM: %w", err)
	}
	return cert, nil
}

// LoadRoots lee un bundle PEM de CAs de confianza. Ruta vacía: nil (sin verificación de cadena).
func LoadRoots(path string) (*x509.CertPool, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("leer raíces: %w", err)
	}
	pool := x509.NewCertPool()
	n := 0
	for rest := data; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parsear raíz: %w", err)
		}
		pool.AddCert(c)
		n++
	}
	if n == 0 {
		return nil, fmt.Errorf("raíces: %s no contiene certificados", path)
	}
	return pool, nil
}

// ParseRevocationList lee seriales revocados en hexadecimal, uno por línea.
// Se ignoran líneas vacías y comentarios (#).
func ParseRevocationList(data []byte) (map[string]struct{}, error) {
	out := map[string]struct{}{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		s = strings.ReplaceAll(strings.TrimPrefix(strings.ToLower(s), "0x"), ":", "")
		n, ok := new(big.Int).SetString(s, 16)
		if !ok {
			return nil, fmt.Errorf("revocados: línea %d: serial inválido %q", line, s)
		}
		out[SerialKey(n)] = struct{}{}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("revocados: %w", err)
	}
	return out, nil
}

// LoadRevocationList lee la lista de un archivo. Ruta vacía: lista vacía.
func LoadRevocationList(path string) (map[string]struct{}, error) {
	if path == "" {
		return map[string]struct{}{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("leer revocados: %w", err)
	}
	return ParseRevocationList(data)
}

// SerialKey forma normalizada (hex en minúsculas, sin ceros a la izquierda) de un serial.
func SerialKey(n *big.Int) string {
	return n.Text(16)
}
