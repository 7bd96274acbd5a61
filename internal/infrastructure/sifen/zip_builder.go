package sifen

import (
	"archive/zip"
	"bytes"
	"fmt"
)

// CompressXMLToZip empaqueta un XML en un ZIP en memoria con una única entrada.
func CompressXMLToZip(xmlBytes []byte, xmlFilename string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	fw, err := zw.Create(xmlFilename)
	if err != nil {
		return nil, fmt.Errorf("zip: crear entrada %s: %w", xmlFilename, err)
	}
	if _, err := fw.Write(xmlBytes); err != nil {
		return nil, fmt.Errorf("zip: escribir XML: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: cerrar archivo: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildBatch arma el rLoteDE con los rDE firmados y lo comprime. La SET exige el lote
// como un único XML dentro del ZIP.
func BuildBatch(documents [][]byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`<rLoteDE>`)
	for _, d := range documents {
		buf.Write(stripXMLDeclaration(d))
	}
	buf.WriteString(`</rLoteDE>`)
	return CompressXMLToZip(buf.Bytes(), "lote.xml")
}

// stripXMLDeclaration quita la declaración <?xml ...?> inicial, si existe.
func stripXMLDeclaration(b []byte) []byte {
	t := bytes.TrimSpace(b)
	if bytes.HasPrefix(t, []byte("<?xml")) {
		if end := bytes.Index(t, []byte("?>")); end >= 0 {
			return bytes.TrimSpace(t[end+2:])
		}
	}
	return t
}
