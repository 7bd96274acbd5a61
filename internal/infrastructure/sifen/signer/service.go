// Firma XMLDSig enveloped del DE (RSA-SHA256, C14N) para documentos SIFEN.
// La ds:Signature se inserta como hermano siguiente de <DE> dentro de <rDE>.

package signer

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/ucarion/c14n"

	pkgsifen "github.com/jhoicas/sifen-gateway/pkg/sifen"
)

// Config política de validación del certificado.
type Config struct {
	Roots          *x509.CertPool      // nil: no se verifica la cadena
	RevokedSerials map[string]struct{} // claves de SerialKey
	Now            func() time.Time
}

// DigitalSignatureService valida el certificado y firma el DE.
type DigitalSignatureService struct {
	cfg Config
}

// NewDigitalSignatureService crea el servicio.
func NewDigitalSignatureService(cfg Config) *DigitalSignatureService {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &DigitalSignatureService{cfg: cfg}
}

// Sign implementa pkg/sifen.Signer.
func (s *DigitalSignatureService) Sign(xmlBytes []byte, cert tls.Certificate) ([]byte, error) {
	priv, leaf, err := s.CheckCertificate(cert)
	if err != nil {
		return nil, err
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, fmt.Errorf("firma: parsear XML: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "rDE" {
		return nil, errors.New("firma: falta el elemento raíz rDE")
	}
	de := root.SelectElement(SignedElement)
	if de == nil {
		return nil, errors.New("firma: falta el elemento DE")
	}
	id := de.SelectAttrValue("Id", "")
	if id == "" {
		return nil, errors.New("firma: el DE no tiene Id")
	}
	if old := root.SelectElement("Signature"); old != nil {
		root.RemoveChild(old)
	}

	// 1) Digest del DE canonicalizado.
	canonicalDE, err := CanonicalizeElement(de)
	if err != nil {
		return nil, fmt.Errorf("firma: canonicalizar DE: %w", err)
	}
	digest := sha256.Sum256(canonicalDE)

	// 2) SignedInfo canonicalizado y firmado.
	sig := etree.NewElement("Signature")
	sig.CreateAttr("xmlns", NamespaceDS)
	signedInfo := buildSignedInfo(sig, "#"+id, base64.StdEncoding.EncodeToString(digest[:]))
	canonicalSI, err := CanonicalizeElement(signedInfo)
	if err != nil {
		return nil, fmt.Errorf("firma: canonicalizar SignedInfo: %w", err)
	}
	hash := sha256.Sum256(canonicalSI)
	value, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, hash[:])
	if err != nil {
		return nil, fmt.Errorf("firma: firmar SignedInfo: %w", err)
	}

	// 3) SignatureValue + KeyInfo.
	sig.CreateElement("SignatureValue").SetText(base64.StdEncoding.EncodeToString(value))
	sig.CreateElement("KeyInfo").CreateElement("X509Data").
		CreateElement("X509Certificate").SetText(base64.StdEncoding.EncodeToString(leaf.Raw))

	root.InsertChildAt(de.Index()+1, sig)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("firma: serializar: %w", err)
	}
	return out, nil
}

// CheckCertificate valida el material de firma: llave RSA, vigencia, revocación y cadena,
// en ese orden. Devuelve *pkgsifen.SigningError ante cualquier fallo.
func (s *DigitalSignatureService) CheckCertificate(cert tls.Certificate) (*rsa.PrivateKey, *x509.Certificate, error) {
	if len(cert.Certificate) == 0 {
		return nil, nil, &pkgsifen.SigningError{Kind: pkgsifen.SigningInvalidMaterial, Subject: "certificado",
			Cause: errors.New("no hay certificado cargado")}
	}
	priv, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, nil, &pkgsifen.SigningError{Kind: pkgsifen.SigningInvalidMaterial, Subject: "llave",
			Cause: errors.New("se requiere llave privada RSA")}
	}
	leaf := cert.Leaf
	if leaf == nil {
		var err error
		if leaf, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
			return nil, nil, &pkgsifen.SigningError{Kind: pkgsifen.SigningInvalidMaterial, Subject: "certificado", Cause: err}
		}
	}
	subject := leaf.Subject.String()

	now := s.cfg.Now()
	switch {
	case now.Before(leaf.NotBefore):
		return nil, nil, &pkgsifen.SigningError{Kind: pkgsifen.SigningNotYetValid, Subject: subject,
			Cause: fmt.Errorf("vigente desde %s", leaf.NotBefore.Format(time.RFC3339))}
	case now.After(leaf.NotAfter):
		return nil, nil, &pkgsifen.SigningError{Kind: pkgsifen.SigningExpired, Subject: subject,
			Cause: fmt.Errorf("venció el %s", leaf.NotAfter.Format(time.RFC3339))}
	}
	if _, revoked := s.cfg.RevokedSerials[SerialKey(leaf.SerialNumber)]; revoked {
		return nil, nil, &pkgsifen.SigningError{Kind: pkgsifen.SigningRevoked, Subject: subject,
			Cause: fmt.Errorf("serial %s revocado", SerialKey(leaf.SerialNumber))}
	}
	if s.cfg.Roots != nil {
		inter := x509.NewCertPool()
		for _, raw := range cert.Certificate[1:] {
			if c, err := x509.ParseCertificate(raw); err == nil {
				inter.AddCert(c)
			}
		}
		_, err := leaf.Verify(x509.VerifyOptions{
			Roots:         s.cfg.Roots,
			Intermediates: inter,
			CurrentTime:   now,
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
		})
		if err != nil {
			return nil, nil, &pkgsifen.SigningError{Kind: pkgsifen.SigningChainInvalid, Subject: subject, Cause: err}
		}
	}
	return priv, leaf, nil
}

func buildSignedInfo(sig *etree.Element, uri, digestB64 string) *etree.Element {
	si := sig.CreateElement("SignedInfo")
	si.CreateElement("CanonicalizationMethod").CreateAttr("Algorithm", AlgC14N)
	si.CreateElement("SignatureMethod").CreateAttr("Algorithm", AlgRSASHA256)
	ref := si.CreateElement("Reference")
	ref.CreateAttr("URI", uri)
	transforms := ref.CreateElement("Transforms")
	transforms.CreateElement("Transform").CreateAttr("Algorithm", TransformEnveloped)
	transforms.CreateElement("Transform").CreateAttr("Algorithm", AlgC14N)
	ref.CreateElement("DigestMethod").CreateAttr("Algorithm", AlgSHA256)
	ref.CreateElement("DigestValue").SetText(digestB64)
	return si
}

// CanonicalizeElement C14N inclusivo del subárbol, con las declaraciones de namespace
// heredadas de los ancestros copiadas en el elemento.
func CanonicalizeElement(el *etree.Element) ([]byte, error) {
	cp := el.Copy()
	declared := map[string]bool{}
	for _, a := range cp.Attr {
		if isNamespaceDecl(a) {
			declared[a.FullKey()] = true
		}
	}
	for p := el.Parent(); p != nil; p = p.Parent() {
		for _, a := range p.Attr {
			if isNamespaceDecl(a) && !declared[a.FullKey()] {
				cp.CreateAttr(a.FullKey(), a.Value)
				declared[a.FullKey()] = true
			}
		}
	}
	d := etree.NewDocument()
	d.SetRoot(cp)
	raw, err := d.WriteToBytes()
	if err != nil {
		return nil, err
	}
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.Entity = map[string]string{}
	return c14n.Canonicalize(dec)
}

func isNamespaceDecl(a etree.Attr) bool {
	return a.Space == "xmlns" || (a.Space == "" && a.Key == "xmlns")
}

var _ pkgsifen.Signer = (*DigitalSignatureService)(nil)
