package signer

// Namespace y algoritmos XMLDSig usados por la SET (firma enveloped, RSA-SHA256, C14N).
const (
	NamespaceDS        = "http://www.w3.org/2000/09/xmldsig#"
	AlgC14N            = "http://www.w3.org/TR/2001/REC-xml-c14n-20010315"
	AlgRSASHA256       = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgSHA256          = "http://www.w3.org/2001/04/xmlenc#sha256"
	TransformEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
)

// SignedElement elemento firmado: la Reference apunta a su atributo Id (el CDC).
const SignedElement = "DE"
