package sifen

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/beevik/etree"

	"github.com/jhoicas/sifen-gateway/internal/domain/entity"
	pkgsifen "github.com/jhoicas/sifen-gateway/pkg/sifen"
)

// QRData campos del documento que viajan en el QR.
type QRData struct {
	Identifier  string
	IssueDate   string // dFeEmiDE tal como se renderizó
	ReceiverRUC string
	ReceiverID  string
	GrandTotal  string
	TotalIVA    string
	ItemCount   int
	DigestValue string
}

// BuildQRURL arma la URL del QR: parámetros en orden fijo, fecha y digest en hexadecimal y
// cHashQR = SHA-256(parámetros + CSC).
func BuildQRURL(cfg QRConfig, d QRData) string {
	var sb strings.Builder
	sb.WriteString("nVersion=" + pkgsifen.GrammarVersion)
	sb.WriteString("&Id=" + d.Identifier)
	sb.WriteString("&dFeEmiDE=" + hex.EncodeToString([]byte(d.IssueDate)))
	if d.ReceiverRUC != "" {
		sb.WriteString("&dRucRec=" + d.ReceiverRUC)
	} else {
		sb.WriteString("&dNumIDRec=" + d.ReceiverID)
	}
	sb.WriteString("&dTotGralOpe=" + d.GrandTotal)
	sb.WriteString("&dTotIVA=" + d.TotalIVA)
	sb.WriteString("&cItems=" + strconv.Itoa(d.ItemCount))
	sb.WriteString("&DigestValue=" + hex.EncodeToString([]byte(d.DigestValue)))
	sb.WriteString("&IdCSC=" + cfg.CSCID)
	params := sb.String()

	sum := sha256.Sum256([]byte(params + cfg.CSC))
	return cfg.BaseURL + params + "&cHashQR=" + hex.EncodeToString(sum[:])
}

// AttachPostSignature agrega el grupo J (gCamFuFD/dCarQR) al XML ya firmado y guarda el
// resultado en doc.RenderedPayload. Si el grupo ya existe se reemplaza.
func (s *XMLBuilderService) AttachPostSignature(doc *entity.Document, signed []byte) ([]byte, error) {
	x := etree.NewDocument()
	if err := x.ReadFromBytes(signed); err != nil {
		return nil, &RenderError{Field: "rDE", Reason: "XML firmado ilegible: " + err.Error()}
	}
	root := x.Root()
	if root == nil || root.Tag != "rDE" {
		return nil, &RenderError{Field: "rDE", Reason: "falta el elemento raíz rDE"}
	}
	digest := root.FindElement("Signature/SignedInfo/Reference/DigestValue")
	if digest == nil {
		return nil, &RenderError{Field: "DigestValue", Reason: "el XML no está firmado"}
	}
	issueDate := root.FindElement("DE/gDatGralOpe/dFeEmiDE")
	if issueDate == nil {
		return nil, &RenderError{Field: "dFeEmiDE", Reason: "falta la fecha de emisión"}
	}

	data := QRData{
		Identifier:  doc.Identifier,
		IssueDate:   issueDate.Text(),
		GrandTotal:  doc.Totals.GrandTotal.String(),
		TotalIVA:    doc.Totals.TotalIVA.String(),
		ItemCount:   len(doc.LineItems),
		DigestValue: strings.TrimSpace(digest.Text()),
	}
	switch {
	case doc.Receiver.IsTaxpayer():
		data.ReceiverRUC = doc.Receiver.TaxID
	case doc.Receiver != nil && doc.Receiver.IDNumber != "":
		data.ReceiverID = doc.Receiver.IDNumber
	default:
		data.ReceiverID = pkgsifen.AnonymousReceiverID
	}
	qr := BuildQRURL(s.opts.QR, data)
	if rule, ok := LookupField("dCarQR"); ok {
		if kind, reason := rule.Check(qr); kind != "" {
			return nil, &RenderError{Field: "dCarQR", Reason: string(kind) + ": " + reason}
		}
	}

	if old := root.SelectElement("gCamFuFD"); old != nil {
		root.RemoveChild(old)
	}
	root.CreateElement("gCamFuFD").CreateElement("dCarQR").SetText(qr)

	out, err := x.WriteToBytes()
	if err != nil {
		return nil, &RenderError{Field: "rDE", Reason: err.Error()}
	}
	doc.RenderedPayload = out
	return out, nil
}
