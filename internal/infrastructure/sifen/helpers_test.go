package sifen_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/sifen-gateway/internal/domain/entity"
	domainsifen "github.com/jhoicas/sifen-gateway/internal/domain/sifen"
	"github.com/jhoicas/sifen-gateway/internal/infrastructure/sifen"
)

var testQR = sifen.QRConfig{
	BaseURL: "https://ekuatia.set.gov.py/consultas-test/qr?",
	CSCID:   "0001",
	CSC:     "ABCD0000000000000000000000000000",
}

func newBuilder() *sifen.XMLBuilderService {
	return sifen.NewXMLBuilderService(sifen.BuilderOptions{QR: testQR})
}

func testWindow() *entity.TimbradoWindow {
	return &entity.TimbradoWindow{
		Number:        "12345678",
		IssuerTaxID:   "80069563",
		Establishment: "001",
		PointOfSale:   "001",
		ValidFrom:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidUntil:    time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		RangeFrom:     1,
		RangeTo:       9999999,
	}
}

// testDocument documento listo para renderizar (con CDC y timbrado asignados).
func testDocument(t *testing.T, typ entity.DocumentType) *entity.Document {
	t.Helper()
	doc := &entity.Document{
		ID:             "doc-1",
		Type:           typ,
		IssueTimestamp: time.Date(2026, 10, 15, 10, 30, 0, 0, time.UTC),
		IssuerTaxID:    "80069563",
		IssuerName:     "Comercial Asunción SA",
		Receiver:       &entity.Receiver{TaxID: "80012345", Name: "Cliente Ejemplo SRL"},
		Sequence:       entity.SequenceNumber{Establishment: "001", PointOfSale: "001", Number: "0000001"},
		EmissionType:   entity.EmissionNormal,
		Currency:       "PYG",
		SecurityCode:   "123456789",
		LineItems: []entity.LineItem{
			{Code: "P-001", Description: "Café molido 500g", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(25000), TaxRate: 10},
		},
	}
	switch typ {
	case entity.DocumentTypeCreditNote, entity.DocumentTypeDebitNote:
		doc.Reason = 2
		doc.AssociatedCDC = "80069563010010010000001120261015101234567892"
	case entity.DocumentTypeWaybill:
		doc.Reason = 1
	}
	w := testWindow()
	cdc, err := domainsifen.NewCDCService().Derive(doc, w)
	require.NoError(t, err)
	doc.Identifier = cdc
	doc.Timbrado = entity.TimbradoRef{Number: w.Number, ValidFrom: w.ValidFrom}
	return doc
}

func renderDocument(t *testing.T, doc *entity.Document) []byte {
	t.Helper()
	payload, err := newBuilder().Render(doc)
	require.NoError(t, err)
	return payload
}
