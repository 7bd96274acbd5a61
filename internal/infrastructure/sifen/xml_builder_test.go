package sifen_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/sifen-gateway/internal/domain/entity"
	"github.com/jhoicas/sifen-gateway/internal/infrastructure/sifen"
)

func parse(t *testing.T, payload []byte) *etree.Element {
	t.Helper()
	x := etree.NewDocument()
	require.NoError(t, x.ReadFromBytes(payload))
	require.NotNil(t, x.Root())
	return x.Root()
}

func childTags(el *etree.Element) []string {
	var out []string
	for _, c := range el.ChildElements() {
		out = append(out, c.Tag)
	}
	return out
}

func TestRender_FacturaEstructuraYOrden(t *testing.T) {
	doc := testDocument(t, entity.DocumentTypeInvoice)
	root := parse(t, renderDocument(t, doc))

	assert.Equal(t, "rDE", root.Tag)
	assert.Equal(t, "http://ekuatia.set.gov.py/sifen/xsd", root.SelectAttrValue("xmlns", ""))
	de := root.SelectElement("DE")
	require.NotNil(t, de)
	assert.Equal(t, doc.Identifier, de.SelectAttrValue("Id", ""))
	assert.Equal(t,
		[]string{"dDVId", "dSisFact", "gOpeDE", "gTimb", "gDatGralOpe", "gDtipDE", "gTotSub"},
		childTags(de))
	assert.Equal(t,
		[]string{"iTiDE", "dDesTiDE", "dNumTim", "dEst", "dPunExp", "dNumDoc", "dFeIniT"},
		childTags(de.SelectElement("gTimb")))
	assert.Equal(t, []string{"gCamFE", "gCamCond", "gCamItem"}, childTags(de.SelectElement("gDtipDE")))

	assert.Equal(t, "1", de.FindElement("gTimb/iTiDE").Text())
	assert.Equal(t, "2026-10-15T10:30:00", de.FindElement("gDatGralOpe/dFeEmiDE").Text())
	assert.Equal(t, "2026-01-01", de.FindElement("gTimb/dFeIniT").Text())
	assert.Equal(t, "1", de.FindElement("gDatGralOpe/gEmis/dDVEmi").Text())
	assert.Equal(t, "0", de.FindElement("gDatGralOpe/gDatRec/dDVRec").Text())
	assert.Equal(t, "2", de.FindElement("dDVId").Text())
}

func TestRender_TotalesRecalculadosYSinCerosSobrantes(t *testing.T) {
	doc := testDocument(t, entity.DocumentTypeInvoice)
	doc.Totals = entity.Totals{GrandTotal: decimal.NewFromInt(1)} // se ignora
	doc.LineItems = append(doc.LineItems, entity.LineItem{
		Code: "P-002", Description: "Azúcar", Quantity: decimal.RequireFromString("1.5"), UnitPrice: decimal.NewFromInt(7000), TaxRate: 5,
	})
	root := parse(t, renderDocument(t, doc))

	assert.Equal(t, "50000", root.FindElement("DE/gTotSub/dSub10").Text())
	assert.Equal(t, "10500", root.FindElement("DE/gTotSub/dSub5").Text())
	assert.Equal(t, "525", root.FindElement("DE/gTotSub/dIVA5").Text())
	assert.Equal(t, "5000", root.FindElement("DE/gTotSub/dIVA10").Text())
	assert.Equal(t, "66025", root.FindElement("DE/gTotSub/dTotGralOpe").Text())
	assert.Equal(t, "1.5", root.FindElement("DE/gDtipDE/gCamItem[2]/dCantProSer").Text())
	assert.True(t, decimal.NewFromInt(66025).Equal(doc.Totals.GrandTotal))
}

func TestRender_Idempotente(t *testing.T) {
	doc := testDocument(t, entity.DocumentTypeInvoice)
	first := renderDocument(t, doc)
	second := renderDocument(t, doc)
	assert.Equal(t, first, second)
	assert.Equal(t, second, doc.RenderedPayload)
}

func TestRender_NotaDeCreditoConDocumentoAsociado(t *testing.T) {
	doc := testDocument(t, entity.DocumentTypeCreditNote)
	root := parse(t, renderDocument(t, doc))

	assert.NotNil(t, root.FindElement("DE/gDtipDE/gCamNCDE"))
	assert.Nil(t, root.FindElement("DE/gDtipDE/gCamCond"))
	assert.Equal(t, doc.AssociatedCDC, root.FindElement("DE/gCamDEAsoc/dCdCDERef").Text())
}

func TestRender_NotaDeRemisionSinValores(t *testing.T) {
	doc := testDocument(t, entity.DocumentTypeWaybill)
	root := parse(t, renderDocument(t, doc))

	assert.NotNil(t, root.FindElement("DE/gDtipDE/gCamNRE"))
	assert.Nil(t, root.FindElement("DE/gTotSub"))
	assert.Nil(t, root.FindElement("DE/gDtipDE/gCamItem/gValorItem"))
	assert.Nil(t, root.FindElement("DE/gDtipDE/gCamItem/gCamIVA"))
}

func TestRender_ConsumidorFinalInnominado(t *testing.T) {
	doc := testDocument(t, entity.DocumentTypeInvoice)
	doc.Receiver = nil
	root := parse(t, renderDocument(t, doc))

	rec := root.FindElement("DE/gDatGralOpe/gDatRec")
	require.NotNil(t, rec)
	assert.Equal(t, "2", rec.SelectElement("iNatRec").Text())
	assert.Equal(t, "0", rec.SelectElement("dNumIDRec").Text())
	assert.Equal(t, "Sin Nombre", rec.SelectElement("dNomRec").Text())
	assert.Nil(t, rec.SelectElement("dRucRec"))
}

func TestRender_Errores(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(d *entity.Document)
		field  string
	}{
		{"sin CDC", func(d *entity.Document) { d.Identifier = "" }, "DE@Id"},
		{"sin ítems", func(d *entity.Document) { d.LineItems = nil }, "gCamItem"},
		{"cantidad con demasiados decimales", func(d *entity.Document) {
			d.LineItems[0].Quantity = decimal.RequireFromString("1.12345")
		}, "dCantProSer"},
		{"descripción demasiado larga", func(d *entity.Document) {
			d.LineItems[0].Description = strings.Repeat("x", 121)
		}, "dDesProSer"},
		{"nombre del emisor vacío", func(d *entity.Document) { d.IssuerName = "" }, "dNomEmi"},
		{"descripción con UTF-8 inválido", func(d *entity.Document) {
			d.LineItems[0].Description = "Caf\xe9 molido"
		}, "dDesProSer"},
		{"documento asociado en factura", func(d *entity.Document) {
			d.AssociatedCDC = "80069563010010010000001120261015101234567892"
		}, "gCamDEAsoc"},
		{"timbrado de 7 dígitos", func(d *entity.Document) { d.Timbrado.Number = "1234567" }, "dNumTim"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := testDocument(t, entity.DocumentTypeInvoice)
			tc.mutate(doc)
			_, err := newBuilder().Render(doc)
			var renderErr *sifen.RenderError
			require.True(t, errors.As(err, &renderErr), "se esperaba RenderError, se obtuvo %v", err)
			assert.Equal(t, tc.field, renderErr.Field)
			assert.Nil(t, doc.RenderedPayload, "no debe quedar payload parcial")
		})
	}
}

func TestRender_NotaDeCreditoSinAsociadoFalla(t *testing.T) {
	doc := testDocument(t, entity.DocumentTypeCreditNote)
	doc.AssociatedCDC = ""
	_, err := newBuilder().Render(doc)
	var renderErr *sifen.RenderError
	require.True(t, errors.As(err, &renderErr))
	assert.Equal(t, "dCdCDERef", renderErr.Field)
}
