package sifen_test

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/sifen-gateway/internal/domain/entity"
	"github.com/jhoicas/sifen-gateway/internal/domain/sifen"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "%s: esperado %s, obtenido %s", field, want, got.String())
}

func TestComputeTotals_TasasMixtas(t *testing.T) {
	items := []entity.LineItem{
		{Code: "A1", Description: "Servicio", Quantity: dec("2"), UnitPrice: dec("1000"), TaxRate: 10},
		{Code: "B1", Description: "Canasta", Quantity: dec("1"), UnitPrice: dec("500"), TaxRate: 5},
		{Code: "C1", Description: "Libro", Quantity: dec("3"), UnitPrice: dec("100"), TaxRate: 0},
	}
	tot, err := sifen.ComputeTotals(items)
	require.NoError(t, err)

	assertDecimal(t, "300", tot.Exempt, "dSubExe")
	assertDecimal(t, "500", tot.Taxed5, "dSub5")
	assertDecimal(t, "2000", tot.Taxed10, "dSub10")
	assertDecimal(t, "2800", tot.Operation, "dTotOpe")
	assertDecimal(t, "25", tot.IVA5, "dIVA5")
	assertDecimal(t, "200", tot.IVA10, "dIVA10")
	assertDecimal(t, "225", tot.TotalIVA, "dTotIVA")
	assertDecimal(t, "3025", tot.GrandTotal, "dTotGralOpe")
}

func TestComputeTotals_RedondeoCuatroDecimales(t *testing.T) {
	items := []entity.LineItem{
		{Code: "X", Description: "Granel", Quantity: dec("0.333"), UnitPrice: dec("10.01"), TaxRate: 10},
	}
	tot, err := sifen.ComputeTotals(items)
	require.NoError(t, err)
	// 0.333 × 10.01 = 3.33333 → 3.3333; IVA 0.33333 → 0.3333
	assertDecimal(t, "3.3333", tot.Taxed10, "dSub10")
	assertDecimal(t, "0.3333", tot.IVA10, "dIVA10")
	assertDecimal(t, "3.6666", tot.GrandTotal, "dTotGralOpe")
}

func TestComputeTotals_ItemsInvalidos(t *testing.T) {
	_, err := sifen.ComputeTotals(nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, sifen.ErrInvalidLineItems))

	_, err = sifen.ComputeTotals([]entity.LineItem{
		{Code: "A", Quantity: dec("0"), UnitPrice: dec("1"), TaxRate: 10},
		{Code: "B", Quantity: dec("1"), UnitPrice: dec("-1"), TaxRate: 10},
		{Code: "C", Quantity: dec("1"), UnitPrice: dec("1"), TaxRate: 7},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sifen.ErrInvalidLineItems))
	assert.Contains(t, err.Error(), "ítem 1")
	assert.Contains(t, err.Error(), "ítem 2")
	assert.Contains(t, err.Error(), "ítem 3")
}
