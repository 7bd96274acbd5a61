package sifen

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/sifen-gateway/internal/domain/entity"
	pkgsifen "github.com/jhoicas/sifen-gateway/pkg/sifen"
)

// AmountDecimals decimales con los que se redondean montos calculados.
const AmountDecimals = 4

// ErrInvalidLineItems agrupa errores de ítems.
var ErrInvalidLineItems = errors.New("ítems inválidos")

var hundred = decimal.NewFromInt(100)

// LineBase monto del ítem sin IVA (cantidad × precio unitario).
func LineBase(item entity.LineItem) decimal.Decimal {
	return item.Quantity.Mul(item.UnitPrice).Round(AmountDecimals)
}

// LineTax IVA liquidado del ítem.
func LineTax(item entity.LineItem) decimal.Decimal {
	return LineBase(item).Mul(decimal.NewFromInt(int64(item.TaxRate))).Div(hundred).Round(AmountDecimals)
}

// ComputeTotals recalcula el grupo F desde los ítems. Los totales nunca se toman de la entrada.
func ComputeTotals(items []entity.LineItem) (entity.Totals, error) {
	if len(items) == 0 {
		return entity.Totals{}, fmt.Errorf("%w: el documento debe tener al menos un ítem", ErrInvalidLineItems)
	}
	var errs []error
	t := entity.Totals{
		Exempt: decimal.Zero, Taxed5: decimal.Zero, Taxed10: decimal.Zero,
		IVA5: decimal.Zero, IVA10: decimal.Zero,
	}
	for i, it := range items {
		if !it.Quantity.IsPositive() {
			errs = append(errs, fmt.Errorf("ítem %d: cantidad debe ser mayor a cero", i+1))
			continue
		}
		if it.UnitPrice.IsNegative() {
			errs = append(errs, fmt.Errorf("ítem %d: precio unitario negativo", i+1))
			continue
		}
		if !pkgsifen.ValidTaxRates[it.TaxRate] {
			errs = append(errs, fmt.Errorf("ítem %d: tasa de IVA %d no admitida", i+1, it.TaxRate))
			continue
		}
		base := LineBase(it)
		tax := LineTax(it)
		switch it.TaxRate {
		case 0:
			t.Exempt = t.Exempt.Add(base)
		case 5:
			t.Taxed5 = t.Taxed5.Add(base)
			t.IVA5 = t.IVA5.Add(tax)
		case 10:
			t.Taxed10 = t.Taxed10.Add(base)
			t.IVA10 = t.IVA10.Add(tax)
		}
	}
	if len(errs) > 0 {
		return entity.Totals{}, errors.Join(append([]error{ErrInvalidLineItems}, errs...)...)
	}
	t.Operation = t.Exempt.Add(t.Taxed5).Add(t.Taxed10)
	t.TotalIVA = t.IVA5.Add(t.IVA10)
	t.GrandTotal = t.Operation.Add(t.TotalIVA)
	return t, nil
}
