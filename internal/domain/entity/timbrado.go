package entity

import "time"

// TimbradoWindow representa el timbrado (autorización de numeración) otorgado por la SET.
// El motor solo lo lee para validar número y fecha de emisión; nunca lo modifica.
type TimbradoWindow struct {
	ID            string
	Number        string    // Número de timbrado (8 dígitos)
	IssuerTaxID   string    // RUC del emisor, sin DV
	Establishment string    // Establecimiento (3 dígitos, ej: "001")
	PointOfSale   string    // Punto de expedición (3 dígitos)
	ValidFrom     time.Time // Inicio de vigencia
	ValidUntil    time.Time // Fin de vigencia (inclusive, granularidad día)
	RangeFrom     int64     // Primer número autorizado
	RangeTo       int64     // Último número autorizado
}

// CoversDate indica si la fecha cae dentro de la vigencia (comparación por día calendario).
func (w *TimbradoWindow) CoversDate(t time.Time) bool {
	d := dateOnly(t)
	return !d.Before(dateOnly(w.ValidFrom)) && !d.After(dateOnly(w.ValidUntil))
}

// CoversNumber indica si el número está dentro del rango autorizado.
func (w *TimbradoWindow) CoversNumber(n int64) bool {
	return n >= w.RangeFrom && n <= w.RangeTo
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
