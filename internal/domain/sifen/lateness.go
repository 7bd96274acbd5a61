package sifen

import "time"

// LatenessPolicy ventana máxima de atraso entre la emisión y la aprobación.
// MaxLateness == 0 desactiva el control.
type LatenessPolicy struct {
	MaxLateness     time.Duration
	ExcludeWeekends bool
	Holidays        []time.Time // solo se usa la fecha
}

// Age antigüedad del documento a now, descontando fines de semana y feriados si corresponde.
func (p LatenessPolicy) Age(issued, now time.Time) time.Duration {
	if !now.After(issued) {
		return 0
	}
	age := now.Sub(issued)
	if !p.ExcludeWeekends && len(p.Holidays) == 0 {
		return age
	}
	loc := issued.Location()
	y, m, d := issued.Date()
	for day := time.Date(y, m, d, 0, 0, 0, 0, loc); day.Before(now); day = day.AddDate(0, 0, 1) {
		if !p.excluded(day) {
			continue
		}
		start, end := day, day.AddDate(0, 0, 1)
		if start.Before(issued) {
			start = issued
		}
		if end.After(now) {
			end = now
		}
		if end.After(start) {
			age -= end.Sub(start)
		}
	}
	return age
}

// IsLate indica si el documento superó la ventana máxima de atraso.
func (p LatenessPolicy) IsLate(issued, now time.Time) bool {
	if p.MaxLateness <= 0 {
		return false
	}
	return p.Age(issued, now) > p.MaxLateness
}

func (p LatenessPolicy) excluded(day time.Time) bool {
	if p.ExcludeWeekends {
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			return true
		}
	}
	y, m, d := day.Date()
	for _, h := range p.Holidays {
		hy, hm, hd := h.Date()
		if hy == y && hm == m && hd == d {
			return true
		}
	}
	return false
}
