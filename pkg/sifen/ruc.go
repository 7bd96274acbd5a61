package sifen

import (
	"fmt"
	"unicode"
)

// rucMaxWeight peso máximo del módulo 11 del RUC (los pesos van de 2 a 11 desde la derecha).
const rucMaxWeight = 11

// ComputeRUCCheckDigit calcula el dígito verificador de un RUC paraguayo (sin DV).
// Acepta el RUC con o sin separadores; solo se consideran los dígitos.
func ComputeRUCCheckDigit(ruc string) (byte, error) {
	digits := extractDigits(ruc)
	if len(digits) == 0 {
		return 0, fmt.Errorf("sifen: RUC sin dígitos")
	}
	if len(digits) > 8 {
		return 0, fmt.Errorf("sifen: RUC de %d dígitos, máximo 8", len(digits))
	}
	remainder := weightedSum(digits, rucMaxWeight) % 11
	if remainder <= 1 {
		return '0', nil
	}
	return byte('0' + (11 - remainder)), nil
}

// ValidateRUC valida un RUC con DV en formato "80069563-1".
func ValidateRUC(rucWithDV string) error {
	base, dv, err := SplitRUC(rucWithDV)
	if err != nil {
		return err
	}
	expected, err := ComputeRUCCheckDigit(base)
	if err != nil {
		return err
	}
	if dv != expected {
		return fmt.Errorf("sifen: DV del RUC inválido: esperado %c, recibido %c", expected, dv)
	}
	return nil
}

// SplitRUC separa "80069563-1" en base y DV. No valida el DV.
func SplitRUC(rucWithDV string) (base string, dv byte, err error) {
	digits := extractDigits(rucWithDV)
	if len(digits) < 2 {
		return "", 0, fmt.Errorf("sifen: RUC con DV debe tener al menos 2 dígitos")
	}
	return string(digits[:len(digits)-1]), digits[len(digits)-1], nil
}

// weightedSum suma ponderada desde el dígito más a la derecha con pesos 2..maxWeight cíclicos.
func weightedSum(digits []byte, maxWeight int) int {
	var sum int
	w := 2
	for i := len(digits) - 1; i >= 0; i-- {
		sum += int(digits[i]-'0') * w
		w++
		if w > maxWeight {
			w = 2
		}
	}
	return sum
}

func extractDigits(s string) []byte {
	var out []byte
	for _, r := range s {
		if unicode.IsDigit(r) {
			out = append(out, byte(r))
		}
	}
	return out
}
