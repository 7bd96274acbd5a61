package sifen

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	pkgsifen "github.com/jhoicas/sifen-gateway/pkg/sifen"
)

// FieldKind tipo de dato de un nodo de la gramática.
type FieldKind int

const (
	KindGroup    FieldKind = iota
	KindAlpha              // texto, longitud en caracteres
	KindNumeric            // solo dígitos, longitud exacta o rango
	KindDecimal            // dígitos enteros + decimales, punto como separador
	KindDate               // AAAA-MM-DD
	KindDateTime           // AAAA-MM-DDThh:mm:ss
	KindOpaque             // contenido no validado (ds:Signature)
)

// RuleKind tipo de regla violada, legible por máquina.
type RuleKind string

const (
	RuleMissingRequired   RuleKind = "missingRequired"
	RuleLengthOutOfRange  RuleKind = "lengthOutOfRange"
	RulePatternMismatch   RuleKind = "patternMismatch"
	RuleConditionalGroup  RuleKind = "conditionalGroupViolation"
	RuleChoiceGroup       RuleKind = "choiceGroupViolation"
	RuleUnexpectedElement RuleKind = "unexpectedElement"
	RuleMalformedDocument RuleKind = "malformedDocument"
)

// Node nodo de la gramática: un grupo (con hijos ordenados) o un campo.
// Para KindDecimal, Max es la cantidad máxima de dígitos enteros y Decimals la de decimales.
type Node struct {
	Name      string
	Kind      FieldKind
	Min, Max  int
	Decimals  int
	MinOccurs int
	MaxOccurs int
	Enum      []string
	Children  []*Node
}

// Check verifica un valor simple contra las restricciones del campo.
// Devuelve la regla violada y el motivo, o "" si el valor es válido.
func (n *Node) Check(value string) (RuleKind, string) {
	switch n.Kind {
	case KindAlpha:
		if !utf8.ValidString(value) {
			return RulePatternMismatch, "texto con bytes UTF-8 inválidos"
		}
		l := utf8.RuneCountInString(value)
		if l < n.Min || l > n.Max {
			return RuleLengthOutOfRange, fmt.Sprintf("longitud %d fuera de [%d, %d]", l, n.Min, n.Max)
		}
	case KindNumeric:
		if !onlyDigits(value) {
			return RulePatternMismatch, fmt.Sprintf("%q no es numérico", value)
		}
		if len(value) < n.Min || len(value) > n.Max {
			return RuleLengthOutOfRange, fmt.Sprintf("longitud %d fuera de [%d, %d]", len(value), n.Min, n.Max)
		}
	case KindDecimal:
		intPart, decPart, hasPoint := strings.Cut(strings.TrimPrefix(value, "-"), ".")
		if !onlyDigits(intPart) || (hasPoint && !onlyDigits(decPart)) {
			return RulePatternMismatch, fmt.Sprintf("%q no es un decimal válido", value)
		}
		if len(intPart) > n.Max {
			return RuleLengthOutOfRange, fmt.Sprintf("%d dígitos enteros, máximo %d", len(intPart), n.Max)
		}
		if len(decPart) > n.Decimals {
			return RuleLengthOutOfRange, fmt.Sprintf("%d decimales, máximo %d", len(decPart), n.Decimals)
		}
	case KindDate:
		if _, err := time.Parse("2006-01-02", value); err != nil {
			return RulePatternMismatch, fmt.Sprintf("%q no tiene formato AAAA-MM-DD", value)
		}
	case KindDateTime:
		if _, err := time.Parse("2006-01-02T15:04:05", value); err != nil {
			return RulePatternMismatch, fmt.Sprintf("%q no tiene formato AAAA-MM-DDThh:mm:ss", value)
		}
	}
	if len(n.Enum) > 0 && !contains(n.Enum, value) {
		return RulePatternMismatch, fmt.Sprintf("%q no está entre los valores admitidos %v", value, n.Enum)
	}
	return "", ""
}

// Grammar devuelve la raíz de la gramática v150 (rDE).
func Grammar() *Node { return grammarV150 }

// LookupField busca un nodo por nombre. Los nombres de la gramática son únicos.
func LookupField(name string) (*Node, bool) {
	n, ok := grammarIndex[name]
	return n, ok
}

// ── Constructores ─────────────────────────────────────────────────────────────

func group(name string, minOcc, maxOcc int, children ...*Node) *Node {
	return &Node{Name: name, Kind: KindGroup, MinOccurs: minOcc, MaxOccurs: maxOcc, Children: children}
}

func alpha(name string, min, max int) *Node {
	return &Node{Name: name, Kind: KindAlpha, Min: min, Max: max, MinOccurs: 1, MaxOccurs: 1}
}

func num(name string, min, max int, enum ...string) *Node {
	return &Node{Name: name, Kind: KindNumeric, Min: min, Max: max, MinOccurs: 1, MaxOccurs: 1, Enum: enum}
}

func dec(name string, intDigits, decimals int) *Node {
	return &Node{Name: name, Kind: KindDecimal, Max: intDigits, Decimals: decimals, MinOccurs: 1, MaxOccurs: 1}
}

func date(name string) *Node {
	return &Node{Name: name, Kind: KindDate, MinOccurs: 1, MaxOccurs: 1}
}

func dateTime(name string) *Node {
	return &Node{Name: name, Kind: KindDateTime, MinOccurs: 1, MaxOccurs: 1}
}

func opaque(name string) *Node {
	return &Node{Name: name, Kind: KindOpaque, MinOccurs: 1, MaxOccurs: 1}
}

func (n *Node) optional() *Node {
	n.MinOccurs = 0
	return n
}

// ── Gramática v150 ────────────────────────────────────────────────────────────
// Grupos: A (DE), B (gOpeDE), C (gTimb), D (gDatGralOpe), E (gDtipDE), F (gTotSub),
// G (gCamGen), H (gCamDEAsoc), I (Signature), J (gCamFuFD).

var grammarV150 = group("rDE", 1, 1,
	num("dVerFor", 3, 3, pkgsifen.GrammarVersion),
	group("DE", 1, 1,
		num("dDVId", 1, 1),
		dateTime("dFecFirma").optional(),
		num("dSisFact", 1, 1, "1", "2"),
		group("gOpeDE", 1, 1,
			num("iTipEmi", 1, 1, "1", "2"),
			alpha("dDesTipEmi", 6, 12),
			num("dCodSeg", 9, 9),
			alpha("dInfoEmi", 1, 3000).optional(),
		),
		group("gTimb", 1, 1,
			num("iTiDE", 1, 1, "1", "4", "5", "6", "7"),
			alpha("dDesTiDE", 15, 60),
			num("dNumTim", 8, 8),
			num("dEst", 3, 3),
			num("dPunExp", 3, 3),
			num("dNumDoc", 7, 7),
			date("dFeIniT"),
		),
		group("gDatGralOpe", 1, 1,
			dateTime("dFeEmiDE"),
			group("gOpeCom", 1, 1,
				alpha("cMoneOpe", 3, 3),
				alpha("dDesMoneOpe", 3, 20),
			),
			group("gEmis", 1, 1,
				num("dRucEm", 3, 8),
				num("dDVEmi", 1, 1),
				num("iTipCont", 1, 1, "1", "2"),
				alpha("dNomEmi", 4, 255),
			),
			group("gDatRec", 1, 1,
				num("iNatRec", 1, 1, "1", "2"),
				num("iTiOpe", 1, 1, "1", "2", "3", "4"),
				alpha("cPaisRec", 3, 3),
				num("dRucRec", 3, 8).optional(),
				num("dDVRec", 1, 1).optional(),
				num("iTipIDRec", 1, 1, "1", "2", "3", "4", "5", "6").optional(),
				alpha("dNumIDRec", 1, 20).optional(),
				alpha("dNomRec", 4, 255),
			),
		),
		group("gDtipDE", 1, 1,
			group("gCamFE", 0, 1,
				num("iIndPres", 1, 1),
				alpha("dDesIndPres", 10, 30),
			),
			group("gCamAE", 0, 1,
				num("iNatVen", 1, 1),
				alpha("dDesNatVen", 10, 16),
			),
			group("gCamNCDE", 0, 1,
				num("iMotEmi", 1, 1),
				alpha("dDesMotEmi", 6, 30),
			),
			group("gCamNRE", 0, 1,
				num("iMotEmiNR", 1, 2),
				alpha("dDesMotEmiNR", 5, 60),
			),
			group("gCamCond", 0, 1,
				num("iCondOpe", 1, 1, "1", "2"),
				alpha("dDCondOpe", 5, 7),
			),
			group("gCamItem", 1, 999,
				alpha("dCodInt", 1, 20),
				alpha("dDesProSer", 1, 120),
				dec("dCantProSer", 10, 4),
				group("gValorItem", 0, 1,
					dec("dPUniProSer", 15, 8),
					dec("dTotBruOpeItem", 15, 8),
				),
				group("gCamIVA", 0, 1,
					num("iAfecIVA", 1, 1, "1", "3"),
					alpha("dDesAfecIVA", 6, 27),
					num("dTasaIVA", 1, 2, "0", "5", "10"),
					dec("dBasGravIVA", 15, 8),
					dec("dLiqIVAItem", 15, 8),
				),
			),
		),
		group("gTotSub", 0, 1,
			dec("dSubExe", 15, 8),
			dec("dSub5", 15, 8),
			dec("dSub10", 15, 8),
			dec("dTotOpe", 15, 8),
			dec("dIVA5", 15, 8),
			dec("dIVA10", 15, 8),
			dec("dTotIVA", 15, 8),
			dec("dTotGralOpe", 15, 8),
		),
		group("gCamGen", 0, 1,
			alpha("dOrdCompra", 1, 15),
		),
		group("gCamDEAsoc", 0, 1,
			num("iTipDocAso", 1, 1, pkgsifen.AssociatedElectronic),
			alpha("dDesTipDocAso", 7, 16),
			num("dCdCDERef", 44, 44),
		),
	),
	opaque("Signature").optional(),
	group("gCamFuFD", 0, 1,
		alpha("dCarQR", 100, 600),
	),
)

var grammarIndex = buildIndex(grammarV150)

func buildIndex(root *Node) map[string]*Node {
	idx := map[string]*Node{}
	var walk func(n *Node)
	walk = func(n *Node) {
		idx[n.Name] = n
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return idx
}

func onlyDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
