package sifen

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// Violation una regla incumplida, con la ruta del campo.
type Violation struct {
	Path    string
	Rule    RuleKind
	Message string
}

// ValidationResult resultado total de la validación: nunca falla, acumula violaciones.
type ValidationResult struct {
	OK         bool
	Violations []Violation
}

// Has indica si existe al menos una violación del tipo dado.
func (r ValidationResult) Has(rule RuleKind) bool {
	for _, v := range r.Violations {
		if v.Rule == rule {
			return true
		}
	}
	return false
}

// Err devuelve *ValidationError si hay violaciones, o nil.
func (r ValidationResult) Err() error {
	if r.OK {
		return nil
	}
	return &ValidationError{Violations: r.Violations}
}

// ValidationError rechazo local por violaciones estructurales. Nunca se reintenta.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "sifen: XML inválido"
	}
	v := e.Violations[0]
	return fmt.Sprintf("sifen: XML inválido (%d violaciones), primera: %s [%s] %s",
		len(e.Violations), v.Path, v.Rule, v.Message)
}

// SchemaValidator valida un rDE contra la gramática v150 y las reglas entre campos.
// No modifica el documento ni tiene estado.
type SchemaValidator struct {
	root *Node
}

// NewSchemaValidator crea el validador sobre la gramática vigente.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{root: Grammar()}
}

// Validate valida el XML completo.
func (v *SchemaValidator) Validate(payload []byte) ValidationResult {
	res := &ValidationResult{}
	x := etree.NewDocument()
	if len(payload) == 0 {
		res.add("/", RuleMalformedDocument, "XML vacío")
		return res.done()
	}
	if err := x.ReadFromBytes(payload); err != nil {
		res.add("/", RuleMalformedDocument, err.Error())
		return res.done()
	}
	root := x.Root()
	if root == nil {
		res.add("/", RuleMalformedDocument, "documento sin raíz")
		return res.done()
	}
	if root.Tag != v.root.Name {
		res.add(root.Tag, RuleUnexpectedElement, "se esperaba "+v.root.Name)
		return res.done()
	}
	v.walk(root, v.root, v.root.Name, res)
	v.crossField(root, res)
	return res.done()
}

// walk compara los hijos del elemento con la secuencia de la gramática.
// Un elemento desconocido o fuera de orden se informa y se salta.
func (v *SchemaValidator) walk(el *etree.Element, n *Node, path string, res *ValidationResult) {
	switch n.Kind {
	case KindOpaque:
		return
	case KindGroup:
	default:
		if len(el.ChildElements()) > 0 {
			res.add(path, RulePatternMismatch, "se esperaba un valor simple")
			return
		}
		if kind, reason := n.Check(el.Text()); kind != "" {
			res.add(path, kind, reason)
		}
		return
	}

	children := el.ChildElements()
	i := 0
	for k, cn := range n.Children {
		for i < len(children) && !matchesFrom(n.Children[k:], children[i].Tag) {
			res.add(path+"/"+children[i].Tag, RuleUnexpectedElement, "elemento desconocido o fuera de orden")
			i++
		}
		count := 0
		for i < len(children) && children[i].Tag == cn.Name {
			count++
			childPath := path + "/" + cn.Name
			if cn.MaxOccurs > 1 {
				childPath = fmt.Sprintf("%s[%d]", childPath, count)
			}
			if count <= cn.MaxOccurs {
				v.walk(children[i], cn, childPath, res)
			}
			i++
		}
		if count < cn.MinOccurs {
			res.add(path+"/"+cn.Name, RuleMissingRequired, "campo obligatorio ausente")
		}
		if count > cn.MaxOccurs {
			res.add(path+"/"+cn.Name, RuleUnexpectedElement,
				fmt.Sprintf("aparece %d veces, máximo %d", count, cn.MaxOccurs))
		}
	}
	for ; i < len(children); i++ {
		res.add(path+"/"+children[i].Tag, RuleUnexpectedElement, "elemento desconocido o fuera de orden")
	}
}

func matchesFrom(nodes []*Node, tag string) bool {
	for _, n := range nodes {
		if n.Name == tag {
			return true
		}
	}
	return false
}

// typeGroups grupo E obligatorio según iTiDE.
var typeGroups = map[string]string{
	"1": "gCamFE",
	"4": "gCamAE",
	"5": "gCamNCDE",
	"6": "gCamNCDE",
	"7": "gCamNRE",
}

// crossField reglas condicionales y de elección entre campos.
func (v *SchemaValidator) crossField(root *etree.Element, res *ValidationResult) {
	de := root.SelectElement("DE")
	if de == nil {
		return
	}

	// Id del DE = CDC; dDVId = último carácter.
	id := de.SelectAttrValue("Id", "")
	switch {
	case id == "":
		res.add("rDE/DE/@Id", RuleMissingRequired, "el DE no tiene Id")
	case len(id) != 44 || !onlyDigits(id):
		res.add("rDE/DE/@Id", RulePatternMismatch, "el Id debe ser un CDC de 44 dígitos")
	default:
		if dv := textOf(de, "dDVId"); dv != "" && dv != id[43:] {
			res.add("rDE/DE/dDVId", RuleConditionalGroup, "dDVId no coincide con el dígito verificador del Id")
		}
	}

	// Grupos E según tipo de documento.
	docType := textOf(de, "gTimb/iTiDE")
	if want, ok := typeGroups[docType]; ok {
		for _, g := range []string{"gCamFE", "gCamAE", "gCamNCDE", "gCamNRE"} {
			present := de.FindElement("gDtipDE/"+g) != nil
			switch {
			case g == want && !present:
				res.add("rDE/DE/gDtipDE/"+g, RuleConditionalGroup, "obligatorio para iTiDE="+docType)
			case g != want && present:
				res.add("rDE/DE/gDtipDE/"+g, RuleConditionalGroup, "no corresponde a iTiDE="+docType)
			}
		}
		v.requireIff(de, "gDtipDE/gCamCond", docType == "1" || docType == "4", docType, res)
		v.requireIff(de, "gTotSub", docType != "7", docType, res)
		v.requireIff(de, "gCamDEAsoc", docType == "5" || docType == "6", docType, res)

		for idx, item := range de.FindElements("gDtipDE/gCamItem") {
			for _, g := range []string{"gValorItem", "gCamIVA"} {
				present := item.SelectElement(g) != nil
				path := fmt.Sprintf("rDE/DE/gDtipDE/gCamItem[%d]/%s", idx+1, g)
				switch {
				case docType == "7" && present:
					res.add(path, RuleConditionalGroup, "la nota de remisión no lleva valores")
				case docType != "7" && !present:
					res.add(path, RuleConditionalGroup, "obligatorio para iTiDE="+docType)
				}
			}
			v.checkTaxAffectation(item, idx+1, res)
		}
	}

	// Receptor: contribuyente con RUC + DV; exactamente uno de dRucRec / dNumIDRec.
	if rec := de.FindElement("gDatGralOpe/gDatRec"); rec != nil {
		hasRUC := rec.SelectElement("dRucRec") != nil
		hasID := rec.SelectElement("dNumIDRec") != nil
		if hasRUC == hasID {
			res.add("rDE/DE/gDatGralOpe/gDatRec", RuleChoiceGroup, "debe informarse exactamente uno de dRucRec o dNumIDRec")
		}
		if textOf(rec, "iNatRec") == "1" {
			if !hasRUC {
				res.add("rDE/DE/gDatGralOpe/gDatRec/dRucRec", RuleConditionalGroup, "obligatorio cuando iNatRec=1")
			}
			if rec.SelectElement("dDVRec") == nil {
				res.add("rDE/DE/gDatGralOpe/gDatRec/dDVRec", RuleConditionalGroup, "obligatorio cuando iNatRec=1")
			}
		}
		if hasID && rec.SelectElement("iTipIDRec") == nil {
			res.add("rDE/DE/gDatGralOpe/gDatRec/iTipIDRec", RuleConditionalGroup, "obligatorio cuando se informa dNumIDRec")
		}
	}
}

func (v *SchemaValidator) requireIff(de *etree.Element, path string, required bool, docType string, res *ValidationResult) {
	present := de.FindElement(path) != nil
	switch {
	case required && !present:
		res.add("rDE/DE/"+path, RuleConditionalGroup, "obligatorio para iTiDE="+docType)
	case !required && present:
		res.add("rDE/DE/"+path, RuleConditionalGroup, "no corresponde a iTiDE="+docType)
	}
}

// checkTaxAffectation: exento con tasa 0, gravado con tasa 5 o 10.
func (v *SchemaValidator) checkTaxAffectation(item *etree.Element, idx int, res *ValidationResult) {
	iva := item.SelectElement("gCamIVA")
	if iva == nil {
		return
	}
	aff, rate := textOf(iva, "iAfecIVA"), textOf(iva, "dTasaIVA")
	path := fmt.Sprintf("rDE/DE/gDtipDE/gCamItem[%d]/gCamIVA/dTasaIVA", idx)
	switch {
	case aff == "3" && rate != "0":
		res.add(path, RuleConditionalGroup, "un ítem exento debe tener tasa 0")
	case aff == "1" && rate != "5" && rate != "10":
		res.add(path, RuleConditionalGroup, "un ítem gravado debe tener tasa 5 o 10")
	}
}

func textOf(el *etree.Element, path string) string {
	if e := el.FindElement(path); e != nil {
		return strings.TrimSpace(e.Text())
	}
	return ""
}

func (r *ValidationResult) add(path string, rule RuleKind, msg string) {
	r.Violations = append(r.Violations, Violation{Path: path, Rule: rule, Message: msg})
}

func (r *ValidationResult) done() ValidationResult {
	r.OK = len(r.Violations) == 0
	return *r
}
