package sifen

import (
	"strings"

	"github.com/beevik/etree"

	"github.com/jhoicas/sifen-gateway/internal/domain/entity"
)

// CodeDocumentNotFound código de la SET para un CDC que no conoce (consulta).
const CodeDocumentNotFound = "0420"

// codeTable categoría de cada código de respuesta conocido. Un código ausente es Unknown.
var codeTable = map[string]entity.OutcomeKind{
	"0260": entity.OutcomeAccepted,
	"0261": entity.OutcomeAcceptedWithObservations,

	"0160": entity.OutcomeRejectedSchema, // XML mal formado
	"0161": entity.OutcomeRejectedSchema, // firma inválida
	"0162": entity.OutcomeRejectedSchema, // esquema no válido

	"1000": entity.OutcomeRejectedBusiness, // CDC no corresponde con el XML
	"1001": entity.OutcomeRejectedBusiness, // CDC duplicado
	"1002": entity.OutcomeRejectedBusiness, // documento duplicado
	"1003": entity.OutcomeRejectedBusiness, // DV del CDC inválido
	"1100": entity.OutcomeRejectedBusiness, // timbrado inexistente
	"1101": entity.OutcomeRejectedBusiness, // timbrado no vigente
	"1102": entity.OutcomeRejectedBusiness, // número fuera del rango del timbrado
	"1110": entity.OutcomeRejectedBusiness, // RUC del emisor inválido
	"1250": entity.OutcomeRejectedBusiness, // RUC del receptor inexistente
	"1401": entity.OutcomeRejectedBusiness, // fecha de emisión extemporánea

	"0500": entity.OutcomeTransientFailure, // servicio no disponible
	"0501": entity.OutcomeTransientFailure, // tiempo de proceso excedido
	"0502": entity.OutcomeTransientFailure, // error interno
	"0301": entity.OutcomeTransientFailure, // lote no encolado
}

// ResponseMessage un par código/mensaje de gResProc.
type ResponseMessage struct {
	Code string
	Text string
}

// ResponseClassifier convierte respuestas de la SET en un Outcome cerrado.
// Nunca entra en pánico: lo ilegible es MalformedResponse y lo no mapeado es Unknown.
type ResponseClassifier struct {
	codes map[string]entity.OutcomeKind
}

// NewResponseClassifier crea el clasificador con la tabla de códigos vigente.
func NewResponseClassifier() *ResponseClassifier {
	return &ResponseClassifier{codes: codeTable}
}

// Classify interpreta la respuesta de un envío individual o de una consulta.
func (c *ResponseClassifier) Classify(raw []byte) entity.Outcome {
	body, outcome := parseBody(raw)
	if outcome != nil {
		return outcome
	}
	if rec := body.FindElement(".//rProtDe"); rec != nil {
		return c.classifyRecord(rec)
	}
	// Consulta sin protocolo (p. ej. 0420): código en el nivel superior.
	if code := body.FindElement(".//dCodRes"); code != nil {
		msg := ""
		if m := body.FindElement(".//dMsgRes"); m != nil {
			msg = strings.TrimSpace(m.Text())
		}
		return c.outcomeFor("", strings.TrimSpace(code.Text()), msg, "", nil)
	}
	return entity.MalformedResponse{Reason: "la respuesta no contiene rProtDe ni dCodRes"}
}

// ClassifyBatch interpreta la respuesta de un lote: resultado por CDC y, si la SET respondió
// a nivel de lote sin detalle por documento (o con un Fault), el resultado del lote.
func (c *ResponseClassifier) ClassifyBatch(raw []byte) (map[string]entity.Outcome, entity.Outcome) {
	body, outcome := parseBody(raw)
	if outcome != nil {
		return nil, outcome
	}
	results := map[string]entity.Outcome{}
	for _, rec := range body.FindElements(".//gResProcLote") {
		id := ExtractIdentifier(rec)
		if id == "" {
			continue
		}
		results[id] = c.classifyRecord(rec)
	}
	if len(results) > 0 {
		return results, nil
	}
	if code := body.FindElement(".//dCodRes"); code != nil {
		msg := ""
		if m := body.FindElement(".//dMsgRes"); m != nil {
			msg = strings.TrimSpace(m.Text())
		}
		return results, c.outcomeFor("", strings.TrimSpace(code.Text()), msg, "", nil)
	}
	return results, entity.MalformedResponse{Reason: "la respuesta del lote no contiene resultados"}
}

func (c *ResponseClassifier) classifyRecord(rec *etree.Element) entity.Outcome {
	msgs := ExtractMessages(rec)
	if len(msgs) == 0 {
		return entity.MalformedResponse{Reason: "registro de respuesta sin gResProc"}
	}
	return c.outcomeFor(ExtractIdentifier(rec), msgs[0].Code, msgs[0].Text, ExtractProtocolNumber(rec), msgs)
}

func (c *ResponseClassifier) outcomeFor(id, code, msg, protocol string, msgs []ResponseMessage) entity.Outcome {
	kind, ok := c.codes[code]
	if !ok {
		return entity.Unknown{Identifier: id, Code: code, Message: msg}
	}
	switch kind {
	case entity.OutcomeAccepted:
		return entity.Accepted{Identifier: id, ProtocolNumber: protocol, Code: code, Message: msg}
	case entity.OutcomeAcceptedWithObservations:
		notes := make([]string, 0, len(msgs))
		for _, m := range msgs {
			notes = append(notes, m.Code+": "+m.Text)
		}
		return entity.AcceptedWithObservations{Identifier: id, ProtocolNumber: protocol, Code: code, Notes: notes}
	case entity.OutcomeRejectedSchema:
		return entity.RejectedSchema{Identifier: id, Code: code, Message: msg}
	case entity.OutcomeRejectedBusiness:
		return entity.RejectedBusiness{Identifier: id, Code: code, Message: msg}
	case entity.OutcomeTransientFailure:
		return entity.TransientFailure{Code: code, Message: msg}
	}
	return entity.Unknown{Identifier: id, Code: code, Message: msg}
}

// parseBody devuelve el Body SOAP (o la raíz si no hay envelope). Un Fault o un cuerpo
// ilegible se resuelven aquí mismo como Outcome.
func parseBody(raw []byte) (*etree.Element, entity.Outcome) {
	if len(raw) == 0 {
		return nil, entity.MalformedResponse{Reason: "respuesta vacía"}
	}
	x := etree.NewDocument()
	if err := x.ReadFromBytes(raw); err != nil {
		return nil, entity.MalformedResponse{Reason: err.Error()}
	}
	root := x.Root()
	if root == nil {
		return nil, entity.MalformedResponse{Reason: "respuesta sin raíz"}
	}
	body := root
	if b := root.FindElement("./Body"); b != nil {
		body = b
	}
	if fault := body.FindElement("./Fault"); fault != nil {
		return nil, classifyFault(fault)
	}
	return body, nil
}

// classifyFault: Receiver (lado servidor) es transitorio; Sender (petición) es rechazo de esquema.
func classifyFault(fault *etree.Element) entity.Outcome {
	code := ""
	if v := fault.FindElement("./Code/Value"); v != nil {
		code = strings.TrimSpace(v.Text())
	} else if v := fault.FindElement("./faultcode"); v != nil {
		code = strings.TrimSpace(v.Text())
	}
	reason := ""
	if r := fault.FindElement("./Reason/Text"); r != nil {
		reason = strings.TrimSpace(r.Text())
	} else if r := fault.FindElement("./faultstring"); r != nil {
		reason = strings.TrimSpace(r.Text())
	}
	local := code
	if i := strings.LastIndex(code, ":"); i >= 0 {
		local = code[i+1:]
	}
	switch local {
	case "Receiver", "Server":
		return entity.TransientFailure{Code: local, Message: reason}
	case "Sender", "Client":
		return entity.RejectedSchema{Code: local, Message: reason}
	}
	return entity.Unknown{Code: code, Message: reason}
}

// ExtractIdentifier CDC del registro de respuesta (Id).
func ExtractIdentifier(rec *etree.Element) string {
	if rec == nil {
		return ""
	}
	if id := rec.SelectElement("Id"); id != nil {
		return strings.TrimSpace(id.Text())
	}
	return ""
}

// ExtractProtocolNumber número de protocolo de autorización (dProtAut).
func ExtractProtocolNumber(rec *etree.Element) string {
	if rec == nil {
		return ""
	}
	if p := rec.SelectElement("dProtAut"); p != nil {
		return strings.TrimSpace(p.Text())
	}
	return ""
}

// ExtractMessages pares código/mensaje (gResProc) en el orden recibido.
func ExtractMessages(rec *etree.Element) []ResponseMessage {
	if rec == nil {
		return nil
	}
	var out []ResponseMessage
	for _, g := range rec.SelectElements("gResProc") {
		m := ResponseMessage{}
		if c := g.SelectElement("dCodRes"); c != nil {
			m.Code = strings.TrimSpace(c.Text())
		}
		if t := g.SelectElement("dMsgRes"); t != nil {
			m.Text = strings.TrimSpace(t.Text())
		}
		out = append(out, m)
	}
	return out
}

// IsDocumentNotFound indica si el resultado de una consulta es "CDC inexistente".
func IsDocumentNotFound(o entity.Outcome) bool {
	u, ok := o.(entity.Unknown)
	return ok && u.Code == CodeDocumentNotFound
}
