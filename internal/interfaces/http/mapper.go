package http

import (
	"github.com/jhoicas/sifen-gateway/internal/application/billing"
	"github.com/jhoicas/sifen-gateway/internal/application/dto"
	"github.com/jhoicas/sifen-gateway/internal/domain/entity"
)

func toDocumentEntity(in dto.CreateDocumentRequest, issuerTaxID string) *entity.Document {
	doc := &entity.Document{
		Type:           entity.DocumentType(in.Type),
		IssueTimestamp: in.IssueTimestamp,
		IssuerTaxID:    issuerTaxID,
		IssuerName:     in.IssuerName,
		Sequence: entity.SequenceNumber{
			Establishment: in.Establishment,
			PointOfSale:   in.PointOfSale,
			Number:        in.Number,
		},
		Currency:      in.Currency,
		Reason:        in.Reason,
		AssociatedCDC: in.AssociatedCDC,
		GeneralNotes:  in.GeneralNotes,
		PurchaseOrder: in.PurchaseOrder,
	}
	if in.Receiver != nil {
		doc.Receiver = &entity.Receiver{TaxID: in.Receiver.TaxID, IDNumber: in.Receiver.IDNumber, Name: in.Receiver.Name}
	}
	for _, it := range in.Items {
		doc.LineItems = append(doc.LineItems, entity.LineItem{
			Code:        it.Code,
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			TaxRate:     it.TaxRate,
		})
	}
	return doc
}

func toDocumentResponse(doc *entity.Document) dto.DocumentResponse {
	out := dto.DocumentResponse{
		ID:             doc.ID,
		Type:           string(doc.Type),
		Status:         string(doc.Status),
		Identifier:     doc.Identifier,
		IssuerTaxID:    doc.IssuerTaxID,
		Sequence:       doc.Sequence.Establishment + "-" + doc.Sequence.PointOfSale + "-" + doc.Sequence.Number,
		IssueTimestamp: doc.IssueTimestamp,
		Totals: dto.TotalsResponse{
			Exempt:     doc.Totals.Exempt,
			Taxed5:     doc.Totals.Taxed5,
			Taxed10:    doc.Totals.Taxed10,
			IVA5:       doc.Totals.IVA5,
			IVA10:      doc.Totals.IVA10,
			TotalIVA:   doc.Totals.TotalIVA,
			GrandTotal: doc.Totals.GrandTotal,
		},
		TimbradoNumber:  doc.Timbrado.Number,
		RetryCount:      doc.RetryCount,
		ContingencyFlag: doc.ContingencyFlag,
		CreatedAt:       doc.CreatedAt,
		StatusChangedAt: doc.StatusChangedAt,
		ArchivedAt:      doc.ArchivedAt,
	}
	if r := doc.LastRemoteResponse; r != nil {
		out.LastRemoteResponse = &dto.RemoteResponse{
			Outcome:        string(r.Outcome),
			Code:           r.Code,
			Message:        r.Message,
			ProtocolNumber: r.ProtocolNumber,
			Notes:          r.Notes,
			ReceivedAt:     r.ReceivedAt,
		}
	}
	return out
}

func toTransitionResponses(log []entity.Transition) []dto.TransitionResponse {
	out := make([]dto.TransitionResponse, 0, len(log))
	for _, t := range log {
		out = append(out, dto.TransitionResponse{
			From:    string(t.From),
			To:      string(t.To),
			Trigger: string(t.Trigger),
			Outcome: string(t.Outcome),
			Code:    t.Code,
			Message: t.Message,
			At:      t.At,
		})
	}
	return out
}

func toSubmissionResponse(res *billing.SubmissionResult, err error) dto.SubmissionResponse {
	out := dto.SubmissionResponse{}
	if res != nil {
		out.DocumentID = res.DocumentID
		out.Identifier = res.Identifier
		out.Status = string(res.Status)
		out.ProtocolNumber = res.ProtocolNumber
		out.Attempts = res.Attempts
		if res.Outcome != nil {
			out.Outcome = string(res.Outcome.Kind())
			out.Code = res.Outcome.RawCode()
			out.Message = res.Outcome.Text()
		}
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

func toQueryResponse(res *billing.QueryResult) dto.QueryResponse {
	return dto.QueryResponse{
		Identifier:     res.Identifier,
		Outcome:        string(res.Outcome.Kind()),
		Code:           res.Outcome.RawCode(),
		Message:        res.Outcome.Text(),
		ProtocolNumber: entity.ProtocolNumberOf(res.Outcome),
		DocumentID:     res.DocumentID,
		Status:         string(res.Status),
	}
}

func toResumeResponse(r *billing.ResumeReport) dto.ResumeResponse {
	out := dto.ResumeResponse{
		Reconciled:  nonNil(r.Reconciled),
		Resubmitted: nonNil(r.Resubmitted),
		Expired:     nonNil(r.Expired),
	}
	if len(r.Failed) > 0 {
		out.Failed = make(map[string]string, len(r.Failed))
		for id, err := range r.Failed {
			out.Failed[id] = err.Error()
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
