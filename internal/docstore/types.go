package docstore

import (
	"time"

	"github.com/lachiem1/budgetbell/internal/ledger"
	"github.com/lachiem1/budgetbell/internal/recurrence"
)

type itemDoc struct {
	ID              string  `json:"id"`
	Kind            string  `json:"kind"`
	Label           string  `json:"label"`
	Amount          string  `json:"amount"`
	Frequency       string  `json:"frequency"`
	AnchorDate      string  `json:"anchor_date"`
	Category        string  `json:"category,omitempty"`
	LastConfirmedAt *string `json:"last_confirmed_at,omitempty"`
	Revision        int64   `json:"revision"`
	UpdatedAt       string  `json:"updated_at"`
}

type paymentDoc struct {
	ID             string `json:"id"`
	ItemID         string `json:"item_id"`
	Kind           string `json:"kind"`
	Amount         string `json:"amount"`
	Category       string `json:"category,omitempty"`
	OccurrenceDate string `json:"occurrence_date"`
	PaidAt         string `json:"paid_at"`
}

type totalsDoc struct {
	Month           string `json:"month"`
	ConfirmedIncome string `json:"confirmed_income"`
}

type errorDoc struct {
	Error string `json:"error"`
}

func itemDocFrom(it ledger.Item) itemDoc {
	doc := itemDoc{
		ID:         it.ID,
		Kind:       string(it.Kind),
		Label:      it.Label,
		Amount:     it.Amount.String(),
		Frequency:  it.Frequency.String(),
		AnchorDate: recurrence.FormatDate(it.AnchorDate),
		Category:   it.Category,
		Revision:   it.Revision,
		UpdatedAt:  it.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if it.LastConfirmedAt != nil {
		v := it.LastConfirmedAt.UTC().Format(time.RFC3339Nano)
		doc.LastConfirmedAt = &v
	}
	return doc
}

func paymentDocFrom(p ledger.PaymentEntry) paymentDoc {
	return paymentDoc{
		ID:             p.ID,
		ItemID:         p.ItemID,
		Kind:           string(p.Kind),
		Amount:         p.Amount.String(),
		Category:       p.Category,
		OccurrenceDate: recurrence.FormatDate(p.OccurrenceDate),
		PaidAt:         p.PaidAt.UTC().Format(time.RFC3339Nano),
	}
}
