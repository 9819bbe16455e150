package docstore

import (
	"context"
	"time"

	"github.com/lachiem1/budgetbell/internal/ledger"
	"github.com/lachiem1/budgetbell/internal/recurrence"
	"github.com/shopspring/decimal"
)

const Collection = "docstore"

type SyncState interface {
	RecordAttempt(ctx context.Context, collection string, at time.Time) error
	RecordSuccess(ctx context.Context, collection string, at time.Time) error
	RecordError(ctx context.Context, collection string, at time.Time, syncErr error) error
}

type IncomeTotals interface {
	ConfirmedIncome(ctx context.Context, month recurrence.Month) (decimal.Decimal, error)
}

// Mirror pushes each committed confirmation to the document store and keeps
// sync_state current for the docstore collection.
type Mirror struct {
	client *Client
	state  SyncState
	totals IncomeTotals
	now    func() time.Time
}

func NewMirror(client *Client, state SyncState, totals IncomeTotals) *Mirror {
	return &Mirror{client: client, state: state, totals: totals, now: time.Now}
}

func (m *Mirror) PublishConfirmation(ctx context.Context, it ledger.Item, c ledger.Confirmation) error {
	return m.runAttempt(ctx, func(ctx context.Context) error {
		if err := m.client.PatchItem(ctx, it, c.ExpectedRevision); err != nil {
			return err
		}
		if c.Payment != nil {
			return m.client.AppendHistory(ctx, *c.Payment)
		}
		total, err := m.totals.ConfirmedIncome(ctx, c.Month)
		if err != nil {
			return err
		}
		return m.client.PutConfirmedIncome(ctx, c.Month, total)
	})
}

// PublishItem mirrors an item edit that did not come from a confirmation.
func (m *Mirror) PublishItem(ctx context.Context, it ledger.Item, expectedRevision int64) error {
	return m.runAttempt(ctx, func(ctx context.Context) error {
		return m.client.PatchItem(ctx, it, expectedRevision)
	})
}

func (m *Mirror) runAttempt(ctx context.Context, work func(context.Context) error) error {
	if err := m.state.RecordAttempt(ctx, Collection, m.now().UTC()); err != nil {
		return err
	}
	if err := work(ctx); err != nil {
		_ = m.state.RecordError(context.WithoutCancel(ctx), Collection, m.now().UTC(), err)
		return err
	}
	return m.state.RecordSuccess(ctx, Collection, m.now().UTC())
}
