package engine

import (
	"context"
	"fmt"

	"github.com/solhedge/vault-engine/internal/model"
	"github.com/solhedge/vault-engine/internal/token"
)

// IssueFairPriceTicket charges the requester the fair-price ticket fee
// and returns a single-use ticket authorizing one fair price write for
// the factory. Tickets can only be bought while the series is live and
// outside the freeze window; inside it a fair price could never be
// consumed anyway.
func (e *Engine) IssueFairPriceTicket(ctx context.Context, f *model.Factory, owner, feeAccount string) (*model.Ticket, error) {
	now := e.unixNow()
	if err := e.freezeGate(f, now); err != nil {
		return nil, err
	}

	sink, err := e.oracleFeeAccount(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.transfer(ctx, feeAccount, sink, e.cfg.FairPriceTicketFee, token.OwnerAuthority(owner)); err != nil {
		return nil, err
	}

	return &model.Ticket{
		FactoryID: f.ID,
		Owner:     owner,
		Kind:      model.FairPriceTicket,
		CreatedAt: e.now(),
	}, nil
}

// IssueSettlePriceTicket charges the requester the settle-price ticket
// fee and returns a single-use ticket authorizing one settle price
// write. Only available once the series has passed maturity and while
// it still lacks a settled price.
func (e *Engine) IssueSettlePriceTicket(ctx context.Context, f *model.Factory, owner, feeAccount string) (*model.Ticket, error) {
	now := e.unixNow()
	if f.Maturity >= now {
		return nil, fmt.Errorf("%w: series matures at %d, now %d", ErrMaturityTooEarly, f.Maturity, now)
	}
	if f.Matured {
		return nil, fmt.Errorf("%w: settle price already recorded", ErrMaturityTooLate)
	}
	if f.EmergencyMode {
		return nil, fmt.Errorf("%w: series is in emergency mode", ErrMaturityTooLate)
	}

	sink, err := e.oracleFeeAccount(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.transfer(ctx, feeAccount, sink, e.cfg.SettlePriceTicketFee, token.OwnerAuthority(owner)); err != nil {
		return nil, err
	}

	return &model.Ticket{
		FactoryID: f.ID,
		Owner:     owner,
		Kind:      model.SettlePriceTicket,
		CreatedAt: e.now(),
	}, nil
}

// checkTicket validates that a ticket authorizes a write of the given
// kind against the given factory.
func checkTicket(f *model.Factory, t *model.Ticket, kind model.TicketKind) error {
	if t == nil || t.FactoryID != f.ID || t.Kind != kind {
		return fmt.Errorf("%w: ticket does not match factory", ErrAccountValidation)
	}
	if t.IsUsed {
		return ErrUsedUpdateTicket
	}
	return nil
}

// UpdateFairPrice records a fresh oracle fair price on the factory.
// The write is skipped, silently, once the series is inside the freeze
// window; the ticket is consumed either way, so a late oracle push
// cannot be replayed after maturity.
func (e *Engine) UpdateFairPrice(ctx context.Context, caller string, f *model.Factory, t *model.Ticket, price uint64) error {
	if caller != e.cfg.OracleAccount {
		return fmt.Errorf("%w: caller %q is not the oracle", ErrAccountValidation, caller)
	}
	if err := checkTicket(f, t, model.FairPriceTicket); err != nil {
		return err
	}
	if price == 0 {
		return ErrPriceZero
	}

	now := e.unixNow()
	if f.Maturity > now+e.cfg.FreezeSeconds {
		f.LastFairPrice = price
		f.TsLastFairPrice = now
	}
	t.IsUsed = true
	return nil
}

// UpdateSettlePrice records the settlement price and marks the series
// matured. The first write after maturity wins; later writes consume
// their ticket without touching the settled price.
func (e *Engine) UpdateSettlePrice(ctx context.Context, caller string, f *model.Factory, t *model.Ticket, price uint64) error {
	if caller != e.cfg.OracleAccount {
		return fmt.Errorf("%w: caller %q is not the oracle", ErrAccountValidation, caller)
	}
	if err := checkTicket(f, t, model.SettlePriceTicket); err != nil {
		return err
	}
	if price == 0 {
		return ErrPriceZero
	}

	now := e.unixNow()
	if f.Maturity >= now {
		return fmt.Errorf("%w: series matures at %d, now %d", ErrMaturityTooLate, f.Maturity, now)
	}
	if !f.Matured {
		f.SettledPrice = price
		f.Matured = true
	}
	t.IsUsed = true
	return nil
}
