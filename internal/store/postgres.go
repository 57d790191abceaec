package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solhedge/vault-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of
// truth. Amounts are BIGINT smallest-denomination integers; nothing in
// this schema is fractional.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", what, err)
}

func (s *PostgresStore) CreateFactory(ctx context.Context, f *model.Factory) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO factories (id, side, initialized, next_vault_id, maturity, matured, strike,
		                        base_asset, quote_asset, last_fair_price, ts_last_fair_price,
		                        settled_price, emergency_mode, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		f.ID, f.Side, f.Initialized, f.NextVaultID, f.Maturity, f.Matured, f.Strike,
		f.BaseAsset, f.QuoteAsset, f.LastFairPrice, f.TsLastFairPrice,
		f.SettledPrice, f.EmergencyMode, f.CreatedAt,
	)
	return err
}

const factoryColumns = `id, side, initialized, next_vault_id, maturity, matured, strike,
	base_asset, quote_asset, last_fair_price, ts_last_fair_price,
	settled_price, emergency_mode, created_at`

func scanFactory(row pgx.Row) (*model.Factory, error) {
	var f model.Factory
	err := row.Scan(&f.ID, &f.Side, &f.Initialized, &f.NextVaultID, &f.Maturity, &f.Matured,
		&f.Strike, &f.BaseAsset, &f.QuoteAsset, &f.LastFairPrice, &f.TsLastFairPrice,
		&f.SettledPrice, &f.EmergencyMode, &f.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *PostgresStore) GetFactory(ctx context.Context, id string) (*model.Factory, error) {
	f, err := scanFactory(s.pool.QueryRow(ctx,
		`SELECT `+factoryColumns+` FROM factories WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "get factory "+id)
	}
	return f, nil
}

func (s *PostgresStore) ListFactories(ctx context.Context) ([]model.Factory, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+factoryColumns+` FROM factories ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var factories []model.Factory
	for rows.Next() {
		f, err := scanFactory(rows)
		if err != nil {
			return nil, err
		}
		factories = append(factories, *f)
	}
	return factories, rows.Err()
}

func (s *PostgresStore) UpdateFactory(ctx context.Context, f *model.Factory) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE factories
		 SET next_vault_id = $2, matured = $3, last_fair_price = $4,
		     ts_last_fair_price = $5, settled_price = $6, emergency_mode = $7
		 WHERE id = $1`,
		f.ID, f.NextVaultID, f.Matured, f.LastFairPrice,
		f.TsLastFairPrice, f.SettledPrice, f.EmergencyMode,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update factory %s: %w", f.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) CreateVault(ctx context.Context, v *model.Vault) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO vaults (id, factory_id, ord, max_makers, max_takers, lot_size,
		                     makers_num, makers_total_pending_sell, makers_total_pending_settle, is_makers_full,
		                     takers_num, takers_total_deposited, is_takers_full,
		                     bonus_not_exercised, base_treasury, quote_treasury, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		v.ID, v.FactoryID, v.Ord, v.MaxMakers, v.MaxTakers, v.LotSize,
		v.MakersNum, v.MakersTotalPendingSell, v.MakersTotalPendingSettle, v.IsMakersFull,
		v.TakersNum, v.TakersTotalDeposited, v.IsTakersFull,
		v.BonusNotExercised, v.BaseTreasury, v.QuoteTreasury, v.CreatedAt,
	)
	return err
}

const vaultColumns = `id, factory_id, ord, max_makers, max_takers, lot_size,
	makers_num, makers_total_pending_sell, makers_total_pending_settle, is_makers_full,
	takers_num, takers_total_deposited, is_takers_full,
	bonus_not_exercised, base_treasury, quote_treasury, created_at`

func scanVault(row pgx.Row) (*model.Vault, error) {
	var v model.Vault
	err := row.Scan(&v.ID, &v.FactoryID, &v.Ord, &v.MaxMakers, &v.MaxTakers, &v.LotSize,
		&v.MakersNum, &v.MakersTotalPendingSell, &v.MakersTotalPendingSettle, &v.IsMakersFull,
		&v.TakersNum, &v.TakersTotalDeposited, &v.IsTakersFull,
		&v.BonusNotExercised, &v.BaseTreasury, &v.QuoteTreasury, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *PostgresStore) GetVault(ctx context.Context, id string) (*model.Vault, error) {
	v, err := scanVault(s.pool.QueryRow(ctx,
		`SELECT `+vaultColumns+` FROM vaults WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "get vault "+id)
	}
	return v, nil
}

func (s *PostgresStore) ListVaultsByFactory(ctx context.Context, factoryID string) ([]model.Vault, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+vaultColumns+` FROM vaults WHERE factory_id = $1 ORDER BY ord`, factoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vaults []model.Vault
	for rows.Next() {
		v, err := scanVault(rows)
		if err != nil {
			return nil, err
		}
		vaults = append(vaults, *v)
	}
	return vaults, rows.Err()
}

func (s *PostgresStore) UpdateVault(ctx context.Context, v *model.Vault) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE vaults
		 SET makers_num = $2, makers_total_pending_sell = $3, makers_total_pending_settle = $4,
		     is_makers_full = $5, takers_num = $6, takers_total_deposited = $7,
		     is_takers_full = $8, bonus_not_exercised = $9
		 WHERE id = $1`,
		v.ID, v.MakersNum, v.MakersTotalPendingSell, v.MakersTotalPendingSettle,
		v.IsMakersFull, v.TakersNum, v.TakersTotalDeposited,
		v.IsTakersFull, v.BonusNotExercised,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update vault %s: %w", v.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpsertMakerPosition(ctx context.Context, p *model.MakerPosition) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO maker_positions (vault_id, owner, ord, collateral_qty, volume_sold,
		                              is_all_sold, is_settled, premium_limit, premium_account)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (vault_id, owner) DO UPDATE
		 SET collateral_qty = EXCLUDED.collateral_qty, volume_sold = EXCLUDED.volume_sold,
		     is_all_sold = EXCLUDED.is_all_sold, is_settled = EXCLUDED.is_settled,
		     premium_limit = EXCLUDED.premium_limit, premium_account = EXCLUDED.premium_account`,
		p.VaultID, p.Owner, p.Ord, p.CollateralQty, p.VolumeSold,
		p.IsAllSold, p.IsSettled, p.PremiumLimit, p.PremiumAccount,
	)
	return err
}

func (s *PostgresStore) GetMakerPosition(ctx context.Context, vaultID, owner string) (*model.MakerPosition, error) {
	var p model.MakerPosition
	err := s.pool.QueryRow(ctx,
		`SELECT vault_id, owner, ord, collateral_qty, volume_sold,
		        is_all_sold, is_settled, premium_limit, premium_account
		 FROM maker_positions WHERE vault_id = $1 AND owner = $2`, vaultID, owner).
		Scan(&p.VaultID, &p.Owner, &p.Ord, &p.CollateralQty, &p.VolumeSold,
			&p.IsAllSold, &p.IsSettled, &p.PremiumLimit, &p.PremiumAccount)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("get maker %s in vault %s", owner, vaultID))
	}
	return &p, nil
}

func (s *PostgresStore) ListMakersByVault(ctx context.Context, vaultID string) ([]model.MakerPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT vault_id, owner, ord, collateral_qty, volume_sold,
		        is_all_sold, is_settled, premium_limit, premium_account
		 FROM maker_positions WHERE vault_id = $1 ORDER BY ord`, vaultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var makers []model.MakerPosition
	for rows.Next() {
		var p model.MakerPosition
		if err := rows.Scan(&p.VaultID, &p.Owner, &p.Ord, &p.CollateralQty, &p.VolumeSold,
			&p.IsAllSold, &p.IsSettled, &p.PremiumLimit, &p.PremiumAccount); err != nil {
			return nil, err
		}
		makers = append(makers, p)
	}
	return makers, rows.Err()
}

func (s *PostgresStore) UpsertTakerPosition(ctx context.Context, p *model.TakerPosition) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO taker_positions (vault_id, owner, ord, initialized, max_entitlement,
		                              qty_deposited, is_settled)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (vault_id, owner) DO UPDATE
		 SET initialized = EXCLUDED.initialized, max_entitlement = EXCLUDED.max_entitlement,
		     qty_deposited = EXCLUDED.qty_deposited, is_settled = EXCLUDED.is_settled`,
		p.VaultID, p.Owner, p.Ord, p.Initialized, p.MaxEntitlement,
		p.QtyDeposited, p.IsSettled,
	)
	return err
}

func (s *PostgresStore) GetTakerPosition(ctx context.Context, vaultID, owner string) (*model.TakerPosition, error) {
	var p model.TakerPosition
	err := s.pool.QueryRow(ctx,
		`SELECT vault_id, owner, ord, initialized, max_entitlement, qty_deposited, is_settled
		 FROM taker_positions WHERE vault_id = $1 AND owner = $2`, vaultID, owner).
		Scan(&p.VaultID, &p.Owner, &p.Ord, &p.Initialized, &p.MaxEntitlement,
			&p.QtyDeposited, &p.IsSettled)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("get taker %s in vault %s", owner, vaultID))
	}
	return &p, nil
}

func (s *PostgresStore) ListTakersByVault(ctx context.Context, vaultID string) ([]model.TakerPosition, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT vault_id, owner, ord, initialized, max_entitlement, qty_deposited, is_settled
		 FROM taker_positions WHERE vault_id = $1 ORDER BY ord`, vaultID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var takers []model.TakerPosition
	for rows.Next() {
		var p model.TakerPosition
		if err := rows.Scan(&p.VaultID, &p.Owner, &p.Ord, &p.Initialized, &p.MaxEntitlement,
			&p.QtyDeposited, &p.IsSettled); err != nil {
			return nil, err
		}
		takers = append(takers, p)
	}
	return takers, rows.Err()
}

func (s *PostgresStore) CreateTicket(ctx context.Context, t *model.Ticket) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO oracle_tickets (factory_id, owner, kind, is_used, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		t.FactoryID, t.Owner, t.Kind, t.IsUsed, t.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetTicket(ctx context.Context, factoryID, owner string, kind model.TicketKind) (*model.Ticket, error) {
	var t model.Ticket
	err := s.pool.QueryRow(ctx,
		`SELECT factory_id, owner, kind, is_used, created_at
		 FROM oracle_tickets WHERE factory_id = $1 AND owner = $2 AND kind = $3`,
		factoryID, owner, kind).
		Scan(&t.FactoryID, &t.Owner, &t.Kind, &t.IsUsed, &t.CreatedAt)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("get ticket for %s by %s", factoryID, owner))
	}
	return &t, nil
}

func (s *PostgresStore) DeleteTicket(ctx context.Context, factoryID, owner string, kind model.TicketKind) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM oracle_tickets WHERE factory_id = $1 AND owner = $2 AND kind = $3`,
		factoryID, owner, kind)
	return err
}
