package projection

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"TroveLedger/internal/core"
	"TroveLedger/internal/ledger"
	"TroveLedger/internal/observability"
)

const watermarkName = "main"

// BalanceDelta is the net change of one account in one command.
type BalanceDelta struct {
	AccountPath string
	Asset       string
	Delta       decimal.Decimal // raw 18-decimal units, signed
}

// LiquidationRow is one liquidated Trove in projections.liquidation_history.
type LiquidationRow struct {
	Sequence          int64
	Owner             uuid.UUID
	Liquidator        uuid.UUID
	Mode              string
	Coll              string
	Debt              string
	DebtOffset        string
	CollToSP          string
	DebtRedistributed string
	CollRedistributed string
	CollSurplus       string
	Timestamp         time.Time
}

// Update is everything one command changes in the projection tables.
type Update struct {
	Sequence     int64
	Balances     []BalanceDelta
	Liquidations []LiquidationRow
}

// NewUpdate derives the projection changes of a core output. Each journal
// entry adds its amount to the debit account and takes it from the credit
// account, so balances of every asset sum to zero across all accounts.
func NewUpdate(out core.CoreOutput) Update {
	u := Update{Sequence: out.Envelope.Sequence}

	if out.Batch != nil {
		type key struct{ path, asset string }
		sums := make(map[key]decimal.Decimal)
		for _, j := range out.Batch.Journals {
			asset := assetName(j.AssetID)
			amt := decimal.NewFromBigInt(j.Amount.ToBig(), 0)
			dk := key{j.DebitAccount.AccountPath(), asset}
			ck := key{j.CreditAccount.AccountPath(), asset}
			sums[dk] = sums[dk].Add(amt)
			sums[ck] = sums[ck].Sub(amt)
		}
		for k, d := range sums {
			if d.IsZero() {
				continue
			}
			u.Balances = append(u.Balances, BalanceDelta{AccountPath: k.path, Asset: k.asset, Delta: d})
		}
		// Stable row order keeps lock acquisition deterministic
		sort.Slice(u.Balances, func(i, j int) bool {
			if u.Balances[i].AccountPath != u.Balances[j].AccountPath {
				return u.Balances[i].AccountPath < u.Balances[j].AccountPath
			}
			return u.Balances[i].Asset < u.Balances[j].Asset
		})
	}

	if out.Result != nil && out.Result.Liquidation != nil {
		liq := out.Result.Liquidation
		for _, lt := range liq.Troves {
			u.Liquidations = append(u.Liquidations, LiquidationRow{
				Sequence:          u.Sequence,
				Owner:             lt.Owner,
				Liquidator:        liq.Liquidator,
				Mode:              string(lt.Mode),
				Coll:              raw(lt.Coll),
				Debt:              raw(lt.Debt),
				DebtOffset:        raw(lt.DebtOffset),
				CollToSP:          raw(lt.CollToSP),
				DebtRedistributed: raw(lt.DebtRedistributed),
				CollRedistributed: raw(lt.CollRedistributed),
				CollSurplus:       raw(lt.CollSurplus),
				Timestamp:         out.Envelope.Timestamp,
			})
		}
	}
	return u
}

func raw(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

// ProjectionWorker updates projection tables from processed events. The
// projection channel drops when full, so the tables are eventually
// consistent and can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	metrics   *observability.Metrics
	logger    zerolog.Logger
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    logger,
		lastSeq:   -1,
	}
}

// Run applies outputs until ctx is cancelled or the channel is closed.
// Outputs at or below the stored watermark are skipped.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	wm, err := Watermark(ctx, pw.db)
	if err != nil {
		return fmt.Errorf("load watermark: %w", err)
	}
	pw.lastSeq = wm

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			u := NewUpdate(output)
			if u.Sequence <= pw.lastSeq {
				continue
			}
			if u.Sequence > pw.lastSeq+1 {
				pw.logger.Warn().Int64("from", pw.lastSeq+1).Int64("to", u.Sequence-1).
					Msg("projection gap, rebuild balances from the event log")
			}

			start := time.Now()
			if err := pw.apply(ctx, u); err != nil {
				// Eventually consistent; a rebuild repairs it
				pw.logger.Warn().Err(err).Int64("sequence", u.Sequence).Msg("projection update failed")
				continue
			}
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues("main").Observe(time.Since(start).Seconds())
			}
			pw.lastSeq = u.Sequence
		}
	}
}

func (pw *ProjectionWorker) apply(ctx context.Context, u Update) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, b := range u.Balances {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.balances (account_path, asset, balance, last_sequence, updated_at)
			VALUES ($1, $2, $3::numeric, $4, NOW())
			ON CONFLICT (account_path, asset)
			DO UPDATE SET balance = projections.balances.balance + EXCLUDED.balance,
			              last_sequence = EXCLUDED.last_sequence,
			              updated_at = NOW()
		`, b.AccountPath, b.Asset, b.Delta.String(), u.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	for _, l := range u.Liquidations {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.liquidation_history
				(sequence, owner, liquidator, mode, coll, debt, debt_offset, coll_to_sp,
				 debt_redistributed, coll_redistributed, coll_surplus, timestamp)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			ON CONFLICT (sequence, owner) DO NOTHING
		`, l.Sequence, l.Owner, l.Liquidator, l.Mode, l.Coll, l.Debt, l.DebtOffset, l.CollToSP,
			l.DebtRedistributed, l.CollRedistributed, l.CollSurplus, l.Timestamp); err != nil {
			return fmt.Errorf("liquidation projection: %w", err)
		}
	}

	if err := setWatermark(ctx, tx, u.Sequence); err != nil {
		return err
	}
	return tx.Commit()
}

// Watermark returns the last projected sequence, -1 when nothing was
// projected yet.
func Watermark(ctx context.Context, db *sql.DB) (int64, error) {
	var seq int64
	err := db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE projection_name = $1`, watermarkName,
	).Scan(&seq)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	return seq, err
}

func setWatermark(ctx context.Context, ex interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, seq int64) error {
	if _, err := ex.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection_name, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection_name) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, watermarkName, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return nil
}

// RebuildBalances recomputes projections.balances from the journal and
// moves the watermark to the last journaled sequence. Liquidation history is
// kept as is since the journal does not carry it.
func RebuildBalances(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `TRUNCATE projections.balances`); err != nil {
		return fmt.Errorf("truncate balances: %w", err)
	}

	// Debits add, credits subtract
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence, updated_at)
		SELECT account_path,
		       CASE asset_id WHEN 1 THEN $1 WHEN 2 THEN $2 ELSE $3 END,
		       SUM(delta), MAX(sequence), NOW()
		FROM (
			SELECT debit_account AS account_path, asset_id, amount AS delta, sequence FROM event_log.journal
			UNION ALL
			SELECT credit_account, asset_id, -amount, sequence FROM event_log.journal
		) moves
		GROUP BY account_path, asset_id
	`, assetName(ledger.AssetCollateral), assetName(ledger.AssetStable), assetName(ledger.AssetReward)); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&last); err != nil {
		return fmt.Errorf("last sequence: %w", err)
	}
	if last.Valid {
		if err := setWatermark(ctx, tx, last.Int64); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logger.Info().Int64("watermark", last.Int64).Msg("projection balances rebuilt")
	return nil
}

func assetName(id ledger.AssetID) string {
	name, _ := ledger.GetAssetName(id)
	return name
}
