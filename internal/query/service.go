package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"TroveLedger/internal/ledger"
	"TroveLedger/internal/observability"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// QueryService provides read-only access to the projection tables and the
// journal. Live protocol state is read from the core instead.
type QueryService struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewQueryService(db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, metrics: metrics}
}

// ClampLimit maps a requested page size into [1, MaxLimit].
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// GetBalances returns the projected wallet balances of owner in every
// asset. Assets never touched are reported as "0".
func (qs *QueryService) GetBalances(ctx context.Context, owner uuid.UUID) (_ *BalanceResponse, err error) {
	defer qs.observe("balances", time.Now(), &err)

	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	resp := &BalanceResponse{Owner: owner, Balances: make(map[string]string), AsOfSequence: asOfSeq}
	paths := make(map[string]string, 3) // account path -> asset symbol
	for _, id := range []ledger.AssetID{ledger.AssetCollateral, ledger.AssetStable, ledger.AssetReward} {
		name, _ := ledger.GetAssetName(id)
		paths[ledger.WalletKey(owner, id).AccountPath()] = name
		resp.Balances[name] = "0"
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT account_path, balance::text
		FROM projections.balances
		WHERE account_path LIKE $1
	`, fmt.Sprintf("user:%s:wallet:%%", owner))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var path, balance string
		if err := rows.Scan(&path, &balance); err != nil {
			return nil, err
		}
		asset, ok := paths[path]
		if !ok {
			continue
		}
		if resp.Balances[asset], err = wholeUnits(balance); err != nil {
			return nil, err
		}
	}
	return resp, rows.Err()
}

// GetLiquidations returns liquidation history newest first.
func (qs *QueryService) GetLiquidations(ctx context.Context, f LiquidationFilter) (_ []LiquidationResponse, err error) {
	defer qs.observe("liquidations", time.Now(), &err)

	query := `
		SELECT sequence, owner, liquidator, mode, coll::text, debt::text, debt_offset::text,
		       coll_to_sp::text, debt_redistributed::text, coll_redistributed::text,
		       coll_surplus::text, timestamp
		FROM projections.liquidation_history
		WHERE TRUE
	`
	var args []any
	argIdx := 1

	if f.Owner != nil {
		query += fmt.Sprintf(" AND owner = $%d", argIdx)
		args = append(args, *f.Owner)
		argIdx++
	}
	if f.BeforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *f.BeforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, owner"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, ClampLimit(f.Limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []LiquidationResponse
	for rows.Next() {
		var l LiquidationResponse
		amounts := make([]string, 7)
		if err := rows.Scan(
			&l.Sequence, &l.Owner, &l.Liquidator, &l.Mode,
			&amounts[0], &amounts[1], &amounts[2], &amounts[3], &amounts[4], &amounts[5], &amounts[6],
			&l.Timestamp,
		); err != nil {
			return nil, err
		}
		for i, dst := range []*string{
			&l.Coll, &l.Debt, &l.DebtOffset, &l.CollToSP,
			&l.DebtRedistributed, &l.CollRedistributed, &l.CollSurplus,
		} {
			if *dst, err = wholeUnits(amounts[i]); err != nil {
				return nil, err
			}
		}
		history = append(history, l)
	}
	return history, rows.Err()
}

// GetJournalHistory returns journal entries touching an account path,
// newest first.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	accountPath string,
	limit int,
	beforeSequence *int64,
) (_ []JournalHistoryEntry, err error) {
	defer qs.observe("journal", time.Now(), &err)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount::text, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account = $1 OR credit_account = $1)
	`
	args := []any{accountPath}
	argIdx := 2

	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, ClampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var (
			e      JournalHistoryEntry
			amount string
			jt     int32
		)
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &amount,
			&jt, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		if e.Amount, err = wholeUnits(amount); err != nil {
			return nil, err
		}
		e.JournalType = ledger.JournalType(jt).String()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity in the event log and that
// projected balances of every asset sum to zero.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (_ *IntegrityReport, err error) {
	defer qs.observe("integrity", time.Now(), &err)
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT e1.sequence
		FROM event_log.events e1
		JOIN event_log.events e2 ON e2.sequence = e1.sequence - 1
		WHERE e1.prev_hash <> e2.state_hash
		ORDER BY e1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset, SUM(balance)::text
		FROM projections.balances
		GROUP BY asset
		HAVING SUM(balance) <> 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var asset, total string
		if err := balanceRows.Scan(&asset, &total); err != nil {
			return nil, err
		}
		imbalance, err := wholeUnits(total)
		if err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			Asset:     asset,
			Imbalance: imbalance,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE projection_name = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	return seq, err
}

func (qs *QueryService) observe(endpoint string, start time.Time, err *error) {
	if qs.metrics == nil {
		return
	}
	status := "ok"
	if *err != nil {
		status = "error"
	}
	qs.metrics.QueryRequests.WithLabelValues(endpoint, status).Inc()
	qs.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// wholeUnits renders a raw 18-decimal NUMERIC as a whole-unit decimal.
func wholeUnits(raw string) (string, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return "", fmt.Errorf("parse amount %q: %w", raw, err)
	}
	return d.Shift(-18).String(), nil
}
