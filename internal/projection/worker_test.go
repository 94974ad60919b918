package projection

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"TroveLedger/internal/core"
	"TroveLedger/internal/event"
	"TroveLedger/internal/ledger"
	"TroveLedger/internal/protocol"
)

func wad(t *testing.T, s string) *uint256.Int {
	t.Helper()
	v, err := uint256.FromDecimal(s)
	if err != nil {
		t.Fatalf("amount %s: %v", s, err)
	}
	return v
}

func journal(debit, credit ledger.AccountKey, amount *uint256.Int) ledger.Journal {
	return ledger.Journal{
		JournalID:     uuid.New(),
		DebitAccount:  debit,
		CreditAccount: credit,
		AssetID:       debit.AssetID,
		Amount:        amount,
	}
}

func TestNewUpdate_NetsBalancesPerAccount(t *testing.T) {
	owner := uuid.New()
	wallet := ledger.WalletKey(owner, ledger.AssetStable)
	gas := ledger.PoolKey(ledger.SubTypeGasPool, ledger.AssetStable)
	supply := ledger.SupplyKey(ledger.AssetStable)

	out := core.CoreOutput{
		Envelope: &event.EventEnvelope{Sequence: 4},
		Batch: &ledger.Batch{Journals: []ledger.Journal{
			journal(wallet, supply, wad(t, "1800")),
			journal(gas, supply, wad(t, "200")),
			journal(supply, wallet, wad(t, "300")),
		}},
	}

	u := NewUpdate(out)
	if u.Sequence != 4 {
		t.Fatalf("sequence = %d", u.Sequence)
	}
	got := make(map[string]decimal.Decimal)
	sum := decimal.Zero
	for _, b := range u.Balances {
		if b.Asset != "LAI" {
			t.Errorf("asset = %s", b.Asset)
		}
		got[b.AccountPath] = b.Delta
		sum = sum.Add(b.Delta)
	}
	if !sum.IsZero() {
		t.Errorf("deltas sum to %s", sum)
	}
	if d := got[wallet.AccountPath()]; !d.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("wallet delta = %s", d)
	}
	if d := got[supply.AccountPath()]; !d.Equal(decimal.NewFromInt(-1700)) {
		t.Errorf("supply delta = %s", d)
	}
	if len(u.Liquidations) != 0 {
		t.Errorf("liquidations = %d", len(u.Liquidations))
	}
}

func TestNewUpdate_SkipsNetZeroAccounts(t *testing.T) {
	a := ledger.WalletKey(uuid.New(), ledger.AssetCollateral)
	b := ledger.WalletKey(uuid.New(), ledger.AssetCollateral)
	out := core.CoreOutput{
		Envelope: &event.EventEnvelope{Sequence: 1},
		Batch: &ledger.Batch{Journals: []ledger.Journal{
			journal(a, b, wad(t, "5")),
			journal(b, a, wad(t, "5")),
		}},
	}
	if u := NewUpdate(out); len(u.Balances) != 0 {
		t.Errorf("balances = %+v", u.Balances)
	}
}

func TestNewUpdate_Liquidations(t *testing.T) {
	owner, liquidator := uuid.New(), uuid.New()
	ts := time.UnixMicro(1_700_000_000_000_000).UTC()
	out := core.CoreOutput{
		Envelope: &event.EventEnvelope{Sequence: 9, Timestamp: ts},
		Result: &protocol.Result{Liquidation: &protocol.LiquidationTotals{
			Liquidator: liquidator,
			Troves: []protocol.LiquidatedTrove{{
				Owner:      owner,
				Mode:       protocol.ModeNormal,
				Debt:       wad(t, "2000"),
				Coll:       wad(t, "11"),
				DebtOffset: wad(t, "2000"),
				CollToSP:   wad(t, "10945"),
			}},
		}},
	}

	u := NewUpdate(out)
	if len(u.Liquidations) != 1 {
		t.Fatalf("liquidations = %d", len(u.Liquidations))
	}
	l := u.Liquidations[0]
	if l.Owner != owner || l.Liquidator != liquidator || l.Mode != "normal" {
		t.Errorf("row = %+v", l)
	}
	if l.Debt != "2000" || l.CollSurplus != "0" || !l.Timestamp.Equal(ts) {
		t.Errorf("row = %+v", l)
	}
}
