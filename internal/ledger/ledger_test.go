package ledger_test

import (
	"errors"
	"testing"

	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"

	"github.com/google/uuid"
)

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_WalletPath(t *testing.T) {
	userID := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	key := ledger.WalletKey(userID, ledger.AssetStable)

	path := key.AccountPath()
	expected := "user:550e8400-e29b-41d4-a716-446655440000:wallet:LAI"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_PoolPath(t *testing.T) {
	key := ledger.PoolKey(ledger.SubTypeStabilityPool, ledger.AssetCollateral)

	path := key.AccountPath()
	if path != "system:stability_pool:ETH" {
		t.Errorf("got %q, want %q", path, "system:stability_pool:ETH")
	}
}

func TestAccountKey_SupplyPath(t *testing.T) {
	key := ledger.SupplyKey(ledger.AssetReward)

	if key.AccountPath() != "external:supply:LAO" {
		t.Errorf("got %q, want %q", key.AccountPath(), "external:supply:LAO")
	}
	if !key.IsExternal() {
		t.Error("supply key should be external")
	}
}

func TestGetAssetID_Unknown(t *testing.T) {
	if _, ok := ledger.GetAssetID("DOGE"); ok {
		t.Error("DOGE should not be a known asset")
	}
}

func TestConfigureAssetSymbols_RejectsDuplicates(t *testing.T) {
	if err := ledger.ConfigureAssetSymbols("ETH", "ETH", "LAO"); err == nil {
		t.Error("expected error for duplicate symbols")
	}
}

// ============================================================================
// Test: Recorder + BalanceTracker
// ============================================================================

func mustMint(t *testing.T, bt *ledger.BalanceTracker, to ledger.AccountKey, amount string) {
	t.Helper()
	rec := ledger.NewRecorder(bt, "mint-"+uuid.NewString(), 0, 0)
	if err := rec.Mint(to, fpmath.MustParseWad(amount), ledger.JournalTypeAssetDeposit); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := bt.ApplyBatch(rec.Batch()); err != nil {
		t.Fatalf("apply: %v", err)
	}
}

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	if !bt.GetWalletBalance(uuid.New(), ledger.AssetCollateral).IsZero() {
		t.Error("initial balance should be 0")
	}
}

func TestRecorder_MintThenTransfer(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	user := uuid.New()
	wallet := ledger.WalletKey(user, ledger.AssetCollateral)
	active := ledger.PoolKey(ledger.SubTypeActivePool, ledger.AssetCollateral)

	mustMint(t, bt, wallet, "10")

	rec := ledger.NewRecorder(bt, "open-1", 1, 100)
	if err := rec.Transfer(wallet, active, fpmath.MustParseWad("4"), ledger.JournalTypeCollateralLock); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	// The staged transfer is visible to the recorder but not to the tracker.
	if got := fpmath.FormatWad(rec.Balance(wallet)); got != "6" {
		t.Errorf("staged wallet: got %s, want 6", got)
	}
	if got := fpmath.FormatWad(bt.GetBalance(wallet)); got != "10" {
		t.Errorf("tracker wallet before apply: got %s, want 10", got)
	}

	if err := bt.ApplyBatch(rec.Batch()); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := fpmath.FormatWad(bt.GetBalance(active)); got != "4" {
		t.Errorf("active pool: got %s, want 4", got)
	}
}

func TestRecorder_OverdrawSeesStagedMovements(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	wallet := ledger.WalletKey(uuid.New(), ledger.AssetStable)
	gas := ledger.PoolKey(ledger.SubTypeGasPool, ledger.AssetStable)

	mustMint(t, bt, wallet, "5")

	rec := ledger.NewRecorder(bt, "burn-1", 1, 0)
	if err := rec.Transfer(wallet, gas, fpmath.MustParseWad("3"), ledger.JournalTypeAssetTransfer); err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	err := rec.Burn(wallet, fpmath.MustParseWad("3"), ledger.JournalTypeDebtRepay)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if len(rec.Batch().Journals) != 1 {
		t.Errorf("failed posting must not be staged, got %d journals", len(rec.Batch().Journals))
	}
}

func TestRecorder_ZeroAmountSkipped(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	rec := ledger.NewRecorder(bt, "zero", 1, 0)
	wallet := ledger.WalletKey(uuid.New(), ledger.AssetStable)

	if err := rec.Mint(wallet, fpmath.Zero(), ledger.JournalTypeDebtIssue); err != nil {
		t.Fatalf("mint zero: %v", err)
	}
	if len(rec.Batch().Journals) != 0 {
		t.Error("zero mint should not stage a journal")
	}
}

func TestRecorder_DeterministicIDs(t *testing.T) {
	wallet := ledger.WalletKey(uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"), ledger.AssetStable)

	build := func() *ledger.Batch {
		rec := ledger.NewRecorder(ledger.NewBalanceTracker(), "cmd-42", 7, 0)
		_ = rec.Mint(wallet, fpmath.Units(1), ledger.JournalTypeDebtIssue)
		return rec.Batch()
	}

	a, b := build(), build()
	if a.BatchID != b.BatchID {
		t.Error("batch IDs differ across identical commands")
	}
	if a.Journals[0].JournalID != b.Journals[0].JournalID {
		t.Error("journal IDs differ across identical commands")
	}
}

func TestBalanceTracker_ApplyBatchIsAtomic(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	user := uuid.New()
	wallet := ledger.WalletKey(user, ledger.AssetCollateral)
	batchID := uuid.New()

	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  wallet,
				CreditAccount: ledger.SupplyKey(ledger.AssetCollateral),
				AssetID:       ledger.AssetCollateral,
				Amount:        fpmath.Units(1),
			},
			{
				JournalID:     uuid.New(),
				BatchID:       batchID,
				DebitAccount:  ledger.PoolKey(ledger.SubTypeActivePool, ledger.AssetCollateral),
				CreditAccount: wallet,
				AssetID:       ledger.AssetCollateral,
				Amount:        fpmath.Units(2),
			},
		},
	}

	if err := bt.ApplyBatch(batch); err == nil {
		t.Fatal("expected overdraw error")
	}
	if !bt.GetBalance(wallet).IsZero() {
		t.Error("failed batch must leave balances untouched")
	}
	if !bt.GetSupply(ledger.AssetCollateral).IsZero() {
		t.Error("failed batch must leave supply untouched")
	}
}

func TestBatch_ValidateRejectsMixedAssets(t *testing.T) {
	batchID := uuid.New()
	batch := &ledger.Batch{
		BatchID: batchID,
		Journals: []ledger.Journal{{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			DebitAccount:  ledger.WalletKey(uuid.New(), ledger.AssetStable),
			CreditAccount: ledger.WalletKey(uuid.New(), ledger.AssetCollateral),
			AssetID:       ledger.AssetStable,
			Amount:        fpmath.Units(1),
		}},
	}
	if err := batch.Validate(); err == nil {
		t.Error("expected mixed-asset error")
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestInvariantValidator_SupplyConservation(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	v := ledger.NewInvariantValidator(bt)
	a, b := uuid.New(), uuid.New()

	mustMint(t, bt, ledger.WalletKey(a, ledger.AssetStable), "100")
	mustMint(t, bt, ledger.WalletKey(b, ledger.AssetStable), "50")

	rec := ledger.NewRecorder(bt, "sp", 1, 0)
	sp := ledger.PoolKey(ledger.SubTypeStabilityPool, ledger.AssetStable)
	_ = rec.Transfer(ledger.WalletKey(a, ledger.AssetStable), sp, fpmath.Units(40), ledger.JournalTypeStabilityDeposit)
	_ = rec.Burn(sp, fpmath.Units(10), ledger.JournalTypeStabilityOffset)
	if err := bt.ApplyBatch(rec.Batch()); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if err := v.ValidateSupplyConservation(); err != nil {
		t.Errorf("conservation: %v", err)
	}
	if got := fpmath.FormatWad(bt.GetSupply(ledger.AssetStable)); got != "140" {
		t.Errorf("supply: got %s, want 140", got)
	}
	if err := v.ValidatePoolBalance(sp, fpmath.Units(30)); err != nil {
		t.Errorf("pool balance: %v", err)
	}
}

func TestBalanceTracker_SnapshotRestore(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	wallet := ledger.WalletKey(uuid.New(), ledger.AssetReward)
	mustMint(t, bt, wallet, "7.5")

	restored := ledger.NewBalanceTracker()
	restored.Restore(bt.Snapshot(), bt.SupplySnapshot())

	if !restored.GetBalance(wallet).Eq(bt.GetBalance(wallet)) {
		t.Error("restored balance differs")
	}
	if !restored.GetSupply(ledger.AssetReward).Eq(fpmath.MustParseWad("7.5")) {
		t.Error("restored supply differs")
	}
}
