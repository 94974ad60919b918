package protocol

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"TroveLedger/internal/ledger"
	"TroveLedger/internal/state"
)

// DepositAsset brings collateral or reward tokens into a wallet from
// outside the system.
func (s *System) DepositAsset(tx Tx, user uuid.UUID, asset ledger.AssetID, amount *uint256.Int) (*Result, error) {
	if err := requireBridgeable(asset, amount); err != nil {
		return nil, err
	}
	if err := tx.Ledger.Mint(wallet(user, asset), amount, ledger.JournalTypeAssetDeposit); err != nil {
		return nil, err
	}
	return &Result{Touched: []uuid.UUID{user}}, nil
}

// WithdrawAsset sends collateral or reward tokens out of the system.
func (s *System) WithdrawAsset(tx Tx, user uuid.UUID, asset ledger.AssetID, amount *uint256.Int) (*Result, error) {
	if err := requireBridgeable(asset, amount); err != nil {
		return nil, err
	}
	if err := tx.Ledger.Burn(wallet(user, asset), amount, ledger.JournalTypeAssetWithdrawal); err != nil {
		return nil, err
	}
	return &Result{Touched: []uuid.UUID{user}}, nil
}

// TransferAsset moves any asset between two wallets.
func (s *System) TransferAsset(tx Tx, from, to uuid.UUID, asset ledger.AssetID, amount *uint256.Int) (*Result, error) {
	if _, ok := ledger.GetAssetName(asset); !ok {
		return nil, fmt.Errorf("asset %d: %w", asset, ErrUnknownAsset)
	}
	if amount.IsZero() {
		return nil, ErrZeroAmount
	}
	if from == to {
		return nil, fmt.Errorf("transfer to self: %w", ErrZeroAdjustment)
	}
	if err := tx.Ledger.Transfer(wallet(from, asset), wallet(to, asset), amount, ledger.JournalTypeAssetTransfer); err != nil {
		return nil, err
	}
	return &Result{Touched: []uuid.UUID{from, to}}, nil
}

func requireBridgeable(asset ledger.AssetID, amount *uint256.Int) error {
	if _, ok := ledger.GetAssetName(asset); !ok {
		return fmt.Errorf("asset %d: %w", asset, ErrUnknownAsset)
	}
	if asset == ledger.AssetStable {
		return ErrAssetNotBridgeable
	}
	if amount.IsZero() {
		return ErrZeroAmount
	}
	return nil
}

// UpdatePrice records an oracle price. Stale price sequences are ignored
// and reported as false.
func (s *System) UpdatePrice(price *uint256.Int, priceSequence, timestampUs int64) (bool, error) {
	if price.IsZero() {
		return false, fmt.Errorf("price: %w", ErrZeroAmount)
	}
	return s.Oracle.Update(price, priceSequence, timestampUs), nil
}

// UpdateParams replaces the protocol parameters.
func (s *System) UpdateParams(p *state.Params) error {
	if err := state.ValidateParams(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	if p.CollateralSymbol != s.Params.CollateralSymbol ||
		p.StableSymbol != s.Params.StableSymbol ||
		p.RewardSymbol != s.Params.RewardSymbol {
		return ErrSymbolChange
	}
	s.Params = p.Clone()
	return nil
}
