package core

import (
	"fmt"

	"TroveLedger/internal/event"
	"TroveLedger/internal/ledger"
	"TroveLedger/internal/protocol"
)

func (c *DeterministicCore) dispatch(tx protocol.Tx, evt event.Event) (*protocol.Result, error) {
	sys := c.system
	switch e := evt.(type) {
	case *event.PriceUpdated:
		if _, err := sys.UpdatePrice(e.Price, e.PriceSequence, e.TimestampUs()); err != nil {
			return nil, err
		}
		return &protocol.Result{}, nil

	case *event.ParamsUpdated:
		if err := sys.UpdateParams(e.Params); err != nil {
			return nil, err
		}
		return &protocol.Result{}, nil

	case *event.AssetDeposited:
		asset, err := resolveAsset(e.Asset)
		if err != nil {
			return nil, err
		}
		return sys.DepositAsset(tx, e.UserID, asset, e.Amount)

	case *event.AssetWithdrawn:
		asset, err := resolveAsset(e.Asset)
		if err != nil {
			return nil, err
		}
		return sys.WithdrawAsset(tx, e.UserID, asset, e.Amount)

	case *event.AssetTransferred:
		asset, err := resolveAsset(e.Asset)
		if err != nil {
			return nil, err
		}
		return sys.TransferAsset(tx, e.FromUserID, e.ToUserID, asset, e.Amount)

	case *event.TroveOpened:
		return sys.OpenTrove(tx, protocol.OpenTroveRequest{
			Owner:        e.Owner,
			Coll:         e.Collateral,
			StableAmount: e.StableAmount,
			MaxFee:       e.MaxFee,
		})

	case *event.TroveAdjusted:
		return sys.AdjustTrove(tx, protocol.AdjustTroveRequest{
			Owner:          e.Owner,
			CollDeposit:    e.CollDeposit,
			CollWithdrawal: e.CollWithdrawal,
			DebtChange:     e.DebtChange,
			DebtIncrease:   e.DebtIncrease,
			MaxFee:         e.MaxFee,
		})

	case *event.TroveClosed:
		return sys.CloseTrove(tx, e.Owner)

	case *event.CollateralClaimed:
		return sys.ClaimCollateral(tx, e.Owner)

	case *event.TroveLiquidated:
		return sys.Liquidate(tx, e.Liquidator, e.Owner)

	case *event.TrovesLiquidated:
		return sys.LiquidateBatch(tx, e.Liquidator, e.MaxCount)

	case *event.CollateralRedeemed:
		return sys.Redeem(tx, protocol.RedeemRequest{
			Redeemer:      e.Redeemer,
			Amount:        e.Amount,
			MaxFee:        e.MaxFee,
			MaxIterations: e.MaxIterations,
		})

	case *event.StabilityDeposited:
		return sys.ProvideToSP(tx, e.Depositor, e.Amount)

	case *event.StabilityWithdrawn:
		return sys.WithdrawFromSP(tx, e.Depositor, e.Amount)

	case *event.StabilityGainMoved:
		return sys.WithdrawCollateralGainToTrove(tx, e.Depositor)

	case *event.RewardsIssued:
		return sys.IssueRewards(tx, e.Amount)

	case *event.FeeStaked:
		return sys.Stake(tx, e.Staker, e.Amount)

	case *event.FeeUnstaked:
		return sys.Unstake(tx, e.Staker, e.Amount)

	default:
		return nil, fmt.Errorf("unknown event type: %T", evt)
	}
}

func resolveAsset(symbol string) (ledger.AssetID, error) {
	id, ok := ledger.GetAssetID(symbol)
	if !ok {
		return 0, fmt.Errorf("asset %q: %w", symbol, protocol.ErrUnknownAsset)
	}
	return id, nil
}
