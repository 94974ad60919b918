package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"

	"TroveLedger/internal/event"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/protocol"
)

// EncodeEvent renders a command in its wire JSON form. ParseCommand of the
// result yields an equal command, so the encoded form is what the event log
// stores and what replay parses.
func EncodeEvent(evt event.Event) ([]byte, error) {
	var v any
	switch e := evt.(type) {
	case *event.PriceUpdated:
		v = priceUpdatedJSON{headerOf(e.Header), wire(e.Price), e.PriceSequence}
	case *event.ParamsUpdated:
		if e.Params == nil {
			return nil, fmt.Errorf("encode ParamsUpdated: nil params")
		}
		v = paramsUpdatedJSON{headerOf(e.Header), protocol.ParamsToSnapshot(e.Params)}
	case *event.AssetDeposited:
		v = assetJSON{headerOf(e.Header), e.UserID.String(), e.Asset, wire(e.Amount)}
	case *event.AssetWithdrawn:
		v = assetJSON{headerOf(e.Header), e.UserID.String(), e.Asset, wire(e.Amount)}
	case *event.AssetTransferred:
		v = assetTransferJSON{headerOf(e.Header), e.FromUserID.String(), e.ToUserID.String(), e.Asset, wire(e.Amount)}
	case *event.TroveOpened:
		v = troveOpenedJSON{headerOf(e.Header), e.Owner.String(), wire(e.Collateral), wire(e.StableAmount), wire(e.MaxFee)}
	case *event.TroveAdjusted:
		v = troveAdjustedJSON{
			headerJSON:     headerOf(e.Header),
			Owner:          e.Owner.String(),
			CollDeposit:    wire(e.CollDeposit),
			CollWithdrawal: wire(e.CollWithdrawal),
			DebtChange:     wire(e.DebtChange),
			DebtIncrease:   e.DebtIncrease,
			MaxFee:         wire(e.MaxFee),
		}
	case *event.TroveClosed:
		v = ownerJSON{headerOf(e.Header), e.Owner.String()}
	case *event.CollateralClaimed:
		v = ownerJSON{headerOf(e.Header), e.Owner.String()}
	case *event.TroveLiquidated:
		v = troveLiquidatedJSON{headerOf(e.Header), e.Liquidator.String(), e.Owner.String()}
	case *event.TrovesLiquidated:
		v = trovesLiquidatedJSON{headerOf(e.Header), e.Liquidator.String(), e.MaxCount}
	case *event.CollateralRedeemed:
		v = collateralRedeemedJSON{headerOf(e.Header), e.Redeemer.String(), wire(e.Amount), wire(e.MaxFee), e.MaxIterations}
	case *event.StabilityDeposited:
		v = depositorAmountJSON{headerOf(e.Header), e.Depositor.String(), wire(e.Amount)}
	case *event.StabilityWithdrawn:
		v = depositorAmountJSON{headerOf(e.Header), e.Depositor.String(), wire(e.Amount)}
	case *event.StabilityGainMoved:
		v = depositorAmountJSON{headerJSON: headerOf(e.Header), Depositor: e.Depositor.String()}
	case *event.RewardsIssued:
		v = rewardsIssuedJSON{headerOf(e.Header), wire(e.Amount)}
	case *event.FeeStaked:
		v = stakerAmountJSON{headerOf(e.Header), e.Staker.String(), wire(e.Amount)}
	case *event.FeeUnstaked:
		v = stakerAmountJSON{headerOf(e.Header), e.Staker.String(), wire(e.Amount)}
	default:
		return nil, fmt.Errorf("encode: unsupported event %T", evt)
	}
	return json.Marshal(v)
}

func headerOf(h event.Header) headerJSON {
	return headerJSON{CommandID: h.CommandID.String(), Sequence: h.Sequence, TimestampUs: h.Timestamp}
}

func wire(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return fpmath.FormatWad(v)
}
