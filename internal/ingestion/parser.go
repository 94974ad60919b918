package ingestion

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"TroveLedger/internal/event"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/protocol"
)

// ParseRawEvent converts a RawEvent (JSON bytes + event type name) into a
// typed event.Event.
func ParseRawEvent(raw RawEvent, eventType string) (event.Event, error) {
	return ParseCommand(eventType, raw.Data)
}

// ParseCommand decodes the wire JSON of one command. Amounts are decimal
// strings in whole units ("1.5"), identifiers are UUIDs.
func ParseCommand(eventType string, data []byte) (event.Event, error) {
	t, err := event.ParseEventType(eventType)
	if err != nil {
		return nil, err
	}
	p := &wireParser{eventType: eventType}
	var evt event.Event
	switch t {
	case event.EventTypePriceUpdated:
		var j priceUpdatedJSON
		p.decode(data, &j)
		evt = &event.PriceUpdated{Header: p.header(j.headerJSON), Price: p.amount("price", j.Price), PriceSequence: j.PriceSequence}
	case event.EventTypeParamsUpdated:
		var j paramsUpdatedJSON
		p.decode(data, &j)
		h := p.header(j.headerJSON)
		if p.err != nil {
			return nil, p.err
		}
		params, err := protocol.ParamsFromSnapshot(j.Params)
		if err != nil {
			return nil, fmt.Errorf("parse %s params: %w", eventType, err)
		}
		evt = &event.ParamsUpdated{Header: h, Params: params}
	case event.EventTypeAssetDeposited:
		var j assetJSON
		p.decode(data, &j)
		evt = &event.AssetDeposited{Header: p.header(j.headerJSON), UserID: p.id("user_id", j.UserID), Asset: j.Asset, Amount: p.amount("amount", j.Amount)}
	case event.EventTypeAssetWithdrawn:
		var j assetJSON
		p.decode(data, &j)
		evt = &event.AssetWithdrawn{Header: p.header(j.headerJSON), UserID: p.id("user_id", j.UserID), Asset: j.Asset, Amount: p.amount("amount", j.Amount)}
	case event.EventTypeAssetTransferred:
		var j assetTransferJSON
		p.decode(data, &j)
		evt = &event.AssetTransferred{
			Header:     p.header(j.headerJSON),
			FromUserID: p.id("from_user_id", j.FromUserID),
			ToUserID:   p.id("to_user_id", j.ToUserID),
			Asset:      j.Asset,
			Amount:     p.amount("amount", j.Amount),
		}
	case event.EventTypeTroveOpened:
		var j troveOpenedJSON
		p.decode(data, &j)
		evt = &event.TroveOpened{
			Header:       p.header(j.headerJSON),
			Owner:        p.id("owner", j.Owner),
			Collateral:   p.amount("collateral", j.Collateral),
			StableAmount: p.amount("stable_amount", j.StableAmount),
			MaxFee:       p.amount("max_fee", j.MaxFee),
		}
	case event.EventTypeTroveAdjusted:
		var j troveAdjustedJSON
		p.decode(data, &j)
		evt = &event.TroveAdjusted{
			Header:         p.header(j.headerJSON),
			Owner:          p.id("owner", j.Owner),
			CollDeposit:    p.amount("coll_deposit", j.CollDeposit),
			CollWithdrawal: p.amount("coll_withdrawal", j.CollWithdrawal),
			DebtChange:     p.amount("debt_change", j.DebtChange),
			DebtIncrease:   j.DebtIncrease,
			MaxFee:         p.amount("max_fee", j.MaxFee),
		}
	case event.EventTypeTroveClosed:
		var j ownerJSON
		p.decode(data, &j)
		evt = &event.TroveClosed{Header: p.header(j.headerJSON), Owner: p.id("owner", j.Owner)}
	case event.EventTypeCollateralClaimed:
		var j ownerJSON
		p.decode(data, &j)
		evt = &event.CollateralClaimed{Header: p.header(j.headerJSON), Owner: p.id("owner", j.Owner)}
	case event.EventTypeTroveLiquidated:
		var j troveLiquidatedJSON
		p.decode(data, &j)
		evt = &event.TroveLiquidated{Header: p.header(j.headerJSON), Liquidator: p.id("liquidator", j.Liquidator), Owner: p.id("owner", j.Owner)}
	case event.EventTypeTrovesLiquidated:
		var j trovesLiquidatedJSON
		p.decode(data, &j)
		evt = &event.TrovesLiquidated{Header: p.header(j.headerJSON), Liquidator: p.id("liquidator", j.Liquidator), MaxCount: j.MaxCount}
	case event.EventTypeCollateralRedeemed:
		var j collateralRedeemedJSON
		p.decode(data, &j)
		evt = &event.CollateralRedeemed{
			Header:        p.header(j.headerJSON),
			Redeemer:      p.id("redeemer", j.Redeemer),
			Amount:        p.amount("amount", j.Amount),
			MaxFee:        p.amount("max_fee", j.MaxFee),
			MaxIterations: j.MaxIterations,
		}
	case event.EventTypeStabilityDeposited:
		var j depositorAmountJSON
		p.decode(data, &j)
		evt = &event.StabilityDeposited{Header: p.header(j.headerJSON), Depositor: p.id("depositor", j.Depositor), Amount: p.amount("amount", j.Amount)}
	case event.EventTypeStabilityWithdrawn:
		var j depositorAmountJSON
		p.decode(data, &j)
		evt = &event.StabilityWithdrawn{Header: p.header(j.headerJSON), Depositor: p.id("depositor", j.Depositor), Amount: p.amount("amount", j.Amount)}
	case event.EventTypeStabilityGainMoved:
		var j depositorAmountJSON
		p.decode(data, &j)
		evt = &event.StabilityGainMoved{Header: p.header(j.headerJSON), Depositor: p.id("depositor", j.Depositor)}
	case event.EventTypeRewardsIssued:
		var j rewardsIssuedJSON
		p.decode(data, &j)
		evt = &event.RewardsIssued{Header: p.header(j.headerJSON), Amount: p.amount("amount", j.Amount)}
	case event.EventTypeFeeStaked:
		var j stakerAmountJSON
		p.decode(data, &j)
		evt = &event.FeeStaked{Header: p.header(j.headerJSON), Staker: p.id("staker", j.Staker), Amount: p.amount("amount", j.Amount)}
	case event.EventTypeFeeUnstaked:
		var j stakerAmountJSON
		p.decode(data, &j)
		evt = &event.FeeUnstaked{Header: p.header(j.headerJSON), Staker: p.id("staker", j.Staker), Amount: p.amount("amount", j.Amount)}
	default:
		return nil, fmt.Errorf("unknown event type: %s", eventType)
	}
	if p.err != nil {
		return nil, p.err
	}
	return evt, nil
}

// wireParser keeps the first field error so each case reads as a flat list
// of conversions.
type wireParser struct {
	eventType string
	err       error
}

func (p *wireParser) fail(field string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("parse %s %s: %w", p.eventType, field, err)
	}
}

func (p *wireParser) decode(data []byte, v any) {
	if err := json.Unmarshal(data, v); err != nil {
		p.fail("payload", err)
	}
}

func (p *wireParser) header(h headerJSON) event.Header {
	return event.Header{
		CommandID: p.id("command_id", h.CommandID),
		Sequence:  h.Sequence,
		Timestamp: h.TimestampUs,
	}
}

func (p *wireParser) id(field, s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		p.fail(field, err)
	}
	return id
}

func (p *wireParser) amount(field, s string) *uint256.Int {
	v, err := fpmath.ParseWad(s)
	if err != nil {
		p.fail(field, err)
		return fpmath.Zero()
	}
	return v
}

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers.

type headerJSON struct {
	CommandID   string `json:"command_id"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

type priceUpdatedJSON struct {
	headerJSON
	Price         string `json:"price"`
	PriceSequence int64  `json:"price_sequence"`
}

type paramsUpdatedJSON struct {
	headerJSON
	Params protocol.ParamsSnapshot `json:"params"`
}

type assetJSON struct {
	headerJSON
	UserID string `json:"user_id"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type assetTransferJSON struct {
	headerJSON
	FromUserID string `json:"from_user_id"`
	ToUserID   string `json:"to_user_id"`
	Asset      string `json:"asset"`
	Amount     string `json:"amount"`
}

type troveOpenedJSON struct {
	headerJSON
	Owner        string `json:"owner"`
	Collateral   string `json:"collateral"`
	StableAmount string `json:"stable_amount"`
	MaxFee       string `json:"max_fee"`
}

type troveAdjustedJSON struct {
	headerJSON
	Owner          string `json:"owner"`
	CollDeposit    string `json:"coll_deposit,omitempty"`
	CollWithdrawal string `json:"coll_withdrawal,omitempty"`
	DebtChange     string `json:"debt_change,omitempty"`
	DebtIncrease   bool   `json:"debt_increase"`
	MaxFee         string `json:"max_fee,omitempty"`
}

type ownerJSON struct {
	headerJSON
	Owner string `json:"owner"`
}

type troveLiquidatedJSON struct {
	headerJSON
	Liquidator string `json:"liquidator"`
	Owner      string `json:"owner"`
}

type trovesLiquidatedJSON struct {
	headerJSON
	Liquidator string `json:"liquidator"`
	MaxCount   uint32 `json:"max_count"`
}

type collateralRedeemedJSON struct {
	headerJSON
	Redeemer      string `json:"redeemer"`
	Amount        string `json:"amount"`
	MaxFee        string `json:"max_fee"`
	MaxIterations uint32 `json:"max_iterations"`
}

type depositorAmountJSON struct {
	headerJSON
	Depositor string `json:"depositor"`
	Amount    string `json:"amount,omitempty"`
}

type rewardsIssuedJSON struct {
	headerJSON
	Amount string `json:"amount"`
}

type stakerAmountJSON struct {
	headerJSON
	Staker string `json:"staker"`
	Amount string `json:"amount"`
}
