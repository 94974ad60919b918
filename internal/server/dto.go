package server

import (
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"TroveLedger/internal/core"
	"TroveLedger/internal/event"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/protocol"
)

// JSON shapes of the API. Amounts and ratios are decimal strings in whole
// units; an empty string means the value is not defined yet.

type systemJSON struct {
	AsOfSequence    int64  `json:"as_of_sequence"`
	Price           string `json:"price,omitempty"`
	TCR             string `json:"tcr,omitempty"`
	RecoveryMode    bool   `json:"recovery_mode"`
	ActiveTroves    int    `json:"active_troves"`
	EntireColl      string `json:"entire_coll"`
	EntireDebt      string `json:"entire_debt"`
	ActiveColl      string `json:"active_coll"`
	ActiveDebt      string `json:"active_debt"`
	DefaultColl     string `json:"default_coll"`
	DefaultDebt     string `json:"default_debt"`
	BaseRate        string `json:"base_rate"`
	LastFeeOpTimeUs int64  `json:"last_fee_op_time_us"`

	LColl                   string `json:"l_coll"`
	LDebt                   string `json:"l_debt"`
	LastCollError           string `json:"last_coll_error"`
	LastDebtError           string `json:"last_debt_error"`
	TotalStakes             string `json:"total_stakes"`
	TotalStakesSnapshot     string `json:"total_stakes_snapshot"`
	TotalCollateralSnapshot string `json:"total_collateral_snapshot"`

	SPTotalDeposits string `json:"sp_total_deposits"`
	P               string `json:"p"`
	Epoch           uint64 `json:"epoch"`
	Scale           uint64 `json:"scale"`
	S               string `json:"s"`
	G               string `json:"g"`

	FColl       string `json:"f_coll"`
	FStable     string `json:"f_stable"`
	TotalStaked string `json:"total_staked"`
	CollSurplus string `json:"coll_surplus"`
}

func newSystemJSON(v protocol.SystemView, asOf int64) systemJSON {
	return systemJSON{
		AsOfSequence:            asOf,
		Price:                   amt(v.Price),
		TCR:                     amt(v.TCR),
		RecoveryMode:            v.RecoveryMode,
		ActiveTroves:            v.ActiveTroves,
		EntireColl:              amt(v.EntireColl),
		EntireDebt:              amt(v.EntireDebt),
		ActiveColl:              amt(v.ActiveColl),
		ActiveDebt:              amt(v.ActiveDebt),
		DefaultColl:             amt(v.DefaultColl),
		DefaultDebt:             amt(v.DefaultDebt),
		BaseRate:                amt(v.BaseRate),
		LastFeeOpTimeUs:         v.LastFeeOpTimeUs,
		LColl:                   amt(v.LColl),
		LDebt:                   amt(v.LDebt),
		LastCollError:           amt(v.LastCollError),
		LastDebtError:           amt(v.LastDebtError),
		TotalStakes:             amt(v.TotalStakes),
		TotalStakesSnapshot:     amt(v.TotalStakesSnapshot),
		TotalCollateralSnapshot: amt(v.TotalCollateralSnapshot),
		SPTotalDeposits:         amt(v.SPTotalDeposits),
		P:                       amt(v.P),
		Epoch:                   v.Epoch,
		Scale:                   v.Scale,
		S:                       amt(v.S),
		G:                       amt(v.G),
		FColl:                   amt(v.FColl),
		FStable:                 amt(v.FStable),
		TotalStaked:             amt(v.TotalStaked),
		CollSurplus:             amt(v.CollSurplus),
	}
}

type troveJSON struct {
	AsOfSequence int64     `json:"as_of_sequence"`
	Owner        uuid.UUID `json:"owner"`
	Status       string    `json:"status"`
	Coll         string    `json:"coll"`
	Debt         string    `json:"debt"`
	PendingColl  string    `json:"pending_coll"`
	PendingDebt  string    `json:"pending_debt"`
	Stake        string    `json:"stake"`
	SnapshotColl string    `json:"snapshot_l_coll"`
	SnapshotDebt string    `json:"snapshot_l_debt"`
	ICR          string    `json:"icr,omitempty"`
	NICR         string    `json:"nicr,omitempty"`
	Version      int64     `json:"version"`
}

func newTroveJSON(v protocol.TroveView, asOf int64) troveJSON {
	return troveJSON{
		AsOfSequence: asOf,
		Owner:        v.Owner,
		Status:       v.Status.String(),
		Coll:         amt(v.Coll),
		Debt:         amt(v.Debt),
		PendingColl:  amt(v.PendingColl),
		PendingDebt:  amt(v.PendingDebt),
		Stake:        amt(v.Stake),
		SnapshotColl: amt(v.Snapshot.LColl),
		SnapshotDebt: amt(v.Snapshot.LDebt),
		ICR:          amt(v.ICR),
		NICR:         amt(v.NICR),
		Version:      v.Version,
	}
}

type depositJSON struct {
	AsOfSequence int64     `json:"as_of_sequence"`
	Depositor    uuid.UUID `json:"depositor"`
	Initial      string    `json:"initial"`
	Compounded   string    `json:"compounded"`
	CollGain     string    `json:"coll_gain"`
	RewardGain   string    `json:"reward_gain"`
	SnapshotP    string    `json:"snapshot_p"`
	SnapshotS    string    `json:"snapshot_s"`
	SnapshotG    string    `json:"snapshot_g"`
	Epoch        uint64    `json:"snapshot_epoch"`
	Scale        uint64    `json:"snapshot_scale"`
}

func newDepositJSON(v protocol.DepositView, asOf int64) depositJSON {
	return depositJSON{
		AsOfSequence: asOf,
		Depositor:    v.Depositor,
		Initial:      amt(v.Initial),
		Compounded:   amt(v.Compounded),
		CollGain:     amt(v.CollGain),
		RewardGain:   amt(v.RewardGain),
		SnapshotP:    amt(v.Snapshot.P),
		SnapshotS:    amt(v.Snapshot.S),
		SnapshotG:    amt(v.Snapshot.G),
		Epoch:        v.Snapshot.Epoch,
		Scale:        v.Snapshot.Scale,
	}
}

type stakeJSON struct {
	AsOfSequence int64     `json:"as_of_sequence"`
	Staker       uuid.UUID `json:"staker"`
	Amount       string    `json:"amount"`
	CollGain     string    `json:"coll_gain"`
	StableGain   string    `json:"stable_gain"`
}

func newStakeJSON(v protocol.StakeView, asOf int64) stakeJSON {
	return stakeJSON{
		AsOfSequence: asOf,
		Staker:       v.Staker,
		Amount:       amt(v.Amount),
		CollGain:     amt(v.CollGain),
		StableGain:   amt(v.StableGain),
	}
}

type commandJSON struct {
	EventType      string `json:"event_type"`
	IdempotencyKey string `json:"idempotency_key"`
	Applied        bool   `json:"applied"` // false for a duplicate
	Sequence       *int64 `json:"sequence,omitempty"`
	StateHash      string `json:"state_hash,omitempty"`
}

func newCommandJSON(cmd event.Event, out *core.CoreOutput) commandJSON {
	resp := commandJSON{
		EventType:      cmd.EventType().String(),
		IdempotencyKey: cmd.IdempotencyKey(),
	}
	if out != nil && out.Envelope != nil {
		seq := out.Envelope.Sequence
		resp.Applied = true
		resp.Sequence = &seq
		resp.StateHash = hex.EncodeToString(out.Envelope.StateHash[:])
	}
	return resp
}

func amt(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return fpmath.FormatWad(v)
}
