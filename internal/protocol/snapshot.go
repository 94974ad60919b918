package protocol

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/state"
)

// Snapshot is the serializable form of a System. Amounts are decimal
// strings with 18 fractional digits.
type Snapshot struct {
	Params   ParamsSnapshot    `json:"params"`
	Troves   []TroveSnapshot   `json:"troves"`
	Rewards  RewardsSnapshot   `json:"rewards"`
	Active   PoolSnapshot      `json:"active_pool"`
	Default  PoolSnapshot      `json:"default_pool"`
	SP       StabilitySnapshot `json:"stability_pool"`
	Staking  StakingSnapshot   `json:"staking"`
	BaseRate BaseRateSnapshot  `json:"base_rate"`
	Surplus  []BalanceSnapshot `json:"coll_surplus"`
	Oracle   OracleSnapshot    `json:"oracle"`
}

type ParamsSnapshot struct {
	MCR                string `json:"mcr"`
	CCR                string `json:"ccr"`
	GasCompensation    string `json:"gas_compensation"`
	MinNetDebt         string `json:"min_net_debt"`
	PercentDivisor     uint64 `json:"percent_divisor"`
	BorrowingFeeFloor  string `json:"borrowing_fee_floor"`
	MaxBorrowingFee    string `json:"max_borrowing_fee"`
	RedemptionFeeFloor string `json:"redemption_fee_floor"`
	Beta               uint64 `json:"beta"`
	MinuteDecayFactor  string `json:"minute_decay_factor"`
	CollateralSymbol   string `json:"collateral_symbol"`
	StableSymbol       string `json:"stable_symbol"`
	RewardSymbol       string `json:"reward_symbol"`
	EffectiveSeq       int64  `json:"effective_seq"`
}

type TroveSnapshot struct {
	Owner   uuid.UUID `json:"owner"`
	Status  int32     `json:"status"`
	Coll    string    `json:"coll"`
	Debt    string    `json:"debt"`
	Stake   string    `json:"stake"`
	LColl   string    `json:"l_coll"`
	LDebt   string    `json:"l_debt"`
	NICR    string    `json:"nicr,omitempty"` // sorted-list key of an active Trove
	Version int64     `json:"version"`
}

type RewardsSnapshot struct {
	LColl                   string `json:"l_coll"`
	LDebt                   string `json:"l_debt"`
	LastCollError           string `json:"last_coll_error"`
	LastDebtError           string `json:"last_debt_error"`
	TotalStakes             string `json:"total_stakes"`
	TotalStakesSnapshot     string `json:"total_stakes_snapshot"`
	TotalCollateralSnapshot string `json:"total_collateral_snapshot"`
	DiscardedColl           string `json:"discarded_coll"`
	DiscardedDebt           string `json:"discarded_debt"`
}

type PoolSnapshot struct {
	Coll string `json:"coll"`
	Debt string `json:"debt"`
}

type SumSnapshot struct {
	Epoch uint64 `json:"epoch"`
	Scale uint64 `json:"scale"`
	Value string `json:"value"`
}

type DepositSnapshot struct {
	Depositor uuid.UUID `json:"depositor"`
	Initial   string    `json:"initial"`
	P         string    `json:"p"`
	S         string    `json:"s"`
	G         string    `json:"g"`
	Epoch     uint64    `json:"epoch"`
	Scale     uint64    `json:"scale"`
}

type StabilitySnapshot struct {
	TotalDeposits   string            `json:"total_deposits"`
	P               string            `json:"p"`
	Epoch           uint64            `json:"epoch"`
	Scale           uint64            `json:"scale"`
	S               []SumSnapshot     `json:"s"`
	G               []SumSnapshot     `json:"g"`
	LastCollError   string            `json:"last_coll_error"`
	LastLossError   string            `json:"last_loss_error"`
	LastRewardError string            `json:"last_reward_error"`
	CollBalance     string            `json:"coll_balance"`
	RewardBalance   string            `json:"reward_balance"`
	Deposits        []DepositSnapshot `json:"deposits"`
}

type StakeSnapshot struct {
	Staker      uuid.UUID `json:"staker"`
	Amount      string    `json:"amount"`
	FCollSnap   string    `json:"f_coll_snapshot"`
	FStableSnap string    `json:"f_stable_snapshot"`
}

type StakingSnapshot struct {
	TotalStaked         string          `json:"total_staked"`
	FColl               string          `json:"f_coll"`
	FStable             string          `json:"f_stable"`
	UndistributedColl   string          `json:"undistributed_coll"`
	UndistributedStable string          `json:"undistributed_stable"`
	Stakes              []StakeSnapshot `json:"stakes"`
}

type BaseRateSnapshot struct {
	Rate            string `json:"rate"`
	LastFeeOpTimeUs int64  `json:"last_fee_op_time_us"`
}

type BalanceSnapshot struct {
	Owner  uuid.UUID `json:"owner"`
	Amount string    `json:"amount"`
}

type OracleSnapshot struct {
	Price         string `json:"price"`
	PriceSequence int64  `json:"price_sequence"`
	Timestamp     int64  `json:"timestamp"`
}

func fmtWad(v *uint256.Int) string {
	return fpmath.FormatWad(v)
}

func sortedOwners(ids []uuid.UUID) []uuid.UUID {
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids
}

func sumsSnapshot(m map[state.EpochScale]*uint256.Int) []SumSnapshot {
	out := make([]SumSnapshot, 0, len(m))
	for k, v := range m {
		out = append(out, SumSnapshot{Epoch: k.Epoch, Scale: k.Scale, Value: fmtWad(v)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Epoch != out[j].Epoch {
			return out[i].Epoch < out[j].Epoch
		}
		return out[i].Scale < out[j].Scale
	})
	return out
}

// ParamsToSnapshot renders parameters as decimal strings.
func ParamsToSnapshot(p *state.Params) ParamsSnapshot {
	return ParamsSnapshot{
		MCR:                fmtWad(p.MCR),
		CCR:                fmtWad(p.CCR),
		GasCompensation:    fmtWad(p.GasCompensation),
		MinNetDebt:         fmtWad(p.MinNetDebt),
		PercentDivisor:     p.PercentDivisor,
		BorrowingFeeFloor:  fmtWad(p.BorrowingFeeFloor),
		MaxBorrowingFee:    fmtWad(p.MaxBorrowingFee),
		RedemptionFeeFloor: fmtWad(p.RedemptionFeeFloor),
		Beta:               p.Beta,
		MinuteDecayFactor:  fmtWad(p.MinuteDecayFactor),
		CollateralSymbol:   p.CollateralSymbol,
		StableSymbol:       p.StableSymbol,
		RewardSymbol:       p.RewardSymbol,
		EffectiveSeq:       p.EffectiveSeq,
	}
}

// Snapshot captures the whole System. Collections are ordered so equal
// states serialize identically.
func (s *System) Snapshot() *Snapshot {
	snap := &Snapshot{
		Params: ParamsToSnapshot(s.Params),
		Rewards: RewardsSnapshot{
			LColl:                   fmtWad(s.Rewards.LColl),
			LDebt:                   fmtWad(s.Rewards.LDebt),
			LastCollError:           fmtWad(s.Rewards.LastCollError),
			LastDebtError:           fmtWad(s.Rewards.LastDebtError),
			TotalStakes:             fmtWad(s.Rewards.TotalStakes),
			TotalStakesSnapshot:     fmtWad(s.Rewards.TotalStakesSnapshot),
			TotalCollateralSnapshot: fmtWad(s.Rewards.TotalCollateralSnapshot),
			DiscardedColl:           fmtWad(s.Rewards.DiscardedColl),
			DiscardedDebt:           fmtWad(s.Rewards.DiscardedDebt),
		},
		Active:  PoolSnapshot{Coll: fmtWad(s.Active.Coll), Debt: fmtWad(s.Active.Debt)},
		Default: PoolSnapshot{Coll: fmtWad(s.Default.Coll), Debt: fmtWad(s.Default.Debt)},
		SP: StabilitySnapshot{
			TotalDeposits:   fmtWad(s.SP.TotalDeposits),
			P:               fmtWad(s.SP.P),
			Epoch:           s.SP.CurrentEpoch,
			Scale:           s.SP.CurrentScale,
			S:               sumsSnapshot(s.SP.S),
			G:               sumsSnapshot(s.SP.G),
			LastCollError:   fmtWad(s.SP.LastCollError),
			LastLossError:   fmtWad(s.SP.LastLossError),
			LastRewardError: fmtWad(s.SP.LastRewardError),
			CollBalance:     fmtWad(s.SP.CollBalance),
			RewardBalance:   fmtWad(s.SP.RewardBalance),
		},
		Staking: StakingSnapshot{
			TotalStaked:         fmtWad(s.Staking.TotalStaked),
			FColl:               fmtWad(s.Staking.FColl),
			FStable:             fmtWad(s.Staking.FStable),
			UndistributedColl:   fmtWad(s.Staking.UndistributedColl),
			UndistributedStable: fmtWad(s.Staking.UndistributedStable),
		},
		BaseRate: BaseRateSnapshot{Rate: fmtWad(s.BaseRate.Rate), LastFeeOpTimeUs: s.BaseRate.LastFeeOpTimeUs},
		Oracle: OracleSnapshot{
			Price:         fmtWad(s.Oracle.Price),
			PriceSequence: s.Oracle.PriceSequence,
			Timestamp:     s.Oracle.Timestamp,
		},
	}

	sorted := s.Troves.Sorted()
	for _, owner := range s.Troves.Owners() {
		t := s.Troves.Get(owner)
		ts := TroveSnapshot{
			Owner:   owner,
			Status:  int32(t.Status),
			Coll:    fmtWad(t.Coll),
			Debt:    fmtWad(t.Debt),
			Stake:   fmtWad(t.Stake),
			LColl:   fmtWad(t.Snapshot.LColl),
			LDebt:   fmtWad(t.Snapshot.LDebt),
			Version: t.Version,
		}
		if key, ok := sorted.Key(owner); ok {
			ts.NICR = fmtWad(key)
		}
		snap.Troves = append(snap.Troves, ts)
	}

	for _, id := range sortedOwners(s.SP.Depositors()) {
		d := s.SP.GetDeposit(id)
		snap.SP.Deposits = append(snap.SP.Deposits, DepositSnapshot{
			Depositor: id,
			Initial:   fmtWad(d.Initial),
			P:         fmtWad(d.Snapshot.P),
			S:         fmtWad(d.Snapshot.S),
			G:         fmtWad(d.Snapshot.G),
			Epoch:     d.Snapshot.Epoch,
			Scale:     d.Snapshot.Scale,
		})
	}

	for _, id := range sortedOwners(s.Staking.Stakers()) {
		rec := s.Staking.GetStake(id)
		snap.Staking.Stakes = append(snap.Staking.Stakes, StakeSnapshot{
			Staker:      id,
			Amount:      fmtWad(rec.Amount),
			FCollSnap:   fmtWad(rec.FCollSnap),
			FStableSnap: fmtWad(rec.FStableSnap),
		})
	}

	balances := s.Surplus.Balances()
	owners := make([]uuid.UUID, 0, len(balances))
	for id := range balances {
		owners = append(owners, id)
	}
	for _, id := range sortedOwners(owners) {
		snap.Surplus = append(snap.Surplus, BalanceSnapshot{Owner: id, Amount: fmtWad(balances[id])})
	}
	return snap
}

// wadReader parses decimal strings and keeps the first error.
type wadReader struct {
	err error
}

func (r *wadReader) wad(field, v string) *uint256.Int {
	x, err := fpmath.ParseWad(v)
	if err != nil {
		if r.err == nil {
			r.err = fmt.Errorf("%s: %w", field, err)
		}
		return new(uint256.Int)
	}
	return x
}

// ParamsFromSnapshot parses and validates a parameter set.
func ParamsFromSnapshot(ps ParamsSnapshot) (*state.Params, error) {
	r := &wadReader{}
	p := &state.Params{
		MCR:                r.wad("mcr", ps.MCR),
		CCR:                r.wad("ccr", ps.CCR),
		GasCompensation:    r.wad("gas_compensation", ps.GasCompensation),
		MinNetDebt:         r.wad("min_net_debt", ps.MinNetDebt),
		PercentDivisor:     ps.PercentDivisor,
		BorrowingFeeFloor:  r.wad("borrowing_fee_floor", ps.BorrowingFeeFloor),
		MaxBorrowingFee:    r.wad("max_borrowing_fee", ps.MaxBorrowingFee),
		RedemptionFeeFloor: r.wad("redemption_fee_floor", ps.RedemptionFeeFloor),
		Beta:               ps.Beta,
		MinuteDecayFactor:  r.wad("minute_decay_factor", ps.MinuteDecayFactor),
		CollateralSymbol:   ps.CollateralSymbol,
		StableSymbol:       ps.StableSymbol,
		RewardSymbol:       ps.RewardSymbol,
		EffectiveSeq:       ps.EffectiveSeq,
	}
	if r.err != nil {
		return nil, r.err
	}
	if err := state.ValidateParams(p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return p, nil
}

// RestoreSystem rebuilds a System from a snapshot.
func RestoreSystem(snap *Snapshot) (*System, error) {
	params, err := ParamsFromSnapshot(snap.Params)
	if err != nil {
		return nil, err
	}
	s := NewSystem(params)
	r := &wadReader{}

	for _, ts := range snap.Troves {
		t := &state.Trove{
			Owner: ts.Owner,
			Coll:  r.wad("trove.coll", ts.Coll),
			Debt:  r.wad("trove.debt", ts.Debt),
			Stake: r.wad("trove.stake", ts.Stake),
			Snapshot: state.RewardSnapshot{
				LColl: r.wad("trove.l_coll", ts.LColl),
				LDebt: r.wad("trove.l_debt", ts.LDebt),
			},
			Status:  state.TroveStatus(ts.Status),
			Version: ts.Version,
		}
		nicr := r.wad("trove.nicr", ts.NICR)
		if r.err != nil {
			return nil, r.err
		}
		if err := s.Troves.Restore(t, nicr); err != nil {
			return nil, fmt.Errorf("restore trove %s: %w", ts.Owner, err)
		}
	}

	rw := s.Rewards
	rw.LColl = r.wad("l_coll", snap.Rewards.LColl)
	rw.LDebt = r.wad("l_debt", snap.Rewards.LDebt)
	rw.LastCollError = r.wad("last_coll_error", snap.Rewards.LastCollError)
	rw.LastDebtError = r.wad("last_debt_error", snap.Rewards.LastDebtError)
	rw.TotalStakes = r.wad("total_stakes", snap.Rewards.TotalStakes)
	rw.TotalStakesSnapshot = r.wad("total_stakes_snapshot", snap.Rewards.TotalStakesSnapshot)
	rw.TotalCollateralSnapshot = r.wad("total_collateral_snapshot", snap.Rewards.TotalCollateralSnapshot)
	rw.DiscardedColl = r.wad("discarded_coll", snap.Rewards.DiscardedColl)
	rw.DiscardedDebt = r.wad("discarded_debt", snap.Rewards.DiscardedDebt)

	s.Active.Coll = r.wad("active.coll", snap.Active.Coll)
	s.Active.Debt = r.wad("active.debt", snap.Active.Debt)
	s.Default.Coll = r.wad("default.coll", snap.Default.Coll)
	s.Default.Debt = r.wad("default.debt", snap.Default.Debt)

	sp := s.SP
	sp.TotalDeposits = r.wad("sp.total_deposits", snap.SP.TotalDeposits)
	sp.P = r.wad("sp.p", snap.SP.P)
	sp.CurrentEpoch = snap.SP.Epoch
	sp.CurrentScale = snap.SP.Scale
	for _, e := range snap.SP.S {
		sp.S[state.EpochScale{Epoch: e.Epoch, Scale: e.Scale}] = r.wad("sp.s", e.Value)
	}
	for _, e := range snap.SP.G {
		sp.G[state.EpochScale{Epoch: e.Epoch, Scale: e.Scale}] = r.wad("sp.g", e.Value)
	}
	sp.LastCollError = r.wad("sp.last_coll_error", snap.SP.LastCollError)
	sp.LastLossError = r.wad("sp.last_loss_error", snap.SP.LastLossError)
	sp.LastRewardError = r.wad("sp.last_reward_error", snap.SP.LastRewardError)
	sp.CollBalance = r.wad("sp.coll_balance", snap.SP.CollBalance)
	sp.RewardBalance = r.wad("sp.reward_balance", snap.SP.RewardBalance)
	for _, d := range snap.SP.Deposits {
		sp.RestoreDeposit(d.Depositor, &state.Deposit{
			Initial: r.wad("deposit.initial", d.Initial),
			Snapshot: state.DepositSnapshot{
				P:     r.wad("deposit.p", d.P),
				S:     r.wad("deposit.s", d.S),
				G:     r.wad("deposit.g", d.G),
				Epoch: d.Epoch,
				Scale: d.Scale,
			},
		})
	}

	st := s.Staking
	st.TotalStaked = r.wad("staking.total_staked", snap.Staking.TotalStaked)
	st.FColl = r.wad("staking.f_coll", snap.Staking.FColl)
	st.FStable = r.wad("staking.f_stable", snap.Staking.FStable)
	st.UndistributedColl = r.wad("staking.undistributed_coll", snap.Staking.UndistributedColl)
	st.UndistributedStable = r.wad("staking.undistributed_stable", snap.Staking.UndistributedStable)
	for _, k := range snap.Staking.Stakes {
		st.RestoreStake(k.Staker, &state.StakeRecord{
			Amount:      r.wad("stake.amount", k.Amount),
			FCollSnap:   r.wad("stake.f_coll_snapshot", k.FCollSnap),
			FStableSnap: r.wad("stake.f_stable_snapshot", k.FStableSnap),
		})
	}

	s.BaseRate.Restore(r.wad("base_rate", snap.BaseRate.Rate), snap.BaseRate.LastFeeOpTimeUs)
	for _, b := range snap.Surplus {
		if err := s.Surplus.AccountSurplus(b.Owner, r.wad("coll_surplus", b.Amount)); err != nil {
			return nil, err
		}
	}
	s.Oracle.Price = r.wad("oracle.price", snap.Oracle.Price)
	s.Oracle.PriceSequence = snap.Oracle.PriceSequence
	s.Oracle.Timestamp = snap.Oracle.Timestamp

	if r.err != nil {
		return nil, r.err
	}
	return s, nil
}
