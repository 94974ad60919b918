package protocol

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

func appendWord(buf []byte, v *uint256.Int) []byte {
	w := v.Bytes32()
	return append(buf, w[:]...)
}

func appendUint64(buf []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(buf, v)
}

// Digest returns a deterministic serialization of the global accumulators
// and of the records held by the touched identities. Unchanged records are
// left out so the digest stays proportional to the operation.
func (s *System) Digest(touched []uuid.UUID) []byte {
	buf := make([]byte, 0, 40*32+len(touched)*256)

	// Pools and redistribution
	for _, v := range []*uint256.Int{
		s.Active.Coll, s.Active.Debt, s.Default.Coll, s.Default.Debt,
		s.Rewards.LColl, s.Rewards.LDebt, s.Rewards.LastCollError, s.Rewards.LastDebtError,
		s.Rewards.TotalStakes, s.Rewards.TotalStakesSnapshot, s.Rewards.TotalCollateralSnapshot,
		s.Rewards.DiscardedColl, s.Rewards.DiscardedDebt,
	} {
		buf = appendWord(buf, v)
	}

	// Stability Pool
	for _, v := range []*uint256.Int{
		s.SP.TotalDeposits, s.SP.P, s.SP.CurrentS(), s.SP.CurrentG(),
		s.SP.LastCollError, s.SP.LastLossError, s.SP.LastRewardError,
		s.SP.CollBalance, s.SP.RewardBalance,
	} {
		buf = appendWord(buf, v)
	}
	buf = appendUint64(buf, s.SP.CurrentEpoch)
	buf = appendUint64(buf, s.SP.CurrentScale)

	// Fees, surplus and price
	for _, v := range []*uint256.Int{
		s.Staking.TotalStaked, s.Staking.FColl, s.Staking.FStable,
		s.Staking.UndistributedColl, s.Staking.UndistributedStable,
		s.BaseRate.Rate, s.Surplus.Total, s.Oracle.Price,
	} {
		buf = appendWord(buf, v)
	}
	buf = appendUint64(buf, uint64(s.BaseRate.LastFeeOpTimeUs))
	buf = appendUint64(buf, uint64(s.Oracle.PriceSequence))

	seen := make(map[uuid.UUID]bool, len(touched))
	ids := make([]uuid.UUID, 0, len(touched))
	for _, id := range touched {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, id := range sortedOwners(ids) {
		buf = append(buf, id[:]...)
		if t := s.Troves.Get(id); t != nil {
			buf = append(buf, t.CanonicalBytes()...)
		}
		if d := s.SP.GetDeposit(id); d != nil {
			buf = appendWord(buf, d.Initial)
			buf = appendWord(buf, d.Snapshot.P)
			buf = appendWord(buf, d.Snapshot.S)
			buf = appendWord(buf, d.Snapshot.G)
			buf = appendUint64(buf, d.Snapshot.Epoch)
			buf = appendUint64(buf, d.Snapshot.Scale)
		}
		if k := s.Staking.GetStake(id); k != nil {
			buf = appendWord(buf, k.Amount)
			buf = appendWord(buf, k.FCollSnap)
			buf = appendWord(buf, k.FStableSnap)
		}
		buf = appendWord(buf, s.Surplus.Balance(id))
	}
	return buf
}
