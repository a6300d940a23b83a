// Package chainmeta holds the per-event transaction metadata the table
// runtime needs on every row regardless of what the event itself
// carries, and the six auto-injected columns derived from it (spec.md
// §6.3).
package chainmeta

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"chainindexer/internal/tv"
)

// TxMetadata is the transaction/log context surrounding one event
// instance, independent of the event's own decoded fields.
type TxMetadata struct {
	BlockNumber     uint64
	BlockTimestamp  *big.Int // unix seconds; nil if unavailable
	TxHash          common.Hash
	BlockHash       common.Hash
	ContractAddress common.Address
	LogIndex        uint64
	TxIndex         uint64
}

// SequenceID computes the deterministic ordering token (spec.md §4.6
// step 5): block_number * 10^8 + tx_index * 10^5 + log_index. The executor
// uses this to resolve last-write-wins when multiple updates to the same
// primary key land in one batch.
func (m TxMetadata) SequenceID() *big.Int {
	seq := new(big.Int).Mul(new(big.Int).SetUint64(m.BlockNumber), big.NewInt(1e8))
	seq.Add(seq, new(big.Int).Mul(new(big.Int).SetUint64(m.TxIndex), big.NewInt(1e5)))
	seq.Add(seq, new(big.Int).SetUint64(m.LogIndex))
	return seq
}

// AutoInjectedColumnNames are the six fixed columns materialized on every
// custom table (spec.md §6.3), in the order they are appended to a row.
var AutoInjectedColumnNames = [6]string{
	"rindexer_sequence_id",
	"rindexer_last_updated_block",
	"rindexer_last_updated_at",
	"rindexer_tx_hash",
	"rindexer_block_hash",
	"rindexer_contract_address",
}

// AutoInjectedValues returns the six auto-injected columns' TVs, in the
// same order as AutoInjectedColumnNames.
func (m TxMetadata) AutoInjectedValues() [6]tv.Value {
	var lastUpdatedAt tv.Value
	if m.BlockTimestamp != nil {
		lastUpdatedAt = tv.NewTimestamp(m.BlockTimestamp.Int64())
	} else {
		lastUpdatedAt = tv.Null()
	}

	return [6]tv.Value{
		tv.NewUint(256, tv.RepNumeric, m.SequenceID()),
		tv.NewUint(64, tv.RepNumeric, new(big.Int).SetUint64(m.BlockNumber)),
		lastUpdatedAt,
		tv.NewString(m.TxHash.Hex()),
		tv.NewString(m.BlockHash.Hex()),
		tv.NewAddress([20]byte(m.ContractAddress)),
	}
}
