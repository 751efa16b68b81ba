package idhash

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
)

// ComputeTradeID computes a deterministic trade_id.
// Formula: base58(SHA256(run_id|symbol|side|entry_time_ms|seq))
// The same run replayed over the same bars yields the same IDs.
func ComputeTradeID(runID, symbol, side string, entryTimeMs int64, seq int) string {
	data := fmt.Sprintf("%s|%s|%s|%d|%d", runID, symbol, side, entryTimeMs, seq)
	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}

// ComputeRunID computes a deterministic backtest run ID from its parameters.
// Formula: base58(SHA256(strategy|symbol|first_bar_ms|last_bar_ms|bar_count|params))
func ComputeRunID(strategy, symbol string, firstBarMs, lastBarMs int64, barCount int, params string) string {
	data := fmt.Sprintf("%s|%s|%d|%d|%d|%s", strategy, symbol, firstBarMs, lastBarMs, barCount, params)
	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:16])
}
