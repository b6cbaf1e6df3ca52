package publisher

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/okian/stablezoo/pkg/logger"
)

// Constants for random number generation.
const (
	randomFloatDivisor = 1000000
	amountTypeDivisor  = 6
	malformedKinds     = 4
	addressBytes       = 20
	txHashBytes        = 32
	startBlock         = 19_000_000
	transfersPerBlock  = 12
	amountPlaces       = 6
)

// Constants for amount distribution cases.
const (
	caseDust = iota
	caseRetail
	caseRetailLarge
	caseTreasury
	caseWhale
	caseRound
)

var symbols = []string{"USDC", "USDT", "DAI", "PYUSD", "FDUSD"} //nolint:gochecknoglobals // fixed set

// randomInt returns a uniform integer in [0, n).
func randomInt(n int64) int64 {
	v, _ := rand.Int(rand.Reader, big.NewInt(n))
	return v.Int64()
}

// getRandomFloat returns a random float64 between 0.0 and 1.0 using crypto/rand.
func getRandomFloat() float64 {
	return float64(randomInt(randomFloatDivisor)) / float64(randomFloatDivisor)
}

func randomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return "0x" + hex.EncodeToString(buf)
}

// randomAmount draws a transfer amount from a skewed distribution: most
// transfers are retail sized, a few are dust or whale sized.
func randomAmount() decimal.Decimal {
	between := func(lo, hi float64) decimal.Decimal {
		return decimal.NewFromFloat(lo + getRandomFloat()*(hi-lo)).Round(amountPlaces)
	}
	switch randomInt(amountTypeDivisor) {
	case caseDust:
		return between(0.000001, 1)
	case caseRetail:
		return between(10, 1_000)
	case caseRetailLarge:
		return between(1_000, 25_000)
	case caseTreasury:
		return between(25_000, 500_000)
	case caseWhale:
		return between(500_000, 50_000_000)
	case caseRound:
		return decimal.NewFromInt(randomInt(100) + 1).Shift(3)
	default:
		return between(10, 1_000)
	}
}

// newTransfer builds the index-th transfer of a run.
func newTransfer(index int) *Transfer {
	return &Transfer{
		Stablecoin:  symbols[randomInt(int64(len(symbols)))],
		Amount:      randomAmount().String(),
		From:        randomHex(addressBytes),
		To:          randomHex(addressBytes),
		BlockNumber: startBlock + uint64(index/transfersPerBlock),
		TxHash:      randomHex(txHashBytes),
	}
}

// malformedPayload breaks a valid transfer in one of a few ways the relay
// must skip.
func malformedPayload(t *Transfer) []byte {
	broken := *t
	switch randomInt(malformedKinds) {
	case 0:
		return []byte(`{"stablecoin":`)
	case 1:
		broken.Amount = "-" + broken.Amount
	case 2:
		broken.TxHash = ""
	default:
		broken.Amount = "lots"
	}
	data, _ := json.Marshal(broken)
	return data
}

// generateRecords creates NumEvents records, roughly MalformedRatio of them
// broken on purpose.
func generateRecords(ctx context.Context, config *Config, stats *Stats) ([]Record, error) {
	logger.Get().Info(ctx, "generating transfers",
		logger.Int("numEvents", config.NumEvents),
		logger.Float64("malformedRatio", config.MalformedRatio))

	records := make([]Record, 0, config.NumEvents)
	for i := 0; i < config.NumEvents; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("context cancelled during generation: %w", err)
		}
		t := newTransfer(i)
		rec := Record{MsgID: t.TxHash, Transfer: t}
		if config.MalformedRatio > 0 && getRandomFloat() < config.MalformedRatio {
			rec.Payload = malformedPayload(t)
			rec.Malformed = true
			stats.Malformed++
		} else {
			data, err := json.Marshal(t)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal transfer %d: %w", i, err)
			}
			rec.Payload = data
		}
		records = append(records, rec)
	}

	stats.Generated = len(records)
	logger.Get().Info(ctx, "generated transfers",
		logger.Int("count", len(records)),
		logger.Int("malformed", stats.Malformed))
	return records, nil
}
