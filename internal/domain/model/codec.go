package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrMalformedEvent is wrapped by every decode failure.
var ErrMalformedEvent = errors.New("malformed stream event")

const maxSymbolLen = 16

type wireEvent struct {
	Stablecoin  string          `json:"stablecoin"`
	Amount      json.RawMessage `json:"amount"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	BlockNumber json.RawMessage `json:"block_number"`
	TxHash      string          `json:"tx_hash"`
}

type outEvent struct {
	Stablecoin  string `json:"stablecoin"`
	Amount      string `json:"amount"`
	From        string `json:"from"`
	To          string `json:"to"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
}

// DecodeStreamEvent parses and validates one upstream record. seq is the
// sequence the stream assigned to it.
func DecodeStreamEvent(payload []byte, seq uint64) (StreamEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return StreamEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	symbol := strings.ToUpper(strings.TrimSpace(w.Stablecoin))
	if !validSymbol(symbol) {
		return StreamEvent{}, fieldError("stablecoin", w.Stablecoin)
	}
	amount, err := parseAmount(w.Amount)
	if err != nil {
		return StreamEvent{}, err
	}
	from, to, tx := strings.TrimSpace(w.From), strings.TrimSpace(w.To), strings.TrimSpace(w.TxHash)
	switch {
	case from == "":
		return StreamEvent{}, fieldError("from", w.From)
	case to == "":
		return StreamEvent{}, fieldError("to", w.To)
	case tx == "":
		return StreamEvent{}, fieldError("tx_hash", w.TxHash)
	}
	block, err := parseBlock(w.BlockNumber)
	if err != nil {
		return StreamEvent{}, err
	}

	return StreamEvent{
		Stablecoin:  symbol,
		Amount:      amount,
		From:        from,
		To:          to,
		BlockNumber: block,
		TxHash:      tx,
		Sequence:    seq,
	}, nil
}

// MarshalJSON emits the record in the broadcast shape. There is no type
// field; clients recognise relayed events by the stablecoin key.
func (e StreamEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(outEvent{
		Stablecoin:  e.Stablecoin,
		Amount:      e.AmountString(),
		From:        e.From,
		To:          e.To,
		BlockNumber: e.BlockNumber,
		TxHash:      e.TxHash,
	})
}

func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	text := string(bytes.TrimSpace(raw))
	if text == "" || text == "null" {
		return decimal.Decimal{}, fieldError("amount", "")
	}
	if text[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Decimal{}, fieldError("amount", text)
		}
		text = strings.TrimSpace(s)
	}
	d, err := decimal.NewFromString(text)
	if err != nil || d.IsNegative() {
		return decimal.Decimal{}, fieldError("amount", text)
	}
	return d, nil
}

func parseBlock(raw json.RawMessage) (uint64, error) {
	text := string(bytes.TrimSpace(raw))
	if len(text) >= 2 && text[0] == '"' {
		text = text[1 : len(text)-1]
	}
	n, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, fieldError("block_number", text)
	}
	return n, nil
}

func validSymbol(s string) bool {
	if s == "" || len(s) > maxSymbolLen {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func fieldError(field, value string) error {
	return fmt.Errorf("%w: invalid %s %q", ErrMalformedEvent, field, value)
}
