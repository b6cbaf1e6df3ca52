// Package model contains the stream records passed between layers and their
// wire codec.
package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// StreamEvent is one stablecoin transfer read from the upstream stream.
type StreamEvent struct {
	Stablecoin  string
	Amount      decimal.Decimal
	From        string
	To          string
	BlockNumber uint64
	TxHash      string
	// Sequence is the id the upstream stream assigned to the record.
	Sequence uint64
}

// Key identifies a delivery of this record. Redeliveries share the key.
func (e StreamEvent) Key() string {
	return fmt.Sprintf("%d/%s", e.Sequence, e.TxHash)
}

// AmountString renders the amount keeping its original scale ("100.50" stays
// "100.50").
func (e StreamEvent) AmountString() string {
	if exp := e.Amount.Exponent(); exp < 0 {
		return e.Amount.StringFixed(-exp)
	}
	return e.Amount.String()
}

// Display renders a compact form for logs with addresses cut to addrLen.
func (e StreamEvent) Display(addrLen int) string {
	return fmt.Sprintf("%s %s %s -> %s (block %d, tx %s)",
		e.AmountString(), e.Stablecoin, shorten(e.From, addrLen), shorten(e.To, addrLen),
		e.BlockNumber, shorten(e.TxHash, addrLen))
}

func shorten(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
