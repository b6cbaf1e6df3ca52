package publisher

import "time"

// Config holds configuration for a publishing run.
type Config struct {
	ServiceURL     string        // Base URL of the relay service; empty skips health checks
	UpstreamURL    string        // NATS server URL
	Stream         string        // JetStream stream name
	Subject        string        // Subject records are published on
	NumEvents      int           // Number of records to publish
	Rate           float64       // Records per second
	Burst          int           // Rate limiter burst
	Workers        int           // Concurrent publishers
	MalformedRatio float64       // Share of deliberately broken records, 0..1
	Timeout        time.Duration // Per request timeout
	SettleTimeout  time.Duration // How long to wait for the relay to catch up
	OutputFile     string        // Optional JSON dump of the published records
	Verbose        bool          // Enable verbose logging
}

// Transfer is one synthetic stablecoin transfer in upstream wire form.
type Transfer struct {
	Stablecoin  string `json:"stablecoin"`
	Amount      string `json:"amount"`
	From        string `json:"from"`
	To          string `json:"to"`
	BlockNumber uint64 `json:"block_number"`
	TxHash      string `json:"tx_hash"`
}

// Record is a payload ready to publish.
type Record struct {
	MsgID     string    `json:"msg_id"`
	Payload   []byte    `json:"-"`
	Transfer  *Transfer `json:"transfer,omitempty"`
	Malformed bool      `json:"malformed"`
}

// Stats holds run statistics.
type Stats struct {
	Generated       int
	Malformed       int
	Published       int
	ValidPublished  int
	Failed          int
	LastSequence    uint64
	ProcessedBefore uint64
	ProcessedAfter  uint64
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
}
