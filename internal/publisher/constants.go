package publisher

import "time"

// HTTP status code constants.
const (
	StatusOK = 200
)

// Worker configuration constants.
const (
	WorkerChannelMultiplier = 2
)

// Runner configuration constants.
const (
	HealthPollInterval = 500 * time.Millisecond
	progressInterval   = time.Second
)
