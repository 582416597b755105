package model

// LoadClass is the load monitor's classification of an event.
type LoadClass string

const (
	LoadNormal     LoadClass = "normal"
	LoadOverloaded LoadClass = "overloaded"
)

// LoadSample is the rolling view the load monitor keeps per event.  It is
// rebuilt from zero on restart.
type LoadSample struct {
	EventID       string    `json:"eventId"`
	Attempts      int       `json:"attempts"`
	RatePerSecond float64   `json:"ratePerSecond"`
	QueueDepth    int       `json:"queueDepth"`
	Class         LoadClass `json:"load"`
}

// EventStats aggregates lock and queue state for a single event.
type EventStats struct {
	EventID        string         `json:"eventId"`
	ActiveLocks    int            `json:"activeLocks"`
	QueueDepth     int            `json:"queueDepth"`
	SeatQueueDepth map[string]int `json:"seatQueueDepth"`
	Load           LoadClass      `json:"load"`
	RatePerSecond  float64        `json:"ratePerSecond"`
	SeatWorkers    int            `json:"seatWorkers"`
}
