package room

// Default poll contents used when a creator supplies only a display name.
const DefaultQuestion = "Which do you prefer?"

// DefaultOptions returns the fallback option set for rooms created without
// explicit options.
func DefaultOptions() []string {
	return []string{"Cats", "Dogs"}
}

// Room is a point-in-time snapshot of a poll room as exposed to clients.
// Votes and Voters are copies owned by the caller; mutating them has no
// effect on the store.
type Room struct {
	ID        string            `json:"id"`        // Short room code
	Creator   string            `json:"creator"`   // Display name of the creating participant
	Question  string            `json:"question"`  // Fixed at creation
	Options   []string          `json:"options"`   // Ordered, distinct, fixed at creation
	Votes     map[string]int    `json:"votes"`     // Option label -> vote count
	Voters    map[string]string `json:"voters"`    // Participant name -> chosen option
	StartTime int64             `json:"startTime"` // Unix milliseconds
	EndTime   int64             `json:"endTime"`   // Unix milliseconds
	Active    bool              `json:"active"`
}
