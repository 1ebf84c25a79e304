package types

// Theme represents a normalized recurring-issue signature scoped to one run's session
type Theme struct {
	Signature string `json:"signature"`
	Label     string `json:"label"`
	FirstSeen string `json:"first_seen"` // conversation id
	LastSeen  string `json:"last_seen"`  // conversation id
	Count     int    `json:"count"`
}
