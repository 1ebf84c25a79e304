package db

import "time"

// nullableTime maps the zero time to NULL so COALESCE defaults apply
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
