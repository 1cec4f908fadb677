package database

import "time"

// Counter is one named metric value as stored by the Postgres sink.
type Counter struct {
	Name      string
	Value     int64
	UpdatedAt time.Time
}
