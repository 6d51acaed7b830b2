package models

import "time"

// DriverStatistics is computed per request and never stored.
type DriverStatistics struct {
	DriverID           string     `json:"driverId"`
	From               time.Time  `json:"from"`
	To                 time.Time  `json:"to"`
	TotalCollections   int        `json:"totalCollections"`
	TotalBinsCollected int        `json:"totalBinsCollected"`
	TotalKilometers    float64    `json:"totalKilometers"`
	ActiveTimeHours    float64    `json:"activeTimeHours"`
	LastActive         *time.Time `json:"lastActive"`
}
