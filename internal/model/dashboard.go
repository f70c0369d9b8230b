package model

import "time"

// DashboardCounts are the headline numbers of the admin dashboard.
type DashboardCounts struct {
	Students    int `json:"students"`
	Assessments int `json:"assessments"`
	Templates   int `json:"templates"`
	Completions int `json:"completions"`
	Recoveries  int `json:"recoveries"`
}

// AssessmentStats summarizes recent completions of one version.
type AssessmentStats struct {
	Version      string    `json:"version"`
	Title        string    `json:"title"`
	Attempts     int       `json:"attempts"`
	Passed       int       `json:"passed"`
	AverageScore *float64  `json:"average_score"`
	LastFinished time.Time `json:"last_finished"`
}
