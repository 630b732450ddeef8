package store

import "time"

type App struct {
	ID        string
	Name      string
	CreatedBy string
	CreatedAt time.Time
}

// Environment is a promotion stage of an app. Lower priority comes first.
type Environment struct {
	ID       string
	AppID    string
	Name     string
	Priority int
}

type Version struct {
	ID              string
	AppID           string
	Name            string
	SourceVersionID *string
	EnvironmentID   string
	BranchName      string
	CreatedBy       string
	CreatedAt       time.Time
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}

// DefaultEnvironments are seeded for every new app, in promotion order.
var DefaultEnvironments = []string{"development", "staging", "production"}
