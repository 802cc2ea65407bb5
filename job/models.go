package job

import "time"

// Job captures the subset of job data the escrow core needs: who the parties
// are and what to render in notifications. Posting, bidding, and search live
// elsewhere.
type Job struct {
	ID           string
	Title        string
	ClientID     string
	FreelancerID *string
	CreatedAt    time.Time
}

// Parties identifies the two contracted sides of a job.
type Parties struct {
	ClientID     string
	FreelancerID string
}

// Contact holds display data for notification rendering.
type Contact struct {
	UserID   string
	FullName string
	Email    string
}
