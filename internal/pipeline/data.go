package pipeline

import "github.com/jonidaniel/jobsai/internal/job"

// Data is the value threaded through the steps. Each step reads what earlier
// steps produced and fills in its own fields.
type Data struct {
	JobID    string
	Request  job.StartRequest
	Profile  string
	Keywords []string
	Listings []job.Listing
	Scored   []ScoredListing
	Analyses []Analysis
	Result   map[string]any
}

// ScoredListing is a listing ranked against the candidate's skills.
type ScoredListing struct {
	job.Listing
	Score         int      `json:"score"`
	MatchedSkills []string `json:"matched_skills"`
}

// Analysis holds the writing instructions produced for one listing.
type Analysis struct {
	Listing      ScoredListing
	Instructions string
}
