package domain

import "time"

// MaxRecommendations bounds the recommendation list of a persisted result.
const MaxRecommendations = 10

// Status is the lifecycle state of an analysis record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAnalyzing Status = "analyzing"
	StatusMatching  Status = "matching"
	StatusComplete  Status = "complete"
	StatusFailed    Status = "failed"
)

// transitions lists the statuses each status may move to. Anything absent is
// rejected, which keeps the lifecycle forward-only.
var transitions = map[Status][]Status{
	StatusPending:   {StatusAnalyzing},
	StatusAnalyzing: {StatusMatching, StatusComplete, StatusFailed},
	StatusMatching:  {StatusComplete, StatusFailed},
}

// IsTerminal reports whether no further transition can happen from s.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// CanTransition reports whether s may move directly to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Predecessors returns every status that may move directly to s.
func (s Status) Predecessors() []Status {
	var out []Status
	for _, from := range []Status{StatusPending, StatusAnalyzing, StatusMatching} {
		if from.CanTransition(s) {
			out = append(out, from)
		}
	}
	return out
}

type AnalysisRecord struct {
	ID              string
	Status          Status
	PhotoRef        string
	PhotoURL        string
	ZoneCode        string
	ZoneDescription string
	Result          *AnalysisResult
	Error           string
	ErrorKind       string
	Retryable       bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

// Expired reports whether the record is logically deleted at now.
func (r *AnalysisRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

type AnalysisResult struct {
	Summary            string                `json:"summary"`
	YardSize           string                `json:"yardSize,omitempty"`
	OverallSunExposure string                `json:"overallSunExposure,omitempty"`
	EstimatedSoilType  string                `json:"estimatedSoilType,omitempty"`
	Features           []IdentifiedFeature   `json:"features"`
	Recommendations    []PlantRecommendation `json:"recommendations"`
}

type IdentifiedFeature struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Label       string   `json:"label"`
	Species     string   `json:"species,omitempty"`
	Confidence  *float64 `json:"confidence,omitempty"`
	SunExposure string   `json:"sunExposure,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

// CatalogPlant is a read-only entry of the plant catalog.
type CatalogPlant struct {
	ID             string
	CommonName     string
	ScientificName string
	Type           string
	Light          []string
	WaterNeeds     string
	ZoneMin        string
	ZoneMax        string
	MatureSize     string
	Description    string
	ImageURL       string
	Tags           []string
	Popularity     int
}

type PlantRecommendation struct {
	PlantID        string `json:"plantId"`
	CommonName     string `json:"commonName"`
	ScientificName string `json:"scientificName,omitempty"`
	PlantType      string `json:"plantType"`
	Light          string `json:"light"`
	WaterNeeds     string `json:"waterNeeds,omitempty"`
	MatureSize     string `json:"matureSize,omitempty"`
	Description    string `json:"description,omitempty"`
	ImageURL       string `json:"imageUrl,omitempty"`
	Reason         string `json:"reason"`
	Category       string `json:"category"`
}
