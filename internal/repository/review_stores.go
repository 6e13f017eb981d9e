package repository

import "github.com/noah-isme/gema-review-api/internal/models"

// Collection names shared by every backend.
const (
	CollectionSubmissions = "submissions"
	CollectionRuns        = "runs"
	CollectionReports     = "reports"
	CollectionTimeline    = "timeline"
)

// Stores groups the typed collections used by the review pipeline.
type Stores struct {
	Submissions *Store[models.Submission]
	Runs        *Store[models.RunIndex]
	Reports     *Store[models.Report]
	Timeline    *Store[models.TimelineEvent]
}

// NewStores binds every collection to backend.
func NewStores(backend Backend) Stores {
	return Stores{
		Submissions: NewStore(backend, CollectionSubmissions, func(s models.Submission) string { return s.ID }),
		Runs:        NewStore(backend, CollectionRuns, func(r models.RunIndex) string { return r.RunID }),
		Reports:     NewStore(backend, CollectionReports, func(r models.Report) string { return r.ID }),
		Timeline:    NewStore(backend, CollectionTimeline, func(e models.TimelineEvent) string { return e.ID }),
	}
}
