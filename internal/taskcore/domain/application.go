package domain

import "time"

// Application is produced on task completion; (candidate, job) is
// unique, and re-completion updates the row in place rather than
// inserting a duplicate (spec §3, §8 property 6).
type Application struct {
	candidate            string
	job                  string
	resumeURL            string
	atsScoreAtSubmission float64
	autoSubmitted        bool
	submittedAt          time.Time
}

// NewApplication creates an Application row for an upserted completion.
func NewApplication(candidate, job, resumeURL string, atsScore float64) *Application {
	return &Application{
		candidate:            candidate,
		job:                  job,
		resumeURL:            resumeURL,
		atsScoreAtSubmission: atsScore,
		autoSubmitted:        false,
		submittedAt:          time.Now(),
	}
}

// ReconstituteApplication rebuilds an Application from persisted storage.
func ReconstituteApplication(candidate, job, resumeURL string, atsScore float64, autoSubmitted bool, submittedAt time.Time) *Application {
	return &Application{
		candidate:            candidate,
		job:                  job,
		resumeURL:            resumeURL,
		atsScoreAtSubmission: atsScore,
		autoSubmitted:        autoSubmitted,
		submittedAt:          submittedAt,
	}
}

func (a *Application) Candidate() string            { return a.candidate }
func (a *Application) Job() string                  { return a.job }
func (a *Application) ResumeURL() string             { return a.resumeURL }
func (a *Application) ATSScoreAtSubmission() float64 { return a.atsScoreAtSubmission }
func (a *Application) AutoSubmitted() bool           { return a.autoSubmitted }
func (a *Application) SubmittedAt() time.Time        { return a.submittedAt }
