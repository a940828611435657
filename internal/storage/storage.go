package storage

import (
	"context"
	"errors"

	"surveySync/internal/model"
)

// ErrNotFound reports that a downstream record is not (yet) visible.
var ErrNotFound = errors.New("record not found")

// SurveyFlag is a boolean field set on every field group of a survey.
type SurveyFlag string

// ResponseFlag is a boolean field set on a single response record.
type ResponseFlag string

const (
	SurveyCreated     SurveyFlag   = "created"
	ResponseStarted   ResponseFlag = "started"
	ResponseCompleted ResponseFlag = "completed"
)

// ResponseRef addresses a response record at responses/{bucket}/{id}.
type ResponseRef struct {
	Bucket string
	ID     string
}

// Records is the downstream survey/response store.
// Every mark operation is an idempotent "ensure true".
type Records interface {
	// MarkSurvey sets flag on every field group under surveys/{surveyID}.
	MarkSurvey(ctx context.Context, surveyID string, flag SurveyFlag) error
	// FindResponse returns the response created by respondent for surveyID.
	FindResponse(ctx context.Context, surveyID, respondent string) (ResponseRef, error)
	MarkResponse(ctx context.Context, ref ResponseRef, flag ResponseFlag) error
}

// EventSink receives decoded events outside of reconciliation.
type EventSink interface {
	PutEventBatch(events []model.DecodedEvent) error
}
