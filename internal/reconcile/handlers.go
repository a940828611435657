package reconcile

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"surveySync/internal/dispatch"
	"surveySync/internal/metrics"
	"surveySync/internal/model"
	"surveySync/internal/storage"
)

// Handlers apply survey lifecycle events to the downstream record store.
// Each handler only ever sets a flag to true, so replaying an event is a no-op.
type Handlers struct {
	records storage.Records
	logger  *zap.Logger
}

func NewHandlers(records storage.Records, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{records: records, logger: logger}
}

// Register binds the lifecycle handlers on d.
func (h *Handlers) Register(d *dispatch.Dispatcher) {
	d.Register(model.KindSurveyCreated, h.OnSurveyCreated)
	d.Register(model.KindSurveyStarted, h.OnSurveyStarted)
	d.Register(model.KindSurveyCompleted, h.OnSurveyCompleted)
}

// OnSurveyCreated marks every field group of the survey as created.
func (h *Handlers) OnSurveyCreated(ctx context.Context, event model.DecodedEvent) error {
	surveyID, err := event.StringArg("id")
	if err != nil {
		h.logger.Warn("malformed event", zap.Error(err), zap.String("event", event.Key()))
		return nil
	}

	err = h.records.MarkSurvey(ctx, surveyID, storage.SurveyCreated)
	if errors.Is(err, storage.ErrNotFound) {
		h.notFound(event, zap.String("survey_id", surveyID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("survey created %s: %w", surveyID, err)
	}

	h.logger.Debug("survey created", zap.String("survey_id", surveyID), zap.Uint64("block", event.BlockNumber))
	return nil
}

// OnSurveyStarted marks the respondent's response as started.
func (h *Handlers) OnSurveyStarted(ctx context.Context, event model.DecodedEvent) error {
	return h.markResponse(ctx, event, storage.ResponseStarted)
}

// OnSurveyCompleted marks the respondent's response as completed.
func (h *Handlers) OnSurveyCompleted(ctx context.Context, event model.DecodedEvent) error {
	return h.markResponse(ctx, event, storage.ResponseCompleted)
}

func (h *Handlers) markResponse(ctx context.Context, event model.DecodedEvent, flag storage.ResponseFlag) error {
	surveyID, err := event.StringArg("id")
	if err != nil {
		h.logger.Warn("malformed event", zap.Error(err), zap.String("event", event.Key()))
		return nil
	}
	respondent, err := event.AddressArg("respondent")
	if err != nil {
		h.logger.Warn("malformed event", zap.Error(err), zap.String("event", event.Key()))
		return nil
	}

	ref, err := h.records.FindResponse(ctx, surveyID, respondent.Hex())
	if errors.Is(err, storage.ErrNotFound) {
		h.notFound(event, zap.String("survey_id", surveyID), zap.String("respondent", respondent.Hex()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", event.Kind, surveyID, err)
	}

	err = h.records.MarkResponse(ctx, ref, flag)
	if errors.Is(err, storage.ErrNotFound) {
		h.notFound(event, zap.String("survey_id", surveyID), zap.String("response", ref.Bucket+"/"+ref.ID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", event.Kind, surveyID, err)
	}

	h.logger.Debug("response updated",
		zap.String("survey_id", surveyID),
		zap.String("response", ref.Bucket+"/"+ref.ID),
		zap.String("flag", string(flag)),
	)
	return nil
}

// TODO: requeue events whose record is missing instead of dropping them once
// the downstream write path can signal when a record appears.
func (h *Handlers) notFound(event model.DecodedEvent, fields ...zap.Field) {
	metrics.DownstreamNotFoundInc(string(event.Kind))
	fields = append(fields,
		zap.String("kind", string(event.Kind)),
		zap.Uint64("block", event.BlockNumber),
		zap.Uint("log_index", event.LogIndex),
	)
	h.logger.Warn("downstream record not found, event dropped", fields...)
}
