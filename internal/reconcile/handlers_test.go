package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"surveySync/internal/dispatch"
	"surveySync/internal/model"
	"surveySync/internal/storage"
)

var respondent = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func createdEvent(id string) model.DecodedEvent {
	return model.DecodedEvent{Kind: model.KindSurveyCreated, Args: map[string]interface{}{"id": id}, BlockNumber: 150}
}

func responseEvent(kind model.EventKind, id string, who common.Address) model.DecodedEvent {
	return model.DecodedEvent{Kind: kind, Args: map[string]interface{}{"id": id, "respondent": who}, BlockNumber: 160}
}

func TestSurveyCreatedIdempotent(t *testing.T) {
	ctx := context.Background()
	records := storage.NewMemoryRecords()
	records.PutSurvey("S1", "q1", "q2", "q3")
	h := NewHandlers(records, nil)

	require.NoError(t, h.OnSurveyCreated(ctx, createdEvent("S1")))
	once, _ := records.Survey("S1")

	require.NoError(t, h.OnSurveyCreated(ctx, createdEvent("S1")))
	twice, _ := records.Survey("S1")

	require.Equal(t, once, twice)
	for name, group := range twice {
		require.True(t, group.Created, "group %s", name)
	}
}

func TestSurveyCreatedMissingSurvey(t *testing.T) {
	records := storage.NewMemoryRecords()
	h := NewHandlers(records, nil)

	require.NoError(t, h.OnSurveyCreated(context.Background(), createdEvent("nope")))
	_, ok := records.Survey("nope")
	require.False(t, ok)
}

func TestResponseLifecycleIdempotent(t *testing.T) {
	ctx := context.Background()
	records := storage.NewMemoryRecords()
	ref := storage.ResponseRef{Bucket: "S2", ID: "r1"}
	other := storage.ResponseRef{Bucket: "S2", ID: "r2"}
	records.PutResponse(ref, storage.Response{SurveyID: "S2", Creator: respondent.Hex()})
	records.PutResponse(other, storage.Response{SurveyID: "S2", Creator: "0x00000000000000000000000000000000000000bb"})
	h := NewHandlers(records, nil)

	for i := 0; i < 2; i++ {
		require.NoError(t, h.OnSurveyStarted(ctx, responseEvent(model.KindSurveyStarted, "S2", respondent)))
	}
	resp, _ := records.Response(ref)
	require.True(t, resp.Started)
	require.False(t, resp.Completed)

	for i := 0; i < 2; i++ {
		require.NoError(t, h.OnSurveyCompleted(ctx, responseEvent(model.KindSurveyCompleted, "S2", respondent)))
	}
	resp, _ = records.Response(ref)
	require.True(t, resp.Started)
	require.True(t, resp.Completed)

	untouched, _ := records.Response(other)
	require.False(t, untouched.Started)
	require.False(t, untouched.Completed)
}

func TestSurveyStartedWithoutMatchingResponse(t *testing.T) {
	records := storage.NewMemoryRecords()
	ref := storage.ResponseRef{Bucket: "S3", ID: "r1"}
	records.PutResponse(ref, storage.Response{SurveyID: "S3", Creator: respondent.Hex()})
	h := NewHandlers(records, nil)

	require.NoError(t, h.OnSurveyStarted(context.Background(), responseEvent(model.KindSurveyStarted, "S2", respondent)))

	resp, _ := records.Response(ref)
	require.False(t, resp.Started)
}

func TestMalformedEventIsDropped(t *testing.T) {
	records := storage.NewMemoryRecords()
	h := NewHandlers(records, nil)

	event := model.DecodedEvent{Kind: model.KindSurveyStarted, Args: map[string]interface{}{"id": "S2"}}
	require.NoError(t, h.OnSurveyStarted(context.Background(), event))
	require.NoError(t, h.OnSurveyCreated(context.Background(), model.DecodedEvent{Kind: model.KindSurveyCreated}))
}

type failingRecords struct {
	err error
}

func (f failingRecords) MarkSurvey(context.Context, string, storage.SurveyFlag) error { return f.err }

func (f failingRecords) FindResponse(context.Context, string, string) (storage.ResponseRef, error) {
	return storage.ResponseRef{}, f.err
}

func (f failingRecords) MarkResponse(context.Context, storage.ResponseRef, storage.ResponseFlag) error {
	return f.err
}

func TestStoreFailuresAreFatal(t *testing.T) {
	boom := errors.New("connection reset")
	h := NewHandlers(failingRecords{err: boom}, nil)
	ctx := context.Background()

	require.ErrorIs(t, h.OnSurveyCreated(ctx, createdEvent("S1")), boom)
	require.ErrorIs(t, h.OnSurveyStarted(ctx, responseEvent(model.KindSurveyStarted, "S1", respondent)), boom)
	require.ErrorIs(t, h.OnSurveyCompleted(ctx, responseEvent(model.KindSurveyCompleted, "S1", respondent)), boom)
}

func TestRegister(t *testing.T) {
	d := dispatch.New(nil)
	NewHandlers(storage.NewMemoryRecords(), nil).Register(d)

	require.Equal(t, []model.EventKind{
		model.KindSurveyCompleted,
		model.KindSurveyCreated,
		model.KindSurveyStarted,
	}, d.Kinds())
}
