package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"surveySync/internal/chain"
	"surveySync/internal/checkpoint"
	"surveySync/internal/decoder"
	"surveySync/internal/dispatch"
	"surveySync/internal/model"
	"surveySync/internal/reconcile"
	"surveySync/internal/schema"
	"surveySync/internal/storage"
)

var (
	contract   = common.HexToAddress("0xd3f2E5e4891E8F779533f95DA7A5AB075F9afd86")
	creator    = common.HexToAddress("0x5B8069d77658aC2817CB922c0B9454ee3c1377b6")
	respondent = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

type filterCall struct {
	topic    common.Hash
	from, to uint64
}

type fakeSource struct {
	mu      sync.Mutex
	tip     uint64
	tipErr  error
	logs    map[common.Hash][]types.Log
	failOn  common.Hash
	failErr error
	calls   []filterCall
}

func newFakeSource(tip uint64) *fakeSource {
	return &fakeSource{tip: tip, logs: make(map[common.Hash][]types.Log)}
}

func (f *fakeSource) add(logs ...types.Log) {
	for _, log := range logs {
		f.logs[log.Topics[0]] = append(f.logs[log.Topics[0]], log)
	}
}

func (f *fakeSource) LatestBlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tip, f.tipErr
}

func (f *fakeSource) FilterLogs(_ context.Context, address common.Address, topic0 common.Hash, fromBlock, toBlock uint64) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, filterCall{topic: topic0, from: fromBlock, to: toBlock})
	if f.failErr != nil && topic0 == f.failOn {
		return nil, f.failErr
	}
	out := make([]types.Log, 0)
	for _, log := range f.logs[topic0] {
		if log.Address == address && log.BlockNumber >= fromBlock && log.BlockNumber <= toBlock {
			out = append(out, log)
		}
	}
	return out, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type memCheckpoint struct {
	height  uint64
	set     bool
	setErr  error
	history []uint64
}

func (m *memCheckpoint) Get(context.Context) (uint64, error) {
	if !m.set {
		return 0, checkpoint.ErrNotFound
	}
	return m.height, nil
}

func (m *memCheckpoint) Set(_ context.Context, height uint64) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.height = height
	m.set = true
	m.history = append(m.history, height)
	return nil
}

type recordingDispatcher struct {
	events []model.DecodedEvent
}

func (r *recordingDispatcher) Dispatch(_ context.Context, event model.DecodedEvent) error {
	r.events = append(r.events, event)
	return nil
}

type fixture struct {
	abi     abi.ABI
	topics  schema.TopicTable
	decoder *decoder.Decoder
	records *storage.MemoryRecords
	source  *fakeSource
	store   *memCheckpoint
}

func newFixture(t *testing.T, tip uint64) *fixture {
	t.Helper()
	contractABI, err := schema.SurveyABI()
	require.NoError(t, err)
	topics, err := schema.TopicsFromABI(contractABI)
	require.NoError(t, err)
	return &fixture{
		abi:     contractABI,
		topics:  topics,
		decoder: decoder.New(contractABI, topics),
		records: storage.NewMemoryRecords(),
		source:  newFakeSource(tip),
		store:   &memCheckpoint{},
	}
}

func (f *fixture) config() RunConfig {
	return RunConfig{
		Address:      contract,
		Topics:       f.topics,
		Window:       100,
		PollInterval: 5 * time.Millisecond,
	}
}

func (f *fixture) poller(cfg RunConfig) *Poller {
	d := dispatch.New(nil)
	reconcile.NewHandlers(f.records, nil).Register(d)
	return NewPoller(cfg, f.source, f.decoder, d, f.store, nil)
}

func (f *fixture) log(t *testing.T, name string, block uint64, index uint, indexed []common.Hash, args ...interface{}) types.Log {
	t.Helper()
	event, ok := f.abi.Events[name]
	require.True(t, ok, "event %s", name)
	data, err := event.Inputs.NonIndexed().Pack(args...)
	require.NoError(t, err)
	return types.Log{
		Address:     contract,
		Topics:      append([]common.Hash{event.ID}, indexed...),
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*1000 + uint64(index))),
		Index:       index,
	}
}

func (f *fixture) created(t *testing.T, id string, block uint64, index uint) types.Log {
	return f.log(t, "SurveyCreated", block, index, []common.Hash{common.BytesToHash(creator.Bytes())}, id)
}

func (f *fixture) started(t *testing.T, id string, block uint64, index uint) types.Log {
	return f.log(t, "SurveyStarted", block, index, []common.Hash{common.BytesToHash(respondent.Bytes())}, id)
}

func (f *fixture) completed(t *testing.T, id string, block uint64, index uint) types.Log {
	return f.log(t, "SurveyCompleted", block, index, []common.Hash{common.BytesToHash(respondent.Bytes())}, id)
}

func requireAllCreated(t *testing.T, records *storage.MemoryRecords, surveyID string) {
	t.Helper()
	survey, ok := records.Survey(surveyID)
	require.True(t, ok)
	for name, group := range survey {
		require.True(t, group.Created, "survey %s group %s", surveyID, name)
	}
}

func TestRunCycleProcessesBoundedWindow(t *testing.T) {
	f := newFixture(t, 250)
	f.store.height, f.store.set = 100, true
	f.records.PutSurvey("S1", "q1", "q2")
	f.records.PutSurvey("S3", "q1")
	f.source.add(
		f.created(t, "S1", 150, 0),
		f.created(t, "S1", 180, 4),
		f.created(t, "S3", 201, 0),
	)

	result, err := f.poller(f.config()).RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, BlockRange{From: 101, To: 200}, result.Range)
	require.Equal(t, 2, result.Fetched)
	require.Equal(t, 2, result.Dispatched)
	require.Equal(t, uint64(200), f.store.height)

	requireAllCreated(t, f.records, "S1")
	s3, _ := f.records.Survey("S3")
	require.False(t, s3["q1"].Created)

	require.Len(t, f.source.calls, f.topics.Len())
	queried := make(map[common.Hash]bool, len(f.source.calls))
	for _, call := range f.source.calls {
		require.Equal(t, uint64(101), call.from)
		require.Equal(t, uint64(200), call.to)
		queried[call.topic] = true
	}
	require.True(t, queried[common.HexToHash("0x53a595437b9405acb5413690ea8277715ea0822a36578644a5f3857ea77e1c69")])
}

func TestRunCycleMergesTopicsInChainOrder(t *testing.T) {
	f := newFixture(t, 200)
	f.store.height, f.store.set = 100, true
	f.source.add(
		f.started(t, "S1", 120, 0),
		f.completed(t, "S1", 130, 0),
		f.created(t, "S1", 110, 3),
		f.created(t, "S2", 120, 5),
		f.log(t, "SurveyClosed", 120, 2, []common.Hash{common.BytesToHash(creator.Bytes())}, "S0"),
	)

	recorder := &recordingDispatcher{}
	p := NewPoller(f.config(), f.source, f.decoder, recorder, f.store, nil)
	_, err := p.RunCycle(context.Background())
	require.NoError(t, err)

	got := make([]string, 0, len(recorder.events))
	for _, event := range recorder.events {
		got = append(got, fmt.Sprintf("%s@%s", event.Kind, event.Key()))
	}
	require.Equal(t, []string{
		"SurveyCreated@110:3",
		"SurveyStarted@120:0",
		"SurveyClosed@120:2",
		"SurveyCreated@120:5",
		"SurveyCompleted@130:0",
	}, got)
}

func TestRunCycleStartedAfterCreatedInSameWindow(t *testing.T) {
	f := newFixture(t, 200)
	f.store.height, f.store.set = 100, true
	f.records.PutSurvey("S1", "q1")
	ref := storage.ResponseRef{Bucket: "S1", ID: "r1"}
	f.records.PutResponse(ref, storage.Response{SurveyID: "S1", Creator: respondent.Hex()})
	f.source.add(
		f.completed(t, "S1", 140, 1),
		f.started(t, "S1", 140, 0),
		f.created(t, "S1", 120, 0),
	)

	_, err := f.poller(f.config()).RunCycle(context.Background())
	require.NoError(t, err)

	requireAllCreated(t, f.records, "S1")
	resp, ok := f.records.Response(ref)
	require.True(t, ok)
	require.True(t, resp.Started)
	require.True(t, resp.Completed)
}

func TestRunCycleEmptyRange(t *testing.T) {
	f := newFixture(t, 250)
	f.store.height, f.store.set = 250, true

	result, err := f.poller(f.config()).RunCycle(context.Background())
	require.NoError(t, err)
	require.True(t, result.Empty)
	require.Zero(t, f.source.callCount())
	require.Equal(t, uint64(250), f.store.height)
	require.Empty(t, f.store.history)
}

func TestRunCycleProviderFailureKeepsCheckpoint(t *testing.T) {
	f := newFixture(t, 250)
	f.store.height, f.store.set = 100, true
	f.records.PutSurvey("S1", "q1")
	f.source.add(f.created(t, "S1", 150, 0))
	f.source.failOn = f.abi.Events["SurveyStarted"].ID
	f.source.failErr = fmt.Errorf("eth_getLogs: %w", chain.ErrProviderUnavailable)

	_, err := f.poller(f.config()).RunCycle(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, chain.ErrProviderUnavailable)
	require.Equal(t, uint64(100), f.store.height)

	survey, _ := f.records.Survey("S1")
	require.False(t, survey["q1"].Created)
}

func TestRunCycleTipFailure(t *testing.T) {
	f := newFixture(t, 250)
	f.store.height, f.store.set = 100, true
	f.source.tipErr = chain.ErrProviderUnavailable

	_, err := f.poller(f.config()).RunCycle(context.Background())
	require.ErrorIs(t, err, chain.ErrProviderUnavailable)
	require.Zero(t, f.source.callCount())
}

func TestRunCycleCheckpointWriteFailureReplays(t *testing.T) {
	f := newFixture(t, 250)
	f.store.height, f.store.set = 100, true
	f.records.PutSurvey("S1", "q1", "q2")
	f.source.add(f.created(t, "S1", 150, 0))
	p := f.poller(f.config())

	f.store.setErr = errors.New("disk full")
	result, err := p.RunCycle(context.Background())
	require.ErrorIs(t, err, ErrCheckpointWrite)
	require.Equal(t, 1, result.Dispatched)
	require.Equal(t, uint64(100), f.store.height)
	requireAllCreated(t, f.records, "S1")
	before, _ := f.records.Survey("S1")

	f.store.setErr = nil
	result, err = p.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, BlockRange{From: 101, To: 200}, result.Range)
	require.Equal(t, uint64(200), f.store.height)
	after, _ := f.records.Survey("S1")
	require.Equal(t, before, after)
}

func TestRunCycleSkipsUndecodableLogs(t *testing.T) {
	f := newFixture(t, 200)
	f.store.height, f.store.set = 100, true
	f.records.PutSurvey("S1", "q1")

	broken := f.created(t, "S1", 110, 0)
	broken.Data = []byte{0x01, 0x02}
	removed := f.created(t, "S1", 111, 0)
	removed.Removed = true
	f.source.add(broken, removed, f.created(t, "S1", 150, 1))

	p := f.poller(f.config())
	var skipped []error
	p.OnSkip(func(_ types.Log, err error) { skipped = append(skipped, err) })

	result, err := p.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, result.Fetched)
	require.Equal(t, 2, result.Skipped)
	require.Equal(t, 1, result.Dispatched)
	require.Len(t, skipped, 2)
	require.ErrorIs(t, skipped[0], decoder.ErrSchemaMismatch)
	require.Equal(t, uint64(200), f.store.height)
	requireAllCreated(t, f.records, "S1")
}

func TestRunCycleDropsMissingRecords(t *testing.T) {
	f := newFixture(t, 200)
	f.store.height, f.store.set = 100, true
	f.source.add(f.created(t, "ghost", 150, 0), f.started(t, "ghost", 151, 0))

	result, err := f.poller(f.config()).RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, result.Dispatched)
	require.Equal(t, uint64(200), f.store.height)
}

func TestRunCycleSeedsFromStartBlock(t *testing.T) {
	f := newFixture(t, 1000)
	cfg := f.config()
	cfg.StartBlock = 500

	result, err := f.poller(cfg).RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, []uint64{499, 599}, f.store.history)
	require.Equal(t, BlockRange{From: 500, To: 599}, result.Range)
}

func TestRunCycleSeedsGenesis(t *testing.T) {
	f := newFixture(t, 50)

	result, err := f.poller(f.config()).RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, BlockRange{From: 1, To: 50}, result.Range)
	require.Equal(t, []uint64{0, 50}, f.store.history)
}

func TestCheckpointIsMonotonic(t *testing.T) {
	f := newFixture(t, 130)
	f.store.height, f.store.set = 100, true
	p := f.poller(f.config())

	for _, tip := range []uint64{130, 130, 260, 255, 400, 410} {
		f.source.tip = tip
		_, err := p.RunCycle(context.Background())
		require.NoError(t, err)
	}

	require.Equal(t, []uint64{130, 230, 255, 355, 410}, f.store.history)
	for i := 1; i < len(f.store.history); i++ {
		require.Greater(t, f.store.history[i], f.store.history[i-1])
	}
}

func TestBackfillLeavesCheckpointAlone(t *testing.T) {
	f := newFixture(t, 1000)
	f.store.height, f.store.set = 900, true
	f.records.PutSurvey("S1", "q1")
	f.records.PutSurvey("S2", "q1")
	f.source.add(f.created(t, "S1", 10, 0), f.created(t, "S2", 240, 0))

	result, err := f.poller(f.config()).Backfill(context.Background(), 1, 250)
	require.NoError(t, err)
	require.Equal(t, 2, result.Dispatched)
	require.Empty(t, f.store.history)
	require.Equal(t, uint64(900), f.store.height)
	requireAllCreated(t, f.records, "S1")
	requireAllCreated(t, f.records, "S2")
	require.Equal(t, 3*f.topics.Len(), f.source.callCount())

	_, err = f.poller(f.config()).Backfill(context.Background(), 10, 5)
	require.ErrorIs(t, err, ErrInvalidRange)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, 150)
	f.store.height, f.store.set = 100, true
	f.records.PutSurvey("S1", "q1")
	f.source.add(f.created(t, "S1", 120, 0))
	p := f.poller(f.config())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, p.Run(ctx))
	require.Equal(t, uint64(150), f.store.height)
	require.Equal(t, StateIdle, p.State())
	requireAllCreated(t, f.records, "S1")
}

func TestRunRejectsBadConfig(t *testing.T) {
	f := newFixture(t, 150)
	cfg := f.config()
	cfg.Window = 0
	require.Error(t, f.poller(cfg).Run(context.Background()))

	cfg = f.config()
	cfg.PollInterval = 0
	require.Error(t, f.poller(cfg).Run(context.Background()))
}
