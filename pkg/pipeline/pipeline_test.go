package pipeline

import (
	"context"
	"errors"
	"math/rand/v2"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/payload"
	"github.com/wehubfusion/Daedalus/pkg/record"
	"github.com/wehubfusion/Daedalus/pkg/retry"
	"github.com/wehubfusion/Daedalus/pkg/schema"
	"github.com/wehubfusion/Daedalus/pkg/service"
)

var (
	errBusy     = &service.Failure{StatusCode: 503, Code: service.ErrorCodeServerBusy, Reason: "busy", Retryable: true}
	errRejected = &service.Failure{StatusCode: 400, Code: service.ErrorCodeBadRequest, Reason: "bad member"}
)

// fakeBuilder fails validation for the listed positions.
type fakeBuilder struct {
	invalid map[int]bool
}

func (b fakeBuilder) Build(rec record.Record) (payload.Payload, error) {
	if b.invalid[rec.Position] {
		return payload.Payload{}, &payload.ValidationError{
			Position: rec.Position,
			Fields:   []schema.FieldError{{Field: "subscriber.memberId", Message: "field is required", Code: "REQUIRED"}},
		}
	}
	return payload.Payload{Subscriber: payload.Subscriber{MemberID: strconv.Itoa(rec.Position)}}, nil
}

// fakeClient replays scripted failures per position and tracks concurrency.
type fakeClient struct {
	mu       sync.Mutex
	script   map[int][]error
	seen     map[int]int
	maxDelay time.Duration
	block    bool
	started  chan struct{}

	calls    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
}

func newFakeClient() *fakeClient {
	return &fakeClient{script: map[int][]error{}, seen: map[int]int{}}
}

func (c *fakeClient) Send(ctx context.Context, p payload.Payload) (*service.Response, error) {
	c.calls.Add(1)
	current := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		peak := c.peak.Load()
		if current <= peak || c.peak.CompareAndSwap(peak, current) {
			break
		}
	}

	pos, _ := strconv.Atoi(p.Subscriber.MemberID)

	if c.block {
		c.started <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if c.maxDelay > 0 {
		time.Sleep(rand.N(c.maxDelay))
	}

	c.mu.Lock()
	n := c.seen[pos]
	c.seen[pos]++
	var err error
	if n < len(c.script[pos]) {
		err = c.script[pos][n]
	}
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &service.Response{StatusCode: 200, Body: []byte(`{"memberId":"` + p.Subscriber.MemberID + `"}`)}, nil
}

func (c *fakeClient) callsFor(pos int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seen[pos]
}

type memSink struct {
	result RunResult
	writes int
}

func (s *memSink) Write(ctx context.Context, result RunResult) error {
	s.result = result
	s.writes++
	return nil
}

type countingSource struct {
	records []record.Record
	reads   int
}

func (s *countingSource) Read(context.Context) ([]record.Record, error) {
	s.reads++
	return s.records, nil
}

func makeRecords(n int) []record.Record {
	records := make([]record.Record, n)
	for i := range records {
		records[i] = record.Record{Position: i, Fields: map[string]string{"Member ID": strconv.Itoa(i)}}
	}
	return records
}

func fastPolicy(maxAttempts int) retry.Policy {
	return retry.Policy{MaxAttempts: maxAttempts}
}

func TestProcessExampleScenario(t *testing.T) {
	client := newFakeClient()
	client.script[2] = []error{errBusy, errBusy}
	sink := &memSink{}

	p := New(fakeBuilder{invalid: map[int]bool{4: true}}, client,
		WithConcurrency(2), WithRetryPolicy(fastPolicy(3)))

	report, err := p.Process(context.Background(), record.SliceSource(makeRecords(5)), sink)
	require.NoError(t, err)

	require.Len(t, sink.result, 5)
	for _, pos := range []int{0, 1, 2, 3} {
		assert.Equal(t, KindSuccess, sink.result[pos].Kind, "position %d", pos)
	}
	assert.Equal(t, 3, sink.result[2].Attempts)
	assert.Equal(t, 1, sink.result[0].Attempts)
	assert.Equal(t, KindValidationFailure, sink.result[4].Kind)
	assert.Equal(t, service.ErrorCodeValidation, sink.result[4].ErrorCode())
	assert.Equal(t, 0, client.callsFor(4))

	// three calls for position 2, one each for positions 0, 1 and 3
	assert.Equal(t, int64(6), client.calls.Load())
	assert.Equal(t, int64(6), report.ServiceCalls)
	assert.Equal(t, int64(2), report.Retries)
	assert.Equal(t, 5, report.Total)
	assert.Equal(t, int64(4), report.Succeeded)
	assert.Equal(t, int64(1), report.ValidationFailed)
	assert.NotEmpty(t, report.RunID)
	assert.LessOrEqual(t, report.PeakInFlight, int64(2))
}

func TestProcessRejectsNonPositiveConcurrency(t *testing.T) {
	for _, workers := range []int{0, -3} {
		client := newFakeClient()
		src := &countingSource{records: makeRecords(5)}
		sink := &memSink{}

		p := New(fakeBuilder{}, client, WithConcurrency(workers), WithRetryPolicy(fastPolicy(3)))
		report, err := p.Process(context.Background(), src, sink)

		require.Error(t, err)
		assert.Nil(t, report)
		assert.True(t, sdkerrors.IsConfigError(err))
		assert.ErrorIs(t, err, sdkerrors.ErrInvalidConcurrency)
		assert.Equal(t, int64(0), client.calls.Load())
		assert.Equal(t, 0, src.reads)
		assert.Equal(t, 0, sink.writes)
	}
}

func TestProcessRejectsInvalidPolicy(t *testing.T) {
	p := New(fakeBuilder{}, newFakeClient(), WithConcurrency(2), WithRetryPolicy(retry.Policy{MaxAttempts: 0}))
	_, err := p.Process(context.Background(), record.SliceSource(makeRecords(1)), &memSink{})
	assert.True(t, sdkerrors.IsConfigError(err))
}

func TestCompletenessAndOrder(t *testing.T) {
	for _, tc := range []struct{ n, workers int }{{0, 1}, {1, 1}, {7, 3}, {40, 8}, {25, 64}} {
		client := newFakeClient()
		client.maxDelay = 2 * time.Millisecond
		sink := &memSink{}

		p := New(fakeBuilder{}, client, WithConcurrency(tc.workers), WithRetryPolicy(fastPolicy(1)))
		report, err := p.Process(context.Background(), record.SliceSource(makeRecords(tc.n)), sink)
		require.NoError(t, err)

		require.Len(t, sink.result, tc.n)
		for i, o := range sink.result {
			assert.Equal(t, i, o.Position)
			assert.Equal(t, KindSuccess, o.Kind)
			assert.JSONEq(t, `{"memberId":"`+strconv.Itoa(i)+`"}`, string(o.Response.Body))
		}
		assert.Equal(t, tc.n, report.Total)
		assert.Equal(t, int64(tc.n), report.Succeeded)
	}
}

func TestConcurrencyBound(t *testing.T) {
	const workers = 4
	client := newFakeClient()
	client.maxDelay = 5 * time.Millisecond

	d := NewDispatcher(fakeBuilder{}, client, fastPolicy(1), nil, nil, nil)
	stream, err := d.Run(context.Background(), makeRecords(60), workers)
	require.NoError(t, err)

	result, err := Collect(stream, 60)
	require.NoError(t, err)
	assert.Len(t, result, 60)
	assert.LessOrEqual(t, client.peak.Load(), int64(workers))
	assert.LessOrEqual(t, d.Limiter().GetMetrics().PeakConcurrent, int64(workers))
}

func TestRetryExhaustion(t *testing.T) {
	client := newFakeClient()
	client.script[0] = []error{errBusy, errBusy, errBusy, errBusy}
	sink := &memSink{}

	p := New(fakeBuilder{}, client, WithConcurrency(1), WithRetryPolicy(fastPolicy(3)))
	report, err := p.Process(context.Background(), record.SliceSource(makeRecords(1)), sink)
	require.NoError(t, err)

	o := sink.result[0]
	assert.Equal(t, KindServiceFailure, o.Kind)
	assert.Equal(t, 3, o.Attempts)
	assert.Equal(t, service.ErrorCodeServerBusy, o.ErrorCode())
	assert.Equal(t, 503, o.StatusCode())
	assert.Equal(t, "busy", o.Reason)
	assert.Equal(t, 3, client.callsFor(0))
	assert.Equal(t, int64(1), report.ServiceFailed)
}

func TestRetryThenSuccess(t *testing.T) {
	for k := 0; k < 4; k++ {
		client := newFakeClient()
		for range k {
			client.script[0] = append(client.script[0], errBusy)
		}
		sink := &memSink{}

		p := New(fakeBuilder{}, client, WithConcurrency(1), WithRetryPolicy(fastPolicy(4)))
		_, err := p.Process(context.Background(), record.SliceSource(makeRecords(1)), sink)
		require.NoError(t, err)

		assert.Equal(t, KindSuccess, sink.result[0].Kind)
		assert.Equal(t, k+1, sink.result[0].Attempts)
	}
}

func TestTerminalFailureIsNotRetried(t *testing.T) {
	client := newFakeClient()
	client.script[1] = []error{errRejected}
	sink := &memSink{}

	p := New(fakeBuilder{}, client, WithConcurrency(2), WithRetryPolicy(fastPolicy(5)))
	_, err := p.Process(context.Background(), record.SliceSource(makeRecords(3)), sink)
	require.NoError(t, err)

	o := sink.result[1]
	assert.Equal(t, KindServiceFailure, o.Kind)
	assert.Equal(t, 1, o.Attempts)
	assert.Equal(t, service.ErrorCodeBadRequest, o.ErrorCode())
	assert.Equal(t, 1, client.callsFor(1))
}

func TestValidationFailureNeverCallsService(t *testing.T) {
	client := newFakeClient()
	sink := &memSink{}

	p := New(fakeBuilder{invalid: map[int]bool{0: true, 1: true}}, client, WithConcurrency(2), WithRetryPolicy(fastPolicy(3)))
	report, err := p.Process(context.Background(), record.SliceSource(makeRecords(2)), sink)
	require.NoError(t, err)

	assert.Equal(t, int64(0), client.calls.Load())
	for _, o := range sink.result {
		assert.Equal(t, KindValidationFailure, o.Kind)
		assert.Equal(t, 0, o.Attempts)
		require.NotNil(t, o.Validation)
		assert.Equal(t, "subscriber.memberId: field is required", o.Reason)
	}
	assert.Equal(t, int64(2), report.ValidationFailed)
}

func TestCancellationYieldsOutcomeForEveryRecord(t *testing.T) {
	const workers = 2
	client := newFakeClient()
	client.block = true
	client.started = make(chan struct{}, workers)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for range workers {
			<-client.started
		}
		cancel()
	}()

	sink := &memSink{}
	p := New(fakeBuilder{}, client, WithConcurrency(workers), WithRetryPolicy(fastPolicy(3)))
	report, err := p.Process(ctx, record.SliceSource(makeRecords(10)), sink)
	require.NoError(t, err)

	require.Len(t, sink.result, 10)
	inFlight := 0
	for i, o := range sink.result {
		assert.Equal(t, i, o.Position)
		assert.True(t, o.IsCancelled(), "position %d", i)
		assert.Equal(t, service.ReasonCancelled, o.Reason)
		switch o.Attempts {
		case 1:
			inFlight++
		case 0:
		default:
			t.Fatalf("unexpected attempts %d", o.Attempts)
		}
	}
	assert.Equal(t, workers, inFlight)
	assert.Equal(t, int64(10), report.Cancelled)
	assert.Equal(t, int64(workers), client.calls.Load())
}

func TestCircuitBreakerFailuresAreRetryable(t *testing.T) {
	client := newFakeClient()
	client.script[0] = []error{errBusy, errBusy, errBusy}
	sink := &memSink{}

	p := New(fakeBuilder{}, client,
		WithConcurrency(1),
		WithRetryPolicy(fastPolicy(3)),
		WithCircuitBreaker(2, time.Hour))
	_, err := p.Process(context.Background(), record.SliceSource(makeRecords(2)), sink)
	require.NoError(t, err)

	// two failures open the breaker, the third attempt never reaches the client
	assert.Equal(t, 2, client.callsFor(0))
	assert.Equal(t, service.ErrorCodeCircuitBreaker, sink.result[0].ErrorCode())
	assert.Equal(t, 3, sink.result[0].Attempts)
	assert.Equal(t, service.ErrorCodeCircuitBreaker, sink.result[1].ErrorCode())
	assert.Equal(t, 0, client.callsFor(1))
}

func TestConsistencyErrorAbortsWithoutWriting(t *testing.T) {
	records := makeRecords(3)
	records[2].Position = 1
	sink := &memSink{}

	p := New(fakeBuilder{}, newFakeClient(), WithConcurrency(2), WithRetryPolicy(fastPolicy(1)))
	report, err := p.Process(context.Background(), record.SliceSource(records), sink)

	require.Error(t, err)
	assert.Nil(t, report)
	assert.True(t, sdkerrors.IsInternalConsistency(err))
	assert.Equal(t, 0, sink.writes)
}

type failingSource struct{}

func (failingSource) Read(context.Context) ([]record.Record, error) {
	return nil, errors.New("disk gone")
}

func TestSourceErrorIsReturned(t *testing.T) {
	p := New(fakeBuilder{}, newFakeClient(), WithConcurrency(1))
	_, err := p.Process(context.Background(), failingSource{}, &memSink{})
	assert.ErrorContains(t, err, "disk gone")

	var runErr *sdkerrors.Error
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, sdkerrors.CodeSource, runErr.Code)
}
