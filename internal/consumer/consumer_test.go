package consumer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"bike-tracker/internal/model"
)

type fakeStream struct {
	groupErr     error
	groupCreates int

	reads   [][]redis.XStream
	readNum int
	onRead  func(n int)

	acked   []string
	trimmed []string
}

func (f *fakeStream) XGroupCreateMkStream(_ context.Context, _, _, _ string) *redis.StatusCmd {
	f.groupCreates++
	if f.groupErr != nil {
		return redis.NewStatusResult("", f.groupErr)
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeStream) XReadGroup(_ context.Context, _ *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	n := f.readNum
	f.readNum++
	if f.onRead != nil {
		f.onRead(n)
	}
	if n < len(f.reads) {
		return redis.NewXStreamSliceCmdResult(f.reads[n], nil)
	}
	return redis.NewXStreamSliceCmdResult(nil, redis.Nil)
}

func (f *fakeStream) XAck(_ context.Context, _, _ string, ids ...string) *redis.IntCmd {
	f.acked = append(f.acked, ids...)
	return redis.NewIntResult(int64(len(ids)), nil)
}

func (f *fakeStream) XTrimMinID(_ context.Context, _ string, minID string) *redis.IntCmd {
	f.trimmed = append(f.trimmed, minID)
	return redis.NewIntResult(0, nil)
}

type recordingHandler struct {
	err   error
	snaps []*model.Snapshot
}

func (h *recordingHandler) ProcessSnapshot(_ context.Context, snap *model.Snapshot) error {
	h.snaps = append(h.snaps, snap)
	return h.err
}

func testConfig() Config {
	return Config{
		Stream:           "bike_data_stream",
		Group:            "processing_group",
		Consumer:         "processor_1",
		ReadBlock:        10 * time.Millisecond,
		ReadErrorBackoff: 10 * time.Millisecond,
	}
}

const validPayload = `{"countries":[{"cities":[{"places":[{"uid":1,"lat":47.5,"lng":19.0,"name":"A","spot":true,"bike_list":[{"number":"123456"}]}]}]}]}`

func msg(id, data string) redis.XMessage {
	return redis.XMessage{ID: id, Values: map[string]interface{}{"data": data}}
}

func TestEnsureGroupIdempotent(t *testing.T) {
	f := &fakeStream{groupErr: errors.New("BUSYGROUP Consumer Group name already exists")}
	c := New(f, &recordingHandler{}, testConfig(), nil)

	if err := c.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("existing group must not be an error: %v", err)
	}
	if err := c.EnsureGroup(context.Background()); err != nil {
		t.Fatalf("second call must not be an error: %v", err)
	}
	if f.groupCreates != 2 {
		t.Errorf("expected two create attempts, got %d", f.groupCreates)
	}
}

func TestEnsureGroupPropagatesOtherErrors(t *testing.T) {
	f := &fakeStream{groupErr: errors.New("NOAUTH Authentication required")}
	c := New(f, &recordingHandler{}, testConfig(), nil)

	if err := c.EnsureGroup(context.Background()); err == nil {
		t.Fatal("expected error to propagate")
	}
}

func TestHandleSuccessAcksAndTrims(t *testing.T) {
	f := &fakeStream{}
	h := &recordingHandler{}
	c := New(f, h, testConfig(), nil)

	got := c.handle(context.Background(), msg("1-0", validPayload))

	if got != outcomeProcessed {
		t.Fatalf("expected processed, got %v", got)
	}
	if len(h.snaps) != 1 {
		t.Fatalf("handler not invoked")
	}
	if len(h.snaps[0].Countries) != 1 {
		t.Errorf("snapshot not parsed: %+v", h.snaps[0])
	}
	if len(f.acked) != 1 || f.acked[0] != "1-0" {
		t.Errorf("message not acked: %v", f.acked)
	}
	if len(f.trimmed) != 1 || f.trimmed[0] != "1-0" {
		t.Errorf("stream not trimmed: %v", f.trimmed)
	}
}

func TestHandleMalformedMessageIsDiscarded(t *testing.T) {
	cases := []struct {
		name string
		msg  redis.XMessage
	}{
		{"non-numeric uid", msg("1-0", `{"countries":[{"cities":[{"places":[{"uid":"abc","lat":1,"lng":2,"name":"x","spot":true,"bike_list":[]}]}]}]}`)},
		{"not json", msg("1-0", `not json at all`)},
		{"missing data field", redis.XMessage{ID: "1-0", Values: map[string]interface{}{"other": "x"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := &fakeStream{}
			h := &recordingHandler{}
			c := New(f, h, testConfig(), nil)

			if got := c.handle(context.Background(), tc.msg); got != outcomeDiscarded {
				t.Fatalf("expected discarded, got %v", got)
			}
			if len(h.snaps) != 0 {
				t.Errorf("handler must not run for poison messages")
			}
			// Poison messages are acked and trimmed so they cannot stall the stream.
			if len(f.acked) != 1 || len(f.trimmed) != 1 {
				t.Errorf("expected ack+trim, got acked=%v trimmed=%v", f.acked, f.trimmed)
			}
		})
	}
}

func TestHandleProcessingErrorLeavesPending(t *testing.T) {
	f := &fakeStream{}
	h := &recordingHandler{err: errors.New("store unreachable")}
	c := New(f, h, testConfig(), nil)

	if got := c.handle(context.Background(), msg("1-0", validPayload)); got != outcomeRetried {
		t.Fatalf("expected retried, got %v", got)
	}
	if len(f.acked) != 0 || len(f.trimmed) != 0 {
		t.Errorf("message must stay un-acked for redelivery, got acked=%v trimmed=%v", f.acked, f.trimmed)
	}
}

func TestRunDrainsAndStopsOnCancel(t *testing.T) {
	f := &fakeStream{
		reads: [][]redis.XStream{
			{{Stream: "bike_data_stream", Messages: []redis.XMessage{msg("1-0", validPayload)}}},
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	f.onRead = func(n int) {
		if n >= 1 {
			cancel()
		}
	}
	h := &recordingHandler{}
	c := New(f, h, testConfig(), nil)

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
	if len(h.snaps) != 1 {
		t.Errorf("expected one processed snapshot, got %d", len(h.snaps))
	}
	if len(f.acked) != 1 {
		t.Errorf("expected one ack, got %v", f.acked)
	}
}

func TestRunBacksOffOnReadError(t *testing.T) {
	boom := errors.New("connection reset")
	ctx, cancel := context.WithCancel(context.Background())
	f := &fakeStream{}
	f.onRead = func(n int) {
		// First read fails and triggers the back-off; cancel before the second.
		if n >= 1 {
			cancel()
		}
	}
	c := New(&erroringStream{fakeStream: f, err: boom}, &recordingHandler{}, testConfig(), nil)

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("read errors must not crash the loop: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

type erroringStream struct {
	*fakeStream
	err error
}

func (e *erroringStream) XReadGroup(_ context.Context, _ *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	if e.onRead != nil {
		e.onRead(e.readNum)
	}
	e.readNum++
	return redis.NewXStreamSliceCmdResult(nil, e.err)
}
