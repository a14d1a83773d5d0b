package notify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"goim-comment/pkg/kafka"
	"goim-comment/pkg/logger"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	got    chan struct{}
}

func newRecorder() *recorder {
	return &recorder{got: make(chan struct{}, 100)}
}

func (r *recorder) Deliver(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.got <- struct{}{}
	return nil
}

func (r *recorder) wait(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of %d events", i, n)
		}
	}
}

func observed(level zapcore.Level) (logger.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return logger.NewZapLogger(zap.New(core)), logs
}

func TestEmitRoutesBySubscription(t *testing.T) {
	d := NewDispatcher(Config{Workers: 2, QueueSize: 16}, logger.NewNop(), nil)
	defer d.Stop(context.Background())

	banned := newRecorder()
	all := newRecorder()
	if err := d.Subscribe(KindUserBanned, banned); err != nil {
		t.Fatal(err)
	}
	d.SubscribeAll(all)

	if err := d.Emit(KindCommentCreated, map[string]interface{}{"comment_id": "1"}); err != nil {
		t.Fatal(err)
	}
	if err := d.Emit(KindUserBanned, map[string]interface{}{"user_id": "7", "reason": "spam"}); err != nil {
		t.Fatal(err)
	}

	all.wait(t, 2)
	banned.wait(t, 1)

	banned.mu.Lock()
	defer banned.mu.Unlock()
	if len(banned.events) != 1 || banned.events[0].Fields()["reason"] != "spam" {
		t.Errorf("banned subscriber got %+v", banned.events)
	}
}

func TestEmitRejectsMalformed(t *testing.T) {
	d := NewDispatcher(Config{Workers: 1, QueueSize: 1}, logger.NewNop(), nil)
	defer d.Stop(context.Background())

	if err := d.Emit("comment.exploded", nil); !errors.Is(err, ErrMalformedEvent) {
		t.Errorf("unknown kind error = %v", err)
	}
	if err := d.Emit(KindCommentCreated, map[string]interface{}{"bad": make(chan int)}); !errors.Is(err, ErrMalformedEvent) {
		t.Errorf("unencodable payload error = %v", err)
	}
	if err := d.Subscribe("nope", newRecorder()); !errors.Is(err, ErrMalformedEvent) {
		t.Errorf("subscribe unknown kind error = %v", err)
	}
}

func TestFullQueueDropsAndLogs(t *testing.T) {
	log, logs := observed(zapcore.WarnLevel)
	d := NewDispatcher(Config{Workers: 1, QueueSize: 1}, log, nil)
	defer d.Stop(context.Background())

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	d.SubscribeAll(SinkFunc(func(context.Context, Event) error {
		started <- struct{}{}
		<-release
		return nil
	}))

	// 第一条占住 worker，第二条进队列，之后的全部丢弃
	if err := d.Emit(KindCommentCreated, nil); err != nil {
		t.Fatal(err)
	}
	<-started
	for i := 0; i < 5; i++ {
		start := time.Now()
		if err := d.Emit(KindCommentCreated, nil); err != nil {
			t.Fatal(err)
		}
		if time.Since(start) > 100*time.Millisecond {
			t.Fatal("Emit blocked on a saturated pool")
		}
	}
	close(release)

	if got := d.Stats().Dropped; got != 4 {
		t.Errorf("dropped = %d, want 4", got)
	}
	if n := logs.FilterMessage("Dropping notification event").Len(); n != 4 {
		t.Errorf("drop warnings = %d, want 4", n)
	}
}

func TestSinkFailuresAreContained(t *testing.T) {
	log, logs := observed(zapcore.ErrorLevel)
	d := NewDispatcher(Config{Workers: 1, QueueSize: 8}, log, nil)
	defer d.Stop(context.Background())

	calls := 0
	var mu sync.Mutex
	d.SubscribeAll(SinkFunc(func(context.Context, Event) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return errors.New("smtp down")
	}))
	d.SubscribeAll(SinkFunc(func(context.Context, Event) error { panic("bad sink") }))
	ok := newRecorder()
	d.SubscribeAll(ok)

	if err := d.Emit(KindModeratorAlert, map[string]interface{}{"comment_id": "3"}); err != nil {
		t.Fatalf("Emit surfaced a delivery failure: %v", err)
	}
	ok.wait(t, 1)

	if n := logs.FilterMessage("Notification delivery failed").Len(); n != 2 {
		t.Errorf("failure logs = %d, want 2", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("failing sink called %d times, want 1 (no retry)", calls)
	}
}

func TestEmitAfterStop(t *testing.T) {
	d := NewDispatcher(Config{Workers: 1, QueueSize: 1}, logger.NewNop(), nil)
	if err := d.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := d.Emit(KindCommentCreated, nil); err != nil {
		t.Errorf("Emit after Stop = %v", err)
	}
	if d.Stats().Dropped != 1 {
		t.Error("event emitted after stop was not counted as dropped")
	}
	if err := d.Stop(context.Background()); err != nil {
		t.Errorf("second Stop = %v", err)
	}
}

func TestKafkaSink(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	mp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "comment-events" {
			return errors.New("wrong topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "42" {
			return errors.New("wrong key " + string(key))
		}
		value, _ := msg.Value.Encode()
		env, err := DecodeEnvelope(value)
		if err != nil {
			return err
		}
		if env.Fields["kind"].GetStringValue() != string(KindCommentApproved) {
			return errors.New("wrong kind")
		}
		return nil
	})

	sink := NewKafkaSink(kafka.NewProducer(mp), "comment-events")
	d := NewDispatcher(Config{Workers: 1, QueueSize: 4}, logger.NewNop(), nil)
	done := newRecorder()
	d.SubscribeAll(sink)
	d.SubscribeAll(done)

	if err := d.Emit(KindCommentApproved, map[string]interface{}{"comment_id": "42"}); err != nil {
		t.Fatal(err)
	}
	done.wait(t, 1)
	if err := d.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := mp.Close(); err != nil {
		t.Fatal(err)
	}
	if d.Stats().Failed != 0 {
		t.Errorf("kafka delivery failed")
	}
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(logger.NewNop())
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		hub.HandleConnection(conn, r)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	d := NewDispatcher(Config{Workers: 1, QueueSize: 4}, logger.NewNop(), nil)
	defer d.Stop(context.Background())
	d.SubscribeAll(hub)
	if err := d.Emit(KindModeratorAlert, map[string]interface{}{"comment_id": "9", "reason": "flag threshold"}); err != nil {
		t.Fatal(err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(msg), `"moderator.alert"`) || !strings.Contains(string(msg), "flag threshold") {
		t.Errorf("feed message = %s", msg)
	}
}
