package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aaronkaplan/yellowsub/internal/config"
	"github.com/aaronkaplan/yellowsub/internal/dedup"
	"github.com/aaronkaplan/yellowsub/internal/envelope"
	"github.com/aaronkaplan/yellowsub/internal/yslog"
)

var (
	errHandlerFailed = errors.New("handler failed")
	errPublishFailed = errors.New("publish unconfirmed")
)

// fakeDelivery is a hand-rolled double for broker.Delivery, in the same
// mock-runner spirit the rest of the corpus uses to drive handlers without a
// live broker.
type fakeDelivery struct {
	body                          []byte
	acked, rejected, nackRequeued bool
}

func (f *fakeDelivery) Body() []byte { return f.body }
func (f *fakeDelivery) Ack() error   { f.acked = true; return nil }
func (f *fakeDelivery) RejectNoRequeue() error {
	f.rejected = true
	return nil
}
func (f *fakeDelivery) NackRequeue() error { f.nackRequeued = true; return nil }

// scriptedRunner returns a fixed (out, err) from OnMessage and records
// whether it was invoked.
type scriptedRunner struct {
	out    *envelope.Envelope
	err    error
	called bool
}

func (r *scriptedRunner) Validate([]byte) bool { return true }
func (r *scriptedRunner) OnMessage(_ context.Context, _ *envelope.Envelope) (*envelope.Envelope, error) {
	r.called = true
	return r.out, r.err
}

// fakePublisher records publishes and returns a fixed error.
type fakePublisher struct {
	err       error
	published [][]byte
}

func (p *fakePublisher) Publish(_ context.Context, body []byte) error {
	p.published = append(p.published, body)
	return p.err
}

func testLogger(t *testing.T) *yslog.Logger {
	t.Helper()
	if err := yslog.Setup(yslog.Config{Dir: t.TempDir(), Level: yslog.DEBUG}); err != nil {
		t.Fatalf("yslog setup: %v", err)
	}
	l, err := yslog.Get("yellowsub.handledeliverytest")
	if err != nil {
		t.Fatalf("yslog get: %v", err)
	}
	return l
}

func testEnvelope(t *testing.T) *envelope.Envelope {
	t.Helper()
	env, err := envelope.New("parsed", 1, "event", map[string]string{"hello": "world"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return env
}

func TestHandleDeliveryDecodeErrorRejectsWithoutCallingRunner(t *testing.T) {
	r := &scriptedRunner{}
	w, err := New("w0", GroupFilter, r, config.Map{}, testLogger(t), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d := &fakeDelivery{body: []byte("not json")}

	w.handleDelivery(context.Background(), d)

	if !d.rejected || d.acked {
		t.Errorf("expected reject-no-requeue on decode error, got acked=%v rejected=%v", d.acked, d.rejected)
	}
	if r.called {
		t.Error("expected OnMessage not to be called on decode error")
	}
}

func TestHandleDeliverySchemaInvalidRejects(t *testing.T) {
	r := &scriptedRunner{}
	w, err := New("w0", GroupFilter, r, config.Map{"validate_msg": true}, testLogger(t), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bad := &envelope.Envelope{} // zero-value: valid JSON, fails Validate()
	body, serr := bad.Serialize()
	if serr != nil {
		t.Fatalf("unexpected error: %v", serr)
	}
	d := &fakeDelivery{body: body}

	w.handleDelivery(context.Background(), d)

	if !d.rejected || d.acked {
		t.Errorf("expected reject-no-requeue on schema-invalid, got acked=%v rejected=%v", d.acked, d.rejected)
	}
	if r.called {
		t.Error("expected OnMessage not to be called on schema-invalid")
	}
}

func TestHandleDeliveryDedupSkipAcksWithoutCallingRunner(t *testing.T) {
	store, err := dedup.OpenBadgerStore(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	cache := dedup.New(store, time.Hour)

	env := testEnvelope(t)
	if _, err := cache.Dedup(context.Background(), env.Meta.UUID, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r := &scriptedRunner{}
	w, err := New("w0", GroupFilter, r, config.Map{}, testLogger(t), cache)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	body, _ := env.Serialize()
	d := &fakeDelivery{body: body}

	w.handleDelivery(context.Background(), d)

	if !d.acked || d.rejected {
		t.Errorf("expected ack-only on dedup skip, got acked=%v rejected=%v", d.acked, d.rejected)
	}
	if r.called {
		t.Error("expected OnMessage not to be called on dedup skip")
	}
}

func TestHandleDeliveryHandlerErrorLeavesMessageUnacked(t *testing.T) {
	r := &scriptedRunner{err: errHandlerFailed}
	w, err := New("w0", GroupFilter, r, config.Map{}, testLogger(t), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	env := testEnvelope(t)
	body, _ := env.Serialize()
	d := &fakeDelivery{body: body}

	w.handleDelivery(context.Background(), d)

	if d.acked || d.rejected || d.nackRequeued {
		t.Errorf("expected no ack/reject/nack on handler error (broker should redeliver), got acked=%v rejected=%v nackRequeued=%v", d.acked, d.rejected, d.nackRequeued)
	}
}

func TestHandleDeliveryDropAcksWithoutPublishing(t *testing.T) {
	r := &scriptedRunner{out: nil, err: nil}
	pub := &fakePublisher{}
	w, err := New("w0", GroupFilter, r, config.Map{}, testLogger(t), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.producer = pub
	env := testEnvelope(t)
	body, _ := env.Serialize()
	d := &fakeDelivery{body: body}

	w.handleDelivery(context.Background(), d)

	if !d.acked {
		t.Error("expected ack on drop (nil, nil from OnMessage)")
	}
	if len(pub.published) != 0 {
		t.Error("expected no publish on drop")
	}
}

func TestHandleDeliveryOutputGroupAcksWithoutPublishing(t *testing.T) {
	out := testEnvelope(t)
	r := &scriptedRunner{out: out}
	pub := &fakePublisher{}
	w, err := New("w0", GroupOutput, r, config.Map{}, testLogger(t), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.producer = pub
	env := testEnvelope(t)
	body, _ := env.Serialize()
	d := &fakeDelivery{body: body}

	w.handleDelivery(context.Background(), d)

	if !d.acked {
		t.Error("expected ack for output-group processor")
	}
	if len(pub.published) != 0 {
		t.Error("expected output-group processor not to publish (side effect already performed)")
	}
}

func TestHandleDeliveryPublishUnconfirmedDoesNotAck(t *testing.T) {
	out := testEnvelope(t)
	r := &scriptedRunner{out: out}
	pub := &fakePublisher{err: errPublishFailed}
	w, err := New("w0", GroupFilter, r, config.Map{}, testLogger(t), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.producer = pub
	env := testEnvelope(t)
	body, _ := env.Serialize()
	d := &fakeDelivery{body: body}

	w.handleDelivery(context.Background(), d)

	if d.acked || d.rejected || d.nackRequeued {
		t.Errorf("expected no ack/reject/nack when publish is unconfirmed, got acked=%v rejected=%v nackRequeued=%v", d.acked, d.rejected, d.nackRequeued)
	}
	if len(pub.published) != 1 {
		t.Errorf("expected exactly one publish attempt, got %d", len(pub.published))
	}
}

func TestHandleDeliverySuccessPublishesAndAcks(t *testing.T) {
	out := testEnvelope(t)
	r := &scriptedRunner{out: out}
	pub := &fakePublisher{}
	w, err := New("w0", GroupFilter, r, config.Map{}, testLogger(t), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w.producer = pub
	env := testEnvelope(t)
	body, _ := env.Serialize()
	d := &fakeDelivery{body: body}

	w.handleDelivery(context.Background(), d)

	if !d.acked {
		t.Error("expected ack after a confirmed publish")
	}
	if len(pub.published) != 1 {
		t.Errorf("expected exactly one publish, got %d", len(pub.published))
	}
}
