package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/tbourn/go-chat-presence/internal/domain"
	"github.com/tbourn/go-chat-presence/internal/services"
)

type call struct {
	Op   string
	Args []string
}

type fakeRouter struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (f *fakeRouter) rec(op string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{op, args})
	return f.err
}

func (f *fakeRouter) JoinChat(ctx context.Context, u, c string) error  { return f.rec("join", u, c) }
func (f *fakeRouter) LeaveChat(ctx context.Context, u, c string) error { return f.rec("leave", u, c) }
func (f *fakeRouter) Typing(ctx context.Context, u, c string, on bool) error {
	s := "false"
	if on {
		s = "true"
	}
	return f.rec("typing", u, c, s)
}
func (f *fakeRouter) SendMessage(ctx context.Context, u, c, typ, content string) (*domain.Message, services.Delivery, error) {
	if err := f.rec("send", u, c, typ, content); err != nil {
		return nil, services.Delivery{}, err
	}
	return &domain.Message{ID: "m1", ChatID: c}, services.Delivery{}, nil
}
func (f *fakeRouter) ReactToMessage(ctx context.Context, u, c, m, r string) error {
	return f.rec("react", u, c, m, r)
}
func (f *fakeRouter) InitiateCall(ctx context.Context, u, c, typ string) (*domain.CallSession, error) {
	if err := f.rec("initiate", u, c, typ); err != nil {
		return nil, err
	}
	return &domain.CallSession{ID: "call1", ChatID: c, CallerID: u}, nil
}
func (f *fakeRouter) AcceptCall(ctx context.Context, u, id string) (*domain.CallSession, error) {
	return &domain.CallSession{ID: id}, f.rec("accept", u, id)
}
func (f *fakeRouter) DeclineCall(ctx context.Context, u, id string) (*domain.CallSession, error) {
	return &domain.CallSession{ID: id}, f.rec("decline", u, id)
}
func (f *fakeRouter) EndCall(ctx context.Context, u, id string) (*domain.CallSession, error) {
	return &domain.CallSession{ID: id}, f.rec("end", u, id)
}
func (f *fakeRouter) RelaySignal(ctx context.Context, from, to, kind string, payload json.RawMessage) error {
	return f.rec("signal", from, to, kind, string(payload))
}

type fakeActivity struct{ n int }

func (a *fakeActivity) UpdateUserActivity(ctx context.Context, userID string) error {
	a.n++
	return nil
}

type sent struct {
	Handle, Event string
	Payload       any
}

type fakeEmitter struct {
	mu   sync.Mutex
	sent []sent
}

func (e *fakeEmitter) Emit(handle, event string, payload any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sent = append(e.sent, sent{handle, event, payload})
	return nil
}

func (e *fakeEmitter) last() sent {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.sent) == 0 {
		return sent{}
	}
	return e.sent[len(e.sent)-1]
}

type fakeErrors struct{ errs []error }

func (f *fakeErrors) RecordError(err error, ctx map[string]string) { f.errs = append(f.errs, err) }

type denyAfter struct{ n int }

func (d *denyAfter) Allow(string) bool {
	d.n--
	return d.n >= 0
}

func newTestDispatcher() (*Dispatcher, *fakeRouter, *fakeActivity, *fakeEmitter, *fakeErrors) {
	r, a, e, errs := &fakeRouter{}, &fakeActivity{}, &fakeEmitter{}, &fakeErrors{}
	d := NewDispatcher(DispatcherDeps{Activity: a, Router: r, Out: e, Errors: errs})
	return d, r, a, e, errs
}

var sess = Session{UserID: "u1", Handle: "h1"}

func TestDispatch_MapsEventsToOperations(t *testing.T) {
	d, r, _, e, errs := newTestDispatcher()
	ctx := context.Background()

	frames := []struct {
		raw  string
		want call
	}{
		{`{"event":"join_room","data":{"chatId":"c1"}}`, call{"join", []string{"u1", "c1"}}},
		{`{"event":"leave_room","data":{"chatId":"c1"}}`, call{"leave", []string{"u1", "c1"}}},
		{`{"event":"send_message","data":{"chatId":"c1","type":"text","content":"hi"}}`, call{"send", []string{"u1", "c1", "text", "hi"}}},
		{`{"event":"typing","data":{"chatId":"c1","isTyping":true}}`, call{"typing", []string{"u1", "c1", "true"}}},
		{`{"event":"react_message","data":{"chatId":"c1","messageId":"m1","reaction":"+1"}}`, call{"react", []string{"u1", "c1", "m1", "+1"}}},
		{`{"event":"initiate_call","data":{"chatId":"c1","callType":"video"}}`, call{"initiate", []string{"u1", "c1", "video"}}},
		{`{"event":"accept_call","data":{"callId":"k"}}`, call{"accept", []string{"u1", "k"}}},
		{`{"event":"decline_call","data":{"callId":"k"}}`, call{"decline", []string{"u1", "k"}}},
		{`{"event":"end_call","data":{"callId":"k"}}`, call{"end", []string{"u1", "k"}}},
		{`{"event":"webrtc_offer","data":{"to":"u2","data":{"sdp":"x"}}}`, call{"signal", []string{"u1", "u2", "webrtc_offer", `{"sdp":"x"}`}}},
	}
	for i, f := range frames {
		d.Dispatch(ctx, sess, []byte(f.raw))
		if len(r.calls) != i+1 {
			t.Fatalf("frame %d: no operation ran", i)
		}
		got := r.calls[i]
		if got.Op != f.want.Op || len(got.Args) != len(f.want.Args) {
			t.Fatalf("frame %d: got %+v want %+v", i, got, f.want)
		}
		for j := range got.Args {
			if got.Args[j] != f.want.Args[j] {
				t.Fatalf("frame %d arg %d: got %q want %q", i, j, got.Args[j], f.want.Args[j])
			}
		}
	}
	if len(errs.errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs.errs)
	}

	// initiate_call acknowledges the caller with the call id.
	var ack *sent
	for i := range e.sent {
		if e.sent[i].Event == EventCallStarted {
			ack = &e.sent[i]
		}
	}
	if ack == nil || ack.Handle != "h1" || ack.Payload.(services.CallPayload).Call.ID != "call1" {
		t.Fatalf("missing call_initiated ack: %+v", e.sent)
	}
}

func TestDispatch_Heartbeat(t *testing.T) {
	d, _, a, e, _ := newTestDispatcher()
	d.Dispatch(context.Background(), sess, []byte(`{"event":"heartbeat"}`))
	d.Dispatch(context.Background(), sess, []byte(`{"event":"activity_ping"}`))
	if a.n != 2 || e.last().Event != EventHeartbeatAck {
		t.Fatalf("heartbeat not handled: n=%d last=%+v", a.n, e.last())
	}
}

func TestDispatch_ProtocolErrors(t *testing.T) {
	d, r, _, e, errs := newTestDispatcher()
	ctx := context.Background()

	cases := map[string]string{
		`not json`:                           "invalid_payload",
		`{"data":{}}`:                        "invalid_payload",
		`{"event":"join_room"}`:              "invalid_payload",
		`{"event":"join_room","data":{}}`:    "invalid_payload",
		`{"event":"dance","data":{}}`:        "unknown_event",
		`{"event":"accept_call","data":"x"}`: "invalid_payload",
	}
	for raw, code := range cases {
		d.Dispatch(ctx, sess, []byte(raw))
		last := e.last()
		if last.Event != EventError || last.Payload.(ErrorPayload).Code != code {
			t.Fatalf("%s: expected error %q, got %+v", raw, code, last)
		}
	}
	if len(r.calls) != 0 {
		t.Fatalf("no operation should run: %+v", r.calls)
	}
	if len(errs.errs) != 0 {
		t.Fatalf("protocol errors are not service errors: %v", errs.errs)
	}
}

func TestDispatch_ServiceErrorIsReportedAndRecorded(t *testing.T) {
	d, r, _, e, errs := newTestDispatcher()
	r.err = services.ErrUnauthorized
	d.Dispatch(context.Background(), sess, []byte(`{"event":"join_room","data":{"chatId":"c9"}}`))

	last := e.last()
	p, ok := last.Payload.(ErrorPayload)
	if !ok || last.Event != EventError || p.Code != "unauthorized" || p.Event != "join_room" {
		t.Fatalf("unexpected error frame: %+v", last)
	}
	if len(errs.errs) != 1 || !errors.Is(errs.errs[0], services.ErrUnauthorized) {
		t.Fatalf("service error not recorded: %v", errs.errs)
	}
}

func TestDispatch_RateLimit(t *testing.T) {
	r, a, e := &fakeRouter{}, &fakeActivity{}, &fakeEmitter{}
	d := NewDispatcher(DispatcherDeps{Activity: a, Router: r, Out: e, Limiter: &denyAfter{n: 1}})
	ctx := context.Background()

	d.Dispatch(ctx, sess, []byte(`{"event":"typing","data":{"chatId":"c1"}}`))
	d.Dispatch(ctx, sess, []byte(`{"event":"typing","data":{"chatId":"c1"}}`))
	if len(r.calls) != 1 {
		t.Fatalf("expected one operation, got %d", len(r.calls))
	}
	if p := e.last().Payload.(ErrorPayload); p.Code != "rate_limited" {
		t.Fatalf("expected rate_limited, got %+v", p)
	}
	// Heartbeats are never limited.
	d.Dispatch(ctx, sess, []byte(`{"event":"heartbeat"}`))
	if a.n != 1 {
		t.Fatalf("heartbeat should bypass the limiter")
	}
}
