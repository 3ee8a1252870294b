package directory

import (
	"context"
	"log/slog"
	"testing"
)

type fakePartner struct {
	number    string
	accountID string
	valid     bool
	onCall    bool

	events []string
	talks  []string
}

func (f *fakePartner) Number() string    { return f.number }
func (f *fakePartner) AccountID() string { return f.accountID }
func (f *fakePartner) Valid() bool       { return f.valid }
func (f *fakePartner) OnCall() bool      { return f.onCall }

func (f *fakePartner) IncomingCall(from string) { f.events = append(f.events, "incoming:"+from) }
func (f *fakePartner) Ringing()                 { f.events = append(f.events, "ringing") }
func (f *fakePartner) Refused(from, reason string) {
	f.events = append(f.events, "refused:"+from+":"+reason)
}
func (f *fakePartner) Connected(from string) { f.events = append(f.events, "connected:"+from) }
func (f *fakePartner) Cancelled(from string) { f.events = append(f.events, "cancelled:"+from) }
func (f *fakePartner) Ended(from string, wantAck bool) {
	if wantAck {
		f.events = append(f.events, "ended+ack:"+from)
	} else {
		f.events = append(f.events, "ended:"+from)
	}
}
func (f *fakePartner) CloseAck(from string) { f.events = append(f.events, "closeack:"+from) }
func (f *fakePartner) Talk(msg string)      { f.talks = append(f.talks, msg) }

func TestLocalRegisterLookupDelete(t *testing.T) {
	ctx := context.Background()
	d := NewLocal()
	p := &fakePartner{number: "1234", accountID: "acct-1", valid: true}

	if _, err := d.Get(ctx, "1234"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := d.Set(ctx, "1234", p); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := d.Get(ctx, "1234")
	if err != nil || got != Partner(p) {
		t.Fatalf("get after set: %v %v", got, err)
	}
	if err := d.Delete(ctx, "1234"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := d.Get(ctx, "1234"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestLocalCallContext(t *testing.T) {
	ctx := context.Background()
	d := NewLocal()

	if _, err := d.CallContext(ctx, "1234"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := d.BeginCall(ctx, "1234", "5678", "call-1", "plan-a"); err != nil {
		t.Fatalf("begin: %v", err)
	}
	for _, n := range []string{"1234", "5678"} {
		cc, err := d.CallContext(ctx, n)
		if err != nil {
			t.Fatalf("call context for %s: %v", n, err)
		}
		if cc.CallID != "call-1" || cc.BillingPlanID != "plan-a" {
			t.Fatalf("unexpected context for %s: %+v", n, cc)
		}
	}
	if err := d.EndCall(ctx, "1234", "5678"); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := d.CallContext(ctx, "1234"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after end, got %v", err)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	payload, err := encodeEnvelope(evCallRefused, "1234", "busy")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(payload) != `["call_refused","1234","busy"]` {
		t.Fatalf("unexpected wire form: %s", payload)
	}

	event, args, err := decodeEnvelope(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event != evCallRefused || argString(args, 0) != "1234" || argString(args, 1) != "busy" {
		t.Fatalf("round trip mismatch: %s %v", event, args)
	}
}

func TestEnvelopeDecodeErrors(t *testing.T) {
	if _, _, err := decodeEnvelope([]byte(`{}`)); err == nil {
		t.Fatal("object payload should fail")
	}
	if _, _, err := decodeEnvelope([]byte(`[]`)); err == nil {
		t.Fatal("empty array should fail")
	}
	if _, _, err := decodeEnvelope([]byte(`[42]`)); err == nil {
		t.Fatal("non-string event should fail")
	}
}

func TestEnvelopeMissingArgsDefault(t *testing.T) {
	payload, err := encodeEnvelope(evCallEnded, "1234")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, args, err := decodeEnvelope(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if argBool(args, 1) {
		t.Fatal("missing bool arg should default to false")
	}
	if argString(args, 5) != "" {
		t.Fatal("missing string arg should default to empty")
	}
}

func TestRedisDispatch(t *testing.T) {
	p := &fakePartner{number: "1234"}
	r := &Redis{
		log:   slog.Default(),
		local: map[string]Partner{phoneKey("1234"): p},
	}

	cases := []struct {
		event string
		args  []any
		want  string
	}{
		{evCallRequest, []any{"5678"}, "incoming:5678"},
		{evCalleeRinging, nil, "ringing"},
		{evCallRefused, []any{"5678", "busy"}, "refused:5678:busy"},
		{evCallCancelled, []any{"5678"}, "cancelled:5678"},
		{evCallConnected, []any{"5678"}, "connected:5678"},
		{evCallEnded, []any{"5678", true}, "ended+ack:5678"},
		{evCallEnded, []any{"5678", false}, "ended:5678"},
		{evCloseCallAck, []any{"5678"}, "closeack:5678"},
	}
	for _, tc := range cases {
		payload, err := encodeEnvelope(tc.event, tc.args...)
		if err != nil {
			t.Fatalf("encode %s: %v", tc.event, err)
		}
		r.dispatch(phoneKey("1234"), payload)
	}
	for i, tc := range cases {
		if p.events[i] != tc.want {
			t.Fatalf("event %d: got %q, want %q", i, p.events[i], tc.want)
		}
	}

	talk, _ := encodeEnvelope(evTalk, "hello")
	r.dispatch(phoneKey("1234"), talk)
	if len(p.talks) != 1 || p.talks[0] != "hello" {
		t.Fatalf("talk not relayed: %v", p.talks)
	}

	// Unknown numbers and garbage payloads must not panic.
	r.dispatch(phoneKey("0000"), talk)
	r.dispatch(phoneKey("1234"), []byte("not json"))
}

func TestParseRelayBool(t *testing.T) {
	for s, want := range map[string]bool{
		"true": true, "1": true, "yes": true,
		"false": false, "0": false, "": false,
	} {
		if got := parseRelayBool(s); got != want {
			t.Fatalf("parseRelayBool(%q) = %v", s, got)
		}
	}
}
