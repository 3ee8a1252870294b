package directory

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Shared hash fields under phone:<number>.
const (
	fieldAccountID = "accountId"
	fieldIsValid   = "isValid"
	fieldCallID    = "callId"
	fieldCallBPID  = "callBpId"
)

// Relay events, published on the per-number channel as a JSON array of
// [event, args...].
const (
	evCallRequest   = "call_request"
	evCalleeRinging = "callee_ringing"
	evCallRefused   = "call_refused"
	evCallCancelled = "call_cancelled"
	evCallConnected = "call_connected"
	evCallEnded     = "call_ended"
	evCloseCallAck  = "close_call_ack"
	evTalk          = "talk"
)

func phoneKey(number string) string { return "phone:" + number }

// Redis is the distributed directory: per-number state lives in a redis hash
// and signaling to a phone on another instance is relayed over the number's
// pub/sub channel. Every instance subscribes to the channels of its own
// phones and re-dispatches received events onto the local session, so remote
// and local partners behave identically.
type Redis struct {
	client *redis.Client
	pubsub *redis.PubSub
	log    *slog.Logger

	mu    sync.RWMutex
	local map[string]Partner // keyed by phoneKey
}

func NewRedis(ctx context.Context, client *redis.Client, log *slog.Logger) *Redis {
	if log == nil {
		log = slog.Default()
	}
	r := &Redis{
		client: client,
		pubsub: client.Subscribe(ctx),
		log:    log,
		local:  make(map[string]Partner),
	}
	go r.relayLoop()
	return r
}

var _ Directory = (*Redis)(nil)

// Close stops the relay subscription. The redis client itself belongs to the
// caller.
func (r *Redis) Close() error {
	return r.pubsub.Close()
}

func (r *Redis) relayLoop() {
	for msg := range r.pubsub.Channel() {
		r.dispatch(msg.Channel, []byte(msg.Payload))
	}
}

func (r *Redis) dispatch(key string, payload []byte) {
	r.mu.RLock()
	p := r.local[key]
	r.mu.RUnlock()
	if p == nil {
		// The phone moved or disconnected after the publish.
		return
	}

	event, args, err := decodeEnvelope(payload)
	if err != nil {
		r.log.Error("bad relay payload", "channel", key, "err", err)
		return
	}

	switch event {
	case evCallRequest:
		p.IncomingCall(argString(args, 0))
	case evCalleeRinging:
		p.Ringing()
	case evCallRefused:
		p.Refused(argString(args, 0), argString(args, 1))
	case evCallCancelled:
		p.Cancelled(argString(args, 0))
	case evCallConnected:
		p.Connected(argString(args, 0))
	case evCallEnded:
		p.Ended(argString(args, 0), argBool(args, 1))
	case evCloseCallAck:
		p.CloseAck(argString(args, 0))
	case evTalk:
		p.Talk(argString(args, 0))
	default:
		r.log.Warn("unknown relay event", "channel", key, "event", event)
	}
}

func (r *Redis) Get(ctx context.Context, number string) (Partner, error) {
	if p, err := r.GetLocal(number); err == nil {
		return p, nil
	}

	data, err := r.client.HGetAll(ctx, phoneKey(number)).Result()
	if err != nil {
		// A relay outage means remote phones are unreachable anyway.
		r.log.Error("directory lookup failed", "number", number, "err", err)
		return nil, ErrNotFound
	}
	if data[fieldAccountID] == "" {
		return nil, ErrNotFound
	}
	return &remoteHandle{
		dir:       r,
		number:    number,
		key:       phoneKey(number),
		accountID: data[fieldAccountID],
		valid:     parseRelayBool(data[fieldIsValid]),
		onCall:    data[fieldCallID] != "",
	}, nil
}

func (r *Redis) GetLocal(number string) (Partner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.local[phoneKey(number)]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (r *Redis) Set(ctx context.Context, number string, p Partner) error {
	key := phoneKey(number)
	r.mu.Lock()
	r.local[key] = p
	r.mu.Unlock()

	if err := r.client.HSet(ctx, key,
		fieldAccountID, p.AccountID(),
		fieldIsValid, strconv.FormatBool(p.Valid()),
	).Err(); err != nil {
		return fmt.Errorf("publish phone state: %w", err)
	}
	if err := r.pubsub.Subscribe(ctx, key); err != nil {
		return fmt.Errorf("subscribe %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, number string) error {
	key := phoneKey(number)
	r.mu.Lock()
	delete(r.local, key)
	r.mu.Unlock()

	if err := r.pubsub.Unsubscribe(ctx, key); err != nil {
		r.log.Error("unsubscribe failed", "number", number, "err", err)
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("clear phone state: %w", err)
	}
	return nil
}

func (r *Redis) ChangeValidState(ctx context.Context, number string, valid bool) error {
	return r.client.HSet(ctx, phoneKey(number), fieldIsValid, strconv.FormatBool(valid)).Err()
}

func (r *Redis) BeginCall(ctx context.Context, caller, callee, callID, billingPlanID string) error {
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, phoneKey(caller), fieldCallID, callID, fieldCallBPID, billingPlanID)
	pipe.HSet(ctx, phoneKey(callee), fieldCallID, callID, fieldCallBPID, billingPlanID)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) EndCall(ctx context.Context, caller, callee string) error {
	pipe := r.client.TxPipeline()
	pipe.HDel(ctx, phoneKey(caller), fieldCallID, fieldCallBPID)
	pipe.HDel(ctx, phoneKey(callee), fieldCallID, fieldCallBPID)
	_, err := pipe.Exec(ctx)
	return err
}

func (r *Redis) CallContext(ctx context.Context, number string) (CallContext, error) {
	vals, err := r.client.HMGet(ctx, phoneKey(number), fieldCallID, fieldCallBPID).Result()
	if err != nil {
		return CallContext{}, fmt.Errorf("read call context: %w", err)
	}
	cc := CallContext{
		CallID:        stringOrEmpty(vals[0]),
		BillingPlanID: stringOrEmpty(vals[1]),
	}
	if cc.CallID == "" {
		return CallContext{}, ErrNotFound
	}
	return cc, nil
}

func (r *Redis) publish(key string, event string, args ...any) {
	payload, err := encodeEnvelope(event, args...)
	if err != nil {
		r.log.Error("encode relay event", "event", event, "err", err)
		return
	}
	if err := r.client.Publish(context.Background(), key, payload).Err(); err != nil {
		r.log.Error("relay publish failed", "channel", key, "event", event, "err", err)
	}
}

func parseRelayBool(s string) bool {
	return !(s == "" || s == "false" || s == "0")
}

func stringOrEmpty(v any) string {
	s, _ := v.(string)
	return s
}

// remoteHandle represents a phone connected to another server instance. Its
// signal methods publish onto the number's channel instead of calling a
// session directly.
type remoteHandle struct {
	dir       *Redis
	number    string
	key       string
	accountID string
	valid     bool
	onCall    bool
}

var _ Partner = (*remoteHandle)(nil)

func (h *remoteHandle) Number() string    { return h.number }
func (h *remoteHandle) AccountID() string { return h.accountID }
func (h *remoteHandle) Valid() bool       { return h.valid }
func (h *remoteHandle) OnCall() bool      { return h.onCall }

func (h *remoteHandle) IncomingCall(from string) { h.dir.publish(h.key, evCallRequest, from) }
func (h *remoteHandle) Ringing()                 { h.dir.publish(h.key, evCalleeRinging) }
func (h *remoteHandle) Refused(from, reason string) {
	h.dir.publish(h.key, evCallRefused, from, reason)
}
func (h *remoteHandle) Connected(from string) { h.dir.publish(h.key, evCallConnected, from) }
func (h *remoteHandle) Cancelled(from string) { h.dir.publish(h.key, evCallCancelled, from) }
func (h *remoteHandle) Ended(from string, wantAck bool) {
	h.dir.publish(h.key, evCallEnded, from, wantAck)
}
func (h *remoteHandle) CloseAck(from string) { h.dir.publish(h.key, evCloseCallAck, from) }
func (h *remoteHandle) Talk(msg string)      { h.dir.publish(h.key, evTalk, msg) }
