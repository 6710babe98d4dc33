// Package redischan carries group broadcasts over Redis pub/sub. A request
// is one PUBLISH on the group's request topic; every member (the dispatcher
// included) runs a responder that handles the action and publishes its
// reply to a per-call reply topic. The dispatcher collects replies against
// the membership known at dispatch time and fills in absent marks for
// members that stay silent past the window.
package redischan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/oriys/quasar/internal/discovery"
	"github.com/oriys/quasar/internal/group"
	"github.com/oriys/quasar/internal/logging"
	"github.com/oriys/quasar/internal/metrics"
	"github.com/oriys/quasar/internal/tracing"
)

var ErrChannelClosed = errors.New("redischan: channel is closed")

// DefaultWait bounds broadcasts that carry no explicit window.
const DefaultWait = 5 * time.Second

// replyPublishTimeout bounds the responder-side PUBLISH of one reply.
const replyPublishTimeout = 5 * time.Second

// requestEnvelope travels on the group request topic.
type requestEnvelope struct {
	CallID       string         `json:"call_id"`
	Sender       group.MemberID `json:"sender"`
	Action       group.Action   `json:"action"`
	ReplyTopic   string         `json:"reply_topic"`
	NoTotalOrder bool           `json:"no_total_order"`
	DeadlineMS   int64          `json:"deadline_ms,omitempty"` // unix ms; responders stop work past it
}

// replyEnvelope travels on the per-call reply topic.
type replyEnvelope struct {
	CallID string          `json:"call_id"`
	Sender group.MemberID  `json:"sender"`
	Value  json.RawMessage `json:"value,omitempty"`
	Fault  string          `json:"fault,omitempty"`
}

// Config configures a channel.
type Config struct {
	Group       string        // group name, keyed into topic names
	Self        group.Member  // the local member; it answers its own broadcasts too
	DefaultWait time.Duration // window for broadcasts without an explicit timeout
}

// Channel is one member's handle on the group: it dispatches broadcasts and
// serves the local responder loop.
type Channel struct {
	client      *redis.Client
	disco       discovery.Discovery
	mux         *group.Mux
	self        group.Member
	reqTopic    string
	topicBase   string
	defaultWait time.Duration

	closed atomic.Bool
	sub    *redis.PubSub
	wg     sync.WaitGroup
}

// New joins the group: it subscribes to the request topic and starts the
// responder loop. The caller keeps ownership of the client and discovery.
func New(client *redis.Client, disco discovery.Discovery, mux *group.Mux, cfg Config) (*Channel, error) {
	if cfg.Group == "" {
		return nil, fmt.Errorf("redischan: group name is required")
	}
	if cfg.DefaultWait <= 0 {
		cfg.DefaultWait = DefaultWait
	}

	topicBase := "quasar:group:" + cfg.Group
	c := &Channel{
		client:      client,
		disco:       disco,
		mux:         mux,
		self:        cfg.Self,
		reqTopic:    topicBase + ":req",
		topicBase:   topicBase,
		defaultWait: cfg.DefaultWait,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.sub = client.Subscribe(context.Background(), c.reqTopic)
	if _, err := c.sub.Receive(ctx); err != nil {
		c.sub.Close()
		return nil, fmt.Errorf("redischan: subscribe %s: %w", c.reqTopic, err)
	}

	c.wg.Add(1)
	go c.serve()

	logging.Op().Info("joined group channel", "group", cfg.Group, "member", cfg.Self.ID, "transport", "redis")
	return c, nil
}

// serve answers incoming broadcasts until the subscription closes.
func (c *Channel) serve() {
	defer c.wg.Done()
	for msg := range c.sub.Channel() {
		var env requestEnvelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			logging.Op().Warn("drop malformed broadcast", "error", err)
			continue
		}
		go c.handle(env)
	}
}

// handle runs one action locally and publishes the reply.
func (c *Channel) handle(env requestEnvelope) {
	ctx := context.Background()
	if env.DeadlineMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, time.UnixMilli(env.DeadlineMS))
		defer cancel()
	}

	ctx, span := tracing.StartServerSpan(ctx, "quasar.respond",
		tracing.AttrAction.String(env.Action.Name),
		tracing.AttrCallID.String(env.CallID),
		tracing.AttrMemberID.String(string(c.self.ID)),
	)
	defer span.End()

	start := time.Now()
	value, err := c.mux.Dispatch(ctx, env.Action)
	metrics.RecordHandlerDuration(env.Action.Name, time.Since(start).Milliseconds())

	rep := replyEnvelope{CallID: env.CallID, Sender: c.self.ID}
	if err != nil {
		rep.Fault = err.Error()
		tracing.SetSpanError(span, err)
		traceID, spanID := "", ""
		if sc := span.SpanContext(); sc.HasTraceID() {
			traceID, spanID = sc.TraceID().String(), sc.SpanID().String()
		}
		logging.OpWithTrace(traceID, spanID).Warn("action handler failed",
			"call_id", env.CallID, "action", env.Action.Name, "error", err)
	} else {
		raw, merr := json.Marshal(value)
		if merr != nil {
			rep.Fault = fmt.Sprintf("encode value: %v", merr)
		} else {
			rep.Value = raw
		}
		tracing.SetSpanOK(span)
	}

	payload, err := json.Marshal(rep)
	if err != nil {
		logging.Op().Error("encode reply failed", "call_id", env.CallID, "error", err)
		return
	}

	pctx, cancel := context.WithTimeout(context.Background(), replyPublishTimeout)
	defer cancel()
	if err := c.client.Publish(pctx, env.ReplyTopic, payload).Err(); err != nil {
		logging.Op().Warn("publish reply failed", "call_id", env.CallID, "error", err)
	}
}

// Broadcast publishes the action and collects one reply per member known to
// discovery at dispatch time. Members silent past the window come back
// absent; an undeliverable reply is indistinguishable from silence here, so
// it comes back absent as well.
func (c *Channel) Broadcast(ctx context.Context, action group.Action, opts group.CallOptions) (*group.RspSet, error) {
	if c.closed.Load() {
		return nil, ErrChannelClosed
	}

	members, err := c.disco.Members(ctx)
	if err != nil {
		return nil, fmt.Errorf("redischan: resolve members: %w", err)
	}
	if len(members) == 0 {
		return group.NewRspSet(), nil
	}

	window := opts.Timeout
	if window <= 0 {
		window = c.defaultWait
	}

	callID := uuid.New().String()
	replyTopic := fmt.Sprintf("%s:rsp:%s", c.topicBase, callID)

	sub := c.client.Subscribe(ctx, replyTopic)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("redischan: subscribe replies: %w", err)
	}

	env := requestEnvelope{
		CallID:       callID,
		Sender:       c.self.ID,
		Action:       action,
		ReplyTopic:   replyTopic,
		NoTotalOrder: opts.NoTotalOrder,
		DeadlineMS:   time.Now().Add(window).UnixMilli(),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("redischan: encode broadcast: %w", err)
	}
	if err := c.client.Publish(ctx, c.reqTopic, payload).Err(); err != nil {
		return nil, fmt.Errorf("redischan: publish broadcast: %w", err)
	}

	expected := make(map[group.MemberID]bool, len(members))
	for _, m := range members {
		expected[m.ID] = true
	}
	replies := make(map[group.MemberID]group.Rsp, len(members))

	timer := time.NewTimer(window)
	defer timer.Stop()
	msgCh := sub.Channel()

collect:
	for len(replies) < len(members) {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return nil, fmt.Errorf("redischan: reply subscription closed")
			}
			var rep replyEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &rep); err != nil {
				logging.Op().Warn("drop malformed reply", "call_id", callID, "error", err)
				continue
			}
			if rep.CallID != callID || !expected[rep.Sender] {
				continue
			}
			if _, dup := replies[rep.Sender]; dup {
				continue
			}
			if rep.Fault != "" {
				replies[rep.Sender] = group.FaultRsp(rep.Sender, rep.Fault)
			} else {
				replies[rep.Sender] = group.ValueRsp(rep.Sender, group.Box(rep.Value))
			}
		case <-timer.C:
			break collect
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	set := group.NewRspSet()
	for _, m := range members {
		if r, ok := replies[m.ID]; ok {
			set.Add(r)
		} else {
			set.Add(group.AbsentRsp(m.ID))
		}
	}
	return set, nil
}

// Close leaves the group: the responder stops and later broadcasts fail.
func (c *Channel) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.sub.Close()
	c.wg.Wait()
	logging.Op().Info("left group channel", "member", c.self.ID, "transport", "redis")
	return err
}
