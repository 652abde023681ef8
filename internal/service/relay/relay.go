package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"astro_chat_server/internal/dao/mysql/repository"
	myredis "astro_chat_server/internal/dao/redis"
	"astro_chat_server/internal/dto/respond"
	"astro_chat_server/internal/infrastructure/audit"
	"astro_chat_server/internal/infrastructure/metrics"
	"astro_chat_server/pkg/errorx"
)

const (
	maxParticipantIDLen = 64
	auditTimeout        = 2 * time.Second
)

// CallRecorder persists call lifecycle changes.
type CallRecorder interface {
	RecordCall(call Call) error
}

// Options wires a Relay. Every dependency is optional:
// without Messages chat is live only, without Broker and Presence
// delivery is limited to this instance.
type Options struct {
	InstanceID   string
	AppName      string
	Messages     repository.MessageRepository
	Recorder     CallRecorder
	Broker       Broker
	Presence     Presence
	Audit        audit.Publisher
	Cache        myredis.AsyncCacheService
	PendingLimit int
	Now          func() time.Time
}

// Relay routes frames between participants. Each Relay owns its own
// registry and call table, so several can run side by side.
type Relay struct {
	instanceID   string
	appName      string
	registry     *Registry
	calls        *CallTable
	messages     repository.MessageRepository
	recorder     CallRecorder
	broker       Broker
	presence     Presence
	audit        audit.Publisher
	cache        myredis.AsyncCacheService
	pendingLimit int
	now          func() time.Time

	mu      sync.Mutex
	conns   map[string]Conn // open connections by conn id
	closing bool            // set by Close, stops new audit publishes
	auditWG sync.WaitGroup
}

func New(opts Options) *Relay {
	r := &Relay{
		instanceID:   opts.InstanceID,
		appName:      opts.AppName,
		registry:     NewRegistry(),
		calls:        NewCallTable(),
		conns:        make(map[string]Conn),
		messages:     opts.Messages,
		recorder:     opts.Recorder,
		broker:       opts.Broker,
		presence:     opts.Presence,
		audit:        opts.Audit,
		cache:        opts.Cache,
		pendingLimit: opts.PendingLimit,
		now:          opts.Now,
	}
	if r.instanceID == "" {
		r.instanceID = "local"
	}
	if r.appName == "" {
		r.appName = "astro_chat_server"
	}
	if r.pendingLimit <= 0 {
		r.pendingLimit = 50
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

func (r *Relay) Registry() *Registry { return r.registry }

func (r *Relay) Calls() *CallTable { return r.calls }

// Start consumes the broker until ctx is done. Without a broker it returns at once.
func (r *Relay) Start(ctx context.Context) error {
	if r.broker == nil {
		return nil
	}
	zap.L().Info("relay consuming broker", zap.String("instance", r.instanceID))
	return r.broker.Consume(ctx, r.deliverEnvelope)
}

// Close disconnects every connection and waits for pending audit publishes.
func (r *Relay) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closing = true
	open := make([]Conn, 0, len(r.conns))
	for _, conn := range r.conns {
		open = append(open, conn)
	}
	r.mu.Unlock()

	for _, conn := range open {
		r.Disconnect(ctx, conn)
		_ = conn.Close()
	}
	done := make(chan struct{})
	go func() {
		r.auditWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect is called once per new transport connection.
func (r *Relay) Connect(conn Conn) {
	r.mu.Lock()
	r.conns[conn.ID()] = conn
	r.mu.Unlock()
	metrics.IncWSActive()
	zap.L().Debug("relay connection opened", zap.String("conn", conn.ID()))
}

// Disconnect unregisters conn, releases presence and ends its calls,
// telling each peer with callEnded{reason: "disconnect"}. Calling it twice is harmless.
func (r *Relay) Disconnect(ctx context.Context, conn Conn) {
	r.mu.Lock()
	_, open := r.conns[conn.ID()]
	delete(r.conns, conn.ID())
	r.mu.Unlock()

	ids := r.registry.Leave(conn)
	for _, id := range ids {
		if r.presence != nil {
			if err := r.presence.Clear(ctx, id); err != nil {
				zap.L().Warn("clear presence", zap.String("participant", id), zap.Error(err))
			}
		}
		call, ok := r.calls.EndAll(id, "disconnect", r.now())
		if !ok {
			continue
		}
		r.callEnded(ctx, id, call)
	}
	if open {
		metrics.DecWSActive()
	}
	zap.L().Debug("relay connection closed", zap.String("conn", conn.ID()), zap.Strings("participants", ids))
}

// Online reports whether participantID is connected here or, with presence, anywhere.
func (r *Relay) Online(ctx context.Context, participantID string) (bool, error) {
	if _, ok := r.registry.Lookup(participantID); ok {
		return true, nil
	}
	if r.presence == nil {
		return false, nil
	}
	return r.presence.Online(ctx, participantID)
}

// Touch refreshes presence for every id conn still holds. The transport
// calls it more often than the presence ttl while the connection is alive.
func (r *Relay) Touch(ctx context.Context, conn Conn) error {
	if r.presence == nil {
		return nil
	}
	var errs []error
	for _, id := range r.registry.IDs(conn) {
		errs = append(errs, r.presence.Mark(ctx, id))
	}
	return errors.Join(errs...)
}

// HandleMessage decodes and dispatches one websocket text message.
func (r *Relay) HandleMessage(ctx context.Context, conn Conn, raw []byte) error {
	frame, err := DecodeFrame(raw)
	if err != nil {
		metrics.IncRelayEvent("malformed", errorx.Reason(errorx.GetCode(err)))
		r.reject(conn, "", "", err)
		return err
	}
	return r.Dispatch(ctx, conn, frame)
}

// Dispatch runs the handler of frame.Event. Failures are reported to the
// sender as an "error" frame; the connection always stays open.
func (r *Relay) Dispatch(ctx context.Context, conn Conn, frame Frame) error {
	var (
		target string
		err    error
	)
	switch frame.Event {
	case EventJoinRoom:
		err = r.handleJoin(ctx, conn, frame)
	case EventCallUser:
		target, err = r.handleCallUser(ctx, conn, frame)
	case EventAnswerCall:
		target, err = r.handleAnswerCall(ctx, conn, frame)
	case EventICECandidate:
		target, err = r.handleICECandidate(ctx, conn, frame)
	case EventEndCall:
		target, err = r.handleEndCall(ctx, conn, frame)
	case EventChatMessage:
		err = r.handleChatMessage(ctx, conn, frame)
	case EventChatDelivered:
		err = r.handleReceipt(ctx, conn, frame, receiptDelivered)
	case EventChatRead:
		err = r.handleReceipt(ctx, conn, frame, receiptRead)
	default:
		err = errorx.Newf(errorx.CodeUnknownEvent, "unknown event %q", frame.Event)
	}

	if err != nil {
		metrics.IncRelayEvent(frame.Event, errorx.Reason(errorx.GetCode(err)))
		r.reject(conn, frame.Event, target, err)
		return err
	}
	metrics.IncRelayEvent(frame.Event, "ok")
	return nil
}

func (r *Relay) handleJoin(ctx context.Context, conn Conn, frame Frame) error {
	id, err := parseJoinID(frame.Data)
	if err != nil {
		return err
	}

	prev := r.registry.Join(id, conn)
	if prev != nil {
		zap.L().Info("participant session replaced",
			zap.String("participant", id), zap.String("old_conn", prev.ID()), zap.String("new_conn", conn.ID()))
		_ = prev.Send(mustFrame(EventSessionReplaced, respond.SessionReplacedRespond{Id: id}))
		if err := prev.Close(); err != nil {
			zap.L().Debug("close replaced connection", zap.Error(err))
		}
	}

	if r.presence != nil {
		if err := r.presence.Mark(ctx, id); err != nil {
			zap.L().Warn("mark presence", zap.String("participant", id), zap.Error(err))
		}
	}
	if prev == nil && r.broker != nil {
		r.replaceRemote(ctx, id)
	}

	if err := conn.Send(mustFrame(EventJoined, respond.JoinedRespond{Id: id})); err != nil {
		return errorx.Wrap(err, errorx.CodeServerBusy, "send joined")
	}
	r.pushPending(conn, id)
	return nil
}

// parseJoinID accepts "id" and, for clients that wrap it, {"id": "..."}.
func parseJoinID(data json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		var wrapped struct {
			Id     string `json:"id"`
			RoomId string `json:"roomId"`
		}
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil {
			return "", errorx.New(errorx.CodeInvalidParam, "join-room expects a string id")
		}
		id = wrapped.Id
		if id == "" {
			id = wrapped.RoomId
		}
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errorx.New(errorx.CodeInvalidParam, "join-room id is empty")
	}
	if len(id) > maxParticipantIDLen {
		return "", errorx.Newf(errorx.CodeInvalidParam, "join-room id longer than %d", maxParticipantIDLen)
	}
	return id, nil
}

// senderID resolves the acting participant: claimed when set, else the primary id.
// A claim the connection does not hold is rejected.
func (r *Relay) senderID(conn Conn, claimed string) (string, error) {
	if claimed == "" {
		if id := r.registry.Primary(conn); id != "" {
			return id, nil
		}
		return "", errorx.New(errorx.CodeNotJoined, "join-room first")
	}
	if !r.registry.Owns(conn, claimed) {
		return "", errorx.Newf(errorx.CodeNotJoined, "connection has not joined as %s", claimed)
	}
	return claimed, nil
}

// deliver sends frame to target on this instance or through the broker.
func (r *Relay) deliver(ctx context.Context, target string, frame Frame, env Envelope) error {
	if conn, ok := r.registry.Lookup(target); ok {
		if err := conn.Send(frame); err != nil {
			return errorx.Wrapf(err, errorx.CodeTargetUnavailable, "participant %s is not reachable", target)
		}
		return nil
	}
	if r.broker == nil || r.presence == nil {
		return errTargetUnavailable(target)
	}

	online, err := r.presence.Online(ctx, target)
	if err != nil {
		zap.L().Warn("presence lookup", zap.String("participant", target), zap.Error(err))
		return errTargetUnavailable(target)
	}
	if !online {
		return errTargetUnavailable(target)
	}

	env.Target = target
	env.Origin = r.instanceID
	env.Frame = frame
	if err := r.broker.Publish(ctx, env); err != nil {
		return errorx.Wrapf(err, errorx.CodeTargetUnavailable, "publish to %s", target)
	}
	return nil
}

// reachable reports whether deliver could currently reach target.
func (r *Relay) reachable(ctx context.Context, target string) bool {
	if _, ok := r.registry.Lookup(target); ok {
		return true
	}
	if r.broker == nil || r.presence == nil {
		return false
	}
	online, err := r.presence.Online(ctx, target)
	if err != nil {
		zap.L().Warn("presence lookup", zap.String("participant", target), zap.Error(err))
		return false
	}
	return online
}

// deliverEnvelope handles envelopes from other instances.
// Own envelopes and targets not connected here are skipped.
func (r *Relay) deliverEnvelope(env Envelope) {
	if env.Origin == r.instanceID {
		return
	}
	conn, ok := r.registry.Lookup(env.Target)
	if !ok {
		return
	}
	if env.Frame.Event == EventSessionReplaced {
		zap.L().Info("participant joined on another instance",
			zap.String("participant", env.Target), zap.String("instance", env.Origin), zap.String("old_conn", conn.ID()))
		_ = conn.Send(env.Frame)
		r.Disconnect(context.Background(), conn)
		_ = conn.Close()
		return
	}
	r.mirrorCall(env)
	if err := conn.Send(env.Frame); err != nil {
		zap.L().Warn("deliver remote frame", zap.String("target", env.Target), zap.String("event", env.Frame.Event), zap.Error(err))
	}
}

// replaceRemote tells other instances to drop their connection for id.
func (r *Relay) replaceRemote(ctx context.Context, id string) {
	env := Envelope{
		From:   id,
		Target: id,
		Origin: r.instanceID,
		Frame:  mustFrame(EventSessionReplaced, respond.SessionReplacedRespond{Id: id}),
	}
	if err := r.broker.Publish(ctx, env); err != nil {
		zap.L().Warn("publish session replacement", zap.String("participant", id), zap.Error(err))
	}
}

// reject reports err to the sender as an "error" frame.
func (r *Relay) reject(conn Conn, event, target string, err error) {
	code := errorx.GetCode(err)
	zap.L().Debug("relay event rejected",
		zap.String("conn", conn.ID()), zap.String("event", event), zap.String("target", target), zap.Error(err))
	_ = conn.Send(mustFrame(EventError, respond.ErrorRespond{
		Code:   code,
		Reason: errorx.Reason(code),
		Msg:    errorx.GetMsg(err),
		Event:  event,
		Target: target,
	}))
}

// publishAudit sends an audit event without holding up the connection.
func (r *Relay) publishAudit(routingKey, actor, target string, attrs map[string]any) {
	if r.audit == nil {
		return
	}
	event := audit.Event{
		EventType:  routingKey,
		Service:    r.appName,
		OccurredAt: r.now().UTC(),
		Actor:      actor,
		Target:     target,
		Attributes: attrs,
	}
	r.mu.Lock()
	if r.closing {
		r.mu.Unlock()
		return
	}
	r.auditWG.Add(1)
	r.mu.Unlock()
	go func() {
		defer r.auditWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), auditTimeout)
		defer cancel()
		if err := r.audit.Publish(ctx, routingKey, event); err != nil {
			zap.L().Warn("audit publish", zap.String("routing_key", routingKey), zap.Error(err))
		}
	}()
}

func errTargetUnavailable(target string) error {
	return errorx.Newf(errorx.CodeTargetUnavailable, "participant %s is not connected", target)
}

// isCode reports whether err carries code.
func isCode(err error, code int) bool {
	var ce *errorx.CodeError
	return errors.As(err, &ce) && ce.Code == code
}
