package relay

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"astro_chat_server/internal/dto/request"
	"astro_chat_server/internal/dto/respond"
	"astro_chat_server/internal/infrastructure/audit"
	"astro_chat_server/internal/infrastructure/metrics"
	"astro_chat_server/pkg/errorx"
	"astro_chat_server/pkg/util/snowflake"
)

// validateSessionDescription checks that raw is an RTCSessionDescription of type want.
// Only the type is enforced; the sdp body belongs to the browsers.
func validateSessionDescription(raw json.RawMessage, want webrtc.SDPType) error {
	if len(raw) == 0 || string(raw) == "null" {
		return errorx.Newf(errorx.CodeInvalidSignal, "missing %s signal", want)
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err != nil {
		return errorx.Wrapf(err, errorx.CodeInvalidSignal, "signal is not a session description")
	}
	if desc.Type != want {
		return errorx.Newf(errorx.CodeInvalidSignal, "expected %s signal, got %s", want, desc.Type)
	}
	return nil
}

// validateCandidate checks that raw decodes as an RTCIceCandidateInit.
func validateCandidate(raw json.RawMessage) error {
	if len(raw) == 0 || string(raw) == "null" {
		return errorx.New(errorx.CodeInvalidSignal, "missing candidate")
	}
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &init); err != nil {
		return errorx.Wrap(err, errorx.CodeInvalidSignal, "candidate is not an ICE candidate init")
	}
	return nil
}

// callWith finds which of conn's ids has a live call with peer.
func (r *Relay) callWith(conn Conn, peer string) (self string, call Call, ok bool) {
	for _, id := range r.registry.IDs(conn) {
		if c, found := r.calls.Between(id, peer); found {
			return id, c, true
		}
	}
	return "", Call{}, false
}

func (r *Relay) handleCallUser(ctx context.Context, conn Conn, frame Frame) (string, error) {
	var req request.CallUserRequest
	if err := frame.Bind(&req); err != nil {
		return "", err
	}
	target := strings.TrimSpace(req.UserToCall)
	if target == "" {
		return "", errorx.New(errorx.CodeInvalidParam, "userToCall is required")
	}
	caller, err := r.senderID(conn, req.From)
	if err != nil {
		return target, err
	}
	if err := validateSessionDescription(req.SignalData, webrtc.SDPTypeOffer); err != nil {
		return target, err
	}
	if !r.reachable(ctx, target) {
		return target, errTargetUnavailable(target)
	}

	call, retry, err := r.calls.Offer(snowflake.GenerateIDString(), caller, target, req.Name, r.now())
	if err != nil {
		return target, err
	}

	out := mustFrame(EventCallUser, respond.CallUserRespond{
		Signal: req.SignalData,
		From:   caller,
		Name:   call.CallerName,
		CallId: call.ID,
	})
	if err := r.deliver(ctx, target, out, Envelope{From: caller, CallID: call.ID}); err != nil {
		// the callee vanished between the check and the send
		if !retry {
			_, _ = r.calls.End(caller, target, "unreachable", r.now())
		}
		return target, err
	}

	if !retry {
		metrics.IncCallTransition(string(CallOffered))
		r.recordCall(call)
		r.publishAudit(audit.KeyCallOffered, caller, target, map[string]any{"call_id": call.ID})
	}
	zap.L().Info("call offered", zap.String("call", call.ID), zap.String("caller", caller), zap.String("callee", target), zap.Bool("retry", retry))
	return target, nil
}

func (r *Relay) handleAnswerCall(ctx context.Context, conn Conn, frame Frame) (string, error) {
	var req request.AnswerCallRequest
	if err := frame.Bind(&req); err != nil {
		return "", err
	}
	caller := strings.TrimSpace(req.To)
	if caller == "" {
		return "", errorx.New(errorx.CodeInvalidParam, "to is required")
	}
	self, _, ok := r.callWith(conn, caller)
	if !ok {
		return caller, errorx.Newf(errorx.CodeInvalidTransition, "no call offered by %s", caller)
	}
	if err := validateSessionDescription(req.Signal, webrtc.SDPTypeAnswer); err != nil {
		return caller, err
	}

	call, err := r.calls.Answer(self, caller, r.now())
	if err != nil {
		return caller, err
	}

	// callAccepted carries the raw answer, as browsers expect
	if err := r.deliver(ctx, caller, mustFrame(EventCallAccepted, req.Signal), Envelope{From: self, CallID: call.ID}); err != nil {
		ended, _ := r.calls.End(self, caller, "unreachable", r.now())
		r.recordCall(ended)
		return caller, err
	}

	metrics.IncCallTransition(string(CallAnswered))
	r.recordCall(call)
	r.publishAudit(audit.KeyCallAnswered, self, caller, map[string]any{"call_id": call.ID})
	return caller, nil
}

func (r *Relay) handleICECandidate(ctx context.Context, conn Conn, frame Frame) (string, error) {
	var req request.ICECandidateRequest
	if err := frame.Bind(&req); err != nil {
		return "", err
	}
	peer := strings.TrimSpace(req.To)
	if peer == "" {
		return "", errorx.New(errorx.CodeInvalidParam, "to is required")
	}
	self, _, ok := r.callWith(conn, peer)
	if !ok {
		return peer, errorx.Newf(errorx.CodeInvalidTransition, "no call with %s", peer)
	}
	if err := validateCandidate(req.Candidate); err != nil {
		return peer, err
	}

	call, activated, err := r.calls.Candidate(self, peer, r.now())
	if err != nil {
		return peer, err
	}

	out := mustFrame(EventICECandidate, respond.ICECandidateRespond{From: self, Candidate: req.Candidate})
	if err := r.deliver(ctx, peer, out, Envelope{From: self, CallID: call.ID}); err != nil {
		return peer, err
	}

	if activated {
		metrics.IncCallTransition(string(CallActive))
		r.recordCall(call)
		r.publishAudit(audit.KeyCallActive, self, peer, map[string]any{"call_id": call.ID})
	}
	return peer, nil
}

func (r *Relay) handleEndCall(ctx context.Context, conn Conn, frame Frame) (string, error) {
	var req request.EndCallRequest
	if err := frame.Bind(&req); err != nil {
		return "", err
	}
	peer := strings.TrimSpace(req.To)
	if peer == "" {
		return "", errorx.New(errorx.CodeInvalidParam, "to is required")
	}
	self, _, ok := r.callWith(conn, peer)
	if !ok {
		return peer, errorx.Newf(errorx.CodeInvalidTransition, "no call with %s", peer)
	}

	call, err := r.calls.End(self, peer, endReason(req.Reason), r.now())
	if err != nil {
		return peer, err
	}
	r.callEnded(ctx, self, call)
	return peer, nil
}

// Reasons a client may give for endCall. Anything else is recorded as hangup.
var clientEndReasons = map[string]bool{
	"hangup":    true,
	"declined":  true,
	"busy":      true,
	"timeout":   true,
	"cancelled": true,
	"failed":    true,
}

func endReason(reason string) string {
	reason = strings.ToLower(strings.TrimSpace(reason))
	if clientEndReasons[reason] {
		return reason
	}
	return "hangup"
}

// callEnded notifies the peer of by and records the end. An unreachable peer is only logged.
func (r *Relay) callEnded(ctx context.Context, by string, call Call) {
	peer := call.Peer(by)
	out := mustFrame(EventCallEnded, respond.CallEndedRespond{From: by, Reason: call.EndReason, CallId: call.ID})
	if err := r.deliver(ctx, peer, out, Envelope{From: by, CallID: call.ID}); err != nil {
		zap.L().Debug("callEnded not delivered", zap.String("peer", peer), zap.Error(err))
	}

	metrics.IncCallTransition(string(CallEnded))
	r.recordCall(call)
	r.publishAudit(audit.KeyCallEnded, by, peer, map[string]any{"call_id": call.ID, "reason": call.EndReason})
	zap.L().Info("call ended", zap.String("call", call.ID), zap.String("by", by), zap.String("reason", call.EndReason))
}

func (r *Relay) recordCall(call Call) {
	if r.recorder == nil || call.ID == "" {
		return
	}
	if err := r.recorder.RecordCall(call); err != nil {
		metrics.IncPersistError()
		zap.L().Error("record call", zap.String("call", call.ID), zap.String("state", string(call.State)), zap.Error(err))
	}
}

// mirrorCall replays a remote call transition on the local table so the
// local participant's follow-up events pass validation.
func (r *Relay) mirrorCall(env Envelope) {
	if env.From == "" {
		return
	}
	now := r.now()
	var err error
	switch env.Frame.Event {
	case EventCallUser:
		var payload respond.CallUserRespond
		_ = json.Unmarshal(env.Frame.Data, &payload)
		_, _, err = r.calls.Offer(env.CallID, env.From, env.Target, payload.Name, now)
	case EventCallAccepted:
		_, err = r.calls.Answer(env.From, env.Target, now)
	case EventICECandidate:
		_, _, err = r.calls.Candidate(env.From, env.Target, now)
	case EventCallEnded:
		if _, ok := r.calls.Between(env.Target, env.From); ok {
			_, err = r.calls.End(env.Target, env.From, "remote", now)
		}
	}
	if err != nil && !isCode(err, errorx.CodeInvalidTransition) {
		zap.L().Warn("mirror remote call", zap.String("event", env.Frame.Event), zap.String("from", env.From), zap.Error(err))
	}
}
