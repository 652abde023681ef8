package relay

import (
	"sync"
	"time"

	"astro_chat_server/pkg/errorx"
)

// CallState is the lifecycle of a call between a caller and a callee.
type CallState string

const (
	CallIdle     CallState = "idle"
	CallOffered  CallState = "offered"  // callUser forwarded
	CallAnswered CallState = "answered" // answerCall forwarded
	CallActive   CallState = "active"   // first ICE candidate after the answer
	CallEnded    CallState = "ended"
)

var callTransitions = map[CallState][]CallState{
	CallIdle:     {CallOffered},
	CallOffered:  {CallOffered, CallAnswered, CallEnded},
	CallAnswered: {CallActive, CallEnded},
	CallActive:   {CallEnded},
}

// CanTransition reports whether to may follow s.
func (s CallState) CanTransition(to CallState) bool {
	for _, next := range callTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Live reports whether a participant in this state is busy.
func (s CallState) Live() bool {
	return s == CallOffered || s == CallAnswered || s == CallActive
}

// Call is a snapshot of one call. The table hands out copies.
type Call struct {
	ID         string
	CallerID   string
	CalleeID   string
	CallerName string
	State      CallState
	EndReason  string
	OfferedAt  time.Time
	AnsweredAt time.Time
	ActiveAt   time.Time
	EndedAt    time.Time
}

// Peer returns the other participant.
func (c Call) Peer(id string) string {
	if id == c.CallerID {
		return c.CalleeID
	}
	return c.CallerID
}

func (c Call) Involves(id string) bool {
	return id == c.CallerID || id == c.CalleeID
}

// CallTable holds the live calls, at most one per participant.
// Ended calls are dropped so both sides return to idle.
type CallTable struct {
	mu    sync.Mutex
	calls map[string]*Call // participant id -> live call, both sides share it
}

func NewCallTable() *CallTable {
	return &CallTable{calls: make(map[string]*Call)}
}

// Get returns the live call of participantID.
func (t *CallTable) Get(participantID string) (Call, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.calls[participantID]; ok {
		return *c, true
	}
	return Call{}, false
}

// Between returns the live call joining a and b.
func (t *CallTable) Between(a, b string) (Call, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c := t.between(a, b); c != nil {
		return *c, true
	}
	return Call{}, false
}

// Len is the number of live calls.
func (t *CallTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls) / 2
}

// Offer starts a call. A repeated offer from the same caller while still
// ringing is accepted and reported with retry=true.
func (t *CallTable) Offer(callID, caller, callee, callerName string, now time.Time) (call Call, retry bool, err error) {
	if caller == callee {
		return Call{}, false, errorx.New(errorx.CodeInvalidParam, "cannot call yourself")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if c := t.between(caller, callee); c != nil {
		if c.CallerID == caller && c.State == CallOffered {
			if callerName != "" {
				c.CallerName = callerName
			}
			return *c, true, nil
		}
		return Call{}, false, errorx.Newf(errorx.CodeInvalidTransition, "cannot offer while call is %s", c.State)
	}
	if _, busy := t.calls[caller]; busy {
		return Call{}, false, errorx.Newf(errorx.CodeTargetBusy, "%s is already in a call", caller)
	}
	if _, busy := t.calls[callee]; busy {
		return Call{}, false, errorx.Newf(errorx.CodeTargetBusy, "%s is already in a call", callee)
	}

	c := &Call{
		ID:         callID,
		CallerID:   caller,
		CalleeID:   callee,
		CallerName: callerName,
		State:      CallOffered,
		OfferedAt:  now,
	}
	t.calls[caller] = c
	t.calls[callee] = c
	return *c, false, nil
}

// Answer moves the call from caller to callee to answered.
// Only the callee may answer.
func (t *CallTable) Answer(callee, caller string, now time.Time) (Call, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.between(callee, caller)
	if c == nil {
		return Call{}, errorx.Newf(errorx.CodeInvalidTransition, "no call offered by %s", caller)
	}
	if c.CalleeID != callee {
		return Call{}, errorx.New(errorx.CodeInvalidTransition, "only the callee can answer")
	}
	if !c.State.CanTransition(CallAnswered) {
		return Call{}, errorx.Newf(errorx.CodeInvalidTransition, "cannot answer a call that is %s", c.State)
	}
	c.State = CallAnswered
	c.AnsweredAt = now
	return *c, nil
}

// Candidate validates an ICE candidate exchange between from and to.
// The first candidate after the answer activates the call.
func (t *CallTable) Candidate(from, to string, now time.Time) (call Call, activated bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.between(from, to)
	if c == nil {
		return Call{}, false, errorx.Newf(errorx.CodeInvalidTransition, "no call with %s", to)
	}
	if c.State == CallAnswered {
		c.State = CallActive
		c.ActiveAt = now
		return *c, true, nil
	}
	return *c, false, nil
}

// End terminates the call between a and b.
func (t *CallTable) End(a, b, reason string, now time.Time) (Call, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.between(a, b)
	if c == nil {
		return Call{}, errorx.Newf(errorx.CodeInvalidTransition, "no call with %s", b)
	}
	return t.end(c, reason, now), nil
}

// EndAll terminates whatever call participantID is in.
func (t *CallTable) EndAll(participantID, reason string, now time.Time) (Call, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.calls[participantID]
	if !ok {
		return Call{}, false
	}
	return t.end(c, reason, now), true
}

// end must be called with mu held.
func (t *CallTable) end(c *Call, reason string, now time.Time) Call {
	c.State = CallEnded
	c.EndReason = reason
	c.EndedAt = now
	delete(t.calls, c.CallerID)
	delete(t.calls, c.CalleeID)
	return *c
}

// between must be called with mu held.
func (t *CallTable) between(a, b string) *Call {
	c, ok := t.calls[a]
	if !ok || c.Peer(a) != b {
		return nil
	}
	return c
}
