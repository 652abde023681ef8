package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	mysqldao "astro_chat_server/internal/dao/mysql"
	"astro_chat_server/internal/dao/mysql/repository"
	myredis "astro_chat_server/internal/dao/redis"
	"astro_chat_server/internal/dto/respond"
	"astro_chat_server/internal/infrastructure/audit"
	"astro_chat_server/internal/model"
	"astro_chat_server/pkg/constants"
)

type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames []Frame
	closed bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("connection closed")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// received returns every frame of event, oldest first.
func (c *fakeConn) received(event string) []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Frame
	for _, f := range c.frames {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeConn) last(t *testing.T, event string, v any) {
	t.Helper()
	frames := c.received(event)
	require.NotEmpty(t, frames, "no %s frame on %s", event, c.id)
	require.NoError(t, json.Unmarshal(frames[len(frames)-1].Data, v))
}

type memRecorder struct {
	mu    sync.Mutex
	calls []Call
}

func (m *memRecorder) RecordCall(call Call) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	return nil
}

func (m *memRecorder) states() []CallState {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CallState, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, c.State)
	}
	return out
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(routingKey, event)
	return args.Error(0)
}

func (m *mockPublisher) Close() error { return nil }

// sharedPresence stands in for redis presence across several relays.
type sharedPresence struct {
	mu     sync.Mutex
	online map[string]bool
}

func newSharedPresence() *sharedPresence {
	return &sharedPresence{online: make(map[string]bool)}
}

func (p *sharedPresence) Mark(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[id] = true
	return nil
}

func (p *sharedPresence) Clear(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.online, id)
	return nil
}

func (p *sharedPresence) Online(_ context.Context, id string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[id], nil
}

// expiringPresence forgets a participant ttl after its last Mark, like a redis key with EX.
type expiringPresence struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   time.Time
	until map[string]time.Time
}

func newExpiringPresence(ttl time.Duration) *expiringPresence {
	return &expiringPresence{ttl: ttl, now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), until: make(map[string]time.Time)}
}

func (p *expiringPresence) advance(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.now = p.now.Add(d)
}

func (p *expiringPresence) Mark(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.until[id] = p.now.Add(p.ttl)
	return nil
}

func (p *expiringPresence) Clear(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.until, id)
	return nil
}

func (p *expiringPresence) Online(_ context.Context, id string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	until, ok := p.until[id]
	return ok && p.now.Before(until), nil
}

type mockMessages struct {
	mock.Mock
}

func (m *mockMessages) Create(message *model.ChatMessage) error {
	return m.Called(message).Error(0)
}

func (m *mockMessages) FindByUuid(uuid int64) (*model.ChatMessage, error) {
	args := m.Called(uuid)
	msg, _ := args.Get(0).(*model.ChatMessage)
	return msg, args.Error(1)
}

func (m *mockMessages) FindBySessionId(sessionId string, limit int) ([]model.ChatMessage, error) {
	args := m.Called(sessionId, limit)
	msgs, _ := args.Get(0).([]model.ChatMessage)
	return msgs, args.Error(1)
}

func (m *mockMessages) FindUndelivered(receiverId string, limit int) ([]model.ChatMessage, error) {
	args := m.Called(receiverId, limit)
	msgs, _ := args.Get(0).([]model.ChatMessage)
	return msgs, args.Error(1)
}

func (m *mockMessages) MarkDelivered(uuid int64, at time.Time) error {
	return m.Called(uuid, at).Error(0)
}

func (m *mockMessages) MarkRead(uuid int64, at time.Time) error {
	return m.Called(uuid, at).Error(0)
}

// startPair runs east and west relays on one in-process broker.
func startPair(t *testing.T, presence Presence) (east, west *Relay) {
	t.Helper()
	broker := NewChannelBroker(16)
	east = New(Options{InstanceID: "east", Broker: broker, Presence: presence})
	west = New(Options{InstanceID: "west", Broker: broker, Presence: presence})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = east.Start(ctx) }()
	go func() { _ = west.Start(ctx) }()
	require.Eventually(t, func() bool { return broker.Subscribers() == 2 }, time.Second, 5*time.Millisecond)
	return east, west
}

func setupRepos(t *testing.T) *repository.Repositories {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	repos, err := mysqldao.Setup(db)
	require.NoError(t, err)
	return repos
}

type testRelay struct {
	*Relay
	repos    *repository.Repositories
	recorder *memRecorder
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	repos := setupRepos(t)
	rec := &memRecorder{}
	r := New(Options{InstanceID: "test", Messages: repos.Message, Recorder: rec})
	return &testRelay{Relay: r, repos: repos, recorder: rec}
}

func send(t *testing.T, r *Relay, conn Conn, event string, data any) error {
	t.Helper()
	f, err := NewFrame(event, data)
	require.NoError(t, err)
	return r.Dispatch(context.Background(), conn, f)
}

var connSeq atomic.Int64

func join(t *testing.T, r *Relay, id string) *fakeConn {
	t.Helper()
	conn := newFakeConn("conn-" + strconv.FormatInt(connSeq.Add(1), 10))
	r.Connect(conn)
	require.NoError(t, send(t, r, conn, EventJoinRoom, id))
	return conn
}

var (
	offerSDP  = json.RawMessage(`{"type":"offer","sdp":"v=0"}`)
	answerSDP = json.RawMessage(`{"type":"answer","sdp":"v=0"}`)
	candidate = json.RawMessage(`{"candidate":"candidate:1 1 UDP 2122260223 10.0.0.2 54321 typ host","sdpMid":"0","sdpMLineIndex":0}`)
)

func callUser(to, from string, signal json.RawMessage) map[string]any {
	return map[string]any{"userToCall": to, "signalData": signal, "from": from, "name": "Caller " + from}
}

func TestJoinRoom(t *testing.T) {
	r := newTestRelay(t)
	a := join(t, r.Relay, "user1")

	var joined respond.JoinedRespond
	a.last(t, EventJoined, &joined)
	assert.Equal(t, "user1", joined.Id)

	// {"id": ...} is accepted too
	b := newFakeConn("b")
	require.NoError(t, send(t, r.Relay, b, EventJoinRoom, map[string]string{"id": "room-7"}))
	assert.True(t, r.Registry().Owns(b, "room-7"))

	err := send(t, r.Relay, b, EventJoinRoom, "  ")
	require.Error(t, err)
	var e respond.ErrorRespond
	b.last(t, EventError, &e)
	assert.Equal(t, "invalid_param", e.Reason)
	assert.Equal(t, EventJoinRoom, e.Event)
}

func TestCallUser_DeliveredOnce(t *testing.T) {
	r := newTestRelay(t)
	a := join(t, r.Relay, "user1")
	b := join(t, r.Relay, "user2")

	require.NoError(t, send(t, r.Relay, a, EventCallUser, callUser("user2", "user1", offerSDP)))

	frames := b.received(EventCallUser)
	require.Len(t, frames, 1)
	var got respond.CallUserRespond
	require.NoError(t, json.Unmarshal(frames[0].Data, &got))
	assert.Equal(t, "user1", got.From)
	assert.Equal(t, "Caller user1", got.Name)
	assert.NotEmpty(t, got.CallId)
	assert.JSONEq(t, string(offerSDP), string(got.Signal))
	assert.Empty(t, a.received(EventCallUser))
}

func TestCallUser_TargetUnavailable(t *testing.T) {
	r := newTestRelay(t)
	a := join(t, r.Relay, "user1")

	err := send(t, r.Relay, a, EventCallUser, callUser("ghost", "user1", offerSDP))
	require.Error(t, err)

	var e respond.ErrorRespond
	a.last(t, EventError, &e)
	assert.Equal(t, "target_unavailable", e.Reason)
	assert.Equal(t, "ghost", e.Target)
	assert.False(t, a.isClosed())
	assert.Equal(t, 0, r.Calls().Len())

	// the caller can still talk afterwards
	b := join(t, r.Relay, "user2")
	require.NoError(t, send(t, r.Relay, a, EventCallUser, callUser("user2", "user1", offerSDP)))
	assert.Len(t, b.received(EventCallUser), 1)
}

func TestJoin_ReplacesPreviousConnection(t *testing.T) {
	r := newTestRelay(t)
	old := join(t, r.Relay, "user2")
	fresh := join(t, r.Relay, "user2")
	caller := join(t, r.Relay, "user1")

	var replaced respond.SessionReplacedRespond
	old.last(t, EventSessionReplaced, &replaced)
	assert.Equal(t, "user2", replaced.Id)
	assert.True(t, old.isClosed())

	require.NoError(t, send(t, r.Relay, caller, EventCallUser, callUser("user2", "user1", offerSDP)))
	assert.Len(t, fresh.received(EventCallUser), 1)
	assert.Empty(t, old.received(EventCallUser))

	// the old transport going away must not unregister the new one
	r.Disconnect(context.Background(), old)
	got, ok := r.Registry().Lookup("user2")
	require.True(t, ok)
	assert.Equal(t, fresh.ID(), got.ID())
	_, live := r.Calls().Get("user2")
	assert.True(t, live)
}

func TestOfferAnswerRoundTrip(t *testing.T) {
	r := newTestRelay(t)
	a := join(t, r.Relay, "user1")
	b := join(t, r.Relay, "user2")

	require.NoError(t, send(t, r.Relay, a, EventCallUser, callUser("user2", "user1", json.RawMessage(`{"type":"offer"}`))))
	var offer respond.CallUserRespond
	b.last(t, EventCallUser, &offer)
	assert.Equal(t, "user1", offer.From)

	require.NoError(t, send(t, r.Relay, b, EventAnswerCall, map[string]any{"signal": json.RawMessage(`{"type":"answer"}`), "to": "user1"}))
	var accepted map[string]any
	a.last(t, EventCallAccepted, &accepted)
	assert.Equal(t, "answer", accepted["type"])

	call, ok := r.Calls().Between("user1", "user2")
	require.True(t, ok)
	assert.Equal(t, CallAnswered, call.State)

	require.NoError(t, send(t, r.Relay, b, EventICECandidate, map[string]any{"to": "user1", "candidate": candidate}))
	var ice respond.ICECandidateRespond
	a.last(t, EventICECandidate, &ice)
	assert.Equal(t, "user2", ice.From)
	assert.JSONEq(t, string(candidate), string(ice.Candidate))

	call, _ = r.Calls().Between("user1", "user2")
	assert.Equal(t, CallActive, call.State)

	require.NoError(t, send(t, r.Relay, a, EventEndCall, map[string]any{"to": "user2"}))
	var ended respond.CallEndedRespond
	b.last(t, EventCallEnded, &ended)
	assert.Equal(t, "user1", ended.From)
	assert.Equal(t, "hangup", ended.Reason)
	assert.Equal(t, call.ID, ended.CallId)

	assert.Equal(t, []CallState{CallOffered, CallAnswered, CallActive, CallEnded}, r.recorder.states())
}

func TestAnswerWithoutOffer(t *testing.T) {
	r := newTestRelay(t)
	a := join(t, r.Relay, "user1")
	b := join(t, r.Relay, "user2")

	err := send(t, r.Relay, b, EventAnswerCall, map[string]any{"signal": answerSDP, "to": "user1"})
	require.Error(t, err)

	var e respond.ErrorRespond
	b.last(t, EventError, &e)
	assert.Equal(t, "invalid_transition", e.Reason)
	assert.Empty(t, a.received(EventCallAccepted))
}

func TestCallUser_Busy(t *testing.T) {
	r := newTestRelay(t)
	a := join(t, r.Relay, "user1")
	b := join(t, r.Relay, "user2")
	c := join(t, r.Relay, "user3")

	require.NoError(t, send(t, r.Relay, a, EventCallUser, callUser("user2", "user1", offerSDP)))
	require.Error(t, send(t, r.Relay, c, EventCallUser, callUser("user2", "user3", offerSDP)))

	var e respond.ErrorRespond
	c.last(t, EventError, &e)
	assert.Equal(t, "busy", e.Reason)
	assert.Len(t, b.received(EventCallUser), 1)

	// a repeated offer from the same caller is forwarded again
	require.NoError(t, send(t, r.Relay, a, EventCallUser, callUser("user2", "user1", offerSDP)))
	assert.Len(t, b.received(EventCallUser), 2)
	assert.Equal(t, []CallState{CallOffered}, r.recorder.states())
}

func TestCallUser_InvalidSignal(t *testing.T) {
	r := newTestRelay(t)
	a := join(t, r.Relay, "user1")
	b := join(t, r.Relay, "user2")

	require.Error(t, send(t, r.Relay, a, EventCallUser, callUser("user2", "user1", answerSDP)))
	var e respond.ErrorRespond
	a.last(t, EventError, &e)
	assert.Equal(t, "invalid_signal", e.Reason)

	require.Error(t, send(t, r.Relay, a, EventCallUser, callUser("user2", "user1", json.RawMessage(`"hello"`))))
	assert.Empty(t, b.received(EventCallUser))
}

func TestCallUser_ForeignFrom(t *testing.T) {
	r := newTestRelay(t)
	a := join(t, r.Relay, "user1")
	join(t, r.Relay, "user2")

	require.Error(t, send(t, r.Relay, a, EventCallUser, callUser("user2", "user9", offerSDP)))
	var e respond.ErrorRespond
	a.last(t, EventError, &e)
	assert.Equal(t, "not_joined", e.Reason)
}

func TestUnknownEventAndMalformedFrame(t *testing.T) {
	r := newTestRelay(t)
	a := join(t, r.Relay, "user1")

	require.Error(t, send(t, r.Relay, a, "dance", nil))
	var e respond.ErrorRespond
	a.last(t, EventError, &e)
	assert.Equal(t, "unknown_event", e.Reason)

	require.Error(t, r.HandleMessage(context.Background(), a, []byte("{not json")))
	a.last(t, EventError, &e)
	assert.Equal(t, "invalid_param", e.Reason)
	assert.False(t, a.isClosed())
}

func TestDisconnectEndsCall(t *testing.T) {
	r := newTestRelay(t)
	a := join(t, r.Relay, "user1")
	b := join(t, r.Relay, "user2")

	require.NoError(t, send(t, r.Relay, a, EventCallUser, callUser("user2", "user1", offerSDP)))
	r.Disconnect(context.Background(), a)
	r.Disconnect(context.Background(), a)

	frames := b.received(EventCallEnded)
	require.Len(t, frames, 1)
	var ended respond.CallEndedRespond
	require.NoError(t, json.Unmarshal(frames[0].Data, &ended))
	assert.Equal(t, "user1", ended.From)
	assert.Equal(t, "disconnect", ended.Reason)
	assert.Equal(t, 0, r.Calls().Len())

	_, ok := r.Registry().Lookup("user1")
	assert.False(t, ok)
}

func TestChat_LiveDelivery(t *testing.T) {
	r := newTestRelay(t)
	a := join(t, r.Relay, "user1")
	b := join(t, r.Relay, "user2")

	require.NoError(t, send(t, r.Relay, a, EventChatMessage, map[string]any{
		"clientId": "tmp-1", "sessionId": "S1", "senderId": "user1", "receiverId": "user2", "text": "namaste", "type": "text",
	}))

	var msg respond.ChatMessageRespond
	b.last(t, EventChatMessage, &msg)
	assert.Equal(t, "namaste", msg.Text)
	assert.Equal(t, "user1", msg.SenderId)
	assert.False(t, msg.Pending)

	var sent respond.ChatSentRespond
	a.last(t, EventChatSent, &sent)
	assert.Equal(t, msg.MessageId, sent.MessageId)
	assert.Equal(t, "tmp-1", sent.ClientId)
	assert.True(t, sent.Live)
	assert.True(t, sent.Persisted)

	require.NoError(t, send(t, r.Relay, b, EventChatRead, map[string]string{"messageId": msg.MessageId}))
	var receipt respond.ChatReceiptRespond
	a.last(t, EventChatReceipt, &receipt)
	assert.Equal(t, "read", receipt.Status)

	uuid, _ := strconv.ParseInt(msg.MessageId, 10, 64)
	stored, err := r.repos.Message.FindByUuid(uuid)
	require.NoError(t, err)
	assert.True(t, stored.Read)
	assert.True(t, stored.Delivered)
}

func TestChat_OfflineReceiverKeepsUndelivered(t *testing.T) {
	r := newTestRelay(t)
	a := join(t, r.Relay, "user1")

	require.NoError(t, send(t, r.Relay, a, EventChatMessage, map[string]any{
		"sessionId": "S1", "senderId": "user1", "receiverId": "user2", "text": "are you there?", "type": "text",
	}))
	var sent respond.ChatSentRespond
	a.last(t, EventChatSent, &sent)
	assert.False(t, sent.Live)
	assert.True(t, sent.Persisted)

	uuid, err := strconv.ParseInt(sent.MessageId, 10, 64)
	require.NoError(t, err)
	stored, err := r.repos.Message.FindByUuid(uuid)
	require.NoError(t, err)
	assert.False(t, stored.Delivered)

	b := join(t, r.Relay, "user2")
	var pending respond.ChatMessageRespond
	b.last(t, EventChatMessage, &pending)
	assert.True(t, pending.Pending)
	assert.Equal(t, sent.MessageId, pending.MessageId)

	stored, err = r.repos.Message.FindByUuid(uuid)
	require.NoError(t, err)
	assert.False(t, stored.Delivered, "replay alone must not mark delivered")

	require.NoError(t, send(t, r.Relay, b, EventChatDelivered, map[string]string{"messageId": sent.MessageId}))
	stored, err = r.repos.Message.FindByUuid(uuid)
	require.NoError(t, err)
	assert.True(t, stored.Delivered)
	assert.False(t, stored.Read)

	var receipt respond.ChatReceiptRespond
	a.last(t, EventChatReceipt, &receipt)
	assert.Equal(t, "delivered", receipt.Status)
}

func TestChat_Validation(t *testing.T) {
	r := newTestRelay(t)
	a := join(t, r.Relay, "user1")
	join(t, r.Relay, "user2")

	cases := []map[string]any{
		{"receiverId": "user2", "type": "text"},
		{"receiverId": "user2", "type": "image"},
		{"receiverId": "user2", "type": "video", "text": "x"},
		{"type": "text", "text": "x"},
	}
	for _, c := range cases {
		require.Error(t, send(t, r.Relay, a, EventChatMessage, c))
		var e respond.ErrorRespond
		a.last(t, EventError, &e)
		assert.Equal(t, "invalid_param", e.Reason)
	}
	assert.Empty(t, a.received(EventChatSent))
}

func TestChat_OnlyReceiverAcknowledges(t *testing.T) {
	r := newTestRelay(t)
	a := join(t, r.Relay, "user1")
	join(t, r.Relay, "user2")

	require.NoError(t, send(t, r.Relay, a, EventChatMessage, map[string]any{
		"receiverId": "user2", "text": "hi", "type": "text",
	}))
	var sent respond.ChatSentRespond
	a.last(t, EventChatSent, &sent)

	require.Error(t, send(t, r.Relay, a, EventChatRead, map[string]string{"messageId": sent.MessageId}))
	var e respond.ErrorRespond
	a.last(t, EventError, &e)
	assert.Equal(t, "forbidden", e.Reason)

	require.Error(t, send(t, r.Relay, a, EventChatRead, map[string]string{"messageId": "abc"}))
	a.last(t, EventError, &e)
	assert.Equal(t, "invalid_param", e.Reason)
}

func TestChat_LiveOnlyWithoutStorage(t *testing.T) {
	r := New(Options{InstanceID: "test"})
	a := join(t, r, "user1")
	b := join(t, r, "user2")

	require.NoError(t, send(t, r, a, EventChatMessage, map[string]any{
		"receiverId": "user2", "text": "hi", "type": "emoji",
	}))
	assert.Len(t, b.received(EventChatMessage), 1)
	var sent respond.ChatSentRespond
	a.last(t, EventChatSent, &sent)
	assert.True(t, sent.Live)
	assert.False(t, sent.Persisted)
}

func TestAuditEventsPublished(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)

	r := New(Options{InstanceID: "test", Audit: pub})
	a := join(t, r, "user1")
	join(t, r, "user2")

	require.NoError(t, send(t, r, a, EventCallUser, callUser("user2", "user1", offerSDP)))
	require.NoError(t, send(t, r, a, EventEndCall, map[string]any{"to": "user2", "reason": "declined"}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))

	pub.AssertCalled(t, "Publish", audit.KeyCallOffered, mock.Anything)
	pub.AssertCalled(t, "Publish", audit.KeyCallEnded, mock.MatchedBy(func(e audit.Event) bool {
		return e.Actor == "user1" && e.Target == "user2" && e.Attributes["reason"] == "declined"
	}))
}

func TestCrossInstanceCall(t *testing.T) {
	broker := NewChannelBroker(16)
	presence := newSharedPresence()
	east := New(Options{InstanceID: "east", Broker: broker, Presence: presence})
	west := New(Options{InstanceID: "west", Broker: broker, Presence: presence})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = east.Start(ctx) }()
	go func() { _ = west.Start(ctx) }()
	require.Eventually(t, func() bool { return broker.Subscribers() == 2 }, time.Second, 5*time.Millisecond)

	a := join(t, east, "user1")
	b := join(t, west, "user2")

	require.NoError(t, send(t, east, a, EventCallUser, callUser("user2", "user1", offerSDP)))
	require.Eventually(t, func() bool { return len(b.received(EventCallUser)) == 1 }, time.Second, 5*time.Millisecond)

	// west mirrored the offer, so the answer is accepted there
	require.Eventually(t, func() bool {
		_, ok := west.Calls().Between("user2", "user1")
		return ok
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, send(t, west, b, EventAnswerCall, map[string]any{"signal": answerSDP, "to": "user1"}))
	require.Eventually(t, func() bool { return len(a.received(EventCallAccepted)) == 1 }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		call, ok := east.Calls().Between("user1", "user2")
		return ok && call.State == CallAnswered
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, send(t, east, a, EventChatMessage, map[string]any{"receiverId": "user2", "text": "namaste", "type": "text"}))
	require.Eventually(t, func() bool { return len(b.received(EventChatMessage)) == 1 }, time.Second, 5*time.Millisecond)

	// a participant connected nowhere is still unavailable
	require.Error(t, send(t, east, a, EventCallUser, callUser("ghost", "user1", offerSDP)))
	var e respond.ErrorRespond
	a.last(t, EventError, &e)
	assert.Equal(t, "target_unavailable", e.Reason)
}

func TestEndCall_UnknownReasonRecordedAsHangup(t *testing.T) {
	r := newTestRelay(t)
	a := join(t, r.Relay, "user1")
	b := join(t, r.Relay, "user2")

	require.NoError(t, send(t, r.Relay, a, EventCallUser, callUser("user2", "user1", offerSDP)))
	require.NoError(t, send(t, r.Relay, a, EventEndCall, map[string]any{
		"to": "user2", "reason": strings.Repeat("because ", 6),
	}))

	var ended respond.CallEndedRespond
	b.last(t, EventCallEnded, &ended)
	assert.Equal(t, "hangup", ended.Reason)

	r.recorder.mu.Lock()
	last := r.recorder.calls[len(r.recorder.calls)-1]
	r.recorder.mu.Unlock()
	assert.Equal(t, CallEnded, last.State)
	assert.Equal(t, "hangup", last.EndReason)

	assert.Equal(t, "declined", endReason(" Declined "))
	assert.Equal(t, "hangup", endReason(""))
}

func TestChat_PersistFailureStillDelivers(t *testing.T) {
	messages := &mockMessages{}
	messages.On("FindUndelivered", mock.Anything, mock.Anything).Return(nil, nil)
	messages.On("Create", mock.Anything).Return(errors.New("mysql gone"))

	cache := myredis.NewMemoryCache()
	ctx := context.Background()
	historyKey := constants.ChatHistoryPrefix + "s1"
	require.NoError(t, cache.Set(ctx, historyKey, "[]", time.Minute))

	r := New(Options{InstanceID: "test", Messages: messages, Cache: cache})
	a := join(t, r, "user1")
	b := join(t, r, "user2")

	require.NoError(t, send(t, r, a, EventChatMessage, map[string]any{
		"sessionId": "s1", "receiverId": "user2", "text": "still here", "type": "text",
	}))

	var msg respond.ChatMessageRespond
	b.last(t, EventChatMessage, &msg)
	assert.Equal(t, "still here", msg.Text)

	var sent respond.ChatSentRespond
	a.last(t, EventChatSent, &sent)
	assert.True(t, sent.Live)
	assert.False(t, sent.Persisted)
	assert.Equal(t, msg.MessageId, sent.MessageId)

	cached, err := cache.Get(ctx, historyKey)
	require.NoError(t, err)
	assert.Equal(t, "[]", cached)
	messages.AssertNumberOfCalls(t, "Create", 1)
}

func TestTouchKeepsRemotePresence(t *testing.T) {
	presence := newExpiringPresence(2 * time.Minute)
	east, west := startPair(t, presence)

	a := join(t, east, "user1")
	b := join(t, west, "user2")
	join(t, west, "user3")

	presence.advance(90 * time.Second)
	require.NoError(t, east.Touch(context.Background(), a))
	require.NoError(t, west.Touch(context.Background(), b))
	presence.advance(90 * time.Second)

	online, err := east.Online(context.Background(), "user3")
	require.NoError(t, err)
	assert.False(t, online, "user3 was never refreshed")

	require.NoError(t, send(t, east, a, EventCallUser, callUser("user2", "user1", offerSDP)))
	require.Eventually(t, func() bool { return len(b.received(EventCallUser)) == 1 }, time.Second, 5*time.Millisecond)
}

func TestJoin_ReplacesSessionOnOtherInstance(t *testing.T) {
	east, west := startPair(t, newSharedPresence())

	peer := join(t, east, "user1")
	old := join(t, west, "user2")
	// envelopes arrive in order, so once this chat lands east has seen west's join
	require.NoError(t, send(t, west, old, EventChatMessage, map[string]any{"receiverId": "user1", "text": "sync", "type": "text"}))
	require.Eventually(t, func() bool { return len(peer.received(EventChatMessage)) == 1 }, time.Second, 5*time.Millisecond)

	fresh := join(t, east, "user2")

	require.Eventually(t, old.isClosed, time.Second, 5*time.Millisecond)
	assert.Len(t, old.received(EventSessionReplaced), 1)
	_, ok := west.Registry().Lookup("user2")
	assert.False(t, ok)

	assert.False(t, fresh.isClosed())
	_, ok = east.Registry().Lookup("user2")
	assert.True(t, ok)
}

func TestCloseStopsNewAudits(t *testing.T) {
	pub := &mockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)

	r := New(Options{InstanceID: "test", Audit: pub})
	a := join(t, r, "user1")
	require.NoError(t, r.Close(context.Background()))

	r.publishAudit(audit.KeyChatSent, "user1", "user2", nil)
	require.NoError(t, r.Close(context.Background()))
	pub.AssertNotCalled(t, "Publish", audit.KeyChatSent, mock.Anything)
	assert.True(t, a.isClosed())
}
