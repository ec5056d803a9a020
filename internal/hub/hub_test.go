package hub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remote-agent-hub/backend/internal/model"
	"github.com/remote-agent-hub/backend/internal/ws"
	"github.com/remote-agent-hub/backend/internal/ws/wstest"
)

const wait = 2 * time.Second

type memJournal struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]*model.ConnectionRecord
}

func newMemJournal() *memJournal {
	return &memJournal{records: make(map[int64]*model.ConnectionRecord)}
}

func (j *memJournal) Create(ctx context.Context, rec *model.ConnectionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.nextID++
	rec.ID = j.nextID
	cp := *rec
	j.records[rec.ID] = &cp
	return nil
}

func (j *memJournal) MarkClosed(ctx context.Context, id int64, reason string, at time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	rec := j.records[id]
	rec.Status = model.AgentStatusDisconnected
	rec.CloseReason = reason
	rec.DisconnectedAt = &at
	return nil
}

func (j *memJournal) get(id int64) model.ConnectionRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	return *j.records[id]
}

func newTestHub(journal Journal) *Hub {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{}, journal, logger)
}

type session struct {
	conn *wstest.Conn
	done chan struct{}
}

// connect serves a new in-memory connection and waits for its welcome.
func connect(t *testing.T, h *Hub, agentID string, addressing model.Addressing) (*session, *model.Envelope) {
	t.Helper()
	s := &session{conn: wstest.NewConn(), done: make(chan struct{})}
	go func() {
		defer close(s.done)
		h.Serve(context.Background(), s.conn, ConnectRequest{AgentID: agentID, Addressing: addressing, RemoteAddr: "127.0.0.1"})
	}()
	return s, s.next(t)
}

func (s *session) next(t *testing.T) *model.Envelope {
	t.Helper()
	frame := s.conn.Next(wait)
	require.NotNil(t, frame, "no frame written")
	var env model.Envelope
	require.NoError(t, json.Unmarshal(frame, &env))
	return &env
}

func (s *session) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(wait):
		t.Fatal("Serve did not return")
	}
}

func firstArg(t *testing.T, env *model.Envelope) string {
	t.Helper()
	args, err := env.ArgList()
	require.NoError(t, err)
	require.NotEmpty(t, args)
	var s string
	require.NoError(t, json.Unmarshal(args[0], &s))
	return s
}

func TestServeSendsWelcome(t *testing.T) {
	h := newTestHub(nil)
	defer h.Close()

	_, welcome := connect(t, h, "tab-1", model.AddressingPath)
	assert.Equal(t, model.MessageTypeSystem, welcome.Type)
	assert.Equal(t, model.ServerSenderID, welcome.SenderID)
	assert.Equal(t, "Connected successfully. Tab ID: tab-1", firstArg(t, welcome))
}

func TestServeGeneratesIdentity(t *testing.T) {
	h := newTestHub(nil)
	defer h.Close()

	_, welcome := connect(t, h, "", model.AddressingGenerated)
	text := firstArg(t, welcome)
	require.True(t, strings.HasPrefix(text, "Connected successfully. Your client ID is: "), text)

	id := strings.TrimPrefix(text, "Connected successfully. Your client ID is: ")
	assert.NotEmpty(t, id)
	assert.Equal(t, []string{id}, h.Registry().ActiveIDs())
}

func TestUpdateStateIsCached(t *testing.T) {
	h := newTestHub(nil)
	defer h.Close()

	s, _ := connect(t, h, "tab-1", model.AddressingPath)
	s.conn.Push([]byte(`{"type":"updateState","args":["https://a","<p>hello</p>"],"sender_id":"tab-1"}`))

	require.Eventually(t, func() bool { return h.States().Has("tab-1") }, wait, 10*time.Millisecond)
	st, err := h.State("tab-1")
	require.NoError(t, err)
	assert.Equal(t, "https://a", *st.URL)
	assert.Equal(t, "<p>hello</p>", *st.Content)
}

func TestFramesAreProcessedInOrder(t *testing.T) {
	h := newTestHub(nil)
	defer h.Close()

	s, _ := connect(t, h, "tab-1", model.AddressingPath)
	s.conn.Push([]byte(`{"type":"updateState","args":["https://1","one"]}`))
	s.conn.Push([]byte(`{"type":"updateState","args":["https://2","two"]}`))
	s.conn.Push([]byte(`{"type":"updateState","args":["https://3","three"]}`))

	require.Eventually(t, func() bool {
		st, err := h.State("tab-1")
		return err == nil && *st.Content == "three"
	}, wait, 10*time.Millisecond)
}

func TestMalformedFrameIsAnsweredAndLoopContinues(t *testing.T) {
	h := newTestHub(nil)
	defer h.Close()

	s, _ := connect(t, h, "tab-1", model.AddressingPath)
	s.conn.Push([]byte(`this is not json`))

	reply := s.next(t)
	assert.Equal(t, model.MessageTypeError, reply.Type)
	assert.True(t, strings.HasPrefix(firstArg(t, reply), "Invalid message format. Please send valid JSON."))

	s.conn.Push([]byte(`{"type":"updateState","args":[1]}`))
	assert.Equal(t, model.MessageTypeError, s.next(t).Type)

	s.conn.Push([]byte(`{"type":"updateState","args":["https://a","ok"]}`))
	require.Eventually(t, func() bool { return h.States().Has("tab-1") }, wait, 10*time.Millisecond)
	assert.Equal(t, []string{"tab-1"}, h.Registry().ActiveIDs())
}

func TestDisconnectCleansUpButKeepsState(t *testing.T) {
	journal := newMemJournal()
	h := newTestHub(journal)
	defer h.Close()

	s, _ := connect(t, h, "tab-1", model.AddressingPath)
	require.NoError(t, h.AddToGroup("g", "tab-1"))
	s.conn.Push([]byte(`{"type":"updateState","args":["https://a","x"]}`))
	require.Eventually(t, func() bool { return h.States().Has("tab-1") }, wait, 10*time.Millisecond)

	s.conn.Close()
	s.waitDone(t)

	assert.Empty(t, h.Agents())
	members, err := h.GroupMembers("g")
	require.NoError(t, err)
	assert.Empty(t, members)

	_, err = h.State("tab-1")
	assert.NoError(t, err, "state outlives the connection")

	rec := journal.get(1)
	assert.Equal(t, model.AgentStatusDisconnected, rec.Status)
	assert.Equal(t, model.CloseReasonDisconnected, rec.CloseReason)
	assert.Equal(t, model.AddressingPath, rec.Addressing)
	assert.Equal(t, "127.0.0.1", rec.RemoteAddr)
}

func TestReconnectReplacesPreviousConnection(t *testing.T) {
	journal := newMemJournal()
	h := newTestHub(journal)
	defer h.Close()

	first, _ := connect(t, h, "tab-1", model.AddressingPath)
	require.NoError(t, h.AddToGroup("g", "tab-1"))

	second, _ := connect(t, h, "tab-1", model.AddressingPath)
	first.waitDone(t)
	assert.True(t, first.conn.IsClosed())

	assert.Equal(t, []string{"tab-1"}, h.Registry().ActiveIDs())
	members, err := h.GroupMembers("g")
	require.NoError(t, err)
	assert.Equal(t, []string{"tab-1"}, members)
	assert.Equal(t, model.CloseReasonEvicted, journal.get(1).CloseReason)

	res := h.Click(context.Background(), Target{AgentID: "tab-1"}, "#go")
	require.True(t, res.Success, "%+v", res)
	assert.Equal(t, model.MessageTypeClickElement, second.next(t).Type)
}

func TestWelcomeGoesToItsOwnConnection(t *testing.T) {
	h := newTestHub(nil)

	newerConn := wstest.NewConn()
	newer := ws.NewClient(newerConn, ws.ClientOptions{})
	defer newer.Close()

	var once sync.Once
	h.afterConnect = func(agentID string) {
		once.Do(func() { h.registry.Connect(agentID, newer) })
	}

	first, welcome := connect(t, h, "tab-1", model.AddressingPath)
	assert.Equal(t, "Connected successfully. Tab ID: tab-1", firstArg(t, welcome))
	assert.Nil(t, newerConn.Next(100*time.Millisecond), "welcome leaked to the newer connection")

	first.conn.Close()
	first.waitDone(t)
	assert.Equal(t, []string{"tab-1"}, h.Registry().ActiveIDs())
	h.Close()
}

func TestCloseDuringConnectClosesLateAgent(t *testing.T) {
	journal := newMemJournal()
	h := newTestHub(journal)
	h.afterConnect = func(string) {
		h.mu.Lock()
		h.closing = true
		h.mu.Unlock()
	}

	s := &session{conn: wstest.NewConn(), done: make(chan struct{})}
	go func() {
		defer close(s.done)
		h.Serve(context.Background(), s.conn, ConnectRequest{AgentID: "tab-1", Addressing: model.AddressingPath})
	}()
	s.waitDone(t)

	assert.True(t, s.conn.IsClosed())
	assert.Nil(t, s.conn.Next(50*time.Millisecond))
	assert.Equal(t, 0, h.Registry().Len())
	assert.Equal(t, model.CloseReasonShutdown, journal.get(1).CloseReason)
	h.Close()
}

func TestCloseDisconnectsEveryAgent(t *testing.T) {
	journal := newMemJournal()
	h := newTestHub(journal)

	a, _ := connect(t, h, "a", model.AddressingPath)
	b, _ := connect(t, h, "b", model.AddressingPath)
	h.Close()

	a.waitDone(t)
	b.waitDone(t)
	assert.Equal(t, 0, h.Registry().Len())
	assert.Equal(t, model.CloseReasonShutdown, journal.get(1).CloseReason)

	late := wstest.NewConn()
	h.Serve(context.Background(), late, ConnectRequest{AgentID: "late"})
	assert.True(t, late.IsClosed())
}

func TestContent(t *testing.T) {
	h := newTestHub(nil)
	defer h.Close()

	res := h.Content("tab-1", 10, 1)
	require.NotNil(t, res.Error)
	assert.Equal(t, "AGENT_STATE_NOT_FOUND", res.Error.Code)

	s, _ := connect(t, h, "tab-1", model.AddressingPath)
	s.conn.Push([]byte(`{"type":"updateState","args":["https://a","` + strings.Repeat("x", 25) + `"]}`))
	require.Eventually(t, func() bool { return h.States().Has("tab-1") }, wait, 10*time.Millisecond)

	res = h.Content("tab-1", 10, 3)
	require.Nil(t, res.Error)
	assert.Equal(t, 3, res.TotalChunks)
	assert.Equal(t, 5, res.ChunkSize)
	assert.True(t, res.IsLast)

	res = h.Content("tab-1", 10, 0)
	require.NotNil(t, res.Error)
	assert.Equal(t, "INVALID_CHUNK_NUMBER", res.Error.Code)

	res = h.Content("tab-1", 10, 4)
	require.NotNil(t, res.Error)
	assert.Equal(t, "INVALID_CHUNK_NUMBER", res.Error.Code)

	res = h.Content("", 10, 1)
	require.NotNil(t, res.Error)
	assert.Equal(t, "MISSING_REQUIRED_ARGUMENT", res.Error.Code)

	assert.Equal(t, 10000, h.DefaultChunkSize())
}

func TestUnhandledMessagesAreKept(t *testing.T) {
	h := New(Config{InboxSize: 2}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer h.Close()

	s, _ := connect(t, h, "tab-1", model.AddressingPath)
	s.conn.Push([]byte(`{"type":"pong","timestamp":1714557600000}`))
	s.conn.Push([]byte(`{"type":"tableData","args":[["a","b"]]}`))
	s.conn.Push([]byte(`{"type":"elementInfo","args":{"visible":true}}`))
	s.conn.Push([]byte(`{"type":"updateState","args":["https://a","x"]}`))
	require.Eventually(t, func() bool { return h.States().Has("tab-1") }, wait, 10*time.Millisecond)

	msgs, err := h.Messages("tab-1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2, "the inbox keeps only the newest messages")
	assert.Equal(t, model.MessageType("tableData"), msgs[0].Envelope.Type)
	assert.Equal(t, model.MessageType("elementInfo"), msgs[1].Envelope.Type)

	msgs, err = h.Messages("tab-1", 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.MessageType("elementInfo"), msgs[0].Envelope.Type)

	msgs, err = h.Messages("other", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = h.Messages("", 0)
	assert.ErrorIs(t, err, model.ErrMissingRequiredArgument)

	require.NoError(t, h.ClearMessages("tab-1"))
	msgs, err = h.Messages("tab-1", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	require.NoError(t, h.ClearMessages("other"))
	assert.ErrorIs(t, h.ClearMessages(""), model.ErrMissingRequiredArgument)
}

func TestGroupsListsCreatedGroups(t *testing.T) {
	h := newTestHub(nil)
	defer h.Close()

	assert.Equal(t, []string{}, h.Groups())

	connect(t, h, "tab-1", model.AddressingPath)
	require.NoError(t, h.AddToGroup("b", "tab-1"))
	require.NoError(t, h.AddToGroup("a", "tab-1"))
	require.NoError(t, h.RemoveFromGroup("a", "tab-1"))
	assert.Equal(t, []string{"a", "b"}, h.Groups())
}
