package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tbourn/go-chat-presence/internal/domain"
	"github.com/tbourn/go-chat-presence/internal/repo"
)

// ----- Fake presence store -----

type fakeStore struct {
	mu    sync.Mutex
	users map[string]domain.User

	failOnline  error
	failOffline map[string]error
	failTouch   error
	failFind    error
	failReset   error

	touches   int
	findCalls int
	findIDs   []string
	resetKeep []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: map[string]domain.User{}, failOffline: map[string]error{}}
}

func (s *fakeStore) MarkOnline(ctx context.Context, userID, username, handle string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOnline != nil {
		return s.failOnline
	}
	u := s.users[userID]
	u.ID = userID
	if username != "" {
		u.Username = username
	}
	u.IsOnline = true
	ls, h := at, handle
	u.LastSeen, u.SessionHandle = &ls, &h
	s.users[userID] = u
	return nil
}

func (s *fakeStore) MarkOffline(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failOffline[userID]; err != nil {
		return err
	}
	u, ok := s.users[userID]
	if !ok {
		return nil
	}
	ls := at
	u.IsOnline, u.LastSeen, u.SessionHandle = false, &ls, nil
	s.users[userID] = u
	return nil
}

func (s *fakeStore) TouchPresence(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failTouch != nil {
		return s.failTouch
	}
	s.touches++
	if u, ok := s.users[userID]; ok {
		ls := at
		u.LastSeen = &ls
		s.users[userID] = u
	}
	return nil
}

func (s *fakeStore) FindPresence(ctx context.Context, ids []string) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findCalls++
	s.findIDs = append([]string(nil), ids...)
	if s.failFind != nil {
		return nil, s.failFind
	}
	var out []domain.User
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			u.SessionHandle = nil
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *fakeStore) ResetOnline(ctx context.Context, keep []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failReset != nil {
		return 0, s.failReset
	}
	s.resetKeep = append([]string(nil), keep...)
	k := map[string]bool{}
	for _, id := range keep {
		k[id] = true
	}
	var n int64
	for id, u := range s.users {
		if u.IsOnline && !k[id] {
			u.IsOnline, u.SessionHandle = false, nil
			s.users[id] = u
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) get(id string) (domain.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	return u, ok
}

func (s *fakeStore) put(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// ----- Fake clock -----

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// ----- Event recorder -----

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) listen(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) ofType(typ string) []Event {
	var out []Event
	for _, e := range l.all() {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// ----- Fake transport -----

type emitted struct {
	Handle  string
	Event   string
	Payload any
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []emitted
	fail map[string]error
}

func (t *fakeTransport) Emit(handle, event string, payload any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.fail[handle]; err != nil {
		return err
	}
	t.sent = append(t.sent, emitted{Handle: handle, Event: event, Payload: payload})
	return nil
}

func (t *fakeTransport) to(handle string) []emitted {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []emitted
	for _, e := range t.sent {
		if e.Handle == handle {
			out = append(out, e)
		}
	}
	return out
}

func (t *fakeTransport) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

// ----- Fake sessions -----

type fakeSessions map[string]string

func (s fakeSessions) SessionHandle(userID string) (string, bool) {
	h, ok := s[userID]
	return h, ok
}

// ----- Fake chats / messages -----

type fakeChats map[string][]string

func (c fakeChats) Participants(ctx context.Context, chatID string) ([]string, error) {
	ids, ok := c[chatID]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return ids, nil
}

func (c fakeChats) IsParticipant(ctx context.Context, chatID, userID string) (bool, error) {
	for _, id := range c[chatID] {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

type fakeMessages struct {
	mu   sync.Mutex
	byID map[string]*domain.Message
	seq  int
	fail error
}

func (m *fakeMessages) CreateMessage(ctx context.Context, chatID, senderID, msgType, content string) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	if m.byID == nil {
		m.byID = map[string]*domain.Message{}
	}
	m.seq++
	msg := &domain.Message{
		ID:       "m" + string(rune('0'+m.seq)),
		ChatID:   chatID,
		SenderID: senderID,
		Type:     msgType,
		Content:  content,
	}
	m.byID[msg.ID] = msg
	return msg, nil
}

func (m *fakeMessages) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.byID[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return msg, nil
}

// ----- Fake recorder -----

type fakeRecorder struct {
	mu       sync.Mutex
	messages []MessageRecord
	dropped  int
}

func (r *fakeRecorder) RecordMessage(roomID, userID, messageType string) {
	r.mu.Lock()
	r.messages = append(r.messages, MessageRecord{RoomID: roomID, UserID: userID, MessageType: messageType})
	r.mu.Unlock()
}

func (r *fakeRecorder) RecordDelivery(dropped bool) {
	if dropped {
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
	}
}

// ----- Fake call store (lock semantics mirror active_call_locks) -----

type fakeCalls struct {
	mu    sync.Mutex
	calls map[string]domain.CallSession
	locks map[string]string // user -> call
}

func newFakeCalls() *fakeCalls {
	return &fakeCalls{calls: map[string]domain.CallSession{}, locks: map[string]string{}}
}

func (f *fakeCalls) CreateCall(ctx context.Context, c *domain.CallSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.locks[c.CallerID]; busy {
		return repo.ErrDuplicate
	}
	if _, busy := f.locks[c.CalleeID]; busy {
		return repo.ErrDuplicate
	}
	f.locks[c.CallerID], f.locks[c.CalleeID] = c.ID, c.ID
	f.calls[c.ID] = *c
	return nil
}

func (f *fakeCalls) GetCall(ctx context.Context, id string) (*domain.CallSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.calls[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return &c, nil
}

func (f *fakeCalls) UpdateCallStatus(ctx context.Context, id string, from []string, u repo.CallUpdate) (*domain.CallSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.calls[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	match := false
	for _, s := range from {
		if c.Status == s {
			match = true
		}
	}
	if !match {
		return nil, repo.ErrStaleStatus
	}
	c.Status = u.Status
	if u.StartedAt != nil {
		t := *u.StartedAt
		c.StartedAt = &t
	}
	if u.EndedAt != nil {
		t := *u.EndedAt
		c.EndedAt = &t
	}
	if u.DurationSec != nil {
		c.DurationSec = *u.DurationSec
	}
	f.calls[id] = c
	if !c.IsActive() {
		for uid, cid := range f.locks {
			if cid == id {
				delete(f.locks, uid)
			}
		}
	}
	return &c, nil
}

func (f *fakeCalls) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]domain.CallSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.CallSession
	for _, c := range f.calls {
		if c.Status == domain.CallStatusPending && c.CreatedAt.Before(cutoff) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeCalls) userCalls(userID string) []domain.CallSession {
	var out []domain.CallSession
	for _, c := range f.calls {
		if c.HasParticipant(userID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (f *fakeCalls) CountCalls(ctx context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.userCalls(userID))), nil
}

func (f *fakeCalls) ListCallsPage(ctx context.Context, userID string, offset, limit int) ([]domain.CallSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	all := f.userCalls(userID)
	if offset >= len(all) {
		return []domain.CallSession{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (f *fakeCalls) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

var errBoom = errors.New("boom")
