package membership

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/ovaphlow/pitchfork/service-membership/internal/membership/entity"
	userentity "github.com/ovaphlow/pitchfork/service-membership/internal/user/entity"
)

// memStore is an in-memory Store. Each operation locks only for its own
// duration, so transactions interleave. A transaction keeps an undo log for
// rollback, and a counter it advanced stays locked until it ends, the way
// postgres holds the upserted row.
type memStore struct {
	mu       sync.Mutex
	users    map[string]*userentity.User
	requests []*entity.Request
	seqs     map[string]int64
	rows     map[string]*sync.Mutex

	// onAllocate, when set, runs after a member number has been read and
	// before it is used.
	onAllocate func()
}

func newMemStore() *memStore {
	return &memStore{
		users: map[string]*userentity.User{},
		seqs:  map[string]int64{},
		rows:  map[string]*sync.Mutex{},
	}
}

func (m *memStore) Users() UserStore         { return memUsers{m: m} }
func (m *memStore) Requests() RequestStore   { return memRequests{m: m} }
func (m *memStore) Sequences() SequenceStore { return memSeqs{m: m} }

func (m *memStore) WithTx(ctx context.Context, fn func(Store) error) error {
	tx := &memTx{m: m, held: map[string]*sync.Mutex{}}
	err := fn(tx)
	if err != nil {
		tx.rollback()
	}
	tx.release()
	return err
}

func (m *memStore) allocated() {
	if m.onAllocate != nil {
		m.onAllocate()
	}
}

func (m *memStore) row(prefix string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.rows[prefix]
	if !ok {
		l = &sync.Mutex{}
		m.rows[prefix] = l
	}
	return l
}

// memTx is a Store bound to one transaction. Nested WithTx calls join it.
type memTx struct {
	m    *memStore
	undo []func()
	held map[string]*sync.Mutex
}

func (t *memTx) Users() UserStore         { return memUsers{m: t.m, tx: t} }
func (t *memTx) Requests() RequestStore   { return memRequests{m: t.m, tx: t} }
func (t *memTx) Sequences() SequenceStore { return memSeqs{m: t.m, tx: t} }

func (t *memTx) WithTx(_ context.Context, fn func(Store) error) error { return fn(t) }

func (t *memTx) rollback() {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) release() {
	for _, l := range t.held {
		l.Unlock()
	}
	t.held = nil
}

// record adds an undo step. Steps run with m.mu held. Outside a
// transaction writes are final.
func record(tx *memTx, undo func()) {
	if tx != nil {
		tx.undo = append(tx.undo, undo)
	}
}

func (m *memStore) addUser(u *userentity.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *memStore) user(id string) *userentity.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil
	}
	cp := *u
	return &cp
}

func (m *memStore) requestsOf(userID string) []*entity.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Request
	for _, r := range m.requests {
		if r.UserID == userID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out
}

type memUsers struct {
	m  *memStore
	tx *memTx
}

func (s memUsers) Create(_ context.Context, u *userentity.User) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, existing := range s.m.users {
		if existing.Identifier == u.Identifier {
			return &pq.Error{Code: "23505"}
		}
	}
	cp := *u
	s.m.users[u.ID] = &cp
	record(s.tx, func() { delete(s.m.users, u.ID) })
	return nil
}

func (s memUsers) GetByID(_ context.Context, id string) (*userentity.User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	u, ok := s.m.users[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *u
	return &cp, nil
}

func (s memUsers) GetByIdentifier(_ context.Context, identifier string) (*userentity.User, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, u := range s.m.users {
		if u.Identifier == identifier {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s memUsers) UpdateProfile(_ context.Context, id string, fields map[string]any, now time.Time) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	u, ok := s.m.users[id]
	if !ok {
		return 0, nil
	}
	prev := *u
	record(s.tx, func() { *u = prev })
	for col, v := range fields {
		switch col {
		case "age":
			age := userentity.Age(v.(int))
			u.Age = &age
		case "gotram":
			str := v.(string)
			u.Gotram = &str
		case "occupation":
			str := v.(string)
			u.Occupation = &str
		case "dob":
			str := v.(string)
			u.DOB = &str
		}
	}
	u.UpdatedAt = now
	return 1, nil
}

func (s memUsers) Activate(_ context.Context, id string, a userentity.Activation, now time.Time) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	u, ok := s.m.users[id]
	if !ok {
		return 0, nil
	}
	for otherID, other := range s.m.users {
		if otherID != id && other.MemberID != nil && *other.MemberID == a.MemberID {
			return 0, &pq.Error{Code: "23505"}
		}
	}
	prev := *u
	record(s.tx, func() { *u = prev })
	memberID := a.MemberID
	u.Role = a.Role
	u.Status = userentity.StatusActive
	u.MemberID = &memberID
	if a.FullName != nil {
		u.FullName = a.FullName
	}
	if a.ZonalCommittee != nil {
		u.ZonalCommittee = a.ZonalCommittee
	}
	if a.RegionalCommittee != nil {
		u.RegionalCommittee = a.RegionalCommittee
	}
	if u.JoinedAt == nil {
		joined := now
		u.JoinedAt = &joined
	}
	u.UpdatedAt = now
	return 1, nil
}

func (s memUsers) CountByRole(_ context.Context, role userentity.Role) (int64, error) {
	s.m.mu.Lock()
	var n int64
	for _, u := range s.m.users {
		if u.Role == role {
			n++
		}
	}
	s.m.mu.Unlock()
	s.m.allocated()
	return n, nil
}

type memRequests struct {
	m  *memStore
	tx *memTx
}

func (s memRequests) Create(_ context.Context, req *entity.Request) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cp := &entity.Request{}
	*cp = *req
	s.m.requests = append(s.m.requests, cp)
	record(s.tx, func() {
		for i, r := range s.m.requests {
			if r == cp {
				s.m.requests = append(s.m.requests[:i], s.m.requests[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (s memRequests) Latest(_ context.Context, userID string) (*entity.Request, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var latest *entity.Request
	for _, r := range s.m.requests {
		if r.UserID != userID {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) ||
			(r.CreatedAt.Equal(latest.CreatedAt) && r.ID > latest.ID) {
			latest = r
		}
	}
	if latest == nil {
		return nil, sql.ErrNoRows
	}
	cp := *latest
	return &cp, nil
}

func (s memRequests) SetDecision(_ context.Context, id string, status entity.ApprovalStatus, notes *string) (int64, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, r := range s.m.requests {
		if r.ID == id {
			prevStatus, prevNotes := r.ApprovalStatus, r.AdminNotes
			record(s.tx, func() { r.ApprovalStatus, r.AdminNotes = prevStatus, prevNotes })
			r.ApprovalStatus = status
			r.AdminNotes = notes
			return 1, nil
		}
	}
	return 0, nil
}

func (s memRequests) ListPending(_ context.Context) ([]*entity.PendingRequest, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	out := []*entity.PendingRequest{}
	for _, r := range s.m.requests {
		if r.ApprovalStatus != entity.ApprovalPending {
			continue
		}
		u, ok := s.m.users[r.UserID]
		if !ok {
			continue
		}
		out = append(out, &entity.PendingRequest{
			Request: *r,
			Applicant: entity.Applicant{
				ID: u.ID, Identifier: u.Identifier, FullName: u.FullName,
				Phone: u.Phone, Role: u.Role, Status: u.Status,
			},
		})
	}
	return out, nil
}

type memSeqs struct {
	m  *memStore
	tx *memTx
}

// Next seeds a missing counter from the highest number already issued
// under prefix, like the postgres upsert. Inside a transaction the counter
// stays locked until commit or rollback.
func (s memSeqs) Next(_ context.Context, prefix string, _ time.Time) (int64, error) {
	row := s.m.row(prefix)
	switch {
	case s.tx == nil:
		row.Lock()
		defer row.Unlock()
	case s.tx.held[prefix] == nil:
		row.Lock()
		s.tx.held[prefix] = row
	}

	s.m.mu.Lock()
	prev, had := s.m.seqs[prefix]
	v := prev
	if !had {
		v = s.m.highestIssuedLocked(prefix)
	}
	v++
	s.m.seqs[prefix] = v
	record(s.tx, func() {
		if had {
			s.m.seqs[prefix] = prev
		} else {
			delete(s.m.seqs, prefix)
		}
	})
	s.m.mu.Unlock()

	s.m.allocated()
	return v, nil
}

func (m *memStore) highestIssuedLocked(prefix string) int64 {
	var top int64
	for _, u := range m.users {
		if u.MemberID == nil {
			continue
		}
		suffix, ok := strings.CutPrefix(*u.MemberID, prefix+"-")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(suffix, 10, 64)
		if err == nil && n > top {
			top = n
		}
	}
	return top
}
