package membership

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-membership/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-membership/internal/membership/entity"
	"github.com/ovaphlow/pitchfork/service-membership/internal/sequence"
	userentity "github.com/ovaphlow/pitchfork/service-membership/internal/user/entity"
)

type stubHasher struct{}

func (stubHasher) Hash(pin string) (string, error) { return "h:" + pin, nil }

type fixture struct {
	svc   *Service
	store *memStore
	clock *clockwork.FakeClock
}

func newFixture(t *testing.T, mode sequence.Mode) *fixture {
	t.Helper()
	store := newMemStore()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC))
	svc := NewService(store, stubHasher{}, zap.NewNop().Sugar(), Options{
		Allocator: sequence.NewAllocator(mode),
		Clock:     clock,
	})
	return &fixture{svc: svc, store: store, clock: clock}
}

func strp(s string) *string { return &s }

func (f *fixture) addUser(id, phone string, role userentity.Role) {
	now := f.clock.Now()
	f.store.addUser(&userentity.User{
		ID: id, Identifier: phone, Phone: strp(phone), FullName: strp("User " + id),
		PINHash: strp("h:1234"), Role: role, Status: userentity.StatusPending,
		CreatedAt: now, UpdatedAt: now,
	})
}

func (f *fixture) apply(t *testing.T, userID string, role userentity.Role) string {
	t.Helper()
	id, err := f.svc.Submit(context.Background(), userID, Application{RequestedRole: role})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	return id
}

func TestSubmitStoresProfileAndSnapshot(t *testing.T) {
	f := newFixture(t, sequence.ModeSequence)
	f.addUser("u1", "9000000001", userentity.RoleGeneral)

	age := userentity.Age(34)
	id, err := f.svc.Submit(context.Background(), "u1", Application{
		RequestedRole: userentity.RoleNormal,
		BioData: entity.BioData{
			Profile: userentity.Profile{
				Age:        &age,
				Gotram:     strp("Atreya"),
				DOB:        strp("1992-02-29"),
				Occupation: strp("Teacher"),
			},
			PaymentProofURL: strp("https://files.example/receipt.png"),
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	u := f.store.user("u1")
	require.NotNil(t, u.Age)
	assert.Equal(t, userentity.Age(34), *u.Age)
	assert.Equal(t, "Atreya", *u.Gotram)

	req, err := f.svc.Status(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, req)
	assert.Equal(t, id, req.ID)
	assert.Equal(t, entity.ApprovalPending, req.ApprovalStatus)
	assert.Equal(t, entity.PaymentExempt, req.PaymentStatus)
	assert.Equal(t, userentity.RoleNormal, req.RequestedRole)

	var snapshot map[string]any
	require.NoError(t, json.Unmarshal(req.ApplicationData, &snapshot))
	assert.Equal(t, "https://files.example/receipt.png", snapshot["payment_proof_url"])
	assert.Equal(t, "Atreya", snapshot["gotram"])
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, sequence.ModeSequence)
	f.addUser("u1", "9000000001", userentity.RoleGeneral)

	bad := []Application{
		{RequestedRole: userentity.RoleHead},
		{RequestedRole: userentity.RoleGeneral},
		{},
		{RequestedRole: userentity.RoleNormal, BioData: entity.BioData{Profile: userentity.Profile{DOB: strp("29/02/1992")}}},
		{RequestedRole: userentity.RoleNormal, BioData: entity.BioData{Profile: userentity.Profile{TOB: strp("25:99")}}},
		{RequestedRole: userentity.RoleNormal, BioData: entity.BioData{Profile: userentity.Profile{Email: strp("not-an-email")}}},
	}
	for _, app := range bad {
		_, err := f.svc.Submit(context.Background(), "u1", app)
		assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err), "%+v", app)
	}
	assert.Empty(t, f.store.requestsOf("u1"))
}

func TestSubmitMissingUserRollsBack(t *testing.T) {
	f := newFixture(t, sequence.ModeSequence)
	_, err := f.svc.Submit(context.Background(), "ghost", Application{RequestedRole: userentity.RoleNormal})
	assert.Equal(t, apperr.KindInternal, apperr.KindOf(err))
	assert.Empty(t, f.store.requestsOf("ghost"))
}

func TestStatusWithoutRequest(t *testing.T) {
	f := newFixture(t, sequence.ModeSequence)
	req, err := f.svc.Status(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, req)
}

func TestStatusReturnsLatest(t *testing.T) {
	f := newFixture(t, sequence.ModeSequence)
	f.addUser("u1", "9000000001", userentity.RoleGeneral)
	f.apply(t, "u1", userentity.RoleNormal)
	second := f.apply(t, "u1", userentity.RolePermanent)

	req, err := f.svc.Status(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, second, req.ID)
	assert.Equal(t, userentity.RolePermanent, req.RequestedRole)
}

func TestSequentialApprovalsAreNumberedInOrder(t *testing.T) {
	for _, mode := range []sequence.Mode{sequence.ModeSequence, sequence.ModeCount} {
		t.Run(string(mode), func(t *testing.T) {
			f := newFixture(t, mode)
			for i := 1; i <= 3; i++ {
				id := fmt.Sprintf("u%d", i)
				f.addUser(id, fmt.Sprintf("900000000%d", i), userentity.RoleGeneral)
				f.apply(t, id, userentity.RoleNormal)
			}
			for i := 1; i <= 3; i++ {
				id := fmt.Sprintf("u%d", i)
				a, err := f.svc.Approve(context.Background(), id, nil, nil)
				require.NoError(t, err)
				assert.Equal(t, fmt.Sprintf("NID-%03d", i), a.MemberID)
				assert.Equal(t, userentity.RoleNormal, a.Role)

				u := f.store.user(id)
				assert.Equal(t, userentity.RoleNormal, u.Role)
				assert.Equal(t, userentity.StatusActive, u.Status)
				assert.Equal(t, a.MemberID, *u.MemberID)
				assert.NotNil(t, u.JoinedAt)
				assert.Equal(t, entity.ApprovalApproved, f.store.requestsOf(id)[0].ApprovalStatus)
			}
		})
	}
}

func TestApprovalPrefixes(t *testing.T) {
	f := newFixture(t, sequence.ModeSequence)
	cases := map[userentity.Role]string{
		userentity.RolePermanent:  "PID-001",
		userentity.RoleNormal:     "NID-001",
		userentity.RoleAssociated: "AID-001",
	}
	i := 0
	for role, want := range cases {
		i++
		id := fmt.Sprintf("u%d", i)
		f.addUser(id, fmt.Sprintf("91000000%02d", i), userentity.RoleGeneral)
		f.apply(t, id, role)
		a, err := f.svc.Approve(context.Background(), id, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, want, a.MemberID)
	}
}

// rendezvous holds callers until n have arrived or wait has passed.
type rendezvous struct {
	n    int
	wait time.Duration

	mu      sync.Mutex
	arrived int
	all     chan struct{}
}

func newRendezvous(n int, wait time.Duration) *rendezvous {
	return &rendezvous{n: n, wait: wait, all: make(chan struct{})}
}

func (r *rendezvous) arrive() {
	r.mu.Lock()
	r.arrived++
	if r.arrived == r.n {
		close(r.all)
	}
	r.mu.Unlock()
	select {
	case <-r.all:
	case <-time.After(r.wait):
	}
}

// approveTogether approves n pending NORMAL applicants at once. Every
// approval waits after reading its number until all of them have read one
// or the wait runs out, so allocations that are not serialized collide.
func approveTogether(t *testing.T, mode sequence.Mode, n int) ([]string, []error) {
	t.Helper()
	f := newFixture(t, mode)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("u%02d", i)
		f.addUser(id, fmt.Sprintf("92000000%02d", i), userentity.RoleGeneral)
		f.apply(t, id, userentity.RoleNormal)
	}
	f.store.onAllocate = newRendezvous(n, 50*time.Millisecond).arrive

	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := f.svc.Approve(context.Background(), fmt.Sprintf("u%02d", i), nil, nil)
			errs[i] = err
			if a != nil {
				ids[i] = a.MemberID
			}
		}(i)
	}
	wg.Wait()
	return ids, errs
}

func TestConcurrentApprovalsGetDistinctIDs(t *testing.T) {
	const n = 4
	ids, errs := approveTogether(t, sequence.ModeSequence, n)

	for _, err := range errs {
		require.NoError(t, err)
	}
	sort.Strings(ids)
	for i, id := range ids {
		assert.Equal(t, fmt.Sprintf("NID-%03d", i+1), id)
	}
}

func TestConcurrentCountModeApprovalsCollide(t *testing.T) {
	const n = 4
	ids, errs := approveTogether(t, sequence.ModeCount, n)

	conflicts := 0
	issued := map[string]bool{}
	for i, err := range errs {
		if err != nil {
			assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
			conflicts++
			continue
		}
		assert.False(t, issued[ids[i]], "member ID %s issued twice", ids[i])
		issued[ids[i]] = true
	}
	assert.Positive(t, conflicts)
}

func TestApproveOverrideRole(t *testing.T) {
	f := newFixture(t, sequence.ModeSequence)
	f.addUser("u1", "9000000001", userentity.RoleGeneral)
	f.apply(t, "u1", userentity.RoleNormal)

	override := userentity.RolePermanent
	a, err := f.svc.Decide(context.Background(), Decision{UserID: "u1", Role: &override, AdminNotes: strp("fee waived")})
	require.NoError(t, err)
	assert.Equal(t, "PID-001", a.MemberID)
	assert.Equal(t, userentity.RolePermanent, f.store.user("u1").Role)
	assert.Equal(t, "fee waived", *f.store.requestsOf("u1")[0].AdminNotes)
}

func TestDecideRejectsUnknownOverride(t *testing.T) {
	f := newFixture(t, sequence.ModeSequence)
	bogus := userentity.Role("EMPEROR")
	_, err := f.svc.Decide(context.Background(), Decision{UserID: "u1", Role: &bogus})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	_, err = f.svc.Decide(context.Background(), Decision{UserID: "u1", Action: "MAYBE"})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	_, err = f.svc.Decide(context.Background(), Decision{})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

func TestApproveKeepsHeadRole(t *testing.T) {
	f := newFixture(t, sequence.ModeSequence)
	f.addUser("admin", "9000000009", userentity.RoleHead)
	f.apply(t, "admin", userentity.RoleNormal)

	a, err := f.svc.Approve(context.Background(), "admin", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "NID-001", a.MemberID)
	assert.Equal(t, userentity.RoleNormal, a.Role)

	u := f.store.user("admin")
	assert.Equal(t, userentity.RoleHead, u.Role)
	assert.Equal(t, userentity.StatusActive, u.Status)
	assert.Equal(t, "NID-001", *u.MemberID)
}

func TestApproveWithoutRequest(t *testing.T) {
	f := newFixture(t, sequence.ModeSequence)
	f.addUser("u1", "9000000001", userentity.RoleGeneral)
	_, err := f.svc.Approve(context.Background(), "u1", nil, nil)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, "Membership request not found", apperr.Message(err))
}

func TestApproveMissingUserDoesNotConsumeNumber(t *testing.T) {
	f := newFixture(t, sequence.ModeSequence)
	require.NoError(t, f.store.Requests().Create(context.Background(), &entity.Request{
		ID: "r-ghost", UserID: "ghost", RequestedRole: userentity.RoleNormal,
		ApprovalStatus: entity.ApprovalPending, CreatedAt: f.clock.Now(),
	}))

	_, err := f.svc.Approve(context.Background(), "ghost", nil, nil)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, "User not found", apperr.Message(err))
	assert.Equal(t, entity.ApprovalPending, f.store.requestsOf("ghost")[0].ApprovalStatus)

	f.addUser("u1", "9000000001", userentity.RoleGeneral)
	f.apply(t, "u1", userentity.RoleNormal)
	a, err := f.svc.Approve(context.Background(), "u1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "NID-001", a.MemberID)
}

func TestCountModeCollisionIsConflict(t *testing.T) {
	f := newFixture(t, sequence.ModeCount)
	// a former NORMAL member kept NID-001 after leaving the role
	f.addUser("old", "9000000000", userentity.RoleGeneral)
	f.store.users["old"].MemberID = strp("NID-001")

	f.addUser("u1", "9000000001", userentity.RoleGeneral)
	f.apply(t, "u1", userentity.RoleNormal)
	_, err := f.svc.Approve(context.Background(), "u1", nil, nil)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Nil(t, f.store.user("u1").MemberID)
}

func TestSequenceSeedsFromExistingHolders(t *testing.T) {
	f := newFixture(t, sequence.ModeSequence)
	f.addUser("p1", "9000000010", userentity.RolePermanent)
	f.store.users["p1"].MemberID = strp("PID-001")
	// promoted after joining, so the role no longer says PERMANENT
	f.addUser("h1", "9000000011", userentity.RoleHead)
	f.store.users["h1"].MemberID = strp("PID-005")
	f.addUser("u1", "9000000001", userentity.RoleGeneral)
	f.apply(t, "u1", userentity.RolePermanent)

	a, err := f.svc.Approve(context.Background(), "u1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "PID-006", a.MemberID)
}

func TestGenOverridesShareOneCounter(t *testing.T) {
	f := newFixture(t, sequence.ModeSequence)
	overrides := []userentity.Role{userentity.RoleGeneral, userentity.RoleHead, userentity.RoleGeneral, userentity.RoleHead}
	for i, role := range overrides {
		id := fmt.Sprintf("u%d", i+1)
		f.addUser(id, fmt.Sprintf("930000000%d", i+1), userentity.RoleGeneral)
		f.apply(t, id, userentity.RoleNormal)

		override := role
		a, err := f.svc.Decide(context.Background(), Decision{UserID: id, Role: &override})
		require.NoError(t, err, "approval %d as %s", i+1, role)
		assert.Equal(t, fmt.Sprintf("GEN-%03d", i+1), a.MemberID)
		assert.Equal(t, role, f.store.user(id).Role)
	}
}

// uuidStore fails like postgres does when a user_id is not a uuid.
type uuidStore struct{ Store }

func (s uuidStore) Requests() RequestStore { return uuidRequests{s.Store.Requests()} }

func (s uuidStore) WithTx(ctx context.Context, fn func(Store) error) error {
	return s.Store.WithTx(ctx, func(tx Store) error { return fn(uuidStore{tx}) })
}

type uuidRequests struct{ RequestStore }

func (uuidRequests) Latest(context.Context, string) (*entity.Request, error) {
	return nil, &pq.Error{Code: "22P02", Message: `invalid input syntax for type uuid: "abc"`}
}

func TestMalformedUserIDIsNotFound(t *testing.T) {
	f := newFixture(t, sequence.ModeSequence)
	svc := NewService(uuidStore{f.store}, stubHasher{}, zap.NewNop().Sugar(), Options{
		Allocator: sequence.NewAllocator(sequence.ModeSequence),
		Clock:     f.clock,
	})

	_, err := svc.Approve(context.Background(), "abc", nil, nil)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, "Membership request not found", apperr.Message(err))

	err = svc.Reject(context.Background(), "abc", nil)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestReject(t *testing.T) {
	f := newFixture(t, sequence.ModeSequence)
	f.addUser("u1", "9000000001", userentity.RoleGeneral)
	f.apply(t, "u1", userentity.RoleNormal)

	a, err := f.svc.Decide(context.Background(), Decision{UserID: "u1", Action: ActionReject, AdminNotes: strp("incomplete")})
	require.NoError(t, err)
	assert.Nil(t, a)

	req := f.store.requestsOf("u1")[0]
	assert.Equal(t, entity.ApprovalRejected, req.ApprovalStatus)
	assert.Equal(t, "incomplete", *req.AdminNotes)

	u := f.store.user("u1")
	assert.Equal(t, userentity.RoleGeneral, u.Role)
	assert.Equal(t, userentity.StatusPending, u.Status)
	assert.Nil(t, u.MemberID)
}

func TestRejectWithoutRequest(t *testing.T) {
	f := newFixture(t, sequence.ModeSequence)
	err := f.svc.Reject(context.Background(), "nobody", nil)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestListPending(t *testing.T) {
	f := newFixture(t, sequence.ModeSequence)
	f.addUser("u1", "9000000001", userentity.RoleGeneral)
	f.addUser("u2", "9000000002", userentity.RoleGeneral)
	f.apply(t, "u1", userentity.RoleNormal)
	f.apply(t, "u2", userentity.RoleAssociated)
	_, err := f.svc.Approve(context.Background(), "u1", nil, nil)
	require.NoError(t, err)

	list, err := f.svc.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "u2", list[0].UserID)
	assert.Equal(t, "9000000002", list[0].Applicant.Identifier)
}

func TestCreateMemberShellAccount(t *testing.T) {
	f := newFixture(t, sequence.ModeSequence)
	p, err := f.svc.CreateMember(context.Background(), NewMember{
		Phone:          "+91 93000-00001",
		FullName:       " Lakshmi ",
		Role:           userentity.RoleAssociated,
		ZonalCommittee: strp("South"),
	})
	require.NoError(t, err)
	assert.True(t, p.Created)
	assert.Equal(t, "AID-001", p.MemberID)

	u := f.store.user(p.UserID)
	require.NotNil(t, u)
	assert.Equal(t, "919300000001", u.Identifier)
	assert.Equal(t, "Lakshmi", *u.FullName)
	assert.Equal(t, "h:0000", *u.PINHash)
	assert.Equal(t, userentity.RoleAssociated, u.Role)
	assert.Equal(t, userentity.StatusActive, u.Status)
	assert.Equal(t, "South", *u.ZonalCommittee)

	reqs := f.store.requestsOf(p.UserID)
	require.Len(t, reqs, 1)
	assert.Equal(t, entity.ApprovalApproved, reqs[0].ApprovalStatus)
	assert.Equal(t, entity.PaymentPaid, reqs[0].PaymentStatus)
	assert.Equal(t, entity.ManualNotes, *reqs[0].AdminNotes)
}

func TestCreateMemberExistingAccount(t *testing.T) {
	f := newFixture(t, sequence.ModeSequence)
	f.addUser("u1", "9000000001", userentity.RoleGeneral)

	p, err := f.svc.CreateMember(context.Background(), NewMember{
		Phone: "9000000001", FullName: "Renamed", Role: userentity.RolePermanent,
	})
	require.NoError(t, err)
	assert.False(t, p.Created)
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, "PID-001", p.MemberID)

	u := f.store.user("u1")
	assert.Equal(t, "Renamed", *u.FullName)
	assert.Equal(t, "h:1234", *u.PINHash)
	assert.Equal(t, userentity.StatusActive, u.Status)
}

func TestCreateMemberSharesNumbering(t *testing.T) {
	f := newFixture(t, sequence.ModeSequence)
	f.addUser("u1", "9000000001", userentity.RoleGeneral)
	f.apply(t, "u1", userentity.RoleNormal)
	_, err := f.svc.Approve(context.Background(), "u1", nil, nil)
	require.NoError(t, err)

	p, err := f.svc.CreateMember(context.Background(), NewMember{Phone: "9000000002", FullName: "B", Role: userentity.RoleNormal})
	require.NoError(t, err)
	assert.Equal(t, "NID-002", p.MemberID)
}

func TestCreateMemberValidation(t *testing.T) {
	f := newFixture(t, sequence.ModeSequence)
	bad := []NewMember{
		{Phone: "9000000001", FullName: "A", Role: userentity.RoleGeneral},
		{Phone: "9000000001", FullName: "A", Role: userentity.RoleHead},
		{Phone: "9000000001", FullName: "  ", Role: userentity.RoleNormal},
		{Phone: "abc", FullName: "A", Role: userentity.RoleNormal},
	}
	for _, in := range bad {
		_, err := f.svc.CreateMember(context.Background(), in)
		assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err), "%+v", in)
	}
	assert.Empty(t, f.store.users)
}

func TestCard(t *testing.T) {
	f := newFixture(t, sequence.ModeSequence)
	_, err := f.svc.Card(&userentity.User{Status: userentity.StatusPending})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	joined := f.clock.Now()
	card, err := f.svc.Card(&userentity.User{
		Status: userentity.StatusActive, Role: userentity.RoleNormal,
		MemberID: strp("NID-004"), FullName: strp("Asha"), JoinedAt: &joined,
	})
	require.NoError(t, err)
	assert.Equal(t, "NID-004", card.MemberID)
	assert.Equal(t, "Asha", *card.FullName)
}
