// README: Booking service tests against an in-memory repository (flow, actors, races).
package booking

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"quickassist/internal/types"
)

type memStore struct {
	mu       sync.Mutex
	bookings map[types.ID]Booking
	events   []Event
}

func newMemStore() *memStore {
	return &memStore{bookings: map[types.ID]Booking{}}
}

func (m *memStore) Create(_ context.Context, b *Booking, ev *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[b.ID] = *b
	if ev != nil {
		m.events = append(m.events, *ev)
	}
	return nil
}

func (m *memStore) Get(_ context.Context, id types.ID) (*Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

func (m *memStore) ListByCustomer(_ context.Context, id types.ID, limit int) ([]Booking, error) {
	return m.filter(func(b Booking) bool { return b.CustomerID == id }, limit), nil
}

func (m *memStore) ListByProvider(_ context.Context, id types.ID, limit int) ([]Booking, error) {
	return m.filter(func(b Booking) bool { return b.ProviderID == id }, limit), nil
}

func (m *memStore) filter(keep func(Booking) bool, limit int) []Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Booking
	for _, b := range m.bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *memStore) Transition(_ context.Context, u StatusUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.bookings[u.ID]
	if b.Status != u.From || b.StatusVersion != u.Version {
		return false, nil
	}
	b.Status = u.To
	b.StatusVersion++
	at := u.At
	switch u.To {
	case StatusAccepted:
		b.AcceptedAt = &at
	case StatusInProgress:
		b.StartedAt = &at
	case StatusCompleted:
		b.CompletedAt = &at
	case StatusCancelled:
		b.CancelledAt = &at
		actor := u.ActorID
		b.CancelledBy = &actor
	}
	m.bookings[u.ID] = b
	actor := u.ActorID
	m.events = append(m.events, Event{BookingID: u.ID, FromStatus: u.From, ToStatus: u.To, ActorID: &actor})
	return true, nil
}

func (m *memStore) ListEvents(_ context.Context, id types.ID) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.BookingID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []types.ID
	err  error
}

func (n *recordingNotifier) NotifyNewBooking(_ context.Context, b *Booking) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, b.ProviderID)
	return n.err
}

var (
	customer = types.Principal{ID: "c1", Role: types.RoleCustomer}
	provider = types.Principal{ID: "p1", Role: types.RoleProvider}
	stranger = types.Principal{ID: "p2", Role: types.RoleProvider}
	admin    = types.Principal{ID: "a1", Role: types.RoleAdmin}
)

func newTestService(t *testing.T) (*Service, *memStore) {
	t.Helper()
	store := newMemStore()
	return NewService(store, nil, nil, nil), store
}

func mustCreate(t *testing.T, svc *Service) *Booking {
	t.Helper()
	b, err := svc.Create(context.Background(), CreateCommand{
		CustomerID: customer.ID,
		ProviderID: provider.ID,
		ServiceID:  1,
		Location:   types.Point{Lat: -1.2921, Lng: 36.8219},
		DistanceKm: 1.5,
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return b
}

func assertStatus(t *testing.T, svc *Service, id types.ID, want Status) {
	t.Helper()
	b, err := svc.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get booking: %v", err)
	}
	if b.Status != want {
		t.Fatalf("expected status %s, got %s", want, b.Status)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusAccepted, true},
		{StatusPending, StatusRejected, true},
		{StatusPending, StatusCancelled, true},
		{StatusAccepted, StatusInProgress, true},
		{StatusAccepted, StatusCancelled, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusCancelled, true},
		// skipping states
		{StatusPending, StatusInProgress, false},
		{StatusPending, StatusCompleted, false},
		{StatusAccepted, StatusCompleted, false},
		{StatusAccepted, StatusRejected, false},
		// terminal states have no outgoing transitions
		{StatusCompleted, StatusCancelled, false},
		{StatusRejected, StatusAccepted, false},
		{StatusCancelled, StatusPending, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}

	for _, s := range []Status{StatusCompleted, StatusRejected, StatusCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	if StatusPending.Terminal() {
		t.Error("PENDING should not be terminal")
	}
}

func TestBookingFlowHappyPath(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	b := mustCreate(t, svc)
	assertStatus(t, svc, b.ID, StatusPending)
	if b.ProviderID != provider.ID {
		t.Fatalf("provider not assigned at creation: %+v", b)
	}

	got, err := svc.Accept(ctx, b.ID, provider)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got.AcceptedAt == nil {
		t.Error("accepted_at not set")
	}
	if _, err := svc.Start(ctx, b.ID, provider); err != nil {
		t.Fatalf("start: %v", err)
	}
	got, err = svc.Complete(ctx, b.ID, provider)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Status != StatusCompleted || got.CompletedAt == nil {
		t.Fatalf("unexpected completed booking: %+v", got)
	}

	evs, _ := store.ListEvents(ctx, b.ID)
	if len(evs) != 4 {
		t.Fatalf("expected 4 events (create + 3 transitions), got %d", len(evs))
	}
}

func TestBookingDecline(t *testing.T) {
	svc, _ := newTestService(t)
	b := mustCreate(t, svc)

	if _, err := svc.Decline(context.Background(), b.ID, provider); err != nil {
		t.Fatalf("decline: %v", err)
	}
	assertStatus(t, svc, b.ID, StatusRejected)

	_, err := svc.Accept(context.Background(), b.ID, provider)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state after rejection, got %v", err)
	}
}

func TestBookingOnlyAssignedProviderResponds(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	b := mustCreate(t, svc)

	for name, fn := range map[string]func(context.Context, types.ID, types.Principal) (*Booking, error){
		"accept":  svc.Accept,
		"decline": svc.Decline,
		"start":   svc.Start,
	} {
		for _, p := range []types.Principal{customer, stranger, admin} {
			if _, err := fn(ctx, b.ID, p); !errors.Is(err, ErrUnauthorized) {
				t.Errorf("%s by %s: expected ErrUnauthorized, got %v", name, p.ID, err)
			}
		}
	}
	assertStatus(t, svc, b.ID, StatusPending)
}

func TestBookingStartTwice(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	b := mustCreate(t, svc)

	if _, err := svc.Accept(ctx, b.ID, provider); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Start(ctx, b.ID, provider); err != nil {
		t.Fatal(err)
	}
	_, err := svc.Start(ctx, b.ID, provider)

	var te *TransitionError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransitionError, got %v", err)
	}
	if te.Current != StatusInProgress || len(te.Required) != 1 || te.Required[0] != StatusAccepted {
		t.Fatalf("unexpected transition error: %+v", te)
	}
	if !strings.Contains(err.Error(), "IN_PROGRESS") || !strings.Contains(err.Error(), "ACCEPTED") {
		t.Errorf("message should name current and required status: %q", err.Error())
	}
}

func TestBookingCancel(t *testing.T) {
	cases := []struct {
		name   string
		actor  types.Principal
		setup  func(*Service, types.ID)
		wantOK bool
	}{
		{name: "requester while pending", actor: customer, wantOK: true},
		{name: "provider after accept", actor: provider, wantOK: true, setup: func(s *Service, id types.ID) {
			_, _ = s.Accept(context.Background(), id, provider)
		}},
		{name: "admin in progress", actor: admin, wantOK: true, setup: func(s *Service, id types.ID) {
			_, _ = s.Accept(context.Background(), id, provider)
			_, _ = s.Start(context.Background(), id, provider)
		}},
		{name: "stranger", actor: stranger, wantOK: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			b := mustCreate(t, svc)
			if tc.setup != nil {
				tc.setup(svc, b.ID)
			}
			got, err := svc.Cancel(context.Background(), b.ID, tc.actor)
			if tc.wantOK {
				if err != nil {
					t.Fatalf("cancel: %v", err)
				}
				if got.CancelledBy == nil || *got.CancelledBy != tc.actor.ID || got.CancelledAt == nil {
					t.Fatalf("cancel metadata missing: %+v", got)
				}
				return
			}
			if !errors.Is(err, ErrUnauthorized) {
				t.Fatalf("expected ErrUnauthorized, got %v", err)
			}
		})
	}
}

func TestBookingCancelAfterCompleteFails(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	b := mustCreate(t, svc)
	_, _ = svc.Accept(ctx, b.ID, provider)
	_, _ = svc.Start(ctx, b.ID, provider)
	_, _ = svc.Complete(ctx, b.ID, provider)

	if _, err := svc.Cancel(ctx, b.ID, customer); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
}

func TestBookingConcurrentAccept(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	b := mustCreate(t, svc)

	const attempts = 8
	errs := make(chan error, attempts)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Accept(ctx, b.ID, provider)
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrInvalidState) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 success, got %d", success)
	}
	assertStatus(t, svc, b.ID, StatusAccepted)
}

func TestBookingAcceptVsCancel(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	b := mustCreate(t, svc)

	var wg sync.WaitGroup
	var acceptErr, cancelErr error
	wg.Add(2)
	go func() { defer wg.Done(); _, acceptErr = svc.Accept(ctx, b.ID, provider) }()
	go func() { defer wg.Done(); _, cancelErr = svc.Cancel(ctx, b.ID, customer) }()
	wg.Wait()

	for _, err := range []error{acceptErr, cancelErr} {
		if err != nil && !errors.Is(err, ErrInvalidState) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	got, _ := svc.Get(ctx, b.ID)
	switch {
	case acceptErr == nil && cancelErr == nil:
		if got.Status != StatusCancelled {
			t.Fatalf("accept then cancel should end cancelled, got %s", got.Status)
		}
	case cancelErr == nil:
		if got.Status != StatusCancelled {
			t.Fatalf("expected cancelled, got %s", got.Status)
		}
	case acceptErr == nil:
		if got.Status != StatusAccepted {
			t.Fatalf("expected accepted after cancel lost the race, got %s", got.Status)
		}
	default:
		t.Fatal("at least one writer must win")
	}
}

func TestBookingCreateValidation(t *testing.T) {
	svc, _ := newTestService(t)
	cases := []CreateCommand{
		{ProviderID: "p1", ServiceID: 1},
		{CustomerID: "c1", ServiceID: 1},
		{CustomerID: "c1", ProviderID: "p1"},
		{CustomerID: "c1", ProviderID: "p1", ServiceID: 1, Location: types.Point{Lat: 91}},
		{CustomerID: "c1", ProviderID: "c1", ServiceID: 1},
	}
	for i, cmd := range cases {
		if _, err := svc.Create(context.Background(), cmd); !errors.Is(err, ErrBadRequest) {
			t.Errorf("case %d: expected ErrBadRequest, got %v", i, err)
		}
	}
}

func TestBookingCreateNotifiesProvider(t *testing.T) {
	store := newMemStore()
	n := &recordingNotifier{err: errors.New("fcm down")}
	svc := NewService(store, n, nil, nil)

	if _, err := svc.Create(context.Background(), CreateCommand{
		CustomerID: "c1", ProviderID: "p1", ServiceID: 1, Location: types.Point{Lat: 0, Lng: 0},
	}); err != nil {
		t.Fatalf("push failure must not fail creation: %v", err)
	}
	if len(n.sent) != 1 || n.sent[0] != "p1" {
		t.Fatalf("expected one push to p1, got %v", n.sent)
	}
}

func TestBookingReads(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	b := mustCreate(t, svc)

	if _, err := svc.GetFor(ctx, b.ID, stranger); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("stranger read: %v", err)
	}
	if _, err := svc.GetFor(ctx, b.ID, admin); err != nil {
		t.Errorf("admin read: %v", err)
	}
	if _, err := svc.GetFor(ctx, "missing", customer); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing read: %v", err)
	}

	mine, _ := svc.ListFor(ctx, customer)
	jobs, _ := svc.ListFor(ctx, provider)
	others, _ := svc.ListFor(ctx, stranger)
	if len(mine) != 1 || len(jobs) != 1 || len(others) != 0 {
		t.Errorf("list sizes: customer=%d provider=%d stranger=%d", len(mine), len(jobs), len(others))
	}

	if ok, _ := svc.IsMember(ctx, b.ID, provider.ID); !ok {
		t.Error("provider should be a member")
	}
	if ok, _ := svc.IsMember(ctx, b.ID, admin.ID); ok {
		t.Error("admin is not a chat member")
	}
	if ok, err := svc.IsMember(ctx, "missing", customer.ID); ok || err != nil {
		t.Errorf("missing booking membership: %v %v", ok, err)
	}
}

func TestRequireStatus(t *testing.T) {
	b := &Booking{ID: "b1", Status: StatusAccepted}
	if err := RequireStatus(b, StatusAccepted); err != nil {
		t.Fatal(err)
	}
	err := RequireStatus(b, StatusCompleted)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if !strings.Contains(err.Error(), "ACCEPTED") || !strings.Contains(err.Error(), "COMPLETED") {
		t.Errorf("unexpected message %q", err.Error())
	}
}
