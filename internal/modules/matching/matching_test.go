// README: Matching service tests: nearest selection, deterministic ties, eligibility and empty pools.
package matching

import (
	"context"
	"errors"
	"testing"

	"quickassist/internal/modules/booking"
	"quickassist/internal/types"
)

type fakePool []Candidate

func (f fakePool) ListEligible(_ context.Context, serviceID int64) ([]Candidate, error) {
	return f, nil
}

type fakeCatalog map[int64]bool

func (f fakeCatalog) ServiceExists(_ context.Context, id int64) (bool, error) {
	return f[id], nil
}

type recordingCreator struct {
	calls []booking.CreateCommand
}

func (r *recordingCreator) Create(_ context.Context, cmd booking.CreateCommand) (*booking.Booking, error) {
	r.calls = append(r.calls, cmd)
	return &booking.Booking{
		ID:         "b1",
		CustomerID: cmd.CustomerID,
		ProviderID: cmd.ProviderID,
		ServiceID:  cmd.ServiceID,
		Status:     booking.StatusPending,
		Location:   cmd.Location,
		DistanceKm: cmd.DistanceKm,
	}, nil
}

var customer = types.Principal{ID: "c1", Role: types.RoleCustomer}

func candidate(id string, serviceID int64, lat, lng float64) Candidate {
	sid := serviceID
	return Candidate{
		UserID:    types.ID(id),
		Verified:  true,
		OnDuty:    true,
		ServiceID: &sid,
		Location:  &types.Point{Lat: lat, Lng: lng},
	}
}

func TestSelectNearest(t *testing.T) {
	origin := types.Point{Lat: 0, Lng: 0}

	tests := []struct {
		name   string
		pool   []Candidate
		wantID types.ID
		wantOK bool
	}{
		{name: "empty pool", pool: nil, wantOK: false},
		{
			name:   "closest wins",
			pool:   []Candidate{candidate("p1", 1, 0, 0.02), candidate("p2", 1, 0, 0.01)},
			wantID: "p2", wantOK: true,
		},
		{
			name:   "tie goes to lower id regardless of order",
			pool:   []Candidate{candidate("p9", 1, 0, 0.01), candidate("p3", 1, 0.01, 0), candidate("p5", 1, 0, -0.01)},
			wantID: "p3", wantOK: true,
		},
		{
			name:   "unknown location skipped",
			pool:   []Candidate{{UserID: "p0"}, candidate("p4", 1, 1, 1)},
			wantID: "p4", wantOK: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, ok := SelectNearest(tt.pool, origin)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got.UserID != tt.wantID {
				t.Fatalf("selected %s, want %s", got.UserID, tt.wantID)
			}
		})
	}
}

func TestRequest_CreatesPendingBookingForNearest(t *testing.T) {
	creator := &recordingCreator{}
	pool := fakePool{
		candidate("far", 1, -1.30, 36.90),
		candidate("near", 1, -1.2925, 36.8220),
	}
	svc := NewService(pool, fakeCatalog{1: true}, creator, nil)

	m, err := svc.Request(context.Background(), customer, RequestCommand{
		ServiceID: 1,
		Location:  types.Point{Lat: -1.2921, Lng: 36.8219},
	})
	if err != nil {
		t.Fatal(err)
	}
	if m.ProviderID != "near" || m.Booking.Status != booking.StatusPending {
		t.Fatalf("unexpected match: %+v", m)
	}
	if m.DistanceKm <= 0 || m.DistanceKm > 0.1 {
		t.Errorf("distance = %f", m.DistanceKm)
	}
	if len(creator.calls) != 1 || creator.calls[0].ProviderID != "near" {
		t.Fatalf("expected one booking for near, got %+v", creator.calls)
	}
}

func TestRequest_FiltersIneligible(t *testing.T) {
	offDuty := candidate("offduty", 1, 0, 0)
	offDuty.OnDuty = false
	unverified := candidate("unverified", 1, 0, 0)
	unverified.Verified = false
	otherService := candidate("other", 2, 0, 0)
	self := candidate("c1", 1, 0, 0)

	creator := &recordingCreator{}
	svc := NewService(fakePool{offDuty, unverified, otherService, self, candidate("ok", 1, 5, 5)},
		fakeCatalog{1: true}, creator, nil)

	m, err := svc.Request(context.Background(), customer, RequestCommand{ServiceID: 1})
	if err != nil {
		t.Fatal(err)
	}
	if m.ProviderID != "ok" {
		t.Fatalf("selected %s, want ok", m.ProviderID)
	}
}

func TestRequest_Errors(t *testing.T) {
	creator := &recordingCreator{}
	ctx := context.Background()

	svc := NewService(fakePool{}, fakeCatalog{1: true}, creator, nil)
	if _, err := svc.Request(ctx, customer, RequestCommand{ServiceID: 1}); !errors.Is(err, ErrNoAvailableProvider) {
		t.Errorf("empty pool: %v", err)
	}
	if _, err := svc.Request(ctx, customer, RequestCommand{ServiceID: 42}); !errors.Is(err, ErrUnknownService) {
		t.Errorf("unknown service: %v", err)
	}
	if _, err := svc.Request(ctx, customer, RequestCommand{ServiceID: 1, Location: types.Point{Lat: 100}}); !errors.Is(err, ErrBadLocation) {
		t.Errorf("bad location: %v", err)
	}
	prov := types.Principal{ID: "p1", Role: types.RoleProvider}
	if _, err := svc.Request(ctx, prov, RequestCommand{ServiceID: 1}); !errors.Is(err, ErrNotCustomer) {
		t.Errorf("provider requesting: %v", err)
	}
	if len(creator.calls) != 0 {
		t.Fatalf("no booking may be created on failure, got %d", len(creator.calls))
	}
}

func TestRequest_Deterministic(t *testing.T) {
	pool := fakePool{candidate("p2", 1, 0, 0.01), candidate("p1", 1, 0, -0.01)}
	for i := 0; i < 20; i++ {
		creator := &recordingCreator{}
		svc := NewService(pool, fakeCatalog{1: true}, creator, nil)
		m, err := svc.Request(context.Background(), customer, RequestCommand{ServiceID: 1})
		if err != nil {
			t.Fatal(err)
		}
		if m.ProviderID != "p1" {
			t.Fatalf("run %d selected %s, want p1", i, m.ProviderID)
		}
	}
}
