package user

import (
	"context"
	"errors"
	"sync"
	"testing"

	"quickassist/internal/types"
)

type memStore struct {
	mu          sync.Mutex
	users       map[types.ID]*User
	provisioned map[types.ID]bool
}

func newMemStore() *memStore {
	return &memStore{users: map[types.ID]*User{}, provisioned: map[types.ID]bool{}}
}

func (m *memStore) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; ok {
		return ErrAlreadyRegistered
	}
	u.IsActive = true
	cp := *u
	m.users[u.ID] = &cp
	if u.Role == types.RoleProvider {
		m.provisioned[u.ID] = true
	}
	return nil
}

func (m *memStore) Get(_ context.Context, id types.ID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) List(_ context.Context, role types.Role, _ int) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []User
	for _, u := range m.users {
		if role == "" || u.Role == role {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (m *memStore) UpdateContact(_ context.Context, id types.ID, phone, token *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	if phone != nil {
		u.PhoneNumber = *phone
	}
	if token != nil {
		u.DeviceToken = *token
	}
	return nil
}

func (m *memStore) SetRole(_ context.Context, id types.ID, role types.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Role = role
	if role == types.RoleProvider {
		m.provisioned[id] = true
	}
	return nil
}

func (m *memStore) SetActive(_ context.Context, id types.ID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.IsActive = active
	return nil
}

var admin = types.Principal{ID: "a1", Role: types.RoleAdmin}

func TestRegister(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil)
	ctx := context.Background()

	u, err := svc.Register(ctx, RegisterCommand{UID: "c1", Name: " Amina "})
	if err != nil {
		t.Fatal(err)
	}
	if u.Role != types.RoleCustomer || u.Name != "Amina" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if store.provisioned["c1"] {
		t.Error("customer must not get a provider profile")
	}

	if _, err := svc.Register(ctx, RegisterCommand{UID: "p1", Name: "Juma", Role: types.RoleProvider}); err != nil {
		t.Fatal(err)
	}
	if !store.provisioned["p1"] {
		t.Error("provider registration must provision a profile")
	}

	if _, err := svc.Register(ctx, RegisterCommand{UID: "c1", Name: "Again"}); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("expected ErrAlreadyRegistered, got %v", err)
	}
	if _, err := svc.Register(ctx, RegisterCommand{UID: "x", Name: "Eve", Role: types.RoleAdmin}); !errors.Is(err, ErrBadRequest) {
		t.Errorf("self-registering as admin: %v", err)
	}
	if _, err := svc.Register(ctx, RegisterCommand{UID: "y"}); !errors.Is(err, ErrBadRequest) {
		t.Errorf("missing name: %v", err)
	}
}

func TestPrincipalRejectsSuspended(t *testing.T) {
	svc := NewService(newMemStore(), nil)
	ctx := context.Background()
	_, _ = svc.Register(ctx, RegisterCommand{UID: "c1", Name: "Amina"})

	p, err := svc.Principal(ctx, "c1")
	if err != nil || p.Role != types.RoleCustomer {
		t.Fatalf("principal: %+v %v", p, err)
	}
	if _, err := svc.SetActive(ctx, admin, "c1", false); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Principal(ctx, "c1"); !errors.Is(err, ErrInactive) {
		t.Fatalf("expected ErrInactive, got %v", err)
	}
	if _, err := svc.Principal(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAdminOperations(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, nil)
	ctx := context.Background()
	_, _ = svc.Register(ctx, RegisterCommand{UID: "c1", Name: "Amina"})
	customer := types.Principal{ID: "c1", Role: types.RoleCustomer}

	if _, err := svc.List(ctx, customer, ""); !errors.Is(err, ErrForbidden) {
		t.Errorf("customer list: %v", err)
	}
	if _, err := svc.SetRole(ctx, customer, "c1", types.RoleAdmin); !errors.Is(err, ErrForbidden) {
		t.Errorf("customer promote: %v", err)
	}
	if _, err := svc.SetRole(ctx, admin, "c1", "ROOT"); !errors.Is(err, ErrBadRequest) {
		t.Errorf("unknown role: %v", err)
	}

	u, err := svc.SetRole(ctx, admin, "c1", types.RoleProvider)
	if err != nil {
		t.Fatal(err)
	}
	if u.Role != types.RoleProvider || !store.provisioned["c1"] {
		t.Fatalf("promotion to provider must provision a profile: %+v", u)
	}
	if _, err := svc.SetActive(ctx, admin, admin.ID, false); !errors.Is(err, ErrBadRequest) {
		t.Errorf("admin suspending self: %v", err)
	}

	list, err := svc.List(ctx, admin, types.RoleProvider)
	if err != nil || len(list) != 1 {
		t.Fatalf("list providers: %v %d", err, len(list))
	}
}

func TestContactLookups(t *testing.T) {
	svc := NewService(newMemStore(), nil)
	ctx := context.Background()
	_, _ = svc.Register(ctx, RegisterCommand{UID: "c1", Name: "Amina", PhoneNumber: "0712345678"})

	token := "fcm-token"
	phone := " 0722000000 "
	if _, err := svc.UpdateContact(ctx, "c1", &phone, &token); err != nil {
		t.Fatal(err)
	}
	if got, _ := svc.PhoneNumber(ctx, "c1"); got != "0722000000" {
		t.Errorf("phone = %q", got)
	}
	if got, _ := svc.DeviceToken(ctx, "c1"); got != token {
		t.Errorf("token = %q", got)
	}
}
