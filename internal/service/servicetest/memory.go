// Package servicetest provides an in-memory credential store for tests.
package servicetest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"

	"schooldesk/auth-identity/internal/model"
)

// MemoryStore mirrors the Postgres store's semantics, including all-or-nothing
// account creation. Set a method name in Fail to make that call return an error.
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	roles    map[model.Role]int64
	accounts map[int64]model.Account
	profiles map[int64]model.Profile
	parents  map[int64]int64
	Fail     map[string]error
	Calls    map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roles: map[model.Role]int64{
			model.RoleAdmin:   1,
			model.RoleTeacher: 2,
			model.RoleParent:  3,
			model.RoleStudent: 4,
		},
		accounts: map[int64]model.Account{},
		profiles: map[int64]model.Profile{},
		parents:  map[int64]int64{},
		Fail:     map[string]error{},
		Calls:    map[string]int{},
	}
}

// Count returns the number of stored accounts.
func (m *MemoryStore) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.accounts)
}

// RemoveRole simulates a roles table missing a row.
func (m *MemoryStore) RemoveRole(role model.Role) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.roles, role)
}

func (m *MemoryStore) call(name string) error {
	m.Calls[name]++
	return m.Fail[name]
}

func (m *MemoryStore) EmailExists(_ context.Context, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("EmailExists"); err != nil {
		return false, err
	}
	_, ok := m.byEmail(email)
	return ok, nil
}

func (m *MemoryStore) RoleID(_ context.Context, role model.Role) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("RoleID"); err != nil {
		return 0, err
	}
	id, ok := m.roles[role]
	if !ok {
		return 0, errors.NotFoundf("role %q", role)
	}
	return id, nil
}

func (m *MemoryStore) GetActiveAccountByEmail(_ context.Context, email string) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("GetActiveAccountByEmail"); err != nil {
		return model.Account{}, err
	}
	account, ok := m.byEmail(email)
	if !ok || !account.Active {
		return model.Account{}, errors.NotFoundf("account %q", email)
	}
	return account, nil
}

func (m *MemoryStore) GetAccountByID(_ context.Context, id int64) (model.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("GetAccountByID"); err != nil {
		return model.Account{}, err
	}
	account, ok := m.accounts[id]
	if !ok {
		return model.Account{}, errors.NotFoundf("account %d", id)
	}
	return account, nil
}

func (m *MemoryStore) GetProfile(_ context.Context, accountID int64, role model.Role) (model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("GetProfile"); err != nil {
		return nil, err
	}
	profile, ok := m.profiles[accountID]
	if !ok || profile.Role() != role {
		return nil, nil
	}
	return profile, nil
}

func (m *MemoryStore) CreateAccount(_ context.Context, account model.NewAccount, profile model.Profile) (model.Account, model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call("CreateAccount"); err != nil {
		return model.Account{}, nil, err
	}
	if _, ok := m.byEmail(account.Email); ok {
		return model.Account{}, nil, errors.AlreadyExistsf("email")
	}
	if student, ok := profile.(*model.StudentProfile); ok && student.ParentID != nil {
		if _, found := m.parents[*student.ParentID]; !found {
			return model.Account{}, nil, errors.BadRequestf("parent not found")
		}
	}

	m.nextID++
	now := time.Now().UTC()
	created := model.Account{
		ID:           m.nextID,
		Email:        strings.ToLower(account.Email),
		PasswordHash: account.PasswordHash,
		RoleID:       account.RoleID,
		Role:         account.Role,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.accounts[created.ID] = created

	switch p := profile.(type) {
	case *model.StudentProfile:
		p.ID, p.AccountID, p.CreatedAt, p.UpdatedAt = created.ID, created.ID, now, now
	case *model.TeacherProfile:
		p.ID, p.AccountID, p.CreatedAt, p.UpdatedAt = created.ID, created.ID, now, now
	case *model.ParentProfile:
		p.ID, p.AccountID, p.CreatedAt, p.UpdatedAt = created.ID, created.ID, now, now
		m.parents[p.ID] = created.ID
	}
	if profile != nil {
		m.profiles[created.ID] = profile
	}
	return created, profile, nil
}

func (m *MemoryStore) TouchLastLogin(_ context.Context, id int64, at time.Time) error {
	return m.update("TouchLastLogin", id, func(a *model.Account) {
		a.LastLogin = &at
		a.UpdatedAt = at
	})
}

func (m *MemoryStore) TouchLogout(_ context.Context, id int64, at time.Time) error {
	return m.update("TouchLogout", id, func(a *model.Account) { a.UpdatedAt = at })
}

func (m *MemoryStore) UpdatePassword(_ context.Context, id int64, hash string, at time.Time) error {
	return m.update("UpdatePassword", id, func(a *model.Account) {
		a.PasswordHash = hash
		a.UpdatedAt = at
	})
}

func (m *MemoryStore) SetActive(_ context.Context, id int64, active bool, at time.Time) error {
	return m.update("SetActive", id, func(a *model.Account) {
		a.Active = active
		a.UpdatedAt = at
	})
}

func (m *MemoryStore) update(name string, id int64, fn func(*model.Account)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.call(name); err != nil {
		return err
	}
	account, ok := m.accounts[id]
	if !ok {
		return errors.NotFoundf("account %d", id)
	}
	fn(&account)
	m.accounts[id] = account
	return nil
}

func (m *MemoryStore) byEmail(email string) (model.Account, bool) {
	for _, account := range m.accounts {
		if strings.EqualFold(account.Email, email) {
			return account, true
		}
	}
	return model.Account{}, false
}
