package service

import (
	"context"
	"encoding/json"
	"net/mail"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/sirupsen/logrus"

	"schooldesk/auth-identity/internal/auth"
	"schooldesk/auth-identity/internal/crypto"
	"schooldesk/auth-identity/internal/model"
)

const (
	ErrInvalidCredentials = errors.ConstError("invalid email or password")
	ErrAccountNotFound    = errors.ConstError("account not found")
)

// Store is the persistence the auth flows depend on.
type Store interface {
	EmailExists(ctx context.Context, email string) (bool, error)
	RoleID(ctx context.Context, role model.Role) (int64, error)
	GetActiveAccountByEmail(ctx context.Context, email string) (model.Account, error)
	GetAccountByID(ctx context.Context, id int64) (model.Account, error)
	GetProfile(ctx context.Context, accountID int64, role model.Role) (model.Profile, error)
	CreateAccount(ctx context.Context, account model.NewAccount, profile model.Profile) (model.Account, model.Profile, error)
	TouchLastLogin(ctx context.Context, id int64, at time.Time) error
	TouchLogout(ctx context.Context, id int64, at time.Time) error
	UpdatePassword(ctx context.Context, id int64, hash string, at time.Time) error
	SetActive(ctx context.Context, id int64, active bool, at time.Time) error
}

type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(hash, plain string) bool
}

// EventRecorder receives one call per auth event with its outcome.
type EventRecorder interface {
	AuthEvent(event, outcome string)
}

type noopRecorder struct{}

func (noopRecorder) AuthEvent(string, string) {}

type Options struct {
	Store    Store
	Hasher   PasswordHasher
	Tokens   *auth.Tokens
	Clock    clock.Clock
	Logger   logrus.FieldLogger
	Recorder EventRecorder
}

type AuthService struct {
	store    Store
	hasher   PasswordHasher
	tokens   *auth.Tokens
	clock    clock.Clock
	log      logrus.FieldLogger
	recorder EventRecorder
}

func NewAuthService(opts Options) *AuthService {
	svc := &AuthService{
		store:    opts.Store,
		hasher:   opts.Hasher,
		tokens:   opts.Tokens,
		clock:    opts.Clock,
		log:      opts.Logger,
		recorder: opts.Recorder,
	}
	if svc.clock == nil {
		svc.clock = clock.WallClock
	}
	if svc.log == nil {
		svc.log = logrus.StandardLogger()
	}
	if svc.recorder == nil {
		svc.recorder = noopRecorder{}
	}
	return svc
}

type RegisterInput struct {
	Email    string          `json:"email"`
	Password string          `json:"password"`
	Role     string          `json:"role"`
	Profile  json.RawMessage `json:"profile"`
}

type ChangePasswordInput struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

// AccountView is an account together with its role-specific profile.
type AccountView struct {
	Account model.Account `json:"user"`
	Profile model.Profile `json:"profile"`
}

// Session is an AccountView plus a freshly issued token pair.
type Session struct {
	AccountView
	Tokens auth.Pair
}

// Register creates an account and its profile, then signs the caller in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (Session, error) {
	view, err := s.provision(ctx, in, "register")
	if err != nil {
		return Session{}, err
	}
	pair, err := s.tokens.IssuePair(identityOf(view.Account))
	if err != nil {
		return Session{}, errors.Annotate(err, "issue tokens")
	}
	return Session{AccountView: view, Tokens: pair}, nil
}

// Provision creates an account on behalf of an administrator. No tokens are issued.
func (s *AuthService) Provision(ctx context.Context, in RegisterInput) (AccountView, error) {
	return s.provision(ctx, in, "provision")
}

func (s *AuthService) provision(ctx context.Context, in RegisterInput, event string) (view AccountView, err error) {
	defer func() { s.recorder.AuthEvent(event, outcome(err)) }()

	email, err := normalizeEmail(in.Email)
	if err != nil {
		return AccountView{}, err
	}
	if err := crypto.ValidatePassword(in.Password); err != nil {
		return AccountView{}, err
	}
	role, err := model.ParseRole(in.Role)
	if err != nil {
		return AccountView{}, err
	}
	profile, err := model.DecodeProfile(role, in.Profile)
	if err != nil {
		return AccountView{}, err
	}

	exists, err := s.store.EmailExists(ctx, email)
	if err != nil {
		return AccountView{}, errors.Trace(err)
	}
	if exists {
		return AccountView{}, errors.AlreadyExistsf("email %s", email)
	}

	roleID, err := s.store.RoleID(ctx, role)
	if err != nil {
		if errors.Is(err, errors.NotFound) {
			return AccountView{}, errors.BadRequestf("invalid role %q", in.Role)
		}
		return AccountView{}, errors.Trace(err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return AccountView{}, errors.Annotate(err, "hash password")
	}

	account, saved, err := s.store.CreateAccount(ctx, model.NewAccount{
		Email:        email,
		PasswordHash: hash,
		RoleID:       roleID,
		Role:         role,
	}, profile)
	if err != nil {
		return AccountView{}, errors.Trace(err)
	}

	s.log.WithFields(logrus.Fields{"account_id": account.ID, "role": account.Role, "event": event}).Info("account created")
	return AccountView{Account: account, Profile: saved}, nil
}

// Login never reveals whether the email or the password was wrong.
func (s *AuthService) Login(ctx context.Context, email, password string) (session Session, err error) {
	defer func() { s.recorder.AuthEvent("login", outcome(err)) }()

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return Session{}, ErrInvalidCredentials
	}

	account, err := s.store.GetActiveAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, errors.NotFound) {
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, errors.Trace(err)
	}
	if !s.hasher.Verify(account.PasswordHash, password) {
		return Session{}, ErrInvalidCredentials
	}

	now := s.clock.Now().UTC()
	if err := s.store.TouchLastLogin(ctx, account.ID, now); err != nil {
		s.log.WithError(err).WithField("account_id", account.ID).Warn("update last login")
	} else {
		account.LastLogin = &now
	}

	profile, err := s.store.GetProfile(ctx, account.ID, account.Role)
	if err != nil {
		return Session{}, errors.Trace(err)
	}
	pair, err := s.tokens.IssuePair(identityOf(account))
	if err != nil {
		return Session{}, errors.Annotate(err, "issue tokens")
	}
	return Session{AccountView: AccountView{Account: account, Profile: profile}, Tokens: pair}, nil
}

// Refresh exchanges a refresh token for a new pair. The new tokens carry the
// claims of the presented one; only the account's existence and active flag
// are re-checked.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (pair auth.Pair, err error) {
	defer func() { s.recorder.AuthEvent("refresh", outcome(err)) }()

	claims, err := s.tokens.ParseRefresh(strings.TrimSpace(refreshToken))
	if err != nil {
		return auth.Pair{}, err
	}
	if _, err := s.activeAccount(ctx, claims.AccountID); err != nil {
		return auth.Pair{}, err
	}
	pair, err = s.tokens.IssuePair(claims.Identity())
	if err != nil {
		return auth.Pair{}, errors.Annotate(err, "issue tokens")
	}
	return pair, nil
}

// Authenticate verifies an access token and resolves the active account behind it.
func (s *AuthService) Authenticate(ctx context.Context, token string) (model.Account, error) {
	claims, err := s.tokens.ParseAccess(token)
	if err != nil {
		return model.Account{}, err
	}
	return s.activeAccount(ctx, claims.AccountID)
}

// Logout only records the event. Issued tokens stay valid until they expire.
func (s *AuthService) Logout(ctx context.Context, accountID int64) error {
	err := s.store.TouchLogout(ctx, accountID, s.clock.Now().UTC())
	s.recorder.AuthEvent("logout", outcome(err))
	if err != nil {
		return errors.Trace(err)
	}
	s.log.WithField("account_id", accountID).Info("logged out")
	return nil
}

func (s *AuthService) Me(ctx context.Context, accountID int64) (AccountView, error) {
	account, err := s.activeAccount(ctx, accountID)
	if err != nil {
		return AccountView{}, err
	}
	return s.withProfile(ctx, account)
}

// GetAccount returns any account, active or not.
func (s *AuthService) GetAccount(ctx context.Context, accountID int64) (AccountView, error) {
	account, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		return AccountView{}, errors.Trace(err)
	}
	return s.withProfile(ctx, account)
}

// Exists reports whether an active account with this id exists.
func (s *AuthService) Exists(ctx context.Context, accountID int64) (bool, error) {
	_, err := s.activeAccount(ctx, accountID)
	if errors.Is(err, ErrAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *AuthService) ChangePassword(ctx context.Context, accountID int64, in ChangePasswordInput) (err error) {
	defer func() { s.recorder.AuthEvent("change_password", outcome(err)) }()

	if in.CurrentPassword == "" || in.NewPassword == "" {
		return errors.BadRequestf("current and new password are required")
	}
	if in.NewPassword != in.ConfirmPassword {
		return errors.BadRequestf("new password and confirmation do not match")
	}
	if err := crypto.ValidatePassword(in.NewPassword); err != nil {
		return err
	}

	account, err := s.activeAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if !s.hasher.Verify(account.PasswordHash, in.CurrentPassword) {
		return errors.Unauthorizedf("current password is incorrect")
	}
	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return errors.Annotate(err, "hash password")
	}
	if err := s.store.UpdatePassword(ctx, accountID, hash, s.clock.Now().UTC()); err != nil {
		return errors.Trace(err)
	}
	s.log.WithField("account_id", accountID).Info("password changed")
	return nil
}

// Deactivate soft-deletes an account. Every token it holds stops verifying.
func (s *AuthService) Deactivate(ctx context.Context, actorID, accountID int64) error {
	if actorID == accountID {
		return errors.BadRequestf("cannot deactivate your own account")
	}
	return s.setActive(ctx, actorID, accountID, false)
}

func (s *AuthService) Activate(ctx context.Context, actorID, accountID int64) error {
	return s.setActive(ctx, actorID, accountID, true)
}

func (s *AuthService) setActive(ctx context.Context, actorID, accountID int64, active bool) error {
	if err := s.store.SetActive(ctx, accountID, active, s.clock.Now().UTC()); err != nil {
		return errors.Trace(err)
	}
	s.log.WithFields(logrus.Fields{"account_id": accountID, "actor_id": actorID, "active": active}).Info("account status changed")
	return nil
}

func (s *AuthService) activeAccount(ctx context.Context, accountID int64) (model.Account, error) {
	account, err := s.store.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, errors.NotFound) {
			return model.Account{}, ErrAccountNotFound
		}
		return model.Account{}, errors.Trace(err)
	}
	if !account.Active {
		return model.Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (s *AuthService) withProfile(ctx context.Context, account model.Account) (AccountView, error) {
	profile, err := s.store.GetProfile(ctx, account.ID, account.Role)
	if err != nil {
		return AccountView{}, errors.Trace(err)
	}
	return AccountView{Account: account, Profile: profile}, nil
}

func identityOf(account model.Account) auth.Identity {
	return auth.Identity{AccountID: account.ID, Email: account.Email, Role: account.Role}
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", errors.BadRequestf("email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return "", errors.BadRequestf("invalid email %q", raw)
	}
	return email, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrAccountNotFound),
		errors.Is(err, auth.ErrTokenExpired), errors.Is(err, auth.ErrTokenInvalid),
		errors.Is(err, errors.Unauthorized):
		return "denied"
	case errors.Is(err, errors.BadRequest), errors.Is(err, errors.AlreadyExists), errors.Is(err, errors.NotValid):
		return "rejected"
	default:
		return "error"
	}
}
