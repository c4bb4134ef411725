package auth

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"

	"schooldesk/auth-identity/internal/model"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

const (
	ErrTokenExpired = errors.ConstError("token expired")
	ErrTokenInvalid = errors.ConstError("invalid token")
)

// Identity is what a token asserts about its bearer.
type Identity struct {
	AccountID int64
	Email     string
	Role      model.Role
}

type Claims struct {
	AccountID int64      `json:"id"`
	Email     string     `json:"email"`
	Role      model.Role `json:"role"`
	Type      string     `json:"typ"`
	jwt.RegisteredClaims
}

func (c *Claims) Identity() Identity {
	return Identity{AccountID: c.AccountID, Email: c.Email, Role: c.Role}
}

type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Pair is the token bundle handed to a client after login, registration or refresh.
type Pair struct {
	AccessToken  string `json:"token"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// Tokens signs and verifies HS256 access and refresh tokens. Each kind has its
// own secret so a refresh token is never accepted as an access token.
type Tokens struct {
	cfg   TokenConfig
	clock clock.Clock
}

func NewTokens(cfg TokenConfig, clk clock.Clock) (*Tokens, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, errors.NotValidf("token secrets must be set")
	}
	if cfg.AccessSecret == cfg.RefreshSecret {
		return nil, errors.NotValidf("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.NotValidf("token ttl must be positive")
	}
	if clk == nil {
		clk = clock.WallClock
	}
	return &Tokens{cfg: cfg, clock: clk}, nil
}

func (t *Tokens) IssueAccess(id Identity) (string, error) {
	return t.sign(id, TypeAccess, t.cfg.AccessSecret, t.cfg.AccessTTL)
}

func (t *Tokens) IssueRefresh(id Identity) (string, error) {
	return t.sign(id, TypeRefresh, t.cfg.RefreshSecret, t.cfg.RefreshTTL)
}

func (t *Tokens) IssuePair(id Identity) (Pair, error) {
	access, err := t.IssueAccess(id)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := t.IssueRefresh(id)
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(t.cfg.AccessTTL / time.Second),
	}, nil
}

func (t *Tokens) ParseAccess(token string) (*Claims, error) {
	return t.parse(token, TypeAccess, t.cfg.AccessSecret)
}

func (t *Tokens) ParseRefresh(token string) (*Claims, error) {
	return t.parse(token, TypeRefresh, t.cfg.RefreshSecret)
}

func (t *Tokens) sign(id Identity, typ, secret string, ttl time.Duration) (string, error) {
	now := t.clock.Now().UTC()
	claims := Claims{
		AccountID: id.AccountID,
		Email:     id.Email,
		Role:      id.Role,
		Type:      typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(id.AccountID, 10),
			Issuer:    t.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", errors.Annotatef(err, "sign %s token", typ)
	}
	return signed, nil
}

func (t *Tokens) parse(tokenString, typ, secret string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.clock.Now),
	}
	if t.cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(t.cfg.Issuer))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, options...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid || claims.Type != typ || claims.AccountID <= 0 || !claims.Role.Valid() {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}
