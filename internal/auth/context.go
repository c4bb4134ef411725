package auth

import (
	"context"

	"schooldesk/auth-identity/internal/model"
)

type identityKey struct{}

type identity struct {
	account *model.Account
}

// WithIdentity attaches the authenticated account to ctx.
func WithIdentity(ctx context.Context, account *model.Account) context.Context {
	return context.WithValue(ctx, identityKey{}, identity{account: account})
}

func AccountFrom(ctx context.Context) (*model.Account, bool) {
	value, ok := ctx.Value(identityKey{}).(identity)
	if !ok || value.account == nil {
		return nil, false
	}
	return value.account, true
}

func AccountIDFrom(ctx context.Context) (int64, bool) {
	account, ok := AccountFrom(ctx)
	if !ok {
		return 0, false
	}
	return account.ID, true
}

func RoleFrom(ctx context.Context) (model.Role, bool) {
	account, ok := AccountFrom(ctx)
	if !ok || account.Role == "" {
		return "", false
	}
	return account.Role, true
}
