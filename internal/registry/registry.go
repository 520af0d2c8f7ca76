// Package registry is the read model of analytical accounts (cost centers).
// Budgets, documents and suggestions reference accounts by ID; only the
// registry creates or deactivates them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/budgetgate/internal/common"
	"github.com/Veraticus/budgetgate/internal/model"
	"github.com/Veraticus/budgetgate/internal/service"
)

// AccountGetter is the slice of storage needed to resolve accounts. Both
// service.Storage and service.Transaction satisfy it.
type AccountGetter interface {
	GetAccount(ctx context.Context, id int64) (*model.AnalyticalAccount, error)
}

// Registry manages analytical accounts.
type Registry struct {
	storage service.Storage
}

// New creates a registry backed by storage.
func New(storage service.Storage) *Registry {
	return &Registry{storage: storage}
}

// Create registers a new active account. Codes are unique.
func (r *Registry) Create(ctx context.Context, code, name string) (*model.AnalyticalAccount, error) {
	code = strings.TrimSpace(code)
	name = strings.TrimSpace(name)
	if code == "" {
		return nil, common.NewValidationError("code", "account code is required")
	}
	if name == "" {
		return nil, common.NewValidationError("name", "account name is required")
	}

	account, err := r.storage.CreateAccount(ctx, code, name)
	if errors.Is(err, common.ErrDuplicateEntry) {
		return nil, common.NewValidationError("code", "account code %q already exists", code)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	slog.Info("Created analytical account", "account_id", account.ID, "code", account.Code)
	return account, nil
}

// Get returns an account, active or not.
func (r *Registry) Get(ctx context.Context, id int64) (*model.AnalyticalAccount, error) {
	var account *model.AnalyticalAccount
	err := common.WithRetry(ctx, func() error {
		var err error
		account, err = r.storage.GetAccount(ctx, id)
		return err
	}, common.DefaultRetryOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if account == nil {
		return nil, fmt.Errorf("analytical account %d: %w", id, common.ErrNotFound)
	}
	return account, nil
}

// List returns accounts ordered by code.
func (r *Registry) List(ctx context.Context, activeOnly bool) ([]model.AnalyticalAccount, error) {
	var accounts []model.AnalyticalAccount
	err := common.WithRetry(ctx, func() error {
		var err error
		accounts, err = r.storage.ListAccounts(ctx, activeOnly)
		return err
	}, common.DefaultRetryOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// Deactivate hides an account from new allocations. Existing budget lines and
// document lines keep referencing it.
func (r *Registry) Deactivate(ctx context.Context, id int64) (*model.AnalyticalAccount, error) {
	return r.setActive(ctx, id, false)
}

// Activate makes an account selectable again.
func (r *Registry) Activate(ctx context.Context, id int64) (*model.AnalyticalAccount, error) {
	return r.setActive(ctx, id, true)
}

func (r *Registry) setActive(ctx context.Context, id int64, active bool) (*model.AnalyticalAccount, error) {
	if err := r.storage.SetAccountActive(ctx, id, active); err != nil {
		return nil, fmt.Errorf("failed to update account: %w", err)
	}
	slog.Info("Updated analytical account", "account_id", id, "active", active)
	return r.Get(ctx, id)
}

// RequireActive resolves an account for a new allocation. Unknown and inactive
// accounts are reported as validation errors against field.
func RequireActive(ctx context.Context, getter AccountGetter, id int64, field string) (*model.AnalyticalAccount, error) {
	if id <= 0 {
		return nil, common.NewValidationError(field, "analytical account is required")
	}

	account, err := getter.GetAccount(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if account == nil {
		return nil, common.NewValidationError(field, "analytical account %d does not exist", id)
	}
	if !account.IsActive {
		return nil, common.NewValidationError(field, "analytical account %s is inactive", account.Code)
	}
	return account, nil
}
