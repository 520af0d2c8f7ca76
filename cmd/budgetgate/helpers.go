package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/budgetgate/internal/api"
	"github.com/Veraticus/budgetgate/internal/budget"
	"github.com/Veraticus/budgetgate/internal/conflict"
	"github.com/Veraticus/budgetgate/internal/document"
	"github.com/Veraticus/budgetgate/internal/ledgerimport"
	"github.com/Veraticus/budgetgate/internal/metrics"
	"github.com/Veraticus/budgetgate/internal/model"
	"github.com/Veraticus/budgetgate/internal/registry"
	"github.com/Veraticus/budgetgate/internal/service"
	"github.com/Veraticus/budgetgate/internal/storage"
	"github.com/Veraticus/budgetgate/internal/validator"
)

// initStorage opens the configured database and brings its schema up to date.
func initStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(cfg.Database.Path, storage.WithQueryTimeout(cfg.Database.QueryTimeout))
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// application bundles storage with every service wired the same way the server uses them.
type application struct {
	store    *storage.SQLiteStorage
	computer *metrics.Computer
	services api.Services
}

// newApplication wires the services. publisher may be nil when no broker is configured.
func newApplication(ctx context.Context, publisher service.EventPublisher) (*application, error) {
	store, err := initStorage(ctx)
	if err != nil {
		return nil, err
	}

	computer := metrics.NewComputer(store, cfg.Metrics.CacheTTL)
	return &application{
		store:    store,
		computer: computer,
		services: api.Services{
			Registry:  registry.New(store),
			Budgets:   budget.NewLedger(store, computer),
			Metrics:   computer,
			Validator: validator.NewService(store, computer, cfg.Validation.PreviewPolicy),
			Documents: document.NewService(store),
			Conflicts: conflict.NewResolver(store, computer, publisher),
			Ledger:    ledgerimport.NewImporter(store, computer),
		},
	}, nil
}

func (a *application) Close() {
	a.computer.Close()
	_ = a.store.Close()
}

// parseLineSpec parses ACCOUNT_ID:TYPE:AMOUNT, e.g. 3:EXPENSE:100000.
func parseLineSpec(spec string) (model.BudgetLine, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 3 {
		return model.BudgetLine{}, fmt.Errorf("invalid line %q: want ACCOUNT_ID:TYPE:AMOUNT", spec)
	}

	accountID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || accountID <= 0 {
		return model.BudgetLine{}, fmt.Errorf("invalid line %q: bad account id", spec)
	}

	lineType := model.LineType(strings.ToUpper(parts[1]))
	if !lineType.Valid() {
		return model.BudgetLine{}, fmt.Errorf("invalid line %q: type must be EXPENSE or INCOME", spec)
	}

	amount, err := decimal.NewFromString(parts[2])
	if err != nil {
		return model.BudgetLine{}, fmt.Errorf("invalid line %q: bad amount: %w", spec, err)
	}

	return model.BudgetLine{
		AccountID:     accountID,
		Type:          lineType,
		PlannedAmount: amount,
		IsMonetary:    true,
	}, nil
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}
