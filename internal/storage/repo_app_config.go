package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/lachiem1/budgetbell/internal/ledger"
)

const (
	configPaydayReminders = "notifications.payday_reminders"
	configBillReminders   = "notifications.bill_reminders"
	configBudgetSavings   = "budget.savings_percent"
	configBudgetNeeds     = "budget.needs_percent"
	configBudgetWants     = "budget.wants_percent"
)

type AppConfigRepo struct {
	db *sql.DB
}

func NewAppConfigRepo(db *sql.DB) *AppConfigRepo {
	return &AppConfigRepo{db: db}
}

func (r *AppConfigRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM app_config WHERE key = ?", key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get app config %q: %w", key, err)
	}
	return value, true, nil
}

func (r *AppConfigRepo) UpsertMany(ctx context.Context, values map[string]string) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin app config upsert transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := formatTime(time.Now())
	for key, value := range values {
		if _, err = tx.ExecContext(
			ctx,
			`INSERT INTO app_config (key, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			key,
			value,
			now,
		); err != nil {
			return fmt.Errorf("upsert app config %q: %w", key, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit app config upsert transaction: %w", err)
	}
	return nil
}

// NotificationSettings falls back to the defaults for keys never saved.
func (r *AppConfigRepo) NotificationSettings(ctx context.Context) (ledger.NotificationSettings, error) {
	settings := ledger.DefaultNotificationSettings()
	var err error
	if settings.PaydayReminders, err = r.getBool(ctx, configPaydayReminders, settings.PaydayReminders); err != nil {
		return ledger.NotificationSettings{}, err
	}
	if settings.BillReminders, err = r.getBool(ctx, configBillReminders, settings.BillReminders); err != nil {
		return ledger.NotificationSettings{}, err
	}
	return settings, nil
}

func (r *AppConfigRepo) SaveNotificationSettings(ctx context.Context, s ledger.NotificationSettings) error {
	return r.UpsertMany(ctx, map[string]string{
		configPaydayReminders: strconv.FormatBool(s.PaydayReminders),
		configBillReminders:   strconv.FormatBool(s.BillReminders),
	})
}

func (r *AppConfigRepo) BudgetPlan(ctx context.Context) (ledger.BudgetPlan, error) {
	plan := ledger.DefaultBudgetPlan()
	var err error
	if plan.SavingsPercent, err = r.getInt(ctx, configBudgetSavings, plan.SavingsPercent); err != nil {
		return ledger.BudgetPlan{}, err
	}
	if plan.NeedsPercent, err = r.getInt(ctx, configBudgetNeeds, plan.NeedsPercent); err != nil {
		return ledger.BudgetPlan{}, err
	}
	if plan.WantsPercent, err = r.getInt(ctx, configBudgetWants, plan.WantsPercent); err != nil {
		return ledger.BudgetPlan{}, err
	}
	return plan, nil
}

func (r *AppConfigRepo) SaveBudgetPlan(ctx context.Context, plan ledger.BudgetPlan) error {
	if err := plan.Validate(); err != nil {
		return err
	}
	return r.UpsertMany(ctx, map[string]string{
		configBudgetSavings: strconv.Itoa(plan.SavingsPercent),
		configBudgetNeeds:   strconv.Itoa(plan.NeedsPercent),
		configBudgetWants:   strconv.Itoa(plan.WantsPercent),
	})
}

func (r *AppConfigRepo) getBool(ctx context.Context, key string, fallback bool) (bool, error) {
	raw, ok, err := r.Get(ctx, key)
	if err != nil || !ok {
		return fallback, err
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback, fmt.Errorf("parse app config %q: %w", key, err)
	}
	return v, nil
}

func (r *AppConfigRepo) getInt(ctx context.Context, key string, fallback int) (int, error) {
	raw, ok, err := r.Get(ctx, key)
	if err != nil || !ok {
		return fallback, err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, fmt.Errorf("parse app config %q: %w", key, err)
	}
	return v, nil
}
