package app

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/lachiem1/budgetbell/internal/dispatch"
	"github.com/lachiem1/budgetbell/internal/keychain"
	"github.com/lachiem1/budgetbell/internal/ledger"
	"github.com/lachiem1/budgetbell/internal/recurrence"
	"github.com/lachiem1/budgetbell/internal/reminder"
	"github.com/lachiem1/budgetbell/internal/storage"
	"github.com/lachiem1/budgetbell/internal/workflow"
	"github.com/shopspring/decimal"
)

var testNow = time.Date(2024, time.March, 10, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "budgetbell.db")
	db, err := storage.OpenWithConfig(context.Background(), storage.Config{Mode: storage.ModePlain, Path: path})
	if err != nil {
		t.Fatalf("OpenWithConfig() unexpected error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type testEnv struct {
	svc   *Service
	queue *storage.ReminderQueue
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	db := openTestDB(t)
	queue := storage.NewReminderQueue(db)
	svc, err := NewService(Deps{
		DB:       db,
		Notifier: queue,
		Location: time.UTC,
		Now:      func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewService() unexpected error: %v", err)
	}
	return testEnv{svc: svc, queue: queue}
}

func salaryInput() ledger.ItemInput {
	return ledger.ItemInput{
		Kind:       ledger.KindIncome,
		Label:      "Salary",
		Amount:     decimal.RequireFromString("2500"),
		Frequency:  "biweekly",
		AnchorDate: recurrence.Date(2024, time.March, 15),
	}
}

func rentInput() ledger.ItemInput {
	return ledger.ItemInput{
		Kind:       ledger.KindExpense,
		Label:      "Rent",
		Amount:     decimal.RequireFromString("1200"),
		Frequency:  "monthly",
		AnchorDate: recurrence.Date(2024, time.March, 20),
		Category:   "Housing",
	}
}

func liveReminders(t *testing.T, q *storage.ReminderQueue) []reminder.Scheduled {
	t.Helper()
	live, err := q.List(context.Background())
	if err != nil {
		t.Fatalf("List() unexpected error: %v", err)
	}
	return live
}

func TestAddItemSchedulesReminder(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	it, err := env.svc.AddItem(ctx, salaryInput())
	if err != nil {
		t.Fatalf("AddItem() unexpected error: %v", err)
	}

	live := liveReminders(t, env.queue)
	if len(live) != 1 {
		t.Fatalf("live reminders = %d, want 1", len(live))
	}
	want := time.Date(2024, time.March, 15, 9, 0, 0, 0, time.UTC)
	if live[0].ItemID != it.ID || !live[0].TriggerAt.Equal(want) {
		t.Fatalf("reminder = %+v, want item %q at %s", live[0], it.ID, want)
	}
}

func TestUpdateItemMovesReminder(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	it, err := env.svc.AddItem(ctx, rentInput())
	if err != nil {
		t.Fatalf("AddItem() unexpected error: %v", err)
	}
	input := rentInput()
	input.AnchorDate = recurrence.Date(2024, time.March, 25)
	updated, err := env.svc.UpdateItem(ctx, it.ID, input)
	if err != nil {
		t.Fatalf("UpdateItem() unexpected error: %v", err)
	}
	if updated.Revision != it.Revision+1 {
		t.Fatalf("Revision = %d, want %d", updated.Revision, it.Revision+1)
	}

	live := liveReminders(t, env.queue)
	if len(live) != 1 {
		t.Fatalf("live reminders = %d, want 1", len(live))
	}
	want := time.Date(2024, time.March, 25, 10, 0, 0, 0, time.UTC)
	if !live[0].TriggerAt.Equal(want) {
		t.Fatalf("TriggerAt = %s, want %s", live[0].TriggerAt, want)
	}
}

func TestDisablingBillsCancelsExpenseReminders(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.AddItem(ctx, salaryInput()); err != nil {
		t.Fatalf("AddItem() unexpected error: %v", err)
	}
	if _, err := env.svc.AddItem(ctx, rentInput()); err != nil {
		t.Fatalf("AddItem() unexpected error: %v", err)
	}

	summary, err := env.svc.SetNotificationSettings(ctx, ledger.NotificationSettings{PaydayReminders: true})
	if err != nil {
		t.Fatalf("SetNotificationSettings() unexpected error: %v", err)
	}
	if summary.Err() != nil {
		t.Fatalf("summary errors = %v", summary.Err())
	}
	live := liveReminders(t, env.queue)
	if len(live) != 1 || live[0].Kind != ledger.KindIncome {
		t.Fatalf("live reminders = %+v, want only the income reminder", live)
	}

	if _, err := env.svc.SetNotificationSettings(ctx, ledger.DefaultNotificationSettings()); err != nil {
		t.Fatalf("SetNotificationSettings() unexpected error: %v", err)
	}
	if got := len(liveReminders(t, env.queue)); got != 2 {
		t.Fatalf("live reminders after re-enable = %d, want 2", got)
	}
}

func TestDeliveredPromptConfirmsIntoMonthView(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	it, err := env.svc.AddItem(ctx, salaryInput())
	if err != nil {
		t.Fatalf("AddItem() unexpected error: %v", err)
	}
	fired := liveReminders(t, env.queue)[0]
	if err := env.svc.Deliver(ctx, fired); err != nil {
		t.Fatalf("Deliver() unexpected error: %v", err)
	}

	var prompt *workflow.Prompt
	select {
	case prompt = <-env.svc.Prompts():
	default:
		t.Fatal("no prompt delivered")
	}
	res, err := env.svc.Confirm(ctx, prompt)
	if err != nil {
		t.Fatalf("Confirm() unexpected error: %v", err)
	}
	if res.ReminderErr != nil {
		t.Fatalf("Confirm() ReminderErr = %v", res.ReminderErr)
	}
	wantAnchor := recurrence.Date(2024, time.March, 29)
	if !res.Item.AnchorDate.Equal(wantAnchor) {
		t.Fatalf("AnchorDate = %s, want %s", recurrence.FormatDate(res.Item.AnchorDate), recurrence.FormatDate(wantAnchor))
	}

	view, err := env.svc.Month(ctx, recurrence.Month{Year: 2024, Month: time.March})
	if err != nil {
		t.Fatalf("Month() unexpected error: %v", err)
	}
	if !view.ConfirmedIncome.Equal(it.Amount) {
		t.Fatalf("ConfirmedIncome = %s, want %s", view.ConfirmedIncome, it.Amount)
	}
	// Mar 1, Mar 15 and Mar 29 all fall in the month.
	wantProjected := it.Amount.Mul(decimal.NewFromInt(3))
	if !view.Income.Projected.Equal(wantProjected) {
		t.Fatalf("Income.Projected = %s, want %s", view.Income.Projected, wantProjected)
	}

	live := liveReminders(t, env.queue)
	if len(live) != 1 || !recurrence.DateOf(live[0].OccurrenceDate).Equal(wantAnchor) {
		t.Fatalf("live reminders = %+v, want one for %s", live, recurrence.FormatDate(wantAnchor))
	}
}

func TestRemoveItemCancelsReminders(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	it, err := env.svc.AddItem(ctx, rentInput())
	if err != nil {
		t.Fatalf("AddItem() unexpected error: %v", err)
	}
	if err := env.svc.RemoveItem(ctx, it.ID); err != nil {
		t.Fatalf("RemoveItem() unexpected error: %v", err)
	}
	if got := len(liveReminders(t, env.queue)); got != 0 {
		t.Fatalf("live reminders = %d, want 0", got)
	}
	if err := env.svc.RemoveItem(ctx, it.ID); !errors.Is(err, ledger.ErrItemNotFound) {
		t.Fatalf("RemoveItem() again error = %v, want %v", err, ledger.ErrItemNotFound)
	}
}

func TestDeliverReportsFullQueue(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < promptBuffer; i++ {
		if err := env.svc.Deliver(ctx, reminder.Scheduled{Handle: "h"}); err != nil {
			t.Fatalf("Deliver() %d unexpected error: %v", i, err)
		}
	}
	if err := env.svc.Deliver(ctx, reminder.Scheduled{Handle: "overflow"}); !errors.Is(err, ErrPromptQueueFull) {
		t.Fatalf("Deliver() error = %v, want %v", err, ErrPromptQueueFull)
	}
}

func TestDispatcherFeedsPrompts(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	queue := storage.NewReminderQueue(db)
	later := testNow.Add(7 * 24 * time.Hour)
	svc, err := NewService(Deps{
		DB:       db,
		Notifier: queue,
		Location: time.UTC,
		Now:      func() time.Time { return later },
	})
	if err != nil {
		t.Fatalf("NewService() unexpected error: %v", err)
	}
	ctx := context.Background()
	if _, err := queue.Schedule(ctx, reminder.Request{
		ItemID:    "item-1",
		Kind:      ledger.KindExpense,
		Slot:      reminder.SlotCanonical,
		TriggerAt: testNow,
	}); err != nil {
		t.Fatalf("Schedule() unexpected error: %v", err)
	}

	engine, err := svc.NewDispatcher([]dispatch.Source{queue}, nil)
	if err != nil {
		t.Fatalf("NewDispatcher() unexpected error: %v", err)
	}
	n, err := engine.PollOnce(ctx)
	if err != nil {
		t.Fatalf("PollOnce() unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("PollOnce() delivered = %d, want 1", n)
	}
	select {
	case p := <-svc.Prompts():
		if p.ItemID != "item-1" {
			t.Fatalf("prompt item = %q, want %q", p.ItemID, "item-1")
		}
	default:
		t.Fatal("no prompt delivered")
	}
}

type fakeBackend struct {
	*storage.ReminderQueue
	closed bool
}

func (f *fakeBackend) Name() string { return "redis" }

func (f *fakeBackend) Close() error {
	f.closed = true
	return nil
}

func TestBuildSelectsBackends(t *testing.T) {
	db := openTestDB(t)

	backend := &fakeBackend{ReminderQueue: storage.NewReminderQueue(db)}
	origDial := dialRedis
	origToken := loadDocstoreToken
	t.Cleanup(func() {
		dialRedis = origDial
		loadDocstoreToken = origToken
	})
	dialRedis = func(context.Context, string, string) (reminderBackend, error) {
		return backend, nil
	}
	loadDocstoreToken = func() (string, error) { return "", keychain.ErrNotFound }

	rt, err := Build(context.Background(), db, Config{Location: time.UTC, RedisURL: "localhost:6379"}, nil)
	if err != nil {
		t.Fatalf("Build() unexpected error: %v", err)
	}
	if len(rt.Sources) != 1 || rt.Sources[0].Name() != "redis" {
		t.Fatalf("sources = %v, want the redis backend", rt.Sources)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("Close() unexpected error: %v", err)
	}
	if !backend.closed {
		t.Fatal("backend not closed")
	}

	backend.closed = false
	_, err = Build(context.Background(), db, Config{RedisURL: "localhost:6379", DocstoreURL: "https://docs.example.test", User: "u"}, nil)
	if !errors.Is(err, keychain.ErrNotFound) {
		t.Fatalf("Build() error = %v, want %v", err, keychain.ErrNotFound)
	}
	if !backend.closed {
		t.Fatal("backend not closed after failed build")
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("BUDGETBELL_TZ", "Australia/Sydney")
	t.Setenv("BUDGETBELL_REDIS_URL", " redis://localhost:6379/2 ")
	t.Setenv("BUDGETBELL_REDIS_PREFIX", "")
	t.Setenv("BUDGETBELL_DOCSTORE_URL", "")
	t.Setenv("BUDGETBELL_USER", "sam")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() unexpected error: %v", err)
	}
	if cfg.Location.String() != "Australia/Sydney" {
		t.Fatalf("Location = %q, want %q", cfg.Location, "Australia/Sydney")
	}
	if cfg.RedisURL != "redis://localhost:6379/2" {
		t.Fatalf("RedisURL = %q, want %q", cfg.RedisURL, "redis://localhost:6379/2")
	}
	if cfg.RedisPrefix != "budgetbell" {
		t.Fatalf("RedisPrefix = %q, want %q", cfg.RedisPrefix, "budgetbell")
	}
	if cfg.User != "sam" {
		t.Fatalf("User = %q, want %q", cfg.User, "sam")
	}

	t.Setenv("BUDGETBELL_TZ", "Not/AZone")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatal("ConfigFromEnv() with bad zone error = nil, want non-nil")
	}
}
