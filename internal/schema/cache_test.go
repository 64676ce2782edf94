package schema

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

type recordingNotifier struct {
	mu       sync.Mutex
	subjects []string
	done     chan struct{}
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{done: make(chan struct{}, 8)}
}

func (n *recordingNotifier) Send(_ context.Context, subject, _ string) error {
	n.mu.Lock()
	n.subjects = append(n.subjects, subject)
	n.mu.Unlock()
	n.done <- struct{}{}
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subjects)
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func expectEnumeration(mock sqlmock.Sqlmock, revenue float64) {
	mock.ExpectQuery(regexp.QuoteMeta(listTablesSQL)).
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("employees"))
	mock.ExpectQuery(regexp.QuoteMeta(listColumnsSQL)).
		WithArgs("employees").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}).
			AddRow("id", "integer").
			AddRow("name", "text"))
	mock.ExpectQuery(regexp.QuoteMeta(revenueProbeSQL)).
		WillReturnRows(sqlmock.NewRows([]string{"total_revenue"}).AddRow(revenue))
}

func TestRefreshRendersDeterministicContext(t *testing.T) {
	db, mock := newMockDB(t)
	expectEnumeration(mock, 50000)

	cache := NewCache(db, Config{SnapshotPath: filepath.Join(t.TempDir(), "snap.json"), TTL: time.Hour, RevenueThreshold: 20000}, newRecordingNotifier(), nil)
	text, err := cache.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	want := contextHeader + "\nemployees\n- id (integer)\n- name (text)\n"
	if text != want {
		t.Fatalf("Refresh() = %q, want %q", text, want)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefreshPersistsSnapshot(t *testing.T) {
	db, mock := newMockDB(t)
	expectEnumeration(mock, 50000)

	path := filepath.Join(t.TempDir(), "snap.json")
	cache := NewCache(db, Config{SnapshotPath: path, TTL: time.Hour, RevenueThreshold: 20000}, newRecordingNotifier(), nil)
	text, err := cache.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("snapshot not valid JSON: %v", err)
	}
	if snap.Schema != text {
		t.Fatalf("snapshot schema = %q", snap.Schema)
	}
	if snap.LastUpdated == 0 {
		t.Fatal("snapshot last_updated not set")
	}
}

func TestContextServesFreshSnapshotWithoutDatabase(t *testing.T) {
	db, mock := newMockDB(t)

	path := filepath.Join(t.TempDir(), "snap.json")
	snap := snapshot{Schema: contextHeader + "\nsales\n- id (integer)\n", LastUpdated: time.Now().UnixMilli()}
	raw, _ := json.Marshal(snap)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	cache := NewCache(db, Config{SnapshotPath: path, TTL: time.Hour}, newRecordingNotifier(), nil)
	text, err := cache.Context(context.Background())
	if err != nil {
		t.Fatalf("Context() error = %v", err)
	}
	if text != snap.Schema {
		t.Fatalf("Context() = %q", text)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("database was touched: %v", err)
	}
}

func TestRefreshFailureFallsBackToLastKnownContext(t *testing.T) {
	db, mock := newMockDB(t)
	expectEnumeration(mock, 50000)
	mock.ExpectQuery(regexp.QuoteMeta(listTablesSQL)).
		WillReturnError(errors.New("connection refused"))

	cache := NewCache(db, Config{SnapshotPath: filepath.Join(t.TempDir(), "snap.json"), TTL: time.Hour, RevenueThreshold: 20000}, newRecordingNotifier(), nil)

	first, err := cache.Refresh(context.Background())
	if err != nil {
		t.Fatalf("first Refresh() error = %v", err)
	}
	second, err := cache.Refresh(context.Background())
	if err == nil {
		t.Fatal("expected degraded error from failed refresh")
	}
	if second != first {
		t.Fatalf("fallback = %q, want last known %q", second, first)
	}
}

func TestRefreshFailureWithNoHistoryReturnsEmpty(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(listTablesSQL)).
		WillReturnError(errors.New("connection refused"))

	cache := NewCache(db, Config{TTL: time.Hour}, newRecordingNotifier(), nil)
	text, err := cache.Refresh(context.Background())
	if err == nil {
		t.Fatal("expected degraded error")
	}
	if text != "" {
		t.Fatalf("text = %q, want empty", text)
	}
}

func TestRevenueProbeFailureDoesNotAbortRefresh(t *testing.T) {
	db, mock := newMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(listTablesSQL)).
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("employees"))
	mock.ExpectQuery(regexp.QuoteMeta(listColumnsSQL)).
		WithArgs("employees").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}).AddRow("id", "integer"))
	mock.ExpectQuery(regexp.QuoteMeta(revenueProbeSQL)).
		WillReturnError(errors.New(`relation "sales_table" does not exist`))

	notifier := newRecordingNotifier()
	cache := NewCache(db, Config{TTL: time.Hour, RevenueThreshold: 20000}, notifier, nil)
	text, err := cache.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if !strings.Contains(text, "employees") {
		t.Fatalf("context missing table: %q", text)
	}

	// A zero-revenue fallback is below threshold, so the alert still fires.
	select {
	case <-notifier.done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected low revenue alert")
	}
}

func TestLowRevenueTriggersNotification(t *testing.T) {
	db, mock := newMockDB(t)
	expectEnumeration(mock, 12000)

	notifier := newRecordingNotifier()
	cache := NewCache(db, Config{TTL: time.Hour, RevenueThreshold: 20000}, notifier, nil)
	if _, err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	select {
	case <-notifier.done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected low revenue alert")
	}
}

func TestHealthyRevenueSendsNothing(t *testing.T) {
	db, mock := newMockDB(t)
	expectEnumeration(mock, 50000)

	notifier := newRecordingNotifier()
	cache := NewCache(db, Config{TTL: time.Hour, RevenueThreshold: 20000}, notifier, nil)
	if _, err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if notifier.count() != 0 {
		t.Fatalf("notifications = %d, want 0", notifier.count())
	}
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	db, mock := newMockDB(t)
	// One enumeration serves every caller; extra queries would fail the
	// ordered expectations below. The delay keeps the flight open long
	// enough for every caller to join it.
	mock.ExpectQuery(regexp.QuoteMeta(listTablesSQL)).
		WillDelayFor(100 * time.Millisecond).
		WillReturnRows(sqlmock.NewRows([]string{"table_name"}).AddRow("employees"))
	mock.ExpectQuery(regexp.QuoteMeta(listColumnsSQL)).
		WithArgs("employees").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}).AddRow("id", "integer"))
	mock.ExpectQuery(regexp.QuoteMeta(revenueProbeSQL)).
		WillReturnRows(sqlmock.NewRows([]string{"total_revenue"}).AddRow(50000.0))

	cache := NewCache(db, Config{TTL: time.Hour, RevenueThreshold: 20000}, newRecordingNotifier(), nil)

	const callers = 8
	results := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			text, err := cache.Refresh(context.Background())
			if err != nil {
				t.Errorf("Refresh() error = %v", err)
			}
			results[i] = text
		}(i)
	}
	wg.Wait()

	for i := 1; i < callers; i++ {
		if results[i] != results[0] {
			t.Fatalf("caller %d observed %q, want %q", i, results[i], results[0])
		}
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
