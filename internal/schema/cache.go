// Package schema maintains the textual description of the warehouse schema
// supplied to the completion backend, cached in memory with a durable
// snapshot on disk.
package schema

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/querychat/querychat/internal/notify"
	"github.com/querychat/querychat/internal/observability"
)

const contextHeader = "You must assume the following PostgreSQL database schema:\n\nTables:\n"

const (
	listTablesSQL = `
SELECT table_name
FROM information_schema.tables
WHERE table_schema = 'public' AND table_type = 'BASE TABLE'
ORDER BY table_name`

	listColumnsSQL = `
SELECT column_name, data_type
FROM information_schema.columns
WHERE table_name = $1
ORDER BY ordinal_position`

	revenueProbeSQL = `
SELECT SUM(quantity_sold * unit_price) AS total_revenue
FROM sales_table`
)

type Config struct {
	SnapshotPath     string
	TTL              time.Duration
	RevenueThreshold float64
}

type snapshot struct {
	Schema      string `json:"schema"`
	LastUpdated int64  `json:"last_updated"`
}

type Cache struct {
	db       *sql.DB
	cfg      Config
	notifier notify.Notifier
	logger   *slog.Logger
	now      func() time.Time

	group singleflight.Group

	mu             sync.Mutex
	text           string
	fetchedAt      time.Time
	snapshotProbed bool
}

func NewCache(db *sql.DB, cfg Config, notifier notify.Notifier, logger *slog.Logger) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if notifier == nil {
		notifier = &notify.LogNotifier{Logger: logger}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cache{
		db:       db,
		cfg:      cfg,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Context returns the schema description, serving the in-memory value while
// fresh, adopting the durable snapshot on cold start, and refreshing
// otherwise. A non-nil error means the returned text is a degraded fallback
// (stale or empty), never that the call failed outright.
func (c *Cache) Context(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.text != "" && c.now().Sub(c.fetchedAt) < c.cfg.TTL {
		text := c.text
		c.mu.Unlock()
		return text, nil
	}
	if !c.snapshotProbed {
		c.snapshotProbed = true
		if snap, ok := c.loadSnapshot(); ok {
			c.text = snap.Schema
			c.fetchedAt = time.UnixMilli(snap.LastUpdated)
			if c.now().Sub(c.fetchedAt) < c.cfg.TTL {
				text := c.text
				c.mu.Unlock()
				return text, nil
			}
		}
	}
	c.mu.Unlock()
	return c.Refresh(ctx)
}

// Refresh re-enumerates the warehouse schema. Concurrent callers share one
// in-flight enumeration. On failure the last known text is returned together
// with the error so callers can proceed degraded.
func (c *Cache) Refresh(ctx context.Context) (string, error) {
	value, err, _ := c.group.Do("refresh", func() (any, error) {
		text, refreshErr := c.enumerate(ctx)
		if refreshErr != nil {
			observability.ObserveSchemaRefresh("degraded")
			c.mu.Lock()
			fallback := c.text
			c.mu.Unlock()
			c.logger.WarnContext(ctx, "schema refresh failed, serving last known context",
				slog.Any("error", refreshErr))
			return fallback, refreshErr
		}
		observability.ObserveSchemaRefresh("ok")

		now := c.now()
		c.mu.Lock()
		c.text = text
		c.fetchedAt = now
		c.mu.Unlock()
		c.persistSnapshot(snapshot{Schema: text, LastUpdated: now.UnixMilli()})
		return text, nil
	})
	text, _ := value.(string)
	return text, err
}

func (c *Cache) enumerate(ctx context.Context) (string, error) {
	rows, err := c.db.QueryContext(ctx, listTablesSQL)
	if err != nil {
		return "", fmt.Errorf("list tables: %w", err)
	}
	tables := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return "", fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return "", fmt.Errorf("iterate tables: %w", err)
	}
	_ = rows.Close()

	var b strings.Builder
	b.WriteString(contextHeader)
	for _, table := range tables {
		b.WriteString("\n")
		b.WriteString(table)
		b.WriteString("\n")
		if err := c.appendColumns(ctx, &b, table); err != nil {
			return "", err
		}
	}

	c.probeRevenue(ctx)
	return b.String(), nil
}

func (c *Cache) appendColumns(ctx context.Context, b *strings.Builder, table string) error {
	rows, err := c.db.QueryContext(ctx, listColumnsSQL, table)
	if err != nil {
		return fmt.Errorf("list columns for %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var column, dataType string
		if err := rows.Scan(&column, &dataType); err != nil {
			return fmt.Errorf("scan column for %s: %w", table, err)
		}
		fmt.Fprintf(b, "- %s (%s)\n", column, dataType)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate columns for %s: %w", table, err)
	}
	return nil
}

// probeRevenue computes the business metric behind the low-revenue alert.
// Probe failure falls back to zero and never aborts the refresh.
func (c *Cache) probeRevenue(ctx context.Context) {
	var total sql.NullFloat64
	if err := c.db.QueryRowContext(ctx, revenueProbeSQL).Scan(&total); err != nil {
		c.logger.DebugContext(ctx, "revenue probe skipped", slog.Any("error", err))
		total = sql.NullFloat64{}
	}
	revenue := 0.0
	if total.Valid {
		revenue = total.Float64
	}
	if revenue >= c.cfg.RevenueThreshold {
		return
	}

	subject := "Revenue Alert: Low Revenue Detected"
	body := fmt.Sprintf(
		"The total revenue has dropped below the configured threshold.\n\nCurrent Revenue: $%.2f\nThreshold: $%.2f\n\nThis is an automated message from the financial monitoring probe.",
		revenue, c.cfg.RevenueThreshold)
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := c.notifier.Send(sendCtx, subject, body); err != nil {
			c.logger.WarnContext(sendCtx, "revenue alert failed", slog.Any("error", err))
		}
	}()
}

func (c *Cache) loadSnapshot() (snapshot, bool) {
	if c.cfg.SnapshotPath == "" {
		return snapshot{}, false
	}
	raw, err := os.ReadFile(c.cfg.SnapshotPath)
	if err != nil {
		return snapshot{}, false
	}
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil || snap.Schema == "" {
		return snapshot{}, false
	}
	return snap, true
}

// persistSnapshot writes via a temp file and rename so a crash mid-write
// never leaves a truncated snapshot.
func (c *Cache) persistSnapshot(snap snapshot) {
	if c.cfg.SnapshotPath == "" {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	dir := filepath.Dir(c.cfg.SnapshotPath)
	tmp, err := os.CreateTemp(dir, ".schema-*.json")
	if err != nil {
		c.logger.Warn("schema snapshot write failed", slog.Any("error", err))
		return
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		c.logger.Warn("schema snapshot write failed", slog.Any("error", err))
		return
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return
	}
	if err := os.Rename(tmp.Name(), c.cfg.SnapshotPath); err != nil {
		_ = os.Remove(tmp.Name())
		c.logger.Warn("schema snapshot rename failed", slog.Any("error", err))
	}
}
