package writer

import (
	"context"
	"fmt"
	"time"

	"github.com/SteelMorgan/dspace-editlog/internal/clickhouse"
	"github.com/SteelMorgan/dspace-editlog/internal/domain"
	"github.com/SteelMorgan/dspace-editlog/internal/retry"
	"github.com/rs/zerolog/log"
)

// ClickHouse DateTime valid range
var (
	minClickHouseDateTime = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	maxClickHouseDateTime = time.Date(2106, 2, 7, 6, 28, 15, 0, time.UTC)
)

// ensureValidDateTime clamps t into the ClickHouse DateTime range
func ensureValidDateTime(t time.Time) time.Time {
	if t.IsZero() || t.Before(minClickHouseDateTime) {
		return minClickHouseDateTime
	}
	if t.After(maxClickHouseDateTime) {
		return maxClickHouseDateTime
	}
	return t
}

const mirrorTable = "item_edit_events"

// ReplacingMergeTree collapses replays of the same (item_id, event_ts) on merge
const createMirrorTableSQL = `
CREATE TABLE IF NOT EXISTS %s (
    item_id       String,
    event_ts      DateTime('UTC'),
    user_email    String,
    action        LowCardinality(String),
    source_file   String,
    source_offset Int64,
    line_hash     String,
    run_id        String,
    recorded_at   DateTime64(3, 'UTC')
)
ENGINE = ReplacingMergeTree(recorded_at)
PARTITION BY toYYYYMM(event_ts)
ORDER BY (item_id, event_ts)`

// ClickHouseMirror copies committed events into ClickHouse for dashboard aggregation
type ClickHouseMirror struct {
	client *clickhouse.Client
	table  string
}

// NewClickHouseMirror creates the mirror table if needed
func NewClickHouseMirror(ctx context.Context, client *clickhouse.Client) (*ClickHouseMirror, error) {
	table := mirrorTable
	if db := client.Database(); db != "" {
		table = db + "." + mirrorTable
	}

	if err := client.Exec(ctx, fmt.Sprintf(createMirrorTableSQL, table)); err != nil {
		return nil, fmt.Errorf("failed to create mirror table %s: %w", table, err)
	}

	return &ClickHouseMirror{client: client, table: table}, nil
}

// MirrorEvents inserts events in one batch
func (m *ClickHouseMirror) MirrorEvents(ctx context.Context, events []domain.ItemUpdateEvent) error {
	if len(events) == 0 {
		return nil
	}

	return retry.Do(ctx, m.client.RetryConfig(), func() error {
		batch, err := m.client.Conn().PrepareBatch(ctx, "INSERT INTO "+m.table)
		if err != nil {
			return fmt.Errorf("failed to prepare batch: %w", err)
		}

		for i := range events {
			ev := &events[i]
			if err := batch.Append(
				ev.ItemID,
				ensureValidDateTime(ev.EventTime),
				ev.Editor,
				ev.Action,
				ev.SourcePath,
				ev.SourceOffset,
				ev.LineHash,
				ev.RunID,
				ensureValidDateTime(ev.RecordedAt),
			); err != nil {
				_ = batch.Abort()
				return fmt.Errorf("failed to append event item_id=%s: %w", ev.ItemID, err)
			}
		}

		if err := batch.Send(); err != nil {
			return fmt.Errorf("failed to send batch: %w", err)
		}

		log.Debug().
			Int("events", len(events)).
			Str("table", m.table).
			Msg("Events mirrored to ClickHouse")
		return nil
	})
}

// Close closes the ClickHouse connection
func (m *ClickHouseMirror) Close() error {
	return m.client.Close()
}
