package storage

import (
	"context"
	"sort"
	"time"
)

// AllTimeModelUsage is a derived rollup grouped by model.
type AllTimeModelUsage struct {
	Model          string
	SessionCount   int64
	SumInputTokens int64
	SumOutputTokens int64
}

// RecordSessionActivity appends a creation timestamp, backing the daily
// activity report.
func (s *Storage) RecordSessionActivity(ctx context.Context, sessionID string, createdAt int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_activity (session_id, created_at) VALUES (?, ?)`, sessionID, createdAt)
	return err
}

// LoadSessionActivityTimestamps returns every recorded creation timestamp.
func (s *Storage) LoadSessionActivityTimestamps(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT created_at FROM session_activity ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		out = append(out, ts)
	}
	return out, rows.Err()
}

// DailyActivity is a sparse per-local-calendar-day session count,
// backing the `agentty stats` report.
type DailyActivity struct {
	DayKey       int64
	SessionCount uint32
}

// LoadDailyActivity buckets every recorded session-creation timestamp
// into local calendar days (DST-aware, offset resolved per timestamp),
// grounded on original_source's aggregate_local_daily_activity.
func (s *Storage) LoadDailyActivity(ctx context.Context) ([]DailyActivity, error) {
	timestamps, err := s.LoadSessionActivityTimestamps(ctx)
	if err != nil {
		return nil, err
	}

	counts := make(map[int64]uint32)
	for _, ts := range timestamps {
		counts[dayKey(ts)]++
	}

	out := make([]DailyActivity, 0, len(counts))
	for k, c := range counts {
		out = append(out, DailyActivity{DayKey: k, SessionCount: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DayKey < out[j].DayKey })
	return out, nil
}

// dayKey buckets a Unix timestamp into a local-calendar-day number:
// (ts + local_offset_seconds) / 86400, floor division.
func dayKey(ts int64) int64 {
	_, offset := time.Unix(ts, 0).Zone()
	return (ts + int64(offset)) / 86400
}

// LoadAllTimeModelUsage derives per-model usage totals on demand.
func (s *Storage) LoadAllTimeModelUsage(ctx context.Context) ([]AllTimeModelUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model, COUNT(1), COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0)
		FROM sessions
		GROUP BY model
		ORDER BY model ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AllTimeModelUsage
	for rows.Next() {
		var u AllTimeModelUsage
		if err := rows.Scan(&u.Model, &u.SessionCount, &u.SumInputTokens, &u.SumOutputTokens); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
