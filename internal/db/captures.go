package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/lexi.report/internal/telemetry"
	"github.com/banshee-data/lexi.report/internal/telemetry/pipeline"
)

// Capture is one decoded capture file and its headline counters.
type Capture struct {
	ID            string    `json:"capture_id"`
	Source        string    `json:"source"`
	SizeBytes     int64     `json:"size_bytes"`
	Frames        int       `json:"frames"`
	Science       int       `json:"science"`
	Housekeeping  int       `json:"housekeeping"`
	ValidEvents   int       `json:"valid_events"`
	Resyncs       int       `json:"resyncs"`
	SkippedBytes  int       `json:"skipped_bytes"`
	TruncatedTail int       `json:"truncated_tail"`
	Created       time.Time `json:"created"`
}

func (c *Capture) String() string {
	return fmt.Sprintf("Capture %s: %s, %d frames (%d science, %d housekeeping), %d valid events",
		c.ID, c.Source, c.Frames, c.Science, c.Housekeeping, c.ValidEvents)
}

// RecordResult stores every output sequence of a pipeline run under a new
// capture id. All rows are written in a single transaction.
func (db *DB) RecordResult(ctx context.Context, source string, sizeBytes int64, res *pipeline.Result) (*Capture, error) {
	c := &Capture{
		ID:            uuid.NewString(),
		Source:        source,
		SizeBytes:     sizeBytes,
		Frames:        res.Stats.Scan.Frames,
		Science:       res.Stats.Science,
		Housekeeping:  res.Stats.Housekeeping,
		ValidEvents:   res.Stats.ValidEvents,
		Resyncs:       res.Stats.Scan.Resyncs,
		SkippedBytes:  res.Stats.Scan.SkippedBytes,
		TruncatedTail: res.Stats.Scan.TruncatedTail,
		Created:       db.clock.Now().Truncate(time.Second),
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := insertCapture(ctx, tx, c); err != nil {
		return nil, err
	}
	if err := insertPackets(ctx, tx, c.ID, res.Packets); err != nil {
		return nil, err
	}
	if err := insertHKRows(ctx, tx, c.ID, res.HKRows); err != nil {
		return nil, err
	}
	if err := insertDetectorEvents(ctx, tx, c.ID, res.Events); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return c, nil
}

// RecordCapture stores a capture row without decoded content, e.g. a raw
// recording that has not been decoded yet. An empty ID is assigned.
func (db *DB) RecordCapture(ctx context.Context, c *Capture) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Created.IsZero() {
		c.Created = db.clock.Now().Truncate(time.Second)
	}
	return insertCapture(ctx, db, c)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertCapture(ctx context.Context, e execer, c *Capture) error {
	_, err := e.ExecContext(ctx,
		`INSERT INTO captures (
			capture_id, source, size_bytes, frames, science, housekeeping,
			valid_events, resyncs, skipped_bytes, truncated_tail, created_unix
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Source, c.SizeBytes, c.Frames, c.Science, c.Housekeeping,
		c.ValidEvents, c.Resyncs, c.SkippedBytes, c.TruncatedTail, c.Created.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert capture: %w", err)
	}
	return nil
}

func insertPackets(ctx context.Context, tx *sql.Tx, id string, packets []telemetry.Packet) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO packets (
			capture_id, seq, kind, met_ms, commanded, hk_id, hk_raw, hk_value,
			field1, field2, field3, field4
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, p := range packets {
		switch v := p.(type) {
		case telemetry.ScienceEvent:
			_, err = stmt.ExecContext(ctx, id, i, "science", int64(v.Timestamp), v.Commanded, nil, nil, nil,
				int64(v.Channels[0].Counts), int64(v.Channels[1].Counts), int64(v.Channels[2].Counts), int64(v.Channels[3].Counts))
		case telemetry.HousekeepingSample:
			_, err = stmt.ExecContext(ctx, id, i, "hk", int64(v.Timestamp), false, int64(v.ID), int64(v.Raw), v.Value,
				int64(v.Status), int64(v.DeltaEvents), int64(v.DeltaDropped), int64(v.DeltaLost))
		default:
			err = fmt.Errorf("unknown packet type %T", p)
		}
		if err != nil {
			return fmt.Errorf("insert packet %d: %w", i, err)
		}
	}
	return nil
}

// hkValues encodes a row's readings as a JSON array with null for
// quantities not yet observed.
func hkValues(row telemetry.HousekeepingRow) (string, error) {
	vals := make([]*float64, len(row.Values))
	for i, r := range row.Values {
		if r.Valid {
			v := r.Value
			vals[i] = &v
		}
	}
	b, err := json.Marshal(vals)
	return string(b), err
}

func insertHKRows(ctx context.Context, tx *sql.Tx, id string, rows []telemetry.HousekeepingRow) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO hk_rows (
			capture_id, seq, met_ms, source_id, values_json,
			delta_events, delta_dropped, delta_lost
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, row := range rows {
		vals, err := hkValues(row)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, id, i, int64(row.Timestamp), int64(row.Source), vals,
			int64(row.DeltaEvents), int64(row.DeltaDropped), int64(row.DeltaLost)); err != nil {
			return fmt.Errorf("insert hk row %d: %w", i, err)
		}
	}
	return nil
}

func insertDetectorEvents(ctx context.Context, tx *sql.Tx, id string, events []telemetry.DetectorEvent) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO detector_events (
			capture_id, seq, met_ms, commanded, valid, reason, x, y
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, ev := range events {
		var x, y sql.NullFloat64
		if ev.Valid {
			x = sql.NullFloat64{Float64: ev.X, Valid: true}
			y = sql.NullFloat64{Float64: ev.Y, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, id, i, int64(ev.Timestamp), ev.Commanded, ev.Valid, int64(ev.Reason), x, y); err != nil {
			return fmt.Errorf("insert detector event %d: %w", i, err)
		}
	}
	return nil
}

// Captures lists stored captures, newest first.
func (db *DB) Captures() ([]Capture, error) {
	rows, err := db.Query(`SELECT capture_id, source, size_bytes, frames, science, housekeeping,
			valid_events, resyncs, skipped_bytes, truncated_tail, created_unix
		FROM captures ORDER BY created_unix DESC, rowid DESC LIMIT 100`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var captures []Capture
	for rows.Next() {
		var (
			c       Capture
			created int64
		)
		if err := rows.Scan(
			&c.ID,
			&c.Source,
			&c.SizeBytes,
			&c.Frames,
			&c.Science,
			&c.Housekeeping,
			&c.ValidEvents,
			&c.Resyncs,
			&c.SkippedBytes,
			&c.TruncatedTail,
			&created,
		); err != nil {
			return nil, err
		}
		c.Created = time.Unix(created, 0)
		captures = append(captures, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return captures, nil
}

// DetectorEvents returns the calibrated events of a capture in stream order.
func (db *DB) DetectorEvents(captureID string) ([]telemetry.DetectorEvent, error) {
	rows, err := db.Query(`SELECT met_ms, commanded, valid, reason, x, y
		FROM detector_events WHERE capture_id = ? ORDER BY seq`, captureID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []telemetry.DetectorEvent
	for rows.Next() {
		var (
			ev     telemetry.DetectorEvent
			reason uint8
			x, y   sql.NullFloat64
		)
		if err := rows.Scan(&ev.Timestamp, &ev.Commanded, &ev.Valid, &reason, &x, &y); err != nil {
			return nil, err
		}
		ev.Reason = telemetry.RejectReason(reason)
		ev.X, ev.Y = x.Float64, y.Float64
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// HousekeepingRows returns the carried-forward housekeeping table of a
// capture in stream order.
func (db *DB) HousekeepingRows(captureID string) ([]telemetry.HousekeepingRow, error) {
	rows, err := db.Query(`SELECT met_ms, source_id, values_json, delta_events, delta_dropped, delta_lost
		FROM hk_rows WHERE capture_id = ? ORDER BY seq`, captureID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []telemetry.HousekeepingRow
	for rows.Next() {
		var (
			row    telemetry.HousekeepingRow
			source uint8
			vals   string
		)
		if err := rows.Scan(&row.Timestamp, &source, &vals, &row.DeltaEvents, &row.DeltaDropped, &row.DeltaLost); err != nil {
			return nil, err
		}
		row.Source = telemetry.HKID(source)

		var decoded []*float64
		if err := json.Unmarshal([]byte(vals), &decoded); err != nil {
			return nil, fmt.Errorf("hk row values: %w", err)
		}
		if len(decoded) != telemetry.HKChannelCount {
			return nil, fmt.Errorf("hk row has %d values, want %d", len(decoded), telemetry.HKChannelCount)
		}
		for i, v := range decoded {
			if v != nil {
				row.Values[i] = telemetry.Reading{Value: *v, Valid: true}
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// PacketCounts returns the number of stored packets of each kind.
func (db *DB) PacketCounts(captureID string) (science, housekeeping int, err error) {
	rows, err := db.Query(`SELECT kind, COUNT(*) FROM packets WHERE capture_id = ? GROUP BY kind`, captureID)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind string
			n    int
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return 0, 0, err
		}
		switch kind {
		case "science":
			science = n
		case "hk":
			housekeeping = n
		}
	}
	return science, housekeeping, rows.Err()
}
