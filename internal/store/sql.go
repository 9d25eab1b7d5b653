package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/joulia/joulia-live/internal/livelog"
	"github.com/joulia/joulia-live/internal/telemetry"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("store closed")

const measurementSchema = `
CREATE TABLE IF NOT EXISTS measurements (
    id BIGINT PRIMARY KEY,
    recipe_instance BIGINT NOT NULL,
    sensor BIGINT NOT NULL,
    time_us BIGINT NOT NULL,
    value DOUBLE,
    source VARCHAR NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_measurements_stream
    ON measurements (recipe_instance, sensor, time_us);
`

type appendRequest struct {
	m    telemetry.Measurement
	done chan appendResult
}

type appendResult struct {
	m   telemetry.Measurement
	err error
}

// sqlStore is the database/sql store shared by the DuckDB and SQLite
// drivers. A single writer goroutine assigns ids, writes batches in one
// transaction and publishes them after commit.
type sqlStore struct {
	db            *sql.DB
	driver        string
	path          string
	batchSize     int
	flushInterval time.Duration
	pub           Publisher

	lastID int64 // owned by the writer goroutine

	appendCh  chan appendRequest
	wg        sync.WaitGroup
	done      chan struct{}
	closeMu   sync.RWMutex
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

func newSQLStore(db *sql.DB, driver, path string, batchSize int, flushInterval time.Duration, pub Publisher) (*sqlStore, error) {
	if _, err := db.Exec(measurementSchema); err != nil {
		return nil, fmt.Errorf("initialize measurement schema: %w", err)
	}

	s := &sqlStore{
		db:            db,
		driver:        driver,
		path:          path,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		pub:           orNop(pub),
		appendCh:      make(chan appendRequest, batchSize*2),
		done:          make(chan struct{}),
	}
	if err := db.QueryRow("SELECT COALESCE(MAX(id), 0) FROM measurements").Scan(&s.lastID); err != nil {
		return nil, fmt.Errorf("read last measurement id: %w", err)
	}

	s.wg.Add(1)
	go s.batchWriter()
	return s, nil
}

// Append queues m for the batch writer and waits for its commit.
func (s *sqlStore) Append(ctx context.Context, m telemetry.Measurement) (telemetry.Measurement, error) {
	req := appendRequest{m: m, done: make(chan appendResult, 1)}

	s.closeMu.RLock()
	if s.closed {
		s.closeMu.RUnlock()
		return telemetry.Measurement{}, ErrClosed
	}
	select {
	case s.appendCh <- req:
		s.closeMu.RUnlock()
	case <-ctx.Done():
		s.closeMu.RUnlock()
		return telemetry.Measurement{}, ctx.Err()
	}
	select {
	case res := <-req.done:
		return res.m, res.err
	case <-ctx.Done():
		return telemetry.Measurement{}, ctx.Err()
	}
}

// batchWriter is the single goroutine that drains the append channel and
// writes batches.
func (s *sqlStore) batchWriter() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	var batch []appendRequest

	for {
		select {
		case req := <-s.appendCh:
			batch = append(batch, req)
			if len(batch) >= s.batchSize {
				s.flushBatch(batch)
				batch = nil
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flushBatch(batch)
				batch = nil
			}

		case <-s.done:
			for {
				select {
				case req := <-s.appendCh:
					batch = append(batch, req)
				default:
					if len(batch) > 0 {
						s.flushBatch(batch)
					}
					return
				}
			}
		}
	}
}

// flushBatch writes a batch in a single transaction, then publishes the
// committed measurements in id order and releases their callers.
func (s *sqlStore) flushBatch(batch []appendRequest) {
	stored, err := s.writeBatch(batch)
	if err != nil {
		livelog.Log.Error("Failed to write measurement batch", "error", err, "measurements", len(batch))
		for _, req := range batch {
			req.done <- appendResult{err: err}
		}
		return
	}

	for i, req := range batch {
		s.pub.Publish(stored[i])
		req.done <- appendResult{m: stored[i]}
	}
	livelog.Log.Debug("Flushed measurement batch", "driver", s.driver, "measurements", len(batch))
}

func (s *sqlStore) writeBatch(batch []appendRequest) ([]telemetry.Measurement, error) {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO measurements (id, recipe_instance, sensor, time_us, value, source)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	id := s.lastID
	stored := make([]telemetry.Measurement, len(batch))
	for i, req := range batch {
		id++
		m := req.m
		m.ID = id
		m.Time = m.Time.UTC().Truncate(time.Microsecond)

		var value sql.NullFloat64
		if m.Value != nil {
			value = sql.NullFloat64{Float64: *m.Value, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, m.ID, m.RecipeInstance, m.Sensor, m.Time.UnixMicro(), value, m.Source); err != nil {
			return nil, fmt.Errorf("insert measurement %d: %w", m.ID, err)
		}
		stored[i] = m
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}
	s.lastID = id
	return stored, nil
}

// QueryMeasurements returns the measurements of key after the given time,
// oldest first.
func (s *sqlStore) QueryMeasurements(ctx context.Context, key telemetry.StreamKey, after time.Time) ([]telemetry.Measurement, error) {
	query := `
		SELECT id, time_us, value, source
		FROM measurements
		WHERE recipe_instance = ? AND sensor = ?`
	args := []any{key.RecipeInstance, key.Sensor}
	if !after.IsZero() {
		query += " AND time_us > ?"
		args = append(args, after.UnixMicro())
	}
	query += " ORDER BY time_us ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query measurements: %w", err)
	}
	defer rows.Close()

	var out []telemetry.Measurement
	for rows.Next() {
		m := telemetry.Measurement{RecipeInstance: key.RecipeInstance, Sensor: key.Sensor}
		var us int64
		var value sql.NullFloat64
		if err := rows.Scan(&m.ID, &us, &value, &m.Source); err != nil {
			return nil, fmt.Errorf("scan measurement: %w", err)
		}
		m.Time = time.UnixMicro(us).UTC()
		if value.Valid {
			v := value.Float64
			m.Value = &v
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Stats returns the measurement count and database file size.
func (s *sqlStore) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Driver: s.driver}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM measurements").Scan(&st.Measurements); err != nil {
		return Stats{}, fmt.Errorf("count measurements: %w", err)
	}
	if info, err := os.Stat(s.path); err == nil {
		st.SizeBytes = info.Size()
	}
	return st, nil
}

// Close stops the batch writer, flushing queued appends, and closes the
// database.
func (s *sqlStore) Close() error {
	s.closeOnce.Do(func() {
		s.closeMu.Lock()
		s.closed = true
		s.closeMu.Unlock()

		close(s.done)
		s.wg.Wait()
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}
