// Package store keeps the mission summary log in a local SQLite file.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/large-farva/flight-arbiter/internal/mission"
)

var ErrNotFound = errors.New("mission summary not found")

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// DefaultListLimit caps Summaries when the caller passes no limit.
const DefaultListLimit = 50

// SQLite stores mission summaries. Connections are opened lazily: the write
// handle creates the schema, the read handle is opened read-only.
type SQLite struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

func NewSQLite(dbPath string) *SQLite {
	return &SQLite{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func (s *SQLite) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SQLite) getReadDB() (*sql.DB, error) {
	// The read-only handle cannot create the file or the schema.
	if _, err := s.getWriteDB(); err != nil {
		return nil, err
	}

	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

// Init opens the database and creates the schema so a bad path is reported
// at startup instead of at the end of the first mission.
func (s *SQLite) Init() error {
	_, err := s.getWriteDB()
	return err
}

// SaveSummary implements mission.SummaryStore. A summary is written once; a
// second save for the same mission id fails.
func (s *SQLite) SaveSummary(ctx context.Context, sum mission.Summary) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, insertSummarySQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	_, err = stmt.ExecContext(ctx,
		sum.MissionID,
		nullString(sum.Name),
		sum.Outcome,
		nullString(sum.Reason),
		sum.FinalState.String(),
		sum.StartedAt.UTC().Format(timeLayout),
		sum.EndedAt.UTC().Format(timeLayout),
		sum.DurationSeconds,
		sum.WaypointsVisited,
		sum.WaypointsTotal,
		sum.MinBatteryObserved,
		sum.TelemetryPointCount,
	)
	if err != nil {
		return fmt.Errorf("inserting summary %s: %w", sum.MissionID, err)
	}
	return nil
}

// Summary returns one mission's summary.
func (s *SQLite) Summary(ctx context.Context, missionID string) (sum *mission.Summary, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, selectSummarySQL)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	got, err := scanSummary(stmt.QueryRowContext(ctx, missionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, missionID)
	}
	if err != nil {
		return nil, fmt.Errorf("scanning summary: %w", err)
	}
	return &got, nil
}

// Summaries lists the most recently ended missions first.
func (s *SQLite) Summaries(ctx context.Context, limit int) (out []mission.Summary, err error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectSummariesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("querying summaries: %w", err)
	}
	defer closeWithError(rows, &err)

	out = []mission.Summary{}
	for rows.Next() {
		sum, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning summary: %w", err)
		}
		out = append(out, sum)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating summaries: %w", err)
	}
	return out, nil
}

func (s *SQLite) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		s.closeErr = errors.Join(writeErr, readErr)
	})

	return s.closeErr
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSummary(row scanner) (mission.Summary, error) {
	var (
		sum            mission.Summary
		name, reason   sql.NullString
		state          string
		started, ended string
	)
	err := row.Scan(
		&sum.MissionID,
		&name,
		&sum.Outcome,
		&reason,
		&state,
		&started,
		&ended,
		&sum.DurationSeconds,
		&sum.WaypointsVisited,
		&sum.WaypointsTotal,
		&sum.MinBatteryObserved,
		&sum.TelemetryPointCount,
	)
	if err != nil {
		return sum, err
	}
	sum.Name, sum.Reason = name.String, reason.String

	if err := sum.FinalState.UnmarshalText([]byte(state)); err != nil {
		return sum, err
	}
	if sum.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return sum, fmt.Errorf("started_at: %w", err)
	}
	if sum.EndedAt, err = time.Parse(timeLayout, ended); err != nil {
		return sum, fmt.Errorf("ended_at: %w", err)
	}
	return sum, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
