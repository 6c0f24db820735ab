package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dtnitsch/mktdata-loader/models"
)

// ProcCounts are the report counts stored on a closed job.
type ProcCounts struct {
	Inserted int
	Updated  int
	Skipped  int
	Failed   int
}

// ProcStateFilter narrows ListProcStates.
type ProcStateFilter struct {
	ProcType   models.ProcType
	ActiveOnly bool
	Limit      int
}

const procStateColumns = `ps.spid, pt.name, ps.token, ps.start_time, ps.end_state, ps.end_time,
	ps.note, ps.inserted, ps.updated, ps.skipped, ps.failed`

func scanProcState(row interface{ Scan(...any) error }) (models.ProcState, error) {
	var p models.ProcState
	var name string
	var endState sql.NullInt64
	var endTime sql.NullTime
	err := row.Scan(&p.Spid, &name, &p.Token, &p.StartTime, &endState, &endTime,
		&p.Note, &p.Inserted, &p.Updated, &p.Skipped, &p.Failed)
	if err != nil {
		return p, err
	}
	p.ProcType = models.ProcType(name)
	p.StartTime = p.StartTime.UTC()
	p.EndState = models.StateRunning
	if endState.Valid {
		p.EndState = models.JobState(endState.Int64)
	}
	if endTime.Valid {
		p.EndTime = endTime.Time.UTC()
	}
	return p, nil
}

// ProcTypeID resolves a job type to its catalog id.
func (c *Conn) ProcTypeID(ctx context.Context, procType models.ProcType) (int64, error) {
	var id int64
	err := c.QueryRow(ctx, "SELECT id FROM proctypes WHERE name = ?", string(procType)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("proc type %s: %w", procType, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get proc type %s: %w", procType, err)
	}
	return id, nil
}

// BeginProcState inserts an open job row for procID. ok is false when
// another open row of the same type exists; the partial unique index on
// procstates makes that check and the insert a single atomic step.
func (c *Conn) BeginProcState(ctx context.Context, procID int64, token string, start time.Time) (spid int64, ok bool, err error) {
	err = c.QueryRow(ctx, `
		INSERT INTO procstates (proc_id, token, start_time)
		VALUES (?, ?, ?)
		ON CONFLICT (proc_id) WHERE end_state IS NULL DO NOTHING
		RETURNING spid
	`, procID, token, start.UTC()).Scan(&spid)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		if IsUniqueViolation(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to insert proc state: %w", err)
	}
	return spid, true, nil
}

// CloseProcState sets the terminal state of an open job. It only matches a
// row that is still open and carries token; closed is false otherwise.
func (c *Conn) CloseProcState(ctx context.Context, spid int64, token string, state models.JobState, end time.Time, note string, counts ProcCounts) (closed bool, err error) {
	res, err := c.Exec(ctx, `
		UPDATE procstates
		SET end_state = ?, end_time = ?, note = ?, inserted = ?, updated = ?, skipped = ?, failed = ?
		WHERE spid = ? AND token = ? AND end_state IS NULL
	`, int(state), end.UTC(), note, counts.Inserted, counts.Updated, counts.Skipped, counts.Failed,
		spid, token)
	if err != nil {
		return false, fmt.Errorf("failed to close proc state %d: %w", spid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

// GetProcState loads a job row by spid.
func (c *Conn) GetProcState(ctx context.Context, spid int64) (*models.ProcState, error) {
	row := c.QueryRow(ctx, `
		SELECT `+procStateColumns+`
		FROM procstates ps JOIN proctypes pt ON pt.id = ps.proc_id
		WHERE ps.spid = ?
	`, spid)
	p, err := scanProcState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("proc state %d: %w", spid, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get proc state %d: %w", spid, err)
	}
	return &p, nil
}

// ListProcStates returns job rows newest first.
func (c *Conn) ListProcStates(ctx context.Context, f ProcStateFilter) ([]models.ProcState, error) {
	var where []string
	var args []any
	if f.ProcType != "" {
		where = append(where, "pt.name = ?")
		args = append(args, string(f.ProcType))
	}
	if f.ActiveOnly {
		where = append(where, "ps.end_state IS NULL")
	}

	query := "SELECT " + procStateColumns + " FROM procstates ps JOIN proctypes pt ON pt.id = ps.proc_id"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ps.start_time DESC, ps.spid DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := c.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list proc states: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var states []models.ProcState
	for rows.Next() {
		p, err := scanProcState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proc state: %w", err)
		}
		states = append(states, p)
	}
	return states, rows.Err()
}
