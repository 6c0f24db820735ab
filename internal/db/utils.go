package db

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/mktdata-loader/models"
	dbpkg "github.com/dtnitsch/mktdata-loader/pkg/db"
	"github.com/dtnitsch/mktdata-loader/pkg/jobs"
)

// GetJobIDOrLatest returns the job ID from args, or the latest job if not provided
func GetJobIDOrLatest(c *cli.Context, orch *jobs.Orchestrator) (int64, error) {
	if c.NArg() == 0 {
		states, err := orch.List(c.Context, dbpkg.ProcStateFilter{Limit: 1})
		if err != nil {
			return 0, fmt.Errorf("failed to get latest job: %w", err)
		}
		if len(states) == 0 {
			return 0, fmt.Errorf("no jobs found. Run 'mdl load ...' first")
		}
		return states[0].Spid, nil
	}
	return parseJobID(c.Args().First())
}

func parseJobID(arg string) (int64, error) {
	var spid int64
	if _, err := fmt.Sscanf(arg, "%d", &spid); err != nil || spid <= 0 {
		return 0, fmt.Errorf("invalid job ID: %s", arg)
	}
	return spid, nil
}

// procTypeFlag reads --type, accepting the name with or without "load_".
func procTypeFlag(c *cli.Context) (models.ProcType, error) {
	return parseProcType(c.String("type"))
}

func parseProcType(s string) (models.ProcType, error) {
	if s == "" {
		return "", nil
	}
	for _, p := range []models.ProcType{models.ProcType(s), models.ProcType("load_" + s)} {
		if p.Valid() {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown job type %q (want one of %v)", s, models.ProcTypes)
}

func jobState(s models.ProcState) string {
	return s.EndState.String()
}

// formatDuration renders how long a job ran, or has been running.
func formatDuration(s models.ProcState, now time.Time) string {
	end := s.EndTime
	if end.IsZero() {
		end = now
	}
	d := end.Sub(s.StartTime)
	if d < 0 {
		d = 0
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
