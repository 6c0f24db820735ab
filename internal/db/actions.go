package db

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dtnitsch/mktdata-loader/internal/common"
	"github.com/dtnitsch/mktdata-loader/models"
	dbpkg "github.com/dtnitsch/mktdata-loader/pkg/db"
	"github.com/dtnitsch/mktdata-loader/pkg/jobs"
)

// InitAction creates the schema and seeds the lookup tables.
func InitAction(c *cli.Context) error {
	database, _, _, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.InitSchema(); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	fmt.Printf("Initialized %s database at %s\n", database.Dialect(), database.Path())
	return nil
}

// statTables are the tables reported by StatsAction, in display order.
var statTables = []string{
	"symbols", "overviews", "intradayprices", "summaryprices", "topstats",
	"sources", "authors", "articles", "newsoverviews", "feeds", "procstates",
}

// StatsAction prints row counts of the data tables.
func StatsAction(c *cli.Context) error {
	database, _, _, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer database.Close()

	fmt.Printf("%-16s %12s\n", "Table", "Rows")
	fmt.Println(strings.Repeat("-", 29))
	for _, table := range statTables {
		n, err := database.Conn().Count(c.Context, "SELECT COUNT(*) FROM "+table)
		if err != nil {
			return fmt.Errorf("failed to count %s: %w", table, err)
		}
		fmt.Printf("%-16s %12d\n", table, n)
	}
	return nil
}

// JobsAction lists recent jobs, newest first.
func JobsAction(c *cli.Context) error {
	database, orch, _, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer database.Close()

	procType, err := procTypeFlag(c)
	if err != nil {
		return err
	}
	states, err := orch.List(c.Context, dbpkg.ProcStateFilter{
		ProcType:   procType,
		ActiveOnly: c.Bool("active"),
		Limit:      c.Int("limit"),
	})
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if len(states) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	printJobs(os.Stdout, states, time.Now())
	fmt.Printf("\nTotal: %d jobs\n", len(states))
	fmt.Printf("\nTip: Use 'mdl jobs show <id>' to see details\n")
	return nil
}

func printJobs(w io.Writer, states []models.ProcState, now time.Time) {
	fmt.Fprintf(w, "%-6s %-16s %-20s %-10s %-9s %8s %8s %8s %8s  %s\n",
		"ID", "Type", "Started", "Duration", "State", "Inserted", "Updated", "Skipped", "Failed", "Note")
	fmt.Fprintln(w, strings.Repeat("-", 120))

	for _, s := range states {
		fmt.Fprintf(w, "%-6d %-16s %-20s %-10s %-9s %8d %8d %8d %8d  %s\n",
			s.Spid,
			s.ProcType,
			s.StartTime.Local().Format(time.DateTime),
			formatDuration(s, now),
			jobState(s),
			s.Inserted,
			s.Updated,
			s.Skipped,
			s.Failed,
			s.Note,
		)
	}
}

// JobAction shows details for a specific job, or the latest one.
func JobAction(c *cli.Context) error {
	database, orch, _, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer database.Close()

	spid, err := GetJobIDOrLatest(c, orch)
	if err != nil {
		return err
	}
	s, err := orch.Get(c.Context, spid)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}

	fmt.Printf("Job %d\n", s.Spid)
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Type:        %s\n", s.ProcType)
	fmt.Printf("State:       %s\n", jobState(*s))
	fmt.Printf("Started:     %s\n", s.StartTime.Local().Format(time.DateTime))
	if !s.EndTime.IsZero() {
		fmt.Printf("Ended:       %s\n", s.EndTime.Local().Format(time.DateTime))
	}
	fmt.Printf("Duration:    %s\n", formatDuration(*s, time.Now()))
	fmt.Printf("Records:     %d inserted, %d updated, %d skipped, %d failed\n",
		s.Inserted, s.Updated, s.Skipped, s.Failed)
	if s.Note != "" {
		fmt.Printf("Note:        %s\n", s.Note)
	}
	fmt.Printf("Token:       %s\n", s.Token)
	return nil
}

// RecoverAction closes running jobs older than --stale-after as failed.
// Without --type every job type is recovered.
func RecoverAction(c *cli.Context) error {
	database, orch, cfg, err := openDatabase(c)
	if err != nil {
		return err
	}
	defer database.Close()

	procType, err := procTypeFlag(c)
	if err != nil {
		return err
	}
	staleAfter := cfg.Jobs.StaleAfter
	if c.IsSet("stale-after") {
		staleAfter = c.Duration("stale-after")
	}

	recovered, err := orch.Recover(c.Context, procType, staleAfter)
	if err != nil {
		return fmt.Errorf("failed to recover jobs: %w", err)
	}

	if len(recovered) == 0 {
		fmt.Printf("No jobs running longer than %s\n", staleAfter)
		return nil
	}
	for _, s := range recovered {
		fmt.Printf("Closed job %d (%s, started %s) as failed\n",
			s.Spid, s.ProcType, s.StartTime.Local().Format(time.DateTime))
	}
	fmt.Printf("\nTotal: %d jobs recovered\n", len(recovered))
	return nil
}

// openDatabase opens the configured database and an orchestrator over it.
func openDatabase(c *cli.Context) (*dbpkg.DB, *jobs.Orchestrator, *models.Config, error) {
	logger := common.NewLogger(c)
	cfg, err := common.LoadConfig(c)
	if err != nil {
		return nil, nil, nil, err
	}
	database, err := dbpkg.Open(cfg.Database)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	orch := jobs.New(database, jobs.Options{StaleAfter: cfg.Jobs.StaleAfter, Logger: logger})
	return database, orch, cfg, nil
}
