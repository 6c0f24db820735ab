package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	dbcmd "github.com/dtnitsch/mktdata-loader/internal/db"
	"github.com/dtnitsch/mktdata-loader/internal/load"
)

func main() {
	app := &cli.App{
		Name:  "mdl",
		Usage: "Load market data from the provider into a local database",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file",
				EnvVars: []string{"MDL_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "db",
				Usage:   "database file (sqlite) or DSN (postgres)",
				EnvVars: []string{"MDL_DATABASE"},
			},
			&cli.StringFlag{
				Name:    "driver",
				Usage:   "database driver: sqlite or postgres",
				EnvVars: []string{"MDL_DRIVER"},
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "provider API key",
				EnvVars: []string{"MDL_API_KEY"},
			},
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"w"},
				Usage:   "number of reconcile workers",
			},
			&cli.StringFlag{
				Name:  "on-active",
				Usage: "when a job of the same type is running: skip, wait or force-stale",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "only log errors",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log debug output",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "db",
				Usage: "Database maintenance",
				Subcommands: []*cli.Command{
					{
						Name:   "init",
						Usage:  "Create the schema and seed lookup tables",
						Action: dbcmd.InitAction,
					},
					{
						Name:   "stats",
						Usage:  "Show row counts",
						Action: dbcmd.StatsAction,
					},
				},
			},
			{
				Name:  "load",
				Usage: "Run a load job",
				Subcommands: []*cli.Command{
					{
						Name:  "symbols",
						Usage: "Search the provider for tickers and store new securities",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "CSV listing with a symbol column"},
							tickersFlag(),
							&cli.StringFlag{Name: "digital", Usage: "digital currency list (currency code,currency name) stored as Crypto symbols"},
						},
						Action: load.SymbolsAction,
					},
					{
						Name:   "overviews",
						Usage:  "Load company fundamentals",
						Flags:  selectionFlags(),
						Action: load.OverviewsAction,
					},
					{
						Name:  "intraday",
						Usage: "Load intraday bars",
						Flags: append(selectionFlags(), &cli.StringFlag{
							Name:  "open-bar-policy",
							Usage: "stored bars still inside their interval: skip or update-open",
						}),
						Action: load.IntradayAction,
					},
					{
						Name:  "crypto-intraday",
						Usage: "Load intraday bars of the stored digital currencies",
						Flags: append(selectionFlags(), &cli.StringFlag{
							Name:  "open-bar-policy",
							Usage: "stored bars still inside their interval: skip or update-open",
						}),
						Action: load.CryptoIntradayAction,
					},
					{
						Name:   "summary",
						Usage:  "Load daily bars",
						Flags:  selectionFlags(),
						Action: load.SummaryAction,
					},
					{
						Name:   "news",
						Usage:  "Load news and sentiment",
						Flags:  selectionFlags(),
						Action: load.NewsAction,
					},
					{
						Name:   "tops",
						Usage:  "Load the day's top gainers, losers and most active",
						Action: load.TopsAction,
					},
				},
			},
			{
				Name:  "jobs",
				Usage: "Inspect and recover load jobs",
				Subcommands: []*cli.Command{
					{
						Name:  "list",
						Usage: "List recent jobs",
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "active", Usage: "only running jobs"},
							typeFlag(),
							&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20, Usage: "maximum jobs to show"},
						},
						Action: dbcmd.JobsAction,
					},
					{
						Name:      "show",
						Usage:     "Show one job (latest when no id is given)",
						ArgsUsage: "[id]",
						Action:    dbcmd.JobAction,
					},
					{
						Name:  "recover",
						Usage: "Close running jobs that outlived --stale-after as failed",
						Flags: []cli.Flag{
							typeFlag(),
							&cli.DurationFlag{Name: "stale-after", Value: 6 * time.Hour, Usage: "age after which a running job is stale"},
						},
						Action: dbcmd.RecoverAction,
					},
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func tickersFlag() cli.Flag {
	return &cli.StringFlag{Name: "tickers", Aliases: []string{"t"}, Usage: "comma separated tickers"}
}

func typeFlag() cli.Flag {
	return &cli.StringFlag{Name: "type", Usage: "job type, e.g. load_news or news"}
}

// selectionFlags choose the symbols a per-ticker load covers.
func selectionFlags() []cli.Flag {
	return []cli.Flag{
		tickersFlag(),
		&cli.BoolFlag{Name: "missing-only", Usage: "only symbols without data of this kind yet"},
	}
}
