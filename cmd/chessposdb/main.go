// Command chessposdb is the CLI front end for the database: import PGN
// corpora, run a query request read from a JSON file, merge or replicate a
// database, and inspect a directory's manifest — one subcommand per
// top-level operation.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"github.com/Sopel97/chess-pos-db-sub001/chessmodel"
	"github.com/Sopel97/chess-pos-db-sub001/config"
	"github.com/Sopel97/chess-pos-db-sub001/db"
	"github.com/Sopel97/chess-pos-db-sub001/ingest"
	"github.com/Sopel97/chess-pos-db-sub001/query"
)

func main() {
	app := &cli.App{
		Name:  "chessposdb",
		Usage: "an append-only chess position database",
		Commands: []*cli.Command{
			createCommand(),
			importCommand(),
			queryCommand(),
			mergeCommand(),
			replicateCommand(),
			clearCommand(),
			manifestCommand(),
			statsCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "chessposdb:", err)
		os.Exit(1)
	}
}

var dbFlag = &cli.StringFlag{Name: "db", Required: true, Usage: "database directory"}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "create a new, empty database",
		Flags: []cli.Flag{
			dbFlag,
			&cli.StringFlag{Name: "format", Value: "a", Usage: "on-disk layout: a (one partition per classification) or b (one shared partition)"},
		},
		Action: func(c *cli.Context) error {
			format, err := parseFormat(c.String("format"))
			if err != nil {
				return err
			}
			database, err := db.Create(c.String("db"), format, config.Default())
			if err != nil {
				return err
			}
			return database.Close()
		},
	}
}

func parseFormat(s string) (db.Format, error) {
	switch strings.ToLower(s) {
	case "a", "format-a", "":
		return db.FormatA, nil
	case "b", "format-b":
		return db.FormatB, nil
	default:
		return 0, fmt.Errorf("unknown format %q (want \"a\" or \"b\")", s)
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "import one or more PGN files",
		Flags: []cli.Flag{
			dbFlag,
			&cli.StringSliceFlag{Name: "pgn", Required: true, Usage: "path:level pairs, e.g. games.pgn:human"},
			&cli.IntFlag{Name: "workers", Value: 4},
			&cli.BoolFlag{Name: "verify-hashes"},
		},
		Action: func(c *cli.Context) error {
			pgns, err := parseImportablePGNs(c.StringSlice("pgn"))
			if err != nil {
				return err
			}

			cfg := config.Default()
			cfg.Apply(config.WithVerifyHashes(c.Bool("verify-hashes")))

			database, err := db.Open(c.String("db"), cfg)
			if err != nil {
				return err
			}
			defer database.Close()

			start := time.Now()
			var lastGames uint64
			stats, err := database.Import(pgns, c.Int("workers"), func(p ingest.Progress) {
				if p.GamesDone-lastGames < 1000 {
					return
				}
				lastGames = p.GamesDone
				fmt.Fprintf(os.Stderr, "\rimported %s games (%d/%d files)",
					humanize.Comma(int64(p.GamesDone)), p.FilesDone, p.FilesTotal)
			})
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return err
			}

			elapsed := time.Since(start)
			fmt.Printf("imported %s games (%s skipped), %s positions in %s\n",
				humanize.Comma(int64(stats.NumGames)),
				humanize.Comma(int64(stats.NumSkippedGames)),
				humanize.Comma(int64(stats.NumPositions)),
				elapsed.Round(time.Millisecond))
			return database.Flush()
		},
	}
}

func parseImportablePGNs(specs []string) ([]ingest.ImportablePGN, error) {
	pgns := make([]ingest.ImportablePGN, 0, len(specs))
	for _, s := range specs {
		path, levelStr, ok := strings.Cut(s, ":")
		if !ok {
			return nil, fmt.Errorf("malformed --pgn %q, want path:level", s)
		}
		level, ok := chessmodel.ParseTier(levelStr)
		if !ok {
			return nil, fmt.Errorf("--pgn %q: unknown level %q", s, levelStr)
		}
		pgns = append(pgns, ingest.ImportablePGN{Path: path, Level: level})
	}
	return pgns, nil
}

func queryCommand() *cli.Command {
	return &cli.Command{
		Name:  "query",
		Usage: "resolve a query request (read from --request, or stdin)",
		Flags: []cli.Flag{
			dbFlag,
			&cli.StringFlag{Name: "request", Usage: "path to a JSON request file; defaults to stdin"},
		},
		Action: func(c *cli.Context) error {
			var r io.Reader = os.Stdin
			if path := c.String("request"); path != "" {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}

			var req query.Request
			if err := json.NewDecoder(r).Decode(&req); err != nil {
				return fmt.Errorf("decoding request: %w", err)
			}

			database, err := db.Open(c.String("db"), config.Default())
			if err != nil {
				return err
			}
			defer database.Close()

			resp, err := database.Query(req)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(resp)
		},
	}
}

func mergeCommand() *cli.Command {
	return &cli.Command{
		Name:  "merge",
		Usage: "merge every partition's runs into one, in place",
		Flags: []cli.Flag{dbFlag, &cli.BoolFlag{Name: "progress", Value: true}},
		Action: func(c *cli.Context) error {
			database, err := db.Open(c.String("db"), config.Default())
			if err != nil {
				return err
			}
			defer database.Close()
			return database.MergeAll(c.Bool("progress"))
		},
	}
}

func replicateCommand() *cli.Command {
	return &cli.Command{
		Name:  "replicate",
		Usage: "merge every partition into a fresh directory, leaving this database untouched",
		Flags: []cli.Flag{
			dbFlag,
			&cli.StringFlag{Name: "dest", Required: true},
			&cli.BoolFlag{Name: "progress", Value: true},
		},
		Action: func(c *cli.Context) error {
			database, err := db.Open(c.String("db"), config.Default())
			if err != nil {
				return err
			}
			defer database.Close()
			return database.Replicate(c.String("dest"), c.Bool("progress"))
		},
	}
}

func clearCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "remove every entry and game header, keeping the empty database",
		Flags: []cli.Flag{dbFlag},
		Action: func(c *cli.Context) error {
			database, err := db.Open(c.String("db"), config.Default())
			if err != nil {
				return err
			}
			defer database.Close()
			return database.Clear()
		},
	}
}

func manifestCommand() *cli.Command {
	return &cli.Command{
		Name:  "manifest",
		Usage: "validate a database directory's manifest without opening it",
		Flags: []cli.Flag{dbFlag},
		Action: func(c *cli.Context) error {
			result, format, err := db.ValidateManifest(c.String("db"))
			if err != nil {
				return err
			}
			fmt.Printf("format: %s\nresult: %s\n", format, result)
			return nil
		},
	}
}

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "print the database's current game/position counts",
		Flags: []cli.Flag{dbFlag},
		Action: func(c *cli.Context) error {
			database, err := db.Open(c.String("db"), config.Default())
			if err != nil {
				return err
			}
			defer database.Close()

			st, err := database.Stats()
			if err != nil {
				return err
			}
			fmt.Printf("games:    %s (%s skipped this session)\n", humanize.Comma(int64(st.NumGames)), humanize.Comma(int64(st.NumSkippedGames)))
			fmt.Printf("positions: %s\n", humanize.Comma(int64(st.NumPositions)))
			for label, runs := range st.PerPartitionRunCounts {
				fmt.Printf("  %-20s %d run(s)\n", label, runs)
			}
			return nil
		},
	}
}
