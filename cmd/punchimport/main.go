/*
main.go - Command-line punch file import

PURPOSE:
  Imports a terminal export (ZKTeco attlog, CSV or generic text) into the
  punch ledger without going through the HTTP API, and optionally
  reconciles the tenant afterwards. Handy for backfills and cron jobs.

COMMAND-LINE FLAGS:
  -file       File to import (required, "-" for stdin)
  -format     zk_dat, csv or generic (default: from the file extension)
  -tenant     Tenant (default: configured default tenant)
  -device     Device id recorded on every punch
  -db         SQLite database path (overrides config)
  -preview    Parse only, write nothing
  -reconcile  Run reconciliation after the import
  -config     YAML configuration file
  -env        .env file

OUTPUT:
  The preview, import result and reconciliation summary as JSON on stdout.
  Logs go to stderr.

EXAMPLES:
  ./punchimport -file=ATTLOG.dat -tenant=acme -device=lobby -reconcile
  cat punches.csv | ./punchimport -file=- -format=csv
*/
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/warp/punchclock/api"
	"github.com/warp/punchclock/config"
	"github.com/warp/punchclock/ingest"
	"github.com/warp/punchclock/parser"
	"github.com/warp/punchclock/reconcile"
	"github.com/warp/punchclock/store/sqlite"
)

type output struct {
	Preview *ingest.Preview    `json:"preview,omitempty"`
	Import  *ingest.Result     `json:"import,omitempty"`
	Summary *reconcile.Summary `json:"summary,omitempty"`
}

func main() {
	filePath := flag.String("file", "", "File to import, - for stdin")
	formatName := flag.String("format", "", "zk_dat, csv or generic")
	tenant := flag.String("tenant", "", "Tenant")
	deviceID := flag.String("device", "", "Device id")
	dbPath := flag.String("db", "", "SQLite database path")
	preview := flag.Bool("preview", false, "Parse only")
	reconcileAfter := flag.Bool("reconcile", false, "Reconcile after importing")
	configPath := flag.String("config", "punchclock.yaml", "YAML configuration file")
	envFile := flag.String("env", ".env", "Environment file")
	flag.Parse()

	if err := run(*filePath, *formatName, *tenant, *deviceID, *dbPath, *preview, *reconcileAfter, *configPath, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "punchimport: %v\n", err)
		os.Exit(1)
	}
}

func run(filePath, formatName, tenant, deviceID, dbPath string, preview, reconcileAfter bool, configPath, envFile string) error {
	if filePath == "" {
		return fmt.Errorf("-file is required")
	}

	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.Logger = log.New(os.Stderr, "", log.LstdFlags)
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if tenant == "" {
		tenant = cfg.DefaultTenant
	}

	if formatName == "" {
		formatName = strings.TrimPrefix(filepath.Ext(filePath), ".")
	}
	format, err := parser.ParseFormat(formatName)
	if err != nil {
		return err
	}

	payload, err := readInput(filePath)
	if err != nil {
		return err
	}

	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	h := api.NewHandler(store, cfg)
	ctx := context.Background()
	var out output

	if preview {
		if out.Preview, err = h.Ingest.Preview(format, payload); err != nil {
			return err
		}
		return printJSON(out)
	}

	out.Import, err = h.Ingest.Import(ctx, ingest.Request{
		TenantID: tenant,
		Format:   format,
		Payload:  payload,
		DeviceID: deviceID,
	})
	if err != nil {
		return err
	}

	if reconcileAfter {
		req := reconcile.Request{TenantID: tenant, DeviceID: deviceID}
		if out.Summary, err = h.Engine.Process(ctx, req); err != nil {
			return err
		}
	}
	return printJSON(out)
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return payload, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
