package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"riskledger/integrations/audit"
	"riskledger/integrations/exports"
)

func auditFlags(fs *flag.FlagSet) (driver, dsn *string) {
	driver = fs.String("driver", "sqlite", "Audit database driver (sqlite or postgres)")
	dsn = fs.String("dsn", "", "Audit database DSN or sqlite path")
	return driver, dsn
}

func runAuditVerify(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("audit-verify", flag.ContinueOnError)
	driver, dsn := auditFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	db, err := audit.Open(*driver, *dsn)
	if err != nil {
		return err
	}
	count, err := audit.Verify(context.Background(), db)
	if err != nil {
		if errors.Is(err, audit.ErrChainBroken) {
			return fmt.Errorf("chain broken after %d records: %w", count, err)
		}
		return err
	}
	fmt.Fprintf(out, "audit chain intact: %d records\n", count)
	return nil
}

func runAuditExport(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("audit-export", flag.ContinueOnError)
	driver, dsn := auditFlags(fs)
	format := fs.String("format", "csv", "Export format (csv or jsonl)")
	after := fs.Uint64("after", 0, "Only export records with a greater sequence")
	limit := fs.Int("limit", 10_000, "Maximum number of records")
	path := fs.String("out", "", "Output file; stdout when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}
	db, err := audit.Open(*driver, *dsn)
	if err != nil {
		return err
	}
	records, err := audit.Records(context.Background(), db, *after, *limit)
	if err != nil {
		return err
	}
	var (
		payload  []byte
		checksum string
	)
	switch strings.ToLower(strings.TrimSpace(*format)) {
	case "csv":
		payload, checksum, err = exports.AuditCSV(records)
	case "jsonl":
		payload, checksum, err = exports.AuditJSONL(records)
	default:
		return fmt.Errorf("unsupported format %q", *format)
	}
	if err != nil {
		return err
	}
	if *path == "" {
		_, err := out.Write(payload)
		return err
	}
	if err := os.WriteFile(*path, payload, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Fprintf(out, "%d records written to %s (sha256 %s)\n", len(records), *path, checksum)
	return nil
}
