package main

import (
	"fmt"
	"io"
	"time"

	"github.com/kailas-cloud/vecmigrate/internal/domain/migration"
)

const maxPrintedErrors = 10

// progressPrinter redraws a single progress line on w.
func progressPrinter(w io.Writer) func(migration.Progress) {
	return func(p migration.Progress) {
		_, _ = fmt.Fprintf(w, "\rmigrating: %5.1f%% (%d/%d)", p.Percentage, p.Completed, p.Total)
		if p.Percentage >= 100 {
			_, _ = fmt.Fprintln(w)
		}
	}
}

func printSummary(w io.Writer, res migration.Result, reportLocation string) {
	status := "SUCCESS"
	if !res.Success {
		status = "FAILED"
	}
	p := func(format string, args ...any) { _, _ = fmt.Fprintf(w, format+"\n", args...) }

	p("")
	p("migration %s: %s (%s)", res.MigrationID, status, res.State)
	p("  %s -> %s, scope %s", res.Source, res.Target, res.Scope)
	p("  total %d, migrated %d, failed %d in %s",
		res.TotalRecords, res.MigratedRecords, res.FailedRecords, res.Duration.Round(time.Millisecond))

	if v := res.Validation; v != nil {
		verdict := "passed"
		if !v.Passed {
			verdict = "FAILED"
		}
		p("  validation %s: source %d, target %d", verdict, v.CountMatch.Source, v.CountMatch.Target)
		if v.Sample != nil {
			p("  sample: %d checked, %d mismatched, %d missing", v.Sample.Checked, v.Sample.Mismatched, v.Sample.Missing)
		}
	}

	if n := len(res.IDMappings); n > 0 {
		p("  %d records were stored under new ids; downstream references must be rewritten", n)
		if reportLocation != "" {
			p("  id mappings: %s", reportLocation)
		}
	} else if reportLocation != "" {
		p("  report: %s", reportLocation)
	}

	if len(res.Errors) == 0 {
		return
	}
	p("  errors:")
	for i, e := range res.Errors {
		if i == maxPrintedErrors {
			p("    ... and %d more", len(res.Errors)-maxPrintedErrors)
			break
		}
		p("    %s", e.Error())
	}
}
