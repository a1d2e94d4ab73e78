// Command proctorverify checks an exported submission record without a
// running proctord daemon.
//
// It validates the record against the submission schema, recomputes the
// flag hash chain from the genesis value, and runs consistency checks
// on scores and timestamps. This makes it suitable for offline audits
// of archived submissions and for automated pipelines on the platform
// side.
//
// Usage:
//
//	proctorverify [flags] <submission.json>
//
// Examples:
//
//	# Basic verification
//	proctorverify submission.json
//
//	# JSON report for programmatic processing
//	proctorverify --format json submission.json
//
//	# Quiet mode, exit code only
//	proctorverify --quiet submission.json
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"proctord/internal/audit"
	"proctord/internal/chain"
	"proctord/internal/gateway"
)

// Version information (set at build time).
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// Check is one verification step's outcome.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Report summarizes the verification of one submission record.
type Report struct {
	SessionID  string    `json:"sessionId"`
	ExamID     string    `json:"examId"`
	StudentID  string    `json:"studentId"`
	FlagCount  int       `json:"flagCount"`
	Valid      bool      `json:"valid"`
	Checks     []Check   `json:"checks"`
	VerifiedAt time.Time `json:"verifiedAt"`
}

func main() {
	formatStr := pflag.String("format", "text", "output format: text, json")
	output := pflag.StringP("output", "o", "", "output file (default: stdout)")
	quiet := pflag.BoolP("quiet", "q", false, "suppress the report, exit code only")
	versionFlag := pflag.BoolP("version", "V", false, "print version and exit")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "proctorverify - verify exported exam submission records\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <submission.json>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExit codes:\n")
		fmt.Fprintf(os.Stderr, "  0  record is valid\n")
		fmt.Fprintf(os.Stderr, "  1  verification failed or record could not be read\n")
		fmt.Fprintf(os.Stderr, "  2  usage error\n")
	}

	pflag.Parse()

	if *versionFlag {
		fmt.Printf("proctorverify %s (commit: %s, built: %s)\n", version, commit, buildTime)
		os.Exit(0)
	}

	if pflag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: submission file required\n\n")
		pflag.Usage()
		os.Exit(2)
	}
	if *formatStr != "text" && *formatStr != "json" {
		fmt.Fprintf(os.Stderr, "Error: unknown format %q (use text or json)\n", *formatStr)
		os.Exit(2)
	}

	raw, rec, err := loadRecord(pflag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading submission: %v\n", err)
		os.Exit(1)
	}

	report := verifyRecord(raw, rec)

	var w io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating output file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		w = f
	}

	if !*quiet {
		if err := writeReport(w, report, *formatStr); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing report: %v\n", err)
			os.Exit(1)
		}
	}

	if !report.Valid {
		os.Exit(1)
	}
}

// loadRecord reads and decodes one submission record. The raw bytes are
// kept for schema validation, which operates on the wire form.
func loadRecord(path string) ([]byte, *gateway.Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read file: %w", err)
	}

	var rec gateway.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, nil, fmt.Errorf("decode record: %w", err)
	}
	return raw, &rec, nil
}

// verifyRecord runs every check and collects the outcomes. Checks run
// to completion even after a failure so the report is complete.
func verifyRecord(raw []byte, rec *gateway.Record) *Report {
	report := &Report{
		SessionID:  rec.SessionID,
		ExamID:     rec.ExamID,
		StudentID:  rec.StudentID,
		FlagCount:  len(rec.Flags),
		Valid:      true,
		VerifiedAt: time.Now().UTC(),
	}

	add := func(name string, err error) {
		c := Check{Name: name, Passed: err == nil}
		if err != nil {
			c.Detail = err.Error()
			report.Valid = false
		}
		report.Checks = append(report.Checks, c)
	}

	add("schema", gateway.ValidateRecord(raw))
	add("flag_chain", chain.Verify(rec.ExamID, rec.Flags))
	add("flag_order", checkFlagOrder(rec.Flags))
	add("score_bounds", checkScores(rec))
	add("timestamps", checkTimestamps(rec))

	return report
}

// checkFlagOrder confirms sealed flags are in nondecreasing timestamp
// order, the order the chain commits to.
func checkFlagOrder(flags []audit.Flag) error {
	for i := 1; i < len(flags); i++ {
		if flags[i].Timestamp.Before(flags[i-1].Timestamp) {
			return fmt.Errorf("flag %d precedes flag %d", i, i-1)
		}
	}
	return nil
}

func checkScores(rec *gateway.Record) error {
	if rec.Score < 0 || rec.MaxScore < 0 {
		return errors.New("negative score")
	}
	if rec.Score > rec.MaxScore {
		return fmt.Errorf("score %d exceeds maximum %d", rec.Score, rec.MaxScore)
	}
	if rec.Grading == nil {
		return nil
	}
	if rec.Grading.Score != rec.Score || rec.Grading.MaxScore != rec.MaxScore {
		return errors.New("grading breakdown disagrees with top-level score")
	}
	return nil
}

func checkTimestamps(rec *gateway.Record) error {
	if rec.StartedAt.IsZero() || rec.SubmittedAt.IsZero() {
		return errors.New("missing session timestamps")
	}
	if rec.SubmittedAt.Before(rec.StartedAt) {
		return errors.New("submitted before session start")
	}
	for i, f := range rec.Flags {
		if f.Timestamp.Before(rec.StartedAt) || f.Timestamp.After(rec.SubmittedAt) {
			return fmt.Errorf("flag %d timestamp outside session window", i)
		}
	}
	return nil
}

func writeReport(w io.Writer, report *Report, format string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	fmt.Fprintf(w, "Submission %s (exam %s, student %s)\n", report.SessionID, report.ExamID, report.StudentID)
	fmt.Fprintf(w, "Flags: %d\n\n", report.FlagCount)
	for _, c := range report.Checks {
		status := "PASS"
		if !c.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(w, "  [%s] %-12s", status, c.Name)
		if c.Detail != "" {
			fmt.Fprintf(w, "  %s", c.Detail)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)
	if report.Valid {
		fmt.Fprintln(w, "Result: VALID")
	} else {
		fmt.Fprintln(w, "Result: INVALID")
	}
	return nil
}
