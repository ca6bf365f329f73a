package main

import (
	"care-signal/domain"
	"care-signal/infrastructure/storage"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/database"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
)

var statusStyles = map[domain.CallLogStatus]color.Style{
	domain.CallLogEnded:      color.New(color.FgGreen),
	domain.CallLogConnected:  color.New(color.FgCyan),
	domain.CallLogConnecting: color.New(color.FgCyan),
	domain.CallLogInitiated:  color.New(color.FgBlue),
	domain.CallLogRejected:   color.New(color.FgYellow),
	domain.CallLogTimeout:    color.New(color.FgRed),
	domain.CallLogFailed:     color.New(color.FgRed, color.OpBold),
}

func main() {
	dbPath := flag.String("db", database.DefaultPath, "Path to badger DB")
	patient := flag.String("patient", "", "Only show calls with this patient")
	limit := flag.Int("limit", 50, "Maximum number of calls, most recent first")
	flag.Parse()

	// Read-only, the signaling server may hold the lock
	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	repo := storage.NewCallLogRepository(db, logs.GetLoggerFromLevel(slog.LevelWarn))
	callLogs, err := repo.ListCallLogs(*patient, *limit)
	if err != nil {
		log.Fatal(err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Session", "Caretaker", "Patient", "Started", "Duration", "Status", "Failure"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetTablePadding("\t")

	for _, c := range callLogs {
		table.Append(row(c))
	}
	table.Render()
	fmt.Printf("\n%d call(s)\n", len(callLogs))
}

func row(c domain.CallLog) []string {
	duration := "-"
	if c.Duration != nil {
		duration = c.Duration.Round(time.Second).String()
	}
	status := string(c.Status)
	if style, ok := statusStyles[c.Status]; ok {
		status = style.Render(status)
	}
	id := c.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return []string{
		id,
		c.CaretakerID,
		c.PatientID,
		c.StartTime.Local().Format("2006-01-02 15:04:05"),
		duration,
		status,
		c.FailureReason,
	}
}
