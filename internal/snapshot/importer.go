// Package snapshot ingests full exports of the order system and per-supplier
// feeds into the backlog database.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"dealer-backlog/internal/backlog"
	"dealer-backlog/internal/data"
	"dealer-backlog/internal/logging"
	"dealer-backlog/internal/rules"
	"dealer-backlog/internal/secondary"
)

const (
	// emptyRowCutoff consecutive blank rows end the data region.
	emptyRowCutoff = 20
	// DefaultLineType replaces a blank "typ" cell.
	DefaultLineType = "Offene Bestellung"
	runNote         = "daily snapshot import"
)

// Importer loads the main snapshot: parse, evaluate rules, upsert and sweep,
// all in one transaction.
type Importer struct {
	Store    *backlog.Store
	Lookup   secondary.Source
	Notifier backlog.SweepNotifier
	Location *time.Location
	Now      func() time.Time
	Log      logrus.FieldLogger
	// Headers overrides DefaultHeaders.
	Headers map[string]string
	// Tracef receives human-readable progress lines; may be nil.
	Tracef func(format string, args ...any)
}

// Result summarises one import.
type Result struct {
	ImportRunID uint
	File        string
	RowsTotal   int
	RowsOK      int
	Inserted    int
	Updated     int
	Unchanged   int
	Skipped     int
	Ignored     int
	Failed      int
	Deleted     int
	Swept       []backlog.SweepCandidate
	Warnings    []string
	Errors      []string
}

var errRowFailures = errors.New("row writes failed")

func (im *Importer) tracef(format string, args ...any) {
	if im.Tracef != nil {
		im.Tracef(format, args...)
	}
}

func (im *Importer) now() time.Time {
	if im.Now != nil {
		return im.Now()
	}
	return time.Now()
}

func (im *Importer) log() logrus.FieldLogger {
	if im.Log != nil {
		return im.Log
	}
	return logrus.StandardLogger()
}

// Run imports the snapshot at path. A returned error means nothing was
// committed; Result still carries the counters gathered so far.
func (im *Importer) Run(ctx context.Context, path string) (Result, error) {
	res := Result{File: path}
	im.tracef("loading %s", path)

	table, err := ReadTable(path, KindFromPath(path))
	if err != nil {
		return res, err
	}
	res.RowsTotal = len(table.Rows)

	headers := im.Headers
	if headers == nil {
		headers = DefaultHeaders
	}
	cols, missing := ResolveColumns(headers, table.HeaderIndex(true), true)
	for _, f := range keyFields {
		if _, ok := cols[f]; !ok {
			return res, fmt.Errorf("%w: %q not found", ErrMissingKeyColumns, headers[f])
		}
	}
	for _, f := range missing {
		w := fmt.Sprintf("column missing: %s", headers[f])
		res.Warnings = append(res.Warnings, w)
		im.tracef("WARN %s", w)
	}

	ignored, err := im.Store.IgnoredConcerns(ctx)
	if err != nil {
		return res, err
	}
	ignoreSet := make(map[string]struct{}, len(ignored))
	for _, name := range ignored {
		if n := strings.ToUpper(strings.TrimSpace(name)); n != "" {
			ignoreSet[n] = struct{}{}
		}
	}

	terms, err := rules.LoadTerms(ctx, im.Store.DB())
	if err != nil {
		return res, err
	}
	lookup := im.Lookup
	if lookup == nil {
		lookup = secondary.Unavailable{}
	}
	engine := rules.NewEngine(terms, lookup)
	snapshotDate := rules.SnapshotDate(im.now(), im.Location)

	run := data.ImportRun{
		SourceFilename: filepath.Base(path),
		SourcePath:     path,
		ImportedAt:     im.now().UTC(),
		RowsTotal:      res.RowsTotal,
		FileHash:       table.FileHash,
		Notes:          runNote,
		SourceSystem:   data.SourceMain,
	}
	if err := im.Store.CreateRun(ctx, &run); err != nil {
		return res, err
	}
	res.ImportRunID = run.ID
	im.tracef("import run %d, snapshot date %s", run.ID, snapshotDate.Format("2006-01-02"))

	txErr := im.Store.Tx(ctx, func(tx *backlog.Store) error {
		batch, err := tx.NewBatch(ctx, run.ID)
		if err != nil {
			return err
		}

		emptyStreak, dataRows := 0, 0
		for i, row := range table.Rows {
			rowNum := i + 2
			if rowIsBlank(cols, row) {
				emptyStreak++
				if emptyStreak >= emptyRowCutoff {
					im.tracef("end of data at row %d", rowNum)
					break
				}
				continue
			}
			emptyStreak = 0
			dataRows++

			line := im.parseRow(cols, row, rowNum, &res)
			if line.Concern == "" || line.OrderNumber == "" || line.PartNumber == "" {
				res.Skipped++
				im.tracef("SKIP row %d: missing key fields", rowNum)
				continue
			}
			if _, ok := ignoreSet[strings.ToUpper(line.Concern)]; ok {
				res.Ignored++
				continue
			}

			decision, err := engine.Evaluate(ctx, line.OrderType, line.ReferencedOrderNumber, snapshotDate)
			if err != nil {
				logging.LogError(im.log(), "snapshot", "Run", "evaluate delivery term", rowNum, err)
			}
			line.Relevant = decision.Relevant
			line.DueDate = decision.DueDate
			line.DueDateNote = decision.Note

			desc, _, err := lookup.PartDescription(ctx, line.PartNumber)
			if err != nil {
				logging.LogError(im.log(), "snapshot", "Run", "part description", line.PartNumber, err)
			}
			line.Description = desc

			outcome, err := batch.Upsert(ctx, line)
			if err != nil {
				res.Failed++
				res.Errors = append(res.Errors, fmt.Sprintf("row %d: %v", rowNum, err))
				im.tracef("ERROR row %d: %v", rowNum, err)
				continue
			}
			res.RowsOK++
			switch outcome {
			case backlog.Inserted:
				res.Inserted++
			case backlog.Updated:
				res.Updated++
			default:
				res.Unchanged++
			}
			if res.RowsOK <= 5 {
				im.tracef("OK row %d: %s due=%s", rowNum, backlog.KeyOf(line), formatDue(line.DueDate))
			}
		}

		if res.Failed > 0 {
			return fmt.Errorf("%w: %d of %d rows", errRowFailures, res.Failed, res.RowsOK+res.Failed)
		}
		if dataRows == 0 {
			return ErrEmptySnapshot
		}
		im.tracef("keys seen: %d", batch.Seen())

		swept, err := batch.Sweep(ctx, im.Notifier)
		if err != nil {
			return err
		}
		res.Swept = swept
		res.Deleted = len(swept)
		for _, c := range swept {
			im.tracef("DEL id=%d %s advisor=%q", c.LineID, c.Key, c.ServiceAdvisor)
		}
		return nil
	})

	rowsOK := res.RowsOK
	if txErr != nil {
		rowsOK = 0
	}
	if err := im.Store.FinishRun(ctx, run.ID, res.RowsTotal, rowsOK); err != nil {
		logging.LogError(im.log(), "snapshot", "Run", "finish import run", run.ID, err)
	}
	if txErr != nil {
		return res, fmt.Errorf("import run %d rolled back: %w", run.ID, txErr)
	}
	im.tracef("done: ok=%d inserted=%d updated=%d unchanged=%d deleted=%d", res.RowsOK, res.Inserted, res.Updated, res.Unchanged, res.Deleted)
	return res, nil
}

func rowIsBlank(cols Columns, row []string) bool {
	for _, f := range []string{FieldLineType, FieldConcern, FieldOrderNumber, FieldPartNumber} {
		if cols.Get(row, f) != "" {
			return false
		}
	}
	return true
}

func (im *Importer) parseRow(cols Columns, row []string, rowNum int, res *Result) *data.BacklogLine {
	text := func(field string) string { return Normalize(cols.Get(row, field)) }
	num := func(field string) decimal.NullDecimal {
		d, err := ParseDecimal(cols.Get(row, field))
		if err != nil {
			im.warnParse(res, withContext(err, field, rowNum))
		}
		return d
	}

	line := &data.BacklogLine{
		LineType:                 text(FieldLineType),
		Concern:                  text(FieldConcern),
		OrderNumber:              text(FieldOrderNumber),
		OrderType:                text(FieldOrderType),
		Supplier:                 text(FieldSupplier),
		ReferencedCustomerNumber: text(FieldReferencedCustomerNumber),
		ReferencedOrderNumber:    text(FieldReferencedOrderNumber),
		PartNumber:               text(FieldPartNumber),
		PartKind:                 text(FieldPartKind),
		OrderedQuantity:          num(FieldOrderedQuantity),
		OrderedValue:             num(FieldOrderedValue),
		BacklogQuantity:          num(FieldBacklogQuantity),
		BacklogValue:             num(FieldBacklogValue),
		OriginCode:               text(FieldOriginCode),
		OriginText:               text(FieldOriginText),
		SourceRow:                rowNum,
	}
	if line.LineType == "" {
		line.LineType = DefaultLineType
	}
	orderDate, err := ParseDate(cols.Get(row, FieldOrderDate))
	if err != nil {
		im.warnParse(res, withContext(err, FieldOrderDate, rowNum))
	}
	line.OrderDate = orderDate
	return line
}

func (im *Importer) warnParse(res *Result, err error) {
	res.Warnings = append(res.Warnings, err.Error())
	im.tracef("WARN %v", err)
}

func formatDue(t *time.Time) string {
	if t == nil {
		return "null"
	}
	return t.Format("2006-01-02")
}
