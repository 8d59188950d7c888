package snapshot

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"dealer-backlog/internal/backlog"
	"dealer-backlog/internal/data"
	"dealer-backlog/internal/logging"
)

// Canonical fields of a supplier feed, as stored in import_mappings.
const (
	SupplierPartnerNumber     = "partnernummer"
	SupplierOrderReference    = "auftragsnummer"
	SupplierPartNumber        = "teilenummer"
	SupplierCustomerReference = "kundenreferenz"
	SupplierCreatedDate       = "anlagedatum"
	SupplierOrderType         = "auftragsart"
	SupplierOrderedQuantity   = "bestellte_menge"
	SupplierConfirmedQuantity = "bestaetigte_menge"
	SupplierOpenQuantity      = "offene_menge"
	SupplierLeadTimeSAP       = "vsl_lt_sap"
	SupplierLeadTimeSupplier  = "vsl_lt_vz"
	SupplierInfo              = "info_vz"
	SupplierChangedDate       = "aenderungsdatum"
	SupplierPartLocator       = "teilelocator"
)

var supplierFields = []string{
	SupplierPartnerNumber, SupplierOrderReference, SupplierPartNumber, SupplierCustomerReference,
	SupplierCreatedDate, SupplierOrderType, SupplierOrderedQuantity, SupplierConfirmedQuantity,
	SupplierOpenQuantity, SupplierLeadTimeSAP, SupplierLeadTimeSupplier, SupplierInfo,
	SupplierChangedDate, SupplierPartLocator,
}

var supplierRequired = []string{SupplierOrderReference, SupplierCreatedDate, SupplierCustomerReference}

var supplierUpdateColumns = []string{
	"import_run_id", "partner_number", "customer_reference", "created_date", "order_type",
	"ordered_quantity", "confirmed_quantity", "open_quantity", "lead_time_sap",
	"lead_time_supplier", "supplier_info", "changed_date", "part_locator",
	"source_row", "content_hash", "updated_at",
}

// SupplierImporter loads the newest feed file of one brand into
// supplier_import_items.
type SupplierImporter struct {
	Store *backlog.Store
	Dir   string
	Now   func() time.Time
	Log   logrus.FieldLogger
	// Tracef receives human-readable progress lines; may be nil.
	Tracef func(format string, args ...any)
}

// SupplierResult summarises one supplier feed import.
type SupplierResult struct {
	ImportRunID uint
	Brand       string
	File        string
	RowsTotal   int
	RowsOK      int
	Inserted    int
	Updated     int
	Unchanged   int
	Skipped     int
	Failed      int
	Warnings    []string
	Errors      []string
}

func (si *SupplierImporter) tracef(format string, args ...any) {
	if si.Tracef != nil {
		si.Tracef(format, args...)
	}
}

func (si *SupplierImporter) log() logrus.FieldLogger {
	if si.Log != nil {
		return si.Log
	}
	return logrus.StandardLogger()
}

// Run imports the feed of brand. Rows without order reference, creation
// date or customer reference are skipped.
func (si *SupplierImporter) Run(ctx context.Context, brand string) (SupplierResult, error) {
	res := SupplierResult{Brand: strings.TrimSpace(brand)}
	now := time.Now
	if si.Now != nil {
		now = si.Now
	}

	def, err := LoadDefinition(ctx, si.Store.DB(), res.Brand)
	if err != nil {
		return res, err
	}
	path, err := LatestFile(si.Dir, def.Filename)
	if err != nil {
		return res, err
	}
	res.File = path
	si.tracef("using file %s", path)

	kind := KindCSV
	if def.FileType == string(KindExcel) {
		kind = KindExcel
	}
	table, err := ReadTable(path, kind)
	if err != nil {
		return res, err
	}
	res.RowsTotal = len(table.Rows)

	cols, missing := ResolveColumns(def.Headers, table.HeaderIndex(false), false)
	for _, f := range supplierRequired {
		if _, ok := cols[f]; !ok {
			return res, fmt.Errorf("%w: %q not found", ErrMissingKeyColumns, def.Headers[f])
		}
	}
	for _, f := range missing {
		res.Warnings = append(res.Warnings, fmt.Sprintf("column missing: %s", def.Headers[f]))
	}

	run := data.ImportRun{
		SourceFilename: filepath.Base(path),
		SourcePath:     path,
		ImportedAt:     now().UTC(),
		RowsTotal:      res.RowsTotal,
		FileHash:       table.FileHash,
		Notes:          "supplier feed import",
		SourceSystem:   data.SourceSupplier,
		Supplier:       res.Brand,
	}
	if err := si.Store.CreateRun(ctx, &run); err != nil {
		return res, err
	}
	res.ImportRunID = run.ID

	txErr := si.Store.Tx(ctx, func(tx *backlog.Store) error {
		hashes, err := supplierHashes(ctx, tx.DB(), res.Brand)
		if err != nil {
			return err
		}
		for i, row := range table.Rows {
			rowNum := i + 2
			fields := si.normalize(cols, row, rowNum, &res)
			if fields[SupplierOrderReference] == nil || fields[SupplierCreatedDate] == nil || fields[SupplierCustomerReference] == nil {
				res.Skipped++
				continue
			}
			item := supplierItem(res.Brand, fields)
			item.ImportRunID = run.ID
			item.SourceRow = rowNum
			item.ContentHash = SupplierHash(fields)

			key := supplierKey{item.OrderReference, item.PartNumber}
			old, exists := hashes[key]
			if exists && backlog.SameHash(old, item.ContentHash) {
				err := tx.DB().WithContext(ctx).Model(&data.SupplierImportItem{}).
					Where("brand = ? AND order_reference = ? AND part_number = ?", item.Brand, item.OrderReference, item.PartNumber).
					UpdateColumns(map[string]any{"import_run_id": run.ID, "source_row": rowNum}).Error
				if err != nil {
					res.Failed++
					res.Errors = append(res.Errors, fmt.Sprintf("row %d: %v", rowNum, err))
					continue
				}
				res.RowsOK++
				res.Unchanged++
				continue
			}

			err := tx.DB().WithContext(ctx).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "brand"}, {Name: "order_reference"}, {Name: "part_number"}},
				DoUpdates: clause.AssignmentColumns(supplierUpdateColumns),
			}).Create(&item).Error
			if err != nil {
				res.Failed++
				res.Errors = append(res.Errors, fmt.Sprintf("row %d: %v", rowNum, err))
				si.tracef("ERROR row %d: %v", rowNum, err)
				continue
			}
			hashes[key] = item.ContentHash
			res.RowsOK++
			if exists {
				res.Updated++
			} else {
				res.Inserted++
			}
		}
		if res.Failed > 0 {
			return fmt.Errorf("%w: %d rows", errRowFailures, res.Failed)
		}
		return nil
	})

	rowsOK := res.RowsOK
	if txErr != nil {
		rowsOK = 0
	}
	if err := si.Store.FinishRun(ctx, run.ID, res.RowsTotal, rowsOK); err != nil {
		logging.LogError(si.log(), "snapshot", "SupplierImporter.Run", "finish import run", run.ID, err)
	}
	if txErr != nil {
		return res, fmt.Errorf("supplier import %s rolled back: %w", res.Brand, txErr)
	}
	si.tracef("done: ok=%d inserted=%d updated=%d unchanged=%d skipped=%d", res.RowsOK, res.Inserted, res.Updated, res.Unchanged, res.Skipped)
	return res, nil
}

type supplierKey struct {
	orderReference string
	partNumber     string
}

func supplierHashes(ctx context.Context, db *gorm.DB, brand string) (map[supplierKey][]byte, error) {
	var rows []data.SupplierImportItem
	err := db.WithContext(ctx).
		Select("order_reference", "part_number", "content_hash").
		Where("brand = ?", brand).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load supplier item hashes: %w", err)
	}
	out := make(map[supplierKey][]byte, len(rows))
	for _, r := range rows {
		out[supplierKey{r.OrderReference, r.PartNumber}] = r.ContentHash
	}
	return out, nil
}

// normalize cleans every mapped field. Dates are rendered as YYYY-MM-DD and
// numbers in their cleaned plain notation; absent or blank values are nil.
func (si *SupplierImporter) normalize(cols Columns, row []string, rowNum int, res *SupplierResult) map[string]*string {
	out := make(map[string]*string, len(supplierFields))
	for _, field := range supplierFields {
		if _, ok := cols[field]; !ok {
			out[field] = nil
			continue
		}
		raw := cols.Get(row, field)
		var v string
		switch field {
		case SupplierCreatedDate, SupplierLeadTimeSAP, SupplierLeadTimeSupplier, SupplierChangedDate:
			t, err := ParseDate(raw)
			if err != nil {
				res.Warnings = append(res.Warnings, withContext(err, field, rowNum).Error())
			}
			if t != nil {
				v = t.Format("2006-01-02")
			}
		case SupplierOrderedQuantity, SupplierConfirmedQuantity, SupplierOpenQuantity:
			v = CleanDecimal(raw)
		case SupplierCustomerReference:
			v = FirstDigitRun(raw)
		case SupplierPartNumber:
			v = CompactPartNumber(raw)
		case SupplierInfo:
			v = Normalize(raw)
		default:
			v = strings.TrimSpace(raw)
		}
		if v == "" {
			out[field] = nil
		} else {
			out[field] = &v
		}
	}
	return out
}

// SupplierHash digests the normalised fields as key-sorted JSON with
// unescaped unicode and escaped slashes, matching hashes already stored by
// earlier feed imports.
func SupplierHash(fields map[string]*string) []byte {
	norm := make(map[string]*string, len(supplierFields))
	for _, f := range supplierFields {
		norm[f] = fields[f]
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(norm)
	payload := strings.ReplaceAll(strings.TrimSuffix(buf.String(), "\n"), "/", `\/`)
	sum := sha256.Sum256([]byte(payload))
	return sum[:]
}

func supplierItem(brand string, f map[string]*string) data.SupplierImportItem {
	str := func(field string) string {
		if p := f[field]; p != nil {
			return *p
		}
		return ""
	}
	date := func(field string) *time.Time {
		t, _ := ParseDate(str(field))
		return t
	}
	dec := func(field string) decimal.NullDecimal {
		d, _ := ParseDecimal(str(field))
		return d
	}
	return data.SupplierImportItem{
		Brand:             brand,
		PartnerNumber:     str(SupplierPartnerNumber),
		OrderReference:    str(SupplierOrderReference),
		PartNumber:        str(SupplierPartNumber),
		CustomerReference: str(SupplierCustomerReference),
		CreatedDate:       date(SupplierCreatedDate),
		OrderType:         str(SupplierOrderType),
		OrderedQuantity:   dec(SupplierOrderedQuantity),
		ConfirmedQuantity: dec(SupplierConfirmedQuantity),
		OpenQuantity:      dec(SupplierOpenQuantity),
		LeadTimeSAP:       date(SupplierLeadTimeSAP),
		LeadTimeSupplier:  date(SupplierLeadTimeSupplier),
		SupplierInfo:      str(SupplierInfo),
		ChangedDate:       date(SupplierChangedDate),
		PartLocator:       str(SupplierPartLocator),
	}
}
