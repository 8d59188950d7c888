package data

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SeedConfig controls the demo dataset inserted for local development.
type SeedConfig struct {
	Lines     int
	BatchSize int
	Now       time.Time
}

// EnsureSchema applies the required database schema.
func EnsureSchema(db *gorm.DB) error {
	return db.AutoMigrate(
		&ImportRun{},
		&BacklogLine{},
		&BacklogAnnotation{},
		&DeliveryTermRule{},
		&IgnoredConcern{},
		&ImportDefinition{},
		&ImportMapping{},
		&SupplierImportItem{},
	)
}

// DefaultDeliveryTerms mirrors the rule set the dealership started with.
var DefaultDeliveryTerms = []DeliveryTermRule{
	{OrderType: 1, OffsetDays: 1},
	{OrderType: 2, OffsetDays: 3},
	{OrderType: 5, OffsetDays: 1, UseOrderDate: true},
	{OrderType: 6, OffsetDays: 1, UseOrderDate: true},
	{OrderType: 7, OffsetDays: 1, UseOrderDate: true},
	{OrderType: 8, OffsetDays: 1, UseOrderDate: true},
}

// DefaultIgnoredConcerns are concerns whose lines are never tracked.
var DefaultIgnoredConcerns = []string{"INTERN", "LAGER"}

// SeedDataset populates configuration tables and, when cfg.Lines > 0, a
// deterministic synthetic backlog owned by a seed import run.
func SeedDataset(ctx context.Context, db *gorm.DB, cfg SeedConfig) error {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Now.IsZero() {
		cfg.Now = time.Now().UTC()
	}
	if err := seedConfiguration(ctx, db); err != nil {
		return err
	}
	if cfg.Lines <= 0 {
		return nil
	}
	return seedLines(ctx, db, cfg)
}

func seedConfiguration(ctx context.Context, db *gorm.DB) error {
	terms := append([]DeliveryTermRule(nil), DefaultDeliveryTerms...)
	if err := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&terms).Error; err != nil {
		return fmt.Errorf("seed delivery terms: %w", err)
	}

	ignores := make([]IgnoredConcern, 0, len(DefaultIgnoredConcerns))
	for _, name := range DefaultIgnoredConcerns {
		ignores = append(ignores, IgnoredConcern{Name: name})
	}
	if err := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&ignores).Error; err != nil {
		return fmt.Errorf("seed ignores: %w", err)
	}

	def := ImportDefinition{Brand: "DEMO", Filename: "Rueckstandsliste DEMO *.csv", MapID: 1, FileType: "csv"}
	if err := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&def).Error; err != nil {
		return fmt.Errorf("seed import definition: %w", err)
	}
	mapping := []ImportMapping{
		{MapID: 1, Field: "auftragsnummer", Header: "Auftrag"},
		{MapID: 1, Field: "teilenummer", Header: "Teilenummer"},
		{MapID: 1, Field: "kundenreferenz", Header: "Kundenreferenz"},
		{MapID: 1, Field: "anlagedatum", Header: "Angelegt am"},
		{MapID: 1, Field: "offene_menge", Header: "Offen"},
		{MapID: 1, Field: "vsl_lt_vz", Header: "Liefertermin"},
		{MapID: 1, Field: "info_vz", Header: "Info"},
	}
	if err := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&mapping).Error; err != nil {
		return fmt.Errorf("seed import mapping: %w", err)
	}
	return nil
}

func seedLines(ctx context.Context, db *gorm.DB, cfg SeedConfig) error {
	var existing int64
	if err := db.WithContext(ctx).Model(&BacklogLine{}).Count(&existing).Error; err != nil {
		return err
	}
	if int(existing) >= cfg.Lines {
		return nil
	}

	run := ImportRun{
		SourceFilename: "seed",
		SourcePath:     "seed",
		ImportedAt:     cfg.Now,
		SourceSystem:   SourceMain,
		Notes:          "demo seed",
	}
	if err := db.WithContext(ctx).Create(&run).Error; err != nil {
		return err
	}

	toCreate := cfg.Lines - int(existing)
	batch := make([]BacklogLine, 0, cfg.BatchSize)
	rnd := rand.New(rand.NewSource(42))
	start := int(existing)

	for i := 0; i < toCreate; i++ {
		line := buildSyntheticLine(start+i, rnd, cfg.Now)
		line.ImportRunID = run.ID
		batch = append(batch, line)

		if len(batch) == cfg.BatchSize || i == toCreate-1 {
			if err := db.WithContext(ctx).Create(&batch).Error; err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	return db.WithContext(ctx).Model(&run).
		Updates(map[string]any{"rows_total": toCreate, "rows_ok": toCreate}).Error
}

func buildSyntheticLine(globalIdx int, rnd *rand.Rand, now time.Time) BacklogLine {
	ordered := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).
		AddDate(0, 0, -rnd.Intn(120))
	qty := decimal.NewFromInt(int64(rnd.Intn(10) + 1))
	price := decimal.NewFromFloat(5 + rnd.Float64()*200).Round(2)
	due := ordered.AddDate(0, 0, 1)

	return BacklogLine{
		LineType:              "Offene Bestellung",
		Concern:               randomChoice(concerns, rnd),
		OrderDate:             &ordered,
		OrderNumber:           fmt.Sprintf("%07d", 1000000+globalIdx),
		OrderType:             fmt.Sprintf("%d", rnd.Intn(8)+1),
		Supplier:              randomChoice(suppliers, rnd),
		ReferencedOrderNumber: fmt.Sprintf("%06d", 200000+rnd.Intn(50000)),
		PartNumber:            fmt.Sprintf("%s%06d", randomChoice(partPrefixes, rnd), rnd.Intn(1000000)),
		OrderedQuantity:       decimal.NewNullDecimal(qty),
		OrderedValue:          decimal.NewNullDecimal(qty.Mul(price)),
		BacklogQuantity:       decimal.NewNullDecimal(qty),
		BacklogValue:          decimal.NewNullDecimal(qty.Mul(price)),
		OriginCode:            "W",
		OriginText:            "Werkstatt",
		Relevant:              true,
		DueDate:               &due,
		SourceRow:             globalIdx + 2,
	}
}

var (
	concerns     = []string{"VOLV", "POLE", "HYUN", "KIA"}
	suppliers    = []string{"Volvo Parts", "Polestar Logistics", "Hyundai Mobis", "Kia Parts"}
	partPrefixes = []string{"VO", "PS", "HY", "KI"}
)

func randomChoice(items []string, rnd *rand.Rand) string {
	return items[rnd.Intn(len(items))]
}
