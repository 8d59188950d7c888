package data

import (
	"time"

	"github.com/shopspring/decimal"
)

// Source systems recorded on ImportRun.
const (
	SourceMain     = "main"
	SourceSupplier = "supplier"
)

// BacklogLine is one open order line tracked as backlog. The natural key is
// (concern, order_number, part_number).
type BacklogLine struct {
	ID                       uint                `gorm:"primaryKey"`
	ImportRunID              uint                `gorm:"index"`
	LineType                 string              `gorm:"size:64"`
	Concern                  string              `gorm:"size:50;not null;uniqueIndex:uq_backlog_lines_key,priority:1"`
	OrderDate                *time.Time          `gorm:"type:date"`
	OrderNumber              string              `gorm:"size:100;not null;uniqueIndex:uq_backlog_lines_key,priority:2;index:idx_backlog_lines_order_part,priority:1"`
	OrderType                string              `gorm:"size:32"`
	Supplier                 string              `gorm:"size:120"`
	ReferencedCustomerNumber string              `gorm:"size:64"`
	ReferencedOrderNumber    string              `gorm:"size:100;index:idx_backlog_lines_ref_part,priority:1"`
	PartNumber               string              `gorm:"size:120;not null;uniqueIndex:uq_backlog_lines_key,priority:3;index:idx_backlog_lines_order_part,priority:2;index:idx_backlog_lines_ref_part,priority:2"`
	Description              string              `gorm:"size:255"`
	PartKind                 string              `gorm:"size:64"`
	OrderedQuantity          decimal.NullDecimal `gorm:"type:decimal(18,4)"`
	OrderedValue             decimal.NullDecimal `gorm:"type:decimal(18,4)"`
	BacklogQuantity          decimal.NullDecimal `gorm:"type:decimal(18,4)"`
	BacklogValue             decimal.NullDecimal `gorm:"type:decimal(18,4)"`
	OriginCode               string              `gorm:"size:32"`
	OriginText               string              `gorm:"size:255"`
	Relevant                 bool
	DueDate                  *time.Time `gorm:"type:date;index"`
	DueDateNote              *string    `gorm:"size:255"`
	SourceRow                int
	ContentHash              []byte `gorm:"type:binary(32)"`
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// ImportRun records one snapshot ingestion. Only the row counters change
// after insert.
type ImportRun struct {
	ID             uint      `gorm:"primaryKey"`
	SourceFilename string    `gorm:"size:255"`
	SourcePath     string    `gorm:"size:512"`
	ImportedAt     time.Time `gorm:"index"`
	RowsTotal      int
	RowsOK         int    `gorm:"column:rows_ok"`
	FileHash       []byte `gorm:"type:binary(32)"`
	Notes          string `gorm:"size:255"`
	SourceSystem   string `gorm:"size:16;index"`
	Supplier       string `gorm:"size:64"`
}

// BacklogAnnotation is side data keyed 1:1 to a BacklogLine.
type BacklogAnnotation struct {
	ID               uint       `gorm:"primaryKey"`
	BacklogLineID    uint       `gorm:"not null;uniqueIndex"`
	Comment          string     `gorm:"size:1000"`
	EstimatedDueDate *time.Time `gorm:"type:date"`
	ServiceAdvisor   string     `gorm:"size:120"`
	DunningSent      bool
	CustomerInformed bool
	UpdatedBy        string `gorm:"size:32"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DeliveryTermRule maps an order-type code to the backlog offset.
type DeliveryTermRule struct {
	ID           uint `gorm:"primaryKey"`
	OrderType    int  `gorm:"not null;uniqueIndex"`
	OffsetDays   int  `gorm:"not null"`
	UseOrderDate bool `gorm:"not null"`
}

func (DeliveryTermRule) TableName() string { return "delivery_terms" }

// IgnoredConcern lists concern names whose lines are never imported.
type IgnoredConcern struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"size:50;not null;uniqueIndex"`
}

func (IgnoredConcern) TableName() string { return "ignores" }

// ImportDefinition locates a supplier feed file and names its column mapping.
type ImportDefinition struct {
	ID       uint   `gorm:"primaryKey"`
	Brand    string `gorm:"size:64;not null;uniqueIndex" validate:"required"`
	Filename string `gorm:"size:255;not null" validate:"required"`
	MapID    uint   `gorm:"not null" validate:"required"`
	FileType string `gorm:"size:8;not null" validate:"oneof=csv excel"`
}

func (ImportDefinition) TableName() string { return "imports" }

// ImportMapping is one canonical field -> source header pair of a mapping.
type ImportMapping struct {
	ID     uint   `gorm:"primaryKey"`
	MapID  uint   `gorm:"not null;uniqueIndex:uq_import_mappings_field,priority:1"`
	Field  string `gorm:"size:64;not null;uniqueIndex:uq_import_mappings_field,priority:2"`
	Header string `gorm:"size:255"`
}

// SupplierImportItem is one normalised row of a per-supplier feed.
type SupplierImportItem struct {
	ID                uint                `gorm:"primaryKey"`
	ImportRunID       uint                `gorm:"index"`
	Brand             string              `gorm:"size:64;not null;uniqueIndex:uq_supplier_items_key,priority:1"`
	PartnerNumber     string              `gorm:"size:64"`
	OrderReference    string              `gorm:"size:100;not null;uniqueIndex:uq_supplier_items_key,priority:2"`
	PartNumber        string              `gorm:"size:120;not null;uniqueIndex:uq_supplier_items_key,priority:3"`
	CustomerReference string              `gorm:"size:100;index"`
	CreatedDate       *time.Time          `gorm:"type:date"`
	OrderType         string              `gorm:"size:32"`
	OrderedQuantity   decimal.NullDecimal `gorm:"type:decimal(18,4)"`
	ConfirmedQuantity decimal.NullDecimal `gorm:"type:decimal(18,4)"`
	OpenQuantity      decimal.NullDecimal `gorm:"type:decimal(18,4)"`
	LeadTimeSAP       *time.Time          `gorm:"type:date"`
	LeadTimeSupplier  *time.Time          `gorm:"type:date"`
	SupplierInfo      string              `gorm:"size:1000"`
	ChangedDate       *time.Time          `gorm:"type:date"`
	PartLocator       string              `gorm:"size:64"`
	SourceRow         int
	ContentHash       []byte `gorm:"type:binary(32)"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
