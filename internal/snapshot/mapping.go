package snapshot

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"dealer-backlog/internal/data"
)

var (
	ErrSourceNotFound    = errors.New("snapshot source not found")
	ErrMissingKeyColumns = errors.New("snapshot is missing key columns")
	ErrEmptySnapshot     = errors.New("snapshot contains no data rows")
	ErrUnknownImport     = errors.New("unknown import definition")
	ErrInvalidImport     = errors.New("invalid import definition")
)

// Canonical fields of the main snapshot.
const (
	FieldLineType                 = "line_type"
	FieldConcern                  = "concern"
	FieldOrderDate                = "order_date"
	FieldOrderNumber              = "order_number"
	FieldOrderType                = "order_type"
	FieldSupplier                 = "supplier"
	FieldReferencedCustomerNumber = "referenced_customer_number"
	FieldReferencedOrderNumber    = "referenced_order_number"
	FieldPartNumber               = "part_number"
	FieldPartKind                 = "part_kind"
	FieldOrderedQuantity          = "ordered_quantity"
	FieldOrderedValue             = "ordered_value"
	FieldBacklogQuantity          = "backlog_quantity"
	FieldBacklogValue             = "backlog_value"
	FieldOriginCode               = "origin_code"
	FieldOriginText               = "origin_text"
)

// DefaultHeaders is the header dictionary of the order system's export.
var DefaultHeaders = map[string]string{
	FieldLineType:                 "typ",
	FieldConcern:                  "bestellkonzern",
	FieldOrderDate:                "bestelldatum",
	FieldOrderNumber:              "bestellnummer",
	FieldOrderType:                "bestellart",
	FieldSupplier:                 "lieferant",
	FieldReferencedCustomerNumber: "bezugs-kunden-nr.",
	FieldReferencedOrderNumber:    "bezugs-auftrags-nr.",
	FieldPartNumber:               "teile-nr.",
	FieldPartKind:                 "teileart",
	FieldOrderedQuantity:          "bestell menge",
	FieldOrderedValue:             "bestell wert",
	FieldBacklogQuantity:          "rückstands menge",
	FieldBacklogValue:             "rückstands wert",
	FieldOriginCode:               "bestellherkunft code",
	FieldOriginText:               "bestellherkunft text",
}

var keyFields = []string{FieldConcern, FieldOrderNumber, FieldPartNumber}

// Columns resolves canonical fields to column positions.
type Columns map[string]int

// Get returns the cell of field in row, "" when the column is absent.
func (c Columns) Get(row []string, field string) string {
	col, ok := c[field]
	if !ok {
		return ""
	}
	return Cell(row, col)
}

// ResolveColumns matches headers (field -> header) against index. It
// returns the resolved columns and the fields whose header was not found,
// sorted.
func ResolveColumns(headers map[string]string, index map[string]int, fold bool) (Columns, []string) {
	cols := make(Columns, len(headers))
	var missing []string
	for field, header := range headers {
		key := strings.TrimSpace(header)
		if fold {
			key = strings.ToLower(key)
		}
		if key == "" {
			continue
		}
		if col, ok := index[key]; ok {
			cols[field] = col
		} else {
			missing = append(missing, field)
		}
	}
	sort.Strings(missing)
	return cols, missing
}

// Definition is a validated supplier import definition with its mapping.
type Definition struct {
	data.ImportDefinition
	Headers map[string]string
}

var validate = validator.New()

// LoadDefinition reads and validates the import definition of brand.
func LoadDefinition(ctx context.Context, db *gorm.DB, brand string) (Definition, error) {
	brand = strings.TrimSpace(brand)
	var def data.ImportDefinition
	err := db.WithContext(ctx).Where("brand = ?", brand).Take(&def).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownImport, brand)
	}
	if err != nil {
		return Definition{}, fmt.Errorf("load import definition %s: %w", brand, err)
	}
	if err := validate.Struct(def); err != nil {
		return Definition{}, fmt.Errorf("%w %s: %s", ErrInvalidImport, brand, describeValidation(err))
	}

	var mappings []data.ImportMapping
	if err := db.WithContext(ctx).Where("map_id = ?", def.MapID).Find(&mappings).Error; err != nil {
		return Definition{}, fmt.Errorf("load import mapping %d: %w", def.MapID, err)
	}
	headers := make(map[string]string, len(mappings))
	for _, m := range mappings {
		if m.Field == "id" || strings.TrimSpace(m.Header) == "" {
			continue
		}
		headers[m.Field] = m.Header
	}
	for _, f := range supplierRequired {
		if _, ok := headers[f]; !ok {
			return Definition{}, fmt.Errorf("%w %s: no header mapped for %s", ErrInvalidImport, brand, f)
		}
	}
	return Definition{ImportDefinition: def, Headers: headers}, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, ve := range verrs {
		parts = append(parts, ve.Field()+" "+ve.Tag())
	}
	return strings.Join(parts, ", ")
}

// LatestFile returns the match of pattern in dir that sorts last by name.
func LatestFile(dir, pattern string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return "", fmt.Errorf("%w: bad pattern %q: %v", ErrInvalidImport, pattern, err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: no file matches %s", ErrSourceNotFound, filepath.Join(dir, pattern))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches[0], nil
}
