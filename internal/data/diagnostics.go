package data

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Probe describes one hot query whose plan should hit an index.
type Probe struct {
	Type        string
	Name        string
	Description string
	Query       string
	Args        []interface{}
}

// ProbeResult captures timing and explain output for a probe.
type ProbeResult struct {
	Type        string
	Name        string
	Description string
	Duration    time.Duration
	RowCount    int64
	Explain     []string
	Err         error
}

// HotQueries lists the statements the jobs issue per row or per run.
func HotQueries() []Probe {
	return []Probe{
		{
			Type:        "import",
			Name:        "natural-key lookup",
			Description: "upsert conflict target (concern, order_number, part_number)",
			Query:       "SELECT id, content_hash FROM backlog_lines WHERE concern = ? AND order_number = ? AND part_number = ?",
			Args:        []interface{}{"VOLV", "1000000", "VO000000"},
		},
		{
			Type:        "import",
			Name:        "sweep candidates",
			Description: "full key scan with annotation join before the sweep",
			Query: "SELECT o.id, o.concern, o.order_number, o.part_number, a.service_advisor " +
				"FROM backlog_lines o LEFT JOIN backlog_annotations a ON a.backlog_line_id = o.id",
		},
		{
			Type:        "reconcile",
			Name:        "match by order number",
			Description: "delivery note carries the parts order number",
			Query:       "SELECT id, backlog_quantity FROM backlog_lines WHERE part_number = ? AND order_number = ? ORDER BY id",
			Args:        []interface{}{"VO000000", "1000000"},
		},
		{
			Type:        "reconcile",
			Name:        "match by referenced order",
			Description: "delivery note carries the customer order reference",
			Query:       "SELECT id, backlog_quantity FROM backlog_lines WHERE part_number = ? AND referenced_order_number = ? ORDER BY id",
			Args:        []interface{}{"VO000000", "200000"},
		},
		{
			Type:        "enrich",
			Name:        "latest run candidates",
			Description: "lines of the most recent import run with an order reference",
			Query:       "SELECT id, referenced_order_number FROM backlog_lines WHERE import_run_id = ? AND referenced_order_number <> ''",
			Args:        []interface{}{1},
		},
	}
}

// RunProbes executes each probe and collects its plan.
func RunProbes(ctx context.Context, db *gorm.DB, probes []Probe) []ProbeResult {
	results := make([]ProbeResult, 0, len(probes))
	for _, p := range probes {
		res := ProbeResult{Name: p.Name, Description: p.Description, Type: p.Type}

		start := time.Now()
		rows, err := db.WithContext(ctx).Raw(p.Query, p.Args...).Rows()
		if err != nil {
			res.Err = err
			results = append(results, res)
			continue
		}

		var count int64
		for rows.Next() {
			count++
		}
		rows.Close()

		res.Duration = time.Since(start)
		res.RowCount = count

		explain, err := explainQuery(ctx, db, p.Query, p.Args...)
		if err == nil {
			res.Explain = explain
		} else {
			res.Explain = []string{fmt.Sprintf("failed to collect EXPLAIN: %v", err)}
		}

		results = append(results, res)
	}
	return results
}

func explainQuery(ctx context.Context, db *gorm.DB, query string, args ...interface{}) ([]string, error) {
	lines, err := fetchExplain(ctx, db, "EXPLAIN ANALYZE "+query, args...)
	if err == nil {
		return lines, nil
	}
	lines, err = fetchExplain(ctx, db, "EXPLAIN "+query, args...)
	if err == nil {
		return lines, nil
	}
	return fetchExplain(ctx, db, "EXPLAIN QUERY PLAN "+query, args...)
}

func fetchExplain(ctx context.Context, db *gorm.DB, sql string, args ...interface{}) ([]string, error) {
	var rows []map[string]interface{}
	if err := db.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, err
	}

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		keys := make([]string, 0, len(row))
		for k := range row {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		lineParts := make([]string, 0, len(row))
		for _, k := range keys {
			lineParts = append(lineParts, fmt.Sprintf("%s=%v", k, row[k]))
		}
		lines = append(lines, strings.Join(lineParts, " "))
	}
	return lines, nil
}
