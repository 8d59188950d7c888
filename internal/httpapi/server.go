// Package httpapi exposes the backlog jobs to the scheduler over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"dealer-backlog/internal/backlog"
	"dealer-backlog/internal/jobs"
	"dealer-backlog/internal/logging"
	"dealer-backlog/internal/rules"
	"dealer-backlog/internal/snapshot"
)

// Jobs is the job surface the routes call; *jobs.Runner implements it.
type Jobs interface {
	Import(ctx context.Context, file string) (jobs.Report, error)
	ImportSupplier(ctx context.Context, brand string) (jobs.Report, error)
	Reconcile(ctx context.Context, days int) (jobs.Report, error)
	SyncDueDates(ctx context.Context, allRuns bool) (jobs.Report, error)
	SyncAdvisors(ctx context.Context, allRuns, force bool) (jobs.Report, error)
}

type server struct {
	jobs     Jobs
	store    *backlog.Store
	log      logrus.FieldLogger
	now      func() time.Time
	location *time.Location
}

// Options configures New. Zero values fall back to the standard logger,
// time.Now and UTC.
type Options struct {
	Log      logrus.FieldLogger
	Now      func() time.Time
	Location *time.Location
}

// New builds the gin engine.
func New(j Jobs, store *backlog.Store, opts Options) *gin.Engine {
	s := &server{jobs: j, store: store, log: opts.Log, now: opts.Now, location: opts.Location}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.location == nil {
		s.location = time.UTC
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/backlog/overdue", s.overdue)

	grp := r.Group("/jobs")
	grp.POST("/import", s.importSnapshot)
	grp.POST("/import-supplier", s.importSupplier)
	grp.POST("/reconcile-inbound", s.reconcile)
	grp.POST("/sync-due-dates", s.syncDueDates)
	grp.POST("/sync-advisors", s.syncAdvisors)
	return r
}

func (s *server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Info("request")
	}
}

// importSnapshot only accepts file overrides inside the import directory.
func (s *server) importSnapshot(c *gin.Context) {
	file := strings.TrimSpace(c.Query("file"))
	if file != "" && !filepath.IsLocal(file) {
		s.fail(c, http.StatusBadRequest, fmt.Errorf("file %q must be relative to the import directory", file))
		return
	}
	rep, err := s.jobs.Import(c.Request.Context(), file)
	s.respond(c, rep, err)
}

func (s *server) importSupplier(c *gin.Context) {
	brand := strings.TrimSpace(c.Query("brand"))
	if brand == "" {
		s.fail(c, http.StatusBadRequest, errors.New("parameter brand is required"))
		return
	}
	rep, err := s.jobs.ImportSupplier(c.Request.Context(), brand)
	s.respond(c, rep, err)
}

func (s *server) reconcile(c *gin.Context) {
	days := -1
	if raw := strings.TrimSpace(c.Query("days")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.fail(c, http.StatusBadRequest, fmt.Errorf("invalid days %q", raw))
			return
		}
		days = n
	}
	rep, err := s.jobs.Reconcile(c.Request.Context(), days)
	s.respond(c, rep, err)
}

func (s *server) syncDueDates(c *gin.Context) {
	rep, err := s.jobs.SyncDueDates(c.Request.Context(), flag(c, "all"))
	s.respond(c, rep, err)
}

func (s *server) syncAdvisors(c *gin.Context) {
	rep, err := s.jobs.SyncAdvisors(c.Request.Context(), flag(c, "all"), flag(c, "force"))
	s.respond(c, rep, err)
}

type overdueLine struct {
	ID                    uint                `json:"id"`
	Concern               string              `json:"concern"`
	OrderNumber           string              `json:"order_number"`
	PartNumber            string              `json:"part_number"`
	ReferencedOrderNumber string              `json:"referenced_order_number"`
	DueDate               string              `json:"due_date"`
	BacklogQuantity       decimal.NullDecimal `json:"backlog_quantity"`
}

func (s *server) overdue(c *gin.Context) {
	asOf := rules.SnapshotDate(s.now(), s.location)
	if raw := strings.TrimSpace(c.Query("as_of")); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			s.fail(c, http.StatusBadRequest, fmt.Errorf("invalid as_of %q", raw))
			return
		}
		asOf = t
	}
	lines, err := s.store.Overdue(c.Request.Context(), asOf)
	if err != nil {
		logging.LogError(s.log, "httpapi", "overdue", "load overdue lines", asOf, err)
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	out := make([]overdueLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, overdueLine{
			ID:                    l.ID,
			Concern:               l.Concern,
			OrderNumber:           l.OrderNumber,
			PartNumber:            l.PartNumber,
			ReferencedOrderNumber: l.ReferencedOrderNumber,
			DueDate:               l.DueDate.Format("2006-01-02"),
			BacklogQuantity:       l.BacklogQuantity,
		})
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "as_of": asOf.Format("2006-01-02"), "lines": out})
}

func (s *server) respond(c *gin.Context, rep jobs.Report, err error) {
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, jobs.ErrJobBusy):
			status = http.StatusConflict
		case errors.Is(err, snapshot.ErrUnknownImport):
			status = http.StatusNotFound
		}
		if flag(c, "debug") {
			c.String(status, "%sERROR: %v\n", traceText(rep), err)
			return
		}
		s.fail(c, status, err)
		return
	}

	if flag(c, "debug") {
		var b strings.Builder
		b.WriteString(traceText(rep))
		b.WriteString("\n")
		fmt.Fprintf(&b, "job: %s\nrun_id: %s\n", rep.Job, rep.RunID)
		if rep.ImportRunID != 0 {
			fmt.Fprintf(&b, "import_run_id: %d\n", rep.ImportRunID)
		}
		for _, cnt := range rep.Counts {
			if lines, ok := cnt.Value.([]string); ok {
				for _, l := range lines {
					fmt.Fprintf(&b, "%s: %s\n", cnt.Name, l)
				}
				continue
			}
			fmt.Fprintf(&b, "%s: %s\n", cnt.Name, jobs.FormatCount(cnt.Value))
		}
		c.String(http.StatusOK, "%s", b.String())
		return
	}
	c.JSON(http.StatusOK, rep.Envelope())
}

func (s *server) fail(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{"status": "error", "message": err.Error()})
}

func traceText(rep jobs.Report) string {
	if len(rep.Trace) == 0 {
		return ""
	}
	return strings.Join(rep.Trace, "\n") + "\n"
}

// flag accepts 1/true/yes/on.
func flag(c *gin.Context, name string) bool {
	switch strings.ToLower(strings.TrimSpace(c.Query(name))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
