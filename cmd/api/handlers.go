package main

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/therealutkarshpriyadarshi/testmatrix/internal/app"
	"github.com/therealutkarshpriyadarshi/testmatrix/internal/database"
	"github.com/therealutkarshpriyadarshi/testmatrix/pkg/models"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

// API serves the generated matrix and the published runs
type API struct {
	app *app.App
}

func newAPI(a *app.App) *API {
	return &API{app: a}
}

// Health check endpoint
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true

	if api.app.DB != nil {
		if err := api.app.DB.Health(ctx); err != nil {
			checks["database"] = err.Error()
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	}
	if api.app.Cache != nil {
		if err := api.app.Cache.Ping(ctx); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}

	if api.app.Queue != nil {
		depth, err := api.app.Queue.GetQueueDepth()
		if err != nil {
			checks["queue"] = err.Error()
			healthy = false
		} else {
			dlq, _ := api.app.Queue.GetDLQDepth()
			checks["queue"] = gin.H{"depth": depth, "dlq_depth": dlq}
		}
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "checks": checks})
}

// List tests endpoint. Filters: generator, protocol, skipped, match (regular expression).
func (api *API) listTests(c *gin.Context) {
	tests, err := api.app.Manager.ListTests(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var match *regexp.Regexp
	if expr := c.Query("match"); expr != "" {
		match, err = regexp.Compile(expr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid match expression: " + err.Error()})
			return
		}
	}

	var skipped *bool
	if v := c.Query("skipped"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid skipped value"})
			return
		}
		skipped = &b
	}

	generator := c.Query("generator")
	protocol := c.Query("protocol")

	specs := make([]models.TestSpec, 0, len(tests))
	for _, t := range tests {
		switch {
		case generator != "" && t.Generator != generator:
			continue
		case protocol != "" && t.Protocol().String() != protocol:
			continue
		case skipped != nil && t.Skip != *skipped:
			continue
		case match != nil && !match.MatchString(t.Classname):
			continue
		}
		specs = append(specs, t.Spec())
	}

	c.JSON(http.StatusOK, gin.H{
		"tests": specs,
		"count": len(specs),
	})
}

// Get test endpoint
func (api *API) getTest(c *gin.Context) {
	classname := c.Param("classname")

	tests, err := api.app.Manager.ListTests(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	for _, t := range tests {
		if t.Classname == classname {
			c.JSON(http.StatusOK, t.Spec())
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "Test not found"})
}

type assetResponse struct {
	URI              string          `json:"uri"`
	InfoPath         string          `json:"info_path,omitempty"`
	Protocol         models.Protocol `json:"protocol"`
	Duration         time.Duration   `json:"duration"`
	Seekable         bool            `json:"seekable"`
	SpecialScenarios []string        `json:"special_scenarios,omitempty"`
}

// List assets endpoint
func (api *API) listAssets(c *gin.Context) {
	assets, err := api.app.Manager.Assets(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	out := make([]assetResponse, 0, len(assets))
	for _, a := range assets {
		r := assetResponse{
			URI:      a.URI,
			InfoPath: a.InfoPath,
			Protocol: a.Descriptor.Protocol(),
			Duration: models.TicksToDuration(a.Descriptor.Duration()),
			Seekable: a.Descriptor.IsSeekable(),
		}
		for _, s := range a.SpecialScenarios {
			r.SpecialScenarios = append(r.SpecialScenarios, s.Name())
		}
		out = append(out, r)
	}

	c.JSON(http.StatusOK, gin.H{"assets": out, "count": len(out)})
}

// List generators endpoint
func (api *API) listGenerators(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"generators": api.app.Manager.Generators()})
}

// List blacklist endpoint
func (api *API) listBlacklist(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": api.app.Manager.Blacklist().Rules()})
}

// List pending bugs endpoint
func (api *API) listPending(c *gin.Context) {
	pending := api.app.Manager.Blacklist().Pending()
	if pending == nil {
		pending = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"pending": pending})
}

type publishRequest struct {
	RunID string `json:"run_id"`
}

// Publish run endpoint
func (api *API) publishRun(c *gin.Context) {
	var req publishRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	res, err := api.app.Publish(c.Request.Context(), req.RunID)
	if err != nil {
		if errors.Is(err, app.ErrPublishInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	body := gin.H{
		"run":        res.Manifest.Summary(),
		"dispatched": res.Dispatched,
	}
	if res.Publication != nil {
		body["manifest_key"] = res.Publication.ManifestKey
		body["objects"] = res.Publication.Objects
	}
	c.JSON(http.StatusCreated, body)
}

// requireHistory answers 503 when run history is not configured
func (api *API) requireHistory(c *gin.Context) bool {
	if api.app.Repo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Run history is disabled"})
		return false
	}
	return true
}

// List runs endpoint
func (api *API) listRuns(c *gin.Context) {
	if !api.requireHistory(c) {
		return
	}

	limit := defaultRunsLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := api.app.Repo.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"limit": limit,
	})
}

// Get run endpoint
func (api *API) getRun(c *gin.Context) {
	if !api.requireHistory(c) {
		return
	}

	ctx := c.Request.Context()
	run, err := api.app.Repo.GetRun(ctx, c.Param("id"))
	if err != nil {
		respondRepoError(c, err, "Run not found")
		return
	}

	skipped, err := api.app.Repo.CountSkippedByGenerator(ctx, run.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run, "skipped_by_generator": skipped})
}

// Get one test of a run endpoint
func (api *API) getRunTest(c *gin.Context) {
	if !api.requireHistory(c) {
		return
	}

	spec, err := api.app.Repo.GetTest(c.Request.Context(), c.Param("id"), c.Param("classname"))
	if err != nil {
		respondRepoError(c, err, "Test not found")
		return
	}
	c.JSON(http.StatusOK, spec)
}

// Get run tests endpoint. Falls back to the manifest cache without run history.
func (api *API) getRunTests(c *gin.Context) {
	runID := c.Param("id")
	ctx := c.Request.Context()

	var (
		specs []models.TestSpec
		err   error
	)
	switch {
	case api.app.Repo != nil:
		specs, err = api.app.Repo.GetRunTests(ctx, runID)
	case api.app.Cache != nil:
		specs, err = api.app.Cache.GetManifest(ctx, runID)
	default:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Run history is disabled"})
		return
	}
	if err != nil {
		respondRepoError(c, err, "Run not found")
		return
	}
	if len(specs) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Run not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"run_id": runID, "tests": specs, "count": len(specs)})
}

// Delete run endpoint
func (api *API) deleteRun(c *gin.Context) {
	if !api.requireHistory(c) {
		return
	}
	runID := c.Param("id")
	ctx := c.Request.Context()

	if err := api.app.Repo.DeleteRun(ctx, runID); err != nil {
		respondRepoError(c, err, "Run not found")
		return
	}

	if api.app.Publisher != nil {
		if err := api.app.Publisher.Prune(ctx, runID); err != nil {
			api.app.Logger.WithRunID(runID).WithError(err).Warn("Failed to prune published objects")
		}
	}

	c.Status(http.StatusNoContent)
}

func respondRepoError(c *gin.Context, err error, notFound string) {
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFound})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
