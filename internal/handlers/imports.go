package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/appctx"
	"github.com/Ramsey-B/fern/pkg/importer"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/repositories"
	"github.com/Ramsey-B/fern/pkg/scheduler"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/transfer"
)

// DefaultHistoryLimit caps GET /imports/:id/history without a limit
const DefaultHistoryLimit = 50

// Runner runs one configuration on demand
type Runner interface {
	RunConfiguration(ctx context.Context, id uuid.UUID) (*models.ImportResult, error)
}

// ImportHandler handles import configuration API requests
type ImportHandler struct {
	configs   repositories.ConfigurationStore
	history   repositories.HistoryStore
	scheduler *scheduler.Scheduler
	executor  *importer.Executor
	runner    Runner
	logger    ectologger.Logger
}

// NewImportHandler creates a new import handler
func NewImportHandler(
	configs repositories.ConfigurationStore,
	history repositories.HistoryStore,
	sched *scheduler.Scheduler,
	executor *importer.Executor,
	runner Runner,
	logger ectologger.Logger,
) *ImportHandler {
	return &ImportHandler{
		configs:   configs,
		history:   history,
		scheduler: sched,
		executor:  executor,
		runner:    runner,
		logger:    logger,
	}
}

// RegisterRoutes registers the import routes
func (h *ImportHandler) RegisterRoutes(g *echo.Group) {
	imports := g.Group("/imports")
	imports.POST("", h.Create)
	imports.GET("", h.List)
	imports.GET("/:id", h.Get)
	imports.PUT("/:id", h.Update)
	imports.DELETE("/:id", h.Delete)

	imports.POST("/:id/run", h.Run)
	imports.POST("/:id/preview", h.Preview)
	imports.POST("/:id/test-connection", h.TestConnection)
	imports.POST("/:id/schedule", h.InitializeSchedule)
	imports.GET("/:id/history", h.History)
	imports.GET("/:id/statistics", h.Statistics)
}

func bindRequest(c echo.Context) (*models.ImportConfigurationRequest, error) {
	var req models.ImportConfigurationRequest
	if err := c.Bind(&req); err != nil {
		return nil, BadRequest("invalid request body")
	}
	if err := transfer.ValidateRequest(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

// Create handles POST /imports
func (h *ImportHandler) Create(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ImportHandler.Create")
	defer span.End()

	req, err := bindRequest(c)
	if err != nil {
		return err
	}

	cfg := &models.ImportConfiguration{ScheduleState: models.ScheduleStateUnscheduled}
	req.ApplyTo(cfg)
	cfg.CreatedBy = operator(ctx)
	cfg.UpdatedBy = cfg.CreatedBy

	if err := h.configs.Create(ctx, cfg); err != nil {
		return err
	}
	if cfg.IsEnabled && cfg.Frequency != models.FrequencyNone {
		if err := h.scheduler.InitializeSchedule(ctx, cfg); err != nil {
			return err
		}
	}

	return CreatedResponse(c, cfg)
}

// List handles GET /imports
func (h *ImportHandler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ImportHandler.List")
	defer span.End()

	configs, err := h.configs.List(ctx)
	if err != nil {
		return err
	}
	if configs == nil {
		configs = []models.ImportConfiguration{}
	}
	return SuccessResponse(c, configs)
}

// Get handles GET /imports/:id
func (h *ImportHandler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ImportHandler.Get")
	defer span.End()

	cfg, err := h.load(ctx, c)
	if err != nil {
		return err
	}
	return SuccessResponse(c, cfg)
}

// Update handles PUT /imports/:id. A changed cadence re-initializes the schedule.
func (h *ImportHandler) Update(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ImportHandler.Update")
	defer span.End()

	cfg, err := h.load(ctx, c)
	if err != nil {
		return err
	}
	req, err := bindRequest(c)
	if err != nil {
		return err
	}

	reschedule := req.ScheduleChanged(cfg)
	req.ApplyTo(cfg)
	cfg.UpdatedBy = operator(ctx)
	if err := h.configs.Update(ctx, cfg); err != nil {
		return err
	}

	if reschedule {
		if err := h.initialize(ctx, cfg); err != nil {
			return err
		}
	}

	updated, err := h.configs.GetByID(ctx, cfg.ID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, updated)
}

// Delete handles DELETE /imports/:id. History rows go with the configuration.
func (h *ImportHandler) Delete(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ImportHandler.Delete")
	defer span.End()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}
	if err := h.configs.Delete(ctx, id); err != nil {
		return err
	}

	// the in-memory history store has no foreign key to cascade through
	if cascader, ok := h.history.(interface{ DeleteConfiguration(uuid.UUID) }); ok {
		cascader.DeleteConfiguration(id)
	}
	return NoContentResponse(c)
}

// Run handles POST /imports/:id/run
func (h *ImportHandler) Run(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ImportHandler.Run")
	defer span.End()

	id, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	result, err := h.runner.RunConfiguration(ctx, id)
	if err != nil {
		return err
	}
	return SuccessResponse(c, result)
}

// Preview handles POST /imports/:id/preview. Nothing is pushed.
func (h *ImportHandler) Preview(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ImportHandler.Preview")
	defer span.End()

	cfg, err := h.load(ctx, c)
	if err != nil {
		return err
	}
	schema, err := h.executor.ResolveSchema(ctx, cfg)
	if err != nil {
		return err
	}

	preview, err := h.executor.PreviewImport(ctx, cfg, schema)
	if err != nil {
		return err
	}
	return SuccessResponse(c, preview)
}

// TestConnection handles POST /imports/:id/test-connection. A failed
// connection is a 200 with success false.
func (h *ImportHandler) TestConnection(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ImportHandler.TestConnection")
	defer span.End()

	cfg, err := h.load(ctx, c)
	if err != nil {
		return err
	}
	return SuccessResponse(c, h.executor.TestConnection(ctx, cfg))
}

// InitializeSchedule handles POST /imports/:id/schedule
func (h *ImportHandler) InitializeSchedule(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ImportHandler.InitializeSchedule")
	defer span.End()

	cfg, err := h.load(ctx, c)
	if err != nil {
		return err
	}
	if err := h.initialize(ctx, cfg); err != nil {
		return err
	}
	return SuccessResponse(c, cfg)
}

// History handles GET /imports/:id/history?limit=
func (h *ImportHandler) History(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ImportHandler.History")
	defer span.End()

	cfg, err := h.load(ctx, c)
	if err != nil {
		return err
	}
	limit, err := QueryInt(c, "limit", DefaultHistoryLimit)
	if err != nil {
		return err
	}
	if limit <= 0 || limit > 1000 {
		return BadRequest("invalid limit: must be between 1 and 1000")
	}

	rows, err := h.history.ListByConfiguration(ctx, cfg.ID, limit)
	if err != nil {
		return err
	}
	if rows == nil {
		rows = []models.ImportExecutionHistory{}
	}
	return SuccessResponse(c, rows)
}

// Statistics handles GET /imports/:id/statistics?from=
func (h *ImportHandler) Statistics(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "ImportHandler.Statistics")
	defer span.End()

	cfg, err := h.load(ctx, c)
	if err != nil {
		return err
	}
	from, err := QueryTime(c, "from")
	if err != nil {
		return err
	}

	stats, err := h.scheduler.GetStatistics(ctx, cfg.ID, from)
	if err != nil {
		return err
	}
	return SuccessResponse(c, stats)
}

func (h *ImportHandler) load(ctx context.Context, c echo.Context) (*models.ImportConfiguration, error) {
	id, err := ParseUUID(c, "id")
	if err != nil {
		return nil, err
	}
	return h.configs.GetByID(ctx, id)
}

// operator is the caller's user id, nil when the request carried none
func operator(ctx context.Context) *string {
	if id := appctx.GetUserID(ctx); id != "" {
		return &id
	}
	return nil
}

func (h *ImportHandler) initialize(ctx context.Context, cfg *models.ImportConfiguration) error {
	err := h.scheduler.InitializeSchedule(ctx, cfg)
	if errors.Is(err, scheduler.ErrInvalidTransition) {
		return httperror.NewHTTPErrorf(http.StatusConflict, "import configuration %s is %s and cannot be rescheduled now", cfg.ID, cfg.ScheduleState)
	}
	return err
}
