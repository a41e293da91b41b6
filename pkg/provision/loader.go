// Package provision is the orchestration core: it drives a full migration
// run through extract, transform, and load, and owns every idempotency check
// that makes re-runs safe. Workspace and sheet creation go through resolution
// first; running twice against the same source project reuses the correlated
// workspace instead of creating a second one.
package provision

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/smartsheet-platform/project-online-import-sub000/pkg/migrate"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/projectonline"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/smartsheet"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/telemetry"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/transform"
)

// Journal records run progress durably. Journal failures are logged and never
// fail a run.
type Journal interface {
	StartRun(ctx context.Context, runID, projectID string) error
	RecordTransition(ctx context.Context, runID string, state migrate.RunState) error
	FinishRun(ctx context.Context, runID string, state migrate.RunState, message string) error
}

// nopJournal discards all records.
type nopJournal struct{}

func (nopJournal) StartRun(context.Context, string, string) error { return nil }
func (nopJournal) RecordTransition(context.Context, string, migrate.RunState) error {
	return nil
}
func (nopJournal) FinishRun(context.Context, string, migrate.RunState, string) error {
	return nil
}

// Options controls a single migration run.
type Options struct {
	// DryRun stops after transformation and performs no destination writes.
	DryRun bool
}

// Result reports what a run did.
type Result struct {
	RunID     string
	ProjectID string
	State     migrate.RunState

	// WorkspaceID and Permalink are zero on dry runs.
	WorkspaceID int64
	Permalink   string

	// ReusedWorkspace is true when an existing correlated workspace was
	// updated instead of a new one created.
	ReusedWorkspace bool

	// Plan is the transformation output, populated on dry runs for display.
	Plan *transform.WorkspacePlan

	RowsWritten int
}

// Loader wires the extractor, pipeline, destination gateway, standards cache,
// and journal into one migration engine.
type Loader struct {
	extractor *projectonline.Extractor
	pipeline  *transform.Pipeline
	client    *smartsheet.Client
	standards *StandardsCache
	journal   Journal
	logger    *telemetry.Logger
	metrics   *telemetry.Metrics
	tracer    *telemetry.Tracer
}

// LoaderDeps collects the Loader's collaborators.
type LoaderDeps struct {
	Extractor *projectonline.Extractor
	Pipeline  *transform.Pipeline
	Client    *smartsheet.Client
	Standards *StandardsCache
	Journal   Journal
	Logger    *telemetry.Logger
	Metrics   *telemetry.Metrics
	Tracer    *telemetry.Tracer
}

// NewLoader creates a Loader. Journal, Logger, Metrics, and Tracer may be nil.
func NewLoader(deps LoaderDeps) *Loader {
	if deps.Journal == nil {
		deps.Journal = nopJournal{}
	}
	if deps.Logger == nil {
		deps.Logger = telemetry.NopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics, _ = telemetry.NewMetrics(telemetry.MetricsConfig{})
	}
	return &Loader{
		extractor: deps.Extractor,
		pipeline:  deps.Pipeline,
		client:    deps.Client,
		standards: deps.Standards,
		journal:   deps.Journal,
		logger:    deps.Logger.NewComponentLogger("loader"),
		metrics:   deps.Metrics,
		tracer:    deps.Tracer,
	}
}

// Migrate runs the full pipeline for one source project.
func (l *Loader) Migrate(ctx context.Context, projectID string, opts Options) (*Result, error) {
	runID := uuid.NewString()
	logger := l.logger.WithRunID(runID).WithProjectID(projectID)
	started := time.Now()

	l.metrics.RecordRunStarted(projectID)
	if err := l.journal.StartRun(ctx, runID, projectID); err != nil {
		logger.WithError(err).Warn("unable to journal run start")
	}

	result, err := l.run(ctx, runID, projectID, opts, logger)
	if err != nil {
		l.metrics.RecordRunCompleted("failed", time.Since(started))
		l.recordError(err)
		if jerr := l.journal.FinishRun(ctx, runID, migrate.RunStateFailed, err.Error()); jerr != nil {
			logger.WithError(jerr).Warn("unable to journal run failure")
		}
		return nil, err
	}

	l.metrics.RecordRunCompleted("complete", time.Since(started))
	if jerr := l.journal.FinishRun(ctx, runID, result.State, ""); jerr != nil {
		logger.WithError(jerr).Warn("unable to journal run completion")
	}
	return result, nil
}

func (l *Loader) run(ctx context.Context, runID, projectID string, opts Options, logger *telemetry.Logger) (*Result, error) {
	batch, err := l.extract(ctx, runID, projectID)
	if err != nil {
		return nil, err
	}

	plan, err := l.transformBatch(ctx, runID, projectID, batch)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		logger.Info("dry run, skipping destination writes")
		return &Result{
			RunID:     runID,
			ProjectID: projectID,
			State:     migrate.RunStateNotStarted,
			Plan:      plan,
		}, nil
	}

	return l.load(ctx, runID, plan, logger)
}

func (l *Loader) extract(ctx context.Context, runID, projectID string) (*projectonline.Batch, error) {
	ctx, span := l.startSpan(ctx, string(migrate.PhaseExtract), runID, projectID)
	batch, err := l.extractor.ExtractProject(ctx, projectID)
	l.endSpan(span, err)
	return batch, err
}

func (l *Loader) transformBatch(ctx context.Context, runID, projectID string, batch *projectonline.Batch) (*transform.WorkspacePlan, error) {
	_, span := l.startSpan(ctx, string(migrate.PhaseTransform), runID, projectID)
	plan, err := l.pipeline.Run(batch)
	l.endSpan(span, err)
	return plan, err
}

// load applies a workspace plan to the destination, advancing the run state
// machine as each stage lands.
func (l *Loader) load(ctx context.Context, runID string, plan *transform.WorkspacePlan, logger *telemetry.Logger) (*Result, error) {
	ctx, span := l.startSpan(ctx, string(migrate.PhaseLoad), runID, plan.ProjectID)

	result, err := l.loadPlan(ctx, runID, plan, logger)
	l.endSpan(span, err)
	return result, err
}

func (l *Loader) loadPlan(ctx context.Context, runID string, plan *transform.WorkspacePlan, logger *telemetry.Logger) (*Result, error) {
	result := &Result{
		RunID:     runID,
		ProjectID: plan.ProjectID,
		State:     migrate.RunStateNotStarted,
		Plan:      plan,
	}
	advance := func(next migrate.RunState) error {
		if !result.State.CanAdvanceTo(next) {
			return migrate.NewPermanentError("illegal run state transition", nil).
				WithCode(migrate.ErrCodeInternal).WithPhase(migrate.PhaseLoad)
		}
		result.State = next
		if err := l.journal.RecordTransition(ctx, runID, next); err != nil {
			logger.WithError(err).Warn("unable to journal state transition")
		}
		return nil
	}

	if l.standards != nil {
		standardsID, err := l.standards.WorkspaceID(ctx)
		if err != nil {
			return nil, err
		}
		logger.WithWorkspaceID(standardsID).Debug("standards workspace ready")
	}

	ws, reused, err := l.resolveWorkspace(ctx, plan)
	if err != nil {
		return nil, err
	}
	result.WorkspaceID = ws.ID
	result.Permalink = ws.Permalink
	result.ReusedWorkspace = reused
	if err := advance(migrate.RunStateWorkspaceResolved); err != nil {
		return nil, err
	}
	logger = logger.WithWorkspaceID(ws.ID)

	sheets, err := l.materializeSheets(ctx, ws, plan, reused)
	if err != nil {
		return nil, err
	}
	if err := advance(migrate.RunStateSheetsCreated); err != nil {
		return nil, err
	}

	for _, planned := range plan.Sheets() {
		sheet := sheets[planned.Name]
		written, err := l.writeRows(ctx, sheet, planned, reused)
		if err != nil {
			return nil, err
		}
		result.RowsWritten += written
		l.metrics.RecordRowsWritten(planned.Name, written)
	}
	if err := advance(migrate.RunStateRowsPopulated); err != nil {
		return nil, err
	}

	// All entity data is in place; the workspace is consumable from here on.
	if err := advance(migrate.RunStatePublished); err != nil {
		return nil, err
	}
	if err := advance(migrate.RunStateComplete); err != nil {
		return nil, err
	}

	logger.Infof("migration complete, %d rows written", result.RowsWritten)
	return result, nil
}

// materializeSheets creates the plan's sheets in a fresh workspace, or maps
// the plan onto the sheets an existing workspace already has.
func (l *Loader) materializeSheets(ctx context.Context, ws *smartsheet.Workspace, plan *transform.WorkspacePlan, reused bool) (map[string]*smartsheet.Sheet, error) {
	sheets := make(map[string]*smartsheet.Sheet, 3)

	if reused {
		byName := make(map[string]int64, len(ws.Sheets))
		for _, s := range ws.Sheets {
			byName[s.Name] = s.ID
		}
		for _, planned := range plan.Sheets() {
			sheet, err := l.client.GetSheet(ctx, byName[planned.Name])
			if err != nil {
				return nil, err
			}
			sheets[planned.Name] = sheet
		}
		return sheets, nil
	}

	for _, planned := range plan.Sheets() {
		sheet, err := l.client.CreateSheet(ctx, ws.ID, sheetSpecFor(planned))
		if err != nil {
			return nil, err
		}
		sheets[planned.Name] = sheet
	}
	return sheets, nil
}

func sheetSpecFor(planned *transform.SheetPlan) smartsheet.SheetSpec {
	columns := make([]smartsheet.ColumnSpec, len(planned.Columns))
	for i, col := range planned.Columns {
		columns[i] = smartsheet.ColumnSpec{
			Title:   col.Title,
			Type:    col.Kind,
			Primary: col.Primary,
		}
	}
	return smartsheet.SheetSpec{Name: planned.Name, Columns: columns}
}

// writeRows inserts a sheet plan's rows. On reuse, existing rows are deleted
// first so a re-run replaces the sheet's content instead of appending a
// duplicate set. Task rows nest under their parents, so a child is only sent
// once its parent's row identifier is known.
func (l *Loader) writeRows(ctx context.Context, sheet *smartsheet.Sheet, planned *transform.SheetPlan, reused bool) (int, error) {
	if reused && len(sheet.Rows) > 0 {
		ids := make([]int64, len(sheet.Rows))
		for i, r := range sheet.Rows {
			ids[i] = r.ID
		}
		if err := l.client.DeleteRows(ctx, sheet.ID, ids); err != nil {
			return 0, err
		}
	}

	columnID := make(map[string]int64, len(sheet.Columns))
	for _, col := range sheet.Columns {
		columnID[col.Title] = col.ID
	}

	rowIDs := make([]int64, len(planned.Rows))
	var pending []smartsheet.RowSpec
	var pendingIdx []int

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		created, err := l.client.AddRows(ctx, sheet.ID, pending)
		if err != nil {
			return err
		}
		for j, row := range created {
			rowIDs[pendingIdx[j]] = row.ID
		}
		pending = pending[:0]
		pendingIdx = pendingIdx[:0]
		return nil
	}

	for i, row := range planned.Rows {
		var parentID *int64
		if row.ParentPosition > 0 {
			// Parents precede children, so the parent's id is either known
			// or sitting in the pending batch.
			if rowIDs[row.ParentPosition-1] == 0 {
				if err := flush(); err != nil {
					return 0, err
				}
			}
			id := rowIDs[row.ParentPosition-1]
			parentID = &id
		}
		pending = append(pending, smartsheet.RowSpec{
			ParentRowID: parentID,
			Cells:       cellsFor(columnID, row),
		})
		pendingIdx = append(pendingIdx, i)
	}
	if err := flush(); err != nil {
		return 0, err
	}
	return len(planned.Rows), nil
}

// cellsFor renders a planned row against the sheet's actual column ids,
// skipping empty values and columns the sheet does not carry.
func cellsFor(columnID map[string]int64, row transform.RowPlan) []smartsheet.Cell {
	cells := make([]smartsheet.Cell, 0, len(row.Cells))
	for title, value := range row.Cells {
		id, ok := columnID[title]
		if !ok {
			continue
		}
		if value == nil || value == "" {
			continue
		}
		cells = append(cells, smartsheet.Cell{ColumnID: id, Value: value})
	}
	return cells
}

func (l *Loader) startSpan(ctx context.Context, phase, runID, projectID string) (context.Context, trace.Span) {
	if l.tracer == nil {
		return ctx, nil
	}
	return l.tracer.StartPhaseSpan(ctx, phase, runID, projectID)
}

func (l *Loader) endSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	telemetry.EndSpan(span, err)
}

func (l *Loader) recordError(err error) {
	var merr *migrate.Error
	if errors.As(err, &merr) {
		l.metrics.RecordError(string(merr.Class))
		return
	}
	l.metrics.RecordError("unknown")
}
