package projectonline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/smartsheet-platform/project-online-import-sub000/pkg/migrate"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/telemetry"
)

// Extractor pulls a project and its child collections out of the reporting
// endpoint, one paginated feed per entity type.
type Extractor struct {
	client   *Client
	pageSize int
	validate *validator.Validate
	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
}

// NewExtractor creates an Extractor on top of client. pageSize bounds each
// OData page via $top.
func NewExtractor(client *Client, pageSize int, logger *telemetry.Logger, metrics *telemetry.Metrics) *Extractor {
	if pageSize <= 0 {
		pageSize = 200
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	if metrics == nil {
		metrics, _ = telemetry.NewMetrics(telemetry.MetricsConfig{})
	}
	return &Extractor{
		client:   client,
		pageSize: pageSize,
		validate: validator.New(),
		logger:   logger.NewComponentLogger("extractor"),
		metrics:  metrics,
	}
}

// ListProjects returns every project visible to the authenticated user.
func (e *Extractor) ListProjects(ctx context.Context) ([]Project, error) {
	var projects []Project
	first := e.client.feedURL(fmt.Sprintf("Projects?$top=%d", e.pageSize))
	err := e.collect(ctx, first, "projects", func(raw json.RawMessage) (int, error) {
		var pageItems []Project
		if err := json.Unmarshal(raw, &pageItems); err != nil {
			return 0, migrate.NewPermanentError("malformed project records", err).
				WithPhase(migrate.PhaseExtract)
		}
		for i := range pageItems {
			if err := e.validate.Struct(&pageItems[i]); err != nil {
				return 0, migrate.NewDataError("invalid project record", err).
					WithCode(migrate.ErrCodeValidation).
					WithPhase(migrate.PhaseExtract).
					WithEntity(pageItems[i].ID)
			}
		}
		projects = append(projects, pageItems...)
		return len(pageItems), nil
	})
	if err != nil {
		return nil, err
	}
	return projects, nil
}

// ExtractProject fetches the project snapshot and its tasks, resources and
// assignments. A project with zero tasks is an empty result, not an error.
func (e *Extractor) ExtractProject(ctx context.Context, projectID string) (*Batch, error) {
	log := e.logger.WithProjectID(projectID)

	project, err := e.fetchProject(ctx, projectID)
	if err != nil {
		return nil, err
	}

	batch := &Batch{Project: *project}

	if batch.Tasks, err = e.fetchTasks(ctx, projectID); err != nil {
		return nil, err
	}
	if err := validateHierarchy(batch.Tasks); err != nil {
		return nil, err
	}

	if batch.Resources, err = e.fetchResources(ctx, projectID); err != nil {
		return nil, err
	}
	if batch.Assignments, err = e.fetchAssignments(ctx, projectID); err != nil {
		return nil, err
	}

	log.Infof("extracted %d tasks, %d resources, %d assignments",
		len(batch.Tasks), len(batch.Resources), len(batch.Assignments))
	return batch, nil
}

// fetchProject retrieves the single project entity.
func (e *Extractor) fetchProject(ctx context.Context, projectID string) (*Project, error) {
	url := e.client.feedURL(fmt.Sprintf("Projects(guid'%s')", projectID))
	pg, err := e.client.getPage(ctx, url)
	if err != nil {
		return nil, err
	}

	var project Project
	if err := json.Unmarshal(pg.results, &project); err != nil {
		return nil, migrate.NewPermanentError("malformed project record", err).
			WithPhase(migrate.PhaseExtract).WithEntity(projectID)
	}
	if err := e.validate.Struct(&project); err != nil {
		return nil, migrate.NewDataError("invalid project record", err).
			WithCode(migrate.ErrCodeValidation).
			WithPhase(migrate.PhaseExtract).
			WithEntity(projectID)
	}
	return &project, nil
}

func (e *Extractor) fetchTasks(ctx context.Context, projectID string) ([]Task, error) {
	var tasks []Task
	first := e.client.feedURL(fmt.Sprintf("Projects(guid'%s')/Tasks?$top=%d", projectID, e.pageSize))
	err := e.collect(ctx, first, "tasks", func(raw json.RawMessage) (int, error) {
		var pageItems []Task
		if err := json.Unmarshal(raw, &pageItems); err != nil {
			return 0, migrate.NewPermanentError("malformed task records", err).
				WithPhase(migrate.PhaseExtract)
		}
		for i := range pageItems {
			if err := e.validate.Struct(&pageItems[i]); err != nil {
				return 0, migrate.NewDataError("invalid task record", err).
					WithCode(migrate.ErrCodeValidation).
					WithPhase(migrate.PhaseExtract).
					WithEntity(pageItems[i].ID)
			}
		}
		tasks = append(tasks, pageItems...)
		return len(pageItems), nil
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

func (e *Extractor) fetchResources(ctx context.Context, projectID string) ([]Resource, error) {
	var resources []Resource
	first := e.client.feedURL(fmt.Sprintf("Projects(guid'%s')/Resources?$top=%d", projectID, e.pageSize))
	err := e.collect(ctx, first, "resources", func(raw json.RawMessage) (int, error) {
		var pageItems []Resource
		if err := json.Unmarshal(raw, &pageItems); err != nil {
			return 0, migrate.NewPermanentError("malformed resource records", err).
				WithPhase(migrate.PhaseExtract)
		}
		for i := range pageItems {
			if err := e.validate.Struct(&pageItems[i]); err != nil {
				return 0, migrate.NewDataError("invalid resource record", err).
					WithCode(migrate.ErrCodeValidation).
					WithPhase(migrate.PhaseExtract).
					WithEntity(pageItems[i].ID)
			}
		}
		resources = append(resources, pageItems...)
		return len(pageItems), nil
	})
	if err != nil {
		return nil, err
	}
	return resources, nil
}

func (e *Extractor) fetchAssignments(ctx context.Context, projectID string) ([]Assignment, error) {
	var assignments []Assignment
	first := e.client.feedURL(fmt.Sprintf("Projects(guid'%s')/Assignments?$top=%d", projectID, e.pageSize))
	err := e.collect(ctx, first, "assignments", func(raw json.RawMessage) (int, error) {
		var pageItems []Assignment
		if err := json.Unmarshal(raw, &pageItems); err != nil {
			return 0, migrate.NewPermanentError("malformed assignment records", err).
				WithPhase(migrate.PhaseExtract)
		}
		for i := range pageItems {
			if err := e.validate.Struct(&pageItems[i]); err != nil {
				return 0, migrate.NewDataError("invalid assignment record", err).
					WithCode(migrate.ErrCodeValidation).
					WithPhase(migrate.PhaseExtract).
					WithEntity(pageItems[i].ID)
			}
		}
		assignments = append(assignments, pageItems...)
		return len(pageItems), nil
	})
	if err != nil {
		return nil, err
	}
	return assignments, nil
}

// collect walks a feed from its first page, following the continuation link
// until the server stops returning one.
func (e *Extractor) collect(ctx context.Context, first, entity string, decode func(json.RawMessage) (int, error)) error {
	url := first
	for url != "" {
		pg, err := e.client.getPage(ctx, url)
		if err != nil {
			return err
		}
		n, err := decode(pg.results)
		if err != nil {
			return err
		}
		e.metrics.RecordPageFetched(entity, n)
		url = pg.next
	}
	return nil
}

// validateHierarchy checks the source-side ordering guarantee: every task's
// parent must appear at or before the task itself. A violation is a
// data-integrity failure, never silently reordered.
func validateHierarchy(tasks []Task) error {
	seen := make(map[string]bool, len(tasks))
	for i := range tasks {
		t := &tasks[i]
		if t.ParentID != nil {
			if *t.ParentID == t.ID {
				return migrate.NewDataError("task is its own parent", nil).
					WithCode(migrate.ErrCodeMalformedHierarchy).
					WithPhase(migrate.PhaseExtract).
					WithEntity(t.ID)
			}
			if !seen[*t.ParentID] {
				return migrate.NewDataError("task parent does not precede it in extraction order", nil).
					WithCode(migrate.ErrCodeMalformedHierarchy).
					WithPhase(migrate.PhaseExtract).
					WithEntity(t.ID)
			}
		} else if t.OutlineLevel > 1 {
			return migrate.NewDataError("non-root task has no parent reference", nil).
				WithCode(migrate.ErrCodeMalformedHierarchy).
				WithPhase(migrate.PhaseExtract).
				WithEntity(t.ID)
		}
		seen[t.ID] = true
	}
	return nil
}
