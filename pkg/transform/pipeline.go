package transform

import (
	"fmt"
	"strings"

	"github.com/smartsheet-platform/project-online-import-sub000/pkg/projectonline"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/telemetry"
)

// correlationPrefix marks a workspace name with the source project identity
// so re-runs can locate the workspace without trusting the display name.
const correlationPrefix = "[po:"

// WorkspaceNameFor renders the workspace name with its correlation marker.
func WorkspaceNameFor(project *projectonline.Project) string {
	return fmt.Sprintf("%s %s%s]", project.Name, correlationPrefix, project.ID)
}

// CorrelatedProjectID extracts the source project id from a workspace name,
// or "" when the name carries no marker.
func CorrelatedProjectID(workspaceName string) string {
	i := strings.LastIndex(workspaceName, correlationPrefix)
	if i < 0 {
		return ""
	}
	rest := workspaceName[i+len(correlationPrefix):]
	j := strings.Index(rest, "]")
	if j < 0 {
		return ""
	}
	return rest[:j]
}

// Pipeline runs the four mappers in their fixed order. Later mappers consume
// positions produced by earlier ones, so the order is not configurable.
type Pipeline struct {
	logger *telemetry.Logger
}

// NewPipeline creates a Pipeline.
func NewPipeline(logger *telemetry.Logger) *Pipeline {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Pipeline{logger: logger.NewComponentLogger("transform")}
}

// Run transforms an extracted batch into a workspace plan.
func (p *Pipeline) Run(batch *projectonline.Batch) (*WorkspacePlan, error) {
	plan := mapProject(&batch.Project)

	if err := mapTasks(&plan.Tasks, batch.Tasks); err != nil {
		return nil, err
	}
	mapResources(&plan.Resources, batch.Resources)
	if err := mapAssignments(&plan.Tasks, batch); err != nil {
		return nil, err
	}

	p.logger.WithProjectID(batch.Project.ID).
		Infof("planned %d task rows, %d resource rows",
			len(plan.Tasks.Rows), len(plan.Resources.Rows))
	return plan, nil
}
