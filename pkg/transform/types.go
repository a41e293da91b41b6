// Package transform converts an extracted project batch into destination
// sheet structures. Four mappers run in a fixed order: project, task,
// resource, assignment. The pipeline works entirely on in-memory data and
// produces a WorkspacePlan for the provisioning layer to apply.
package transform

import (
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/smartsheet"
)

// Sheet and column names of the destination schema.
const (
	SheetNameSummary   = "Project Summary"
	SheetNameTasks     = "Tasks"
	SheetNameResources = "Resources"

	ColField = "Field"
	ColValue = "Value"

	ColTaskName       = "Task Name"
	ColDuration       = "Duration (hrs)"
	ColWork           = "Work (hrs)"
	ColPercent        = "% Complete"
	ColMilestone      = "Milestone"
	ColPredecessors   = "Predecessors"
	ColConstraintType = "Constraint Type"
	ColConstraintDate = "Constraint Date"
	ColLateStart      = "Late Start"
	ColLateFinish     = "Late Finish"
	ColTotalSlack     = "Total Slack (hrs)"
	ColFreeSlack      = "Free Slack (hrs)"
	ColAssignees      = "Assigned Resources"
	ColAllocation     = "Allocation %"

	ColResourceName = "Resource Name"
	ColResourceType = "Type"
	ColRate         = "Rate"
	ColMaxUnits     = "Max Units %"
	ColGroup        = "Group"
)

// Column value kinds, expressed in the destination's column type vocabulary
// so plans translate to sheet specs without remapping.
const (
	ColumnKindText     = smartsheet.ColumnTypeText
	ColumnKindDate     = smartsheet.ColumnTypeDate
	ColumnKindCheckbox = smartsheet.ColumnTypeCheckbox
)

// ColumnDef declares one destination column.
type ColumnDef struct {
	Title   string
	Kind    string
	Primary bool
}

// RowPlan is one destination row keyed by column title. ParentPosition is the
// 1-based position of the row's parent within the same sheet, or zero for a
// top-level row; parents always precede their children in the Rows slice.
type RowPlan struct {
	Cells          map[string]interface{}
	ParentPosition int
}

// SheetPlan declares one sheet with its columns and ordered rows.
type SheetPlan struct {
	Name    string
	Columns []ColumnDef
	Rows    []RowPlan
}

// WorkspacePlan is the complete transformation output for one project.
type WorkspacePlan struct {
	// WorkspaceName carries the correlation marker used for idempotent
	// re-resolution.
	WorkspaceName string

	// ProjectID is the source project identity the workspace correlates to.
	ProjectID string

	Summary   SheetPlan
	Tasks     SheetPlan
	Resources SheetPlan
}

// Sheets returns the three base sheets in creation order.
func (p *WorkspacePlan) Sheets() []*SheetPlan {
	return []*SheetPlan{&p.Summary, &p.Tasks, &p.Resources}
}
