package transform

import (
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/projectonline"
)

// mapProject produces the summary-sheet row set and declares the workspace's
// three base sheets.
func mapProject(project *projectonline.Project) *WorkspacePlan {
	summaryRow := func(field string, value interface{}) RowPlan {
		return RowPlan{Cells: map[string]interface{}{
			ColField: field,
			ColValue: value,
		}}
	}

	return &WorkspacePlan{
		WorkspaceName: WorkspaceNameFor(project),
		ProjectID:     project.ID,
		Summary: SheetPlan{
			Name: SheetNameSummary,
			Columns: []ColumnDef{
				{Title: ColField, Kind: ColumnKindText, Primary: true},
				{Title: ColValue, Kind: ColumnKindText},
			},
			Rows: []RowPlan{
				summaryRow("Project Name", project.Name),
				summaryRow("Owner", project.Owner),
				summaryRow("Start Date", dateOnly(project.StartDate)),
				summaryRow("Finish Date", dateOnly(project.FinishDate)),
				summaryRow("Status", project.Status),
				summaryRow("% Complete", project.PercentComplete),
				summaryRow("Source Project ID", project.ID),
			},
		},
		Tasks: SheetPlan{
			Name: SheetNameTasks,
			Columns: []ColumnDef{
				{Title: ColTaskName, Kind: ColumnKindText, Primary: true},
				{Title: ColDuration, Kind: ColumnKindText},
				{Title: ColWork, Kind: ColumnKindText},
				{Title: ColPercent, Kind: ColumnKindText},
				{Title: ColMilestone, Kind: ColumnKindCheckbox},
				{Title: ColPredecessors, Kind: ColumnKindText},
				{Title: ColConstraintType, Kind: ColumnKindText},
				{Title: ColConstraintDate, Kind: ColumnKindDate},
				{Title: ColLateStart, Kind: ColumnKindDate},
				{Title: ColLateFinish, Kind: ColumnKindDate},
				{Title: ColTotalSlack, Kind: ColumnKindText},
				{Title: ColFreeSlack, Kind: ColumnKindText},
			},
		},
		Resources: SheetPlan{
			Name: SheetNameResources,
			Columns: []ColumnDef{
				{Title: ColResourceName, Kind: ColumnKindText, Primary: true},
				{Title: ColResourceType, Kind: ColumnKindText},
				{Title: ColRate, Kind: ColumnKindText},
				{Title: ColMaxUnits, Kind: ColumnKindText},
				{Title: ColGroup, Kind: ColumnKindText},
			},
		},
	}
}

// dateOnly trims a source timestamp to its date part for DATE columns.
func dateOnly(ts string) string {
	for i := 0; i < len(ts); i++ {
		if ts[i] == 'T' {
			return ts[:i]
		}
	}
	return ts
}
