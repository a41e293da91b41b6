package transform

import (
	"strings"

	"github.com/smartsheet-platform/project-online-import-sub000/pkg/migrate"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/projectonline"
)

// mapAssignments adds the assignment column pair to the task sheet and fills
// each task row with the resources assigned to it. It creates no sheet of its
// own. An assignment referencing a task or resource absent from the batch
// aborts the pipeline before any row is modified.
func mapAssignments(taskSheet *SheetPlan, batch *projectonline.Batch) error {
	taskRow := make(map[string]int, len(batch.Tasks))
	for i := range batch.Tasks {
		taskRow[batch.Tasks[i].ID] = i
	}
	resources := make(map[string]*projectonline.Resource, len(batch.Resources))
	for i := range batch.Resources {
		resources[batch.Resources[i].ID] = &batch.Resources[i]
	}

	// Validate every reference before touching the sheet, so a dangling
	// assignment writes no partial data.
	type placement struct {
		rowIdx  int
		name    string
		percent float64
		workHrs float64
	}
	placements := make([]placement, 0, len(batch.Assignments))
	for i := range batch.Assignments {
		a := &batch.Assignments[i]

		rowIdx, ok := taskRow[a.TaskID]
		if !ok {
			return danglingError("assignment references a task outside the batch", a.ID)
		}
		res, ok := resources[a.ResourceID]
		if !ok {
			return danglingError("assignment references a resource outside the batch", a.ID)
		}
		workHrs, err := ParseHours(a.Work)
		if err != nil {
			return err
		}
		placements = append(placements, placement{
			rowIdx:  rowIdx,
			name:    res.Name,
			percent: RescaleUnits(a.Units),
			workHrs: workHrs,
		})
	}

	taskSheet.Columns = append(taskSheet.Columns,
		ColumnDef{Title: ColAssignees, Kind: ColumnKindText},
		ColumnDef{Title: ColAllocation, Kind: ColumnKindText},
	)

	assignees := make(map[int][]string)
	allocations := make(map[int][]float64)
	for _, pl := range placements {
		label := pl.name
		if pl.workHrs != 0 {
			label += " (" + formatHours(pl.workHrs) + "h)"
		}
		assignees[pl.rowIdx] = append(assignees[pl.rowIdx], label)
		allocations[pl.rowIdx] = append(allocations[pl.rowIdx], pl.percent)
	}

	for rowIdx, names := range assignees {
		row := &taskSheet.Rows[rowIdx]
		row.Cells[ColAssignees] = strings.Join(names, "; ")
		row.Cells[ColAllocation] = renderAllocation(allocations[rowIdx])
	}
	return nil
}

// renderAllocation keeps a single allocation numeric so it round-trips
// exactly; multiple allocations join into a semicolon-separated list.
func renderAllocation(percents []float64) interface{} {
	if len(percents) == 1 {
		return percents[0]
	}
	parts := make([]string, len(percents))
	for i, p := range percents {
		parts[i] = formatHours(p)
	}
	return strings.Join(parts, "; ")
}

func danglingError(msg, assignmentID string) error {
	return migrate.NewDataError(msg, nil).
		WithCode(migrate.ErrCodeDanglingReference).
		WithPhase(migrate.PhaseTransform).
		WithEntity(assignmentID)
}
