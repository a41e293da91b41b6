package transform

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/smartsheet-platform/project-online-import-sub000/pkg/migrate"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/projectonline"
)

// mapTasks flattens the task forest into destination rows. Extraction order
// already places every parent before its children, so row positions follow
// extraction order directly; a pre-pass assigns all positions before any
// predecessor string is rendered, because predecessor notation is
// position-relative.
func mapTasks(sheet *SheetPlan, tasks []projectonline.Task) error {
	// Pre-pass: stable 1-based row positions for every task.
	position := make(map[string]int, len(tasks))
	for i := range tasks {
		position[tasks[i].ID] = i + 1
	}

	rows := make([]RowPlan, 0, len(tasks))
	for i := range tasks {
		t := &tasks[i]

		duration, err := ParseHours(t.Duration)
		if err != nil {
			return taskFieldError(err, t.ID)
		}
		work, err := ParseHours(t.Work)
		if err != nil {
			return taskFieldError(err, t.ID)
		}
		totalSlack, err := ParseHours(t.TotalSlack)
		if err != nil {
			return taskFieldError(err, t.ID)
		}
		freeSlack, err := ParseHours(t.FreeSlack)
		if err != nil {
			return taskFieldError(err, t.ID)
		}

		predecessors, err := renderPredecessors(t, position)
		if err != nil {
			return err
		}

		parentPos := 0
		if t.ParentID != nil {
			parentPos = position[*t.ParentID]
		}

		rows = append(rows, RowPlan{
			ParentPosition: parentPos,
			Cells: map[string]interface{}{
				ColTaskName:       t.Name,
				ColDuration:       duration,
				ColWork:           work,
				ColPercent:        t.PercentComplete,
				ColMilestone:      t.IsMilestone,
				ColPredecessors:   predecessors,
				ColConstraintType: t.ConstraintType,
				ColConstraintDate: dateOnly(t.ConstraintDate),
				ColLateStart:      dateOnly(t.LateStart),
				ColLateFinish:     dateOnly(t.LateFinish),
				ColTotalSlack:     totalSlack,
				ColFreeSlack:      freeSlack,
			},
		})
	}

	sheet.Rows = rows
	return nil
}

// renderPredecessors converts a task's predecessor list into the
// destination's textual notation: row position, link-type marker, and a
// signed lag suffix when the lag is nonzero.
func renderPredecessors(t *projectonline.Task, position map[string]int) (string, error) {
	if len(t.Predecessors) == 0 {
		return "", nil
	}

	parts := make([]string, 0, len(t.Predecessors))
	for _, pred := range t.Predecessors {
		pos, ok := position[pred.TaskID]
		if !ok {
			return "", migrate.NewDataError("predecessor references a task outside the batch", nil).
				WithCode(migrate.ErrCodeDanglingReference).
				WithPhase(migrate.PhaseTransform).
				WithEntity(t.ID)
		}
		notation := fmt.Sprintf("%d%s", pos, pred.Type.Notation())
		if pred.LagHours > 0 {
			notation += "+" + formatHours(pred.LagHours) + "h"
		} else if pred.LagHours < 0 {
			notation += formatHours(pred.LagHours) + "h"
		}
		parts = append(parts, notation)
	}
	return strings.Join(parts, ", "), nil
}

// formatHours renders an hour count without trailing zeros.
func formatHours(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func taskFieldError(err error, taskID string) error {
	var merr *migrate.Error
	if errors.As(err, &merr) {
		return merr.WithEntity(taskID)
	}
	return err
}
