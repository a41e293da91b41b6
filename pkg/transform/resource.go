package transform

import (
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/projectonline"
)

// mapResources produces the resource-sheet rows. Work and material resources
// carry the full rate/capacity column set; cost resources get the simplified
// set with capacity left blank.
func mapResources(sheet *SheetPlan, resources []projectonline.Resource) {
	rows := make([]RowPlan, 0, len(resources))
	for i := range resources {
		r := &resources[i]

		cells := map[string]interface{}{
			ColResourceName: r.Name,
			ColResourceType: r.Type.String(),
			ColRate:         r.Rate,
			ColGroup:        r.Group,
		}
		if r.Type != projectonline.ResourceTypeCost {
			cells[ColMaxUnits] = RescaleUnits(r.MaxUnits)
		}

		rows = append(rows, RowPlan{Cells: cells})
	}
	sheet.Rows = rows
}
