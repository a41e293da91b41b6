package provision

import (
	"context"

	"github.com/smartsheet-platform/project-online-import-sub000/pkg/smartsheet"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/transform"
)

// resolveWorkspace locates the destination workspace already correlated to
// the source project, or creates a fresh one. A correlated workspace missing
// any of the three expected sheets is treated as structurally invalid and
// abandoned in favor of a fresh workspace.
func (l *Loader) resolveWorkspace(ctx context.Context, plan *transform.WorkspacePlan) (*smartsheet.Workspace, bool, error) {
	existing, err := l.client.ListWorkspaces(ctx)
	if err != nil {
		return nil, false, err
	}

	for _, candidate := range existing {
		if transform.CorrelatedProjectID(candidate.Name) != plan.ProjectID {
			continue
		}

		ws, err := l.client.GetWorkspace(ctx, candidate.ID)
		if err != nil {
			if smartsheet.IsNotFound(err) {
				continue
			}
			return nil, false, err
		}
		if !hasExpectedSheets(ws, plan) {
			l.logger.WithWorkspaceID(ws.ID).
				Warn("correlated workspace is structurally invalid, creating a fresh one")
			l.metrics.RecordWorkspaceResolution("invalid")
			continue
		}

		l.metrics.RecordWorkspaceResolution("reused")
		return ws, true, nil
	}

	ws, err := l.client.CreateWorkspace(ctx, plan.WorkspaceName)
	if err != nil {
		return nil, false, err
	}
	l.metrics.RecordWorkspaceResolution("created")
	return ws, false, nil
}

// hasExpectedSheets checks the workspace still carries every sheet the plan
// expects, by name.
func hasExpectedSheets(ws *smartsheet.Workspace, plan *transform.WorkspacePlan) bool {
	names := make(map[string]bool, len(ws.Sheets))
	for _, sheet := range ws.Sheets {
		names[sheet.Name] = true
	}
	for _, planned := range plan.Sheets() {
		if !names[planned.Name] {
			return false
		}
	}
	return true
}
