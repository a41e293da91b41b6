package provision

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smartsheet-platform/project-online-import-sub000/pkg/migrate"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/projectonline"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/resilience"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/smartsheet"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/transform"
)

func fastPolicy() resilience.Policy {
	return resilience.Policy{
		MaxAttempts:    2,
		BaseDelay:      time.Millisecond,
		Multiplier:     2,
		MaxDelay:       5 * time.Millisecond,
		JitterFraction: 0,
	}
}

func newDestClient(t *testing.T, dest *fakeDestination) *smartsheet.Client {
	t.Helper()
	return smartsheet.NewClient(smartsheet.ClientConfig{
		APIBase:     dest.URL(),
		AccessToken: "test-token",
		Policy:      fastPolicy(),
	}, nil, nil)
}

type stubTokens struct{}

func (stubTokens) AccessToken(context.Context) (string, error) { return "src-token", nil }
func (stubTokens) Invalidate()                                 {}

// newSourceServer serves one project with a three-task hierarchy, one
// resource, and one assignment as single-page verbose feeds.
func newSourceServer(t *testing.T) *httptest.Server {
	t.Helper()

	feed := func(results string) string {
		return `{"d": {"results": [` + results + `]}}`
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/Tasks"):
			w.Write([]byte(feed(`
				{"TaskId": "root", "TaskName": "Rollout", "TaskOutlineLevel": 1, "TaskDuration": "P10DT0H0M0S"},
				{"TaskId": "a", "TaskName": "Child A", "TaskOutlineLevel": 2, "ParentTaskId": "root", "TaskDuration": "P5DT0H0M0S"},
				{"TaskId": "b", "TaskName": "Child B", "TaskOutlineLevel": 2, "ParentTaskId": "root", "TaskDuration": "P3DT0H0M0S",
				 "Predecessors": [{"PredecessorTaskId": "a", "LinkType": 1, "LagHours": 0}]}`)))
		case strings.HasSuffix(r.URL.Path, "/Resources"):
			w.Write([]byte(feed(`
				{"ResourceId": "r1", "ResourceName": "Alice", "ResourceType": 2, "ResourceStandardRate": 120, "ResourceMaxUnits": 1.0}`)))
		case strings.HasSuffix(r.URL.Path, "/Assignments"):
			w.Write([]byte(feed(`
				{"AssignmentId": "as1", "TaskId": "a", "ResourceId": "r1", "AssignmentUnits": 0.5, "AssignmentWork": "PT20H0M0S"}`)))
		case strings.Contains(r.URL.Path, "Projects(guid'p1')"):
			w.Write([]byte(`{"d": {"ProjectId": "p1", "ProjectName": "Rollout", "ProjectOwnerName": "Dana",
				"ProjectStartDate": "2026-01-05T00:00:00", "ProjectFinishDate": "2026-03-27T00:00:00"}}`))
		default:
			http.Error(w, "no route", http.StatusNotFound)
		}
	}))
}

func newTestLoader(t *testing.T, dest *fakeDestination, source *httptest.Server) *Loader {
	t.Helper()

	client := newDestClient(t, dest)
	deps := LoaderDeps{
		Pipeline: transform.NewPipeline(nil),
		Client:   client,
	}
	if source != nil {
		srcClient := projectonline.NewClient(projectonline.ClientConfig{
			SiteURL: source.URL,
			Policy:  fastPolicy(),
		}, stubTokens{}, nil, nil)
		deps.Extractor = projectonline.NewExtractor(srcClient, 100, nil, nil)
	}
	return NewLoader(deps)
}

func TestMigrateEndToEnd(t *testing.T) {
	dest := newFakeDestination()
	defer dest.Close()
	source := newSourceServer(t)
	defer source.Close()

	loader := newTestLoader(t, dest, source)
	result, err := loader.Migrate(context.Background(), "p1", Options{})
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	if result.State != migrate.RunStateComplete {
		t.Fatalf("expected complete run, got %s", result.State)
	}
	if result.ReusedWorkspace {
		t.Fatal("first run must create, not reuse")
	}
	if dest.workspaceCount() != 1 {
		t.Fatalf("expected 1 workspace, got %d", dest.workspaceCount())
	}

	tasks := dest.sheetByName(result.WorkspaceID, transform.SheetNameTasks)
	if tasks == nil {
		t.Fatal("task sheet missing")
	}
	if len(tasks.rows) != 3 {
		t.Fatalf("expected 3 task rows, got %d", len(tasks.rows))
	}
	// Children nest under the root row.
	rootID := tasks.rows[0].id
	for _, child := range tasks.rows[1:] {
		if child.parentID == nil || *child.parentID != rootID {
			t.Fatalf("child row %d not nested under root", child.id)
		}
	}

	if dest.sheetByName(result.WorkspaceID, transform.SheetNameSummary) == nil {
		t.Fatal("summary sheet missing")
	}
	if dest.sheetByName(result.WorkspaceID, transform.SheetNameResources) == nil {
		t.Fatal("resource sheet missing")
	}
}

func TestMigrateTwiceIsIdempotent(t *testing.T) {
	dest := newFakeDestination()
	defer dest.Close()
	source := newSourceServer(t)
	defer source.Close()

	loader := newTestLoader(t, dest, source)

	first, err := loader.Migrate(context.Background(), "p1", Options{})
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	second, err := loader.Migrate(context.Background(), "p1", Options{})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if dest.workspaceCount() != 1 {
		t.Fatalf("expected 1 workspace after two runs, got %d", dest.workspaceCount())
	}
	if second.WorkspaceID != first.WorkspaceID {
		t.Fatal("second run resolved a different workspace")
	}
	if !second.ReusedWorkspace {
		t.Fatal("second run must reuse the correlated workspace")
	}

	// Replace semantics: row counts must not double.
	tasks := dest.sheetByName(first.WorkspaceID, transform.SheetNameTasks)
	if len(tasks.rows) != 3 {
		t.Fatalf("expected 3 task rows after re-run, got %d", len(tasks.rows))
	}
}

func TestDryRunWritesNothing(t *testing.T) {
	dest := newFakeDestination()
	defer dest.Close()
	source := newSourceServer(t)
	defer source.Close()

	loader := newTestLoader(t, dest, source)
	result, err := loader.Migrate(context.Background(), "p1", Options{DryRun: true})
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}

	if dest.requestCount() != 0 {
		t.Fatalf("dry run must not call the destination, saw %d requests", dest.requestCount())
	}
	if result.Plan == nil {
		t.Fatal("dry run must return the sheet plan")
	}
	if len(result.Plan.Tasks.Rows) != 3 {
		t.Fatalf("expected 3 planned task rows, got %d", len(result.Plan.Tasks.Rows))
	}
	if result.WorkspaceID != 0 {
		t.Fatal("dry run must not resolve a workspace")
	}
}

func TestStructurallyInvalidWorkspaceIsAbandoned(t *testing.T) {
	dest := newFakeDestination()
	defer dest.Close()
	source := newSourceServer(t)
	defer source.Close()

	// A correlated workspace that lost its task sheet.
	stale := dest.addWorkspace("Rollout [po:p1]", transform.SheetNameSummary)

	loader := newTestLoader(t, dest, source)
	result, err := loader.Migrate(context.Background(), "p1", Options{})
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	if result.ReusedWorkspace {
		t.Fatal("structurally invalid workspace must not be reused")
	}
	if result.WorkspaceID == stale {
		t.Fatal("expected a fresh workspace")
	}
	if dest.workspaceCount() != 2 {
		t.Fatalf("expected the stale and fresh workspaces, got %d", dest.workspaceCount())
	}
}

func TestLoadWritesStandardsWorkspaceFirst(t *testing.T) {
	dest := newFakeDestination()
	defer dest.Close()
	source := newSourceServer(t)
	defer source.Close()

	loader := newTestLoader(t, dest, source)
	loader.standards = NewStandardsCache(newDestClient(t, dest), standardsConfig(0, ""), nil)

	result, err := loader.Migrate(context.Background(), "p1", Options{})
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	// Standards workspace plus the project workspace.
	if dest.workspaceCount() != 2 {
		t.Fatalf("expected 2 workspaces, got %d", dest.workspaceCount())
	}
	if result.WorkspaceID == 0 {
		t.Fatal("project workspace not resolved")
	}
	found := false
	dest.mu.Lock()
	for _, ws := range dest.workspaces {
		if ws.name == DefaultStandardsName {
			found = true
		}
	}
	dest.mu.Unlock()
	if !found {
		t.Fatal("standards workspace not created")
	}
}
