package projectonline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smartsheet-platform/project-online-import-sub000/pkg/migrate"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/resilience"
)

const testProjectID = "11111111-2222-3333-4444-555555555555"

// stubTokens satisfies TokenProvider with a fixed token.
type stubTokens struct {
	token       string
	invalidated int32
}

func (s *stubTokens) AccessToken(ctx context.Context) (string, error) {
	return s.token, nil
}

func (s *stubTokens) Invalidate() {
	atomic.AddInt32(&s.invalidated, 1)
}

// odataServer serves canned verbose-JSON feeds with paging.
type odataServer struct {
	base string

	project     map[string]interface{}
	taskPages   [][]map[string]interface{}
	resources   []map[string]interface{}
	assignments []map[string]interface{}

	// throttleTaskPage makes the given task page index answer 429 once.
	throttleTaskPage int
	throttled        int32

	// rejectFirstAuth makes the very first request answer 401.
	rejectFirstAuth bool
	authRejections  int32

	taskRequests int32
}

func (s *odataServer) start(t *testing.T) *Client {
	t.Helper()

	s.throttleTaskPage = -1
	if s.project == nil {
		s.project = map[string]interface{}{
			"ProjectId":               testProjectID,
			"ProjectName":             "Rollout",
			"ProjectOwnerName":        "Dana",
			"ProjectPercentCompleted": 25.0,
		}
	}
	return s.startPrepared(t)
}

func (s *odataServer) startPrepared(t *testing.T) *Client {
	t.Helper()

	ts := httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(ts.Close)
	s.base = ts.URL

	tokens := &stubTokens{token: "tok"}
	return NewClient(ClientConfig{
		SiteURL: ts.URL,
		Policy:  resilience.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2, MaxDelay: time.Millisecond},
	}, tokens, nil, nil)
}

func (s *odataServer) serve(w http.ResponseWriter, r *http.Request) {
	if s.rejectFirstAuth && atomic.CompareAndSwapInt32(&s.authRejections, 0, 1) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	path := r.URL.Path
	w.Header().Set("Content-Type", "application/json")

	switch {
	case strings.Contains(path, "/Tasks"):
		pageIdx := int(atomic.AddInt32(&s.taskRequests, 1)) - 1
		// Page index counts distinct pages served, not raw requests; a
		// throttled request is re-counted when retried.
		pageNo := pageIdx - int(atomic.LoadInt32(&s.throttled))
		if pageNo == s.throttleTaskPage && atomic.CompareAndSwapInt32(&s.throttled, 0, 1) {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		s.writeFeed(w, s.taskPages, pageNo, "/Tasks")
	case strings.Contains(path, "/Resources"):
		s.writeFeed(w, [][]map[string]interface{}{s.resources}, 0, "/Resources")
	case strings.Contains(path, "/Assignments"):
		s.writeFeed(w, [][]map[string]interface{}{s.assignments}, 0, "/Assignments")
	case strings.Contains(path, "Projects(guid"):
		json.NewEncoder(w).Encode(map[string]interface{}{"d": s.project})
	case strings.Contains(path, "Projects"):
		s.writeFeed(w, [][]map[string]interface{}{{s.project}}, 0, "/Projects")
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// writeFeed writes page pageNo of pages, adding a __next link when more pages
// remain.
func (s *odataServer) writeFeed(w http.ResponseWriter, pages [][]map[string]interface{}, pageNo int, path string) {
	if len(pages) == 0 {
		pages = [][]map[string]interface{}{nil}
	}
	if pageNo >= len(pages) {
		pageNo = len(pages) - 1
	}
	items := pages[pageNo]
	if items == nil {
		items = []map[string]interface{}{}
	}
	d := map[string]interface{}{"results": items}
	if pageNo < len(pages)-1 {
		d["__next"] = fmt.Sprintf("%s/_api/ProjectData%s?$skiptoken=%d", s.base, path, pageNo+1)
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"d": d})
}

func task(id, name string, level int, parent string) map[string]interface{} {
	m := map[string]interface{}{
		"TaskId":           id,
		"TaskName":         name,
		"TaskOutlineLevel": level,
	}
	if parent != "" {
		m["ParentTaskId"] = parent
	}
	return m
}

func TestExtractProjectPaginatesTasks(t *testing.T) {
	srv := &odataServer{
		taskPages: [][]map[string]interface{}{
			{task("t1", "Root", 1, ""), task("t2", "Child A", 2, "t1")},
			{task("t3", "Child B", 2, "t1")},
		},
		resources:   []map[string]interface{}{{"ResourceId": "r1", "ResourceName": "Dev", "ResourceType": 2}},
		assignments: []map[string]interface{}{{"AssignmentId": "a1", "TaskId": "t2", "ResourceId": "r1", "AssignmentUnits": 0.5}},
	}
	client := srv.start(t)
	e := NewExtractor(client, 2, nil, nil)

	batch, err := e.ExtractProject(context.Background(), testProjectID)
	if err != nil {
		t.Fatalf("ExtractProject failed: %v", err)
	}
	if len(batch.Tasks) != 3 {
		t.Fatalf("expected 3 tasks across pages, got %d", len(batch.Tasks))
	}
	if batch.Tasks[2].ID != "t3" {
		t.Fatalf("page order lost: %+v", batch.Tasks)
	}
	if len(batch.Resources) != 1 || len(batch.Assignments) != 1 {
		t.Fatalf("unexpected child collections: %+v", batch)
	}
	if batch.Project.Name != "Rollout" {
		t.Fatalf("unexpected project: %+v", batch.Project)
	}
}

func TestExtractProjectRetriesThrottledPageTransparently(t *testing.T) {
	srv := &odataServer{
		taskPages: [][]map[string]interface{}{
			{task("t1", "Root", 1, "")},
			{task("t2", "Child", 2, "t1")},
		},
	}
	client := srv.start(t)
	srv.throttleTaskPage = 1 // 429 on page 2, once
	e := NewExtractor(client, 1, nil, nil)

	batch, err := e.ExtractProject(context.Background(), testProjectID)
	if err != nil {
		t.Fatalf("ExtractProject failed: %v", err)
	}
	if atomic.LoadInt32(&srv.throttled) != 1 {
		t.Fatal("test server never throttled")
	}
	// The retry is invisible in the result.
	if len(batch.Tasks) != 2 || batch.Tasks[1].ID != "t2" {
		t.Fatalf("expected full task set despite 429, got %+v", batch.Tasks)
	}
}

func TestExtractProjectReauthenticatesOn401(t *testing.T) {
	srv := &odataServer{
		rejectFirstAuth: true,
		taskPages:       [][]map[string]interface{}{{task("t1", "Root", 1, "")}},
	}
	client := srv.start(t)
	e := NewExtractor(client, 10, nil, nil)

	batch, err := e.ExtractProject(context.Background(), testProjectID)
	if err != nil {
		t.Fatalf("ExtractProject failed: %v", err)
	}
	if len(batch.Tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(batch.Tasks))
	}
	if atomic.LoadInt32(&client.tokens.(*stubTokens).invalidated) != 1 {
		t.Fatal("expected the provider to be invalidated after 401")
	}
}

func TestExtractProjectEmptyTaskListIsNotAnError(t *testing.T) {
	srv := &odataServer{}
	client := srv.start(t)
	e := NewExtractor(client, 10, nil, nil)

	batch, err := e.ExtractProject(context.Background(), testProjectID)
	if err != nil {
		t.Fatalf("ExtractProject failed: %v", err)
	}
	if len(batch.Tasks) != 0 {
		t.Fatalf("expected empty task list, got %d", len(batch.Tasks))
	}
}

func TestExtractProjectRejectsMalformedHierarchy(t *testing.T) {
	srv := &odataServer{
		taskPages: [][]map[string]interface{}{
			// Child precedes its parent.
			{task("t2", "Child", 2, "t1"), task("t1", "Root", 1, "")},
		},
	}
	client := srv.start(t)
	e := NewExtractor(client, 10, nil, nil)

	_, err := e.ExtractProject(context.Background(), testProjectID)
	var merr *migrate.Error
	if !errors.As(err, &merr) || merr.Code != migrate.ErrCodeMalformedHierarchy {
		t.Fatalf("expected MALFORMED_HIERARCHY, got %v", err)
	}
	if merr.Entity != "t2" {
		t.Fatalf("expected offending task id, got %q", merr.Entity)
	}
}

func TestExtractProjectRejectsInvalidRecords(t *testing.T) {
	srv := &odataServer{
		taskPages: [][]map[string]interface{}{
			{{"TaskId": "t1", "TaskName": "", "TaskOutlineLevel": 1}},
		},
	}
	client := srv.start(t)
	e := NewExtractor(client, 10, nil, nil)

	_, err := e.ExtractProject(context.Background(), testProjectID)
	var merr *migrate.Error
	if !errors.As(err, &merr) || merr.Code != migrate.ErrCodeValidation {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestListProjects(t *testing.T) {
	srv := &odataServer{}
	client := srv.start(t)
	e := NewExtractor(client, 10, nil, nil)

	projects, err := e.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if len(projects) != 1 || projects[0].ID != testProjectID {
		t.Fatalf("unexpected projects: %+v", projects)
	}
}

func TestValidateHierarchyRejectsOrphanNonRoot(t *testing.T) {
	tasks := []Task{
		{ID: "t1", Name: "Root", OutlineLevel: 1},
		{ID: "t2", Name: "Stray", OutlineLevel: 3},
	}
	err := validateHierarchy(tasks)
	var merr *migrate.Error
	if !errors.As(err, &merr) || merr.Code != migrate.ErrCodeMalformedHierarchy {
		t.Fatalf("expected MALFORMED_HIERARCHY, got %v", err)
	}
}
