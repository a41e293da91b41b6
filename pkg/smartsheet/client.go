package smartsheet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/smartsheet-platform/project-online-import-sub000/pkg/migrate"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/resilience"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/telemetry"
)

// Client issues authenticated calls against the destination API.
type Client struct {
	httpClient *http.Client
	apiBase    string
	token      string
	policy     resilience.Policy
	governor   *resilience.Governor
	logger     *telemetry.Logger
	metrics    *telemetry.Metrics
}

// ClientConfig configures a Client.
type ClientConfig struct {
	// APIBase is the API root, e.g. https://api.smartsheet.com/2.0.
	APIBase string

	// AccessToken authenticates every call.
	AccessToken string

	// HTTPClient overrides the transport; nil uses a default with a timeout.
	HTTPClient *http.Client

	Policy   resilience.Policy
	Governor *resilience.Governor
}

// NewClient creates a destination gateway.
func NewClient(cfg ClientConfig, logger *telemetry.Logger, metrics *telemetry.Metrics) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	governor := cfg.Governor
	if governor == nil {
		governor = resilience.NewGovernor(0, 0)
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	if metrics == nil {
		metrics, _ = telemetry.NewMetrics(telemetry.MetricsConfig{})
	}
	policy := cfg.Policy
	policy.OnRetry = func(int) { metrics.RecordRetry("smartsheet") }
	return &Client{
		httpClient: hc,
		apiBase:    strings.TrimRight(cfg.APIBase, "/"),
		token:      cfg.AccessToken,
		policy:     policy,
		governor:   governor,
		logger:     logger.NewComponentLogger("smartsheet"),
		metrics:    metrics,
	}
}

// resultEnvelope is the mutating-call response shape.
type resultEnvelope struct {
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// listEnvelope is the paged listing response shape.
type listEnvelope struct {
	PageNumber int             `json:"pageNumber"`
	TotalPages int             `json:"totalPages"`
	Data       json.RawMessage `json:"data"`
}

// do issues one API call under the retry policy and decodes the body into out
// when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	return resilience.Execute(ctx, c.policy, func(ctx context.Context) error {
		if err := c.governor.Wait(ctx); err != nil {
			return err
		}
		c.metrics.RecordGovernorWait()

		var reader io.Reader
		if body != nil {
			b, err := json.Marshal(body)
			if err != nil {
				return migrate.NewPermanentError("unable to encode request body", err).
					WithPhase(migrate.PhaseLoad)
			}
			reader = bytes.NewReader(b)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, reader)
		if err != nil {
			return migrate.NewPermanentError("unable to build request", err).
				WithPhase(migrate.PhaseLoad)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return migrate.NewTransientError("request failed", err).
				WithPhase(migrate.PhaseLoad)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return classifyStatus(resp)
		}
		if out == nil {
			return nil
		}

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return migrate.NewTransientError("unable to read response body", err).
				WithPhase(migrate.PhaseLoad)
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return migrate.NewPermanentError("malformed API response", err).
				WithPhase(migrate.PhaseLoad)
		}
		return nil
	})
}

// classifyStatus maps destination error statuses into the error taxonomy.
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		e := migrate.NewThrottledError("rate limited by destination service", nil).
			WithCode(migrate.ErrCodeRateLimited).WithPhase(migrate.PhaseLoad)
		if after := parseRetryAfter(resp.Header.Get("Retry-After")); after > 0 {
			e = e.WithRetryAfter(after)
		}
		return e
	case resp.StatusCode == http.StatusNotFound:
		return migrate.NewPermanentError("not found", nil).
			WithCode(migrate.ErrCodeNotFound).WithPhase(migrate.PhaseLoad)
	case resp.StatusCode >= 500:
		return migrate.NewTransientError(
			fmt.Sprintf("destination service error (%d)", resp.StatusCode), nil).
			WithPhase(migrate.PhaseLoad)
	default:
		return migrate.NewPermanentError(
			fmt.Sprintf("request rejected (%d)", resp.StatusCode), nil).
			WithPhase(migrate.PhaseLoad)
	}
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// IsNotFound reports whether err is the gateway's not-found error.
func IsNotFound(err error) bool {
	var merr *migrate.Error
	if errors.As(err, &merr) {
		return merr.Code == migrate.ErrCodeNotFound
	}
	return false
}

// ListWorkspaces returns every workspace visible to the token, walking all
// listing pages.
func (c *Client) ListWorkspaces(ctx context.Context) ([]Workspace, error) {
	var all []Workspace
	page := 1
	for {
		var env listEnvelope
		path := fmt.Sprintf("/workspaces?pageSize=100&page=%d", page)
		if err := c.do(ctx, http.MethodGet, path, nil, &env); err != nil {
			return nil, err
		}
		var batch []Workspace
		if err := json.Unmarshal(env.Data, &batch); err != nil {
			return nil, migrate.NewPermanentError("malformed workspace list", err).
				WithPhase(migrate.PhaseLoad)
		}
		all = append(all, batch...)
		if env.TotalPages == 0 || page >= env.TotalPages {
			return all, nil
		}
		page++
	}
}

// GetWorkspace fetches a workspace with its sheet summaries.
func (c *Client) GetWorkspace(ctx context.Context, id int64) (*Workspace, error) {
	var ws Workspace
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/workspaces/%d", id), nil, &ws); err != nil {
		return nil, err
	}
	return &ws, nil
}

// CreateWorkspace creates a named workspace.
func (c *Client) CreateWorkspace(ctx context.Context, name string) (*Workspace, error) {
	var env resultEnvelope
	body := map[string]string{"name": name}
	if err := c.do(ctx, http.MethodPost, "/workspaces", body, &env); err != nil {
		return nil, err
	}
	var ws Workspace
	if err := json.Unmarshal(env.Result, &ws); err != nil {
		return nil, migrate.NewPermanentError("malformed create-workspace response", err).
			WithPhase(migrate.PhaseLoad)
	}
	return &ws, nil
}

// CreateSheet creates a sheet with its columns inside a workspace and returns
// it with column identifiers assigned.
func (c *Client) CreateSheet(ctx context.Context, workspaceID int64, spec SheetSpec) (*Sheet, error) {
	var env resultEnvelope
	path := fmt.Sprintf("/workspaces/%d/sheets", workspaceID)
	if err := c.do(ctx, http.MethodPost, path, spec, &env); err != nil {
		return nil, err
	}
	var sheet Sheet
	if err := json.Unmarshal(env.Result, &sheet); err != nil {
		return nil, migrate.NewPermanentError("malformed create-sheet response", err).
			WithPhase(migrate.PhaseLoad)
	}
	return &sheet, nil
}

// GetSheet fetches a sheet with columns and rows.
func (c *Client) GetSheet(ctx context.Context, id int64) (*Sheet, error) {
	var sheet Sheet
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/sheets/%d", id), nil, &sheet); err != nil {
		return nil, err
	}
	return &sheet, nil
}

// wireRow is the insertion shape for one row.
type wireRow struct {
	ToBottom bool   `json:"toBottom,omitempty"`
	ParentID *int64 `json:"parentId,omitempty"`
	Cells    []Cell `json:"cells"`
}

// AddRows inserts rows in order and returns them with identifiers and row
// numbers assigned. Rows with a ParentRowID nest under that row.
func (c *Client) AddRows(ctx context.Context, sheetID int64, rows []RowSpec) ([]Row, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	wire := make([]wireRow, len(rows))
	for i, r := range rows {
		wire[i] = wireRow{
			ToBottom: r.ParentRowID == nil,
			ParentID: r.ParentRowID,
			Cells:    r.Cells,
		}
	}

	var env resultEnvelope
	path := fmt.Sprintf("/sheets/%d/rows", sheetID)
	if err := c.do(ctx, http.MethodPost, path, wire, &env); err != nil {
		return nil, err
	}
	var created []Row
	if err := json.Unmarshal(env.Result, &created); err != nil {
		return nil, migrate.NewPermanentError("malformed add-rows response", err).
			WithPhase(migrate.PhaseLoad)
	}
	return created, nil
}

// DeleteRows removes rows by id. Used for replace-on-rerun semantics.
func (c *Client) DeleteRows(ctx context.Context, sheetID int64, rowIDs []int64) error {
	if len(rowIDs) == 0 {
		return nil
	}
	ids := make([]string, len(rowIDs))
	for i, id := range rowIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	path := fmt.Sprintf("/sheets/%d/rows?ids=%s&ignoreRowsNotFound=true", sheetID, strings.Join(ids, ","))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}
