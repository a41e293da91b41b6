package provision

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/smartsheet-platform/project-online-import-sub000/pkg/config"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/migrate"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/smartsheet"
	"github.com/smartsheet-platform/project-online-import-sub000/pkg/telemetry"
)

// DefaultStandardsName names the shared reference workspace when the
// configuration does not.
const DefaultStandardsName = "Migration Standards"

// StandardsCache resolves the shared standards workspace exactly once per
// process and hands the cached identity to every caller. Concurrent first
// access collapses into a single resolution; later calls re-validate the
// cached identity before trusting it, because the workspace may have been
// deleted out-of-band.
type StandardsCache struct {
	client     *smartsheet.Client
	overrideID int64
	name       string
	logger     *telemetry.Logger

	group singleflight.Group

	mu sync.Mutex
	id int64
}

// NewStandardsCache creates a cache bound to one destination client. Each
// cache is independent; share a single instance across concurrent runs.
func NewStandardsCache(client *smartsheet.Client, cfg config.StandardsConfig, logger *telemetry.Logger) *StandardsCache {
	name := cfg.WorkspaceName
	if name == "" {
		name = DefaultStandardsName
	}
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &StandardsCache{
		client:     client,
		overrideID: cfg.WorkspaceID,
		name:       name,
		logger:     logger.NewComponentLogger("standards"),
	}
}

// WorkspaceID returns the standards workspace identity, resolving or creating
// the workspace on first use. Safe for concurrent use; only one resolution is
// ever in flight.
func (c *StandardsCache) WorkspaceID(ctx context.Context) (int64, error) {
	v, err, _ := c.group.Do("standards", func() (interface{}, error) {
		return c.resolve(ctx)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (c *StandardsCache) resolve(ctx context.Context) (int64, error) {
	c.mu.Lock()
	cached := c.id
	c.mu.Unlock()

	if cached != 0 {
		if _, err := c.client.GetWorkspace(ctx, cached); err == nil {
			return cached, nil
		} else if !smartsheet.IsNotFound(err) {
			return 0, err
		}
		c.logger.WithWorkspaceID(cached).Warn("cached standards workspace vanished, re-resolving")
		c.mu.Lock()
		c.id = 0
		c.mu.Unlock()
	}

	id, err := c.resolveFresh(ctx)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	c.id = id
	c.mu.Unlock()
	return id, nil
}

// resolveFresh finds or creates the workspace: a configured override is
// validated live and never silently replaced; otherwise an existing workspace
// with the standards name is reused, and only then is one created.
func (c *StandardsCache) resolveFresh(ctx context.Context) (int64, error) {
	if c.overrideID != 0 {
		if _, err := c.client.GetWorkspace(ctx, c.overrideID); err != nil {
			if smartsheet.IsNotFound(err) {
				return 0, migrate.NewPermanentError(
					"configured standards workspace does not exist", err).
					WithCode(migrate.ErrCodeWorkspaceInvalid).
					WithPhase(migrate.PhaseLoad)
			}
			return 0, err
		}
		return c.overrideID, nil
	}

	existing, err := c.client.ListWorkspaces(ctx)
	if err != nil {
		return 0, err
	}
	for _, ws := range existing {
		if ws.Name == c.name {
			c.logger.WithWorkspaceID(ws.ID).Debug("reusing existing standards workspace")
			return ws.ID, nil
		}
	}

	ws, err := c.client.CreateWorkspace(ctx, c.name)
	if err != nil {
		return 0, err
	}
	c.logger.WithWorkspaceID(ws.ID).Info("created standards workspace")
	return ws.ID, nil
}
