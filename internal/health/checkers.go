package health

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/fetcharr/fetcharr/internal/model"
)

// DatabaseChecker pings the shared pool.
type DatabaseChecker struct {
	DB *sqlx.DB
}

func (c *DatabaseChecker) Name() string { return "database" }

func (c *DatabaseChecker) Check(ctx context.Context) Check {
	if err := c.DB.PingContext(ctx); err != nil {
		return Check{Status: StatusDown, Detail: err.Error()}
	}
	return Check{Status: StatusHealthy}
}

// ConnectorLister is the store subset the connector checker needs.
type ConnectorLister interface {
	EnabledConnectors(ctx context.Context) ([]model.Connector, error)
}

// ConnectorChecker summarises the fleet: any offline connector degrades the
// report but never fails it, the engine keeps working for the rest.
type ConnectorChecker struct {
	Store ConnectorLister
}

func (c *ConnectorChecker) Name() string { return "connectors" }

func (c *ConnectorChecker) Check(ctx context.Context) Check {
	conns, err := c.Store.EnabledConnectors(ctx)
	if err != nil {
		return Check{Status: StatusDown, Detail: err.Error()}
	}
	healthy := 0
	for _, conn := range conns {
		if conn.HealthStatus == model.HealthHealthy {
			healthy++
		}
	}
	detail := fmt.Sprintf("%d/%d healthy", healthy, len(conns))
	if len(conns) > 0 && healthy < len(conns) {
		return Check{Status: StatusDegraded, Detail: detail}
	}
	return Check{Status: StatusHealthy, Detail: detail}
}
