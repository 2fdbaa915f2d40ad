package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fetcharr/fetcharr/internal/model"
)

type staticChecker struct {
	name   string
	status Status
}

func (c staticChecker) Name() string { return c.name }

func (c staticChecker) Check(ctx context.Context) Check {
	return Check{Status: c.status}
}

func TestEvaluateAggregation(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
	}{
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy},
		{"one degraded", []Status{StatusHealthy, StatusDegraded}, StatusDegraded},
		{"down beats degraded", []Status{StatusDegraded, StatusDown}, StatusDown},
		{"no checkers", nil, StatusHealthy},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager(time.Second)
			for i, st := range tc.statuses {
				m.Register(staticChecker{name: string(rune('a' + i)), status: st})
			}
			report := m.Evaluate(context.Background())
			assert.Equal(t, tc.want, report.Status)
			assert.Len(t, report.Checks, len(tc.statuses))
		})
	}
}

type fakeConnectorLister struct {
	conns []model.Connector
	err   error
}

func (f *fakeConnectorLister) EnabledConnectors(ctx context.Context) ([]model.Connector, error) {
	return f.conns, f.err
}

func TestConnectorChecker(t *testing.T) {
	c := &ConnectorChecker{Store: &fakeConnectorLister{conns: []model.Connector{
		{ID: 1, HealthStatus: model.HealthHealthy},
		{ID: 2, HealthStatus: model.HealthOffline},
	}}}
	res := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Equal(t, "1/2 healthy", res.Detail)

	c = &ConnectorChecker{Store: &fakeConnectorLister{err: errors.New("pool closed")}}
	assert.Equal(t, StatusDown, c.Check(context.Background()).Status)

	c = &ConnectorChecker{Store: &fakeConnectorLister{}}
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)
}
