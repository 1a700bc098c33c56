package rwpool

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// HealthcheckResult reports the state of one pool.
type HealthcheckResult struct {
	Available        bool   `json:"available"`
	URL              string `json:"url"`
	TimeToConnection string `json:"timeToConnection,omitempty"`
	Duration         string `json:"duration,omitempty"`
	Warning          string `json:"warning,omitempty"`
	Info             string `json:"info,omitempty"`
}

// Health is the result of Manager.Healthcheck.
type Health struct {
	Primary HealthcheckResult `json:"primary"`
	Replica HealthcheckResult `json:"replica"`
}

// OK reports whether both pools are available.
func (h Health) OK() bool {
	return h.Primary.Available && h.Replica.Available
}

var versionStatement = Statement{SQL: "select version()"}

// Healthcheck checks both pools concurrently. It never returns an error:
// failures are reported as Available=false with the driver error code in
// Info.
func (m *Manager) Healthcheck(ctx context.Context) Health {
	var h Health
	var g errgroup.Group
	g.Go(func() error {
		h.Primary = m.primary.healthcheck(ctx)
		return nil
	})
	g.Go(func() error {
		h.Replica = m.replica.healthcheck(ctx)
		return nil
	})
	_ = g.Wait()
	return h
}

func (p *pool) healthcheck(ctx context.Context) HealthcheckResult {
	res := HealthcheckResult{URL: p.drv.URL()}
	format := p.m.cfg.FormatDuration

	start := time.Now()
	c, err := p.acquire(ctx)
	if err != nil {
		return p.unhealthy(res, err)
	}
	defer c.Release()

	connected := time.Since(start)
	res.TimeToConnection = format(connected)

	if _, err := c.dc.Query(ctx, versionStatement); err != nil {
		if c.dc.IsFatal(err) {
			c.destroy()
		}
		return p.unhealthy(res, err)
	}

	total := time.Since(start)
	res.Available = true
	res.Duration = format(total)
	if total > p.m.cfg.SlowThreshold {
		res.Warning = fmt.Sprintf("slow response (over %s)", format(p.m.cfg.SlowThreshold))
	}
	return res
}

func (p *pool) unhealthy(res HealthcheckResult, err error) HealthcheckResult {
	res.Available = false
	res.Info = ErrorCode(err)
	p.m.log.Warn("health check failed",
		zap.Stringer("role", p.role),
		zap.String("url", res.URL),
		zap.String("code", res.Info),
		zap.Error(err),
	)
	return res
}
