// health.go - Health checks for the daemon's dependencies
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"anonpay/internal/ledger"
	"anonpay/internal/params"
	"anonpay/internal/wallet"
)

// HealthStatus represents the health status of a component
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// errDegraded marks a check that found the component usable but not in its expected state.
var errDegraded = errors.New("degraded")

// ComponentHealth represents the health of a specific component
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    HealthStatus  `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency,omitempty"`
}

// SystemHealth represents the overall system health
type SystemHealth struct {
	OverallStatus HealthStatus      `json:"overall_status"`
	Timestamp     time.Time         `json:"timestamp"`
	Components    []ComponentHealth `json:"components"`
	Version       int               `json:"protocol_version"`
}

type healthCheck struct {
	name  string
	check func(context.Context) error
}

// HealthChecker runs registered checks in registration order.
type HealthChecker struct {
	checks []healthCheck
}

// RegisterComponent registers a health check for a component
func (hc *HealthChecker) RegisterComponent(name string, check func(context.Context) error) {
	hc.checks = append(hc.checks, healthCheck{name: name, check: check})
}

// CheckHealth performs every registered check
func (hc *HealthChecker) CheckHealth(ctx context.Context) *SystemHealth {
	sh := &SystemHealth{OverallStatus: Healthy, Timestamp: time.Now(), Version: params.Version}
	for _, c := range hc.checks {
		start := time.Now()
		err := c.check(ctx)
		ch := ComponentHealth{Name: c.name, Status: Healthy, Message: "OK", LastCheck: time.Now(), Latency: time.Since(start)}
		switch {
		case errors.Is(err, errDegraded):
			ch.Status, ch.Message = Degraded, err.Error()
			if sh.OverallStatus == Healthy {
				sh.OverallStatus = Degraded
			}
		case err != nil:
			ch.Status, ch.Message = Unhealthy, err.Error()
			sh.OverallStatus = Unhealthy
		}
		sh.Components = append(sh.Components, ch)
	}
	return sh
}

// newDaemonHealth registers the checks for one configuration.
func newDaemonHealth(cfg *Config) *HealthChecker {
	hc := &HealthChecker{}
	hc.RegisterComponent("config", func(context.Context) error {
		return cfg.Validate()
	})
	hc.RegisterComponent("generators", func(context.Context) error {
		g, h := params.G(), params.H()
		if g.IsInfinity() || h.IsInfinity() || g.Equal(&h) {
			return fmt.Errorf("generators G and H are not independent")
		}
		gv, hv := params.VectorGenerators(params.VectorSize)
		if len(gv) != params.VectorSize || len(hv) != params.VectorSize {
			return fmt.Errorf("derived %d/%d vector generators, want %d", len(gv), len(hv), params.VectorSize)
		}
		return nil
	})
	hc.RegisterComponent("ledger", func(context.Context) error {
		if _, err := os.Stat(cfg.LedgerPath); errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: no ledger at %s yet", errDegraded, cfg.LedgerPath)
		}
		l, err := ledger.Open(cfg.LedgerPath, ledger.WithRetention(cfg.Protocol.Retention))
		if err != nil {
			return err
		}
		defer l.Close()
		if snap := l.Snapshot(); snap.Size < uint64(cfg.PrivacyLevel.DecoyCount()) {
			return fmt.Errorf("%w: %d commitments cannot fill a %s anonymity set",
				errDegraded, snap.Size, cfg.PrivacyLevel)
		}
		return nil
	})
	hc.RegisterComponent("wallets", func(context.Context) error {
		if cfg.WalletDir == "" {
			return nil
		}
		paths, err := filepath.Glob(filepath.Join(cfg.WalletDir, "*_wallet.json"))
		if err != nil {
			return err
		}
		var bad []string
		for _, p := range paths {
			if _, err := wallet.Load(p); err != nil {
				bad = append(bad, filepath.Base(p))
			}
		}
		if len(bad) > 0 {
			return fmt.Errorf("unreadable wallets: %s", strings.Join(bad, ", "))
		}
		return nil
	})
	return hc
}
