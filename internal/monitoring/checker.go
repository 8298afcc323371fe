package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/sportsfeed/internal/config"
)

// Checker evaluates pipeline health on an interval and notifies the
// webhook. A condition is notified when it first appears; while it holds
// on later checks it is not re-sent, and once it clears it may fire again.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	interval  time.Duration

	mu     sync.Mutex
	active map[string]bool
}

// NewChecker returns a Checker using cfg's check interval.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		interval:  cfg.CheckInterval(),
		active:    make(map[string]bool),
	}
}

// Run checks once immediately and then on every tick until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("monitoring: checker started", zap.Duration("interval", c.interval))

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Check(ctx, log)
	for {
		select {
		case <-ctx.Done():
			log.Info("monitoring: checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx, log)
		}
	}
}

// Check collects a snapshot, evaluates it and delivers the alerts that
// are not already active. An alert becomes active only once delivered, so
// a failed webhook call is retried on the next check. It returns the newly
// raised alerts.
func (c *Checker) Check(ctx context.Context, log *zap.Logger) []Alert {
	snap, err := c.collector.Collect(ctx)
	if err != nil {
		log.Error("monitoring: collect failed", zap.Error(err))
		return nil
	}

	fresh := c.pending(c.alerter.Evaluate(snap))
	if len(fresh) == 0 {
		log.Debug("monitoring: no new alerts")
		return nil
	}

	sent := 0
	for _, a := range fresh {
		if c.alerter.deliver(ctx, a) != nil {
			continue
		}
		c.mu.Lock()
		c.active[a.key()] = true
		c.mu.Unlock()
		sent++
	}
	log.Info("monitoring: alerts raised",
		zap.Int("raised", len(fresh)),
		zap.Int("sent", sent),
	)
	return fresh
}

// pending drops active conditions that no longer hold and returns the
// alerts that are not active.
func (c *Checker) pending(alerts []Alert) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := make(map[string]bool, len(alerts))
	var fresh []Alert
	for _, a := range alerts {
		k := a.key()
		if c.active[k] {
			next[k] = true
			continue
		}
		fresh = append(fresh, a)
	}
	c.active = next
	return fresh
}

// Active returns how many alert conditions have been delivered and still
// hold.
func (c *Checker) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}
