package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulsekit/pulsekit/engine/internal/config"
	"github.com/pulsekit/pulsekit/engine/internal/session"
)

const (
	defaultCooldown = 5 * time.Minute
	maxHistoryLen   = 200
	recentWindow    = time.Hour
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert is one alert event produced by the rule engine.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	SessionID  string     `json:"session_id"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"`
}

// Engine evaluates alert rules against heart-rate updates.
//
// Engine is safe for concurrent use.
type Engine struct {
	mu       sync.Mutex
	rules    []config.AlertRule
	webhooks []config.WebhookConfig
	active   map[string]*Alert    // key: "rule:session"
	lastFire map[string]time.Time // per key, for cooldown
	history  []*Alert             // recently resolved
	client   *http.Client
	now      func() time.Time
	deliver  func(*Alert)
}

// New creates an Engine. An Engine with no rules is valid and Evaluate is a
// no-op.
func New(cfg config.AlertsConfig) *Engine {
	e := &Engine{
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
	e.deliver = func(a *Alert) { go e.send(a) }
	e.Reload(cfg)
	return e
}

// Reload replaces the rules and webhooks. Firing alerts for rules that no
// longer exist are dropped.
func (e *Engine) Reload(cfg config.AlertsConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append([]config.AlertRule(nil), cfg.Rules...)
	e.webhooks = append([]config.WebhookConfig(nil), cfg.Webhooks...)

	keep := make(map[string]bool, len(cfg.Rules))
	for _, r := range cfg.Rules {
		keep[r.Name] = true
	}
	for key, a := range e.active {
		if !keep[a.RuleName] {
			delete(e.active, key)
		}
	}
	if len(e.rules) == 0 {
		clear(e.lastFire)
	}
}

// Evaluate tests every rule against each update. Newly firing and newly
// resolved alerts are returned and delivered to the webhooks.
func (e *Engine) Evaluate(updates []session.Update) []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.rules) == 0 {
		return nil
	}

	now := e.now()
	var changed []Alert
	for _, u := range updates {
		for _, rule := range e.rules {
			if a := e.evaluateLocked(rule, u, now); a != nil {
				changed = append(changed, *a)
				cp := *a
				e.deliver(&cp)
			}
		}
	}
	e.pruneLocked(now)
	return changed
}

// pruneLocked forgets fire times that can no longer hold back a rule, so
// sessions that have gone away do not accumulate cooldown entries.
func (e *Engine) pruneLocked(now time.Time) {
	var longest time.Duration
	for _, rule := range e.rules {
		longest = max(longest, cooldownOf(rule))
	}
	for key, last := range e.lastFire {
		if _, firing := e.active[key]; firing {
			continue
		}
		if now.Sub(last) >= longest {
			delete(e.lastFire, key)
		}
	}
}

func cooldownOf(rule config.AlertRule) time.Duration {
	if rule.Cooldown <= 0 {
		return defaultCooldown
	}
	return rule.Cooldown
}

func (e *Engine) evaluateLocked(rule config.AlertRule, u session.Update, now time.Time) *Alert {
	key := rule.Name + ":" + u.SessionID
	fires, value := evalCondition(rule.Condition, u)

	if !fires {
		a, ok := e.active[key]
		if !ok {
			return nil
		}
		resolved := now
		a.State = StateResolved
		a.ResolvedAt = &resolved
		delete(e.active, key)
		e.history = append(e.history, a)
		if len(e.history) > maxHistoryLen {
			e.history = e.history[len(e.history)-maxHistoryLen:]
		}
		slog.Info("alerts: resolved", "rule", rule.Name, "session", u.SessionID)
		return a
	}

	if _, ok := e.active[key]; ok {
		return nil
	}
	if last, ok := e.lastFire[key]; ok && now.Sub(last) < cooldownOf(rule) {
		return nil
	}

	sev := rule.Severity
	if sev == "" {
		sev = "warning"
	}
	a := &Alert{
		ID:        uuid.NewString(),
		RuleName:  rule.Name,
		SessionID: u.SessionID,
		Severity:  sev,
		Value:     value,
		Message: fmt.Sprintf("[%s] %s fired on session %s: %s (value %.2f)",
			sev, rule.Name, u.SessionID, rule.Condition, value),
		FiredAt: now,
		State:   StateFiring,
	}
	e.active[key] = a
	e.lastFire[key] = now
	slog.Warn("alerts: fired",
		"rule", rule.Name,
		"session", u.SessionID,
		"value", value,
		"severity", sev,
	)
	return a
}

// Active returns copies of all firing alerts plus those resolved within the
// past hour, newest first.
func (e *Engine) Active() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]Alert, 0, len(e.active))
	for _, a := range e.active {
		out = append(out, *a)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// Firing returns the number of currently firing alerts.
func (e *Engine) Firing() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}
