// Package domain defines the core types shared across funcd.
// These types represent the runtime's data model, not HTTP or wire specifics.
//
// Domain types carry json tags because they are directly serialized in API
// responses (/functions, /function-status/{name}). When the API shape diverges
// from the domain type, define a response struct in the api package instead.
package domain

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// TriggerType identifies how a function invocation was initiated.
type TriggerType string

const (
	TriggerHTTP     TriggerType = "http"
	TriggerSchedule TriggerType = "schedule"
	TriggerDatabase TriggerType = "database"
	TriggerEvent    TriggerType = "event"
	TriggerOnce     TriggerType = "once"
	TriggerWebhook  TriggerType = "webhook"
)

// DefaultHTTPMethods is the method set for http triggers that do not
// restrict methods explicitly.
var DefaultHTTPMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH"}

// Trigger is a declarative descriptor that makes a function eligible to be
// invoked under specific conditions. Exactly one variant applies per Type;
// fields for other variants are zero.
type Trigger struct {
	Type TriggerType `json:"type"`

	// http: allowed methods. Empty means DefaultHTTPMethods.
	Methods []string `json:"methods,omitempty"`

	// schedule: 5-field cron expression plus an optional display name.
	Cron string `json:"cron,omitempty"`
	Name string `json:"name,omitempty"`

	// database: watched table, operation subset, NOTIFY channel.
	Table      string   `json:"table,omitempty"`
	Operations []string `json:"operations,omitempty"`
	Channel    string   `json:"channel,omitempty"`

	// event: application event name.
	Event string `json:"event,omitempty"`

	// once: informational condition, not evaluated by the runtime.
	Condition string `json:"condition,omitempty"`
}

// triggerAlias mirrors Trigger for decoding. Handler authors write both
// "method" (string or list, the webhook/legacy form) and "methods";
// stringList accepts either shape.
type triggerAlias struct {
	Type       TriggerType `json:"type"`
	Method     stringList  `json:"method"`
	Methods    stringList  `json:"methods"`
	Cron       string      `json:"cron"`
	Name       string      `json:"name"`
	Table      string      `json:"table"`
	Operations []string    `json:"operations"`
	Channel    string      `json:"channel"`
	Event      string      `json:"event"`
	Condition  string      `json:"condition"`
}

// stringList decodes either a JSON string or an array of strings.
type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var one string
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*s = []string{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// UnmarshalJSON accepts both the canonical descriptor shape and the loose
// forms handler files use ("method" as a string or list).
func (t *Trigger) UnmarshalJSON(data []byte) error {
	var a triggerAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	if a.Type == "" {
		return fmt.Errorf("trigger: missing type")
	}
	methods := append([]string(nil), a.Methods...)
	methods = append(methods, a.Method...)
	*t = Trigger{
		Type:       a.Type,
		Methods:    methods,
		Cron:       a.Cron,
		Name:       a.Name,
		Table:      a.Table,
		Operations: a.Operations,
		Channel:    a.Channel,
		Event:      a.Event,
		Condition:  a.Condition,
	}
	return nil
}

// NotifyChannel returns the LISTEN/NOTIFY channel for a database trigger.
// Defaults to "<table>_changes" when no explicit channel is set.
func (t Trigger) NotifyChannel() string {
	if t.Channel != "" {
		return t.Channel
	}
	if t.Table != "" {
		return t.Table + "_changes"
	}
	return ""
}

// AllowsOperation reports whether a database trigger matches the given
// operation (INSERT/UPDATE/DELETE). An empty Operations set matches all.
func (t Trigger) AllowsOperation(op string) bool {
	if len(t.Operations) == 0 {
		return true
	}
	for _, o := range t.Operations {
		if o == op {
			return true
		}
	}
	return false
}

// Status is the mutable per-function execution state.
type Status struct {
	LastRunAt    *time.Time `json:"last_run_at,omitempty"`
	RunCount     int        `json:"run_count"`
	HasCompleted bool       `json:"has_completed"`
	LastResult   any        `json:"last_result,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// Function is one registered handler. The record is shared across triggers;
// Status access goes through RecordRun/MarkCompleted/StatusSnapshot so
// concurrent executions never observe a torn state.
type Function struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Triggers    []Trigger         `json:"triggers"`
	SourcePath  string            `json:"source_path"`
	EnvVars     map[string]string `json:"-"`
	RunOnce     bool              `json:"run_once"`

	Invoker Invoker `json:"-"`

	mu     sync.Mutex
	status Status
}

// HTTPMethods returns the union of allowed methods across the function's
// http triggers, or nil if the function declares no http trigger.
func (f *Function) HTTPMethods() []string {
	var methods []string
	seen := make(map[string]bool)
	declared := false
	for _, t := range f.Triggers {
		if t.Type != TriggerHTTP {
			continue
		}
		declared = true
		ms := t.Methods
		if len(ms) == 0 {
			ms = DefaultHTTPMethods
		}
		for _, m := range ms {
			if !seen[m] {
				seen[m] = true
				methods = append(methods, m)
			}
		}
	}
	if !declared {
		return nil
	}
	return methods
}

// TriggersOf returns the function's triggers of the given type.
func (f *Function) TriggersOf(kind TriggerType) []Trigger {
	var out []Trigger
	for _, t := range f.Triggers {
		if t.Type == kind {
			out = append(out, t)
		}
	}
	return out
}

// RecordRun updates the status after one invocation. start is the invocation
// start time, result the normalized return value (nil on failure), errMsg the
// error summary ("" on success).
func (f *Function) RecordRun(start time.Time, result any, errMsg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := start
	f.status.LastRunAt = &t
	f.status.RunCount++
	if errMsg != "" {
		f.status.LastError = errMsg
		f.status.LastResult = map[string]any{"error": errMsg}
		return
	}
	f.status.LastError = ""
	f.status.LastResult = result
}

// MarkCompleted flips HasCompleted. Only the executor calls this, and only
// under the run-once success rule (result is a mapping with success == true).
func (f *Function) MarkCompleted() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status.HasCompleted = true
}

// SetCompleted restores HasCompleted from the process-wide completed set
// when a record is rebuilt on reload.
func (f *Function) SetCompleted(done bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status.HasCompleted = done
}

// StatusSnapshot returns a copy of the current status.
func (f *Function) StatusSnapshot() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Completed reports whether a successful run-once execution has been recorded.
func (f *Function) Completed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status.HasCompleted
}
