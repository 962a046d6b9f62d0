// Package optimizer implements the Response Optimizer (spec.md §4.12):
// profile selection, envelope transformations, and compression metrics for
// every controller response.
package optimizer

import (
	"encoding/json"
	"strings"
	"sync"
)

// Profile is one of the four response shapes.
type Profile string

const (
	ProfileMinimal  Profile = "minimal"
	ProfileStandard Profile = "standard"
	ProfileDetailed Profile = "detailed"
	ProfileDebug    Profile = "debug"
)

// RequestContext carries the hints auto-selection and explicit overrides
// read from (spec.md §4.12).
type RequestContext struct {
	Operation        string
	ExplicitProfile  Profile
	Agent            string
	Debug            bool
	ResultListLength int
	Assignees        []string
}

// Envelope is the tool response shape being optimized.
type Envelope struct {
	Success bool                   `json:"success"`
	Error   map[string]interface{} `json:"error,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`

	OperationID string                 `json:"operation_id,omitempty"`
	Operation   string                 `json:"operation,omitempty"`
	Timestamp   string                 `json:"timestamp,omitempty"`

	Confirmation map[string]interface{} `json:"confirmation,omitempty"`

	Hints []string `json:"hints,omitempty"`
}

// SelectProfile implements the auto-selection heuristics of spec.md §4.12.
func SelectProfile(ctx RequestContext) Profile {
	if ctx.ExplicitProfile != "" {
		return ctx.ExplicitProfile
	}
	if ctx.Operation == "list" || ctx.Operation == "get_status" || ctx.ResultListLength > 15 {
		return ProfileMinimal
	}
	for _, a := range ctx.Assignees {
		if strings.HasPrefix(a, "@") {
			return ProfileDetailed
		}
	}
	if ctx.Agent != "" {
		return ProfileDetailed
	}
	if ctx.Debug {
		return ProfileDebug
	}
	return ProfileStandard
}

// Metrics is the optimizer's observable counter set.
type Metrics struct {
	TotalOptimized          int64
	TotalBytesSaved         int64
	AverageCompressionRatio float64
	ProfileUsage            map[Profile]int64
}

// Optimizer shapes envelopes into a selected profile and tracks compression
// metrics across calls. Safe for concurrent use.
type Optimizer struct {
	mu              sync.Mutex
	totalOptimized  int64
	totalBytesSaved int64
	ratioSum        float64
	profileUsage    map[Profile]int64
}

// New constructs an Optimizer.
func New() *Optimizer {
	return &Optimizer{profileUsage: make(map[Profile]int64)}
}

// Shape applies profile-specific transformations to raw and returns the
// shaped map, recording profile in the usage metrics.
func (o *Optimizer) Shape(raw map[string]interface{}, profile Profile, hints []string) map[string]interface{} {
	rawSize := jsonSize(raw)

	shaped := transform(raw)
	shaped = removeDuplicateConfirmation(shaped)
	shaped = removeEmpty(shaped)
	shaped = flattenSingletons(shaped)
	shaped = consolidateMeta(shaped)

	result := buildProfile(shaped, profile, hints)

	o.record(profile, rawSize, jsonSize(result))
	return result
}

func (o *Optimizer) record(profile Profile, rawSize, shapedSize int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.totalOptimized++
	o.profileUsage[profile]++

	if rawSize > shapedSize {
		saved := int64(rawSize - shapedSize)
		o.totalBytesSaved += saved
	}
	if rawSize > 0 {
		ratio := float64(shapedSize) / float64(rawSize)
		o.ratioSum += ratio
	}
}

// Metrics returns a snapshot of the optimizer's counters.
func (o *Optimizer) Metrics() Metrics {
	o.mu.Lock()
	defer o.mu.Unlock()

	avg := 0.0
	if o.totalOptimized > 0 {
		avg = o.ratioSum / float64(o.totalOptimized)
	}

	usage := make(map[Profile]int64, len(o.profileUsage))
	for k, v := range o.profileUsage {
		usage[k] = v
	}

	return Metrics{
		TotalOptimized:          o.totalOptimized,
		TotalBytesSaved:         o.totalBytesSaved,
		AverageCompressionRatio: avg,
		ProfileUsage:            usage,
	}
}

func jsonSize(v interface{}) int {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(b)
}

// transform returns a shallow copy of raw so subsequent steps never add or
// remove top-level keys of the caller's map. Nested maps are shared, and
// later steps modify them in place.
func transform(raw map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		out[k] = v
	}
	return out
}

// removeDuplicateConfirmation drops confirmation.operation_details when it
// duplicates the envelope's top-level {operation, operation_id, timestamp}.
func removeDuplicateConfirmation(m map[string]interface{}) map[string]interface{} {
	conf, ok := m["confirmation"].(map[string]interface{})
	if !ok {
		return m
	}
	details, ok := conf["operation_details"].(map[string]interface{})
	if !ok {
		return m
	}
	same := fieldEqual(details, m, "operation") &&
		fieldEqual(details, m, "operation_id") &&
		fieldEqual(details, m, "timestamp")
	if same {
		delete(conf, "operation_details")
		m["confirmation"] = conf
	}
	return m
}

func fieldEqual(a, b map[string]interface{}, key string) bool {
	av, aok := a[key]
	bv, bok := b[key]
	if aok != bok {
		return false
	}
	if !aok {
		return true
	}
	return jsonEqual(av, bv)
}

func jsonEqual(a, b interface{}) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return string(ab) == string(bb)
}

// removeEmpty recursively strips nil, "", empty slices, and empty maps.
func removeEmpty(v interface{}) map[string]interface{} {
	cleaned, _ := cleanValue(v).(map[string]interface{})
	return cleaned
}

func cleanValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			cv := cleanValue(val)
			if isEmpty(cv) {
				continue
			}
			out[k] = cv
		}
		return out
	case []interface{}:
		out := make([]interface{}, 0, len(t))
		for _, val := range t {
			cv := cleanValue(val)
			if isEmpty(cv) {
				continue
			}
			out = append(out, cv)
		}
		return out
	default:
		return v
	}
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case map[string]interface{}:
		return len(t) == 0
	case []interface{}:
		return len(t) == 0
	}
	return false
}

// flattenSingletons replaces any single-item array with its scalar value.
func flattenSingletons(m map[string]interface{}) map[string]interface{} {
	for k, v := range m {
		m[k] = flattenValue(v)
	}
	return m
}

func flattenValue(v interface{}) interface{} {
	switch t := v.(type) {
	case []interface{}:
		if len(t) == 1 {
			return flattenValue(t[0])
		}
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = flattenValue(item)
		}
		return out
	case map[string]interface{}:
		for k, val := range t {
			t[k] = flattenValue(val)
		}
		return t
	default:
		return v
	}
}

// consolidateMeta merges {operation_id, timestamp, operation,
// confirmation.data_persisted, confirmation.partial_failures} into a single
// meta object.
func consolidateMeta(m map[string]interface{}) map[string]interface{} {
	meta := map[string]interface{}{}
	if v, ok := m["operation_id"]; ok {
		meta["id"] = v
		delete(m, "operation_id")
	}
	if v, ok := m["operation"]; ok {
		meta["operation"] = v
	}
	if v, ok := m["timestamp"]; ok {
		meta["timestamp"] = v
		delete(m, "timestamp")
	}
	if conf, ok := m["confirmation"].(map[string]interface{}); ok {
		if v, ok := conf["data_persisted"]; ok {
			meta["persisted"] = v
		}
		if v, ok := conf["partial_failures"]; ok {
			meta["partial_failures"] = v
		}
		delete(m, "confirmation")
	}
	if len(meta) > 0 {
		m["meta"] = meta
	}
	return m
}

// buildProfile projects shaped down to the fields the given profile keeps.
func buildProfile(shaped map[string]interface{}, profile Profile, hints []string) map[string]interface{} {
	switch profile {
	case ProfileMinimal:
		out := map[string]interface{}{}
		for _, k := range []string{"success", "operation", "data"} {
			if v, ok := shaped[k]; ok {
				out[k] = v
			}
		}
		if v, ok := shaped["error"]; ok {
			out["error"] = v
		}
		return out

	case ProfileStandard:
		out := map[string]interface{}{}
		for _, k := range []string{"success", "operation", "data", "meta", "error"} {
			if v, ok := shaped[k]; ok {
				out[k] = v
			}
		}
		return out

	case ProfileDetailed:
		out := map[string]interface{}{}
		for k, v := range shaped {
			out[k] = v
		}
		if len(hints) > 0 {
			out["hints"] = hintsDetail(hints)
		}
		return out

	case ProfileDebug:
		out := map[string]interface{}{}
		for k, v := range shaped {
			out[k] = v
		}
		if len(hints) > 0 {
			out["hints"] = hintsDetail(hints)
		}
		out["debug_info"] = map[string]interface{}{
			"optimization_steps": []string{
				"remove_duplicate_confirmation", "remove_empty", "flatten_singletons", "consolidate_meta",
			},
		}
		return out
	}
	return shaped
}

func hintsDetail(hints []string) map[string]interface{} {
	return map[string]interface{}{
		"next":       hints,
		"required":   []string{},
		"tips":       hints,
		"confidence": "medium",
	}
}
