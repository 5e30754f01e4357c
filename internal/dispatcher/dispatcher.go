// Package dispatcher implements the Tool Dispatcher/Executor of spec §4.9:
// the single entry point for every tool call, responsible for alias/preset
// normalization, envelope allocation, handler invocation, output shaping,
// store_as persistence, audit emission, and error mapping.
package dispatcher

import (
	"context"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sentryfrogg/engine/internal/audit"
	"github.com/sentryfrogg/engine/internal/model"
	"github.com/sentryfrogg/engine/internal/platform/apperr"
	"github.com/sentryfrogg/engine/internal/platform/logging"
	"github.com/sentryfrogg/engine/internal/platform/redaction"
	"github.com/sentryfrogg/engine/internal/statestore"
)

// Handler is a registered tool's implementation: normalized args in,
// shapeable result out.
type Handler func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error)

// AliasResolver is the subset of internal/registry a dispatcher needs for
// normalization.
type AliasResolver interface {
	ResolveAlias(tool string) (string, error)
	PresetGet(tool, name string) (map[string]interface{}, error)
}

// Dispatcher routes {tool, args} calls to registered handlers.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	aliases AliasResolver
	state   *statestore.Store
	audit   *audit.Writer
	log     *logging.Logger
	limiter *rate.Limiter
}

// Option configures a Dispatcher at construction.
type Option func(*Dispatcher)

// WithMaxInflight rate-limits tool invocations with a token-bucket limiter
// (SPEC_FULL §5.9): at most maxInflight dispatches start per second, with a
// burst of maxInflight. Invocations still running are not counted, so it
// does not cap concurrency. 0 leaves dispatch unlimited, matching the
// default when SENTRYFROGG_MAX_INFLIGHT is unset.
func WithMaxInflight(maxInflight int) Option {
	return func(d *Dispatcher) {
		if maxInflight > 0 {
			d.limiter = rate.NewLimiter(rate.Limit(maxInflight), maxInflight)
		}
	}
}

func New(aliases AliasResolver, state *statestore.Store, auditWriter *audit.Writer, log *logging.Logger, opts ...Option) *Dispatcher {
	if log == nil {
		log = logging.Default()
	}
	d := &Dispatcher{
		handlers: map[string]Handler{},
		aliases:  aliases,
		state:    state,
		audit:    auditWriter,
		log:      log,
	}
	if n, err := strconv.Atoi(os.Getenv("SENTRYFROGG_MAX_INFLIGHT")); err == nil && n > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(n), n)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register binds a handler to a canonical tool name. Call before Dispatch
// is reachable concurrently (typically once at startup from cmd/main.go).
func (d *Dispatcher) Register(tool string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[tool] = h
}

// knownTools lists registered tool names, sorted, for UnknownTool errors.
func (d *Dispatcher) knownTools() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Dispatcher) handler(tool string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[tool]
	return h, ok
}

// Dispatch runs the full pipeline of spec §4.9 for one {tool, rawArgs} call.
func (d *Dispatcher) Dispatch(ctx context.Context, tool string, rawArgs map[string]interface{}) (map[string]interface{}, error) {
	start := time.Now()

	canonical := tool
	if d.aliases != nil {
		if resolved, err := d.aliases.ResolveAlias(tool); err == nil {
			canonical = resolved
		}
	}

	args := cloneArgs(rawArgs)
	traceID := popString(args, "trace_id")
	if traceID == "" {
		traceID = logging.NewTraceID()
	}
	spanID := popString(args, "span_id")
	if spanID == "" {
		spanID = logging.NewSpanID()
	}
	parentSpanID := popString(args, "parent_span_id")
	outputDirective := popAny(args, "output")
	storeAs := popAny(args, "store_as")
	storeScope := popString(args, "store_scope")
	if storeScope == "" {
		storeScope = string(model.ScopeSession)
	}

	presetName := popString(args, "preset")
	if presetName == "" {
		presetName = popString(args, "preset_name")
	}
	if presetName != "" && d.aliases != nil {
		preset, err := d.aliases.PresetGet(canonical, presetName)
		if err != nil {
			normalized := apperr.Normalize(err)
			d.record(ctx, canonical, traceID, spanID, parentSpanID, rawArgs, normalized, start)
			return nil, normalized
		}
		args = mergeDefaults(preset, args)
	}

	ctx = logging.WithTraceID(ctx, traceID)
	ctx = logging.WithSpanID(ctx, spanID)

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			wrapped := apperr.Wrap(apperr.Timeout, "dispatch_rate_limited", "timed out waiting for the dispatch rate limiter", err)
			d.record(ctx, canonical, traceID, spanID, parentSpanID, rawArgs, wrapped, start)
			return nil, wrapped
		}
	}

	h, ok := d.handler(canonical)
	if !ok {
		err := apperr.New(apperr.NotFound, "unknown_tool", "no handler is registered for this tool").
			WithDetails("tool", canonical).WithDetails("known_tools", d.knownTools())
		d.record(ctx, canonical, traceID, spanID, parentSpanID, rawArgs, err, start)
		return nil, err
	}

	res, err := h(ctx, args)
	if err != nil {
		normalized := apperr.Normalize(err)
		d.record(ctx, canonical, traceID, spanID, parentSpanID, rawArgs, normalized, start)
		return nil, normalized
	}

	shaped, err := shapeOutput(res, outputDirective)
	if err != nil {
		d.record(ctx, canonical, traceID, spanID, parentSpanID, rawArgs, err, start)
		return nil, err
	}

	if key, scope, ok := resolveStoreAs(storeAs, storeScope); ok && d.state != nil {
		if _, err := d.state.Set(scope, key, shaped); err != nil {
			d.record(ctx, canonical, traceID, spanID, parentSpanID, rawArgs, err, start)
			return nil, err
		}
	}

	d.record(ctx, canonical, traceID, spanID, parentSpanID, rawArgs, nil, start)
	return envelope(shaped, traceID, spanID, parentSpanID), nil
}

// record emits the audit entry and the tool-call log line; it has no
// bearing on what Dispatch returns to its caller.
func (d *Dispatcher) record(ctx context.Context, tool, traceID, spanID, parentSpanID string, rawArgs map[string]interface{}, err error, start time.Time) {
	status := model.AuditOK
	errMsg := ""
	if err != nil {
		status = model.AuditError
		errMsg = err.Error()
	}
	if d.audit != nil {
		d.audit.Write(model.AuditEntry{
			Timestamp:    time.Now(),
			Tool:         tool,
			Action:       stringField(rawArgs, "action"),
			Status:       status,
			TraceID:      traceID,
			SpanID:       spanID,
			ParentSpanID: parentSpanID,
			DurationMS:   time.Since(start).Milliseconds(),
			Details:      redaction.StringMap(rawArgs),
			Error:        errMsg,
		})
	}
	d.log.LogToolCall(ctx, tool, string(status), time.Since(start), err)
}

// envelope always returns a map[string]interface{} regardless of whether
// shaping produced a non-map value, carrying the call's trace/span IDs.
func envelope(shaped interface{}, traceID, spanID, parentSpanID string) map[string]interface{} {
	result := shapedResult(shaped)
	if result == nil {
		result = map[string]interface{}{}
	}
	result["trace_id"] = traceID
	result["span_id"] = spanID
	if parentSpanID != "" {
		result["parent_span_id"] = parentSpanID
	}
	return result
}

func shapedResult(v interface{}) map[string]interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		return m
	}
	if v == nil {
		return nil
	}
	return map[string]interface{}{"value": v}
}

func stringField(args map[string]interface{}, key string) string {
	if s, ok := args[key].(string); ok {
		return s
	}
	return ""
}

func cloneArgs(args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

func popString(args map[string]interface{}, key string) string {
	v, ok := args[key]
	if !ok {
		return ""
	}
	delete(args, key)
	s, _ := v.(string)
	return s
}

func popAny(args map[string]interface{}, key string) interface{} {
	v, ok := args[key]
	if !ok {
		return nil
	}
	delete(args, key)
	return v
}

// mergeDefaults lays preset under explicit args: explicit values always win
// (spec §4.9 "preset values are defaults; explicit args win").
func mergeDefaults(preset, explicit map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(preset)+len(explicit))
	for k, v := range preset {
		out[k] = v
	}
	for k, v := range explicit {
		out[k] = v
	}
	return out
}

// resolveStoreAs accepts either a bare key string (using defaultScope) or
// {key, scope} (spec §4.9 "store_as").
func resolveStoreAs(storeAs interface{}, defaultScope string) (string, model.StateScope, bool) {
	switch v := storeAs.(type) {
	case string:
		if v == "" {
			return "", "", false
		}
		return v, model.StateScope(defaultScope), true
	case map[string]interface{}:
		key, _ := v["key"].(string)
		if key == "" {
			return "", "", false
		}
		scope := defaultScope
		if s, ok := v["scope"].(string); ok && s != "" {
			scope = s
		}
		return key, model.StateScope(scope), true
	default:
		return "", "", false
	}
}
