// Package transform applies declarative transformation rules to data records
// flowing between the caller's representation and an external system's
// representation. Rules execute in declaration order over a copy of the
// record; a filter rule whose conditions fail drops the record from the
// pipeline output rather than raising an error.
package transform

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/core"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/errors"
	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/logger"
)

// CustomFunc is the extension point for aggregate/split/merge/custom rules
// that need behavior beyond the built-in operations. Implementations must
// be pure functions of (record, parameters) with no external I/O.
type CustomFunc func(record core.Record, params map[string]interface{}) (core.Record, error)

// Result is the outcome of running a rule list over one record. Filtered is
// the sentinel for a record dropped by a filter rule; it is not an error.
type Result struct {
	Record   core.Record
	Filtered bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLenientConversion restores the legacy convert behavior: invalid
// coercions produce the target type's zero value instead of a
// transformation error.
func WithLenientConversion() Option {
	return func(p *Pipeline) { p.lenient = true }
}

// WithLogger sets the pipeline logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// Pipeline executes transformation rule lists. Safe for concurrent use.
type Pipeline struct {
	lenient bool
	logger  *zap.Logger

	mu     sync.RWMutex
	custom map[string]CustomFunc
}

// New creates a transformation pipeline. Conversion is strict by default:
// an invalid coercion surfaces as a transformation error.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		logger: logger.Get().With(zap.String("component", "transform_pipeline")),
		custom: make(map[string]CustomFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RegisterCustom registers a named function for custom-operation rules.
func (p *Pipeline) RegisterCustom(name string, fn CustomFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.custom[name] = fn
}

// Apply runs the rules in order over a copy of record. Disabled rules are
// skipped; rules whose applicability conditions do not hold are skipped.
// A filter rule whose conditions fail short-circuits with Filtered=true.
func (p *Pipeline) Apply(record core.Record, rules []core.TransformationRule) (Result, error) {
	out := copyRecord(record)
	if out == nil {
		out = core.Record{}
	}

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}

		if rule.Operation == core.OpFilter {
			if !conditionsHold(out, rule.Conditions) {
				return Result{Filtered: true}, nil
			}
			continue
		}

		// Conditions on non-filter rules gate applicability.
		if len(rule.Conditions) > 0 && !conditionsHold(out, rule.Conditions) {
			continue
		}

		var err error
		switch rule.Operation {
		case core.OpMap:
			p.applyMap(out, rule)
		case core.OpConvert:
			err = p.applyConvert(out, rule)
		case core.OpCalculate:
			p.applyCalculate(out, rule)
		case core.OpAggregate:
			err = p.applyAggregate(out, rule)
		case core.OpSplit:
			err = p.applySplit(out, rule)
		case core.OpMerge:
			err = p.applyMerge(out, rule)
		case core.OpCustom:
			out, err = p.applyCustom(out, rule)
		default:
			err = errors.New(errors.ErrorTypeTransformation,
				fmt.Sprintf("unknown operation %q in rule %s", rule.Operation, rule.ID))
		}
		if err != nil {
			return Result{}, errors.Wrap(err, errors.ErrorTypeTransformation,
				fmt.Sprintf("rule %s failed", rule.ID))
		}
	}

	return Result{Record: out}, nil
}

// applyMap renames or copies the source field to the target field. A rule
// whose source is absent is a no-op, which makes rule lists idempotent once
// all sources have been consumed.
func (p *Pipeline) applyMap(record core.Record, rule core.TransformationRule) {
	value, ok := getPath(record, rule.Source)
	if !ok {
		return
	}
	setPath(record, rule.Target, value)
	if rule.Source != rule.Target {
		deletePath(record, rule.Source)
	}
}

func (p *Pipeline) applyConvert(record core.Record, rule core.TransformationRule) error {
	targetType, _ := rule.Parameters["type"].(string)
	if targetType == "" {
		return errors.New(errors.ErrorTypeTransformation,
			fmt.Sprintf("convert rule %s declares no target type", rule.ID))
	}

	value, ok := getPath(record, rule.Source)
	if !ok {
		return nil
	}

	target := rule.Target
	if target == "" {
		target = rule.Source
	}

	converted, err := convertValue(value, targetType)
	if err != nil {
		if !p.lenient {
			return err
		}
		p.logger.Warn("lenient conversion produced zero value",
			zap.String("rule", rule.ID),
			zap.String("target_type", targetType))
		converted = zeroFor(targetType)
	}

	setPath(record, target, converted)
	return nil
}

// applyCalculate evaluates the rule's formula over named variables resolved
// from the record and writes the result to the target. Malformed formulas
// and unresolvable variables degrade to zero with a warning; they never
// abort the pipeline.
func (p *Pipeline) applyCalculate(record core.Record, rule core.TransformationRule) {
	formula, _ := rule.Parameters["formula"].(string)

	vars := make(map[string]float64)
	if declared, ok := rule.Parameters["variables"].(map[string]interface{}); ok {
		for name, pathValue := range declared {
			path, _ := pathValue.(string)
			raw, found := getPath(record, path)
			if !found {
				continue
			}
			if f, err := toFloat(raw); err == nil {
				vars[name] = f
			}
		}
	}

	result, err := Evaluate(formula, vars)
	if err != nil {
		p.logger.Warn("calculate rule degraded to zero",
			zap.String("rule", rule.ID),
			zap.Error(err))
		result = 0
	}

	setPath(record, rule.Target, result)
}

func (p *Pipeline) applyAggregate(record core.Record, rule core.TransformationRule) error {
	op, _ := rule.Parameters["op"].(string)
	sources := sourcePaths(rule)
	if len(sources) == 0 {
		return errors.New(errors.ErrorTypeTransformation,
			fmt.Sprintf("aggregate rule %s declares no sources", rule.ID))
	}

	var values []float64
	for _, path := range sources {
		raw, ok := getPath(record, path)
		if !ok {
			continue
		}
		f, err := toFloat(raw)
		if err != nil {
			return errors.New(errors.ErrorTypeTransformation,
				fmt.Sprintf("aggregate source %s is not numeric", path))
		}
		values = append(values, f)
	}

	var result float64
	switch op {
	case "count":
		result = float64(len(values))
	case "sum", "":
		for _, v := range values {
			result += v
		}
	case "avg":
		if len(values) > 0 {
			for _, v := range values {
				result += v
			}
			result /= float64(len(values))
		}
	case "min":
		if len(values) > 0 {
			result = values[0]
			for _, v := range values[1:] {
				if v < result {
					result = v
				}
			}
		}
	case "max":
		if len(values) > 0 {
			result = values[0]
			for _, v := range values[1:] {
				if v > result {
					result = v
				}
			}
		}
	default:
		return errors.New(errors.ErrorTypeTransformation,
			fmt.Sprintf("unknown aggregate op %q", op))
	}

	setPath(record, rule.Target, result)
	return nil
}

func (p *Pipeline) applySplit(record core.Record, rule core.TransformationRule) error {
	raw, ok := getPath(record, rule.Source)
	if !ok {
		return nil
	}
	s, ok := raw.(string)
	if !ok {
		return errors.New(errors.ErrorTypeTransformation,
			fmt.Sprintf("split source %s is not a string", rule.Source))
	}

	sep, _ := rule.Parameters["separator"].(string)
	if sep == "" {
		sep = ","
	}

	parts := strings.Split(s, sep)
	out := make([]interface{}, len(parts))
	for i, part := range parts {
		out[i] = part
	}
	setPath(record, rule.Target, out)
	return nil
}

func (p *Pipeline) applyMerge(record core.Record, rule core.TransformationRule) error {
	sources := sourcePaths(rule)
	if len(sources) == 0 {
		return errors.New(errors.ErrorTypeTransformation,
			fmt.Sprintf("merge rule %s declares no sources", rule.ID))
	}

	sep, _ := rule.Parameters["separator"].(string)

	var parts []string
	for _, path := range sources {
		if raw, ok := getPath(record, path); ok {
			parts = append(parts, fmt.Sprintf("%v", raw))
		}
	}

	setPath(record, rule.Target, strings.Join(parts, sep))
	return nil
}

func (p *Pipeline) applyCustom(record core.Record, rule core.TransformationRule) (core.Record, error) {
	name, _ := rule.Parameters["name"].(string)

	p.mu.RLock()
	fn, ok := p.custom[name]
	p.mu.RUnlock()

	if !ok {
		return nil, errors.New(errors.ErrorTypeTransformation,
			fmt.Sprintf("custom function %q is not registered", name))
	}
	return fn(record, rule.Parameters)
}

func sourcePaths(rule core.TransformationRule) []string {
	raw, ok := rule.Parameters["sources"].([]interface{})
	if !ok {
		if rule.Source != "" {
			return []string{rule.Source}
		}
		return nil
	}
	paths := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			paths = append(paths, s)
		}
	}
	return paths
}

func conditionsHold(record core.Record, conditions []core.RuleCondition) bool {
	for _, cond := range conditions {
		if !conditionHolds(record, cond) {
			return false
		}
	}
	return true
}

func conditionHolds(record core.Record, cond core.RuleCondition) bool {
	value, ok := getPath(record, cond.Field)
	if !ok {
		return false
	}

	switch cond.Operator {
	case core.CondEquals:
		return valuesEqual(value, cond.Value)
	case core.CondNotEquals:
		return !valuesEqual(value, cond.Value)
	case core.CondContains:
		s, sok := value.(string)
		sub, cok := cond.Value.(string)
		return sok && cok && strings.Contains(s, sub)
	case core.CondGreaterThan:
		a, aerr := toFloat(value)
		b, berr := toFloat(cond.Value)
		return aerr == nil && berr == nil && a > b
	case core.CondLessThan:
		a, aerr := toFloat(value)
		b, berr := toFloat(cond.Value)
		return aerr == nil && berr == nil && a < b
	default:
		return false
	}
}

func valuesEqual(a, b interface{}) bool {
	// Numeric values compare by magnitude so JSON float64s match int
	// condition values.
	af, aerr := toFloat(a)
	bf, berr := toFloat(b)
	if aerr == nil && berr == nil {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

// convertValue coerces a value to the declared target type.
func convertValue(value interface{}, targetType string) (interface{}, error) {
	switch targetType {
	case "number":
		return toFloat(value)
	case "integer":
		f, err := toFloat(value)
		if err != nil {
			return nil, err
		}
		return int64(f), nil
	case "boolean":
		return toBool(value)
	case "date":
		return toDate(value)
	default:
		return nil, errors.New(errors.ErrorTypeTransformation,
			fmt.Sprintf("unknown conversion target type %q", targetType))
	}
}

func zeroFor(targetType string) interface{} {
	switch targetType {
	case "number":
		return float64(0)
	case "integer":
		return int64(0)
	case "boolean":
		return false
	case "date":
		return ""
	default:
		return nil
	}
}

func toFloat(value interface{}) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, errors.New(errors.ErrorTypeTransformation,
				fmt.Sprintf("cannot convert %q to number", v))
		}
		return f, nil
	default:
		return 0, errors.New(errors.ErrorTypeTransformation,
			fmt.Sprintf("cannot convert %T to number", value))
	}
}

func toBool(value interface{}) (bool, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true, nil
		case "false", "0", "no":
			return false, nil
		}
		return false, errors.New(errors.ErrorTypeTransformation,
			fmt.Sprintf("cannot convert %q to boolean", v))
	case float64, float32, int, int32, int64:
		f, _ := toFloat(v)
		return f != 0, nil
	default:
		return false, errors.New(errors.ErrorTypeTransformation,
			fmt.Sprintf("cannot convert %T to boolean", value))
	}
}

// toDate normalizes a value to an ISO 8601 (RFC 3339) string.
func toDate(value interface{}) (string, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339), nil
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t.UTC().Format(time.RFC3339), nil
			}
		}
		return "", errors.New(errors.ErrorTypeTransformation,
			fmt.Sprintf("cannot parse %q as date", v))
	case float64, int, int64:
		f, _ := toFloat(v)
		return time.Unix(int64(f), 0).UTC().Format(time.RFC3339), nil
	default:
		return "", errors.New(errors.ErrorTypeTransformation,
			fmt.Sprintf("cannot convert %T to date", value))
	}
}
