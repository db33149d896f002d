package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PNdlovu/WriteCareNotes-sub010/pkg/connector/core"
)

func fieldRule(id string, op core.RuleOperation, source, target string, params map[string]interface{}) core.TransformationRule {
	return core.TransformationRule{
		ID:         id,
		Name:       id,
		Shape:      core.RuleShapeField,
		Source:     source,
		Target:     target,
		Operation:  op,
		Parameters: params,
		Enabled:    true,
	}
}

func TestMapRenamesAndRemovesSource(t *testing.T) {
	p := New()

	result, err := p.Apply(core.Record{"nhsNumber": "943 476 5919"},
		[]core.TransformationRule{fieldRule("r1", core.OpMap, "nhsNumber", "patientId", nil)})

	require.NoError(t, err)
	assert.Equal(t, "943 476 5919", result.Record["patientId"])
	_, exists := result.Record["nhsNumber"]
	assert.False(t, exists)
}

func TestMapSameSourceAndTargetCopiesInPlace(t *testing.T) {
	p := New()

	result, err := p.Apply(core.Record{"status": "active"},
		[]core.TransformationRule{fieldRule("r1", core.OpMap, "status", "status", nil)})

	require.NoError(t, err)
	assert.Equal(t, "active", result.Record["status"])
}

func TestMapIsIdempotentOnceSourceIsConsumed(t *testing.T) {
	p := New()
	rules := []core.TransformationRule{
		fieldRule("r1", core.OpMap, "heart_rate", "heartRate", nil),
		fieldRule("r2", core.OpMap, "device_id", "deviceId", nil),
	}

	first, err := p.Apply(core.Record{"heart_rate": 72, "device_id": "dev-9"}, rules)
	require.NoError(t, err)

	second, err := p.Apply(first.Record, rules)
	require.NoError(t, err)

	assert.Equal(t, first.Record, second.Record)
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	p := New()
	input := core.Record{"a": 1, "nested": map[string]interface{}{"b": 2}}

	_, err := p.Apply(input, []core.TransformationRule{
		fieldRule("r1", core.OpMap, "a", "renamed", nil),
		fieldRule("r2", core.OpMap, "nested.b", "flat", nil),
	})

	require.NoError(t, err)
	assert.Equal(t, 1, input["a"])
	assert.Equal(t, 2, input["nested"].(map[string]interface{})["b"])
}

func TestDisabledRulesAreSkipped(t *testing.T) {
	p := New()
	rule := fieldRule("r1", core.OpMap, "a", "b", nil)
	rule.Enabled = false

	result, err := p.Apply(core.Record{"a": 1}, []core.TransformationRule{rule})
	require.NoError(t, err)
	assert.Equal(t, core.Record{"a": 1}, result.Record)
}

func TestConvertStrictSurfacesError(t *testing.T) {
	p := New()

	_, err := p.Apply(core.Record{"age": "not-a-number"},
		[]core.TransformationRule{fieldRule("r1", core.OpConvert, "age", "age",
			map[string]interface{}{"type": "integer"})})

	assert.Error(t, err)
}

func TestConvertLenientProducesZero(t *testing.T) {
	p := New(WithLenientConversion())

	result, err := p.Apply(core.Record{"age": "not-a-number"},
		[]core.TransformationRule{fieldRule("r1", core.OpConvert, "age", "age",
			map[string]interface{}{"type": "integer"})})

	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Record["age"])
}

func TestConvertCoercions(t *testing.T) {
	p := New()

	tests := []struct {
		name  string
		value interface{}
		typ   string
		want  interface{}
	}{
		{"string to number", "3.5", "number", 3.5},
		{"string to integer", "42", "integer", int64(42)},
		{"float to integer", 9.9, "integer", int64(9)},
		{"string to boolean", "true", "boolean", true},
		{"number to boolean", float64(0), "boolean", false},
		{"date normalized", "2026-08-26", "date", "2026-08-26T00:00:00Z"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := p.Apply(core.Record{"v": tt.value},
				[]core.TransformationRule{fieldRule("r1", core.OpConvert, "v", "v",
					map[string]interface{}{"type": tt.typ})})
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Record["v"])
		})
	}
}

func TestCalculateNormalizedHeartRate(t *testing.T) {
	p := New()

	rule := fieldRule("r1", core.OpCalculate, "", "normalizedHeartRate", map[string]interface{}{
		"formula":   "heartRate * 1.0",
		"variables": map[string]interface{}{"heartRate": "heartRate"},
	})

	result, err := p.Apply(core.Record{"heartRate": 72}, []core.TransformationRule{rule})
	require.NoError(t, err)
	assert.Equal(t, 72, result.Record["heartRate"])
	assert.InDelta(t, 72.0, result.Record["normalizedHeartRate"].(float64), 1e-9)
}

func TestCalculateMalformedFormulaDegradesToZero(t *testing.T) {
	p := New()

	rule := fieldRule("r1", core.OpCalculate, "", "out", map[string]interface{}{
		"formula":   "heartRate *",
		"variables": map[string]interface{}{"heartRate": "heartRate"},
	})

	result, err := p.Apply(core.Record{"heartRate": 72}, []core.TransformationRule{rule})
	require.NoError(t, err)
	assert.Equal(t, float64(0), result.Record["out"])
}

func TestFilterDropsRecord(t *testing.T) {
	p := New()

	rule := fieldRule("r1", core.OpFilter, "", "", nil)
	rule.Conditions = []core.RuleCondition{
		{Field: "status", Operator: core.CondEquals, Value: "active"},
	}

	dropped, err := p.Apply(core.Record{"status": "retired"}, []core.TransformationRule{rule})
	require.NoError(t, err)
	assert.True(t, dropped.Filtered)
	assert.Nil(t, dropped.Record)

	kept, err := p.Apply(core.Record{"status": "active"}, []core.TransformationRule{rule})
	require.NoError(t, err)
	assert.False(t, kept.Filtered)
}

func TestFilterOperators(t *testing.T) {
	p := New()

	tests := []struct {
		name     string
		cond     core.RuleCondition
		record   core.Record
		filtered bool
	}{
		{"not_equals holds", core.RuleCondition{Field: "unit", Operator: core.CondNotEquals, Value: "east-wing"}, core.Record{"unit": "west-wing"}, false},
		{"contains holds", core.RuleCondition{Field: "name", Operator: core.CondContains, Value: "care"}, core.Record{"name": "sunrise care home"}, false},
		{"greater_than fails", core.RuleCondition{Field: "heartRate", Operator: core.CondGreaterThan, Value: 100}, core.Record{"heartRate": 72}, true},
		{"less_than holds", core.RuleCondition{Field: "heartRate", Operator: core.CondLessThan, Value: 100}, core.Record{"heartRate": 72}, false},
		{"missing field fails", core.RuleCondition{Field: "absent", Operator: core.CondEquals, Value: 1}, core.Record{}, true},
		{"numeric equals across types", core.RuleCondition{Field: "n", Operator: core.CondEquals, Value: 5}, core.Record{"n": float64(5)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := fieldRule("r1", core.OpFilter, "", "", nil)
			rule.Conditions = []core.RuleCondition{tt.cond}

			result, err := p.Apply(tt.record, []core.TransformationRule{rule})
			require.NoError(t, err)
			assert.Equal(t, tt.filtered, result.Filtered)
		})
	}
}

func TestConditionsGateNonFilterRules(t *testing.T) {
	p := New()

	rule := fieldRule("r1", core.OpMap, "a", "b", nil)
	rule.Conditions = []core.RuleCondition{
		{Field: "apply", Operator: core.CondEquals, Value: true},
	}

	skipped, err := p.Apply(core.Record{"a": 1, "apply": false}, []core.TransformationRule{rule})
	require.NoError(t, err)
	assert.Equal(t, 1, skipped.Record["a"])

	applied, err := p.Apply(core.Record{"a": 1, "apply": true}, []core.TransformationRule{rule})
	require.NoError(t, err)
	assert.Equal(t, 1, applied.Record["b"])
}

func TestAggregateSumAndAvg(t *testing.T) {
	p := New()
	record := core.Record{"systolic": 120, "diastolic": 80}

	sum := fieldRule("r1", core.OpAggregate, "", "total", map[string]interface{}{
		"op":      "sum",
		"sources": []interface{}{"systolic", "diastolic"},
	})
	avg := fieldRule("r2", core.OpAggregate, "", "mean", map[string]interface{}{
		"op":      "avg",
		"sources": []interface{}{"systolic", "diastolic"},
	})

	result, err := p.Apply(record, []core.TransformationRule{sum, avg})
	require.NoError(t, err)
	assert.Equal(t, float64(200), result.Record["total"])
	assert.Equal(t, float64(100), result.Record["mean"])
}

func TestSplitAndMerge(t *testing.T) {
	p := New()

	split := fieldRule("r1", core.OpSplit, "tags", "tagList", map[string]interface{}{"separator": ","})
	result, err := p.Apply(core.Record{"tags": "iot,telemetry,ward3"}, []core.TransformationRule{split})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"iot", "telemetry", "ward3"}, result.Record["tagList"])

	merge := fieldRule("r2", core.OpMerge, "", "fullName", map[string]interface{}{
		"sources":   []interface{}{"firstName", "lastName"},
		"separator": " ",
	})
	result, err = p.Apply(core.Record{"firstName": "Ada", "lastName": "Okafor"}, []core.TransformationRule{merge})
	require.NoError(t, err)
	assert.Equal(t, "Ada Okafor", result.Record["fullName"])
}

func TestCustomFunctionDispatch(t *testing.T) {
	p := New()
	p.RegisterCustom("redact", func(record core.Record, params map[string]interface{}) (core.Record, error) {
		field, _ := params["field"].(string)
		record[field] = "***"
		return record, nil
	})

	rule := fieldRule("r1", core.OpCustom, "", "", map[string]interface{}{
		"name":  "redact",
		"field": "nhsNumber",
	})

	result, err := p.Apply(core.Record{"nhsNumber": "943 476 5919"}, []core.TransformationRule{rule})
	require.NoError(t, err)
	assert.Equal(t, "***", result.Record["nhsNumber"])
}

func TestUnregisteredCustomFunctionFails(t *testing.T) {
	p := New()

	rule := fieldRule("r1", core.OpCustom, "", "", map[string]interface{}{"name": "missing"})
	_, err := p.Apply(core.Record{}, []core.TransformationRule{rule})
	assert.Error(t, err)
}

func TestNestedPaths(t *testing.T) {
	p := New()

	rule := fieldRule("r1", core.OpMap, "observation.vitals.heartRate", "heartRate", nil)
	result, err := p.Apply(core.Record{
		"observation": map[string]interface{}{
			"vitals": map[string]interface{}{"heartRate": 65},
		},
	}, []core.TransformationRule{rule})

	require.NoError(t, err)
	assert.Equal(t, 65, result.Record["heartRate"])
}
