package engine

import (
	"encoding/json"
	"log/slog"
	"reflect"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/kode4food/stagehand/pkg/api"
	"github.com/kode4food/stagehand/pkg/log"
)

// Evaluator evaluates declarative conditions against a state snapshot. It is
// side-effect free: a malformed condition or snapshot evaluates to false and
// is logged as a warning, never surfaced as an error
type Evaluator struct {
	lua *LuaEnv
}

const customStateArg = "state"

// NewEvaluator creates a condition evaluator backed by the given Lua
// environment for custom conditions
func NewEvaluator(lua *LuaEnv) *Evaluator {
	return &Evaluator{lua: lua}
}

// Evaluate applies a single condition to the snapshot
func (e *Evaluator) Evaluate(cond *api.Condition, state api.State) bool {
	if cond.Type == api.ConditionCustom {
		return e.evaluateCustom(cond, state)
	}

	doc, err := json.Marshal(state)
	if err != nil {
		slog.Warn("State snapshot not serializable",
			log.ConditionID(cond.ID),
			log.Error(err))
		return false
	}
	return evaluateDoc(cond, doc)
}

// EvaluateAll applies a set of conditions to the snapshot and returns
// whether all required conditions hold, along with the IDs of the required
// conditions that failed. Non-required failures are logged and ignored
func (e *Evaluator) EvaluateAll(
	conds []*api.Condition, state api.State,
) (bool, []api.ConditionID) {
	var failed []api.ConditionID

	for _, cond := range conds {
		if e.Evaluate(cond, state) {
			continue
		}
		if !cond.Required {
			slog.Warn("Optional condition not met",
				log.ConditionID(cond.ID))
			continue
		}
		failed = append(failed, cond.ID)
	}

	return len(failed) == 0, failed
}

func (e *Evaluator) evaluateCustom(cond *api.Condition, state api.State) bool {
	script, ok := cond.Value.(string)
	if !ok || script == "" {
		slog.Warn("Custom condition has no script",
			log.ConditionID(cond.ID))
		return false
	}

	c, err := e.lua.Compile(script, []string{customStateArg})
	if err != nil {
		slog.Warn("Custom condition failed to compile",
			log.ConditionID(cond.ID),
			log.Error(err))
		return false
	}

	res, err := e.lua.EvaluatePredicate(c, map[string]any{
		customStateArg: map[string]any(state),
	})
	if err != nil {
		slog.Warn("Custom condition failed to evaluate",
			log.ConditionID(cond.ID),
			log.Error(err))
		return false
	}
	return res
}

func evaluateDoc(cond *api.Condition, doc []byte) bool {
	target := gjson.GetBytes(doc, cond.Target)

	switch cond.Operator {
	case api.OperatorExists:
		return target.Exists()
	case api.OperatorNotExists:
		return !target.Exists()
	case api.OperatorEquals:
		return target.Exists() &&
			reflect.DeepEqual(target.Value(), normalizeValue(cond.Value))
	case api.OperatorNotEquals:
		return !target.Exists() ||
			!reflect.DeepEqual(target.Value(), normalizeValue(cond.Value))
	case api.OperatorGreaterThan:
		return compareNumeric(target, cond.Value, func(a, b float64) bool {
			return a > b
		})
	case api.OperatorLessThan:
		return compareNumeric(target, cond.Value, func(a, b float64) bool {
			return a < b
		})
	case api.OperatorContains:
		return evaluateContains(target, cond.Value)
	default:
		slog.Warn("Unknown condition operator",
			log.ConditionID(cond.ID),
			slog.String("operator", string(cond.Operator)))
		return false
	}
}

// compareNumeric requires both operands to be numeric; anything else is
// false, not an error
func compareNumeric(
	target gjson.Result, value any, cmp func(a, b float64) bool,
) bool {
	if target.Type != gjson.Number {
		return false
	}
	num, ok := toFloat(value)
	if !ok {
		return false
	}
	return cmp(target.Float(), num)
}

func evaluateContains(target gjson.Result, value any) bool {
	if target.Type == gjson.String {
		substr, ok := normalizeValue(value).(string)
		if !ok {
			return false
		}
		return strings.Contains(target.String(), substr)
	}

	if target.IsArray() {
		want := normalizeValue(value)
		for _, elem := range target.Array() {
			if reflect.DeepEqual(elem.Value(), want) {
				return true
			}
		}
	}
	return false
}

// normalizeValue round-trips a literal through JSON so deep equality against
// gjson results compares like with like
func normalizeValue(value any) any {
	data, err := json.Marshal(value)
	if err != nil {
		return value
	}
	var res any
	if err := json.Unmarshal(data, &res); err != nil {
		return value
	}
	return res
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	}
	return 0, false
}
