package job

import (
	"sort"
	"strconv"

	"coordinator/internal/apperrors"
)

type paramValue struct {
	typ         ParamType
	identifying bool
	raw         any // string | int64 | float64 | bool
}

// Parameters is the coerced, typed parameter set for one execution. It
// implements ParameterView for step bodies and knows which of its entries
// are identifying for the purpose of job-instance equivalence.
type Parameters struct {
	values map[string]paramValue
}

func newParameters() *Parameters {
	return &Parameters{values: make(map[string]paramValue)}
}

func (p *Parameters) set(name string, typ ParamType, identifying bool, raw any) {
	p.values[name] = paramValue{typ: typ, identifying: identifying, raw: raw}
}

func (p *Parameters) GetString(name string) (string, bool) {
	v, ok := p.values[name]
	if !ok {
		return "", false
	}
	s, ok := v.raw.(string)
	return s, ok
}

func (p *Parameters) GetLong(name string) (int64, bool) {
	v, ok := p.values[name]
	if !ok {
		return 0, false
	}
	n, ok := v.raw.(int64)
	return n, ok
}

func (p *Parameters) GetDouble(name string) (float64, bool) {
	v, ok := p.values[name]
	if !ok {
		return 0, false
	}
	f, ok := v.raw.(float64)
	return f, ok
}

func (p *Parameters) GetBool(name string) (bool, bool) {
	v, ok := p.values[name]
	if !ok {
		return false, false
	}
	b, ok := v.raw.(bool)
	return b, ok
}

var _ ParameterView = (*Parameters)(nil)

// IdentifyingMap returns the subset of parameters marked identifying, for
// job-instance equivalence (spec §3 "Job Instance").
func (p *Parameters) IdentifyingMap() map[string]any {
	out := make(map[string]any)
	for name, v := range p.values {
		if v.identifying {
			out[name] = v.raw
		}
	}
	return out
}

// AllMap returns every parameter, for persistence as the execution's
// parameters snapshot.
func (p *Parameters) AllMap() map[string]any {
	out := make(map[string]any, len(p.values))
	for name, v := range p.values {
		out[name] = v.raw
	}
	return out
}

// Names returns the parameter names in sorted order, for deterministic tests.
func (p *Parameters) Names() []string {
	names := make([]string, 0, len(p.values))
	for name := range p.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildParameters injects triggerId and timestamp (both identifying), folds
// in caller-supplied parameters coerced against the job's declared
// parameterKeys, and applies defaults for any declared key the caller did
// not supply (spec §4.1 step 2).
func BuildParameters(def *JobDefinition, triggerID string, nowMs int64, raw map[string]string) (*Parameters, error) {
	params := newParameters()
	params.set("triggerId", TypeString, true, triggerID)
	params.set("timestamp", TypeLong, true, nowMs)

	declared := make(map[string]ParameterKey, len(def.ParameterKeys))
	for _, k := range def.ParameterKeys {
		declared[k.Name] = k
	}

	for name, key := range declared {
		if _, supplied := raw[name]; !supplied && key.Default != nil {
			params.set(name, key.Type, key.Identifying, key.Default)
		}
	}

	for name, value := range raw {
		key, known := declared[name]
		if !known {
			// Undeclared parameters pass through as non-identifying strings.
			params.set(name, TypeString, false, value)
			continue
		}
		coerced, err := coerce(value, key.Type)
		if err != nil {
			return nil, apperrors.ParameterCoercion(name, err.Error())
		}
		params.set(name, key.Type, key.Identifying, coerced)
	}

	return params, nil
}

func coerce(value string, typ ParamType) (any, error) {
	switch typ {
	case TypeString:
		return value, nil
	case TypeLong:
		return strconv.ParseInt(value, 10, 64)
	case TypeDouble:
		return strconv.ParseFloat(value, 64)
	case TypeBool:
		return strconv.ParseBool(value)
	default:
		return value, nil
	}
}
