package analysis

import (
	"encoding/json"
	"fmt"

	"github.com/Dicoangelo/meta-vengine-sub001/internal/consensus"
)

// buildPayload maps an agent's free-form data onto its typed payload.
// Absent keys take the kind's defaults; present keys of the wrong type are
// contract violations.
func buildPayload(kind consensus.AgentKind, data map[string]interface{}) (consensus.Payload, error) {
	d := dataReader{kind: kind, data: data}

	switch kind {
	case consensus.AgentOutcome:
		p := consensus.DefaultPayload(kind).(consensus.OutcomeResult)
		if err := d.str("outcome", &p.Outcome); err != nil {
			return nil, err
		}
		return p, nil

	case consensus.AgentQuality:
		p := consensus.DefaultPayload(kind).(consensus.QualityResult)
		if err := d.number("quality", &p.Quality); err != nil {
			return nil, err
		}
		return p, nil

	case consensus.AgentComplexity:
		p := consensus.DefaultPayload(kind).(consensus.ComplexityResult)
		if err := d.number("complexity", &p.Complexity); err != nil {
			return nil, err
		}
		return p, nil

	case consensus.AgentModelEfficiency:
		p := consensus.DefaultPayload(kind).(consensus.EfficiencyResult)
		if err := d.number("efficiency", &p.Efficiency); err != nil {
			return nil, err
		}
		if err := d.str("optimal_model", &p.OptimalModel); err != nil {
			return nil, err
		}
		return p, nil

	case consensus.AgentProductivity:
		p := consensus.DefaultPayload(kind).(consensus.ProductivityResult)
		if err := d.str("level", &p.Level); err != nil {
			return nil, err
		}
		if err := d.number("productivity_score", &p.ProductivityScore); err != nil {
			return nil, err
		}
		return p, nil

	case consensus.AgentContrarian:
		p := consensus.DefaultPayload(kind).(consensus.ContrarianResult)
		if err := d.optionalStr("minority_opinion", &p.MinorityOpinion); err != nil {
			return nil, err
		}
		if err := d.strList("assumption_risks", &p.AssumptionRisks); err != nil {
			return nil, err
		}
		return p, nil
	}

	return nil, fmt.Errorf("%w %q", consensus.ErrUnknownAgent, string(kind))
}

type dataReader struct {
	kind consensus.AgentKind
	data map[string]interface{}
}

func (d dataReader) mismatch(key, want string, got interface{}) error {
	return fmt.Errorf("%w: agent %q data.%s must be %s, got %T",
		consensus.ErrInvalidInput, d.kind, key, want, got)
}

// number reads a numeric key. A null value counts as absent.
func (d dataReader) number(key string, dst *float64) error {
	v, ok := d.data[key]
	if !ok || v == nil {
		return nil
	}
	switch n := v.(type) {
	case float64:
		*dst = n
	case float32:
		*dst = float64(n)
	case int:
		*dst = float64(n)
	case int64:
		*dst = float64(n)
	case uint64:
		*dst = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return d.mismatch(key, "a number", v)
		}
		*dst = f
	default:
		return d.mismatch(key, "a number", v)
	}
	return nil
}

// str reads a string key. A null value counts as absent.
func (d dataReader) str(key string, dst *string) error {
	v, ok := d.data[key]
	if !ok || v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return d.mismatch(key, "a string", v)
	}
	*dst = s
	return nil
}

// optionalStr reads a nullable string key.
func (d dataReader) optionalStr(key string, dst **string) error {
	v, ok := d.data[key]
	if !ok || v == nil {
		*dst = nil
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return d.mismatch(key, "a string or null", v)
	}
	*dst = &s
	return nil
}

// strList reads a list of strings. A null value counts as absent.
func (d dataReader) strList(key string, dst *[]string) error {
	v, ok := d.data[key]
	if !ok || v == nil {
		return nil
	}
	items, ok := v.([]interface{})
	if !ok {
		return d.mismatch(key, "a list of strings", v)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return d.mismatch(key, "a list of strings", item)
		}
		out = append(out, s)
	}
	*dst = out
	return nil
}
