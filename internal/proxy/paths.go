// Package proxy translates dashboard-shaped API calls into backend calls:
// path rewriting, key casing, per-endpoint field renames and error envelope
// normalization.
package proxy

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyPattern is returned for a rule without a pattern.
	ErrEmptyPattern = errors.New("rule pattern is empty")
	// ErrBadWildcard is returned when "*" is not the last pattern segment.
	ErrBadWildcard = errors.New("wildcard must be the last segment")
)

// Rule rewrites one family of dashboard paths to a backend path.
//
// Pattern and Target are slash separated templates. A segment starting with
// ":" captures one path segment; a final "*" captures whatever remains.
type Rule struct {
	Name           string            `yaml:"name"`
	Pattern        string            `yaml:"pattern"`
	Target         string            `yaml:"target"`
	RequestFields  map[string]string `yaml:"request_fields,omitempty"`
	ResponseFields map[string]string `yaml:"response_fields,omitempty"`
}

// Route is the result of matching a path against the rule table.
type Route struct {
	Rule   *Rule
	Params map[string]string
	Rest   string
	// Path is the backend path, without leading slash or query.
	Path string
}

type compiledRule struct {
	rule     Rule
	pattern  []string
	target   []string
	wildcard bool
}

// Mapper holds an ordered rule table. The first matching rule wins. A Mapper
// is immutable once built and safe for concurrent use.
type Mapper struct {
	rules []*compiledRule
}

// NewMapper compiles rules in order.
func NewMapper(rules []Rule) (*Mapper, error) {
	m := &Mapper{rules: make([]*compiledRule, 0, len(rules))}
	for i, r := range rules {
		c, err := compile(r)
		if err != nil {
			name := r.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			return nil, fmt.Errorf("route %s: %w", name, err)
		}
		m.rules = append(m.rules, c)
	}
	return m, nil
}

// MustMapper is NewMapper for static tables.
func MustMapper(rules []Rule) *Mapper {
	m, err := NewMapper(rules)
	if err != nil {
		panic(err)
	}
	return m
}

func compile(r Rule) (*compiledRule, error) {
	pattern := splitPath(r.Pattern)
	if len(pattern) == 0 {
		return nil, ErrEmptyPattern
	}
	c := &compiledRule{rule: r, pattern: pattern, target: splitPath(r.Target)}
	params := map[string]bool{}
	for i, seg := range pattern {
		switch {
		case seg == "*":
			if i != len(pattern)-1 {
				return nil, ErrBadWildcard
			}
			c.wildcard = true
			c.pattern = pattern[:i]
		case strings.HasPrefix(seg, ":"):
			params[seg[1:]] = true
		}
	}
	for _, seg := range c.target {
		if seg == "*" && !c.wildcard {
			return nil, fmt.Errorf("target uses * but pattern %q has no wildcard", r.Pattern)
		}
		if strings.HasPrefix(seg, ":") && !params[seg[1:]] {
			return nil, fmt.Errorf("target parameter %s not captured by pattern %q", seg, r.Pattern)
		}
	}
	return c, nil
}

func (c *compiledRule) match(segs []string) (map[string]string, string, bool) {
	if len(segs) < len(c.pattern) || (!c.wildcard && len(segs) != len(c.pattern)) {
		return nil, "", false
	}
	var params map[string]string
	for i, p := range c.pattern {
		if strings.HasPrefix(p, ":") {
			if params == nil {
				params = make(map[string]string)
			}
			params[p[1:]] = segs[i]
			continue
		}
		if p != segs[i] {
			return nil, "", false
		}
	}
	return params, strings.Join(segs[len(c.pattern):], "/"), true
}

func (c *compiledRule) render(params map[string]string, rest string) string {
	out := make([]string, 0, len(c.target))
	for _, seg := range c.target {
		switch {
		case seg == "*":
			if rest != "" {
				out = append(out, rest)
			}
		case strings.HasPrefix(seg, ":"):
			out = append(out, params[seg[1:]])
		default:
			out = append(out, seg)
		}
	}
	return strings.Join(out, "/")
}

// Match finds the rule for path. path may carry a leading slash, an "api/"
// prefix and a query string; none of them take part in matching.
// Segments are compared as given, so callers holding a URL pass its
// EscapedPath and get escaped params back.
func (m *Mapper) Match(path string) (Route, bool) {
	p, _ := splitQuery(path)
	segs := splitPath(Normalize(p))
	for _, c := range m.rules {
		params, rest, ok := c.match(segs)
		if !ok {
			continue
		}
		return Route{
			Rule:   &c.rule,
			Params: params,
			Rest:   rest,
			Path:   c.render(params, rest),
		}, true
	}
	return Route{}, false
}

// MapPath returns the backend path for a dashboard path. Unmatched paths are
// passed through normalized. A query string is carried over untouched.
func (m *Mapper) MapPath(path string) string {
	p, query := splitQuery(path)
	mapped := Normalize(p)
	if route, ok := m.Match(p); ok {
		mapped = route.Path
	}
	if query != "" {
		return mapped + "?" + query
	}
	return mapped
}

// Rules returns a copy of the rule table in match order.
func (m *Mapper) Rules() []Rule {
	out := make([]Rule, len(m.rules))
	for i, c := range m.rules {
		out[i] = c.rule
	}
	return out
}

// Normalize trims slashes and the "api/" prefix from a dashboard path.
func Normalize(path string) string {
	path = strings.Trim(path, "/")
	if path == "api" {
		return ""
	}
	return strings.TrimPrefix(path, "api/")
}

func splitQuery(path string) (string, string) {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		return path[:i], path[i+1:]
	}
	return path, ""
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	raw := strings.Split(path, "/")
	segs := raw[:0]
	for _, s := range raw {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// DefaultRules is the built-in dashboard to backend route table.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:    "risk-assessment",
			Pattern: "patients/:id/risk-assessment",
			Target:  "xgboost/predict-risk/:id",
			RequestFields: map[string]string{
				"patientId":    "patient_id",
				"riskType":     "risk_type",
				"clinicalData": "clinical_data",
			},
			ResponseFields: map[string]string{
				"risk_level":       "riskLevel",
				"confidence_score": "confidence",
			},
		},
		{
			Name:    "treatment-response",
			Pattern: "patients/:id/treatment-response",
			Target:  "xgboost/predict-treatment-response/:id",
			RequestFields: map[string]string{
				"treatmentType":    "treatment_type",
				"treatmentDetails": "treatment_details",
			},
			ResponseFields: map[string]string{
				"response_likelihood": "responseProbability",
			},
		},
		{
			Name:    "outcome-prediction",
			Pattern: "patients/:id/outcome-prediction",
			Target:  "xgboost/predict-outcome/:id",
		},
		{
			Name:    "feature-importance",
			Pattern: "patients/:id/feature-importance/:predictionId",
			Target:  "xgboost/feature-importance/:id/:predictionId",
		},
		{
			Name:    "brain-model",
			Pattern: "patients/:id/brain-model",
			Target:  "digital-twin/patients/:id/brain-model",
			ResponseFields: map[string]string{
				"model_id": "id",
			},
		},
		{
			Name:    "digital-twin",
			Pattern: "patients/:id/digital-twin",
			Target:  "digital-twin/patients/:id",
		},
		{
			Name:    "brain-models",
			Pattern: "brain-models/*",
			Target:  "digital-twin/brain-models/*",
			ResponseFields: map[string]string{
				"model_id": "id",
			},
		},
		{Name: "phi", Pattern: "ml/phi/*", Target: "phi/*"},
		{Name: "mentallama", Pattern: "ml/*", Target: "mentallama/*"},
		{Name: "current-user", Pattern: "users/me", Target: "auth/me"},
	}
}
