package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapPathDefaults(t *testing.T) {
	m := MustMapper(DefaultRules())
	tests := []struct {
		in   string
		want string
	}{
		{"patients/123/risk-assessment", "xgboost/predict-risk/123"},
		{"/api/patients/123/risk-assessment", "xgboost/predict-risk/123"},
		{"patients/123/treatment-response", "xgboost/predict-treatment-response/123"},
		{"patients/p-9/outcome-prediction", "xgboost/predict-outcome/p-9"},
		{"patients/7/feature-importance/abc", "xgboost/feature-importance/7/abc"},
		{"patients/7/brain-model", "digital-twin/patients/7/brain-model"},
		{"patients/7/digital-twin", "digital-twin/patients/7"},
		{"brain-models/m1/regions/r2", "digital-twin/brain-models/m1/regions/r2"},
		{"brain-models", "digital-twin/brain-models"},
		{"ml/phi/detect", "phi/detect"},
		{"ml/process", "mentallama/process"},
		{"users/me", "auth/me"},
		{"patients/7", "patients/7"},
		{"patients/123/risk-assessment?horizon=30d", "xgboost/predict-risk/123?horizon=30d"},
		{"unknown/thing/", "unknown/thing"},
		{"", ""},
		{"/api/", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, m.MapPath(tt.in))
		})
	}
}

func TestMapPathIsPure(t *testing.T) {
	m := MustMapper(DefaultRules())
	in := "patients/42/risk-assessment"
	first := m.MapPath(in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, m.MapPath(in))
	}
}

func TestMapPathCaseSensitive(t *testing.T) {
	m := MustMapper(DefaultRules())
	assert.Equal(t, "Patients/1/risk-assessment", m.MapPath("Patients/1/risk-assessment"))
}

func TestRuleOrderMatters(t *testing.T) {
	specific := Rule{Name: "specific", Pattern: "ml/phi/*", Target: "phi/*"}
	general := Rule{Name: "general", Pattern: "ml/*", Target: "mentallama/*"}

	m := MustMapper([]Rule{specific, general})
	assert.Equal(t, "phi/redact", m.MapPath("ml/phi/redact"))

	m = MustMapper([]Rule{general, specific})
	assert.Equal(t, "mentallama/phi/redact", m.MapPath("ml/phi/redact"))
}

func TestMatchReturnsRoute(t *testing.T) {
	m := MustMapper(DefaultRules())
	route, ok := m.Match("/api/patients/55/risk-assessment")
	require.True(t, ok)
	assert.Equal(t, "risk-assessment", route.Rule.Name)
	assert.Equal(t, map[string]string{"id": "55"}, route.Params)
	assert.Equal(t, "xgboost/predict-risk/55", route.Path)
	assert.Equal(t, "patient_id", route.Rule.RequestFields["patientId"])

	_, ok = m.Match("nothing/here")
	assert.False(t, ok)
}

func TestNewMapperValidation(t *testing.T) {
	_, err := NewMapper([]Rule{{Name: "empty"}})
	assert.ErrorIs(t, err, ErrEmptyPattern)

	_, err = NewMapper([]Rule{{Name: "wild", Pattern: "a/*/b", Target: "x"}})
	assert.ErrorIs(t, err, ErrBadWildcard)

	_, err = NewMapper([]Rule{{Name: "param", Pattern: "a/:id", Target: "b/:other"}})
	assert.ErrorContains(t, err, ":other")

	_, err = NewMapper([]Rule{{Name: "star", Pattern: "a/:id", Target: "b/*"}})
	assert.ErrorContains(t, err, "no wildcard")
}

func TestMapperRulesCopy(t *testing.T) {
	rules := DefaultRules()
	m := MustMapper(rules)
	got := m.Rules()
	require.Len(t, got, len(rules))
	assert.Equal(t, rules[0].Name, got[0].Name)
	got[0].Name = "changed"
	assert.Equal(t, rules[0].Name, m.Rules()[0].Name)
}
