package proxy

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func riskRule(t *testing.T) *Rule {
	t.Helper()
	route, ok := MustMapper(DefaultRules()).Match("patients/1/risk-assessment")
	require.True(t, ok)
	return route.Rule
}

func TestTransformerRequest(t *testing.T) {
	tr := NewTransformer(nil)
	out := tr.Request(riskRule(t), []byte(`{"patientId":"p1","riskType":"suicide","clinicalData":{"phq9Score":12,"notes":"<b>x</b> & y"}}`))
	assert.JSONEq(t, `{"patient_id":"p1","risk_type":"suicide","clinical_data":{"phq9_score":12,"notes":"<b>x</b> & y"}}`, string(out))
	assert.Contains(t, string(out), "<b>x</b> & y")
}

func TestTransformerResponse(t *testing.T) {
	tr := NewTransformer(nil)
	out := tr.Response(riskRule(t), []byte(`{"risk_level":"high","confidence_score":0.87,"feature_importance":[{"feature_name":"sleep","weight":0.1}]}`))
	assert.JSONEq(t, `{"riskLevel":"high","confidence":0.87,"featureImportance":[{"featureName":"sleep","weight":0.1}]}`, string(out))
}

func TestTransformerKeepsNumberLiterals(t *testing.T) {
	tr := NewTransformer(nil)
	out := tr.Response(nil, []byte(`{"big_id":12345678901234567890,"ratio":1.50}`))
	assert.Equal(t, `{"bigId":12345678901234567890,"ratio":1.50}`, string(out))
}

func TestTransformerPassThroughOnBadPayload(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	tr := NewTransformer(zap.New(core))

	bad := []byte(`{"patientId": oops`)
	assert.Equal(t, bad, tr.Request(riskRule(t), bad))

	trailing := []byte(`{"a_b":1} {"c_d":2}`)
	assert.Equal(t, trailing, tr.Response(nil, trailing))

	empty := []byte("  ")
	assert.Equal(t, empty, tr.Request(nil, empty))

	assert.Equal(t, 2, logs.FilterMessage("payload transform failed, passing through").Len())
}

func TestTransformerTopLevelArray(t *testing.T) {
	tr := NewTransformer(nil)
	out := tr.Response(nil, []byte(`[{"patient_id":"a"},{"patient_id":"b"}]`))
	assert.JSONEq(t, `[{"patientId":"a"},{"patientId":"b"}]`, string(out))
}

func TestTransformerQuery(t *testing.T) {
	tr := NewTransformer(nil)
	q := url.Values{"patientId": {"p1"}, "pageSize": {"20"}, "sort": {"createdAt"}}
	got := tr.Query(q)
	assert.Equal(t, url.Values{"patient_id": {"p1"}, "page_size": {"20"}, "sort": {"createdAt"}}, got)
}
