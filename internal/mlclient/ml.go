package mlclient

import (
	"context"
	"net/http"
	"net/url"

	"github.com/harrylevesque/mindgate/internal/models"
)

// ProcessText runs free text through a MentaLLaMA model.
func (c *Client) ProcessText(ctx context.Context, text, modelType string, options models.Payload) (models.Payload, error) {
	req := models.ProcessTextRequest{Text: text, ModelType: modelType, Options: options}
	v := params{}
	v.check(req)
	if err := v.err(); err != nil {
		return nil, err
	}
	return call[models.Payload](ctx, c, "process text", http.MethodPost, "mentallama/process", req)
}

// DetectDepression screens text for depression indicators.
func (c *Client) DetectDepression(ctx context.Context, text string, includeRationale bool) (models.Payload, error) {
	req := models.DepressionDetectionRequest{Text: text, IncludeRationale: includeRationale}
	v := params{}
	v.check(req)
	if err := v.err(); err != nil {
		return nil, err
	}
	return call[models.Payload](ctx, c, "detect depression", http.MethodPost, "mentallama/depression-detection", req)
}

// AssessRisk scores text for the given risk category.
func (c *Client) AssessRisk(ctx context.Context, text, riskType string) (models.Payload, error) {
	oneOf(&riskType, "general")
	req := models.RiskAssessmentRequest{Text: text, RiskType: riskType}
	v := params{}
	v.check(req)
	if err := v.err(); err != nil {
		return nil, err
	}
	return call[models.Payload](ctx, c, "assess risk", http.MethodPost, "mentallama/risk-assessment", req)
}

func (c *Client) AnalyzeSentiment(ctx context.Context, text string) (models.Payload, error) {
	req := models.SentimentRequest{Text: text}
	v := params{}
	v.check(req)
	if err := v.err(); err != nil {
		return nil, err
	}
	return call[models.Payload](ctx, c, "analyze sentiment", http.MethodPost, "mentallama/sentiment-analysis", req)
}

// AnalyzeWellnessDimensions scores text along the requested wellness
// dimensions, or all of them when dimensions is empty.
func (c *Client) AnalyzeWellnessDimensions(ctx context.Context, text string, dimensions []string) (models.Payload, error) {
	req := models.WellnessDimensionsRequest{Text: text, Dimensions: dimensions}
	v := params{}
	v.check(req)
	if err := v.err(); err != nil {
		return nil, err
	}
	return call[models.Payload](ctx, c, "analyze wellness", http.MethodPost, "mentallama/wellness-dimensions", req)
}

func (c *Client) GenerateDigitalTwin(ctx context.Context, patientID string, patientData models.Payload) (models.Payload, error) {
	if patientData == nil {
		patientData = models.Payload{}
	}
	req := models.GenerateDigitalTwinRequest{PatientID: patientID, PatientData: patientData}
	v := params{}
	v.check(req)
	if err := v.err(); err != nil {
		return nil, err
	}
	return call[models.Payload](ctx, c, "generate digital twin", http.MethodPost, "digital-twin/generate", req)
}

// CreateDigitalTwinSession opens a session. patientID is optional, sessionType
// defaults to therapy.
func (c *Client) CreateDigitalTwinSession(ctx context.Context, therapistID, patientID, sessionType string) (*models.Session, error) {
	oneOf(&sessionType, "therapy")
	req := models.CreateSessionRequest{TherapistID: therapistID, PatientID: patientID, SessionType: sessionType}
	v := params{}
	v.check(req)
	if err := v.err(); err != nil {
		return nil, err
	}
	s, err := call[models.Session](ctx, c, "create session", http.MethodPost, "digital-twin/sessions", req)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) GetDigitalTwinSession(ctx context.Context, sessionID string) (*models.Session, error) {
	v := params{}
	v.id("sessionId", sessionID)
	if err := v.err(); err != nil {
		return nil, err
	}
	s, err := call[models.Session](ctx, c, "get session", http.MethodGet, sessionPath(sessionID), nil)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// SendMessageToSession posts a message; senderType defaults to user.
func (c *Client) SendMessageToSession(ctx context.Context, sessionID, message, senderType, senderID string) (models.Payload, error) {
	oneOf(&senderType, "user")
	req := models.SendMessageRequest{Message: message, SenderType: senderType, SenderID: senderID}
	v := params{}
	v.id("sessionId", sessionID)
	v.check(req)
	if err := v.err(); err != nil {
		return nil, err
	}
	return call[models.Payload](ctx, c, "send message", http.MethodPost, sessionPath(sessionID)+"/messages", req)
}

func (c *Client) EndDigitalTwinSession(ctx context.Context, sessionID, endReason string) (models.Payload, error) {
	v := params{}
	v.id("sessionId", sessionID)
	if err := v.err(); err != nil {
		return nil, err
	}
	return call[models.Payload](ctx, c, "end session", http.MethodPost, sessionPath(sessionID)+"/end",
		models.EndSessionRequest{EndReason: endReason})
}

func (c *Client) GetSessionInsights(ctx context.Context, sessionID string) (models.Payload, error) {
	v := params{}
	v.id("sessionId", sessionID)
	if err := v.err(); err != nil {
		return nil, err
	}
	return call[models.Payload](ctx, c, "session insights", http.MethodGet, sessionPath(sessionID)+"/insights", nil)
}

// DetectPHI finds protected health information in text. detectionLevel
// defaults to moderate.
func (c *Client) DetectPHI(ctx context.Context, text, detectionLevel string) (*models.PHIDetection, error) {
	oneOf(&detectionLevel, "moderate")
	req := models.PHIRequest{Text: text, DetectionLevel: detectionLevel}
	v := params{}
	v.check(req)
	if err := v.err(); err != nil {
		return nil, err
	}
	d, err := call[models.PHIDetection](ctx, c, "detect phi", http.MethodPost, "phi/detect", req)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// RedactPHI replaces protected health information in text with replacement,
// or the service default when it is empty.
func (c *Client) RedactPHI(ctx context.Context, text, replacement, detectionLevel string) (*models.PHIRedaction, error) {
	oneOf(&detectionLevel, "moderate")
	req := models.PHIRequest{Text: text, Replacement: replacement, DetectionLevel: detectionLevel}
	v := params{}
	v.check(req)
	if err := v.err(); err != nil {
		return nil, err
	}
	r, err := call[models.PHIRedaction](ctx, c, "redact phi", http.MethodPost, "phi/redact", req)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) CheckMLHealth(ctx context.Context) (*models.Health, error) {
	return c.health(ctx, "ml health", "mentallama/health")
}

func (c *Client) CheckPHIHealth(ctx context.Context) (*models.Health, error) {
	return c.health(ctx, "phi health", "phi/health")
}

func (c *Client) health(ctx context.Context, op, path string) (*models.Health, error) {
	h, err := call[models.Health](ctx, c, op, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func sessionPath(id string) string {
	return "digital-twin/sessions/" + url.PathEscape(id)
}
