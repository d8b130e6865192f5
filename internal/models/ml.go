package models

import "time"

// Payload is an untyped JSON object passed through to the ML backend.
type Payload map[string]any

// Request DTOs carry validate tags checked by the ML client before any call
// leaves the gateway. Enum fields are defaulted first, so oneof never sees "".
type ProcessTextRequest struct {
	Text      string  `json:"text" validate:"required,notblank,max=32000"`
	ModelType string  `json:"model_type,omitempty"`
	Options   Payload `json:"options,omitempty"`
}

type DepressionDetectionRequest struct {
	Text             string `json:"text" validate:"required,notblank,max=32000"`
	IncludeRationale bool   `json:"include_rationale"`
}

type RiskAssessmentRequest struct {
	Text     string `json:"text" validate:"required,notblank,max=32000"`
	RiskType string `json:"risk_type" validate:"oneof=general suicide self_harm violence"`
}

type SentimentRequest struct {
	Text string `json:"text" validate:"required,notblank,max=32000"`
}

type WellnessDimensionsRequest struct {
	Text       string   `json:"text" validate:"required,notblank,max=32000"`
	Dimensions []string `json:"dimensions,omitempty" validate:"omitempty,dive,oneof=emotional social physical intellectual occupational spiritual environmental financial"`
}

type GenerateDigitalTwinRequest struct {
	PatientID   string  `json:"patient_id" validate:"required,notblank"`
	PatientData Payload `json:"patient_data"`
}

type CreateSessionRequest struct {
	TherapistID string `json:"therapist_id" validate:"required,notblank"`
	PatientID   string `json:"patient_id,omitempty"`
	SessionType string `json:"session_type" validate:"oneof=therapy assessment training"`
}

type SendMessageRequest struct {
	Message    string `json:"message" validate:"required,notblank,max=32000"`
	SenderType string `json:"sender_type" validate:"oneof=user therapist patient system"`
	SenderID   string `json:"sender_id,omitempty"`
}

type EndSessionRequest struct {
	EndReason string `json:"end_reason,omitempty"`
}

// Message is one exchange inside a digital twin session.
type Message struct {
	ID         string     `json:"id,omitempty"`
	Content    string     `json:"content"`
	SenderType string     `json:"sender_type"`
	SenderID   string     `json:"sender_id,omitempty"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

// Session is a digital twin therapy session as the backend reports it.
type Session struct {
	SessionID   string     `json:"session_id"`
	TherapistID string     `json:"therapist_id,omitempty"`
	PatientID   string     `json:"patient_id,omitempty"`
	SessionType string     `json:"session_type,omitempty"`
	Status      string     `json:"status,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	Messages    []Message  `json:"messages,omitempty"`
}

type PHIRequest struct {
	Text           string `json:"text" validate:"required,notblank,max=32000"`
	DetectionLevel string `json:"detection_level" validate:"oneof=strict moderate relaxed"`
	Replacement    string `json:"replacement,omitempty"`
}

// PHIEntity is one protected health information span found in a text.
type PHIEntity struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	Confidence float64 `json:"confidence,omitempty"`
}

type PHIDetection struct {
	HasPHI   bool        `json:"has_phi"`
	Entities []PHIEntity `json:"entities"`
}

type PHIRedaction struct {
	RedactedText  string      `json:"redacted_text"`
	RedactedCount int         `json:"redacted_count"`
	Entities      []PHIEntity `json:"entities,omitempty"`
}

// Health is the status document of an ML service.
type Health struct {
	Status  string  `json:"status"`
	Version string  `json:"version,omitempty"`
	Models  Payload `json:"models,omitempty"`
}

// Healthy reports whether the service declared itself usable.
func (h Health) Healthy() bool {
	switch h.Status {
	case "ok", "healthy", "up", "available":
		return true
	}
	return false
}
