package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/harrylevesque/mindgate/internal/mlclient"
	"github.com/harrylevesque/mindgate/internal/models"
	"github.com/harrylevesque/mindgate/internal/proxy"
	"github.com/harrylevesque/mindgate/internal/utils"
)

const maxRequestBytes = 1 << 20

// mlHandlers expose mlclient to the dashboard. Requests arrive camelCased and
// answers go back camelCased.
type mlHandlers struct {
	ml     *mlclient.Client
	logger *zap.Logger
}

type textRequest struct {
	Text             string         `json:"text"`
	ModelType        string         `json:"modelType"`
	Options          models.Payload `json:"options"`
	IncludeRationale bool           `json:"includeRationale"`
	RiskType         string         `json:"riskType"`
	Dimensions       []string       `json:"dimensions"`
	DetectionLevel   string         `json:"detectionLevel"`
	Replacement      string         `json:"replacement"`
}

type twinRequest struct {
	PatientID   string         `json:"patientId"`
	PatientData models.Payload `json:"patientData"`
	TherapistID string         `json:"therapistId"`
	SessionType string         `json:"sessionType"`
	Message     string         `json:"message"`
	SenderType  string         `json:"senderType"`
	SenderID    string         `json:"senderId"`
	EndReason   string         `json:"endReason"`
}

func decode(r *http.Request, w http.ResponseWriter, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(dst); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return utils.New(utils.ErrBadRequest, "request body too large")
		}
		return utils.New(utils.ErrBadRequest, "malformed JSON body: "+err.Error())
	}
	return nil
}

// respond writes result camelCased, or err as an envelope.
func (h *mlHandlers) respond(w http.ResponseWriter, r *http.Request, status int, result any, err error) {
	if err != nil {
		e := utils.Classify(err)
		if e.Type != utils.ErrValidation {
			h.logger.Warn("ml call failed",
				zap.String("type", string(e.Type)),
				zap.Int("attempts", e.Attempts),
				zap.String("request_id", r.Header.Get(proxy.RequestIDHeader)))
		}
		proxy.WriteError(w, r, e)
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		proxy.WriteError(w, r, utils.New(utils.ErrUnexpected, "failed to encode response"))
		return
	}
	out, err := proxy.ConvertJSON(data, proxy.ToCamelCase, nil)
	if err != nil {
		out = data
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(out)
}

func (h *mlHandlers) text(w http.ResponseWriter, r *http.Request) (*textRequest, bool) {
	var req textRequest
	if err := decode(r, w, &req); err != nil {
		proxy.WriteError(w, r, err)
		return nil, false
	}
	return &req, true
}

func (h *mlHandlers) twin(w http.ResponseWriter, r *http.Request) (*twinRequest, bool) {
	var req twinRequest
	if err := decode(r, w, &req); err != nil {
		proxy.WriteError(w, r, err)
		return nil, false
	}
	return &req, true
}

func callContext(r *http.Request) *http.Request {
	return r.WithContext(mlclient.WithRequestID(r.Context(), r.Header.Get(proxy.RequestIDHeader)))
}

func (h *mlHandlers) processText(w http.ResponseWriter, r *http.Request) {
	req, ok := h.text(w, r)
	if !ok {
		return
	}
	r = callContext(r)
	res, err := h.ml.ProcessText(r.Context(), req.Text, req.ModelType, req.Options)
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *mlHandlers) detectDepression(w http.ResponseWriter, r *http.Request) {
	req, ok := h.text(w, r)
	if !ok {
		return
	}
	r = callContext(r)
	res, err := h.ml.DetectDepression(r.Context(), req.Text, req.IncludeRationale)
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *mlHandlers) assessRisk(w http.ResponseWriter, r *http.Request) {
	req, ok := h.text(w, r)
	if !ok {
		return
	}
	r = callContext(r)
	res, err := h.ml.AssessRisk(r.Context(), req.Text, req.RiskType)
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *mlHandlers) analyzeSentiment(w http.ResponseWriter, r *http.Request) {
	req, ok := h.text(w, r)
	if !ok {
		return
	}
	r = callContext(r)
	res, err := h.ml.AnalyzeSentiment(r.Context(), req.Text)
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *mlHandlers) analyzeWellness(w http.ResponseWriter, r *http.Request) {
	req, ok := h.text(w, r)
	if !ok {
		return
	}
	r = callContext(r)
	res, err := h.ml.AnalyzeWellnessDimensions(r.Context(), req.Text, req.Dimensions)
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *mlHandlers) generateDigitalTwin(w http.ResponseWriter, r *http.Request) {
	req, ok := h.twin(w, r)
	if !ok {
		return
	}
	r = callContext(r)
	res, err := h.ml.GenerateDigitalTwin(r.Context(), req.PatientID, req.PatientData)
	h.respond(w, r, http.StatusCreated, res, err)
}

func (h *mlHandlers) createSession(w http.ResponseWriter, r *http.Request) {
	req, ok := h.twin(w, r)
	if !ok {
		return
	}
	r = callContext(r)
	res, err := h.ml.CreateDigitalTwinSession(r.Context(), req.TherapistID, req.PatientID, req.SessionType)
	h.respond(w, r, http.StatusCreated, res, err)
}

func (h *mlHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	r = callContext(r)
	res, err := h.ml.GetDigitalTwinSession(r.Context(), mux.Vars(r)["sessionId"])
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *mlHandlers) sendMessage(w http.ResponseWriter, r *http.Request) {
	req, ok := h.twin(w, r)
	if !ok {
		return
	}
	r = callContext(r)
	res, err := h.ml.SendMessageToSession(r.Context(), mux.Vars(r)["sessionId"], req.Message, req.SenderType, req.SenderID)
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *mlHandlers) endSession(w http.ResponseWriter, r *http.Request) {
	req, ok := h.twin(w, r)
	if !ok {
		return
	}
	r = callContext(r)
	res, err := h.ml.EndDigitalTwinSession(r.Context(), mux.Vars(r)["sessionId"], req.EndReason)
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *mlHandlers) sessionInsights(w http.ResponseWriter, r *http.Request) {
	r = callContext(r)
	res, err := h.ml.GetSessionInsights(r.Context(), mux.Vars(r)["sessionId"])
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *mlHandlers) detectPHI(w http.ResponseWriter, r *http.Request) {
	req, ok := h.text(w, r)
	if !ok {
		return
	}
	r = callContext(r)
	res, err := h.ml.DetectPHI(r.Context(), req.Text, req.DetectionLevel)
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *mlHandlers) redactPHI(w http.ResponseWriter, r *http.Request) {
	req, ok := h.text(w, r)
	if !ok {
		return
	}
	r = callContext(r)
	res, err := h.ml.RedactPHI(r.Context(), req.Text, req.Replacement, req.DetectionLevel)
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *mlHandlers) mlHealth(w http.ResponseWriter, r *http.Request) {
	r = callContext(r)
	res, err := h.ml.CheckMLHealth(r.Context())
	h.respond(w, r, http.StatusOK, res, err)
}

func (h *mlHandlers) phiHealth(w http.ResponseWriter, r *http.Request) {
	r = callContext(r)
	res, err := h.ml.CheckPHIHealth(r.Context())
	h.respond(w, r, http.StatusOK, res, err)
}
