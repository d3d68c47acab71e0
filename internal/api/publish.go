package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/nerrad567/pglive/internal/audit"
	"github.com/nerrad567/pglive/internal/infrastructure/mqtt"
)

const publishAuditTimeout = 5 * time.Second

// PublishRequest is the body of POST /publish. Either Topic or Operation
// and Table must be set; the latter is rendered into a change-event topic.
type PublishRequest struct {
	Topic     string          `json:"topic,omitempty"`
	Operation string          `json:"operation,omitempty"`
	Table     string          `json:"table,omitempty"`
	Column    string          `json:"column,omitempty"`
	Value     string          `json:"value,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	QoS       *int            `json:"qos,omitempty"`
	Retained  bool            `json:"retained,omitempty"`
}

func (p PublishRequest) topic(s *Server) string {
	if p.Topic != "" {
		return p.Topic
	}
	if p.Operation == "" || p.Table == "" {
		return ""
	}
	return s.codec.Build(p.Operation, p.Table, p.Column, p.Value)
}

// handlePublish forwards a message onto the broker.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	topic := req.topic(s)
	if topic == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "topic, or operation and table, are required")
		return
	}
	if err := mqtt.ValidateTopic(topic); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	qos := byte(1)
	if req.QoS != nil {
		if *req.QoS < 0 || *req.QoS > 2 {
			writeError(w, http.StatusBadRequest, ErrCodeValidation, "qos must be 0, 1 or 2")
			return
		}
		qos = byte(*req.QoS)
	}

	payload := []byte(req.Payload)
	// A JSON string payload is published as its raw text.
	var text string
	if json.Unmarshal(req.Payload, &text) == nil {
		payload = []byte(text)
	}

	if err := s.bridge.Publish(topic, payload, qos, req.Retained); err != nil {
		s.logger.Warn("publish failed", "topic", topic, "error", err)
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "publish failed")
		return
	}

	id := identityFromContext(r.Context())
	if s.auditRepo != nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), publishAuditTimeout)
		defer cancel()
		if err := s.auditRepo.Create(ctx, &audit.AuditLog{
			Action:     audit.ActionPublish,
			EntityType: audit.EntityTopic,
			EntityID:   topic,
			Role:       id.Role,
			Source:     "api",
			Details:    map[string]any{"qos": qos, "retained": req.Retained, "bytes": len(payload)},
		}); err != nil {
			s.logger.Warn("audit write failed", "action", audit.ActionPublish, "error", err)
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"topic": topic})
}
