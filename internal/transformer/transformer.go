package transformer

import (
	"encoding/json"

	"github.com/gosight/neuroloop/internal/healing"
	"github.com/gosight/neuroloop/internal/recommend"
	"github.com/gosight/neuroloop/internal/storage"
	"github.com/gosight/neuroloop/internal/telemetry"
)

// Payload keys written by the enricher and lifted into dedicated columns
const (
	KeyBrowser    = "browser"
	KeyOS         = "os"
	KeyDeviceType = "device_type"
	KeyCountry    = "country"
	KeyCity       = "city"
)

// TransformEvent converts a captured event into a telemetry_events row
func TransformEvent(ev telemetry.Event) storage.EventRow {
	row := storage.EventRow{
		EventID:          ev.ID,
		SessionID:        ev.Context.SessionID,
		UserID:           ev.UserID,
		Kind:             string(ev.Kind),
		Timestamp:        ev.Timestamp,
		Route:            ev.Context.Route,
		Component:        ev.Context.ComponentName,
		Engagement:       ev.Signature.Engagement,
		CognitiveLoad:    ev.Signature.CognitiveLoad,
		AttentionFocus:   ev.Signature.AttentionFocus,
		LearningVelocity: ev.Signature.LearningVelocity,
		Payload:          "{}",
	}

	if ev.Payload != nil {
		row.Browser = getString(ev.Payload, KeyBrowser)
		row.OS = getString(ev.Payload, KeyOS)
		row.DeviceType = getString(ev.Payload, KeyDeviceType)
		row.Country = getString(ev.Payload, KeyCountry)
		row.City = getString(ev.Payload, KeyCity)

		if payloadBytes, err := json.Marshal(ev.Payload); err == nil {
			row.Payload = string(payloadBytes)
		}
	}

	return row
}

// TransformRecoveryAction converts a recovery action into a recovery_actions row
func TransformRecoveryAction(sessionID string, a healing.RecoveryAction) storage.RecoveryActionRow {
	row := storage.RecoveryActionRow{
		ActionID:    a.ID,
		SessionID:   sessionID,
		Strategy:    a.Strategy,
		Target:      a.Target,
		Description: a.Description,
		Priority:    string(a.Priority),
		AutoExecute: boolToUint8(a.AutoExecute),
		ExecutedAt:  a.ExecutedAt,
		DurationMs:  uint64(a.Duration.Milliseconds()),
		Success:     boolToUint8(a.Success),
		Error:       a.Error,
	}
	if a.Duration < 0 {
		row.DurationMs = 0
	}
	return row
}

// TransformInsight converts an insight into an insights row
func TransformInsight(sessionID string, in recommend.Insight) storage.InsightRow {
	row := storage.InsightRow{
		InsightID:        in.ID,
		SessionID:        sessionID,
		Kind:             string(in.Kind),
		Title:            in.Title,
		Description:      in.Description,
		Confidence:       in.Confidence,
		Impact:           string(in.Impact),
		Actionable:       boolToUint8(in.Actionable),
		SuggestedActions: in.SuggestedActions,
		Data:             "{}",
		Timestamp:        in.Timestamp,
	}
	if row.SuggestedActions == nil {
		row.SuggestedActions = []string{}
	}
	if in.Data != nil {
		if dataBytes, err := json.Marshal(in.Data); err == nil {
			row.Data = string(dataBytes)
		}
	}
	return row
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func boolToUint8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
