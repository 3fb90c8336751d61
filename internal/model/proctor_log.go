package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

type ProctorEventType string

const (
	EventFaceAbsent      ProctorEventType = "face_absent"
	EventMultipleFaces   ProctorEventType = "multiple_faces"
	EventBackgroundNoise ProctorEventType = "background_noise"
	EventVoiceAbsence    ProctorEventType = "voice_absence"
	EventTabSwitch       ProctorEventType = "tab_switch"
	EventFullscreenExit  ProctorEventType = "fullscreen_exit"
	EventExamStart       ProctorEventType = "exam_start"
	EventExamComplete    ProctorEventType = "exam_complete"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

var defaultSeverity = map[ProctorEventType]Severity{
	EventFaceAbsent:      SeverityHigh,
	EventMultipleFaces:   SeverityHigh,
	EventBackgroundNoise: SeverityMedium,
	EventVoiceAbsence:    SeverityLow,
	EventTabSwitch:       SeverityMedium,
	EventFullscreenExit:  SeverityHigh,
	EventExamStart:       SeverityLow,
	EventExamComplete:    SeverityLow,
}

func (e ProctorEventType) Valid() bool {
	_, ok := defaultSeverity[e]
	return ok
}

// DefaultSeverity 事件类型对应的默认严重级别
func (e ProctorEventType) DefaultSeverity() Severity {
	return defaultSeverity[e]
}

// IsLifecycle exam_start / exam_complete 由计时器产生
func (e ProctorEventType) IsLifecycle() bool {
	return e == EventExamStart || e == EventExamComplete
}

// swagger:model ProctorLog
type ProctorLog struct {
	ID          uint             `gorm:"primaryKey;autoIncrement" json:"id"`
	CandidateID string           `gorm:"index:idx_candidate_ts;type:varchar(36)" json:"candidateId"`
	Attempt     int              `gorm:"default:1;not null" json:"attempt"`
	EventType   ProctorEventType `gorm:"size:30;not null" json:"eventType"`
	Severity    Severity         `gorm:"size:10;not null" json:"severity"`
	Timestamp   time.Time        `gorm:"index:idx_candidate_ts" json:"timestamp"`
	Metadata    datatypes.JSON   `json:"metadata,omitempty"`
}

func (ProctorLog) TableName() string {
	return "proctor_logs"
}

// ProctorMetadata 按事件类型区分的附加信息
type ProctorMetadata interface {
	EventKind() ProctorEventType
}

type FaceMetadata struct {
	Kind       ProctorEventType `json:"-"`
	FaceCount  int              `json:"faceCount"`
	DurationMs int64            `json:"durationMs"`
}

func (m FaceMetadata) EventKind() ProctorEventType { return m.Kind }

type AudioMetadata struct {
	Kind       ProctorEventType `json:"-"`
	Amplitude  float64          `json:"amplitude"`
	DurationMs int64            `json:"durationMs"`
}

func (m AudioMetadata) EventKind() ProctorEventType { return m.Kind }

type VisibilityMetadata struct {
	HiddenAt *time.Time `json:"hiddenAt,omitempty"`
}

func (VisibilityMetadata) EventKind() ProctorEventType { return EventTabSwitch }

type FullscreenMetadata struct {
	Rerequested bool `json:"rerequested"`
}

func (FullscreenMetadata) EventKind() ProctorEventType { return EventFullscreenExit }

type LifecycleMetadata struct {
	Kind    ProctorEventType `json:"-"`
	Attempt int              `json:"attempt,omitempty"`
	Auto    bool             `json:"auto,omitempty"`
	Score   *int             `json:"score,omitempty"`
	// Extra 客户端附带的其他字段
	Extra map[string]interface{} `json:"extra,omitempty"`
}

func (m LifecycleMetadata) EventKind() ProctorEventType { return m.Kind }

// EncodeMetadata 序列化为 JSON 列
func EncodeMetadata(m ProctorMetadata) (datatypes.JSON, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// DecodeMetadata 按事件类型解析客户端提交的 metadata，字段不匹配时报错
func DecodeMetadata(eventType ProctorEventType, raw json.RawMessage) (ProctorMetadata, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var target ProctorMetadata
	switch eventType {
	case EventFaceAbsent, EventMultipleFaces:
		m := FaceMetadata{Kind: eventType}
		if err := strictUnmarshal(raw, &m); err != nil {
			return nil, err
		}
		target = m
	case EventBackgroundNoise, EventVoiceAbsence:
		m := AudioMetadata{Kind: eventType}
		if err := strictUnmarshal(raw, &m); err != nil {
			return nil, err
		}
		target = m
	case EventTabSwitch:
		var m VisibilityMetadata
		if err := strictUnmarshal(raw, &m); err != nil {
			return nil, err
		}
		target = m
	case EventFullscreenExit:
		var m FullscreenMetadata
		if err := strictUnmarshal(raw, &m); err != nil {
			return nil, err
		}
		target = m
	case EventExamStart, EventExamComplete:
		m := LifecycleMetadata{Kind: eventType}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		target = m
	default:
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}
	return target, nil
}

func strictUnmarshal(raw json.RawMessage, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
