package service

import (
	"exam_proctor_backend/internal/model"
	"math"
)

// Score round(100 * 正确数 / 作答数)，未作答为 0。正确性在写入作答时已固定。
func Score(responses []model.Response) int {
	if len(responses) == 0 {
		return 0
	}
	correct := 0
	for _, r := range responses {
		if r.IsCorrect {
			correct++
		}
	}
	return int(math.Round(100 * float64(correct) / float64(len(responses))))
}

// AttemptLogs 只保留某一次作答期间写入的日志，重考后扣分不计入之前的违规
func AttemptLogs(logs []model.ProctorLog, attempt int) []model.ProctorLog {
	out := make([]model.ProctorLog, 0, len(logs))
	for _, l := range logs {
		if l.Attempt == attempt {
			out = append(out, l)
		}
	}
	return out
}

// HighViolations 高严重级别的违规数，生命周期事件不计
func HighViolations(logs []model.ProctorLog) int {
	n := 0
	for _, l := range logs {
		if l.Severity == model.SeverityHigh && !l.EventType.IsLifecycle() {
			n++
		}
	}
	return n
}

// Penalty 负分模式下每条高严重级别违规扣 perViolation 分，其他模式为 0
func Penalty(logs []model.ProctorLog, mode model.ProctoringMode, perViolation int) int {
	if mode != model.ProctoringNegativeMarking || perViolation <= 0 {
		return 0
	}
	return HighViolations(logs) * perViolation
}

// ScoreBreakdown 成绩展示，结果页与报表共用
type ScoreBreakdown struct {
	Score          int `json:"score"`
	Penalty        int `json:"penalty"`
	DisplayedScore int `json:"displayedScore"`
	HighViolations int `json:"highViolations"`
}

// Breakdown 展示分 = max(0, 原始分 - 扣分)，不落库
func Breakdown(score int, logs []model.ProctorLog, mode model.ProctoringMode, perViolation int) ScoreBreakdown {
	penalty := Penalty(logs, mode, perViolation)
	displayed := score - penalty
	if displayed < 0 {
		displayed = 0
	}
	return ScoreBreakdown{
		Score:          score,
		Penalty:        penalty,
		DisplayedScore: displayed,
		HighViolations: HighViolations(logs),
	}
}
