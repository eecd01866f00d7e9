package engine

import (
	"strings"

	"Outcall/internal/model"
)

// quickHangupThresholdSecs 客户主动挂断时，低于该时长视为秒挂
const quickHangupThresholdSecs = 30

// ClassifyOutcome 把供应商的 endedReason 归一成内部结果分类
// 匹配按子串、大小写不敏感；reason 为空但有转写视为接通
func ClassifyOutcome(endedReason string, durationSecs int, hasTranscript bool) model.CallOutcome {
	if endedReason == "" {
		if hasTranscript {
			return model.OutcomeAnswered
		}
		return model.OutcomeUnknown
	}

	reason := strings.ToLower(endedReason)

	switch {
	case strings.Contains(reason, "customer-ended-call"):
		if durationSecs > quickHangupThresholdSecs {
			return model.OutcomeAnswered
		}
		return model.OutcomeQuickHangup

	case strings.Contains(reason, "assistant-ended-call"),
		strings.Contains(reason, "exceeded-max-duration"):
		return model.OutcomeCompleted

	case strings.Contains(reason, "voicemail"):
		return model.OutcomeVoicemail

	case strings.Contains(reason, "customer-busy"),
		strings.Contains(reason, "busy"):
		return model.OutcomeBusy

	case strings.Contains(reason, "customer-did-not-answer"),
		strings.Contains(reason, "no-answer"),
		strings.Contains(reason, "silence-timed-out"):
		return model.OutcomeNoAnswer

	case strings.Contains(reason, "assistant-not-found"),
		strings.Contains(reason, "assistant-not-invalid"),
		strings.Contains(reason, "license"):
		return model.OutcomeConfigurationError

	case strings.Contains(reason, "pipeline-error"),
		strings.Contains(reason, "transcriber"),
		strings.Contains(reason, "worker-shutdown"):
		return model.OutcomeSystemError

	case strings.Contains(reason, "phone-call-provider"),
		strings.Contains(reason, "twilio"),
		strings.Contains(reason, "vonage"),
		strings.Contains(reason, "sip"):
		return model.OutcomeProviderError
	}

	// 未识别的 reason 按时长兜底：通话超过 10 秒视为接通
	if durationSecs > 10 {
		return model.OutcomeAnswered
	}
	return model.OutcomeNoAnswer
}
