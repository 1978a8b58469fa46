// internal/locale/messages.go
package locale

import "fmt"

// Key identifies a user-visible status message.
type Key string

const (
	MsgInsufficientTokens Key = "insufficient_tokens"
	MsgTaskStarted        Key = "task_started"
	MsgTaskDone           Key = "task_done"
	MsgTaskFailed         Key = "task_failed"
	MsgTaskCancelled      Key = "task_cancelled"
	MsgMaxSteps           Key = "max_steps"
	MsgMaxFailures        Key = "max_failures"
	MsgTaskPaused         Key = "task_paused"
	MsgTaskResumed        Key = "task_resumed"
)

var catalog = map[Language]map[Key]string{
	English: {
		MsgInsufficientTokens: "Not enough tokens left to call %s.",
		MsgTaskStarted:        "Task started.",
		MsgTaskDone:           "Task completed.",
		MsgTaskFailed:         "Task failed: %s",
		MsgTaskCancelled:      "Task cancelled.",
		MsgMaxSteps:           "Stopped after reaching the step limit (%d).",
		MsgMaxFailures:        "Stopped after %d consecutive failures.",
		MsgTaskPaused:         "Task paused.",
		MsgTaskResumed:        "Task resumed.",
	},
	Japanese: {
		MsgInsufficientTokens: "%s を呼び出すためのトークンが不足しています。",
		MsgTaskStarted:        "タスクを開始しました。",
		MsgTaskDone:           "タスクが完了しました。",
		MsgTaskFailed:         "タスクが失敗しました: %s",
		MsgTaskCancelled:      "タスクをキャンセルしました。",
		MsgMaxSteps:           "ステップ上限 (%d) に達したため停止しました。",
		MsgMaxFailures:        "%d 回連続で失敗したため停止しました。",
		MsgTaskPaused:         "タスクを一時停止しました。",
		MsgTaskResumed:        "タスクを再開しました。",
	},
	Korean: {
		MsgInsufficientTokens: "%s 호출에 필요한 토큰이 부족합니다.",
		MsgTaskStarted:        "작업을 시작했습니다.",
		MsgTaskDone:           "작업이 완료되었습니다.",
		MsgTaskFailed:         "작업 실패: %s",
		MsgTaskCancelled:      "작업이 취소되었습니다.",
		MsgMaxSteps:           "단계 한도(%d)에 도달하여 중지했습니다.",
		MsgMaxFailures:        "%d회 연속 실패로 중지했습니다.",
		MsgTaskPaused:         "작업을 일시 중지했습니다.",
		MsgTaskResumed:        "작업을 재개했습니다.",
	},
	Chinese: {
		MsgInsufficientTokens: "调用 %s 的令牌不足。",
		MsgTaskStarted:        "任务已开始。",
		MsgTaskDone:           "任务已完成。",
		MsgTaskFailed:         "任务失败: %s",
		MsgTaskCancelled:      "任务已取消。",
		MsgMaxSteps:           "已达到步数上限 (%d)，已停止。",
		MsgMaxFailures:        "连续失败 %d 次，已停止。",
		MsgTaskPaused:         "任务已暂停。",
		MsgTaskResumed:        "任务已恢复。",
	},
	Russian: {
		MsgInsufficientTokens: "Недостаточно токенов для вызова %s.",
		MsgTaskStarted:        "Задача запущена.",
		MsgTaskDone:           "Задача выполнена.",
		MsgTaskFailed:         "Задача не выполнена: %s",
		MsgTaskCancelled:      "Задача отменена.",
		MsgMaxSteps:           "Остановлено: достигнут лимит шагов (%d).",
		MsgMaxFailures:        "Остановлено после %d неудач подряд.",
		MsgTaskPaused:         "Задача приостановлена.",
		MsgTaskResumed:        "Задача возобновлена.",
	},
	Arabic: {
		MsgInsufficientTokens: "لا توجد رموز كافية لاستدعاء %s.",
		MsgTaskStarted:        "بدأت المهمة.",
		MsgTaskDone:           "اكتملت المهمة.",
		MsgTaskFailed:         "فشلت المهمة: %s",
		MsgTaskCancelled:      "أُلغيت المهمة.",
		MsgMaxSteps:           "توقفت بعد بلوغ حد الخطوات (%d).",
		MsgMaxFailures:        "توقفت بعد %d إخفاقات متتالية.",
		MsgTaskPaused:         "أُوقفت المهمة مؤقتًا.",
		MsgTaskResumed:        "استؤنفت المهمة.",
	},
}

// Message renders key in lang, falling back to English.
func Message(lang Language, key Key, args ...any) string {
	format, ok := catalog[lang][key]
	if !ok {
		format = catalog[English][key]
	}
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
