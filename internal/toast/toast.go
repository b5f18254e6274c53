package toast

import "go.uber.org/zap"

// Toaster отображает неблокирующие уведомления пользователю.
// Реализация зависит от хоста: терминал, тесты и т.д.
type Toaster interface {
	Success(title, body string)
	Error(title, body string)
	Info(title, body string)
}

// LogToaster выводит уведомления через логгер
type LogToaster struct {
	log *zap.SugaredLogger
}

// NewLogToaster создает новый экземпляр LogToaster
func NewLogToaster(log *zap.SugaredLogger) *LogToaster {
	return &LogToaster{log: log}
}

func (t *LogToaster) Success(title, body string) {
	t.log.Infow("✅ "+title, "detail", body)
}

func (t *LogToaster) Error(title, body string) {
	t.log.Errorw("❌ "+title, "detail", body)
}

func (t *LogToaster) Info(title, body string) {
	t.log.Infow("🔔 "+title, "detail", body)
}
