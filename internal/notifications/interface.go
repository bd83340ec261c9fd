package notifications

// Alert levels
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
	LevelSuccess = "success"
)

// Notifier defines the interface for notification services
type Notifier interface {
	// SendAlert sends an alert with the specified level and message
	SendAlert(level, message string) error
}

// Nop discards alerts. Used when no channel is configured.
type Nop struct{}

func (Nop) SendAlert(string, string) error { return nil }

// New returns a Telegram notifier when both token and chat are set, else Nop
func New(token, chatID string) Notifier {
	if token == "" || chatID == "" {
		return Nop{}
	}
	return NewTelegramNotifier(token, chatID)
}
