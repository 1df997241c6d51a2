package notification

type NotificationData struct {
	To      string            // Recipient identifier (e.g., email address)
	Subject string            // Optional: Subject override for notifications like email
	Body    string            // The content or message to send
	Data    map[string]string // Template data
}

// NoticeTemplate holds the subject and bodies for a registered notice.
type NoticeTemplate struct {
	Subject string
	Text    string
	Html    string
}

type Notifier interface {
	Send(noticeType NoticeType, notification NotificationData, template NoticeTemplate) error
}
