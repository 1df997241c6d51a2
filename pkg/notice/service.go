package notice

import (
	"embed"
	"log/slog"

	"github.com/acemedia/loginblock/pkg/notification"
)

const (
	// TwofaCodeNotice is the emailed 2FA passcode.
	TwofaCodeNotice notification.NoticeType = "twofa_code"
)

//go:embed templates/*
var templateFiles embed.FS

func loadTemplate(filename string) string {
	content, err := templateFiles.ReadFile("templates/" + filename)
	if err != nil {
		slog.Error("Error reading template file!", "err", err, "filename", filename)
		return ""
	}
	return string(content)
}

// NewNotificationManager creates a notification manager with the email
// notifier and all notice templates registered.
func NewNotificationManager(smtpConfig notification.SMTPConfig) (*notification.NotificationManager, error) {
	notificationManager := notification.NewNotificationManager()

	emailNotifier, err := notification.NewEmailNotifier(smtpConfig)
	if err != nil {
		return nil, err
	}

	notificationManager.RegisterNotifier(notification.EmailSystem, emailNotifier)

	if err := RegisterTemplates(notificationManager); err != nil {
		return nil, err
	}

	return notificationManager, nil
}

// RegisterTemplates registers the notice templates on an existing manager.
// Split out so tests can pair the templates with a mock notifier.
func RegisterTemplates(notificationManager *notification.NotificationManager) error {
	err := notificationManager.RegisterNotification(TwofaCodeNotice, notification.EmailSystem, notification.NoticeTemplate{
		Subject: "Your 2FA Code",
		Text:    loadTemplate("email/twofa_code.tmpl"),
		Html:    loadTemplate("email/twofa_code.html"),
	})
	if err != nil {
		slog.Error("failed to register 2fa code notification", "error", err)
		return err
	}

	return nil
}
