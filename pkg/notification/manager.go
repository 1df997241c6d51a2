package notification

import (
	"fmt"
)

// NotificationSystem represents a type of notification system (e.g., email, SMS).
type NotificationSystem string

// NoticeType represents a type of notification (e.g., "twofa_code").
type NoticeType string

const (
	EmailSystem NotificationSystem = "email"
)

// NotificationManager manages notifiers and notification templates.
type NotificationManager struct {
	notifiers            map[NotificationSystem]Notifier
	notificationRegistry map[NoticeType]map[NotificationSystem]NoticeTemplate
}

// NewNotificationManager creates and returns a new NotificationManager.
func NewNotificationManager() *NotificationManager {
	return &NotificationManager{
		notifiers:            make(map[NotificationSystem]Notifier),
		notificationRegistry: make(map[NoticeType]map[NotificationSystem]NoticeTemplate),
	}
}

// RegisterNotifier registers a notifier for a specific system.
func (nm *NotificationManager) RegisterNotifier(system NotificationSystem, notifier Notifier) {
	nm.notifiers[system] = notifier
}

// RegisterNotification dynamically adds a notification template to the registry.
func (nm *NotificationManager) RegisterNotification(noticeType NoticeType, system NotificationSystem, template NoticeTemplate) error {
	if noticeType == "" || system == "" {
		return fmt.Errorf("invalid input: notice type and system cannot be empty")
	}

	if _, exists := nm.notificationRegistry[noticeType]; !exists {
		nm.notificationRegistry[noticeType] = make(map[NotificationSystem]NoticeTemplate)
	}

	nm.notificationRegistry[noticeType][system] = template
	return nil
}

// Send sends a notification of the given type through the given system.
func (nm *NotificationManager) Send(noticeType NoticeType, notification NotificationData) error {
	systemTemplates, exists := nm.notificationRegistry[noticeType]
	if !exists {
		return fmt.Errorf("no templates registered for notice type: %s", noticeType)
	}

	var lastErr error
	sent := false
	for system, template := range systemTemplates {
		notifier, exists := nm.notifiers[system]
		if !exists {
			lastErr = fmt.Errorf("no notifier registered for system: %s", system)
			continue
		}

		if err := notifier.Send(noticeType, notification, template); err != nil {
			lastErr = err
			continue
		}
		sent = true
	}

	if !sent && lastErr != nil {
		return lastErr
	}
	return nil
}
