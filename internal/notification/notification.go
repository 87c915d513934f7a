package notification

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Notifier delivers SMS messages to users. Delivery is best-effort: a failed
// notification never reverses the financial operation that triggered it.
type Notifier interface {
	SendSMS(ctx context.Context, phoneNumber, message string) error
}

// LogNotifier writes notifications to the logger. Stands in for an SMS
// provider integration in development and tests.
type LogNotifier struct {
	log *logrus.Logger
}

func NewLogNotifier(log *logrus.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) SendSMS(_ context.Context, phoneNumber, message string) error {
	n.log.WithFields(logrus.Fields{
		"phone": phoneNumber,
		"body":  message,
	}).Info("sms notification")
	return nil
}
