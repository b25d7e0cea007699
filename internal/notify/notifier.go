// Package notify delivers verification codes out of band. Delivery is
// fire-and-forget: the lifecycle manager stores the code first and a failed
// send never invalidates it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"verification-service/internal/client"
	"verification-service/internal/config"
	"verification-service/internal/util"
)

// KafkaNotifier publishes delivery requests to the email and SMS topics; a
// downstream delivery worker owns the actual provider integration.
type KafkaNotifier struct {
	producer   *client.KafkaProducer
	emailTopic string
	smsTopic   string
}

type emailMessage struct {
	MessageID string    `json:"message_id"`
	Address   string    `json:"address"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	QueuedAt  time.Time `json:"queued_at"`
}

type smsMessage struct {
	MessageID string    `json:"message_id"`
	Number    string    `json:"number"`
	Body      string    `json:"body"`
	QueuedAt  time.Time `json:"queued_at"`
}

func NewKafkaNotifier(producer *client.KafkaProducer, cfg *config.Config) *KafkaNotifier {
	return &KafkaNotifier{
		producer:   producer,
		emailTopic: cfg.Kafka.EmailTopic,
		smsTopic:   cfg.Kafka.SMSTopic,
	}
}

func (n *KafkaNotifier) SendEmail(ctx context.Context, address, subject, body string) error {
	msg := emailMessage{
		MessageID: uuid.New().String(),
		Address:   address,
		Subject:   subject,
		Body:      body,
		QueuedAt:  time.Now().UTC(),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal email message: %w", err)
	}

	if err := n.producer.ProduceMessage(ctx, n.emailTopic, []byte(util.SubjectHash(address)), payload, nil); err != nil {
		return fmt.Errorf("failed to queue email: %w", err)
	}

	util.Debug("Email delivery queued", zap.String("message_id", msg.MessageID))
	return nil
}

func (n *KafkaNotifier) SendSMS(ctx context.Context, number, body string) error {
	msg := smsMessage{
		MessageID: uuid.New().String(),
		Number:    number,
		Body:      body,
		QueuedAt:  time.Now().UTC(),
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal sms message: %w", err)
	}

	if err := n.producer.ProduceMessage(ctx, n.smsTopic, []byte(util.SubjectHash(number)), payload, nil); err != nil {
		return fmt.Errorf("failed to queue sms: %w", err)
	}

	util.Debug("SMS delivery queued", zap.String("message_id", msg.MessageID))
	return nil
}

// LogNotifier writes deliveries to the log. Development fallback when no
// Kafka broker is reachable.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) SendEmail(ctx context.Context, address, subject, body string) error {
	util.Info("Email delivery (log notifier)",
		zap.String("address", address),
		zap.String("subject", subject))
	return nil
}

func (n *LogNotifier) SendSMS(ctx context.Context, number, body string) error {
	util.Info("SMS delivery (log notifier)",
		zap.String("number", number))
	return nil
}
