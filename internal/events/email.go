package events

import (
	"context"
	"encoding/json"
	"fmt"
)

// Email is a templated notification to one recipient.
type Email struct {
	TemplateID      string            `json:"templateId"`
	EmailAddress    string            `json:"emailAddress"`
	Personalisation map[string]string `json:"personalisation"`
	Reference       string            `json:"reference"`
}

// EmailSender publishes emails to the notification topic.
type EmailSender struct {
	pub   *Publisher
	topic string
}

// NewEmailSender constructs a sender writing to topic.
func NewEmailSender(pub *Publisher, topic string) *EmailSender {
	return &EmailSender{pub: pub, topic: topic}
}

// Send publishes e keyed by its reference.
func (s *EmailSender) Send(ctx context.Context, e Email) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if err := s.pub.Publish(ctx, s.topic, e.Reference, payload); err != nil {
		return fmt.Errorf("publish email: %w", err)
	}
	return nil
}
