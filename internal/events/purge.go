package events

import (
	"context"
	"encoding/json"
	"fmt"
)

// CompliancePurger publishes requests to drop cached compliance results of vehicles.
type CompliancePurger struct {
	pub   *Publisher
	topic string
}

// NewCompliancePurger constructs a purger writing to topic.
func NewCompliancePurger(pub *Publisher, topic string) *CompliancePurger {
	return &CompliancePurger{pub: pub, topic: topic}
}

type purgeMessage struct {
	VRMs []string `json:"vrms"`
}

// PurgeVRMs publishes one purge request covering vrms.
func (p *CompliancePurger) PurgeVRMs(ctx context.Context, vrms []string) error {
	if len(vrms) == 0 {
		return nil
	}
	payload, err := json.Marshal(purgeMessage{VRMs: vrms})
	if err != nil {
		return err
	}
	if err := p.pub.Publish(ctx, p.topic, vrms[0], payload); err != nil {
		return fmt.Errorf("publish compliance purge: %w", err)
	}
	return nil
}
