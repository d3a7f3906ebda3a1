package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sshwatch/internal/client"
	"sshwatch/internal/config"
	"sshwatch/internal/models"
)

const (
	commandDeny  = "deny"
	commandAllow = "allow"

	defaultAgent = "ufw"
)

// agentFor picks the enforcement agent for a block. Blocks created
// outside event evaluation carry no reporting host, so they fall back
// to the default firewall agent.
func agentFor(block *models.BlockRecord) string {
	if block.Agent != "" {
		return block.Agent
	}
	return defaultAgent
}

// commandKey partitions firewall commands per agent and IP, so commands
// for the same target stay ordered while distinct agents fan out.
func commandKey(agent, ip string) string {
	return agent + ":" + ip
}

// KafkaDispatcher publishes firewall commands and notification triggers.
// Both channels are fire and forget from the decision path's point of
// view: a broker failure is logged, never propagated.
type KafkaDispatcher struct {
	producer          *client.KafkaProducer
	firewallTopic     string
	notificationTopic string
	logger            *zap.Logger
}

func NewKafkaDispatcher(producer *client.KafkaProducer, cfg config.KafkaConfig, logger *zap.Logger) *KafkaDispatcher {
	return &KafkaDispatcher{
		producer:          producer,
		firewallTopic:     cfg.FirewallTopic,
		notificationTopic: cfg.NotificationTopic,
		logger:            logger,
	}
}

// BlockCreated publishes the deny command and, when the rule asks for
// it, a notification trigger.
func (d *KafkaDispatcher) BlockCreated(ctx context.Context, block *models.BlockRecord, rule *models.BlockingRule) {
	agent := agentFor(block)
	cmd := models.FirewallCommand{
		Agent:     agent,
		IP:        block.IP,
		Command:   commandDeny,
		Reason:    block.Reason,
		ExpiresAt: block.UnblockAt,
		IssuedAt:  time.Now().UTC(),
	}
	d.publish(ctx, d.firewallTopic, commandKey(agent, block.IP), cmd)

	if rule != nil && !rule.NotifyOnTrigger {
		return
	}

	priority := "high"
	if block.Permanent() {
		priority = "urgent"
	}
	d.publish(ctx, d.notificationTopic, block.IP, models.NotificationTrigger{
		TriggerType: "block",
		IP:          block.IP,
		Priority:    priority,
		Title:       fmt.Sprintf("IP %s blocked", block.IP),
		Body:        block.Reason,
		CreatedAt:   time.Now().UTC(),
	})
}

// BlockLifted publishes the allow command restoring access.
func (d *KafkaDispatcher) BlockLifted(ctx context.Context, block *models.BlockRecord, reason string) {
	agent := agentFor(block)
	cmd := models.FirewallCommand{
		Agent:    agent,
		IP:       block.IP,
		Command:  commandAllow,
		Reason:   reason,
		IssuedAt: time.Now().UTC(),
	}
	d.publish(ctx, d.firewallTopic, commandKey(agent, block.IP), cmd)
}

// NotifyEscalation enqueues a notification for an escalation decision.
func (d *KafkaDispatcher) NotifyEscalation(ctx context.Context, record *models.BanEscalationRecord) {
	d.publish(ctx, d.notificationTopic, record.IP, models.NotificationTrigger{
		TriggerType: "escalation",
		IP:          record.IP,
		Priority:    models.PriorityForRisk(record.RiskLevel),
		Title:       fmt.Sprintf("ban escalation for %s", record.IP),
		Body:        fmt.Sprintf("threat score %d, action %s", record.ThreatScore, record.RecommendedAction),
		CreatedAt:   time.Now().UTC(),
	})
}

func (d *KafkaDispatcher) publish(ctx context.Context, topic, key string, payload interface{}) {
	if d.producer == nil {
		d.logger.Debug("kafka unavailable, dispatch dropped", zap.String("topic", topic), zap.String("key", key))
		return
	}
	value, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("dispatch encode failed", zap.String("topic", topic), zap.Error(err))
		return
	}
	headers := map[string]string{"content-type": "application/json"}
	if err := d.producer.ProduceMessage(ctx, topic, []byte(key), value, headers); err != nil {
		d.logger.Error("dispatch publish failed",
			zap.String("topic", topic), zap.String("key", key), zap.Error(err))
	}
}
