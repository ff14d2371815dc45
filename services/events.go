package services

import (
	"context"
	"encoding/json"
	"time"

	"bench2drive-leaderboard/models"

	"github.com/gofiber/fiber/v2/log"
	"github.com/segmentio/kafka-go"
)

// SubmissionEvent is published when a submission reaches a terminal status.
type SubmissionEvent struct {
	SubmissionID  string    `json:"submission_id"`
	UserID        string    `json:"user_id"`
	Status        string    `json:"status"`
	Score         float64   `json:"score"`
	ScoringPolicy string    `json:"scoring_policy,omitempty"`
	FailureKind   string    `json:"failure_kind,omitempty"`
	FailureReason string    `json:"failure_reason,omitempty"`
	DecidedAt     time.Time `json:"decided_at"`
}

func NewSubmissionEvent(sub *models.Submission) SubmissionEvent {
	ev := SubmissionEvent{
		SubmissionID:  sub.ID,
		UserID:        sub.UserID,
		Status:        sub.Status,
		Score:         sub.Score,
		ScoringPolicy: sub.ScoringPolicy,
		FailureKind:   sub.FailureKind,
		FailureReason: sub.FailureReason,
		DecidedAt:     time.Now().UTC(),
	}
	if sub.DecidedAt != nil {
		ev.DecidedAt = sub.DecidedAt.UTC()
	}
	return ev
}

type EventPublisher interface {
	Publish(ctx context.Context, ev SubmissionEvent) error
}

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type kafkaPublisher struct {
	writer MessageWriter
}

func NewKafkaPublisher(writer MessageWriter) EventPublisher {
	return &kafkaPublisher{writer: writer}
}

// NewKafkaWriter returns a writer for topic, or nil when no brokers are configured.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	if len(brokers) == 0 {
		return nil
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
	}
}

func (p *kafkaPublisher) Publish(ctx context.Context, ev SubmissionEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.UserID),
		Value: value,
		Time:  time.Now(),
	})
}

type noopPublisher struct{}

// NewNoopPublisher drops events; used when Kafka is not configured.
func NewNoopPublisher() EventPublisher { return noopPublisher{} }

func (noopPublisher) Publish(_ context.Context, ev SubmissionEvent) error {
	log.Debugf("[EVENTS] kafka disabled, dropping %s event for %s", ev.Status, ev.SubmissionID)
	return nil
}
