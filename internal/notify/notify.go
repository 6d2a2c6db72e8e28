//go:generate go run go.uber.org/mock/mockgen -destination=notifytest/mock_sink.go -package=notifytest github.com/looplj/classhub/internal/notify Sink

// Package notify delivers user notifications after a transition has committed.
// Delivery is best effort: a failed notification never affects the transition.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"

	"github.com/looplj/classhub/internal/log"
	"github.com/looplj/classhub/internal/store"
)

// Notification types.
const (
	TypeJoinRequest      = "team.join_request"
	TypeJoinDecision     = "team.join_decision"
	TypeMemberRemoved    = "team.member_removed"
	TypeLeaderChanged    = "team.leader_changed"
	TypeForceAssigned    = "team.force_assigned"
	TypeProjectSubmitted = "project.submitted"
	TypeProjectReviewed  = "project.reviewed"
	TypeStageChanged     = "stage.changed"
	TypeReviewsPublished = "peer_review.published"
	TypeSubmissionGraded = "submission.graded"
)

type Message struct {
	UserID  int64          `json:"userId"`
	Type    string         `json:"type"`
	Title   string         `json:"title"`
	Body    string         `json:"body,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Sink is the delivery collaborator.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

// StoreSink keeps notifications in the notifications table.
type StoreSink struct {
	db *store.DB
}

func NewStoreSink(db *store.DB) *StoreSink {
	return &StoreSink{db: db}
}

func (s *StoreSink) Send(ctx context.Context, msg Message) error {
	payload := "{}"

	if len(msg.Payload) > 0 {
		b, err := json.Marshal(msg.Payload)
		if err != nil {
			return fmt.Errorf("marshal notification payload: %w", err)
		}

		payload = string(b)
	}

	n := &store.Notification{
		UserID:      msg.UserID,
		Type:        msg.Type,
		Title:       msg.Title,
		PayloadJSON: payload,
	}

	if msg.Body != "" {
		n.Body = &msg.Body
	}

	return s.db.CreateNotification(ctx, n)
}

// RedisSink pushes JSON encoded messages onto a per-user list, newest first.
type RedisSink struct {
	client *redis.Client
	prefix string
	maxLen int64
}

func NewRedisSink(client *redis.Client, prefix string, maxLen int64) *RedisSink {
	if prefix == "" {
		prefix = "classhub:notifications:"
	}

	return &RedisSink{client: client, prefix: prefix, maxLen: maxLen}
}

func (s *RedisSink) Key(userID int64) string {
	return fmt.Sprintf("%s%d", s.prefix, userID)
}

func (s *RedisSink) Send(ctx context.Context, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	key := s.Key(msg.UserID)

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, b)

	if s.maxLen > 0 {
		pipe.LTrim(ctx, key, 0, s.maxLen-1)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("push notification: %w", err)
	}

	return nil
}

// LogSink writes notifications to the process log.
type LogSink struct{}

func (LogSink) Send(ctx context.Context, msg Message) error {
	log.Info(ctx, "notification",
		log.Int64("user_id", msg.UserID),
		log.String("type", msg.Type),
		log.String("title", msg.Title),
	)

	return nil
}

// Multi fans a message out to every sink and reports all failures.
type Multi []Sink

func (m Multi) Send(ctx context.Context, msg Message) error {
	var result *multierror.Error

	for _, s := range m {
		if err := s.Send(ctx, msg); err != nil {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}
