package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/derek-dv/errand-backend/internal/apperr"
	"github.com/derek-dv/errand-backend/internal/db"
	"github.com/derek-dv/errand-backend/internal/model"
)

var (
	ErrMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
	ErrVersionConflict    = errors.New("conversation version conflict")
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultReadTimeout  = 30 * time.Second

	maxRetries     = 3
	baseRetryDelay = 100 * time.Millisecond
	maxRetryDelay  = 2 * time.Second
)

// ListQuery filters a conversation listing.
type ListQuery struct {
	Status          string
	Limit           int64
	Skip            int64
	IncludeArchived bool
}

// ConversationRepository is the durable conversation store. Mutate is the
// single write primitive: every read-modify-write goes through an optimistic
// version compare-and-swap with bounded retry, so concurrent writers on the
// same conversation never lose updates.
type ConversationRepository interface {
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	CreateOrGet(ctx context.Context, a, b model.Participant, deliveryID *primitive.ObjectID, chatType, createdBy string) (*model.Conversation, bool, error)
	Mutate(ctx context.Context, id string, fn func(*model.Conversation) error) (*model.Conversation, error)
	FindForUser(ctx context.Context, userID string, q ListQuery) ([]model.Conversation, error)
	ActivePeerIDs(ctx context.Context, userID string) ([]string, error)
	UnreadSummary(ctx context.Context, userID string) (*model.UnreadSummary, error)
}

type conversationRepository struct {
	mongoRepo *db.Repository[model.Conversation]
	logger    *zap.Logger
}

func NewConversationRepository(con *mongo.Database, collection string, logger *zap.Logger) ConversationRepository {
	return &conversationRepository{
		mongoRepo: db.NewRepository[model.Conversation](con, collection),
		logger:    logger,
	}
}

func (r *conversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	if _, err := primitive.ObjectIDFromHex(id); err != nil {
		return nil, apperr.Validation("invalid conversation id")
	}

	ctx, cancel := r.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	conv, err := r.mongoRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("Chat not found")
		}
		r.logger.Error("failed to fetch conversation",
			zap.String("conversation_id", id),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to fetch conversation: %w", err)
	}
	return conv, nil
}

// CreateOrGet returns the existing active conversation for this unordered
// participant pair and delivery context, or creates a new one. The boolean
// reports whether a conversation was created.
func (r *conversationRepository) CreateOrGet(ctx context.Context, a, b model.Participant, deliveryID *primitive.ObjectID, chatType, createdBy string) (*model.Conversation, bool, error) {
	ctx, cancel := r.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := db.NewFilter().
		All("participant_ids", []string{a.UserID, b.UserID}).
		Eq("delivery_id", deliveryID).
		Eq("status", model.StatusActive).
		Build()

	existing, err := r.mongoRepo.FindOne(ctx, filter)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, fmt.Errorf("conversation lookup failed: %w", err)
	}

	conv := model.NewConversation(a, b, deliveryID, chatType, createdBy)
	result, err := r.mongoRepo.Create(ctx, *conv)
	if err != nil {
		r.logger.Error("failed to create conversation",
			zap.String("user_a", a.UserID),
			zap.String("user_b", b.UserID),
			zap.Error(err),
		)
		return nil, false, fmt.Errorf("failed to create conversation: %w", err)
	}
	if oid, ok := result.InsertedID.(primitive.ObjectID); ok {
		conv.ID = oid
	}

	r.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID.Hex()),
		zap.String("chat_type", chatType),
	)
	return conv, true, nil
}

// Mutate loads the conversation, applies fn and writes the result back with
// a version check, retrying on conflict with backoff. Errors returned by fn
// abort the attempt and propagate unchanged.
func (r *conversationRepository) Mutate(ctx context.Context, id string, fn func(*model.Conversation) error) (*model.Conversation, error) {
	ctx, cancel := r.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			if err := r.waitForRetry(ctx, attempt); err != nil {
				return nil, err
			}
			r.logger.Warn("retrying conversation write",
				zap.String("conversation_id", id),
				zap.Int("attempt", attempt+1),
			)
		}

		conv, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := fn(conv); err != nil {
			return nil, err
		}

		expected := conv.Version
		conv.Version = expected + 1

		ok, err := r.mongoRepo.ReplaceVersioned(ctx, conv.ID, expected, *conv)
		if err != nil {
			lastErr = err
			if !r.isRetryableError(err) {
				break
			}
			continue
		}
		if ok {
			return conv, nil
		}
		lastErr = ErrVersionConflict
	}

	r.logger.Error("conversation write failed after all retries",
		zap.String("conversation_id", id),
		zap.Error(lastErr),
	)
	return nil, fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

func (r *conversationRepository) FindForUser(ctx context.Context, userID string, q ListQuery) ([]model.Conversation, error) {
	ctx, cancel := r.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	builder := db.NewFilter().Eq("participant_ids", userID)
	if !q.IncludeArchived {
		status := q.Status
		if status == "" {
			status = model.StatusActive
		}
		builder.Eq("status", status)
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	opts := options.Find().
		SetSort(bson.D{
			{Key: "last_message.timestamp", Value: -1},
			{Key: "updated_at", Value: -1},
		}).
		SetLimit(limit).
		SetSkip(q.Skip)

	conversations, err := r.mongoRepo.FindAll(ctx, builder.Build(), opts)
	if err != nil {
		r.logger.Error("failed to list conversations",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return conversations, nil
}

// ActivePeerIDs returns the distinct other participants across every active
// conversation of userID. This is the audience of a presence broadcast.
func (r *conversationRepository) ActivePeerIDs(ctx context.Context, userID string) ([]string, error) {
	ctx, cancel := r.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().
		Eq("participant_ids", userID).
		Eq("status", model.StatusActive).
		Build()

	conversations, err := r.mongoRepo.FindAll(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve presence peers: %w", err)
	}

	peers := lo.FlatMap(conversations, func(c model.Conversation, _ int) []string {
		return c.OtherParticipantIDs(userID)
	})
	return lo.Uniq(peers), nil
}

func (r *conversationRepository) UnreadSummary(ctx context.Context, userID string) (*model.UnreadSummary, error) {
	conversations, err := r.FindForUser(ctx, userID, ListQuery{Status: model.StatusActive, Limit: 100})
	if err != nil {
		return nil, err
	}

	summary := &model.UnreadSummary{ByConversation: make(map[string]int)}
	for _, c := range conversations {
		if n := c.UnreadFor(userID); n > 0 {
			summary.ByConversation[c.ID.Hex()] = n
			summary.Total += n
		}
	}
	return summary, nil
}

func (r *conversationRepository) ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hadDeadline := ctx.Deadline(); hadDeadline {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (r *conversationRepository) waitForRetry(ctx context.Context, attempt int) error {
	delay := time.Duration(1<<uint(attempt)) * baseRetryDelay
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait cancelled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (r *conversationRepository) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	return mongo.IsTimeout(err) || mongo.IsNetworkError(err)
}
