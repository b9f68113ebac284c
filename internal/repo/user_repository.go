package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/derek-dv/errand-backend/internal/apperr"
	"github.com/derek-dv/errand-backend/internal/db"
	"github.com/derek-dv/errand-backend/internal/model"
)

// UserRepository resolves identities. Customers and drivers share one
// collection with a role tag, so one lookup resolves any participant.
type UserRepository interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
}

type userRepository struct {
	mongoRepo *db.Repository[model.User]
}

func NewUserRepository(con *mongo.Database, collection string) UserRepository {
	return &userRepository{
		mongoRepo: db.NewRepository[model.User](con, collection),
	}
}

func (r *userRepository) GetUser(ctx context.Context, id string) (*model.User, error) {
	if _, err := primitive.ObjectIDFromHex(id); err != nil {
		return nil, apperr.Validation("invalid user id")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	user, err := r.mongoRepo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperr.NotFound("User not found")
		}
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	return user, nil
}
