package configuration

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/derek-dv/errand-backend/internal/auth"
	"github.com/derek-dv/errand-backend/internal/db"
	"github.com/derek-dv/errand-backend/internal/handler"
	"github.com/derek-dv/errand-backend/internal/hub"
	"github.com/derek-dv/errand-backend/internal/repo"
	"github.com/derek-dv/errand-backend/internal/service"
)

type Container struct {
	ChatHandler    handler.ChatHandler
	MonitorHandler handler.MonitorHandler
	Hub            *hub.Hub
	Tokens         *auth.TokenManager
	Users          repo.UserRepository
	Config         Config
	Logger         *zap.Logger

	// private - for cleanup
	mongoDB *mongo.Database
}

func BuildContainer() (*Container, error) {
	configPath := os.Getenv("ERRAND_CONFIG")
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	con, err := db.OpenConnection(config.Mongo.URI, config.Mongo.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}

	conversationRepo := repo.NewConversationRepository(con, config.Mongo.ConversationsCollection, logger)
	userRepo := repo.NewUserRepository(con, config.Mongo.UsersCollection)

	tokens := auth.NewTokenManager(config.Auth.JWTSecret, config.Auth.TokenTTL())
	notifier := service.NewLogDispatcher(logger)

	presence := hub.NewPresenceRegistry()
	typing := hub.NewTypingTracker()
	chatHub := hub.NewHub(presence, typing, logger)

	chatService := service.NewChatService(conversationRepo, userRepo, notifier, presence, logger)
	chatService.AttachRealtime(chatHub)

	chatHub.SetHandler(hub.NewChatHandler(chatHub, chatService, conversationRepo, userRepo, tokens, logger))

	return &Container{
		ChatHandler:    handler.NewChatHandler(chatService),
		MonitorHandler: handler.NewMonitorHandler(hub.NewMonitorService(chatHub)),
		Hub:            chatHub,
		Tokens:         tokens,
		Users:          userRepo,
		Config:         *config,
		Logger:         logger,
		mongoDB:        con,
	}, nil
}

// Close gracefully shuts down all connections.
func (c *Container) Close() error {
	if c.Hub != nil {
		c.Hub.Stop()
	}

	if c.Logger != nil {
		_ = c.Logger.Sync()
	}

	if c.mongoDB != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.mongoDB.Client().Disconnect(ctx); err != nil {
			return fmt.Errorf("failed to close MongoDB connection: %w", err)
		}
	}

	return nil
}
