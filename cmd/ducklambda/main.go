package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"github.com/spotiduck/spotiduck/internal/handlers"
	"github.com/spotiduck/spotiduck/internal/spotify"
	"github.com/spotiduck/spotiduck/internal/store"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	tableName := os.Getenv("SPOTIDUCK_TABLE")
	if tableName == "" {
		logger.Fatal("SPOTIDUCK_TABLE is not set")
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		logger.Fatal("failed to load AWS config", zap.Error(err))
	}
	dynamoClient := dynamodb.NewFromConfig(cfg)

	h := handlers.NewHandler(
		logger,
		store.NewDynamoStore(logger, dynamoClient, tableName),
		handlers.NewDynamoConnections(dynamoClient, tableName),
		handlers.NewAPISender(cfg),
		spotify.NewClient(""),
		"",
	)

	lambda.Start(h.HandleRequest)
}
