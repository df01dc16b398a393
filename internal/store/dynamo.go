package store

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"
)

const (
	partitionKey = "pk"

	dynamoOperationTimeout = 5 * time.Second
)

// DynamoStore backs the hosted deployment, where the daemon state lives
// in a DynamoDB table keyed by a single pk attribute per storage key.
type DynamoStore struct {
	logger    *zap.Logger
	client    *dynamodb.Client
	tableName string
}

func NewDynamoStore(logger *zap.Logger, client *dynamodb.Client, tableName string) *DynamoStore {
	return &DynamoStore{
		logger:    logger,
		client:    client,
		tableName: tableName,
	}
}

type dynamoItem struct {
	Value string `dynamodbav:"v"`
}

func (d *DynamoStore) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, dynamoOperationTimeout)
	defer cancel()

	result, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &d.tableName,
		Key:       d.key(key),
	})
	if err != nil {
		return "", fmt.Errorf("get item %q: %w", key, err)
	}
	if len(result.Item) == 0 {
		return "", ErrNotFound
	}

	var item dynamoItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return "", fmt.Errorf("unmarshal item %q: %w", key, err)
	}
	return item.Value, nil
}

func (d *DynamoStore) Set(ctx context.Context, key, value string) error {
	ctx, cancel := context.WithTimeout(ctx, dynamoOperationTimeout)
	defer cancel()

	item, err := attributevalue.MarshalMap(dynamoItem{Value: value})
	if err != nil {
		return fmt.Errorf("marshal item %q: %w", key, err)
	}
	item[partitionKey] = &types.AttributeValueMemberS{Value: key}

	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &d.tableName,
		Item:      item,
	}); err != nil {
		return fmt.Errorf("put item %q: %w", key, err)
	}
	return nil
}

func (d *DynamoStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, dynamoOperationTimeout)
	defer cancel()

	if _, err := d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: &d.tableName,
		Key:       d.key(key),
	}); err != nil {
		return fmt.Errorf("delete item %q: %w", key, err)
	}
	return nil
}

func (d *DynamoStore) key(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		partitionKey: &types.AttributeValueMemberS{Value: key},
	}
}
