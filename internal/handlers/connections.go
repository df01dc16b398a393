package handlers

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	partitionKey = "pk"
	connsDocPK   = "connections"
)

// Connections tracks the websocket connection IDs of the hosted hub.
type Connections interface {
	Add(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

// DynamoConnections keeps all connection IDs in a string set on a
// single item, so add and remove are one UpdateItem each.
type DynamoConnections struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoConnections(client *dynamodb.Client, tableName string) *DynamoConnections {
	return &DynamoConnections{client: client, tableName: tableName}
}

func (c *DynamoConnections) Add(ctx context.Context, id string) error {
	return c.update(ctx, "ADD connectionIds :id", id)
}

func (c *DynamoConnections) Remove(ctx context.Context, id string) error {
	return c.update(ctx, "DELETE connectionIds :id", id)
}

func (c *DynamoConnections) update(ctx context.Context, expr, id string) error {
	_, err := c.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: &c.tableName,
		Key: map[string]types.AttributeValue{
			partitionKey: &types.AttributeValueMemberS{Value: connsDocPK},
		},
		UpdateExpression: aws.String(expr),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":id": &types.AttributeValueMemberSS{Value: []string{id}},
		},
	})
	if err != nil {
		return fmt.Errorf("update item: %w", err)
	}
	return nil
}

func (c *DynamoConnections) List(ctx context.Context) ([]string, error) {
	result, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &c.tableName,
		Key: map[string]types.AttributeValue{
			partitionKey: &types.AttributeValueMemberS{Value: connsDocPK},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}

	var doc struct {
		ConnectionIds []string `dynamodbav:"connectionIds"`
	}
	if err := attributevalue.UnmarshalMap(result.Item, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal map: %w", err)
	}
	return doc.ConnectionIds, nil
}
