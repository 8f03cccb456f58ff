package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	pkPrefixSession = "SESSION#"
	skPrefixKV      = "KV#"
	ttlDuration     = 30 * 24 * time.Hour // 30-day TTL
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Client stores widget key-value entries in a DynamoDB table.
// Keys of the form "<name>#<session>" are partitioned by session.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{api: api, tableName: tableName, now: time.Now}, nil
}

// itemKey splits a storage key into partition and sort keys.
func itemKey(key string) map[string]types.AttributeValue {
	name, session, ok := strings.Cut(key, "#")
	if !ok || session == "" {
		session = "global"
	}
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pkPrefixSession + session},
		"SK": &types.AttributeValueMemberS{Value: skPrefixKV + name},
	}
}

// Get reads the value stored under key.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return "", false, fmt.Errorf("repository: Get item: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return "", false, nil
	}

	value, err := strAttr(out.Item, "value")
	if err != nil {
		return "", false, fmt.Errorf("repository: Get decode value: %w", err)
	}
	return value, true, nil
}

// Put writes or replaces the value stored under key.
func (c *Client) Put(ctx context.Context, key, value string) error {
	item := itemKey(key)
	item["value"] = &types.AttributeValueMemberS{Value: value}
	item["updatedAt"] = &types.AttributeValueMemberS{Value: c.now().UTC().Format(time.RFC3339)}
	item["ttl"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", c.now().Add(ttlDuration).Unix())}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("repository: Put: %w", err)
	}
	return nil
}

// Delete removes the value stored under key. Deleting a missing key is not an error.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       itemKey(key),
	})
	if err != nil {
		return fmt.Errorf("repository: Delete: %w", err)
	}
	return nil
}

// Acquire takes the lease on key with a conditional put that only succeeds
// when no item exists or the previous lease has expired.
func (c *Client) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := c.now()
	until := now.Add(ttl)
	item := itemKey(key)
	item["leaseUntil"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(until.UnixMilli(), 10)}
	item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(until.Unix(), 10)}

	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR leaseUntil < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.UnixMilli(), 10)},
		},
	})
	var held *types.ConditionalCheckFailedException
	if errors.As(err, &held) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("repository: Acquire: %w", err)
	}
	return true, nil
}

// Release deletes the lease on key.
func (c *Client) Release(ctx context.Context, key string) error {
	if err := c.Delete(ctx, key); err != nil {
		return fmt.Errorf("repository: Release: %w", err)
	}
	return nil
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}
