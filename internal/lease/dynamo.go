package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/jun/docrag/backend/internal/model"
)

// DynamoDBClient is the subset of *dynamodb.Client used by DynamoLocker.
type DynamoDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoLocker stores leases in a DynamoDB table keyed by lease_key, with
// expires_at as the table's TTL attribute.
type DynamoLocker struct {
	client    DynamoDBClient
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

func NewDynamoLocker(client DynamoDBClient, tableName string, ttl time.Duration) *DynamoLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &DynamoLocker{client: client, tableName: tableName, ttl: ttl, now: time.Now}
}

func (m *DynamoLocker) Acquire(ctx context.Context, key, owner string) (*model.SyncLease, error) {
	now := m.now().Unix()
	l := model.SyncLease{
		LeaseKey:  key,
		Owner:     owner,
		ExpiresAt: now + int64(m.ttl.Seconds()),
	}

	item, err := attributevalue.MarshalMap(l)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lease: %w", err)
	}

	_, err = m.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(m.tableName),
		Item:      item,
		ConditionExpression: aws.String(
			"attribute_not_exists(lease_key) OR expires_at < :now OR #owner = :owner",
		),
		ExpressionAttributeNames: map[string]string{"#owner": "owner"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now":   &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now)},
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("failed to acquire lease: %w", err)
	}
	return &l, nil
}

func (m *DynamoLocker) Heartbeat(ctx context.Context, key, owner string) (*model.SyncLease, error) {
	expiresAt := m.now().Unix() + int64(m.ttl.Seconds())

	out, err := m.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(m.tableName),
		Key: map[string]types.AttributeValue{
			"lease_key": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression:         aws.String("SET expires_at = :expires_at"),
		ConditionExpression:      aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{"#owner": "owner"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":expires_at": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", expiresAt)},
			":owner":      &types.AttributeValueMemberS{Value: owner},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, ErrNotOwner
		}
		return nil, fmt.Errorf("failed to send heartbeat: %w", err)
	}

	var l model.SyncLease
	if err := attributevalue.UnmarshalMap(out.Attributes, &l); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lease: %w", err)
	}
	return &l, nil
}

func (m *DynamoLocker) Release(ctx context.Context, key, owner string) error {
	_, err := m.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(m.tableName),
		Key: map[string]types.AttributeValue{
			"lease_key": &types.AttributeValueMemberS{Value: key},
		},
		ConditionExpression:      aws.String("#owner = :owner"),
		ExpressionAttributeNames: map[string]string{"#owner": "owner"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: owner},
		},
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrNotOwner
		}
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

func (m *DynamoLocker) Status(ctx context.Context, key string) (*model.SyncLease, error) {
	out, err := m.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(m.tableName),
		Key: map[string]types.AttributeValue{
			"lease_key": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get lease: %w", err)
	}
	if out.Item == nil {
		return nil, nil
	}

	var l model.SyncLease
	if err := attributevalue.UnmarshalMap(out.Item, &l); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lease: %w", err)
	}
	// DynamoDB TTL deletion is lazy.
	if l.ExpiresAt < m.now().Unix() {
		return nil, nil
	}
	return &l, nil
}
