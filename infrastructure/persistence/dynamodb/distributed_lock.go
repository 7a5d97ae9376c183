package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrLockHeld is returned when another owner holds an unexpired lock
var ErrLockHeld = errors.New("lock already held")

// DistributedLock provides leases on named resources using conditional
// writes, so that only one process runs a job such as session cleanup
type DistributedLock struct {
	client    API
	tableName string
	owner     string
	logger    *zap.Logger
	now       func() time.Time
}

// NewDistributedLock creates a lock client; owner identifies this process
func NewDistributedLock(client API, tableName, owner string, logger *zap.Logger) *DistributedLock {
	if owner == "" {
		owner = uuid.NewString()
	}
	return &DistributedLock{
		client:    client,
		tableName: tableName,
		owner:     owner,
		logger:    logger,
		now:       time.Now,
	}
}

func lockKey(resource string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: fmt.Sprintf("LOCK#%s", resource)},
		"SK": &types.AttributeValueMemberS{Value: "LOCK"},
	}
}

// Acquire takes the lease on resource for ttl. It fails with ErrLockHeld
// while another holder's lease is unexpired.
func (dl *DistributedLock) Acquire(ctx context.Context, resource string, ttl time.Duration) (*Lock, error) {
	now := dl.now()
	expiresAt := now.Add(ttl)
	lockID := uuid.NewString()

	item := lockKey(resource)
	item["LockID"] = &types.AttributeValueMemberS{Value: lockID}
	item["Owner"] = &types.AttributeValueMemberS{Value: dl.owner}
	item["AcquiredAt"] = &types.AttributeValueMemberS{Value: now.UTC().Format(time.RFC3339)}
	item["ExpiresAt"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt.Unix(), 10)}
	// TTL lets DynamoDB reap leases whose holder died
	item["TTL"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(expiresAt.Add(time.Hour).Unix(), 10)}

	_, err := dl.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(dl.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(PK) OR ExpiresAt < :now"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: strconv.FormatInt(now.Unix(), 10)},
		},
	})
	if err != nil {
		var conditionalCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionalCheckFailed) {
			dl.logger.Debug("Lock already held",
				zap.String("resource", resource),
				zap.String("owner", dl.owner),
			)
			return nil, fmt.Errorf("%w: %s", ErrLockHeld, resource)
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	dl.logger.Debug("Lock acquired",
		zap.String("resource", resource),
		zap.String("lockID", lockID),
		zap.Duration("ttl", ttl),
	)
	return &Lock{
		distributedLock: dl,
		resource:        resource,
		lockID:          lockID,
		expiresAt:       expiresAt,
	}, nil
}

// release deletes the lease if this holder still owns it
func (dl *DistributedLock) release(ctx context.Context, resource, lockID string) error {
	_, err := dl.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(dl.tableName),
		Key:                 lockKey(resource),
		ConditionExpression: aws.String("LockID = :lockId"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":lockId": &types.AttributeValueMemberS{Value: lockID},
		},
	})
	if err != nil {
		var conditionalCheckFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionalCheckFailed) {
			// expired and taken over; nothing of ours to remove
			dl.logger.Warn("Lock released after takeover",
				zap.String("resource", resource),
				zap.String("lockID", lockID),
			)
			return nil
		}
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Lock is an acquired lease
type Lock struct {
	distributedLock *DistributedLock
	resource        string
	lockID          string
	expiresAt       time.Time
}

// Release gives the lease back
func (l *Lock) Release(ctx context.Context) error {
	return l.distributedLock.release(ctx, l.resource, l.lockID)
}

// IsExpired checks if the lease has run out
func (l *Lock) IsExpired() bool {
	return l.distributedLock.now().After(l.expiresAt)
}

// TryLock acquires the lease and returns its release function
func (dl *DistributedLock) TryLock(ctx context.Context, resource string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := dl.Acquire(ctx, resource, ttl)
	if err != nil {
		return nil, err
	}
	return lock.Release, nil
}
