package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"topicgrader/application/ports"
	"topicgrader/domain/core/aggregates"
	"topicgrader/domain/core/valueobjects"
	"topicgrader/infrastructure/persistence/schema"
	pkgerrors "topicgrader/pkg/errors"
)

const (
	entityTypeTree = "TREE"
	treeSortKey    = "TREE"
)

// API is the subset of the DynamoDB client used by the stores
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// TreeStore keeps one item per session in a single table
type TreeStore struct {
	client     API
	tableName  string
	logger     *zap.Logger
	staleCheck bool
	now        func() time.Time
}

// TreeStoreOption customizes a TreeStore
type TreeStoreOption func(*TreeStore)

// WithStaleWriteCheck rejects a save whose tree version is older than the
// stored one with a CONFLICT error
func WithStaleWriteCheck() TreeStoreOption {
	return func(s *TreeStore) { s.staleCheck = true }
}

// NewTreeStore creates a DynamoDB backed tree store
func NewTreeStore(client API, tableName string, logger *zap.Logger, opts ...TreeStoreOption) *TreeStore {
	s := &TreeStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ ports.TreeStore = (*TreeStore)(nil)

// treeItem represents the DynamoDB item structure for a session tree
type treeItem struct {
	PK            string `dynamodbav:"PK"`
	SK            string `dynamodbav:"SK"`
	EntityType    string `dynamodbav:"EntityType"`
	SessionID     string `dynamodbav:"SessionID"`
	Version       int    `dynamodbav:"Version"`
	SchemaVersion int    `dynamodbav:"SchemaVersion"`
	NodeCount     int    `dynamodbav:"NodeCount"`
	SavedAt       string `dynamodbav:"SavedAt"`
	Payload       []byte `dynamodbav:"Payload"`
}

func sessionKey(sessionID valueobjects.SessionID) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: partitionKey(sessionID)},
		"SK": &types.AttributeValueMemberS{Value: treeSortKey},
	}
}

func partitionKey(sessionID valueobjects.SessionID) string {
	return fmt.Sprintf("SESSION#%s", sessionID)
}

// Save persists the tree as a single encoded item
func (s *TreeStore) Save(ctx context.Context, sessionID valueobjects.SessionID, tree aggregates.ConversationTree) error {
	savedAt := s.now()
	payload, err := schema.Encode(tree, savedAt)
	if err != nil {
		return err
	}

	item := treeItem{
		PK:            partitionKey(sessionID),
		SK:            treeSortKey,
		EntityType:    entityTypeTree,
		SessionID:     sessionID.String(),
		Version:       tree.Version,
		SchemaVersion: schema.CurrentVersion,
		NodeCount:     tree.Size(),
		SavedAt:       savedAt.Format(time.RFC3339Nano),
		Payload:       payload,
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return pkgerrors.NewPersistenceError("save", fmt.Errorf("failed to marshal tree: %w", err))
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	}
	if s.staleCheck {
		condition := expression.Name("PK").AttributeNotExists().
			Or(expression.Name("Version").LessThanEqual(expression.Value(tree.Version)))
		expr, err := expression.NewBuilder().WithCondition(condition).Build()
		if err != nil {
			return pkgerrors.NewPersistenceError("save", fmt.Errorf("failed to build expression: %w", err))
		}
		input.ConditionExpression = expr.Condition()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	if _, err := s.client.PutItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return pkgerrors.NewConflictError(fmt.Sprintf("session %s has a newer stored tree", sessionID)).
				WithCause(pkgerrors.ErrConcurrentModification)
		}
		s.logger.Error("Failed to save tree to DynamoDB",
			zap.Error(err),
			zap.String("sessionID", sessionID.String()),
		)
		return pkgerrors.NewPersistenceError("save", err)
	}

	s.logger.Debug("Tree saved",
		zap.String("sessionID", sessionID.String()),
		zap.Int("version", tree.Version),
		zap.Int("nodeCount", tree.Size()),
	)
	return nil
}

// Load fetches and decodes the session's tree
func (s *TreeStore) Load(ctx context.Context, sessionID valueobjects.SessionID) (aggregates.ConversationTree, bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            sessionKey(sessionID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return aggregates.ConversationTree{}, false, pkgerrors.NewPersistenceError("load", err)
	}
	if result.Item == nil {
		return aggregates.ConversationTree{}, false, nil
	}

	var item treeItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return aggregates.ConversationTree{}, false, pkgerrors.NewPersistenceError("load", fmt.Errorf("failed to unmarshal tree: %w", err))
	}
	tree, err := schema.Decode(item.Payload)
	if err != nil {
		return aggregates.ConversationTree{}, false, err
	}
	return tree, true, nil
}

// Delete removes the session's item
func (s *TreeStore) Delete(ctx context.Context, sessionID valueobjects.SessionID) error {
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       sessionKey(sessionID),
	})
	if err != nil {
		return pkgerrors.NewPersistenceError("delete", err)
	}
	return nil
}

// List scans the table for tree items
func (s *TreeStore) List(ctx context.Context) ([]valueobjects.SessionID, error) {
	filter := expression.Name("EntityType").Equal(expression.Value(entityTypeTree))
	projection := expression.NamesList(expression.Name("SessionID"))
	expr, err := expression.NewBuilder().WithFilter(filter).WithProjection(projection).Build()
	if err != nil {
		return nil, pkgerrors.NewPersistenceError("list", fmt.Errorf("failed to build expression: %w", err))
	}

	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName:                 aws.String(s.tableName),
		FilterExpression:          expr.Filter(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})

	var ids []valueobjects.SessionID
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, pkgerrors.NewPersistenceError("list", err)
		}
		var items []struct {
			SessionID string `dynamodbav:"SessionID"`
		}
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, pkgerrors.NewPersistenceError("list", err)
		}
		for _, item := range items {
			ids = append(ids, valueobjects.SessionID(item.SessionID))
		}
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Exists checks for the session's item without fetching its payload
func (s *TreeStore) Exists(ctx context.Context, sessionID valueobjects.SessionID) (bool, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(s.tableName),
		Key:                  sessionKey(sessionID),
		ProjectionExpression: aws.String("PK"),
	})
	if err != nil {
		return false, pkgerrors.NewPersistenceError("exists", err)
	}
	return result.Item != nil, nil
}
