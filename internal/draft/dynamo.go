package draft

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// FunnelIndex is the global secondary index on FunnelID used by
// ListByFunnel.
const FunnelIndex = "FunnelID-index"

// DynamoAPI is the subset of the DynamoDB client the cache uses.
type DynamoAPI interface {
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// DynamoDBItem represents a draft stored in DynamoDB
type DynamoDBItem struct {
	PK        string `dynamodbav:"PK"`
	SK        string `dynamodbav:"SK"`
	FunnelID  string `dynamodbav:"FunnelID"`
	Data      string `dynamodbav:"Data"`
	Synced    bool   `dynamodbav:"Synced"`
	Timestamp string `dynamodbav:"Timestamp"`
	TTL       int64  `dynamodbav:"TTL,omitempty"`
}

const draftSK = "DRAFT"

// DynamoCache stores drafts in a DynamoDB table keyed by PK=DRAFT#<stageID>.
type DynamoCache struct {
	client    DynamoAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

// NewDynamoCache wraps an existing client.
func NewDynamoCache(client DynamoAPI, tableName string, ttl time.Duration) *DynamoCache {
	return &DynamoCache{client: client, tableName: tableName, ttl: ttl, now: time.Now}
}

// NewDynamoCacheFromConfig loads AWS credentials and creates the cache.
func NewDynamoCacheFromConfig(ctx context.Context, tableName, region, profile string, ttl time.Duration) (*DynamoCache, error) {
	var cfg aws.Config
	var err error

	if profile != "" {
		cfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
			config.WithSharedConfigProfile(profile),
		)
	} else {
		cfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewDynamoCache(dynamodb.NewFromConfig(cfg), tableName, ttl), nil
}

func draftPK(stageID string) string { return "DRAFT#" + stageID }

func (c *DynamoCache) key(stageID string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: draftPK(stageID)},
		"SK": &types.AttributeValueMemberS{Value: draftSK},
	}
}

// Available checks that the table exists and is reachable.
func (c *DynamoCache) Available(ctx context.Context) bool {
	if c == nil || c.client == nil {
		return false
	}
	_, err := c.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(c.tableName)})
	return err == nil
}

// Put writes the draft, replacing any previous item.
func (c *DynamoCache) Put(ctx context.Context, d Draft) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshaling draft: %w", err)
	}

	item := DynamoDBItem{
		PK:        draftPK(d.StageID),
		SK:        draftSK,
		FunnelID:  d.FunnelID,
		Data:      string(data),
		Synced:    d.Synced,
		Timestamp: d.Timestamp.UTC().Format(time.RFC3339),
	}
	if c.ttl > 0 {
		item.TTL = c.now().Add(c.ttl).Unix()
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}

	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting draft to DynamoDB: %w", err)
	}
	return nil
}

// Get loads one draft. Items past their TTL are treated as missing since
// DynamoDB deletes expired items lazily.
func (c *DynamoCache) Get(ctx context.Context, stageID string) (*Draft, error) {
	out, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.tableName),
		Key:            c.key(stageID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting draft from DynamoDB: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}
	d, live, err := c.decode(out.Item)
	if err != nil {
		return nil, err
	}
	if !live {
		return nil, ErrNotFound
	}
	return d, nil
}

// Delete removes the draft.
func (c *DynamoCache) Delete(ctx context.Context, stageID string) error {
	_, err := c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key:       c.key(stageID),
	})
	if err != nil {
		return fmt.Errorf("deleting draft from DynamoDB: %w", err)
	}
	return nil
}

// ListByFunnel queries the funnel index, following pagination.
func (c *DynamoCache) ListByFunnel(ctx context.Context, funnelID string) ([]Draft, error) {
	var drafts []Draft
	var start map[string]types.AttributeValue
	for {
		out, err := c.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			IndexName:              aws.String(FunnelIndex),
			KeyConditionExpression: aws.String("FunnelID = :fid"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":fid": &types.AttributeValueMemberS{Value: funnelID},
			},
			ExclusiveStartKey: start,
		})
		if err != nil {
			return nil, fmt.Errorf("querying drafts: %w", err)
		}
		for _, item := range out.Items {
			d, live, err := c.decode(item)
			if err != nil || !live {
				continue
			}
			drafts = append(drafts, *d)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		start = out.LastEvaluatedKey
	}
	return drafts, nil
}

func (c *DynamoCache) decode(item map[string]types.AttributeValue) (*Draft, bool, error) {
	var dbItem DynamoDBItem
	if err := attributevalue.UnmarshalMap(item, &dbItem); err != nil {
		return nil, false, fmt.Errorf("unmarshaling item: %w", err)
	}
	if dbItem.TTL > 0 && dbItem.TTL <= c.now().Unix() {
		return nil, false, nil
	}
	var d Draft
	if err := json.Unmarshal([]byte(dbItem.Data), &d); err != nil {
		return nil, false, fmt.Errorf("decoding draft: %w", err)
	}
	d.Synced = dbItem.Synced
	return &d, true, nil
}
