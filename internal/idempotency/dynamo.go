package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// dynamoClient is the subset of the DynamoDB API the guard uses.
type dynamoClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Compile-time check that DynamoGuard implements Guard.
var _ Guard = (*DynamoGuard)(nil)

// DynamoGuard implements Guard on a DynamoDB table keyed by idempotency_key.
// Claim relies on a conditional put, so concurrent dispatchers resolve the
// race server-side.
type DynamoGuard struct {
	client dynamoClient
	table  string
}

// NewDynamoGuard creates a DynamoGuard for the given table.
func NewDynamoGuard(client *dynamodb.Client, table string) *DynamoGuard {
	return &DynamoGuard{client: client, table: table}
}

// newDynamoGuardWithClient is the test seam.
func newDynamoGuardWithClient(client dynamoClient, table string) *DynamoGuard {
	return &DynamoGuard{client: client, table: table}
}

// Claim atomically records the object version as in-flight under jobID.
func (g *DynamoGuard) Claim(ctx context.Context, key, jobID string) error {
	_, err := g.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(g.table),
		Item: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
			"job_id":          &types.AttributeValueMemberS{Value: jobID},
			"processed":       &types.AttributeValueMemberBOOL{Value: false},
			"claimed_at":      &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(idempotency_key)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrAlreadyClaimed
		}
		return fmt.Errorf("claim %s: %w", key, err)
	}
	return nil
}

// MarkProcessed flips the processed flag on an existing claim and records
// the result artifact key alongside it.
func (g *DynamoGuard) MarkProcessed(ctx context.Context, key, resultKey string) error {
	_, err := g.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(g.table),
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression: aws.String("SET processed = :p, processed_at = :at, result_key = :rk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":p":  &types.AttributeValueMemberBOOL{Value: true},
			":at": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
			":rk": &types.AttributeValueMemberS{Value: resultKey},
		},
	})
	if err != nil {
		return fmt.Errorf("mark processed %s: %w", key, err)
	}
	return nil
}

// IsProcessed reports whether the object version already completed.
func (g *DynamoGuard) IsProcessed(ctx context.Context, key string) (bool, error) {
	out, err := g.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(g.table),
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("check processed %s: %w", key, err)
	}
	if len(out.Item) == 0 {
		return false, nil
	}
	flag, ok := out.Item["processed"].(*types.AttributeValueMemberBOOL)
	return ok && flag.Value, nil
}

// Release removes a claim so a redelivered message can retry.
func (g *DynamoGuard) Release(ctx context.Context, key string) error {
	_, err := g.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(g.table),
		Key: map[string]types.AttributeValue{
			"idempotency_key": &types.AttributeValueMemberS{Value: key},
		},
	})
	if err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}
