package jobstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// dynamoClient is the subset of the DynamoDB API the store uses, extracted
// so tests can substitute a fake.
type dynamoClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Compile-time check that DynamoStore implements Store.
var _ Store = (*DynamoStore)(nil)

// DynamoStore implements Store on a DynamoDB table keyed by job_id. Timings
// are stored as a JSON string attribute so partial updates replace the map
// wholesale, matching the Update contract.
type DynamoStore struct {
	client dynamoClient
	table  string
}

// NewDynamoStore creates a DynamoStore for the given table.
func NewDynamoStore(client *dynamodb.Client, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

// newDynamoStoreWithClient is the test seam.
func newDynamoStoreWithClient(client dynamoClient, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

// Create conditionally inserts a queued job record.
func (s *DynamoStore) Create(ctx context.Context, jobID, objectKey, objectBucket, objectVersion string) error {
	if jobID == "" {
		return ErrJobIDRequired
	}

	now := nowISO()
	item := map[string]types.AttributeValue{
		"job_id":        &types.AttributeValueMemberS{Value: jobID},
		"status":        &types.AttributeValueMemberS{Value: string(StatusQueued)},
		"current_stage": &types.AttributeValueMemberS{Value: StageQueued},
		"object_key":    &types.AttributeValueMemberS{Value: objectKey},
		"object_bucket": &types.AttributeValueMemberS{Value: objectBucket},
		"created_at":    &types.AttributeValueMemberS{Value: now},
		"updated_at":    &types.AttributeValueMemberS{Value: now},
	}
	if objectVersion != "" {
		item["object_version"] = &types.AttributeValueMemberS{Value: objectVersion}
	}

	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(job_id)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			// Already created by the other arrival path; fine.
			return nil
		}
		return fmt.Errorf("create job %s: %w", jobID, err)
	}
	return nil
}

// Get retrieves a job, or (nil, nil) when it does not exist.
func (s *DynamoStore) Get(ctx context.Context, jobID string) (*Job, error) {
	if jobID == "" {
		return nil, ErrJobIDRequired
	}

	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"job_id": &types.AttributeValueMemberS{Value: jobID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return unmarshalJob(out.Item)
}

// Update applies a partial SET-style update and refreshes updated_at.
func (s *DynamoStore) Update(ctx context.Context, jobID string, u Update) error {
	if jobID == "" {
		return ErrJobIDRequired
	}

	sets := []string{"updated_at = :ua"}
	names := map[string]string{}
	values := map[string]types.AttributeValue{
		":ua": &types.AttributeValueMemberS{Value: nowISO()},
	}

	if u.Status != nil {
		// "status" is a reserved word in DynamoDB expressions.
		sets = append(sets, "#st = :st")
		names["#st"] = "status"
		values[":st"] = &types.AttributeValueMemberS{Value: string(*u.Status)}
	}
	if u.CurrentStage != nil {
		sets = append(sets, "current_stage = :cs")
		values[":cs"] = &types.AttributeValueMemberS{Value: *u.CurrentStage}
	}
	if u.ErrorMessage != nil {
		sets = append(sets, "error_message = :em")
		values[":em"] = &types.AttributeValueMemberS{Value: *u.ErrorMessage}
	}
	if u.ResultKey != nil {
		sets = append(sets, "result_key = :rk")
		values[":rk"] = &types.AttributeValueMemberS{Value: *u.ResultKey}
	}
	if u.FailureReportKey != nil {
		sets = append(sets, "failure_report_key = :fk")
		values[":fk"] = &types.AttributeValueMemberS{Value: *u.FailureReportKey}
	}
	if u.TaskHandle != nil {
		sets = append(sets, "task_handle = :th")
		values[":th"] = &types.AttributeValueMemberS{Value: *u.TaskHandle}
	}
	if u.Timings != nil {
		raw, err := json.Marshal(u.Timings)
		if err != nil {
			return fmt.Errorf("marshal timings: %w", err)
		}
		sets = append(sets, "timings = :ti")
		values[":ti"] = &types.AttributeValueMemberS{Value: string(raw)}
	}

	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"job_id": &types.AttributeValueMemberS{Value: jobID},
		},
		UpdateExpression:          aws.String("SET " + strings.Join(sets, ", ")),
		ExpressionAttributeValues: values,
	}
	if len(names) > 0 {
		input.ExpressionAttributeNames = names
	}

	if _, err := s.client.UpdateItem(ctx, input); err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	return nil
}

// List scans jobs, optionally filtered by status.
func (s *DynamoStore) List(ctx context.Context, statusFilter Status, limit int) ([]*Job, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}

	input := &dynamodb.ScanInput{
		TableName: aws.String(s.table),
		Limit:     aws.Int32(int32(limit)),
	}
	if statusFilter != "" {
		input.FilterExpression = aws.String("#st = :st")
		input.ExpressionAttributeNames = map[string]string{"#st": "status"}
		input.ExpressionAttributeValues = map[string]types.AttributeValue{
			":st": &types.AttributeValueMemberS{Value: string(statusFilter)},
		}
	}

	out, err := s.client.Scan(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	jobs := make([]*Job, 0, len(out.Items))
	for _, item := range out.Items {
		job, err := unmarshalJob(item)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// FindQueuedByObjectKey scans for a queued job with the given object key.
func (s *DynamoStore) FindQueuedByObjectKey(ctx context.Context, objectKey string) (string, error) {
	out, err := s.client.Scan(ctx, &dynamodb.ScanInput{
		TableName:        aws.String(s.table),
		FilterExpression: aws.String("object_key = :k AND #st = :q"),
		ExpressionAttributeNames: map[string]string{
			"#st": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":k": &types.AttributeValueMemberS{Value: objectKey},
			":q": &types.AttributeValueMemberS{Value: string(StatusQueued)},
		},
		ProjectionExpression: aws.String("job_id"),
	})
	if err != nil {
		return "", fmt.Errorf("find queued job for %s: %w", objectKey, err)
	}
	if len(out.Items) == 0 {
		return "", nil
	}

	var row struct {
		JobID string `dynamodbav:"job_id"`
	}
	if err := attributevalue.UnmarshalMap(out.Items[0], &row); err != nil {
		return "", fmt.Errorf("unmarshal queued job row: %w", err)
	}
	return row.JobID, nil
}

// Delete removes a job record unconditionally.
func (s *DynamoStore) Delete(ctx context.Context, jobID string) error {
	if jobID == "" {
		return ErrJobIDRequired
	}
	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"job_id": &types.AttributeValueMemberS{Value: jobID},
		},
	})
	if err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	return nil
}

// unmarshalJob converts a DynamoDB item into a Job, decoding the timings
// JSON string attribute.
func unmarshalJob(item map[string]types.AttributeValue) (*Job, error) {
	var job Job
	if err := attributevalue.UnmarshalMap(item, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}

	if raw, ok := item["timings"].(*types.AttributeValueMemberS); ok && raw.Value != "" {
		var timings Timings
		if err := json.Unmarshal([]byte(raw.Value), &timings); err == nil {
			job.Timings = timings
		}
	}
	return &job, nil
}
