// Package progress records provisioning runs next to the keys they created.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Run statuses.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// runTTL is how long run records stay in the table.
const runTTL = 30 * 24 * time.Hour

// DynamoDBAPI is the subset of the DynamoDB client used by Tracker.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// Tracker stores runs in the key table under "run#<id>" partition keys.
type Tracker struct {
	dynamoClient DynamoDBAPI
	tableName    string
	now          func() time.Time
}

// Run describes one provisioning invocation.
type Run struct {
	ID         string    `json:"id"`
	Prefix     string    `json:"prefix"`
	Requested  int       `json:"requested"`
	Stored     int       `json:"stored"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartTime  time.Time `json:"start_time"`
	LastUpdate time.Time `json:"last_update"`
}

func NewTracker(dynamoClient DynamoDBAPI, tableName string) *Tracker {
	return &Tracker{
		dynamoClient: dynamoClient,
		tableName:    tableName,
		now:          time.Now,
	}
}

func runKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"key_hash": &types.AttributeValueMemberS{Value: fmt.Sprintf("run#%s", id)},
	}
}

// SaveRun writes run, replacing any earlier record with the same id.
func (t *Tracker) SaveRun(ctx context.Context, run Run) error {
	now := t.now()
	run.LastUpdate = now

	runJSON, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	item := runKey(run.ID)
	item["data"] = &types.AttributeValueMemberS{Value: string(runJSON)}
	item["ttl"] = &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Add(runTTL).Unix())}

	_, err = t.dynamoClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: &t.tableName,
		Item:      item,
	})
	return err
}

// GetRun returns the run with id, or nil when there is none.
func (t *Tracker) GetRun(ctx context.Context, id string) (*Run, error) {
	result, err := t.dynamoClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &t.tableName,
		Key:       runKey(id),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, nil
	}

	dataAttr, ok := result.Item["data"].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("run %s: missing data attribute", id)
	}
	var run Run
	if err := json.Unmarshal([]byte(dataAttr.Value), &run); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", id, err)
	}
	return &run, nil
}
