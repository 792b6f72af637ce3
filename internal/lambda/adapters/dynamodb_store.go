// Package adapters holds the AWS-backed stores used by the provisioning Lambda.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/TheMichaelB/pwvault/internal/events"
	"github.com/TheMichaelB/pwvault/internal/services/keygen"
)

// DynamoDBAPI is the subset of the DynamoDB client used by KeyStore.
type DynamoDBAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// Attribute names in the key table. key_hash is the partition key.
const (
	attrHash       = "key_hash"
	attrPrefix     = "prefix"
	attrCreatedAt  = "created_at"
	attrRedeemedAt = "redeemed_at"
	attrRedeemedBy = "redeemed_by"
)

// KeyStore keeps licence key hashes in a DynamoDB table.
type KeyStore struct {
	client    DynamoDBAPI
	tableName string
	logger    *events.Logger
}

// NewKeyStore creates a store from the default AWS configuration chain.
func NewKeyStore(ctx context.Context, tableName string, logger *events.Logger) (*KeyStore, error) {
	if tableName == "" {
		return nil, fmt.Errorf("key table name required")
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return NewKeyStoreWithClient(dynamodb.NewFromConfig(cfg), tableName, logger), nil
}

// NewKeyStoreWithClient creates a store on an existing client.
func NewKeyStoreWithClient(client DynamoDBAPI, tableName string, logger *events.Logger) *KeyStore {
	return &KeyStore{
		client:    client,
		tableName: tableName,
		logger:    logger.WithField("component", "dynamodb_key_store"),
	}
}

// Put stores records. A hash that already exists is left untouched.
func (s *KeyStore) Put(ctx context.Context, records []keygen.Record) error {
	for _, r := range records {
		_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.tableName),
			Item:                encodeRecord(r),
			ConditionExpression: aws.String("attribute_not_exists(#h)"),
			ExpressionAttributeNames: map[string]string{
				"#h": attrHash,
			},
		})
		if err != nil {
			var ccf *types.ConditionalCheckFailedException
			if errors.As(err, &ccf) {
				s.logger.Warn("Skipping existing key hash")
				continue
			}
			return fmt.Errorf("dynamodb put: %w", err)
		}
	}

	s.logger.WithField("count", len(records)).Debug("Stored key hashes")
	return nil
}

// Redeem marks a key redeemed with a conditional update, so two devices
// can never claim the same key.
func (s *KeyStore) Redeem(ctx context.Context, hash, device string, at time.Time) (*keygen.Record, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 hashKey(hash),
		UpdateExpression:    aws.String("SET #ra = :at, #rb = :dev"),
		ConditionExpression: aws.String("attribute_exists(#h) AND attribute_not_exists(#ra)"),
		ExpressionAttributeNames: map[string]string{
			"#h":  attrHash,
			"#ra": attrRedeemedAt,
			"#rb": attrRedeemedBy,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":at":  &types.AttributeValueMemberS{Value: at.UTC().Format(time.RFC3339)},
			":dev": &types.AttributeValueMemberS{Value: device},
		},
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			if len(ccf.Item) == 0 {
				return nil, keygen.ErrKeyNotFound
			}
			return nil, keygen.ErrKeyRedeemed
		}
		return nil, fmt.Errorf("dynamodb update: %w", err)
	}

	return decodeRecord(out.Attributes)
}

// Get returns the record for hash.
func (s *KeyStore) Get(ctx context.Context, hash string) (*keygen.Record, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            hashKey(hash),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb get: %w", err)
	}
	if out.Item == nil {
		return nil, keygen.ErrKeyNotFound
	}
	return decodeRecord(out.Item)
}

func hashKey(hash string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrHash: &types.AttributeValueMemberS{Value: hash},
	}
}

func encodeRecord(r keygen.Record) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		attrHash:      &types.AttributeValueMemberS{Value: r.Hash},
		attrPrefix:    &types.AttributeValueMemberS{Value: r.Prefix},
		attrCreatedAt: &types.AttributeValueMemberN{Value: strconv.FormatInt(r.CreatedAt.Unix(), 10)},
	}
	if r.RedeemedAt != nil {
		item[attrRedeemedAt] = &types.AttributeValueMemberS{Value: r.RedeemedAt.UTC().Format(time.RFC3339)}
		item[attrRedeemedBy] = &types.AttributeValueMemberS{Value: r.RedeemedBy}
	}
	return item
}

func decodeRecord(item map[string]types.AttributeValue) (*keygen.Record, error) {
	var r keygen.Record

	hash, ok := item[attrHash].(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("invalid %s attribute", attrHash)
	}
	r.Hash = hash.Value

	if v, ok := item[attrPrefix].(*types.AttributeValueMemberS); ok {
		r.Prefix = v.Value
	}
	if v, ok := item[attrCreatedAt].(*types.AttributeValueMemberN); ok {
		secs, err := strconv.ParseInt(v.Value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", attrCreatedAt, err)
		}
		r.CreatedAt = time.Unix(secs, 0).UTC()
	}
	if v, ok := item[attrRedeemedAt].(*types.AttributeValueMemberS); ok {
		at, err := time.Parse(time.RFC3339, v.Value)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", attrRedeemedAt, err)
		}
		r.RedeemedAt = &at
	}
	if v, ok := item[attrRedeemedBy].(*types.AttributeValueMemberS); ok {
		r.RedeemedBy = v.Value
	}
	return &r, nil
}
