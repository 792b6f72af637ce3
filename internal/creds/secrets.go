package creds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/TheMichaelB/pwvault/internal/models"
)

// SecretsAPI is the subset of the Secrets Manager client used here.
type SecretsAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	PutSecretValue(ctx context.Context, in *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
	DescribeSecret(ctx context.Context, in *secretsmanager.DescribeSecretInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.DescribeSecretOutput, error)
}

// Secret is the JSON document kept in a secret.
type Secret struct {
	Session string `json:"session,omitempty"`
	KeySalt string `json:"key_salt,omitempty"`
}

// ParseSecret parses a secret payload.
func ParseSecret(data []byte) (*Secret, error) {
	var s Secret
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse secret: %w", err)
	}
	return &s, nil
}

// LoadSecretFile reads a secret document from a local file.
func LoadSecretFile(path string) (*Secret, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSecret(b)
}

// NewSecretsClient builds a Secrets Manager client from the default AWS
// configuration chain.
func NewSecretsClient(ctx context.Context) (*secretsmanager.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	return secretsmanager.NewFromConfig(cfg), nil
}

// LoadSecret reads and parses a secret by name or ARN.
func LoadSecret(ctx context.Context, client SecretsAPI, secretID string) (*Secret, error) {
	out, err := client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(secretID)})
	if err != nil {
		return nil, fmt.Errorf("get secret value: %w", err)
	}
	if out.SecretString == nil {
		return nil, fmt.Errorf("secret has no string payload")
	}
	return ParseSecret([]byte(*out.SecretString))
}

// SecretsManagerStore keeps the session credential in an AWS Secrets
// Manager secret. Other fields of the secret document are preserved.
type SecretsManagerStore struct {
	client   SecretsAPI
	secretID string
}

// NewSecretsManagerStore creates a store backed by secretID.
func NewSecretsManagerStore(client SecretsAPI, secretID string) *SecretsManagerStore {
	return &SecretsManagerStore{client: client, secretID: secretID}
}

func (s *SecretsManagerStore) Name() string { return "secretsmanager" }

func (s *SecretsManagerStore) Available(ctx context.Context) bool {
	if s.client == nil || s.secretID == "" {
		return false
	}
	_, err := s.client.DescribeSecret(ctx, &secretsmanager.DescribeSecretInput{SecretId: aws.String(s.secretID)})
	return err == nil
}

func (s *SecretsManagerStore) Get(ctx context.Context) (string, error) {
	doc, err := s.load(ctx)
	if err != nil {
		return "", err
	}
	if doc.Session == "" {
		return "", models.ErrNoSession
	}
	return doc.Session, nil
}

func (s *SecretsManagerStore) Set(ctx context.Context, token string) error {
	doc, err := s.load(ctx)
	if err != nil {
		return err
	}
	doc.Session = token
	return s.save(ctx, doc)
}

func (s *SecretsManagerStore) Clear(ctx context.Context) error {
	return s.Set(ctx, "")
}

// load returns the current secret document; a secret without a value yet
// reads as empty.
func (s *SecretsManagerStore) load(ctx context.Context) (*Secret, error) {
	doc, err := LoadSecret(ctx, s.client, s.secretID)
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return &Secret{}, nil
	}
	return doc, err
}

func (s *SecretsManagerStore) save(ctx context.Context, doc *Secret) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal secret: %w", err)
	}
	_, err = s.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(s.secretID),
		SecretString: aws.String(string(payload)),
	})
	if err != nil {
		return fmt.Errorf("put secret value: %w", err)
	}
	return nil
}
