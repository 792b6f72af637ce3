// Package handler is the licence key provisioning Lambda.
package handler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"

	"github.com/TheMichaelB/pwvault/internal/config"
	"github.com/TheMichaelB/pwvault/internal/creds"
	"github.com/TheMichaelB/pwvault/internal/events"
	"github.com/TheMichaelB/pwvault/internal/lambda/adapters"
	"github.com/TheMichaelB/pwvault/internal/lambda/progress"
	"github.com/TheMichaelB/pwvault/internal/services/keygen"
)

// Event represents the Lambda input event
type Event struct {
	Action string `json:"action"`           // "provision" or "redeem"
	Count  int    `json:"count,omitempty"`  // Keys to provision
	Code   string `json:"code,omitempty"`   // Key to redeem
	Device string `json:"device,omitempty"` // Redeeming device id
}

// Response represents the Lambda response
type Response struct {
	Success    bool              `json:"success"`
	Message    string            `json:"message"`
	Keys       []string          `json:"keys,omitempty"`
	RedeemedAt *time.Time        `json:"redeemed_at,omitempty"`
	Errors     []string          `json:"errors,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Keys is the part of keygen.Service the handler needs.
type Keys interface {
	Provision(ctx context.Context, n int) ([]keygen.Key, error)
	Redeem(ctx context.Context, code, device string) (*keygen.Record, error)
}

// Runs records provisioning runs.
type Runs interface {
	SaveRun(ctx context.Context, run progress.Run) error
}

type Handler struct {
	keys     Keys
	runs     Runs
	prefix   string
	maxCount int
	logger   *events.Logger
}

// NewHandler wires the handler from the Lambda environment.
func NewHandler(ctx context.Context) (*Handler, error) {
	cfg := config.LoadLambdaConfig()

	// Create logger that writes to CloudWatch
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logger, err := events.NewLogger(&config.LogConfig{
		Level:  logLevel,
		Format: "json",
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	salt, err := resolveSalt(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	gen, err := keygen.NewGenerator(cfg.KeyPrefix, salt)
	if err != nil {
		return nil, err
	}

	if cfg.KeyTable == "" {
		return nil, fmt.Errorf("KEY_TABLE_NAME must be set")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	store := adapters.NewKeyStoreWithClient(dynamoClient, cfg.KeyTable, logger)

	logger.WithFields(map[string]interface{}{
		"table":  cfg.KeyTable,
		"prefix": gen.Prefix(),
	}).Info("Key provisioning handler ready")

	h := New(keygen.NewService(gen, store, logger), cfg.MaxKeysPerRun, logger)
	h.WithRuns(progress.NewTracker(dynamoClient, cfg.KeyTable), gen.Prefix())
	return h, nil
}

// New creates a handler on an existing key service.
func New(keys Keys, maxCount int, logger *events.Logger) *Handler {
	return &Handler{
		keys:     keys,
		maxCount: maxCount,
		logger:   logger.WithField("component", "lambda_handler"),
	}
}

// WithRuns records every provisioning run through runs.
func (h *Handler) WithRuns(runs Runs, prefix string) *Handler {
	h.runs = runs
	h.prefix = prefix
	return h
}

// resolveSalt prefers KEY_SALT and falls back to the Secrets Manager secret.
func resolveSalt(ctx context.Context, cfg *config.LambdaConfig, logger *events.Logger) (string, error) {
	if cfg.KeySalt != "" {
		return cfg.KeySalt, nil
	}
	if cfg.SaltSecretID == "" {
		return "", fmt.Errorf("KEY_SALT or KEY_SALT_SECRET_ID must be set")
	}

	logger.WithField("secret_id", cfg.SaltSecretID).Info("Loading key salt from Secrets Manager")
	client, err := creds.NewSecretsClient(ctx)
	if err != nil {
		return "", err
	}
	secret, err := creds.LoadSecret(ctx, client, cfg.SaltSecretID)
	if err != nil {
		return "", fmt.Errorf("load key salt: %w", err)
	}
	if secret.KeySalt == "" {
		return "", fmt.Errorf("secret %s has no key_salt", cfg.SaltSecretID)
	}
	return secret.KeySalt, nil
}

func (h *Handler) ProcessEvent(ctx context.Context, event Event) (Response, error) {
	start := time.Now()

	h.logger.WithFields(map[string]interface{}{
		"action": event.Action,
		"count":  event.Count,
	}).Info("Processing Lambda event")

	var resp Response
	switch event.Action {
	case "provision":
		resp = h.handleProvision(ctx, event)
	case "redeem":
		resp = h.handleRedeem(ctx, event)
	default:
		return Response{
			Success: false,
			Message: fmt.Sprintf("Unknown action: %s", event.Action),
		}, nil
	}

	if resp.Metadata == nil {
		resp.Metadata = map[string]string{}
	}
	resp.Metadata["execution_time"] = time.Since(start).String()
	return resp, nil
}

func (h *Handler) handleProvision(ctx context.Context, event Event) Response {
	if event.Count <= 0 || (h.maxCount > 0 && event.Count > h.maxCount) {
		return Response{
			Success: false,
			Message: fmt.Sprintf("count must be between 1 and %d", h.maxCount),
		}
	}

	run := progress.Run{
		ID:        uuid.NewString(),
		Prefix:    h.prefix,
		Requested: event.Count,
		Status:    progress.StatusRunning,
		StartTime: time.Now().UTC(),
	}
	h.saveRun(ctx, run)
	meta := map[string]string{"run_id": run.ID}

	keys, err := h.keys.Provision(ctx, event.Count)
	if err != nil {
		h.logger.WithError(err).Error("Provisioning failed")
		run.Status = progress.StatusFailed
		run.Error = err.Error()
		h.saveRun(ctx, run)
		return Response{
			Success:  false,
			Message:  "Failed to provision keys",
			Errors:   []string{err.Error()},
			Metadata: meta,
		}
	}

	run.Status = progress.StatusComplete
	run.Stored = len(keys)
	h.saveRun(ctx, run)

	codes := make([]string, len(keys))
	for i, k := range keys {
		codes[i] = k.Code
	}
	return Response{
		Success:  true,
		Message:  fmt.Sprintf("Provisioned %d keys", len(codes)),
		Keys:     codes,
		Metadata: meta,
	}
}

// saveRun records run. Failures are logged only.
func (h *Handler) saveRun(ctx context.Context, run progress.Run) {
	if h.runs == nil {
		return
	}
	if err := h.runs.SaveRun(ctx, run); err != nil {
		h.logger.WithError(err).WithField("run_id", run.ID).Warn("Failed to record provisioning run")
	}
}

func (h *Handler) handleRedeem(ctx context.Context, event Event) Response {
	if event.Code == "" || event.Device == "" {
		return Response{
			Success: false,
			Message: "code and device are required",
		}
	}

	rec, err := h.keys.Redeem(ctx, event.Code, event.Device)
	switch {
	case errors.Is(err, keygen.ErrKeyNotFound):
		return Response{Success: false, Message: "Unknown licence key"}
	case errors.Is(err, keygen.ErrKeyRedeemed):
		return Response{Success: false, Message: "Licence key already redeemed"}
	case err != nil:
		h.logger.WithError(err).Error("Redeem failed")
		return Response{
			Success: false,
			Message: "Failed to redeem key",
			Errors:  []string{err.Error()},
		}
	}

	return Response{
		Success:    true,
		Message:    "Licence key redeemed",
		RedeemedAt: rec.RedeemedAt,
	}
}
