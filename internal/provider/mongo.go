package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/TheMichaelB/pwvault/internal/events"
	"github.com/TheMichaelB/pwvault/internal/models"
)

// Mongo settings keys.
const (
	SettingURI        = "uri"
	SettingDatabase   = "database"
	SettingCollection = "collection"
)

const defaultMongoCollection = "vault_snapshots"

// MongoProvider keeps each snapshot as one document keyed by its name.
type MongoProvider struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *events.Logger
}

type snapshotDoc struct {
	Name      string    `bson:"_id"`
	Data      []byte    `bson:"data,omitempty"`
	Size      int64     `bson:"size"`
	CreatedAt time.Time `bson:"createdAt"`
}

// NewMongo connects to MongoDB. The connection is lazy; TestConnection
// pings the primary.
func NewMongo(ctx context.Context, settings models.ProviderSettings, logger *events.Logger) (*MongoProvider, error) {
	uri := settings[SettingURI]
	db := settings[SettingDatabase]
	if uri == "" || db == "" {
		return nil, fmt.Errorf("%w: mongo needs uri and database", models.ErrNotConfigured)
	}
	collName := settings[SettingCollection]
	if collName == "" {
		collName = defaultMongoCollection
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	return &MongoProvider{
		client: client,
		coll:   client.Database(db).Collection(collName),
		logger: logger.WithFields(map[string]interface{}{
			"component":  "mongo_provider",
			"collection": collName,
		}),
	}, nil
}

func (p *MongoProvider) ID() string { return string(KindMongo) }

func (p *MongoProvider) IsConfigured() bool { return p.coll != nil }

func (p *MongoProvider) TestConnection(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.client.Ping(pctx, readpref.Primary()); err != nil {
		return providerError(p.ID(), "test", err)
	}
	return nil
}

func (p *MongoProvider) Upload(ctx context.Context, data []byte, meta UploadMeta) (*UploadResult, error) {
	name, created := NewSnapshotName()

	_, err := p.coll.InsertOne(ctx, snapshotDoc{
		Name:      name,
		Data:      data,
		Size:      int64(len(data)),
		CreatedAt: created,
	})
	if err != nil {
		return nil, providerError(p.ID(), "upload", err)
	}

	p.logger.WithFields(map[string]interface{}{
		"snapshot": name,
		"size":     len(data),
	}).Debug("Wrote snapshot to MongoDB")

	applyRetention(ctx, p.logger, p.ListVersions, meta.RetainCount, func(ctx context.Context, v models.ProviderVersion) error {
		_, err := p.coll.DeleteOne(ctx, bson.M{"_id": v.Name})
		return err
	})

	return &UploadResult{VersionID: name, Name: name, CreatedAt: created}, nil
}

func (p *MongoProvider) Download(ctx context.Context, opts DownloadOptions) ([]byte, error) {
	filter := bson.M{}
	findOpts := options.FindOne()
	if opts.VersionID != "" {
		filter = bson.M{"_id": opts.VersionID}
	} else {
		findOpts.SetSort(bson.D{{Key: "_id", Value: -1}})
	}

	var doc snapshotDoc
	err := p.coll.FindOne(ctx, filter, findOpts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, &models.NotFoundError{Provider: p.ID(), VersionID: opts.VersionID}
	}
	if err != nil {
		return nil, providerError(p.ID(), "download", err)
	}
	return doc.Data, nil
}

func (p *MongoProvider) ListVersions(ctx context.Context) ([]models.ProviderVersion, error) {
	cur, err := p.coll.Find(ctx, bson.M{},
		options.Find().
			SetSort(bson.D{{Key: "_id", Value: -1}}).
			SetProjection(bson.M{"data": 0}),
	)
	if err != nil {
		return nil, providerError(p.ID(), "list", err)
	}
	defer cur.Close(ctx)

	var versions []models.ProviderVersion
	for cur.Next(ctx) {
		var doc snapshotDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, providerError(p.ID(), "list", err)
		}
		created, ok := ParseSnapshotName(doc.Name)
		if !ok {
			continue
		}
		versions = append(versions, models.ProviderVersion{
			ID:        doc.Name,
			Name:      doc.Name,
			CreatedAt: created,
			Size:      doc.Size,
		})
	}
	if err := cur.Err(); err != nil {
		return nil, providerError(p.ID(), "list", err)
	}

	SortNewestFirst(versions)
	return versions, nil
}

func (p *MongoProvider) RestoreVersion(ctx context.Context, versionID string) ([]byte, error) {
	if versionID == "" {
		return nil, &models.NotFoundError{Provider: p.ID()}
	}
	return p.Download(ctx, DownloadOptions{VersionID: versionID})
}

// Close disconnects the client.
func (p *MongoProvider) Close(ctx context.Context) error {
	return p.client.Disconnect(ctx)
}
