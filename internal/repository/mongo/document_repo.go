package mongo

import (
	"context"
	"errors"
	"regexp"
	"time"

	"acervo/preservation-api/internal/domain"
	"acervo/preservation-api/internal/repository"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const documentCollectionName = "documents"

var terminalStatuses = bson.A{domain.StatusPreserved, domain.StatusFailed}

// mongoDocumentRepository implements repository.DocumentRepository
type mongoDocumentRepository struct {
	collection *mongo.Collection
}

// NewMongoDocumentRepository creates a new Document repository backed by MongoDB.
func NewMongoDocumentRepository(db *mongo.Database) repository.DocumentRepository {
	return &mongoDocumentRepository{
		collection: db.Collection(documentCollectionName),
	}
}

// Create inserts a new document record. Ids are UUID strings.
func (r *mongoDocumentRepository) Create(ctx context.Context, doc *domain.Document) (string, error) {
	if doc.UserID == "" || doc.FilePath == "" {
		return "", errors.New("document requires userId and filePath")
	}

	doc.ID = uuid.NewString()
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = domain.StatusStarted
	}
	if doc.UploadDate.IsZero() {
		doc.UploadDate = now
	}

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return "", err
	}
	return doc.ID, nil
}

// GetByID retrieves a document owned by userID.
func (r *mongoDocumentRepository) GetByID(ctx context.Context, id, userID string) (*domain.Document, error) {
	var doc domain.Document
	filter := bson.M{"_id": id, "userId": userID}

	err := r.collection.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// GetAllByUser lists every document of the owner, newest upload first.
func (r *mongoDocumentRepository) GetAllByUser(ctx context.Context, userID string) ([]domain.Document, error) {
	return r.find(ctx, bson.M{"userId": userID})
}

// Find runs a filter query, newest upload first.
func (r *mongoDocumentRepository) Find(ctx context.Context, filter domain.DocumentFilter) ([]domain.Document, error) {
	return r.find(ctx, buildDocumentFilter(filter))
}

// FindMonitorable returns INICIADA documents that already have a transfer id.
func (r *mongoDocumentRepository) FindMonitorable(ctx context.Context) ([]domain.Document, error) {
	return r.find(ctx, bson.M{
		"status":          domain.StatusStarted,
		"archivematicaId": bson.M{"$ne": nil},
	})
}

// DeleteStalePending removes INICIADA documents created before the cutoff
// whose transfer never started.
func (r *mongoDocumentRepository) DeleteStalePending(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, stalePendingFilter(before))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// stalePendingFilter matches a null or missing archivematicaId.
func stalePendingFilter(before time.Time) bson.M {
	return bson.M{
		"status":          domain.StatusStarted,
		"archivematicaId": nil,
		"createdAt":       bson.M{"$lt": before.UTC()},
	}
}

func (r *mongoDocumentRepository) find(ctx context.Context, filter bson.M) ([]domain.Document, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "uploadDate", Value: -1}})

	cursor, err := r.collection.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	documents := []domain.Document{}
	if err = cursor.All(ctx, &documents); err != nil {
		return nil, err
	}
	return documents, nil
}

// Update applies the descriptive fields of patch and returns the new record.
func (r *mongoDocumentRepository) Update(ctx context.Context, id, userID string, patch domain.DocumentPatch) (*domain.Document, error) {
	if patch.IsEmpty() {
		return r.GetByID(ctx, id, userID)
	}

	set := bson.M{"updatedAt": time.Now().UTC()}
	if patch.Name != nil {
		set["name"] = *patch.Name
	}
	if patch.Description != nil {
		set["description"] = *patch.Description
	}
	if patch.Metadata != nil {
		set["metadados"] = *patch.Metadata
	}
	if patch.UploadDate != nil {
		set["uploadDate"] = patch.UploadDate.UTC()
	}
	if patch.PreservationDate != nil {
		set["preservationDate"] = patch.PreservationDate.UTC()
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc domain.Document
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": id, "userId": userID}, bson.M{"$set": set}, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// Delete removes a document owned by userID.
func (r *mongoDocumentRepository) Delete(ctx context.Context, id, userID string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id, "userId": userID})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SetTransferID links the document to its remote transfer. The filter only
// matches while no id is recorded, so the link is written at most once.
func (r *mongoDocumentRepository) SetTransferID(ctx context.Context, id, transferID string) error {
	filter := bson.M{"_id": id, "archivematicaId": nil}
	update := bson.M{"$set": bson.M{"archivematicaId": transferID, "updatedAt": time.Now().UTC()}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return r.missOrConflict(ctx, id, repository.ErrAlreadyLinked)
	}
	return nil
}

// UpdateStatus is a conditional write: a document whose status is already
// terminal does not match, which keeps status monotonic under concurrent writers.
func (r *mongoDocumentRepository) UpdateStatus(ctx context.Context, id string, status domain.DocumentStatus) error {
	filter := bson.M{"_id": id, "status": bson.M{"$nin": terminalStatuses}}
	update := bson.M{"$set": bson.M{"status": status, "updatedAt": time.Now().UTC()}}

	result, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return r.missOrConflict(ctx, id, repository.ErrTerminalStatus)
	}
	return nil
}

// missOrConflict tells a missing document apart from one that exists but did
// not match a conditional filter.
func (r *mongoDocumentRepository) missOrConflict(ctx context.Context, id string, conflict error) error {
	n, err := r.collection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return conflict
}

// buildDocumentFilter translates a DocumentFilter into a query.
func buildDocumentFilter(f domain.DocumentFilter) bson.M {
	filter := bson.M{"userId": f.UserID}

	if f.Name != "" {
		filter["name"] = containsInsensitive(f.Name)
	}
	if f.Category != "" {
		filter["metadados.category"] = f.Category
	}
	if f.Keyword != "" {
		filter["metadados.keyword"] = containsInsensitive(f.Keyword)
	}
	if f.Description != "" {
		filter["description"] = containsInsensitive(f.Description)
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}

	dateRange := bson.M{}
	if f.StartDate != nil {
		dateRange["$gte"] = f.StartDate.UTC()
	}
	if f.EndDate != nil {
		dateRange["$lte"] = f.EndDate.UTC()
	}
	if len(dateRange) > 0 {
		filter["uploadDate"] = dateRange
	}

	return filter
}

func containsInsensitive(s string) primitive.Regex {
	return primitive.Regex{Pattern: regexp.QuoteMeta(s), Options: "i"}
}

// EnsureDocumentIndexes creates necessary indexes for the documents collection.
func EnsureDocumentIndexes(ctx context.Context, collection *mongo.Collection) error {
	indexes := []mongo.IndexModel{
		{
			// Owner listings sorted by upload date
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "uploadDate", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "userId", Value: 1}, {Key: "status", Value: 1}},
		},
		{
			// Startup scan for documents still being monitored
			Keys: bson.D{{Key: "status", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "archivematicaId", Value: 1}},
			Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{"archivematicaId": bson.M{"$type": "string"}}),
		},
	}

	_, err := collection.Indexes().CreateMany(ctx, indexes)
	return err
}
