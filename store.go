package keepsake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const imagesCollection = "images"

// Store is the category-partitioned image repository. Every call re-queries
// the backing collection; no cursor or cache state survives between calls.
type Store interface {
	// ListByCategory returns all records in cat, ascending by date then
	// order. Undated records precede every dated one.
	ListByCategory(ctx context.Context, cat Category) ([]Image, error)
	// GetLetter returns the first letter record in storage order, or nil
	// when none has been seeded yet. Absence is not an error.
	GetLetter(ctx context.Context) (*Image, error)
	// GetByID returns the record with the given id, or ErrNotFound.
	GetByID(ctx context.Context, id string) (*Image, error)
	// Create validates and inserts img, assigning its id and timestamps.
	Create(ctx context.Context, img *Image) error
	// BulkCreate inserts every element and reports the batch as one unit.
	BulkCreate(ctx context.Context, imgs []Image) (int, error)
	// Update applies the set fields of upd and returns the updated record,
	// or ErrNotFound.
	Update(ctx context.Context, id string, upd ImageUpdate) (*Image, error)
	// Delete removes the record and returns it so callers can clean up
	// backing files, or ErrNotFound.
	Delete(ctx context.Context, id string) (*Image, error)
}

// Warmer is implemented by stores fronting a remote connection that must be
// established before use. The router warms such stores ahead of repository
// routes.
type Warmer interface {
	Warm(ctx context.Context) error
}

// mongoStore implements Store over the shared connection handle. It asks the
// handle for a live database on every call, which is what keeps warm
// invocations cheap and cold ones correct.
type mongoStore struct {
	conn *Conn
}

// NewStore returns a Store backed by MongoDB through conn.
func NewStore(conn *Conn) Store {
	return &mongoStore{conn: conn}
}

// Warm establishes or revives the shared connection.
func (s *mongoStore) Warm(ctx context.Context) error {
	_, err := s.conn.Ensure(ctx)
	return err
}

func (s *mongoStore) collection(ctx context.Context) (*mongo.Collection, error) {
	db, err := s.conn.Ensure(ctx)
	if err != nil {
		return nil, err
	}
	return db.Collection(imagesCollection), nil
}

func (s *mongoStore) ListByCategory(ctx context.Context, cat Category) ([]Image, error) {
	if !cat.Valid() {
		return nil, validationErr("category", fmt.Sprintf("must be one of %v", Categories))
	}
	col, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}
	// BSON null sorts before every date value, so undated records come
	// first under an ascending date sort without any special casing.
	opts := options.Find().SetSort(bson.D{{Key: "date", Value: 1}, {Key: "order", Value: 1}})
	cur, err := col.Find(ctx, bson.M{"category": cat}, opts)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", cat, err)
	}
	defer cur.Close(ctx)

	images := []Image{}
	if err := cur.All(ctx, &images); err != nil {
		return nil, fmt.Errorf("decode %s: %w", cat, err)
	}
	return images, nil
}

func (s *mongoStore) GetLetter(ctx context.Context) (*Image, error) {
	col, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}
	var img Image
	err = col.FindOne(ctx, bson.M{"category": CategoryLetter}).Decode(&img)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get letter: %w", err)
	}
	return &img, nil
}

func (s *mongoStore) GetByID(ctx context.Context, id string) (*Image, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	col, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}
	var img Image
	err = col.FindOne(ctx, bson.M{"_id": oid}).Decode(&img)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	return &img, nil
}

func (s *mongoStore) Create(ctx context.Context, img *Image) error {
	if err := validateImage(img); err != nil {
		return err
	}
	col, err := s.collection(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	img.ID = primitive.NewObjectID()
	img.CreatedAt = now
	img.UpdatedAt = now
	if _, err := col.InsertOne(ctx, img); err != nil {
		return fmt.Errorf("insert image: %w", err)
	}
	return nil
}

// BulkCreate inserts ordered: a mid-batch failure stops the batch and the
// whole call reports the error. No partial-success reconciliation happens;
// callers reseed from scratch on failure.
func (s *mongoStore) BulkCreate(ctx context.Context, imgs []Image) (int, error) {
	// InsertMany rejects an empty input slice; an empty batch is a no-op.
	if len(imgs) == 0 {
		return 0, nil
	}
	for i := range imgs {
		if err := validateImage(&imgs[i]); err != nil {
			return 0, err
		}
	}
	col, err := s.collection(ctx)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	docs := make([]interface{}, len(imgs))
	for i := range imgs {
		imgs[i].ID = primitive.NewObjectID()
		imgs[i].CreatedAt = now
		imgs[i].UpdatedAt = now
		docs[i] = imgs[i]
	}
	res, err := col.InsertMany(ctx, docs, options.InsertMany().SetOrdered(true))
	if err != nil {
		return 0, fmt.Errorf("bulk insert: %w", err)
	}
	return len(res.InsertedIDs), nil
}

func (s *mongoStore) Update(ctx context.Context, id string, upd ImageUpdate) (*Image, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	set := bson.M{"updatedAt": time.Now().UTC()}
	if upd.Filename != nil {
		if *upd.Filename == "" {
			return nil, validationErr("filename", "must not be empty")
		}
		set["filename"] = *upd.Filename
	}
	if upd.Description != nil {
		set["description"] = *upd.Description
	}
	if upd.Date != nil {
		set["date"] = *upd.Date
	}
	if upd.Order != nil {
		set["order"] = *upd.Order
	}

	col, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var img Image
	err = col.FindOneAndUpdate(ctx, bson.M{"_id": oid}, bson.M{"$set": set}, opts).Decode(&img)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", id, err)
	}
	return &img, nil
}

func (s *mongoStore) Delete(ctx context.Context, id string) (*Image, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}
	col, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}
	var img Image
	err = col.FindOneAndDelete(ctx, bson.M{"_id": oid}).Decode(&img)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("delete %s: %w", id, err)
	}
	return &img, nil
}

// validateImage enforces the write-time record constraints: a known
// category, a filename, and exactly one image-location representation.
func validateImage(img *Image) error {
	if !img.Category.Valid() {
		return validationErr("category", fmt.Sprintf("must be one of %v", Categories))
	}
	if img.Filename == "" {
		return validationErr("filename", "must not be empty")
	}
	if img.ImageURL == "" && img.ImageData == "" {
		return validationErr("image location", "an image URL or inline payload is required")
	}
	if img.ImageURL != "" && img.ImageData != "" {
		return validationErr("image location", "only one of URL or inline payload may be set")
	}
	return nil
}
