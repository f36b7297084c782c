package keepsake

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Category partitions the gallery into its three fixed sections.
type Category string

const (
	CategoryPrimary Category = "primary-gallery"
	CategoryMoments Category = "moments-gallery"
	CategoryLetter  Category = "letter"
)

// Categories lists every valid category value.
var Categories = []Category{CategoryPrimary, CategoryMoments, CategoryLetter}

// Valid reports whether c is one of the three known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryPrimary, CategoryMoments, CategoryLetter:
		return true
	}
	return false
}

// Image is the sole persisted entity: one gallery record. Exactly one of
// ImageURL (disk-backed deployments) or ImageData (inline deployments) is
// populated, decided by the configured storage mode rather than per record.
type Image struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Filename    string             `bson:"filename" json:"filename"`
	Description string             `bson:"description" json:"description"`
	Date        *time.Time         `bson:"date" json:"date"`
	ImageURL    string             `bson:"imageUrl,omitempty" json:"imageUrl,omitempty"`
	ImageData   string             `bson:"imageData,omitempty" json:"imageData,omitempty"`
	Category    Category           `bson:"category" json:"category"`
	Order       int                `bson:"order" json:"order"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// Location returns whichever image-location representation is populated.
func (img *Image) Location() string {
	if img.ImageURL != "" {
		return img.ImageURL
	}
	return img.ImageData
}

// ImageUpdate carries the mutable fields of a partial update. Nil pointers
// mean "leave unchanged"; only filename, description, date and order can be
// rewritten after creation.
type ImageUpdate struct {
	Filename    *string    `json:"filename"`
	Description *string    `json:"description"`
	Date        *time.Time `json:"date"`
	Order       *int       `json:"order"`
}

// Empty reports whether the update touches no fields at all.
func (u ImageUpdate) Empty() bool {
	return u.Filename == nil && u.Description == nil && u.Date == nil && u.Order == nil
}
