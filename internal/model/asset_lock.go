package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AssetLock is a standalone lock document for an asset as a whole. The asset document itself
// is left untouched while it is locked.
type AssetLock struct {
	ID         primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	TargetID   string             `json:"targetId" bson:"targetId"`     // "<collection>/<recordId>"
	Owner      string             `json:"owner" bson:"owner"`           // User identity
	AcquiredAt time.Time          `json:"acquiredAt" bson:"acquiredAt"` // Lock acquisition timestamp
	Expires    time.Time          `json:"expires" bson:"expires"`       // Lock expiration (TTL)
}
