package mongo

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/nicedentist/auth-service/internal/core/domain"
)

const provisioningCollection = "provisioning_events"

// ProvisioningLog persists provisioning outcomes to the provisioning_events
// audit collection.
type ProvisioningLog struct {
	coll *mongo.Collection
}

func NewProvisioningLog(db *mongo.Database) *ProvisioningLog {
	return &ProvisioningLog{coll: db.Collection(provisioningCollection)}
}

func (l *ProvisioningLog) Record(ctx context.Context, rec domain.ProvisioningRecord) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	doc := bson.M{
		"event_id":     rec.EventID,
		"event_type":   string(rec.EventType),
		"email":        rec.Email,
		"user_id":      rec.UserID,
		"created":      rec.Created,
		"processed_at": rec.ProcessedAt.UTC(),
	}

	_, err := l.coll.InsertOne(ctx, doc)
	return err
}
