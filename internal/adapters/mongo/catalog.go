package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/fleet-rental-holds/internal/domain"
	"github.com/robertarktes/fleet-rental-holds/internal/observability"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("vehicles"),
		logger: logger,
	}
}

// VehicleDoc stores the daily rate as a string so that no precision is lost.
type VehicleDoc struct {
	ID         string    `bson:"_id"`
	Name       string    `bson:"name"`
	Type       string    `bson:"type"`
	DailyRate  string    `bson:"daily_rate"`
	TotalUnits int       `bson:"total_units"`
	CreatedAt  time.Time `bson:"created_at"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

func (d VehicleDoc) toDomain() (domain.Vehicle, error) {
	rate, err := decimal.NewFromString(d.DailyRate)
	if err != nil {
		return domain.Vehicle{}, errors.Wrapf(err, "vehicle %s daily rate", d.ID)
	}
	return domain.Vehicle{
		ID:         d.ID,
		Name:       d.Name,
		Type:       d.Type,
		DailyRate:  rate,
		TotalUnits: d.TotalUnits,
	}, nil
}

func (c *CatalogRepository) GetVehicle(ctx context.Context, vehicleID string) (domain.Vehicle, error) {
	var doc VehicleDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": vehicleID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Vehicle{}, errors.Wrapf(domain.ErrVehicleNotFound, "vehicle %s", vehicleID)
	}
	if err != nil {
		c.logger.WithError(err).Error("failed to get vehicle")
		return domain.Vehicle{}, err
	}
	return doc.toDomain()
}

func (c *CatalogRepository) ListVehicles(ctx context.Context) ([]domain.Vehicle, error) {
	cur, err := c.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		c.logger.WithError(err).Error("failed to list vehicles")
		return nil, err
	}
	var docs []VehicleDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]domain.Vehicle, 0, len(docs))
	for _, d := range docs {
		v, err := d.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// UpsertVehicle creates or replaces a catalog entry.
func (c *CatalogRepository) UpsertVehicle(ctx context.Context, v domain.Vehicle) error {
	if v.ID == "" || v.TotalUnits < 1 || v.DailyRate.IsNegative() {
		return errors.Wrapf(domain.ErrInvalidInput, "vehicle %q", v.ID)
	}
	now := time.Now().UTC()
	_, err := c.coll.UpdateOne(ctx,
		bson.M{"_id": v.ID},
		bson.M{
			"$set": bson.M{
				"name":        v.Name,
				"type":        v.Type,
				"daily_rate":  v.DailyRate.String(),
				"total_units": v.TotalUnits,
				"updated_at":  now,
			},
			"$setOnInsert": bson.M{"created_at": now},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		c.logger.WithError(err).Error("failed to upsert vehicle")
		return err
	}
	return nil
}
