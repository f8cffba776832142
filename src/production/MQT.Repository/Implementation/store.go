package implementation

import (
	"context"
	"database/sql"

	interfaces "github.com/cornellpepper/CuWatch-server/src/production/MQT.Repository/Interfaces"
	"go.mongodb.org/mongo-driver/mongo"
)

// NewPostgresStore bundles the Postgres repositories over db.
func NewPostgresStore(db *sql.DB) interfaces.Store {
	return interfaces.Store{
		Devices: NewPostgresDeviceRepository(db),
		Runs:    NewPostgresRunRepository(db),
		Samples: NewPostgresSampleRepository(db),
		Ping:    db.PingContext,
	}
}

// NewMongoStore bundles the Mongo repositories over the collections of db.
func NewMongoStore(db *mongo.Database) interfaces.Store {
	return interfaces.Store{
		Devices: NewMongoDeviceRepository(db.Collection(DevicesCollection)),
		Runs:    NewMongoRunRepository(db.Collection(RunsCollection)),
		Samples: NewMongoSampleRepository(db.Collection(SamplesCollection)),
		Ping: func(ctx context.Context) error {
			return db.Client().Ping(ctx, nil)
		},
	}
}
