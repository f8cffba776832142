package health

import (
	"context"
	"fmt"

	config "github.com/cornellpepper/CuWatch-server/src/production/MQT.Config"
	implementation "github.com/cornellpepper/CuWatch-server/src/production/MQT.Repository/Implementation"
	interfaces "github.com/cornellpepper/CuWatch-server/src/production/MQT.Repository/Interfaces"
)

// OpenStore connects the configured backend, bootstraps its schema and returns
// the repositories with a func releasing the connection.
func OpenStore(ctx context.Context, cfg *config.StorageConfig) (interfaces.Store, func(), error) {
	switch cfg.Driver {
	case "postgres":
		db, err := ConnectPostgresWithTimeout(&cfg.Postgres, cfg.ConnectTimeout)
		if err != nil {
			return interfaces.Store{}, nil, err
		}
		if err := CreateTables(ctx, db); err != nil {
			db.Close()
			return interfaces.Store{}, nil, err
		}
		return implementation.NewPostgresStore(db), func() { db.Close() }, nil

	case "mongo":
		client, err := ConnectMongoWithTimeout(&cfg.Mongo, cfg.ConnectTimeout)
		if err != nil {
			return interfaces.Store{}, nil, err
		}
		db := client.Database(cfg.Mongo.DBName)
		if err := EnsureIndexes(ctx, db); err != nil {
			_ = client.Disconnect(context.Background())
			return interfaces.Store{}, nil, err
		}
		return implementation.NewMongoStore(db), func() { _ = client.Disconnect(context.Background()) }, nil

	case "memory":
		return implementation.NewMemoryStore().Store(), func() {}, nil
	}
	return interfaces.Store{}, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
