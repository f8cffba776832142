package implementation

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtmodels "github.com/cornellpepper/CuWatch-server/src/production/MQT.Models"
	interfaces "github.com/cornellpepper/CuWatch-server/src/production/MQT.Repository/Interfaces"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	mongoWriteTimeout = 3 * time.Second
	mongoReadTimeout  = 10 * time.Second
)

// Mongo collection names
const (
	DevicesCollection = "devices"
	RunsCollection    = "runs"
	SamplesCollection = "samples"
)

type MongoDeviceRepository struct {
	coll *mongo.Collection
}

func NewMongoDeviceRepository(coll *mongo.Collection) *MongoDeviceRepository {
	return &MongoDeviceRepository{coll: coll}
}

func (r *MongoDeviceRepository) UpsertDevice(ctx context.Context, device mqtmodels.Device) error {
	ctx, cancel := context.WithTimeout(ctx, mongoWriteTimeout)
	defer cancel()

	set := bson.M{"online": device.Online}
	if device.LastSeen != nil {
		set["last_seen"] = device.LastSeen.UTC()
	}
	if device.DeviceNumber != nil {
		set["device_number"] = *device.DeviceNumber
	}
	if device.Meta.CurrentRun != nil {
		set["meta.current_run"] = device.Meta.CurrentRun
	}
	if device.Meta.Metrics != nil {
		set["meta.metrics"] = device.Meta.Metrics
	}

	_, err := r.coll.UpdateOne(ctx, bson.M{"_id": device.ID}, bson.M{"$set": set}, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert device %s: %w", device.ID, err)
	}
	return nil
}

func (r *MongoDeviceRepository) TouchDevice(ctx context.Context, deviceID string, seenAt time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, mongoWriteTimeout)
	defer cancel()

	update := bson.M{"$set": bson.M{"last_seen": seenAt.UTC(), "online": true}}
	if _, err := r.coll.UpdateOne(ctx, bson.M{"_id": deviceID}, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("touch device %s: %w", deviceID, err)
	}
	return nil
}

func (r *MongoDeviceRepository) GetDevice(ctx context.Context, deviceID string) (*mqtmodels.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoReadTimeout)
	defer cancel()

	var device mqtmodels.Device
	if err := r.coll.FindOne(ctx, bson.M{"_id": deviceID}).Decode(&device); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, interfaces.ErrNotFound
		}
		return nil, err
	}
	return &device, nil
}

func (r *MongoDeviceRepository) ListDevices(ctx context.Context) ([]mqtmodels.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoReadTimeout)
	defer cancel()

	cur, err := r.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var devices []mqtmodels.Device
	if err := cur.All(ctx, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

type MongoRunRepository struct {
	coll *mongo.Collection
}

func NewMongoRunRepository(coll *mongo.Collection) *MongoRunRepository {
	return &MongoRunRepository{coll: coll}
}

func (r *MongoRunRepository) UpsertRun(ctx context.Context, run mqtmodels.Run) error {
	ctx, cancel := context.WithTimeout(ctx, mongoWriteTimeout)
	defer cancel()

	set := bson.M{}
	if run.RunKey != nil {
		set["run_key"] = *run.RunKey
	}
	m := run.Meta
	for key, v := range map[string]any{
		"meta.baseline":            m.Baseline,
		"meta.threshold":           m.Threshold,
		"meta.reset_threshold":     m.ResetThreshold,
		"meta.is_leader":           m.IsLeader,
		"meta.run_end_ts":          m.RunEndTs,
		"meta.run_end_inferred_ts": m.RunEndInferredTs,
	} {
		if !isNilPtr(v) {
			set[key] = v
		}
	}

	update := bson.M{"$setOnInsert": bson.M{"device_id": run.DeviceID, "base_ts": run.BaseTs.UTC()}}
	if len(set) > 0 {
		update["$set"] = set
	}
	filter := bson.M{"device_id": run.DeviceID, "base_ts": run.BaseTs.UTC()}
	if _, err := r.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("upsert run %s: %w", run.DeviceID, err)
	}
	return nil
}

func isNilPtr(v any) bool {
	switch p := v.(type) {
	case *float64:
		return p == nil
	case *bool:
		return p == nil
	case *time.Time:
		return p == nil
	}
	return v == nil
}

func (r *MongoRunRepository) GetRun(ctx context.Context, deviceID string, baseTs time.Time) (*mqtmodels.Run, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoReadTimeout)
	defer cancel()

	var run mqtmodels.Run
	filter := bson.M{"device_id": deviceID, "base_ts": baseTs.UTC()}
	if err := r.coll.FindOne(ctx, filter).Decode(&run); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, interfaces.ErrNotFound
		}
		return nil, err
	}
	run.BaseTs = run.BaseTs.UTC()
	return &run, nil
}

func (r *MongoRunRepository) ListRuns(ctx context.Context, deviceID string) ([]mqtmodels.Run, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoReadTimeout)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "base_ts", Value: -1}})
	cur, err := r.coll.Find(ctx, bson.M{"device_id": deviceID}, opts)
	if err != nil {
		return nil, err
	}
	var runs []mqtmodels.Run
	if err := cur.All(ctx, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

type MongoSampleRepository struct {
	coll *mongo.Collection
}

func NewMongoSampleRepository(coll *mongo.Collection) *MongoSampleRepository {
	return &MongoSampleRepository{coll: coll}
}

func (r *MongoSampleRepository) InsertSample(ctx context.Context, s mqtmodels.Sample) error {
	ctx, cancel := context.WithTimeout(ctx, mongoWriteTimeout)
	defer cancel()

	s.Ts = s.Ts.UTC()
	if _, err := r.coll.InsertOne(ctx, s); err != nil {
		return fmt.Errorf("insert sample %s: %w", s.DeviceID, err)
	}
	return nil
}

func (r *MongoSampleRepository) ListSamples(ctx context.Context, params interfaces.SampleQueryParams) ([]mqtmodels.Sample, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoReadTimeout)
	defer cancel()

	filter := bson.M{"device_id": params.DeviceID}
	tsRange := bson.M{}
	if params.Start != nil {
		tsRange["$gte"] = params.Start.UTC()
	}
	if params.End != nil {
		tsRange["$lte"] = params.End.UTC()
	}
	if len(tsRange) > 0 {
		filter["ts"] = tsRange
	}

	dir := -1
	if params.Order == interfaces.Ascending {
		dir = 1
	}
	opts := options.Find().SetSort(bson.D{{Key: "ts", Value: dir}, {Key: "muon_count", Value: dir}})
	if params.Limit > 0 {
		opts.SetLimit(int64(params.Limit))
	}
	if params.Offset > 0 {
		opts.SetSkip(int64(params.Offset))
	}

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var samples []mqtmodels.Sample
	if err := cur.All(ctx, &samples); err != nil {
		return nil, err
	}
	for i := range samples {
		samples[i].Ts = samples[i].Ts.UTC()
	}
	return samples, nil
}
