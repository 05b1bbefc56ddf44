package mongo

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/field-4d/cloud-sub000/model"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Collection naming in the cloud store: <Experiment>_DATA holds flushed
// records, <Experiment>_SENSORS holds the sensor assignment documents.
const (
	dataSuffix    = "_DATA"
	sensorsSuffix = "_SENSORS"
)

type MongoConfig struct {
	URI        string `yaml:"URI"`
	Database   string `yaml:"Database"`
	TimeoutSec int    `yaml:"TimeoutSec"`
}

// Store implements model.Persistence against MongoDB.
type Store struct {
	client  *mongo.Client
	db      *mongo.Database
	timeout time.Duration
	logger  zerolog.Logger
}

func NewStore(ctx context.Context, conf MongoConfig, logl int) (*Store, error) {
	timeout := time.Duration(conf.TimeoutSec) * time.Second
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(conf.URI))
	if err != nil {
		return nil, errors.Join(err, errors.New("mongo connect"))
	}
	if err = client.Ping(connectCtx, readpref.Primary()); err != nil {
		return nil, errors.Join(err, errors.New("mongo ping"))
	}

	return &Store{
		client:  client,
		db:      client.Database(conf.Database),
		timeout: timeout,
		logger:  zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).Level(zerolog.InfoLevel+zerolog.Level(logl)).With().Timestamp().Int("pid", os.Getpid()).Logger(),
	}, nil
}

func (s *Store) WriteRecord(ctx context.Context, experiment string, rec model.Record) error {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.db.Collection(experiment+dataSuffix).InsertOne(opCtx, rec)
	if err != nil {
		return errors.Join(err, errors.New("mongo write record"))
	}
	return nil
}

func (s *Store) ListActiveSensors(ctx context.Context) ([]model.ActiveSensor, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	names, err := s.db.ListCollectionNames(opCtx, bson.D{})
	if err != nil {
		return nil, errors.Join(err, errors.New("mongo list collections"))
	}

	var out []model.ActiveSensor
	for _, name := range names {
		if !strings.HasSuffix(name, sensorsSuffix) {
			continue
		}
		experiment := strings.TrimSuffix(name, sensorsSuffix)

		cur, err := s.db.Collection(name).Find(opCtx, bson.M{"isActive": true})
		if err != nil {
			return nil, errors.Join(err, errors.New("mongo find active sensors"))
		}
		var sensors []model.ActiveSensor
		if err = cur.All(opCtx, &sensors); err != nil {
			return nil, errors.Join(err, errors.New("mongo decode active sensors"))
		}
		for i := range sensors {
			sensors[i].Experiment = experiment
		}
		out = append(out, sensors...)
	}
	return out, nil
}

// LatestTimestampFor returns the timestamp of the newest record for a
// sensor, taking the newest document by _id as the upload path always
// appends.
func (s *Store) LatestTimestampFor(ctx context.Context, experiment, lla string) (time.Time, bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var doc struct {
		TimeStamp time.Time `bson:"TimeStamp"`
	}
	err := s.db.Collection(experiment+dataSuffix).
		FindOne(opCtx, bson.M{"MetaData.LLA": lla}, options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}})).
		Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Join(err, errors.New("mongo latest timestamp"))
	}
	return doc.TimeStamp, true, nil
}

func (s *Store) Close(ctx context.Context) {
	if err := s.client.Disconnect(ctx); err != nil {
		s.logger.Error().Err(err).Msg("mongo disconnect")
	}
}
