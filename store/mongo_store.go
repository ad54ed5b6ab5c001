package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/BaSui01/expflow/types"
)

// MongoStore is the document-backed AggregateStore. Counters live in one
// document per (experiment, variant) and move only through $inc, the
// document-database native form of the atomic increment. Assignment
// idempotency rests on a unique index over (experiment, participant_id):
// a losing concurrent insert gets a duplicate-key error and reads back the
// winner's row.
//
// Facts and counters are separate writes here (no multi-document
// transaction is assumed); counter drift after a crash between the two is
// repaired by RebuildCounters.
type MongoStore struct {
	assignments *mongo.Collection
	conversions *mongo.Collection
	counters    *mongo.Collection
	logger      *zap.Logger
}

type mongoAssignment struct {
	ID            string            `bson:"_id"`
	Experiment    string            `bson:"experiment"`
	ParticipantID string            `bson:"participant_id"`
	Variant       string            `bson:"variant"`
	Context       map[string]string `bson:"context,omitempty"`
	CreatedAt     time.Time         `bson:"created_at"`
}

type mongoConversion struct {
	ID            string    `bson:"_id"`
	Experiment    string    `bson:"experiment"`
	ParticipantID string    `bson:"participant_id"`
	Goal          string    `bson:"goal"`
	Variant       string    `bson:"variant"`
	CreatedAt     time.Time `bson:"created_at"`
}

type mongoCounter struct {
	Experiment  string           `bson:"experiment"`
	Variant     string           `bson:"variant"`
	Assignments int64            `bson:"assignments"`
	Goals       map[string]int64 `bson:"goals,omitempty"`
}

// NewMongoStore creates a document-backed aggregate store over the given
// database and ensures its indexes.
func NewMongoStore(ctx context.Context, db *mongo.Database, logger *zap.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MongoStore{
		assignments: db.Collection("ef_assignments"),
		conversions: db.Collection("ef_conversions"),
		counters:    db.Collection("ef_variant_counters"),
		logger:      logger.With(zap.String("component", "aggregate_store_mongo")),
	}

	_, err := s.assignments.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "experiment", Value: 1}, {Key: "participant_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, types.NewStorageError("create assignment index", err)
	}
	_, err = s.counters.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "experiment", Value: 1}, {Key: "variant", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, types.NewStorageError("create counter index", err)
	}
	return s, nil
}

// RecordAssignment implements AggregateStore.
func (s *MongoStore) RecordAssignment(ctx context.Context, experiment, variant, participantID string, attrs map[string]string) (*types.Assignment, bool, error) {
	doc := mongoAssignment{
		ID:            uuid.New().String(),
		Experiment:    experiment,
		ParticipantID: participantID,
		Variant:       variant,
		Context:       attrs,
		CreatedAt:     time.Now().UTC(),
	}

	_, err := s.assignments.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		var existing mongoAssignment
		findErr := s.assignments.FindOne(ctx, bson.M{
			"experiment":     experiment,
			"participant_id": participantID,
		}).Decode(&existing)
		if findErr != nil {
			return nil, false, types.NewStorageError("load existing assignment", findErr)
		}
		return mongoToAssignment(&existing), false, nil
	}
	if err != nil {
		return nil, false, types.NewStorageError("record assignment", err)
	}

	_, err = s.counters.UpdateOne(ctx,
		bson.M{"experiment": experiment, "variant": variant},
		bson.M{"$inc": bson.M{"assignments": 1}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		s.logger.Error("assignment counter increment failed",
			zap.String("experiment", experiment),
			zap.String("variant", variant),
			zap.Error(err))
		return nil, false, types.NewStorageError("increment assignment counter", err)
	}

	return mongoToAssignment(&doc), true, nil
}

// GetAssignment implements AggregateStore.
func (s *MongoStore) GetAssignment(ctx context.Context, experiment, participantID string) (*types.Assignment, error) {
	var doc mongoAssignment
	err := s.assignments.FindOne(ctx, bson.M{
		"experiment":     experiment,
		"participant_id": participantID,
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, types.ErrNoAssignment
	}
	if err != nil {
		return nil, types.NewStorageError("get assignment", err)
	}
	return mongoToAssignment(&doc), nil
}

// RecordConversion implements AggregateStore.
func (s *MongoStore) RecordConversion(ctx context.Context, experiment, participantID, goal string) (*types.Conversion, error) {
	a, err := s.GetAssignment(ctx, experiment, participantID)
	if err != nil {
		return nil, err
	}

	doc := mongoConversion{
		ID:            uuid.New().String(),
		Experiment:    experiment,
		ParticipantID: participantID,
		Goal:          goal,
		Variant:       a.Variant,
		CreatedAt:     time.Now().UTC(),
	}
	if _, err := s.conversions.InsertOne(ctx, doc); err != nil {
		return nil, types.NewStorageError("record conversion", err)
	}

	_, err = s.counters.UpdateOne(ctx,
		bson.M{"experiment": experiment, "variant": a.Variant},
		bson.M{"$inc": bson.M{"goals." + goal: 1}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return nil, types.NewStorageError("increment conversion counter", err)
	}

	return &types.Conversion{
		ID:            doc.ID,
		Experiment:    doc.Experiment,
		ParticipantID: doc.ParticipantID,
		Goal:          doc.Goal,
		Variant:       doc.Variant,
		CreatedAt:     doc.CreatedAt,
	}, nil
}

// ReadCounts implements AggregateStore.
func (s *MongoStore) ReadCounts(ctx context.Context, experiment string) (Counts, error) {
	cursor, err := s.counters.Find(ctx, bson.M{"experiment": experiment})
	if err != nil {
		return nil, types.NewStorageError("read counts", err)
	}
	defer cursor.Close(ctx)

	counts := make(Counts)
	for cursor.Next(ctx) {
		var doc mongoCounter
		if err := cursor.Decode(&doc); err != nil {
			return nil, types.NewStorageError("decode counter", err)
		}
		vc := VariantCounts{
			Assignments: doc.Assignments,
			Conversions: make(map[string]int64, len(doc.Goals)),
		}
		for goal, n := range doc.Goals {
			vc.Conversions[goal] = n
		}
		counts[doc.Variant] = vc
	}
	if err := cursor.Err(); err != nil {
		return nil, types.NewStorageError("read counts", err)
	}
	return counts, nil
}

// RebuildCounters implements Replayer: aggregates the fact collections and
// replaces the counter documents.
func (s *MongoStore) RebuildCounters(ctx context.Context, experiment string) error {
	rebuilt := make(map[string]*mongoCounter)
	get := func(variant string) *mongoCounter {
		c, ok := rebuilt[variant]
		if !ok {
			c = &mongoCounter{Experiment: experiment, Variant: variant, Goals: make(map[string]int64)}
			rebuilt[variant] = c
		}
		return c
	}

	cursor, err := s.assignments.Find(ctx, bson.M{"experiment": experiment})
	if err != nil {
		return types.NewStorageError("replay assignments", err)
	}
	for cursor.Next(ctx) {
		var doc mongoAssignment
		if err := cursor.Decode(&doc); err != nil {
			cursor.Close(ctx)
			return types.NewStorageError("decode assignment", err)
		}
		get(doc.Variant).Assignments++
	}
	cursor.Close(ctx)

	cursor, err = s.conversions.Find(ctx, bson.M{"experiment": experiment})
	if err != nil {
		return types.NewStorageError("replay conversions", err)
	}
	for cursor.Next(ctx) {
		var doc mongoConversion
		if err := cursor.Decode(&doc); err != nil {
			cursor.Close(ctx)
			return types.NewStorageError("decode conversion", err)
		}
		get(doc.Variant).Goals[doc.Goal]++
	}
	cursor.Close(ctx)

	if _, err := s.counters.DeleteMany(ctx, bson.M{"experiment": experiment}); err != nil {
		return types.NewStorageError("clear counters", err)
	}
	for _, c := range rebuilt {
		if _, err := s.counters.InsertOne(ctx, c); err != nil {
			return types.NewStorageError("write rebuilt counter", err)
		}
	}

	s.logger.Info("counters rebuilt from event log",
		zap.String("experiment", experiment),
		zap.Int("variants", len(rebuilt)))
	return nil
}

func mongoToAssignment(doc *mongoAssignment) *types.Assignment {
	return &types.Assignment{
		ID:            doc.ID,
		Experiment:    doc.Experiment,
		ParticipantID: doc.ParticipantID,
		Variant:       doc.Variant,
		Context:       doc.Context,
		CreatedAt:     doc.CreatedAt,
	}
}

var _ AggregateStore = (*MongoStore)(nil)
var _ Replayer = (*MongoStore)(nil)
