package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marshallshelly/beaconauth-plugin/core"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Collection names
const (
	usersCollection    = "auth_user"
	keysCollection     = "user_key"
	sessionsCollection = "user_session"
)

// MongoAdapter stores users, keys and sessions in MongoDB
type MongoAdapter struct {
	client   *mongo.Client
	database *mongo.Database
}

// Config holds MongoDB configuration
type Config struct {
	URI      string
	Database string
}

type userDocument struct {
	ID         string                 `bson:"_id"`
	Attributes map[string]interface{} `bson:"attributes"`
}

type keyDocument struct {
	ID             string  `bson:"_id"`
	UserID         string  `bson:"user_id"`
	HashedPassword *string `bson:"hashed_password"`
}

type sessionDocument struct {
	ID            string                 `bson:"_id"`
	UserID        string                 `bson:"user_id"`
	ActiveExpires int64                  `bson:"active_expires"`
	IdleExpires   int64                  `bson:"idle_expires"`
	Attributes    map[string]interface{} `bson:"attributes"`
}

// New creates a new MongoDB adapter and ensures its indexes
func New(ctx context.Context, cfg *Config) (*MongoAdapter, error) {
	if cfg == nil || cfg.URI == "" || cfg.Database == "" {
		return nil, fmt.Errorf("mongodb config requires URI and Database")
	}
	clientOpts := options.Client().ApplyURI(cfg.URI)
	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	m := &MongoAdapter{client: client, database: client.Database(cfg.Database)}
	if err := m.ensureIndexes(ctx); err != nil {
		client.Disconnect(ctx)
		return nil, err
	}
	return m, nil
}

func (m *MongoAdapter) ensureIndexes(ctx context.Context) error {
	for _, name := range []string{keysCollection, sessionsCollection} {
		_, err := m.collection(name).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: "user_id", Value: 1}},
		})
		if err != nil {
			return fmt.Errorf("failed to create %s index: %w", name, err)
		}
	}
	return nil
}

// ID returns the adapter identifier
func (m *MongoAdapter) ID() string { return "mongodb" }

func (m *MongoAdapter) collection(name string) *mongo.Collection {
	return m.database.Collection(name)
}

// Ping checks the connection
func (m *MongoAdapter) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

// Close disconnects the client
func (m *MongoAdapter) Close() error {
	return m.client.Disconnect(context.Background())
}

// GetUser retrieves a user by ID
func (m *MongoAdapter) GetUser(ctx context.Context, userID string) (*core.UserSchema, error) {
	var doc userDocument
	err := m.collection(usersCollection).FindOne(ctx, bson.D{{Key: "_id", Value: userID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &core.UserSchema{ID: doc.ID, Attributes: attributes(doc.Attributes)}, nil
}

// SetUser stores a user and its optional first key.
// The key is inserted first so a duplicate leaves no user behind.
func (m *MongoAdapter) SetUser(ctx context.Context, user *core.UserSchema, key *core.KeySchema) error {
	if key != nil {
		if err := m.SetKey(ctx, key); err != nil {
			return err
		}
	}

	_, err := m.collection(usersCollection).InsertOne(ctx, userDocument{
		ID:         user.ID,
		Attributes: attributes(user.Attributes),
	})
	if err != nil && key != nil {
		if _, delErr := m.collection(keysCollection).DeleteOne(ctx, bson.D{{Key: "_id", Value: key.ID}}); delErr != nil {
			return fmt.Errorf("insert user: %w, remove key: %v", err, delErr)
		}
	}
	return err
}

// UpdateUser merges attributes into a user
func (m *MongoAdapter) UpdateUser(ctx context.Context, userID string, attrs map[string]interface{}) error {
	if len(attrs) == 0 {
		return nil
	}

	set := bson.D{}
	for k, v := range attrs {
		set = append(set, bson.E{Key: "attributes." + k, Value: v})
	}

	_, err := m.collection(usersCollection).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: userID}},
		bson.D{{Key: "$set", Value: set}},
	)
	return err
}

// DeleteUser removes a user and its keys
func (m *MongoAdapter) DeleteUser(ctx context.Context, userID string) error {
	if err := m.DeleteKeysByUserID(ctx, userID); err != nil {
		return err
	}
	_, err := m.collection(usersCollection).DeleteOne(ctx, bson.D{{Key: "_id", Value: userID}})
	return err
}

// GetKey retrieves a key by ID
func (m *MongoAdapter) GetKey(ctx context.Context, keyID string) (*core.KeySchema, error) {
	var doc keyDocument
	err := m.collection(keysCollection).FindOne(ctx, bson.D{{Key: "_id", Value: keyID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &core.KeySchema{ID: doc.ID, UserID: doc.UserID, HashedPassword: doc.HashedPassword}, nil
}

// GetKeysByUserID lists the keys of a user ordered by ID
func (m *MongoAdapter) GetKeysByUserID(ctx context.Context, userID string) ([]*core.KeySchema, error) {
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := m.collection(keysCollection).Find(ctx, bson.D{{Key: "user_id", Value: userID}}, opts)
	if err != nil {
		return nil, err
	}

	var docs []keyDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	keys := make([]*core.KeySchema, 0, len(docs))
	for _, doc := range docs {
		keys = append(keys, &core.KeySchema{ID: doc.ID, UserID: doc.UserID, HashedPassword: doc.HashedPassword})
	}
	return keys, nil
}

// SetKey stores a key
func (m *MongoAdapter) SetKey(ctx context.Context, key *core.KeySchema) error {
	_, err := m.collection(keysCollection).InsertOne(ctx, keyDocument{
		ID:             key.ID,
		UserID:         key.UserID,
		HashedPassword: key.HashedPassword,
	})
	if mongo.IsDuplicateKeyError(err) {
		return core.ErrDuplicateKeyID
	}
	return err
}

// UpdateKey replaces the hashed password of a key
func (m *MongoAdapter) UpdateKey(ctx context.Context, keyID string, hashedPassword *string) error {
	_, err := m.collection(keysCollection).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: keyID}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "hashed_password", Value: hashedPassword}}}},
	)
	return err
}

// DeleteKey removes a key
func (m *MongoAdapter) DeleteKey(ctx context.Context, keyID string) error {
	_, err := m.collection(keysCollection).DeleteOne(ctx, bson.D{{Key: "_id", Value: keyID}})
	return err
}

// DeleteKeysByUserID removes all keys of a user
func (m *MongoAdapter) DeleteKeysByUserID(ctx context.Context, userID string) error {
	_, err := m.collection(keysCollection).DeleteMany(ctx, bson.D{{Key: "user_id", Value: userID}})
	return err
}

// GetSession retrieves a session by ID
func (m *MongoAdapter) GetSession(ctx context.Context, sessionID string) (*core.SessionSchema, error) {
	var doc sessionDocument
	err := m.collection(sessionsCollection).FindOne(ctx, bson.D{{Key: "_id", Value: sessionID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return toSession(doc), nil
}

// GetSessionsByUserID lists the sessions of a user, oldest expiry first
func (m *MongoAdapter) GetSessionsByUserID(ctx context.Context, userID string) ([]*core.SessionSchema, error) {
	opts := options.Find().SetSort(bson.D{{Key: "active_expires", Value: 1}})
	cursor, err := m.collection(sessionsCollection).Find(ctx, bson.D{{Key: "user_id", Value: userID}}, opts)
	if err != nil {
		return nil, err
	}

	var docs []sessionDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}

	sessions := make([]*core.SessionSchema, 0, len(docs))
	for _, doc := range docs {
		sessions = append(sessions, toSession(doc))
	}
	return sessions, nil
}

// SetSession stores a session
func (m *MongoAdapter) SetSession(ctx context.Context, session *core.SessionSchema) error {
	_, err := m.collection(sessionsCollection).InsertOne(ctx, sessionDocument{
		ID:            session.ID,
		UserID:        session.UserID,
		ActiveExpires: session.ActiveExpires.UnixMilli(),
		IdleExpires:   session.IdleExpires.UnixMilli(),
		Attributes:    attributes(session.Attributes),
	})
	return err
}

// UpdateSession moves the expiry of a session
func (m *MongoAdapter) UpdateSession(ctx context.Context, sessionID string, activeExpires, idleExpires time.Time) error {
	_, err := m.collection(sessionsCollection).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: sessionID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "active_expires", Value: activeExpires.UnixMilli()},
			{Key: "idle_expires", Value: idleExpires.UnixMilli()},
		}}},
	)
	return err
}

// DeleteSession removes a session
func (m *MongoAdapter) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := m.collection(sessionsCollection).DeleteOne(ctx, bson.D{{Key: "_id", Value: sessionID}})
	return err
}

// DeleteSessionsByUserID removes all sessions of a user
func (m *MongoAdapter) DeleteSessionsByUserID(ctx context.Context, userID string) error {
	_, err := m.collection(sessionsCollection).DeleteMany(ctx, bson.D{{Key: "user_id", Value: userID}})
	return err
}

func toSession(doc sessionDocument) *core.SessionSchema {
	return &core.SessionSchema{
		ID:            doc.ID,
		UserID:        doc.UserID,
		ActiveExpires: time.UnixMilli(doc.ActiveExpires),
		IdleExpires:   time.UnixMilli(doc.IdleExpires),
		Attributes:    attributes(doc.Attributes),
	}
}

func attributes(attrs map[string]interface{}) map[string]interface{} {
	if attrs == nil {
		return map[string]interface{}{}
	}
	return attrs
}
