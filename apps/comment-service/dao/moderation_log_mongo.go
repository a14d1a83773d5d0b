package dao

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"goim-comment/apps/comment-service/model"
	"goim-comment/pkg/database"
)

// ModerationLogCollection 审核日志集合名
const ModerationLogCollection = "comment_moderation_logs"

// mongoLogStore 审核日志写入 MongoDB
type mongoLogStore struct {
	coll *mongo.Collection
}

// NewMongoLogStore 创建 MongoDB 审核日志存储
func NewMongoLogStore(ctx context.Context, db *database.MongoDB) (ModerationLogStore, error) {
	coll := db.GetCollection(ModerationLogCollection)
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "subject_type", Value: 1}, {Key: "subject_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		return nil, err
	}
	return &mongoLogStore{coll: coll}, nil
}

// AppendLog 追加审核日志
func (s *mongoLogStore) AppendLog(ctx context.Context, log *model.ModerationLog) error {
	_, err := s.coll.InsertOne(ctx, log)
	return err
}

// ListLogs 审核日志
func (s *mongoLogStore) ListLogs(ctx context.Context, subjectType, subjectID string) ([]*model.ModerationLog, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.coll.Find(ctx, bson.M{"subject_type": subjectType, "subject_id": subjectID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var logs []*model.ModerationLog
	if err := cursor.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// withLogStore 审核日志使用独立存储，其余委托给 Store
type withLogStore struct {
	Store
	logs ModerationLogStore
}

// WithLogStore 替换 Store 中的审核日志实现
func WithLogStore(store Store, logs ModerationLogStore) Store {
	return &withLogStore{Store: store, logs: logs}
}

func (s *withLogStore) AppendLog(ctx context.Context, log *model.ModerationLog) error {
	return s.logs.AppendLog(ctx, log)
}

func (s *withLogStore) ListLogs(ctx context.Context, subjectType, subjectID string) ([]*model.ModerationLog, error) {
	return s.logs.ListLogs(ctx, subjectType, subjectID)
}
