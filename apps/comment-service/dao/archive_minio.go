package dao

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"goim-comment/apps/comment-service/model"
)

// MinioArchiver 清理前把评论以 JSON 形式写入对象存储
type MinioArchiver struct {
	client *minio.Client
	bucket string
	now    func() time.Time
}

// NewMinioClient 创建对象存储客户端
func NewMinioClient(endpoint, accessKey, secretKey string, useSSL bool) (*minio.Client, error) {
	return minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
}

// NewMinioArchiver 桶不存在时创建
func NewMinioArchiver(ctx context.Context, client *minio.Client, bucket string) (*MinioArchiver, error) {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			// 并发创建时桶可能已经存在
			if ok, errExists := client.BucketExists(ctx, bucket); errExists != nil || !ok {
				return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
	}
	return &MinioArchiver{client: client, bucket: bucket, now: time.Now}, nil
}

// ArchiveKey 归档对象名：comments/yyyy/mm/dd/<首条ID>-<条数>.json
func ArchiveKey(at time.Time, comments []*model.Comment) string {
	var first int64
	if len(comments) > 0 {
		first = comments[0].ID
	}
	return fmt.Sprintf("comments/%s/%d-%d.json", at.UTC().Format("2006/01/02"), first, len(comments))
}

// Archive 一批评论写成一个对象
func (a *MinioArchiver) Archive(ctx context.Context, comments []*model.Comment) error {
	if len(comments) == 0 {
		return nil
	}
	data, err := json.Marshal(comments)
	if err != nil {
		return err
	}
	key := ArchiveKey(a.now(), comments)
	_, err = a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", a.bucket, key, err)
	}
	return nil
}
