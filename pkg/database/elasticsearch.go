package database

import (
	"context"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8"

	"goim-comment/pkg/logger"
)

// ElasticSearch ElasticSearch客户端封装
type ElasticSearch struct {
	client *elasticsearch.Client
	logger logger.Logger
}

// ElasticSearchConfig 连接参数
type ElasticSearchConfig struct {
	Addresses []string
	Username  string
	Password  string
}

// NewElasticSearch 创建ElasticSearch连接
func NewElasticSearch(ctx context.Context, cfg ElasticSearchConfig, log logger.Logger) (*ElasticSearch, error) {
	addresses := cfg.Addresses
	if len(addresses) == 0 {
		addresses = []string{"http://localhost:9200"}
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create ElasticSearch client: %w", err)
	}

	es := &ElasticSearch{client: client, logger: log}
	if err := es.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to ElasticSearch: %w", err)
	}
	log.Info(ctx, "ElasticSearch connected", logger.F("addresses", addresses))
	return es, nil
}

// GetClient 获取原生客户端
func (es *ElasticSearch) GetClient() *elasticsearch.Client {
	return es.client
}

// Ping 测试连接
func (es *ElasticSearch) Ping(ctx context.Context) error {
	res, err := es.client.Info(es.client.Info.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("ElasticSearch ping failed: %s", res.String())
	}
	return nil
}
