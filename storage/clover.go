package storage

import (
	"context"
	"time"

	"github.com/ostafen/clover"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-query-cache/types"
	"github.com/saiset-co/sai-query-cache/utils"
)

type CloverConfig struct {
	Path       string `json:"path"`
	Collection string `json:"collection"`
}

// CloverStorage keeps each slot as one document {key, value, updated_at} in an
// on-disk clover collection.
type CloverStorage struct {
	logger types.Logger
	config *CloverConfig
	db     *clover.DB
}

func NewCloverStorage(logger types.Logger, config interface{}) (*CloverStorage, error) {
	cloverConfig := &CloverConfig{
		Path:       "./data/query_cache",
		Collection: "slots",
	}

	if config != nil {
		if err := utils.UnmarshalConfig(config, cloverConfig); err != nil {
			return nil, types.WrapError(err, "failed to unmarshal clover storage config")
		}
	}

	return &CloverStorage{
		logger: logger,
		config: cloverConfig,
	}, nil
}

func (c *CloverStorage) Start() error {
	db, err := clover.Open(c.config.Path)
	if err != nil {
		return types.WrapError(err, "failed to open CloverDB")
	}

	exists, err := db.HasCollection(c.config.Collection)
	if err != nil {
		_ = db.Close()
		return types.WrapError(err, "failed to check collection existence")
	}

	if !exists {
		if err = db.CreateCollection(c.config.Collection); err != nil {
			_ = db.Close()
			return types.WrapError(err, "failed to create collection")
		}
	}

	c.db = db
	c.logger.Info("CloverDB opened",
		zap.String("path", c.config.Path),
		zap.String("collection", c.config.Collection))

	return nil
}

func (c *CloverStorage) Stop() error {
	if c.db == nil {
		return nil
	}

	err := c.db.Close()
	c.db = nil
	if err != nil {
		return types.WrapError(err, "failed to close CloverDB")
	}

	return nil
}

func (c *CloverStorage) IsRunning() bool {
	return c.db != nil
}

func (c *CloverStorage) Get(_ context.Context, key string) (string, bool, error) {
	docs, err := c.slot(key).FindAll()
	if err != nil {
		return "", false, types.WrapError(err, "failed to read slot")
	}

	if len(docs) == 0 {
		return "", false, nil
	}

	value, ok := docs[0].Get("value").(string)
	if !ok {
		return "", false, types.Errorf(types.ErrSnapshotCorrupt, "slot %s holds a non-string value", key)
	}

	return value, true, nil
}

func (c *CloverStorage) Set(_ context.Context, key, value string) error {
	query := c.slot(key)
	updatedAt := time.Now().UnixMilli()

	count, err := query.Count()
	if err != nil {
		return types.WrapError(err, "failed to check slot")
	}

	if count > 0 {
		err = query.Update(map[string]interface{}{
			"value":      value,
			"updated_at": updatedAt,
		})
		if err != nil {
			return types.WrapError(err, "failed to update slot")
		}
		return nil
	}

	doc := clover.NewDocument()
	doc.Set("key", key)
	doc.Set("value", value)
	doc.Set("updated_at", updatedAt)

	if err = c.db.Insert(c.config.Collection, doc); err != nil {
		return types.WrapError(err, "failed to insert slot")
	}

	return nil
}

func (c *CloverStorage) Delete(_ context.Context, key string) error {
	if err := c.slot(key).Delete(); err != nil {
		return types.WrapError(err, "failed to delete slot")
	}
	return nil
}

func (c *CloverStorage) Ping(_ context.Context) error {
	if _, err := c.db.HasCollection(c.config.Collection); err != nil {
		return types.WrapError(err, "failed to reach CloverDB")
	}
	return nil
}

func (c *CloverStorage) slot(key string) *clover.Query {
	return c.db.Query(c.config.Collection).Where(clover.Field("key").Eq(key))
}
