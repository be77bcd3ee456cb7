package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"mailfree/backend/internal/apperr"
	"mailfree/backend/internal/domain"
)

var _ Store = (*FilesystemStore)(nil)

// FilesystemStore 把对象保存为 {basePath}/{key} 文件
type FilesystemStore struct {
	basePath string // 对象存储根目录
	bucket   string
	logger   *zap.Logger
}

// NewFilesystemStore 创建文件系统对象存储，根目录不存在时自动创建
func NewFilesystemStore(basePath, bucket string, logger *zap.Logger) (*FilesystemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("blob base path is empty")
	}
	if strings.Contains(filepath.ToSlash(basePath), "..") {
		return nil, fmt.Errorf("path traversal detected: %s", basePath)
	}
	if bucket == "" {
		bucket = domain.DefaultBucket
	}

	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve base path: %w", err)
	}
	absPath = filepath.Clean(absPath)

	// 确保根目录存在
	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FilesystemStore{basePath: absPath, bucket: bucket, logger: logger}, nil
}

// Bucket 返回桶名
func (s *FilesystemStore) Bucket() string { return s.bucket }

// Put 先写临时文件再重命名，读者不会看到写了一半的对象
func (s *FilesystemStore) Put(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".put-*")
	if err != nil {
		return fmt.Errorf("failed to create temp object: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close object: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit object: %w", err)
	}

	s.logger.Debug("blob stored", zap.String("key", key), zap.Int("size", len(data)))
	return nil
}

// Get 读取对象内容
func (s *FilesystemStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	target, err := s.resolve(key)
	if err != nil {
		return nil, apperr.NotFound(MsgObjectMissing)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.NotFound(MsgObjectMissing)
		}
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

// Delete 删除对象并清理空的上级目录
func (s *FilesystemStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete object: %w", err)
	}

	for dir := filepath.Dir(target); dir != s.basePath && strings.HasPrefix(dir, s.basePath); dir = filepath.Dir(dir) {
		if entries, err := os.ReadDir(dir); err != nil || len(entries) > 0 {
			break
		}
		os.Remove(dir)
	}
	return nil
}

// Writable 检查根目录是否可写，供就绪检查使用
func (s *FilesystemStore) Writable() error {
	f, err := os.CreateTemp(s.basePath, ".probe-*")
	if err != nil {
		return fmt.Errorf("blob directory not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// resolve 把 key 转为根目录下的绝对路径
func (s *FilesystemStore) resolve(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	target := filepath.Join(s.basePath, filepath.FromSlash(key))
	if !strings.HasPrefix(target, s.basePath+string(filepath.Separator)) {
		return "", fmt.Errorf("key escapes base path: %s", key)
	}
	return target, nil
}
