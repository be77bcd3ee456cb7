// Package blob 保存邮件原文 (EML) 等不透明对象，按路径形式的 key 寻址。
package blob

import (
	"context"
)

// MsgObjectMissing 对象不存在时的消息
const MsgObjectMissing = "对象不存在"

// Store 是按 key 寻址的对象存储
type Store interface {
	// Put 写入对象，已存在时覆盖
	Put(ctx context.Context, key string, data []byte) error
	// Get 读取对象，不存在时返回 NotFound 错误
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete 删除对象，不存在时不报错
	Delete(ctx context.Context, key string) error
	// Bucket 返回写入 messages.r2_bucket 的桶名
	Bucket() string
}
