package blobstore

import "context"

// Store 定义头像等二进制对象的存储接口。
type Store interface {
	// Put 以给定 Key 保存对象。
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// Get 读取对象内容及其 Content-Type。
	Get(ctx context.Context, key string) ([]byte, string, error)
	// Remove 删除对象，Key 不存在时不报错。
	Remove(ctx context.Context, key string) error
}
