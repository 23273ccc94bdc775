package storage

import "errors"

var (
	// ErrNotFound 键不存在
	ErrNotFound = errors.New("storage: key not found")

	// ErrEmptyKey 空键
	ErrEmptyKey = errors.New("storage: empty key")

	// ErrClosed 数据库已关闭
	ErrClosed = errors.New("storage: closed")

	// ErrInvalidConfig 无效配置
	ErrInvalidConfig = errors.New("storage: invalid config")

	// ErrCorrupted 记录无法解码
	ErrCorrupted = errors.New("storage: corrupted record")
)
