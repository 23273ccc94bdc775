// Package types 定义 retoro 的基础值类型
//
// 这是最底层的包，不依赖任何其他 retoro 包。
package types
