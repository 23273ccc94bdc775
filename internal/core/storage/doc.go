// Package storage 基于 BadgerDB 的本地持久化
//
// 节点运行时用它保存已知节点与已加入的频道，重启后尽力重新拨号。
// 各类数据通过键前缀隔离：
//
//	前缀  | 内容
//	------|----------------
//	n/    | 已知节点（NodeRecord）
//	c/    | 已加入频道名
//
// 所有公开类型都可以并发使用。
package storage
