// Package errors 提供带错误码的错误类型，Is 按错误码比较。
//
// 错误码分段：
//
//	3000-3099 配置与追踪
//	4000-4099 socket 核心
//	4100-4199 broker 适配器
package errors
