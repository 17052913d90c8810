package svc

import "errors"

// ErrStorageInitFailed 错误：存储初始化失败
var ErrStorageInitFailed = errors.New("storage initialization failed")

// ErrUnknownDriver 错误：配置了未知的驱动
var ErrUnknownDriver = errors.New("unknown driver")
