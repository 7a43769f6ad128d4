package config

import "errors"

// ErrInvalidConfig 配置无效
var ErrInvalidConfig = errors.New("invalid config")
