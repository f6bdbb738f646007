package shared

import "time"

// HTTP Server Configuration
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
	MaxRequestBodyBytes    = "2M"
)

// Stream Configuration
const (
	StreamWriteWait     = 10 * time.Second
	StreamPongWait      = 60 * time.Second
	StreamPingPeriod    = (StreamPongWait * 9) / 10
	StreamReadLimit     = 1 << 20
	StreamMaxInflight   = 8
	StreamControlBuffer = 16
)

// API Configuration
const (
	APIKeyMinLength     = 16
	RequestIDAlphabet   = "0123456789abcdefghijklmnopqrstuvwxyz"
	RequestIDLength     = 28
	ConnectionIDLength  = 12
	DefaultRedisChannel = "ml-server:model-updates"
	PublishTimeout      = 2 * time.Second
)
