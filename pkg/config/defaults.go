package config

import "time"

// Server defaults
const (
	DefaultHTTPAddr     = ":8080"
	DefaultMaxStorageGB = 1
	DefaultMaxMemoryMB  = 32
)

// Sensor polling
const (
	DefaultSensorURL     = "http://192.168.1.115/data"
	DefaultSensorTimeout = 30 * time.Second
	DefaultPollInterval  = 60 * time.Second
	DefaultPublicIPURL   = "https://api.ipify.org?format=json"
	PublicIPTimeout      = 10 * time.Second
)

// Partition files
const (
	DefaultOutputDir   = "./data/espmon"
	DefaultFilePrefix  = "data_log_"
	DefaultAuditPrefix = "user_requests_"
	DefaultStore       = "xlsx"
)

// Chat bot
const (
	DefaultBotRetry      = 60 * time.Second
	BotUpdateTimeout     = 60
	BotRequestTimeout    = 90 * time.Second
	BotChartRenderWidth  = 1200
	BotChartRenderHeight = 600
)

// MQTT
const (
	DefaultMQTTPort     = 1883
	DefaultMQTTTopic    = "espmon/readings"
	DefaultMQTTClientID = "espmon"
	MQTTConnectTimeout  = 10 * time.Second
	MQTTPublishTimeout  = 5 * time.Second
)

// Background tasks
const (
	BadgerGCInterval     = 10 * time.Minute
	StorageCheckInterval = 5 * time.Minute
	StorageCacheTTL      = 30 * time.Second
)

// API timeouts and limits
const (
	APIQueryTimeout     = 30 * time.Second
	APIStatsTimeout     = 5 * time.Second
	APIDefaultMaxPoints = 500
	APIMaxPointsLimit   = 5000
)

// Export defaults and limits
const (
	DefaultExportWindow = 24 * time.Hour
	MaxExportWindow     = 90 * 24 * time.Hour
	MaxImportBytes      = 32 << 20
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 64
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
