package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Dispatch DispatchConfig `yaml:"dispatch"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port"`
	PaymentUpdatedTopic string `yaml:"payment_updated_topic_name"`
	OrderStatusTopic    string `yaml:"order_status_updated_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DispatchConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	// Суммы в минорных единицах (копейки).
	DeliveryFee            int64 `yaml:"delivery_fee"`
	CodeLength             int   `yaml:"code_length"`
	CodeAttemptLimit       int32 `yaml:"code_attempt_limit"`
	LenientCodeMatch       bool  `yaml:"lenient_code_match"`
	CodeRateLimitPerMinute int   `yaml:"code_rate_limit_per_minute"`
	BalanceAllowance       int64 `yaml:"balance_allowance"`
	BalanceCacheTTLSeconds int   `yaml:"balance_cache_ttl_seconds"`

	TrackBaseURL string `yaml:"track_base_url"`

	WorkerHTTPAddr            string `yaml:"worker_http_addr"`
	WorkerPollIntervalSeconds int    `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize           int    `yaml:"worker_batch_size"`
	WorkerConcurrency         int    `yaml:"worker_concurrency"`
	WorkerLeaseSeconds        int    `yaml:"worker_lease_seconds"`

	// Retry schedule for failed sends (optional, defaults 30s/2m/10m/1h).
	WorkerBackoff1Seconds int `yaml:"worker_backoff_1_seconds"`
	WorkerBackoff2Seconds int `yaml:"worker_backoff_2_seconds"`
	WorkerBackoff3Seconds int `yaml:"worker_backoff_3_seconds"`
	WorkerBackoff4Seconds int `yaml:"worker_backoff_4_seconds"`

	MessengerBaseURL string `yaml:"messenger_base_url"`
	MessengerAPIKey  string `yaml:"messenger_api_key"`
	MessengerSender  string `yaml:"messenger_sender"`
	MessengerMode    string `yaml:"messenger_mode"` // "http" | "fake"
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
