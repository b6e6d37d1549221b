package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis
	RedisEnabled  bool
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// AWS services
	AWSRegion    string
	SESFromEmail string
	SNSTopicARN  string // billing events topic, empty disables publishing

	// Payment gateway
	GatewayBaseURL     string
	GatewayAPIKey      string
	GatewayCallbackURL string
	GatewayTimeout     time.Duration

	// Billing and dispatch
	BillingInterval  time.Duration // how often the charge scheduler runs
	DispatchInterval time.Duration // notification queue poll interval
	DispatchBatch    int
	MaxSendRetries   int

	// Rate limiting for tenant-facing payment initiation
	PaymentRateLimit  int
	PaymentRateWindow time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "rentledger",
		DBPassword: "",
		DBName:     "rentledger",
		DBSSLMode:  "disable",

		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		AWSRegion:    "us-east-1",
		SESFromEmail: "billing@rentledger.local",

		GatewayTimeout: 15 * time.Second,

		BillingInterval:  24 * time.Hour,
		DispatchInterval: 2 * time.Minute,
		DispatchBatch:    25,
		MaxSendRetries:   5,

		PaymentRateLimit:  30,
		PaymentRateWindow: time.Minute,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	if enabled := os.Getenv("REDIS_ENABLED"); enabled != "" {
		e, err := strconv.ParseBool(enabled)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_ENABLED: %w", err)
		}
		cfg.RedisEnabled = e
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	if arn := os.Getenv("SNS_TOPIC_ARN"); arn != "" {
		cfg.SNSTopicARN = arn
	}

	if url := os.Getenv("GATEWAY_BASE_URL"); url != "" {
		cfg.GatewayBaseURL = url
	}

	if key := os.Getenv("GATEWAY_API_KEY"); key != "" {
		cfg.GatewayAPIKey = key
	}

	if url := os.Getenv("GATEWAY_CALLBACK_URL"); url != "" {
		cfg.GatewayCallbackURL = url
	}

	if timeout := os.Getenv("GATEWAY_TIMEOUT"); timeout != "" {
		t, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid GATEWAY_TIMEOUT: %w", err)
		}
		cfg.GatewayTimeout = t
	}

	if interval := os.Getenv("BILLING_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid BILLING_INTERVAL: %w", err)
		}
		cfg.BillingInterval = d
	}

	if interval := os.Getenv("DISPATCH_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid DISPATCH_INTERVAL: %w", err)
		}
		cfg.DispatchInterval = d
	}

	if batch := os.Getenv("DISPATCH_BATCH"); batch != "" {
		b, err := strconv.Atoi(batch)
		if err != nil {
			return nil, fmt.Errorf("invalid DISPATCH_BATCH: %w", err)
		}
		cfg.DispatchBatch = b
	}

	if retries := os.Getenv("MAX_SEND_RETRIES"); retries != "" {
		r, err := strconv.Atoi(retries)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_SEND_RETRIES: %w", err)
		}
		cfg.MaxSendRetries = r
	}

	if limit := os.Getenv("PAYMENT_RATE_LIMIT"); limit != "" {
		l, err := strconv.Atoi(limit)
		if err != nil {
			return nil, fmt.Errorf("invalid PAYMENT_RATE_LIMIT: %w", err)
		}
		cfg.PaymentRateLimit = l
	}

	if window := os.Getenv("PAYMENT_RATE_WINDOW"); window != "" {
		d, err := time.ParseDuration(window)
		if err != nil {
			return nil, fmt.Errorf("invalid PAYMENT_RATE_WINDOW: %w", err)
		}
		cfg.PaymentRateWindow = d
	}

	return cfg, nil
}
