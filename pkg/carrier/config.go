package carrier

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	BaseURL string
	APIKey  string

	Timeout time.Duration

	RetryCount int
	RetryDelay time.Duration

	RateLimit int
	RateBurst int

	CircuitBreakerEnabled bool
	CBFailureThreshold    int
	CBRecoveryTime        time.Duration
	CBMinRequests         int
	CBSamplingDuration    time.Duration
	CBHalfOpenMaxSuccess  int
}

func LoadFromEnv() Config {
	return Config{
		BaseURL: os.Getenv("CARRIER_API_URL"),
		APIKey:  os.Getenv("CARRIER_API_KEY"),

		Timeout: time.Second * time.Duration(getInt("CARRIER_CLIENT_TIMEOUT", 10)),

		RetryCount: getInt("CARRIER_CLIENT_RETRY_COUNT", 2),
		RetryDelay: time.Second * time.Duration(getInt("CARRIER_CLIENT_RETRY_DELAY", 1)),

		RateLimit: getInt("CARRIER_CLIENT_RATE_LIMIT", 120),
		RateBurst: getInt("CARRIER_CLIENT_RATE_BURST", 5),

		CircuitBreakerEnabled: getBool("CARRIER_CLIENT_ENABLE_CIRCUIT_BREAKER", true),
		CBFailureThreshold:    getInt("CARRIER_CLIENT_CIRCUIT_BREAKER_FAILURE_THRESHOLD", 5),
		CBRecoveryTime:        time.Second * time.Duration(getInt("CARRIER_CLIENT_CIRCUIT_BREAKER_RECOVERY_TIME", 60)),
		CBMinRequests:         getInt("CARRIER_CLIENT_CIRCUIT_BREAKER_MIN_REQUESTS", 10),
		CBSamplingDuration:    time.Second * time.Duration(getInt("CARRIER_CLIENT_CIRCUIT_BREAKER_SAMPLING_DURATION", 60)),
		CBHalfOpenMaxSuccess:  getInt("CARRIER_CLIENT_CIRCUIT_BREAKER_HALF_OPEN_MAX_SUCCESS", 3),
	}
}

func getInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		return v == "true"
	}
	return def
}
