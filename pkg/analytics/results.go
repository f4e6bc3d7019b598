package analytics

import "time"

// UserStats is the rollup for a single user (or for anonymous traffic when
// UserID is nil)
type UserStats struct {
	UserID             *string `json:"user_id"`
	TotalRequests      int64   `json:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests"`
	FailedRequests     int64   `json:"failed_requests"`
	SuccessRate        float64 `json:"success_rate"`

	LLMChatRequests          int64 `json:"llm_chat_requests"`
	ImageGenerationRequests  int64 `json:"image_generation_requests"`
	SpeechGenerationRequests int64 `json:"speech_generation_requests"`

	TotalInputTokens  int64 `json:"total_input_tokens"`
	TotalOutputTokens int64 `json:"total_output_tokens"`
	TotalTokens       int64 `json:"total_tokens"`
	TotalStorageBytes int64 `json:"total_storage_bytes"`

	AvgResponseTimeMs float64    `json:"avg_response_time_ms"`
	FirstRequest      *time.Time `json:"first_request"`
	LastRequest       *time.Time `json:"last_request"`
}

// ServiceMetrics holds the volume totals a service accumulated in the window
type ServiceMetrics struct {
	TotalInputTokens  int64 `json:"total_input_tokens"`
	TotalOutputTokens int64 `json:"total_output_tokens"`
	TotalTokens       int64 `json:"total_tokens"`
	TotalStorageBytes int64 `json:"total_storage_bytes"`
}

// ServiceStats is the rollup for one service type
type ServiceStats struct {
	ServiceType        ServiceType `json:"service_type"`
	TotalRequests      int64       `json:"total_requests"`
	SuccessfulRequests int64       `json:"successful_requests"`
	FailedRequests     int64       `json:"failed_requests"`
	SuccessRate        float64     `json:"success_rate"`
	// UniqueUsers counts distinct non-null user ids.
	UniqueUsers int64 `json:"unique_users"`
	// AnonymousUsers counts anonymous events; anonymity has no identity to deduplicate.
	AnonymousUsers    int64          `json:"anonymous_users"`
	AvgResponseTimeMs float64        `json:"avg_response_time_ms"`
	ServiceMetrics    ServiceMetrics `json:"service_metrics"`
}

// TopUser is one entry of the system-wide leaderboard
type TopUser struct {
	UserID       string `json:"user_id"`
	RequestCount int64  `json:"request_count"`
}

// SystemStats is the rollup across every service
type SystemStats struct {
	TotalRequests          int64          `json:"total_requests"`
	TotalUsers             int64          `json:"total_users"`
	TotalAnonymousRequests int64          `json:"total_anonymous_requests"`
	Services               []ServiceStats `json:"services"`
	TopUsers               []TopUser      `json:"top_users"`
	// StartDate and EndDate are the earliest and latest matching event; nil when none matched.
	StartDate *time.Time `json:"start_date"`
	EndDate   *time.Time `json:"end_date"`
}

// UsageStats breaks request volume down by period and service
type UsageStats struct {
	TimeRange            string                  `json:"time_range"`
	UserID               *string                 `json:"user_id"`
	Granularity          Granularity             `json:"granularity"`
	RequestsByPeriod     map[string]int64        `json:"requests_by_period"`
	RequestsByService    map[ServiceType]int64   `json:"requests_by_service"`
	SuccessRateByService map[ServiceType]float64 `json:"success_rate_by_service"`
	PeakPeriod           string                  `json:"peak_period,omitempty"`
	PeakPeriodRequests   int64                   `json:"peak_period_requests"`
}
