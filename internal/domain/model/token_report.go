package model

// TokenLimitReport is the outcome of a context window check.
type TokenLimitReport struct {
	WithinLimits          bool `json:"withinLimits"`
	InputTokens           int  `json:"inputTokens"`
	MaxInputTokens        int  `json:"maxInputTokens"`
	EstimatedOutputTokens int  `json:"estimatedOutputTokens"`
	TotalEstimated        int  `json:"totalEstimated"`
}

// UsageSummary extends TokenLimitReport with utilization and cost.
type UsageSummary struct {
	TokenLimitReport
	UtilizationPercentage float64 `json:"utilizationPercentage"`
	EstimatedCost         float64 `json:"estimatedCost"`
}
