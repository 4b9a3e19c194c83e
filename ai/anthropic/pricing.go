package anthropic

// ModelPricing contains per-token pricing in USD per million tokens
type ModelPricing struct {
	InputPrice  float64
	OutputPrice float64
}

// modelPricing lists published list prices; unknown models fall back to DefaultPricingFallback
var modelPricing = map[string]ModelPricing{
	"claude-sonnet-4-20250514":   {InputPrice: 3.00, OutputPrice: 15.00},
	"claude-opus-4-20250514":     {InputPrice: 15.00, OutputPrice: 75.00},
	"claude-3-7-sonnet-20250219": {InputPrice: 3.00, OutputPrice: 15.00},
	"claude-3-5-sonnet-20241022": {InputPrice: 3.00, OutputPrice: 15.00},
	"claude-3-5-haiku-20241022":  {InputPrice: 0.80, OutputPrice: 4.00},
	"claude-3-opus-20240229":     {InputPrice: 15.00, OutputPrice: 75.00},
	"claude-3-haiku-20240307":    {InputPrice: 0.25, OutputPrice: 1.25},
}

// DefaultPricingFallback is the per-request estimate for models missing from the table
const DefaultPricingFallback = 0.01

// CalculateCost computes the cost of a call in USD
func CalculateCost(model string, inputTokens, outputTokens int) float64 {
	pricing, found := modelPricing[model]
	if !found {
		return DefaultPricingFallback
	}

	inputCost := (float64(inputTokens) / 1_000_000.0) * pricing.InputPrice
	outputCost := (float64(outputTokens) / 1_000_000.0) * pricing.OutputPrice
	return inputCost + outputCost
}
