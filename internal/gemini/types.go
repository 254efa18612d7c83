package gemini

import "sort"

const (
	DefaultModel      = "gemini-1.5-pro"
	DefaultBaseURL    = "https://generativelanguage.googleapis.com"
	DefaultAPIVersion = "v1beta"
)

// GenerationConfig holds the decoding parameters sent with every request.
type GenerationConfig struct {
	Temperature      float64
	TopP             float64
	TopK             int
	MaxOutputTokens  int
	ResponseMimeType string
}

func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		Temperature:      1,
		TopP:             0.95,
		TopK:             64,
		MaxOutputTokens:  8192,
		ResponseMimeType: "text/plain",
	}
}

func (g GenerationConfig) isZero() bool {
	return g == GenerationConfig{}
}

type HarmCategory string

const (
	HarmCategoryHateSpeech       HarmCategory = "HARM_CATEGORY_HATE_SPEECH"
	HarmCategoryHarassment       HarmCategory = "HARM_CATEGORY_HARASSMENT"
	HarmCategorySexuallyExplicit HarmCategory = "HARM_CATEGORY_SEXUALLY_EXPLICIT"
	HarmCategoryDangerousContent HarmCategory = "HARM_CATEGORY_DANGEROUS_CONTENT"
)

type BlockThreshold string

const (
	BlockLowAndAbove    BlockThreshold = "BLOCK_LOW_AND_ABOVE"
	BlockMediumAndAbove BlockThreshold = "BLOCK_MEDIUM_AND_ABOVE"
	BlockOnlyHigh       BlockThreshold = "BLOCK_ONLY_HIGH"
	BlockNone           BlockThreshold = "BLOCK_NONE"
)

// SafetyPolicy maps a harm category to the threshold the provider blocks at.
// It is enforced by the provider, not locally.
type SafetyPolicy map[HarmCategory]BlockThreshold

func DefaultSafetyPolicy() SafetyPolicy {
	return SafetyPolicy{
		HarmCategoryHateSpeech: BlockLowAndAbove,
		HarmCategoryHarassment: BlockLowAndAbove,
	}
}

func (p SafetyPolicy) clone() SafetyPolicy {
	out := make(SafetyPolicy, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// settings returns the policy in category order so equal policies always
// serialize to the same request body.
func (p SafetyPolicy) settings() []safetySetting {
	out := make([]safetySetting, 0, len(p))
	for category, threshold := range p {
		out = append(out, safetySetting{Category: string(category), Threshold: string(threshold)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Category < out[j].Category })
	return out
}

// Blob is binary content tagged with its MIME type.
type Blob struct {
	MimeType string
	Data     []byte
}

// Part is one element of a request. Exactly one of Text or InlineData is set.
type Part struct {
	Text       string
	InlineData *Blob
}

func TextPart(text string) Part {
	return Part{Text: text}
}

func BlobPart(mimeType string, data []byte) Part {
	return Part{InlineData: &Blob{MimeType: mimeType, Data: data}}
}

type Usage struct {
	PromptTokens     int
	CandidatesTokens int
	TotalTokens      int
}

type Response struct {
	Text         string
	Model        string
	FinishReason string
	Usage        Usage
}
