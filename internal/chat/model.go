package chat

import "os"

// Gemini model IDs usable for video extraction.
//
// | Model                    | API Model ID           | Notes                          |
// |--------------------------|------------------------|--------------------------------|
// | Gemini 2.5 Flash         | gemini-2.5-flash       | Default; long video, low cost  |
// | Gemini 2.5 Pro           | gemini-2.5-pro         | Better on dense action streets |
// | Gemini 3 Flash (Preview) | gemini-3-flash-preview | Faster, preview quota only     |
const (
	ModelGemini25Flash       = "gemini-2.5-flash"
	ModelGemini25Pro         = "gemini-2.5-pro"
	ModelGemini3FlashPreview = "gemini-3-flash-preview"
)

// DefaultModelName is used when GEMINI_MODEL is unset.
const DefaultModelName = ModelGemini25Flash

// GetModelName returns GEMINI_MODEL if set, otherwise DefaultModelName.
func GetModelName() string {
	if env := os.Getenv("GEMINI_MODEL"); env != "" {
		return env
	}
	return DefaultModelName
}
