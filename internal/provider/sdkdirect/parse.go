package sdkdirect

import "encoding/json"

// anthropicResponse mirrors the subset of the Messages API response shape
// this adapter consumes.
type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func parseAnthropicResponse(body []byte) (content string, inputTokens, outputTokens int) {
	var r anthropicResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return string(body), 0, 0
	}
	for _, c := range r.Content {
		content += c.Text
	}
	return content, r.Usage.InputTokens, r.Usage.OutputTokens
}
