package gemini

import (
	"encoding/json"

	"github.com/zonde306/lmproxy/internal/core"
)

type request struct {
	Contents          []content `json:"contents"`
	SystemInstruction *content  `json:"systemInstruction,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text         string        `json:"text,omitempty"`
	FunctionCall *functionCall `json:"functionCall,omitempty"`
}

type functionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type response struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	ModelVersion string `json:"modelVersion"`
}

// buildRequest converts rc.Body's OpenAI-shaped messages into Gemini's
// contents/systemInstruction shape. Grounded on the teacher's
// gemini/provider.go buildAPIRequest.
func buildRequest(rc *core.Context) *request {
	req := &request{}

	messages, _ := rc.Body["messages"].([]any)
	for _, raw := range messages {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		role, _ := m["role"].(string)
		text, _ := m["content"].(string)

		switch role {
		case "system":
			req.SystemInstruction = &content{Parts: []part{{Text: text}}}
		case "assistant":
			req.Contents = append(req.Contents, content{Role: "model", Parts: []part{{Text: text}}})
		default:
			req.Contents = append(req.Contents, content{Role: "user", Parts: []part{{Text: text}}})
		}
	}

	return req
}

func parseResponse(body []byte) (core.Delta, error) {
	var parsed response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return core.Delta{}, &core.WorkerError{Reason: "parse response", Err: err}
	}
	if len(parsed.Candidates) == 0 {
		return core.Delta{}, &core.WorkerError{Reason: "empty response: no candidates"}
	}

	var text string
	for _, p := range parsed.Candidates[0].Content.Parts {
		text += p.Text
	}
	if text == "" {
		return core.Delta{Type: core.ModalityText}, nil
	}
	return core.Delta{Type: core.ModalityText, Content: core.StringPtr(text)}, nil
}
