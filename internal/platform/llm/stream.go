package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fenwick-ai/ragchat-core/internal/platform/promptstyle"
)

// streamSSE parses a text/event-stream body into (event, data) pairs,
// flushing whenever a blank line ends the current event.
func streamSSE(r io.Reader, onEvent func(event, data string) error) error {
	br := bufio.NewReader(r)
	var (
		eventName string
		dataLines []string
	)

	flush := func() error {
		if len(dataLines) == 0 {
			eventName = ""
			return nil
		}
		data := strings.Join(dataLines, "\n")
		dataLines = nil
		ev := eventName
		eventName = ""
		if onEvent == nil {
			return nil
		}
		return onEvent(ev, data)
	}

	for {
		line, err := br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				_ = flush()
				break
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if err := flush(); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "event:") {
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			continue
		}
	}
	return nil
}

func (c *client) doStream(ctx context.Context, body responsesRequest) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/responses", &buf)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil, nil
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return nil, raw, &apiHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
}

// runStream issues a streaming Responses API call and forwards output_text
// deltas to onDelta as they arrive, retrying once without temperature if the
// model rejects the parameter. Best-effort: any non-empty delta is forwarded
// and accumulated into the returned text.
func (c *client) runStream(ctx context.Context, req responsesRequest, onDelta func(string)) (string, error) {
	resp, raw, err := c.doStream(ctx, req)
	if err != nil && req.Temperature != nil && isUnsupportedTemperatureMessage(string(raw)) {
		c.noteNoTempModel(req.Model)
		req.Temperature = nil
		resp, _, err = c.doStream(ctx, req)
	}
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	err = streamSSE(resp.Body, func(event, data string) error {
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			return nil
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(data), &obj); err != nil {
			return nil
		}

		evt := strings.TrimSpace(event)
		if t, ok := obj["type"].(string); ok && strings.TrimSpace(t) != "" {
			evt = strings.TrimSpace(t)
		}
		if r, ok := obj["refusal"].(string); ok && strings.TrimSpace(r) != "" {
			return fmt.Errorf("model refused: %s", r)
		}
		if eAny, ok := obj["error"]; ok && eAny != nil {
			b, _ := json.Marshal(eAny)
			return fmt.Errorf("llm stream error: %s", string(b))
		}
		if d, ok := obj["delta"].(string); ok {
			d = strings.TrimRight(d, " ")
			if d != "" && strings.Contains(evt, "output_text.delta") {
				full.WriteString(d)
				if onDelta != nil {
					onDelta(d)
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return full.String(), nil
}

func (c *client) StreamText(ctx context.Context, system, user string, onDelta func(delta string)) (string, error) {
	system = promptstyle.ApplySystem(system, "text")
	req := responsesRequest{Model: c.model, Stream: true}
	req.Input = []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	}{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
	c.applyTemperature(&req)
	return c.runStream(ctx, req, onDelta)
}

func (c *client) StreamTextInConversation(ctx context.Context, conversationID, instructions, user string, onDelta func(delta string)) (string, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return "", fmt.Errorf("conversation_id required")
	}
	instructions = promptstyle.ApplySystem(instructions, "text")

	req := responsesRequest{Model: c.model, Conversation: conversationID, Instructions: instructions, Stream: true}
	req.Input = []struct {
		Role    string `json:"role"`
		Content any    `json:"content"`
	}{{Role: "user", Content: user}}
	c.applyTemperature(&req)
	return c.runStream(ctx, req, onDelta)
}
