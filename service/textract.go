package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shahuldxb/TradeDiscrepancyFinder-sub000/config"
)

// TextractService is the client for the external text-extraction (OCR)
// service. The pipeline itself never performs OCR; it consumes the plain
// text this service produces per document.
type TextractService struct {
	config     *config.TextractConfig
	httpClient *http.Client
}

// TextractTaskRequest is the request to create an extraction task
type TextractTaskRequest struct {
	URL      string `json:"url"`
	Callback string `json:"callback,omitempty"`
	DataID   string `json:"data_id,omitempty"`
}

// TextractTaskResponse is the response from task creation
type TextractTaskResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    struct {
		TaskID string `json:"task_id"`
	} `json:"data"`
}

// TextractStatusResponse is the task status query response
type TextractStatusResponse struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
	Data    struct {
		TaskID   string `json:"task_id"`
		DataID   string `json:"data_id"`
		State    string `json:"state"` // pending, running, done, failed
		TextURL  string `json:"text_url,omitempty"`
		ErrorMsg string `json:"err_msg,omitempty"`
	} `json:"data"`
}

// TextractCallbackContent is the JSON-encoded content of a callback
type TextractCallbackContent struct {
	TaskID   string `json:"task_id"`
	DataID   string `json:"data_id"`
	State    string `json:"state"`
	TextURL  string `json:"text_url,omitempty"`
	Text     string `json:"text,omitempty"`
	ErrorMsg string `json:"err_msg,omitempty"`
}

func NewTextractService(cfg *config.TextractConfig) *TextractService {
	return &TextractService{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// CreateTask submits a document URL for text extraction. dataID is echoed
// back in status responses and callbacks so the document can be found.
func (s *TextractService) CreateTask(docURL, dataID string) (*TextractTaskResponse, error) {
	reqBody := TextractTaskRequest{
		URL:    docURL,
		DataID: dataID,
	}
	if s.config.CallbackURL != "" {
		reqBody.Callback = s.config.CallbackURL
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequest("POST", s.config.APIURL+"/extract/task", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.config.APIToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call textract API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var taskResp TextractTaskResponse
	if err := json.Unmarshal(body, &taskResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if taskResp.Code != 0 {
		return nil, fmt.Errorf("textract API error: %s", taskResp.Message)
	}

	return &taskResp, nil
}

// GetTaskStatus queries the state of an extraction task
func (s *TextractService) GetTaskStatus(taskID string) (*TextractStatusResponse, error) {
	req, err := http.NewRequest("GET", s.config.APIURL+"/extract/task/"+taskID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.config.APIToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call textract API: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var statusResp TextractStatusResponse
	if err := json.Unmarshal(body, &statusResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	return &statusResp, nil
}

// FetchText downloads the extracted plain text from the result URL
func (s *TextractService) FetchText(textURL string) (string, error) {
	resp, err := s.httpClient.Get(textURL)
	if err != nil {
		return "", fmt.Errorf("failed to fetch text: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status fetching text: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read text body: %w", err)
	}

	return string(body), nil
}

// PollTask polls an extraction task until it finishes or the configured
// attempt budget runs out, returning the extracted text.
func (s *TextractService) PollTask(ctx context.Context, taskID string) (string, error) {
	interval := time.Duration(s.config.PollIntervalSeconds) * time.Second

	for i := 0; i < s.config.PollAttempts; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(interval):
		}

		status, err := s.GetTaskStatus(taskID)
		if err != nil {
			continue
		}

		switch status.Data.State {
		case "done":
			if status.Data.TextURL == "" {
				return "", fmt.Errorf("extraction finished without a text URL")
			}
			return s.FetchText(status.Data.TextURL)
		case "failed":
			return "", fmt.Errorf("extraction failed: %s", status.Data.ErrorMsg)
		}
	}

	return "", fmt.Errorf("extraction task %s timed out", taskID)
}
