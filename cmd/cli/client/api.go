package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/viper"

	"github.com/reportmill/internal/models"
	"github.com/reportmill/internal/runner"
)

type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *APIClient) doRequest(method, path string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	token := viper.GetString("token")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("%s", apiErr.Error)
		}
		return nil, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	return data, nil
}

func (c *APIClient) Login(username, password string) (string, error) {
	data, err := c.doRequest(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return "", err
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", err
	}
	return result.Token, nil
}

func (c *APIClient) ListSchedules() ([]models.ReportSchedule, error) {
	data, err := c.doRequest(http.MethodGet, "/api/v1/scheduled-reports/schedules", nil)
	if err != nil {
		return nil, err
	}

	var schedules []models.ReportSchedule
	if err := json.Unmarshal(data, &schedules); err != nil {
		return nil, err
	}
	return schedules, nil
}

func (c *APIClient) CreateSchedule(req interface{}) (*models.ReportSchedule, error) {
	data, err := c.doRequest(http.MethodPost, "/api/v1/scheduled-reports/schedules", req)
	if err != nil {
		return nil, err
	}

	var sch models.ReportSchedule
	if err := json.Unmarshal(data, &sch); err != nil {
		return nil, err
	}
	return &sch, nil
}

func (c *APIClient) SetScheduleEnabled(id uint, enabled bool) error {
	_, err := c.doRequest(http.MethodPut, fmt.Sprintf("/api/v1/scheduled-reports/schedules/%d", id), map[string]bool{
		"enabled": enabled,
	})
	return err
}

func (c *APIClient) DeleteSchedule(id uint) error {
	_, err := c.doRequest(http.MethodDelete, fmt.Sprintf("/api/v1/scheduled-reports/schedules/%d", id), nil)
	return err
}

func (c *APIClient) ListRuns(scheduleID uint, limit int) ([]models.ReportRun, error) {
	path := fmt.Sprintf("/api/v1/scheduled-reports/runs?limit=%d", limit)
	if scheduleID != 0 {
		path += fmt.Sprintf("&schedule_id=%d", scheduleID)
	}
	data, err := c.doRequest(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var runs []models.ReportRun
	if err := json.Unmarshal(data, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// RunDue triggers a due-schedule cycle using the shared trigger secret.
func (c *APIClient) RunDue(secret string, limit int) (*runner.Summary, error) {
	path := "/api/v1/scheduled-reports/run-due"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}

	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Trigger-Secret", secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("trigger failed: %s: %s", resp.Status, bytes.TrimSpace(data))
	}

	var summary runner.Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}
