//go:build integration

package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

func baseURL() string {
	if v := os.Getenv("RECRU_TEST_BASE_URL"); strings.TrimSpace(v) != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://127.0.0.1:18080"
}

func TestStudyJourneyIntegration(t *testing.T) {
	client := &http.Client{Timeout: 5 * time.Second}
	base := baseURL()
	stamp := time.Now().UnixNano()

	var researcher struct {
		Token  string `json:"token"`
		UserID string `json:"user_id"`
	}
	doPost(t, client, base+"/api/auth/register", "", map[string]any{
		"email":    fmt.Sprintf("researcher_%d@example.com", stamp),
		"password": "Secret123!pass",
		"role":     "researcher",
	}, &researcher)
	if researcher.Token == "" {
		t.Fatalf("register did not return a token")
	}

	var participant struct {
		Token  string `json:"token"`
		UserID string `json:"user_id"`
	}
	doPost(t, client, base+"/api/auth/register", "", map[string]any{
		"email":    fmt.Sprintf("participant_%d@example.com", stamp),
		"password": "Secret123!pass",
		"role":     "participant",
	}, &participant)

	// Enrollment opens shortly after creation so the test can enroll for real.
	start := time.Now().Add(2 * time.Second).Unix()
	var study struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	doPost(t, client, base+"/api/studies", researcher.Token, map[string]any{
		"title":               "Integration sleep study",
		"description":         "Diary entries for two weeks",
		"enrollment_start":    start,
		"enrollment_end":      start + 3600,
		"data_collection_end": start + 2*86400,
		"max_participants":    5,
		"reward_amount":       100,
	}, &study)
	if study.ID == "" || study.Status != "draft" {
		t.Fatalf("unexpected study response: %+v", study)
	}
	studyBase := base + "/api/studies/" + study.ID

	doPost(t, client, studyBase+"/criteria", researcher.Token, map[string]any{
		"min_age": 18,
		"max_age": 65,
	}, nil)
	doPost(t, client, studyBase+"/schema", researcher.Token, map[string]any{
		"title":               "Sleep diary",
		"schema_content_id":   "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG",
		"requires_encryption": true,
	}, nil)
	doPost(t, client, studyBase+"/schema/finalize", researcher.Token, nil, nil)
	doPost(t, client, studyBase+"/publish", researcher.Token, nil, nil)

	// The vault requires custody funds the test account does not hold.
	status, body := doRequest(t, client, http.MethodPost, studyBase+"/vault", researcher.Token, map[string]any{
		"asset_id": "USDC",
		"deposit":  500,
	})
	if status != http.StatusConflict {
		t.Fatalf("unfunded vault creation: status %d body %s", status, body)
	}

	time.Sleep(2500 * time.Millisecond)

	var consent struct {
		StudyID      string `json:"study_id"`
		CredentialID string `json:"credential_id"`
	}
	doPost(t, client, studyBase+"/enroll", participant.Token, map[string]any{
		"eligibility_proof": map[string]any{"age": 30},
	}, &consent)
	if consent.CredentialID == "" {
		t.Fatalf("enrollment did not mint a credential: %+v", consent)
	}

	status, body = doRequest(t, client, http.MethodPost, studyBase+"/enroll", participant.Token, map[string]any{
		"eligibility_proof": map[string]any{"age": 30},
	})
	if status != http.StatusConflict {
		t.Fatalf("duplicate enrollment: status %d body %s", status, body)
	}

	var submission struct {
		ContentID string `json:"content_id"`
	}
	doPost(t, client, studyBase+"/submissions", participant.Token, map[string]any{
		"data_hash":  strings.Repeat("ab", 32),
		"content_id": "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi",
	}, &submission)
	if submission.ContentID == "" {
		t.Fatalf("submission response missing content id")
	}

	doPost(t, client, studyBase+"/submissions/"+participant.UserID+"/verify", researcher.Token, nil, nil)

	req, err := http.NewRequest(http.MethodGet, studyBase, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("get study failed: %v", err)
	}
	defer resp.Body.Close()
	var info struct {
		EnrolledCount int    `json:"enrolled_count"`
		Status        string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("decode study info: %v", err)
	}
	if info.EnrolledCount != 1 {
		t.Fatalf("expected one enrollment, got %+v", info)
	}
}

func doPost(t *testing.T, client *http.Client, url, token string, body any, out any) {
	t.Helper()
	status, raw := doRequest(t, client, http.MethodPost, url, token, body)
	if status < 200 || status >= 300 {
		t.Fatalf("unexpected status %d for %s: %s", status, url, raw)
	}
	if out != nil {
		if err := json.Unmarshal([]byte(raw), out); err != nil {
			t.Fatalf("decode response from %s: %v", url, err)
		}
	}
}

func doRequest(t *testing.T, client *http.Client, method, url, token string, body any) (int, string) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(raw)
}
