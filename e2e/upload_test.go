package e2e

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"testing"
)

// multipartBody builds a multipart form with the given file names under the
// "images" field.
func multipartBody(t *testing.T, names []string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, name := range names {
		part, err := writer.CreateFormFile("images", name)
		if err != nil {
			t.Fatalf("failed to create form file: %v", err)
		}
		if _, err := part.Write([]byte("fake image data")); err != nil {
			t.Fatalf("failed to write form file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func doUpload(t *testing.T, ta *testApp, names []string) *http.Response {
	t.Helper()
	body, contentType := multipartBody(t, names)
	req, err := http.NewRequest("POST", "/api/uploads/images", body)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func TestUploadImages(t *testing.T) {
	ta := setupApp(t)

	resp := doUpload(t, ta, []string{"photo.jpg", "photo.png", "scene.webp"})
	assertStatus(t, resp, 201)

	result := parseJSON(t, resp)
	if result["count"] != float64(3) {
		t.Errorf("expected count 3, got %v", result["count"])
	}
	paths := result["imagePaths"].([]interface{})
	if len(paths) != 3 {
		t.Fatalf("expected 3 paths, got %d", len(paths))
	}
	for _, p := range paths {
		path := p.(string)
		if !strings.HasPrefix(path, ta.uploadDir) {
			t.Errorf("uploaded file outside upload dir: %s", path)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("uploaded file missing on disk: %s", path)
		}
	}
}

func TestUploadRejectsBadExtension(t *testing.T) {
	ta := setupApp(t)

	resp := doUpload(t, ta, []string{"photo.jpg", "script.exe"})
	assertStatus(t, resp, 400)

	result := parseJSON(t, resp)
	errObj := result["error"].(map[string]interface{})
	if !strings.Contains(errObj["message"].(string), "script.exe") {
		t.Errorf("error must name the offending file, got %v", errObj["message"])
	}

	// The batch is atomic: the valid file must not survive
	entries, err := os.ReadDir(ta.uploadDir)
	if err != nil {
		t.Fatalf("failed to read upload dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no files after rejected batch, got %d", len(entries))
	}
}

func TestUploadNoFiles(t *testing.T) {
	ta := setupApp(t)

	resp := doUpload(t, ta, nil)
	assertStatus(t, resp, 400)
	resp.Body.Close()
}

func TestUploadThenCreateTask(t *testing.T) {
	ta := setupApp(t)

	resp := doUpload(t, ta, []string{"photo.jpg"})
	assertStatus(t, resp, 201)
	result := parseJSON(t, resp)
	path := result["imagePaths"].([]interface{})[0].(string)

	create, err := doRequest(ta.app, "POST", "/api/tasks/", createTaskBody(path), nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	assertStatus(t, create, 201)
	create.Body.Close()
}
