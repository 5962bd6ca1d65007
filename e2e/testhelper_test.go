package e2e

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"

	"github.com/wandertune/api/internal/handler"
	"github.com/wandertune/api/internal/middleware"
	"github.com/wandertune/api/internal/service"
	"github.com/wandertune/api/internal/store"
)

const testJWTSecret = "test-secret-for-e2e"

// fakeEnqueuer keeps enqueued work in memory so the handlers can be tested
// without Redis.
type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

// testApp holds all components needed for testing.
type testApp struct {
	app       *fiber.App
	store     *store.Store
	enqueuer  *fakeEnqueuer
	uploadDir string
}

// setupApp creates a Fiber app identical to main.go but with an in-memory
// store and without Redis.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}

	enqueuer := &fakeEnqueuer{}
	uploadDir := t.TempDir()
	validate := validator.New()

	taskService := service.NewTaskService(st, enqueuer, uploadDir)
	taskHandler := handler.NewTaskHandler(taskService, validate)
	uploadHandler := handler.NewUploadHandler(uploadDir, 16*1024*1024)

	authMiddleware := middleware.NewAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(nil) // no Redis: limits pass through

	app := fiber.New(fiber.Config{
		BodyLimit: 64 * 1024 * 1024,
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"store":  st.Ping(c.Context()) == nil,
				"redis":  false,
				"gemini": false,
				"suno":   false,
			},
		})
	})

	api := app.Group("/api", authMiddleware.Identify())

	tasks := api.Group("/tasks")
	tasks.Post("/", rateLimiter.TaskLimit(10000), taskHandler.Create)
	tasks.Get("/", taskHandler.List)
	tasks.Get("/:id", taskHandler.Get)
	tasks.Delete("/:id", taskHandler.Delete)
	tasks.Post("/:id/callback", taskHandler.Callback)

	uploads := api.Group("/uploads", rateLimiter.UploadLimit(10000))
	uploads.Post("/images", uploadHandler.UploadImages)

	maintenance := api.Group("/maintenance")
	maintenance.Post("/cleanup-files", taskHandler.CleanupFiles)

	return &testApp{app: app, store: st, enqueuer: enqueuer, uploadDir: uploadDir}
}

// writeUpload puts a file into the test upload dir and returns its path.
func writeUpload(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("fake image data"), 0o644); err != nil {
		t.Fatalf("failed to write upload: %v", err)
	}
	return path
}

// generateToken creates an HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	m := middleware.NewAuthMiddleware(testJWTSecret)
	token, err := m.GenerateToken("test-user-123")
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
