package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"

	"flash-agent/internal/models"
	"flash-agent/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeFlashcards struct {
	mu          sync.Mutex
	generateErr error
	checkErr    error
	check       *models.CheckResult
	uploads     []string
	checkedID   int64
	panicOn     string
}

func (f *fakeFlashcards) GenerateFromPDF(_ context.Context, filename string, data []byte) (*services.GenerationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if filename == f.panicOn && f.panicOn != "" {
		panic("boom")
	}
	f.uploads = append(f.uploads, filename)
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	return &services.GenerationResult{Filename: filename, Response: "Criei 2 flashcards (" + string(data) + ")"}, nil
}

func (f *fakeFlashcards) CheckAnswer(_ context.Context, id int64, _ string) (*models.CheckResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkedID = id
	if f.checkErr != nil {
		return nil, f.checkErr
	}
	return f.check, nil
}

type fakeDocuments struct {
	docs  []models.Document
	limit int
}

func (f *fakeDocuments) List(_ context.Context, limit int) ([]models.Document, error) {
	f.limit = limit
	return f.docs, nil
}

func newTestServer(flashcards Flashcards, documents Documents) *Server {
	log, _ := test.NewNullLogger()
	return NewServer(Config{Flashcards: flashcards, Documents: documents, MaxUploadBytes: 1 << 20, Logger: log})
}

func uploadRequest(t *testing.T, path, field, filename string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		part, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		part.Write(content)
	} else {
		mw.WriteField("other", "x")
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func checkRequest(values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/check-answer", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestUploadPDF(t *testing.T) {
	fc := &fakeFlashcards{}
	srv := newTestServer(fc, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, "/upload-pdf", "file", "bio.pdf", []byte("pdf")))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["success"] != true || body["filename"] != "bio.pdf" || body["response"] == "" {
		t.Fatalf("body = %v", body)
	}
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatal("expected request id header")
	}
}

func TestUploadPDFErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		srv := newTestServer(&fakeFlashcards{}, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, uploadRequest(t, "/upload-pdf", "", "", nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
		if body := decode(t, rec); body["success"] != false || body["error"] == "" {
			t.Fatalf("body = %v", body)
		}
	})

	t.Run("generation failure", func(t *testing.T) {
		fc := &fakeFlashcards{generateErr: &services.ExtractionError{Err: errors.New("not a PDF file")}}
		srv := newTestServer(fc, nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, uploadRequest(t, "/upload-pdf", "file", "x.pdf", []byte("junk")))
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d", rec.Code)
		}
		body := decode(t, rec)
		if body["success"] != false || !strings.Contains(body["error"].(string), "not a PDF file") {
			t.Fatalf("body = %v", body)
		}
	})

	t.Run("too large", func(t *testing.T) {
		srv := newTestServer(&fakeFlashcards{}, nil)
		rec := httptest.NewRecorder()
		big := bytes.Repeat([]byte("a"), 3<<20)
		srv.Handler().ServeHTTP(rec, uploadRequest(t, "/upload-pdf", "file", "big.pdf", big))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
	})
}

func TestCheckAnswer(t *testing.T) {
	fc := &fakeFlashcards{check: &models.CheckResult{
		Status:         models.StatusCorrect,
		Feedback:       "Muito bem",
		OfficialAnswer: "Mitochondria produce ATP",
	}}
	srv := newTestServer(fc, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, checkRequest(url.Values{"flashcard_id": {"1"}, "user_answer": {"it produces energy"}}))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	body := decode(t, rec)
	if body["status"] != "correto" || body["official_answer"] != "Mitochondria produce ATP" {
		t.Fatalf("body = %v", body)
	}
	if _, present := body["next_review"]; present {
		t.Fatal("next_review should be omitted when unset")
	}
	if fc.checkedID != 1 {
		t.Fatalf("checked id = %d", fc.checkedID)
	}
}

func TestCheckAnswerValidation(t *testing.T) {
	tests := []struct {
		name   string
		values url.Values
	}{
		{name: "missing id", values: url.Values{"user_answer": {"x"}}},
		{name: "non numeric id", values: url.Values{"flashcard_id": {"abc"}, "user_answer": {"x"}}},
		{name: "negative id", values: url.Values{"flashcard_id": {"-3"}, "user_answer": {"x"}}},
		{name: "missing answer", values: url.Values{"flashcard_id": {"1"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(&fakeFlashcards{}, nil)
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, checkRequest(tt.values))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rec.Code)
			}
			if body := decode(t, rec); body["error"] == "" {
				t.Fatalf("body = %v", body)
			}
		})
	}
}

func TestCheckAnswerWorkflowError(t *testing.T) {
	srv := newTestServer(&fakeFlashcards{checkErr: errors.New("llm unavailable")}, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, checkRequest(url.Values{"flashcard_id": {"1"}, "user_answer": {"x"}}))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if body := decode(t, rec); !strings.Contains(body["error"].(string), "llm unavailable") {
		t.Fatalf("body = %v", body)
	}
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(&fakeFlashcards{}, nil)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/check-answer", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("headers = %v", rec.Header())
	}
}

func TestHealthAndDocuments(t *testing.T) {
	docs := &fakeDocuments{docs: []models.Document{{ID: 1, Filename: "a.pdf", Status: models.DocumentCompleted}}}
	srv := newTestServer(&fakeFlashcards{}, docs)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || decode(t, rec)["status"] != "ok" {
		t.Fatalf("health = %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents?limit=5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("documents = %d", rec.Code)
	}
	list, _ := decode(t, rec)["documents"].([]any)
	if len(list) != 1 || docs.limit != 5 {
		t.Fatalf("list = %v, limit = %d", list, docs.limit)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/documents?limit=zero", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d", rec.Code)
	}
}

func waitForJob(t *testing.T, srv *Server, id string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/upload-pdf/jobs/"+id, nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("job status = %d", rec.Code)
		}
		body := decode(t, rec)
		if s := body["status"]; s == JobStatusComplete || s == JobStatusFailed {
			return body
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not finish")
	return nil
}

func TestUploadJobs(t *testing.T) {
	fc := &fakeFlashcards{}
	srv := newTestServer(fc, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, "/upload-pdf/jobs", "file", "bio.pdf", []byte("pdf")))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	id, _ := decode(t, rec)["job_id"].(string)
	if id == "" {
		t.Fatal("expected job id")
	}

	job := waitForJob(t, srv, id)
	result, _ := job["result"].(map[string]any)
	if job["status"] != JobStatusComplete || result["success"] != true || result["filename"] != "bio.pdf" {
		t.Fatalf("job = %v", job)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/upload-pdf/jobs/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing job = %d", rec.Code)
	}
}

func TestUploadJobFailures(t *testing.T) {
	fc := &fakeFlashcards{generateErr: errors.New("model down"), panicOn: "panic.pdf"}
	srv := newTestServer(fc, nil)

	for name, want := range map[string]string{"x.pdf": "model down", "panic.pdf": "boom"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, uploadRequest(t, "/upload-pdf/jobs", "file", name, []byte("pdf")))
		id, _ := decode(t, rec)["job_id"].(string)
		job := waitForJob(t, srv, id)
		if job["status"] != JobStatusFailed || !strings.Contains(job["error"].(string), want) {
			t.Fatalf("job = %v", job)
		}
	}
}

func TestRecoveryReturns500(t *testing.T) {
	srv := newTestServer(&fakeFlashcards{panicOn: "bad.pdf"}, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, "/upload-pdf", "file", "bad.pdf", []byte("pdf")))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}
