package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MGASALUCAS/deepxray/internal/analysis"
	"github.com/MGASALUCAS/deepxray/internal/model"
	"github.com/MGASALUCAS/deepxray/internal/store"
)

type fakeClassifier struct{ score float32 }

func (f *fakeClassifier) Predict([]float32) (float32, error) { return f.score, nil }
func (f *fakeClassifier) Source() string                     { return "fake" }

type fakeProvider struct{ score float32 }

func (p *fakeProvider) Get(string) (model.Classifier, error) {
	return &fakeClassifier{score: p.score}, nil
}

type testEnv struct {
	router *mux.Router
	token  string
}

func newTestEnv(t *testing.T, score float32) *testEnv {
	t.Helper()

	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	modelPath := filepath.Join(dir, "pneumonia.onnx")
	require.NoError(t, os.WriteFile(modelPath, []byte("stub artifact"), 0o644))

	analyzer := analysis.NewService(modelPath, &fakeProvider{score: score})
	srv := New(st, analyzer, filepath.Join(dir, "xray_images"))

	env := &testEnv{router: srv.Router()}
	env.token = env.register(t, "drsmith", "hunter22", "radiologist")
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) register(t *testing.T, username, password, role string) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
		"role":     role,
	})
	req := httptest.NewRequest("POST", "/api/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func (e *testEnv) createPatient(t *testing.T) string {
	t.Helper()
	age := 42
	body, _ := json.Marshal(map[string]interface{}{
		"first_name": "Jane",
		"surname":    "Doe",
		"age":        age,
		"gender":     "female",
		"phone":      "555-0100",
	})
	w := e.do(t, "POST", "/api/patients", bytes.NewReader(body), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		PatientID string `json:"patient_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.PatientID)
	return resp.PatientID
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 80, 80))))
	return buf.Bytes()
}

func (e *testEnv) uploadMultipart(t *testing.T, patientID string) string {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("xray_image", "chest.png")
	require.NoError(t, err)
	_, err = fw.Write(pngBytes(t))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("patient_id", patientID))
	require.NoError(t, mw.WriteField("body_part", "chest"))
	require.NoError(t, mw.Close())

	w := e.do(t, "POST", "/api/submissions", &buf, mw.FormDataContentType())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		SubmissionID string `json:"submission_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SubmissionID)
	return resp.SubmissionID
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t, 0.9)

	// Protected route without a token.
	req := httptest.NewRequest("GET", "/api/patients", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Login with the registered credentials.
	body, _ := json.Marshal(map[string]string{"username": "drsmith", "password": "hunter22"})
	req = httptest.NewRequest("POST", "/api/login", bytes.NewReader(body))
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Wrong password.
	body, _ = json.Marshal(map[string]string{"username": "drsmith", "password": "wrong"})
	req = httptest.NewRequest("POST", "/api/login", bytes.NewReader(body))
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Duplicate registration.
	body, _ = json.Marshal(map[string]string{"username": "drsmith", "password": "other"})
	req = httptest.NewRequest("POST", "/api/register", bytes.NewReader(body))
	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPatientValidation(t *testing.T) {
	env := newTestEnv(t, 0.9)

	cases := []struct {
		name string
		body map[string]interface{}
		want string
	}{
		{
			name: "missing fields",
			body: map[string]interface{}{"first_name": "Jane"},
			want: "Missing required fields",
		},
		{
			name: "age out of range",
			body: map[string]interface{}{
				"first_name": "Jane", "surname": "Doe", "age": 130,
				"gender": "female", "phone": "555-0100",
			},
			want: "Age must be between 0 and 120",
		},
		{
			name: "bad gender",
			body: map[string]interface{}{
				"first_name": "Jane", "surname": "Doe", "age": 42,
				"gender": "unknown", "phone": "555-0100",
			},
			want: "Invalid gender selection",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			body, _ := json.Marshal(tc.body)
			w := env.do(t, "POST", "/api/patients", bytes.NewReader(body), "application/json")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), tc.want)
		})
	}
}

func TestUploadAndAnalyzeWorkflow(t *testing.T) {
	env := newTestEnv(t, 0.9)
	patientID := env.createPatient(t)
	submissionID := env.uploadMultipart(t, patientID)

	// Upload advances the patient's workflow status.
	w := env.do(t, "GET", "/api/patients", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), store.PatientXRayUploaded)

	w = env.do(t, "POST", "/api/submissions/"+submissionID+"/analyze", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Success bool `json:"success"`
		Result  struct {
			Diagnosis  string  `json:"diagnosis"`
			Confidence float64 `json:"confidence"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, analysis.DiagnosisPneumonia, resp.Result.Diagnosis)
	assert.InDelta(t, 0.9, resp.Result.Confidence, 1e-6)

	// Submission reached analyzed, patient reached analysis_completed.
	w = env.do(t, "GET", "/api/submissions/"+submissionID, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), store.SubmissionAnalyzed)

	w = env.do(t, "GET", "/api/patients", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), store.PatientAnalysisCompleted)

	// Second analyze call short-circuits to the stored result.
	w = env.do(t, "POST", "/api/submissions/"+submissionID+"/analyze", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"already_analyzed":true`)

	w = env.do(t, "GET", "/api/results", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), analysis.DiagnosisPneumonia)
}

func TestUploadJSONBase64(t *testing.T) {
	env := newTestEnv(t, 0.3)
	patientID := env.createPatient(t)

	body, _ := json.Marshal(map[string]string{
		"patient_id": patientID,
		"file_name":  "chest.png",
		"file_data":  base64.StdEncoding.EncodeToString(pngBytes(t)),
	})
	w := env.do(t, "POST", "/api/submissions", bytes.NewReader(body), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "X-ray uploaded successfully")
}

func TestUploadRawBody(t *testing.T) {
	env := newTestEnv(t, 0.3)
	patientID := env.createPatient(t)

	path := fmt.Sprintf("/api/submissions?patient_id=%s&file_name=chest.png", patientID)
	w := env.do(t, "POST", path, bytes.NewReader(pngBytes(t)), "application/octet-stream")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestUploadUnknownPatient(t *testing.T) {
	env := newTestEnv(t, 0.3)

	body, _ := json.Marshal(map[string]string{
		"patient_id": "HOSP-20260830-dead",
		"file_name":  "chest.png",
		"file_data":  base64.StdEncoding.EncodeToString(pngBytes(t)),
	})
	w := env.do(t, "POST", "/api/submissions", bytes.NewReader(body), "application/json")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnalyzeUnknownSubmission(t *testing.T) {
	env := newTestEnv(t, 0.3)

	w := env.do(t, "POST", "/api/submissions/xray_deadbeef/analyze", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

// A corrupt upload still produces a persisted, well-formed result with an
// error-category diagnosis rather than an HTTP failure.
func TestAnalyzeCorruptUploadYieldsFailureResult(t *testing.T) {
	env := newTestEnv(t, 0.9)
	patientID := env.createPatient(t)

	body, _ := json.Marshal(map[string]string{
		"patient_id": patientID,
		"file_name":  "broken.png",
		"file_data":  base64.StdEncoding.EncodeToString([]byte("not an image")),
	})
	w := env.do(t, "POST", "/api/submissions", bytes.NewReader(body), "application/json")
	require.Equal(t, http.StatusOK, w.Code)

	var up struct {
		SubmissionID string `json:"submission_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &up))

	w = env.do(t, "POST", "/api/submissions/"+up.SubmissionID+"/analyze", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), analysis.DiagnosisFailed)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, 0.9)

	w := env.do(t, "GET", "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "GET", "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "total_analyses")
}
