package server

import (
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/MGASALUCAS/deepxray/internal/store"
)

type patientRequest struct {
	FirstName     string `json:"first_name"`
	SecondName    string `json:"second_name"`
	Surname       string `json:"surname"`
	Age           *int   `json:"age"`
	Gender        string `json:"gender"`
	Phone         string `json:"phone"`
	ClinicalNotes string `json:"clinical_notes"`
	HospitalID    string `json:"hospital_id"`
}

func (s *Server) handleRegisterPatient(w http.ResponseWriter, r *http.Request) {
	var req patientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	var missing []string
	if req.FirstName == "" {
		missing = append(missing, "first_name")
	}
	if req.Surname == "" {
		missing = append(missing, "surname")
	}
	if req.Age == nil {
		missing = append(missing, "age")
	}
	if req.Gender == "" {
		missing = append(missing, "gender")
	}
	if req.Phone == "" {
		missing = append(missing, "phone")
	}
	if len(missing) > 0 {
		sendError(w, "invalid_request",
			fmt.Sprintf("Missing required fields: %s", strings.Join(missing, ", ")),
			http.StatusBadRequest)
		return
	}

	if *req.Age < 0 || *req.Age > 120 {
		sendError(w, "invalid_request", "Age must be between 0 and 120", http.StatusBadRequest)
		return
	}
	switch req.Gender {
	case "male", "female", "other":
	default:
		sendError(w, "invalid_request", "Invalid gender selection", http.StatusBadRequest)
		return
	}

	hospitalID := req.HospitalID
	if hospitalID == "" {
		hospitalID = "default"
	}

	now := time.Now().UTC()
	patient := store.Patient{
		PatientID:     store.NewPatientID(now),
		FirstName:     req.FirstName,
		SecondName:    req.SecondName,
		Surname:       req.Surname,
		Age:           *req.Age,
		Gender:        req.Gender,
		Phone:         req.Phone,
		ClinicalNotes: req.ClinicalNotes,
		HospitalID:    hospitalID,
		Status:        store.PatientRegistered,
		RegisteredAt:  now,
	}
	if err := s.store.CreatePatient(r.Context(), patient); err != nil {
		sendError(w, "internal_error", err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"patient_id": patient.PatientID,
		"message":    "Patient registered successfully",
	})
}

func (s *Server) handleListPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := s.store.ListPatients(r.Context())
	if err != nil {
		sendError(w, "internal_error", err.Error(), http.StatusInternalServerError)
		return
	}

	type patientView struct {
		PatientID string `json:"patient_id"`
		FullName  string `json:"full_name"`
		Age       int    `json:"age"`
		Gender    string `json:"gender"`
		Status    string `json:"status"`
	}
	views := make([]patientView, 0, len(patients))
	for _, p := range patients {
		views = append(views, patientView{
			PatientID: p.PatientID,
			FullName:  p.FullName(),
			Age:       p.Age,
			Gender:    p.Gender,
			Status:    p.Status,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"patients": views})
}

// uploadRequest is the decoded form of an upload regardless of which
// encoding carried it.
type uploadRequest struct {
	PatientID string
	FileName  string
	BodyPart  string
	Priority  string
	Data      []byte
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	contentType := r.Header.Get("Content-Type")

	var req *uploadRequest
	var err error
	switch {
	case strings.HasPrefix(contentType, "application/json"):
		req, err = decodeJSONUpload(r)
	case strings.HasPrefix(contentType, "multipart/form-data"):
		req, err = decodeMultipartUpload(r)
	default:
		req, err = decodeRawUpload(r)
	}
	if err != nil {
		sendError(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	if req.PatientID == "" {
		sendError(w, "invalid_request", "Patient ID required", http.StatusBadRequest)
		return
	}
	if len(req.Data) == 0 {
		sendError(w, "invalid_request", "No file data provided", http.StatusBadRequest)
		return
	}

	patient, err := s.store.GetPatient(r.Context(), req.PatientID)
	if errors.Is(err, sql.ErrNoRows) {
		sendError(w, "not_found", "Patient not found", http.StatusNotFound)
		return
	}
	if err != nil {
		sendError(w, "internal_error", err.Error(), http.StatusInternalServerError)
		return
	}

	path, err := s.saveUpload(req.FileName, req.Data)
	if err != nil {
		sendError(w, "internal_error", err.Error(), http.StatusInternalServerError)
		return
	}

	if req.BodyPart == "" {
		req.BodyPart = "chest"
	}
	if req.Priority == "" {
		req.Priority = "normal"
	}

	sub := store.Submission{
		SubmissionID: store.NewSubmissionID(),
		Username:     requestUser(r),
		PatientID:    patient.PatientID,
		FileName:     req.FileName,
		FilePath:     path,
		BodyPart:     req.BodyPart,
		Priority:     req.Priority,
		HospitalID:   patient.HospitalID,
		Status:       store.SubmissionUploaded,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateSubmission(r.Context(), sub); err != nil {
		sendError(w, "internal_error", err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.store.UpdatePatientStatus(r.Context(), patient.PatientID, store.PatientXRayUploaded); err != nil {
		sendError(w, "internal_error", err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"submission_id": sub.SubmissionID,
		"message":       "X-ray uploaded successfully",
	})
}

func decodeJSONUpload(r *http.Request) (*uploadRequest, error) {
	var body struct {
		PatientID string `json:"patient_id"`
		FileName  string `json:"file_name"`
		FileData  string `json:"file_data"`
		BodyPart  string `json:"body_part"`
		Priority  string `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(body.FileData)
	if err != nil {
		return nil, err
	}
	return &uploadRequest{
		PatientID: body.PatientID,
		FileName:  body.FileName,
		BodyPart:  body.BodyPart,
		Priority:  body.Priority,
		Data:      data,
	}, nil
}

func decodeMultipartUpload(r *http.Request) (*uploadRequest, error) {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		return nil, err
	}

	file, header, err := r.FormFile("xray_image")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}

	return &uploadRequest{
		PatientID: r.FormValue("patient_id"),
		FileName:  header.Filename,
		BodyPart:  r.FormValue("body_part"),
		Priority:  r.FormValue("priority"),
		Data:      data,
	}, nil
}

func decodeRawUpload(r *http.Request) (*uploadRequest, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	q := r.URL.Query()
	return &uploadRequest{
		PatientID: q.Get("patient_id"),
		FileName:  q.Get("file_name"),
		BodyPart:  q.Get("body_part"),
		Priority:  q.Get("priority"),
		Data:      data,
	}, nil
}

// saveUpload writes incoming bytes under the upload directory with a random
// short name, keeping the original extension.
func (s *Server) saveUpload(fileName string, data []byte) (string, error) {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return "", err
	}

	ext := filepath.Ext(fileName)
	if ext == "" {
		ext = ".png"
	}
	name := strings.ReplaceAll(uuid.New().String(), "-", "")[:8] + ext
	path := filepath.Join(s.uploadDir, name)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type resultView struct {
	Diagnosis       string  `json:"diagnosis"`
	Confidence      float64 `json:"confidence"`
	Findings        string  `json:"findings"`
	Recommendations string  `json:"recommendations"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	submissionID := mux.Vars(r)["id"]

	sub, err := s.store.GetSubmission(r.Context(), submissionID)
	if errors.Is(err, sql.ErrNoRows) {
		sendError(w, "not_found", "Submission not found", http.StatusNotFound)
		return
	}
	if err != nil {
		sendError(w, "internal_error", err.Error(), http.StatusInternalServerError)
		return
	}

	// Already-analyzed submissions short-circuit to the stored result.
	if sub.Status == store.SubmissionAnalyzed {
		if existing, err := s.store.ResultForSubmission(r.Context(), submissionID); err == nil {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"success":          true,
				"already_analyzed": true,
				"result": resultView{
					Diagnosis:       existing.Diagnosis,
					Confidence:      existing.Confidence,
					Findings:        existing.Findings,
					Recommendations: existing.Recommendations,
				},
			})
			return
		}
	}

	if err := s.store.UpdateSubmissionStatus(r.Context(), submissionID, store.SubmissionAnalyzing); err != nil {
		sendError(w, "internal_error", err.Error(), http.StatusInternalServerError)
		return
	}

	// The analyzer never fails; error categories come back as labeled
	// results and are persisted like any other outcome.
	res := s.analyzer.Analyze(r.Context(), sub.FilePath)

	record := store.AnalysisRecord{
		SubmissionID:     submissionID,
		Radiologist:      requestUser(r),
		Diagnosis:        res.Diagnosis,
		Confidence:       res.Confidence,
		Findings:         res.Findings,
		Recommendations:  res.Recommendations,
		RadiologistNotes: "AI Analysis completed",
		ImagePath:        sub.FilePath,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.store.CreateResult(r.Context(), record); err != nil {
		sendError(w, "internal_error", err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.store.UpdateSubmissionStatus(r.Context(), submissionID, store.SubmissionAnalyzed); err != nil {
		sendError(w, "internal_error", err.Error(), http.StatusInternalServerError)
		return
	}
	if err := s.store.UpdatePatientStatus(r.Context(), sub.PatientID, store.PatientAnalysisCompleted); err != nil {
		sendError(w, "internal_error", err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"result": resultView{
			Diagnosis:       res.Diagnosis,
			Confidence:      res.Confidence,
			Findings:        res.Findings,
			Recommendations: res.Recommendations,
		},
	})
}

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	submissionID := mux.Vars(r)["id"]

	sub, err := s.store.GetSubmission(r.Context(), submissionID)
	if errors.Is(err, sql.ErrNoRows) {
		sendError(w, "not_found", "Submission not found", http.StatusNotFound)
		return
	}
	if err != nil {
		sendError(w, "internal_error", err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"submission_id": sub.SubmissionID,
		"patient_id":    sub.PatientID,
		"file_name":     sub.FileName,
		"body_part":     sub.BodyPart,
		"priority":      sub.Priority,
		"status":        sub.Status,
		"created_at":    sub.CreatedAt,
	})
}

func (s *Server) handleListResults(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListResults(r.Context(), requestUser(r))
	if err != nil {
		sendError(w, "internal_error", err.Error(), http.StatusInternalServerError)
		return
	}

	type recordView struct {
		SubmissionID    string    `json:"submission_id"`
		Diagnosis       string    `json:"diagnosis"`
		Confidence      float64   `json:"confidence"`
		Findings        string    `json:"findings"`
		Recommendations string    `json:"recommendations"`
		CreatedAt       time.Time `json:"created_at"`
	}
	views := make([]recordView, 0, len(records))
	for _, rec := range records {
		views = append(views, recordView{
			SubmissionID:    rec.SubmissionID,
			Diagnosis:       rec.Diagnosis,
			Confidence:      rec.Confidence,
			Findings:        rec.Findings,
			Recommendations: rec.Recommendations,
			CreatedAt:       rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"results": views})
}
