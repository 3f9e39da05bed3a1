// Package store persists the clinical workflow records: users, patients,
// X-ray submissions and analysis results.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Patient workflow statuses.
const (
	PatientRegistered        = "registered"
	PatientClinicianReview   = "clinician_review"
	PatientCheckupCompleted  = "checkup_completed"
	PatientSentToRadiologist = "sent_to_radiologist"
	PatientXRayUploaded      = "xray_uploaded"
	PatientAnalysisCompleted = "analysis_completed"
	PatientResultsDelivered  = "results_delivered"
)

// Submission workflow statuses.
const (
	SubmissionUploaded         = "uploaded"
	SubmissionPending          = "pending"
	SubmissionAnalyzing        = "analyzing"
	SubmissionAnalyzed         = "analyzed"
	SubmissionResultsDelivered = "results_delivered"
)

type User struct {
	Username     string
	PasswordHash string
	FullName     string
	Role         string
	ClinicName   string
	CreatedAt    time.Time
}

type Patient struct {
	PatientID     string
	FirstName     string
	SecondName    string
	Surname       string
	Age           int
	Gender        string
	Phone         string
	ClinicalNotes string
	HospitalID    string
	Status        string
	RegisteredAt  time.Time
}

// FullName joins the patient's name parts, skipping an empty middle name.
func (p Patient) FullName() string {
	if p.SecondName != "" {
		return fmt.Sprintf("%s %s %s", p.FirstName, p.SecondName, p.Surname)
	}
	return fmt.Sprintf("%s %s", p.FirstName, p.Surname)
}

type Submission struct {
	SubmissionID string
	Username     string
	PatientID    string
	FileName     string
	FilePath     string
	BodyPart     string
	Priority     string
	HospitalID   string
	Status       string
	CreatedAt    time.Time
}

type AnalysisRecord struct {
	ID               int64
	SubmissionID     string
	Radiologist      string
	Diagnosis        string
	Confidence       float64
	Findings         string
	Recommendations  string
	RadiologistNotes string
	ImagePath        string
	CreatedAt        time.Time
}

// NewPatientID mints an identifier in the HOSP-YYYYMMDD-xxxx scheme.
func NewPatientID(now time.Time) string {
	return fmt.Sprintf("HOSP-%s-%s", now.Format("20060102"), shortUUID(4))
}

// NewSubmissionID mints an identifier in the xray_xxxxxxxx scheme.
func NewSubmissionID() string {
	return "xray_" + shortUUID(8)
}

func shortUUID(n int) string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:n]
}

type Store struct {
	db *sql.DB
}

// Open creates or opens the sqlite database at path and applies migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS users (
  username TEXT PRIMARY KEY,
  password_hash TEXT NOT NULL,
  full_name TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL DEFAULT 'clinician',
  clinic_name TEXT NOT NULL DEFAULT '',
  created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS patients (
  patient_id TEXT PRIMARY KEY,
  first_name TEXT NOT NULL,
  second_name TEXT NOT NULL DEFAULT '',
  surname TEXT NOT NULL,
  age INTEGER NOT NULL,
  gender TEXT NOT NULL,
  phone TEXT NOT NULL,
  clinical_notes TEXT NOT NULL DEFAULT '',
  hospital_id TEXT NOT NULL DEFAULT 'default',
  status TEXT NOT NULL DEFAULT 'registered',
  registered_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS submissions (
  submission_id TEXT PRIMARY KEY,
  username TEXT NOT NULL,
  patient_id TEXT NOT NULL REFERENCES patients(patient_id),
  file_name TEXT NOT NULL,
  file_path TEXT NOT NULL,
  body_part TEXT NOT NULL DEFAULT 'chest',
  priority TEXT NOT NULL DEFAULT 'normal',
  hospital_id TEXT NOT NULL DEFAULT 'default',
  status TEXT NOT NULL DEFAULT 'uploaded',
  created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS results (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  submission_id TEXT NOT NULL REFERENCES submissions(submission_id),
  radiologist TEXT NOT NULL DEFAULT '',
  diagnosis TEXT NOT NULL,
  confidence REAL NOT NULL,
  findings TEXT NOT NULL,
  recommendations TEXT NOT NULL,
  radiologist_notes TEXT NOT NULL DEFAULT '',
  image_path TEXT NOT NULL DEFAULT '',
  created_at DATETIME NOT NULL
);
`)
	return err
}

func (s *Store) CreateUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO users(username, password_hash, full_name, role, clinic_name, created_at)
VALUES(?, ?, ?, ?, ?, ?);
`, u.Username, u.PasswordHash, u.FullName, u.Role, u.ClinicName, u.CreatedAt)
	return err
}

func (s *Store) GetUser(ctx context.Context, username string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `
SELECT username, password_hash, full_name, role, clinic_name, created_at
FROM users WHERE username=?;
`, username).Scan(&u.Username, &u.PasswordHash, &u.FullName, &u.Role, &u.ClinicName, &u.CreatedAt)
	return u, err
}

func (s *Store) CreatePatient(ctx context.Context, p Patient) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO patients(patient_id, first_name, second_name, surname, age, gender,
  phone, clinical_notes, hospital_id, status, registered_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, p.PatientID, p.FirstName, p.SecondName, p.Surname, p.Age, p.Gender,
		p.Phone, p.ClinicalNotes, p.HospitalID, p.Status, p.RegisteredAt)
	return err
}

func (s *Store) GetPatient(ctx context.Context, patientID string) (Patient, error) {
	var p Patient
	err := s.db.QueryRowContext(ctx, `
SELECT patient_id, first_name, second_name, surname, age, gender, phone,
  clinical_notes, hospital_id, status, registered_at
FROM patients WHERE patient_id=?;
`, patientID).Scan(&p.PatientID, &p.FirstName, &p.SecondName, &p.Surname, &p.Age,
		&p.Gender, &p.Phone, &p.ClinicalNotes, &p.HospitalID, &p.Status, &p.RegisteredAt)
	return p, err
}

func (s *Store) ListPatients(ctx context.Context) ([]Patient, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT patient_id, first_name, second_name, surname, age, gender, phone,
  clinical_notes, hospital_id, status, registered_at
FROM patients ORDER BY registered_at DESC;
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Patient
	for rows.Next() {
		var p Patient
		if err := rows.Scan(&p.PatientID, &p.FirstName, &p.SecondName, &p.Surname,
			&p.Age, &p.Gender, &p.Phone, &p.ClinicalNotes, &p.HospitalID,
			&p.Status, &p.RegisteredAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdatePatientStatus(ctx context.Context, patientID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE patients SET status=? WHERE patient_id=?;`, status, patientID)
	if err != nil {
		return err
	}
	return requireRow(res, "patient", patientID)
}

func (s *Store) CreateSubmission(ctx context.Context, sub Submission) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO submissions(submission_id, username, patient_id, file_name, file_path,
  body_part, priority, hospital_id, status, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, sub.SubmissionID, sub.Username, sub.PatientID, sub.FileName, sub.FilePath,
		sub.BodyPart, sub.Priority, sub.HospitalID, sub.Status, sub.CreatedAt)
	return err
}

func (s *Store) GetSubmission(ctx context.Context, submissionID string) (Submission, error) {
	var sub Submission
	err := s.db.QueryRowContext(ctx, `
SELECT submission_id, username, patient_id, file_name, file_path, body_part,
  priority, hospital_id, status, created_at
FROM submissions WHERE submission_id=?;
`, submissionID).Scan(&sub.SubmissionID, &sub.Username, &sub.PatientID, &sub.FileName,
		&sub.FilePath, &sub.BodyPart, &sub.Priority, &sub.HospitalID, &sub.Status, &sub.CreatedAt)
	return sub, err
}

func (s *Store) ListSubmissions(ctx context.Context, username string) ([]Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT submission_id, username, patient_id, file_name, file_path, body_part,
  priority, hospital_id, status, created_at
FROM submissions WHERE username=? ORDER BY created_at DESC;
`, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Submission
	for rows.Next() {
		var sub Submission
		if err := rows.Scan(&sub.SubmissionID, &sub.Username, &sub.PatientID,
			&sub.FileName, &sub.FilePath, &sub.BodyPart, &sub.Priority,
			&sub.HospitalID, &sub.Status, &sub.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) UpdateSubmissionStatus(ctx context.Context, submissionID, status string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE submissions SET status=? WHERE submission_id=?;`, status, submissionID)
	if err != nil {
		return err
	}
	return requireRow(res, "submission", submissionID)
}

func (s *Store) CreateResult(ctx context.Context, r AnalysisRecord) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO results(submission_id, radiologist, diagnosis, confidence, findings,
  recommendations, radiologist_notes, image_path, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, r.SubmissionID, r.Radiologist, r.Diagnosis, r.Confidence, r.Findings,
		r.Recommendations, r.RadiologistNotes, r.ImagePath, r.CreatedAt)
	return err
}

// ResultForSubmission returns the most recent analysis for a submission, or
// sql.ErrNoRows when it has none.
func (s *Store) ResultForSubmission(ctx context.Context, submissionID string) (AnalysisRecord, error) {
	var r AnalysisRecord
	err := s.db.QueryRowContext(ctx, `
SELECT id, submission_id, radiologist, diagnosis, confidence, findings,
  recommendations, radiologist_notes, image_path, created_at
FROM results WHERE submission_id=? ORDER BY created_at DESC, id DESC LIMIT 1;
`, submissionID).Scan(&r.ID, &r.SubmissionID, &r.Radiologist, &r.Diagnosis,
		&r.Confidence, &r.Findings, &r.Recommendations, &r.RadiologistNotes,
		&r.ImagePath, &r.CreatedAt)
	return r, err
}

func (s *Store) ListResults(ctx context.Context, username string) ([]AnalysisRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT r.id, r.submission_id, r.radiologist, r.diagnosis, r.confidence, r.findings,
  r.recommendations, r.radiologist_notes, r.image_path, r.created_at
FROM results r
JOIN submissions s ON s.submission_id = r.submission_id
WHERE s.username=? ORDER BY r.created_at DESC, r.id DESC;
`, username)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AnalysisRecord
	for rows.Next() {
		var r AnalysisRecord
		if err := rows.Scan(&r.ID, &r.SubmissionID, &r.Radiologist, &r.Diagnosis,
			&r.Confidence, &r.Findings, &r.Recommendations, &r.RadiologistNotes,
			&r.ImagePath, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s not found", kind, id)
	}
	return nil
}
