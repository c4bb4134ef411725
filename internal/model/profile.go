package model

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/juju/errors"
)

const dateLayout = "2006-01-02"

// Date is a calendar date carried as YYYY-MM-DD in JSON and as DATE in Postgres.
// The zero value is NULL.
type Date struct {
	time.Time
}

func ParseDate(value string) (Date, error) {
	parsed, err := time.Parse(dateLayout, strings.TrimSpace(value))
	if err != nil {
		return Date{}, errors.BadRequestf("invalid date %q, expected YYYY-MM-DD", value)
	}
	return Date{Time: parsed}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(dateLayout))
}

func (d *Date) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*d = Date{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.BadRequestf("invalid date %s", string(data))
	}
	if strings.TrimSpace(raw) == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d *Date) ScanDate(v pgtype.Date) error {
	if !v.Valid {
		*d = Date{}
		return nil
	}
	*d = Date{Time: v.Time}
	return nil
}

func (d Date) DateValue() (pgtype.Date, error) {
	if d.IsZero() {
		return pgtype.Date{}, nil
	}
	return pgtype.Date{Time: d.Time, Valid: true}, nil
}

// Profile is the role-specific record owned by an account. The set of
// implementations is closed: StudentProfile, TeacherProfile and ParentProfile.
type Profile interface {
	Role() Role
	Validate() error
	normalize()
}

type StudentProfile struct {
	ID              int64     `json:"id,omitempty"`
	AccountID       int64     `json:"user_id,omitempty"`
	StudentID       string    `json:"student_id"`
	AdmissionNumber string    `json:"admission_number"`
	AdmissionDate   Date      `json:"admission_date"`
	FirstName       string    `json:"first_name"`
	LastName        string    `json:"last_name"`
	DateOfBirth     Date      `json:"date_of_birth"`
	Gender          string    `json:"gender,omitempty"`
	Phone           string    `json:"phone,omitempty"`
	Address         string    `json:"address,omitempty"`
	ParentID        *int64    `json:"parent_id,omitempty"`
	CreatedAt       time.Time `json:"created_at,omitempty"`
	UpdatedAt       time.Time `json:"updated_at,omitempty"`
}

type TeacherProfile struct {
	ID             int64     `json:"id,omitempty"`
	AccountID      int64     `json:"user_id,omitempty"`
	EmployeeID     string    `json:"employee_id"`
	FirstName      string    `json:"first_name"`
	LastName       string    `json:"last_name"`
	Phone          string    `json:"phone,omitempty"`
	Qualification  string    `json:"qualification,omitempty"`
	Specialization string    `json:"specialization,omitempty"`
	JoiningDate    Date      `json:"joining_date"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
	UpdatedAt      time.Time `json:"updated_at,omitempty"`
}

type ParentProfile struct {
	ID         int64     `json:"id,omitempty"`
	AccountID  int64     `json:"user_id,omitempty"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Phone      string    `json:"phone"`
	Occupation string    `json:"occupation,omitempty"`
	Address    string    `json:"address,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

func (*StudentProfile) Role() Role { return RoleStudent }
func (*TeacherProfile) Role() Role { return RoleTeacher }
func (*ParentProfile) Role() Role  { return RoleParent }

func (p *StudentProfile) normalize() {
	p.StudentID = strings.TrimSpace(p.StudentID)
	p.AdmissionNumber = strings.TrimSpace(p.AdmissionNumber)
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Gender = strings.TrimSpace(p.Gender)
	p.Phone = strings.TrimSpace(p.Phone)
	p.Address = strings.TrimSpace(p.Address)
	if p.StudentID == "" {
		p.StudentID = p.AdmissionNumber
	}
}

func (p *StudentProfile) Validate() error {
	var missing []string
	if p.AdmissionNumber == "" {
		missing = append(missing, "admission_number")
	}
	if p.AdmissionDate.IsZero() {
		missing = append(missing, "admission_date")
	}
	if p.FirstName == "" {
		missing = append(missing, "first_name")
	}
	if p.LastName == "" {
		missing = append(missing, "last_name")
	}
	if len(missing) > 0 {
		return missingFields(RoleStudent, missing)
	}
	if p.Gender != "" && !validGender(p.Gender) {
		return errors.BadRequestf("invalid gender %q", p.Gender)
	}
	if p.ParentID != nil && *p.ParentID <= 0 {
		return errors.BadRequestf("invalid parent_id %d", *p.ParentID)
	}
	return nil
}

func (p *TeacherProfile) normalize() {
	p.EmployeeID = strings.TrimSpace(p.EmployeeID)
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Phone = strings.TrimSpace(p.Phone)
	p.Qualification = strings.TrimSpace(p.Qualification)
	p.Specialization = strings.TrimSpace(p.Specialization)
}

func (p *TeacherProfile) Validate() error {
	var missing []string
	if p.EmployeeID == "" {
		missing = append(missing, "employee_id")
	}
	if p.FirstName == "" {
		missing = append(missing, "first_name")
	}
	if p.LastName == "" {
		missing = append(missing, "last_name")
	}
	if len(missing) > 0 {
		return missingFields(RoleTeacher, missing)
	}
	return nil
}

func (p *ParentProfile) normalize() {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.LastName = strings.TrimSpace(p.LastName)
	p.Phone = strings.TrimSpace(p.Phone)
	p.Occupation = strings.TrimSpace(p.Occupation)
	p.Address = strings.TrimSpace(p.Address)
}

func (p *ParentProfile) Validate() error {
	var missing []string
	if p.FirstName == "" {
		missing = append(missing, "first_name")
	}
	if p.LastName == "" {
		missing = append(missing, "last_name")
	}
	if p.Phone == "" {
		missing = append(missing, "phone")
	}
	if len(missing) > 0 {
		return missingFields(RoleParent, missing)
	}
	return nil
}

// DecodeProfile builds the profile variant that belongs to role from raw JSON.
// Admin accounts carry no profile and always yield nil.
func DecodeProfile(role Role, raw json.RawMessage) (Profile, error) {
	var profile Profile
	switch role {
	case RoleAdmin:
		return nil, nil
	case RoleStudent:
		profile = &StudentProfile{}
	case RoleTeacher:
		profile = &TeacherProfile{}
	case RoleParent:
		profile = &ParentProfile{}
	default:
		return nil, errors.BadRequestf("invalid role %q", role)
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, errors.BadRequestf("profile is required for role %s", role)
	}
	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(profile); err != nil {
		if errors.Is(err, errors.BadRequest) {
			return nil, err
		}
		return nil, errors.BadRequestf("invalid %s profile: %v", strings.ToLower(string(role)), err)
	}
	profile.normalize()
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return profile, nil
}

func validGender(value string) bool {
	switch value {
	case "Male", "Female", "Other":
		return true
	default:
		return false
	}
}

func missingFields(role Role, fields []string) error {
	return errors.BadRequestf("missing required %s profile fields: %s", strings.ToLower(string(role)), strings.Join(fields, ", "))
}
