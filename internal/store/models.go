// Package store persists candidates and their resume sections.
package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

const StatusActive = "active"

// Candidate is a candidate profile with its extracted resume sections.
type Candidate struct {
	ID                  int64     `json:"id"`
	Email               string    `json:"email" mapstructure:"email"`
	FullName            string    `json:"full_name" mapstructure:"full_name"`
	Country             string    `json:"country,omitempty" mapstructure:"country"`
	Location            string    `json:"location,omitempty" mapstructure:"location"`
	Phone               string    `json:"phone,omitempty" mapstructure:"phone"`
	Hired               bool      `json:"hired"`
	Status              string    `json:"status"`
	ResumeURL           string    `json:"resume_url,omitempty"`
	EmbeddingsNamespace string    `json:"embeddings_namespace"`
	Content             string    `json:"content,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`

	Educations     []Education     `json:"educations,omitempty"`
	Experiences    []Experience    `json:"experiences,omitempty"`
	Projects       []Project       `json:"projects,omitempty"`
	Certifications []Certification `json:"certifications,omitempty"`
	Skills         []Skill         `json:"skills,omitempty"`
}

type Education struct {
	ID          int64  `json:"id"`
	Institution string `json:"institution" mapstructure:"institution"`
	Degree      string `json:"degree,omitempty" mapstructure:"degree"`
	Major       string `json:"major,omitempty" mapstructure:"major"`
	StartDate   string `json:"start_date,omitempty" mapstructure:"start_date"`
	EndDate     string `json:"end_date,omitempty" mapstructure:"end_date"`
}

type Experience struct {
	ID          int64  `json:"id"`
	CompanyName string `json:"company_name" mapstructure:"company_name"`
	Role        string `json:"role,omitempty" mapstructure:"role"`
	StartDate   string `json:"start_date,omitempty" mapstructure:"start_date"`
	EndDate     string `json:"end_date,omitempty" mapstructure:"end_date"`
	Description string `json:"description,omitempty" mapstructure:"description"`
}

type Project struct {
	ID               int64  `json:"id"`
	ProjectName      string `json:"project_name" mapstructure:"project_name"`
	Description      string `json:"description,omitempty" mapstructure:"description"`
	TechnologiesUsed string `json:"technologies_used,omitempty" mapstructure:"technologies_used"`
	Link             string `json:"link,omitempty" mapstructure:"link"`
}

type Certification struct {
	ID                  int64  `json:"id"`
	CertificationName   string `json:"certification_name" mapstructure:"certification_name"`
	IssuingOrganization string `json:"issuing_organization,omitempty" mapstructure:"issuing_organization"`
	IssueDate           string `json:"issue_date,omitempty" mapstructure:"issue_date"`
	ExpirationDate      string `json:"expiration_date,omitempty" mapstructure:"expiration_date"`
}

type Skill struct {
	ID       int64  `json:"id"`
	Name     string `json:"name" mapstructure:"name"`
	Category string `json:"category,omitempty" mapstructure:"category"`
}

// CandidateUpdate is a partial update; nil fields are left unchanged.
type CandidateUpdate struct {
	Email     *string `json:"email,omitempty"`
	FullName  *string `json:"full_name,omitempty"`
	Country   *string `json:"country,omitempty"`
	Location  *string `json:"location,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Status    *string `json:"status,omitempty"`
	Hired     *bool   `json:"hired,omitempty"`
	ResumeURL *string `json:"resume_url,omitempty"`
}

// Empty reports whether u changes nothing.
func (u CandidateUpdate) Empty() bool {
	return u.Email == nil && u.FullName == nil && u.Country == nil && u.Location == nil &&
		u.Phone == nil && u.Status == nil && u.Hired == nil && u.ResumeURL == nil
}
