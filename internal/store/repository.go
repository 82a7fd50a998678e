package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/ChamsBouzaiene/cvagent/internal/sqldb"
)

const candidateColumns = `id, email, full_name, country, location, phone, hired, status,
resume_url, embeddings_namespace, content, created_at, updated_at`

// Repository reads and writes candidates on either dialect.
type Repository struct {
	db  *sqldb.DB
	now func() time.Time
}

func NewRepository(db *sqldb.DB) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// CreateCandidate inserts c and all of its sections in one transaction and
// returns the stored candidate.
func (r *Repository) CreateCandidate(ctx context.Context, c *Candidate) (*Candidate, error) {
	if c.Status == "" {
		c.Status = StatusActive
	}
	now := r.now()

	tx, err := r.db.SQL().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, r.db.Rebind(`INSERT INTO candidates
(email, full_name, country, location, phone, hired, status, resume_url, embeddings_namespace, content, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		c.Email, c.FullName, c.Country, c.Location, c.Phone, c.Hired, c.Status,
		c.ResumeURL, c.EmbeddingsNamespace, c.Content, now, now,
	).Scan(&id)
	if err != nil {
		return nil, classify("insert candidate", err)
	}

	if err := r.insertSections(ctx, tx, id, c); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit candidate: %w", err)
	}

	out := *c
	out.ID = id
	out.CreatedAt = now
	out.UpdatedAt = now
	return &out, nil
}

func (r *Repository) insertSections(ctx context.Context, tx *sql.Tx, id int64, c *Candidate) error {
	exec := func(what, query string, args ...any) error {
		if _, err := tx.ExecContext(ctx, r.db.Rebind(query), args...); err != nil {
			return classify("insert "+what, err)
		}
		return nil
	}

	for _, e := range c.Educations {
		if err := exec("education", `INSERT INTO educations (candidate_id, institution, degree, major, start_date, end_date)
VALUES (?, ?, ?, ?, ?, ?)`, id, e.Institution, e.Degree, e.Major, e.StartDate, e.EndDate); err != nil {
			return err
		}
	}
	for _, e := range c.Experiences {
		if err := exec("experience", `INSERT INTO experiences (candidate_id, company_name, role, start_date, end_date, description)
VALUES (?, ?, ?, ?, ?, ?)`, id, e.CompanyName, e.Role, e.StartDate, e.EndDate, e.Description); err != nil {
			return err
		}
	}
	for _, p := range c.Projects {
		if err := exec("project", `INSERT INTO projects (candidate_id, project_name, description, technologies_used, link)
VALUES (?, ?, ?, ?, ?)`, id, p.ProjectName, p.Description, p.TechnologiesUsed, p.Link); err != nil {
			return err
		}
	}
	for _, cert := range c.Certifications {
		if err := exec("certification", `INSERT INTO certifications (candidate_id, certification_name, issuing_organization, issue_date, expiration_date)
VALUES (?, ?, ?, ?, ?)`, id, cert.CertificationName, cert.IssuingOrganization, cert.IssueDate, cert.ExpirationDate); err != nil {
			return err
		}
	}

	seen := map[string]bool{}
	for _, s := range c.Skills {
		name := strings.TrimSpace(s.Name)
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true

		if err := exec("skill", `INSERT INTO skills (name, category) VALUES (?, ?) ON CONFLICT (name) DO NOTHING`, name, s.Category); err != nil {
			return err
		}
		var skillID int64
		if err := tx.QueryRowContext(ctx, r.db.Rebind(`SELECT id FROM skills WHERE name = ?`), name).Scan(&skillID); err != nil {
			return fmt.Errorf("lookup skill %s: %w", name, err)
		}
		if err := exec("candidate skill", `INSERT INTO candidate_skills (candidate_id, skill_id) VALUES (?, ?) ON CONFLICT DO NOTHING`, id, skillID); err != nil {
			return err
		}
	}
	return nil
}

// GetCandidate returns the candidate with its sections.
func (r *Repository) GetCandidate(ctx context.Context, id int64) (*Candidate, error) {
	return r.getBy(ctx, "id", id)
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (*Candidate, error) {
	return r.getBy(ctx, "email", email)
}

func (r *Repository) GetByNamespace(ctx context.Context, namespace string) (*Candidate, error) {
	return r.getBy(ctx, "embeddings_namespace", namespace)
}

func (r *Repository) getBy(ctx context.Context, column string, value any) (*Candidate, error) {
	row := r.db.SQL().QueryRowContext(ctx,
		r.db.Rebind(`SELECT `+candidateColumns+` FROM candidates WHERE `+column+` = ?`), value)
	c, err := scanCandidate(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("candidate %s=%v: %w", column, value, ErrNotFound)
		}
		return nil, fmt.Errorf("get candidate: %w", err)
	}
	if err := r.loadSections(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ListCandidates returns one page of candidates without their sections.
// page is 1-based.
func (r *Repository) ListCandidates(ctx context.Context, page, size int) ([]Candidate, error) {
	if page < 1 {
		page = 1
	}
	rows, err := r.db.SQL().QueryContext(ctx,
		r.db.Rebind(`SELECT `+candidateColumns+` FROM candidates ORDER BY id LIMIT ? OFFSET ?`),
		size, (page-1)*size)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()

	out := []Candidate{}
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *Repository) CountCandidates(ctx context.Context) (int, error) {
	var n int
	if err := r.db.SQL().QueryRowContext(ctx, `SELECT COUNT(*) FROM candidates`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count candidates: %w", err)
	}
	return n, nil
}

// UpdateCandidate applies the non-nil fields of u and bumps updated_at.
func (r *Repository) UpdateCandidate(ctx context.Context, id int64, u CandidateUpdate) (*Candidate, error) {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if u.Email != nil {
		set("email", *u.Email)
	}
	if u.FullName != nil {
		set("full_name", *u.FullName)
	}
	if u.Country != nil {
		set("country", *u.Country)
	}
	if u.Location != nil {
		set("location", *u.Location)
	}
	if u.Phone != nil {
		set("phone", *u.Phone)
	}
	if u.Status != nil {
		set("status", *u.Status)
	}
	if u.Hired != nil {
		set("hired", *u.Hired)
	}
	if u.ResumeURL != nil {
		set("resume_url", *u.ResumeURL)
	}
	set("updated_at", r.now())
	args = append(args, id)

	res, err := r.db.SQL().ExecContext(ctx,
		r.db.Rebind(`UPDATE candidates SET `+strings.Join(sets, ", ")+` WHERE id = ?`), args...)
	if err != nil {
		return nil, classify("update candidate", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update candidate: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("candidate id=%d: %w", id, ErrNotFound)
	}
	return r.GetCandidate(ctx, id)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCandidate(s scanner) (*Candidate, error) {
	var c Candidate
	var country, location, phone, resumeURL, content sql.NullString
	err := s.Scan(&c.ID, &c.Email, &c.FullName, &country, &location, &phone, &c.Hired, &c.Status,
		&resumeURL, &c.EmbeddingsNamespace, &content, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Country = country.String
	c.Location = location.String
	c.Phone = phone.String
	c.ResumeURL = resumeURL.String
	c.Content = content.String
	return &c, nil
}

func (r *Repository) loadSections(ctx context.Context, c *Candidate) error {
	q := func(query string) (*sql.Rows, error) {
		return r.db.SQL().QueryContext(ctx, r.db.Rebind(query), c.ID)
	}

	rows, err := q(`SELECT id, institution, COALESCE(degree, ''), COALESCE(major, ''), COALESCE(start_date, ''), COALESCE(end_date, '')
FROM educations WHERE candidate_id = ? ORDER BY id`)
	if err != nil {
		return fmt.Errorf("load educations: %w", err)
	}
	err = collect(rows, func(rs *sql.Rows) error {
		var e Education
		if err := rs.Scan(&e.ID, &e.Institution, &e.Degree, &e.Major, &e.StartDate, &e.EndDate); err != nil {
			return err
		}
		c.Educations = append(c.Educations, e)
		return nil
	})
	if err != nil {
		return fmt.Errorf("load educations: %w", err)
	}

	rows, err = q(`SELECT id, company_name, COALESCE(role, ''), COALESCE(start_date, ''), COALESCE(end_date, ''), COALESCE(description, '')
FROM experiences WHERE candidate_id = ? ORDER BY id`)
	if err != nil {
		return fmt.Errorf("load experiences: %w", err)
	}
	err = collect(rows, func(rs *sql.Rows) error {
		var e Experience
		if err := rs.Scan(&e.ID, &e.CompanyName, &e.Role, &e.StartDate, &e.EndDate, &e.Description); err != nil {
			return err
		}
		c.Experiences = append(c.Experiences, e)
		return nil
	})
	if err != nil {
		return fmt.Errorf("load experiences: %w", err)
	}

	rows, err = q(`SELECT id, project_name, COALESCE(description, ''), COALESCE(technologies_used, ''), COALESCE(link, '')
FROM projects WHERE candidate_id = ? ORDER BY id`)
	if err != nil {
		return fmt.Errorf("load projects: %w", err)
	}
	err = collect(rows, func(rs *sql.Rows) error {
		var p Project
		if err := rs.Scan(&p.ID, &p.ProjectName, &p.Description, &p.TechnologiesUsed, &p.Link); err != nil {
			return err
		}
		c.Projects = append(c.Projects, p)
		return nil
	})
	if err != nil {
		return fmt.Errorf("load projects: %w", err)
	}

	rows, err = q(`SELECT id, certification_name, COALESCE(issuing_organization, ''), COALESCE(issue_date, ''), COALESCE(expiration_date, '')
FROM certifications WHERE candidate_id = ? ORDER BY id`)
	if err != nil {
		return fmt.Errorf("load certifications: %w", err)
	}
	err = collect(rows, func(rs *sql.Rows) error {
		var ce Certification
		if err := rs.Scan(&ce.ID, &ce.CertificationName, &ce.IssuingOrganization, &ce.IssueDate, &ce.ExpirationDate); err != nil {
			return err
		}
		c.Certifications = append(c.Certifications, ce)
		return nil
	})
	if err != nil {
		return fmt.Errorf("load certifications: %w", err)
	}

	rows, err = q(`SELECT s.id, s.name, COALESCE(s.category, '') FROM skills s
JOIN candidate_skills cs ON cs.skill_id = s.id WHERE cs.candidate_id = ? ORDER BY s.name`)
	if err != nil {
		return fmt.Errorf("load skills: %w", err)
	}
	err = collect(rows, func(rs *sql.Rows) error {
		var s Skill
		if err := rs.Scan(&s.ID, &s.Name, &s.Category); err != nil {
			return err
		}
		c.Skills = append(c.Skills, s)
		return nil
	})
	if err != nil {
		return fmt.Errorf("load skills: %w", err)
	}
	return nil
}

func collect(rows *sql.Rows, fn func(*sql.Rows) error) error {
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func classify(op string, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrConflict, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
