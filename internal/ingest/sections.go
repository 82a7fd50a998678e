package ingest

import (
	"github.com/ChamsBouzaiene/cvagent/internal/engine"
	"github.com/ChamsBouzaiene/cvagent/internal/store"
)

// Section names one structured extraction call.
type Section string

const (
	SectionProfile        Section = "profile"
	SectionEducations     Section = "educations"
	SectionExperiences    Section = "experiences"
	SectionProjects       Section = "projects"
	SectionCertifications Section = "certifications"
	SectionSkills         Section = "skills"
)

// Sections lists every extraction, in persistence order.
var Sections = []Section{
	SectionProfile,
	SectionEducations,
	SectionExperiences,
	SectionProjects,
	SectionCertifications,
	SectionSkills,
}

type profileOutput struct {
	Email    string `mapstructure:"email"`
	FullName string `mapstructure:"full_name"`
	Country  string `mapstructure:"country"`
	Location string `mapstructure:"location"`
	Phone    string `mapstructure:"phone"`
}

type educationsOutput struct {
	Entries []store.Education `mapstructure:"education_entries"`
}

type experiencesOutput struct {
	Entries []store.Experience `mapstructure:"experiences"`
}

type projectsOutput struct {
	Entries []store.Project `mapstructure:"projects"`
}

type certificationsOutput struct {
	Entries []store.Certification `mapstructure:"certifications"`
}

type skillsOutput struct {
	Entries []store.Skill `mapstructure:"skills"`
}

func arraySchema(field, itemProps string, required string) string {
	return `{
  "type": "object",
  "properties": {
    "` + field + `": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {` + itemProps + `},
        "required": [` + required + `]
      }
    }
  },
  "required": ["` + field + `"]
}`
}

var sectionSchemas = map[Section]engine.ToolSchema{
	SectionProfile: {
		Name:        "record_candidate",
		Description: "Record the candidate's contact details.",
		JSONSchema: `{
  "type": "object",
  "properties": {
    "email": {"type": "string", "description": "Primary email address"},
    "full_name": {"type": "string"},
    "country": {"type": "string"},
    "location": {"type": "string", "description": "City or region"},
    "phone": {"type": "string"}
  },
  "required": ["email", "full_name"]
}`,
	},
	SectionEducations: {
		Name:        "record_educations",
		Description: "Record every education entry.",
		JSONSchema: arraySchema("education_entries",
			`"institution": {"type": "string"}, "degree": {"type": "string"}, "major": {"type": "string"},
			"start_date": {"type": "string"}, "end_date": {"type": "string"}`,
			`"institution"`),
	},
	SectionExperiences: {
		Name:        "record_experiences",
		Description: "Record every work experience.",
		JSONSchema: arraySchema("experiences",
			`"company_name": {"type": "string"}, "role": {"type": "string"}, "start_date": {"type": "string"},
			"end_date": {"type": "string"}, "description": {"type": "string"}`,
			`"company_name"`),
	},
	SectionProjects: {
		Name:        "record_projects",
		Description: "Record every project.",
		JSONSchema: arraySchema("projects",
			`"project_name": {"type": "string"}, "description": {"type": "string"},
			"technologies_used": {"type": "string", "description": "Comma separated"}, "link": {"type": "string"}`,
			`"project_name"`),
	},
	SectionCertifications: {
		Name:        "record_certifications",
		Description: "Record every certification.",
		JSONSchema: arraySchema("certifications",
			`"certification_name": {"type": "string"}, "issuing_organization": {"type": "string"},
			"issue_date": {"type": "string"}, "expiration_date": {"type": "string"}`,
			`"certification_name"`),
	},
	SectionSkills: {
		Name:        "record_skills",
		Description: "Record every skill with a short category such as language, framework, tool or soft skill.",
		JSONSchema: arraySchema("skills",
			`"name": {"type": "string"}, "category": {"type": "string"}`,
			`"name", "category"`),
	},
}
