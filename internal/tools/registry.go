package tools

import (
	"context"
	"fmt"

	"github.com/ChamsBouzaiene/cvagent/internal/engine"
	"github.com/ChamsBouzaiene/cvagent/internal/indexer"
	"github.com/ChamsBouzaiene/cvagent/internal/sqldb"
)

// Database is the relational backend the query tools run against.
type Database interface {
	ListTables(ctx context.Context) ([]string, error)
	DescribeTables(ctx context.Context, tables []string) ([]sqldb.Table, error)
	Query(ctx context.Context, query string, maxRows int) (*sqldb.Rows, error)
}

// Matcher ranks candidates against free text.
type Matcher interface {
	MatchCandidates(ctx context.Context, text string, limit int) ([]indexer.Match, error)
}

// Asker obtains a free-text answer from a human.
type Asker interface {
	Ask(ctx context.Context, question string) (string, error)
}

const (
	DefaultMaxRows        = 50
	DefaultMatchLimit     = 4
	DefaultMaxOutputToken = 2000
)

// Toolset executes decoded calls against its backends.
type Toolset struct {
	DB      Database
	Matcher Matcher
	Asker   Asker

	MaxRows         int
	MatchLimit      int
	MaxOutputTokens int
	Tokenizer       engine.Tokenizer
}

// Execute runs one call. Backend failures the model can correct are
// returned as result text; only cancellation and suspension are errors.
func (t *Toolset) Execute(ctx context.Context, c Call) (string, error) {
	switch c := c.(type) {
	case ListTables:
		return t.listTables(ctx)
	case GetSchema:
		return t.getSchema(ctx, c.Tables)
	case RunQuery:
		return t.runQuery(ctx, c.SQL)
	case MatchJobDescription:
		return t.matchJobDescription(ctx, c.Description)
	case AskHuman:
		return t.askHuman(ctx, c.Question)
	}
	return "", fmt.Errorf("unsupported tool call %T", c)
}

type toolSpec struct {
	description string
	schema      string
	category    string
	tags        []string
}

var specs = map[string]toolSpec{
	NameListTables: {
		description: "List the tables in the candidate database.",
		schema:      `{"type":"object","properties":{}}`,
		category:    "database",
		tags:        []string{"read-only", "idempotent"},
	},
	NameGetSchema: {
		description: "Describe the columns and types of the given tables.",
		schema:      `{"type":"object","properties":{"tables":{"type":"array","items":{"type":"string"},"minItems":1,"description":"Table names to describe"}},"required":["tables"]}`,
		category:    "database",
		tags:        []string{"read-only", "idempotent"},
	},
	NameRunQuery: {
		description: "Run one SQL statement and return the rows. On failure the result starts with \"Error:\" followed by the database error; fix the SQL and try again.",
		schema:      `{"type":"object","properties":{"sql":{"type":"string","minLength":1,"description":"A single SQL statement"}},"required":["sql"]}`,
		category:    "database",
		tags:        []string{"data-plane"},
	},
	NameMatchJobDescription: {
		description: "Find the candidates whose resumes best match a job description. Returns up to four embeddings_namespace values, best first.",
		schema:      `{"type":"object","properties":{"description":{"type":"string","minLength":1,"description":"Job description or role requirements"}},"required":["description"]}`,
		category:    "search",
		tags:        []string{"read-only", "semantic"},
	},
	NameAskHuman: {
		description: "Ask the user a clarifying question and wait for the answer. Use only when the request is genuinely ambiguous.",
		schema:      `{"type":"object","properties":{"question":{"type":"string","minLength":1}},"required":["question"]}`,
		category:    "human",
		tags:        []string{"suspends"},
	},
}

// Registry exposes the toolset as engine tools. ask_human is offered only
// when an Asker is configured and match_job_description only with a Matcher.
func (t *Toolset) Registry() engine.ToolRegistry {
	reg := make(engine.ToolRegistry)
	add := func(name string) {
		spec := specs[name]
		reg[name] = engine.Tool{
			Name:        name,
			Description: spec.description,
			SchemaJSON:  spec.schema,
			Fn: func(ctx context.Context, args map[string]any) (string, error) {
				c, err := Decode(engine.ToolCall{Name: name, Args: args})
				if err != nil {
					return "", err
				}
				return t.Execute(ctx, c)
			},
			Metadata: engine.ToolMetadata{Version: "1.0.0", Category: spec.category, Tags: spec.tags},
		}
	}

	if t.DB != nil {
		add(NameListTables)
		add(NameGetSchema)
		add(NameRunQuery)
	}
	if t.Matcher != nil {
		add(NameMatchJobDescription)
	}
	if t.Asker != nil {
		add(NameAskHuman)
	}
	return reg
}

func (t *Toolset) maxRows() int {
	if t.MaxRows > 0 {
		return t.MaxRows
	}
	return DefaultMaxRows
}

func (t *Toolset) matchLimit() int {
	if t.MatchLimit > 0 {
		return t.MatchLimit
	}
	return DefaultMatchLimit
}

func (t *Toolset) tokenBudget() (engine.Tokenizer, int) {
	tk := t.Tokenizer
	if tk == nil {
		tk = engine.DefaultTokenizer{}
	}
	if t.MaxOutputTokens > 0 {
		return tk, t.MaxOutputTokens
	}
	return tk, DefaultMaxOutputToken
}
