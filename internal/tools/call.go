package tools

import (
	"fmt"

	"github.com/ChamsBouzaiene/cvagent/internal/engine"
)

// Tool names as the model sees them.
const (
	NameListTables          = "list_tables"
	NameGetSchema           = "get_schema"
	NameRunQuery            = "run_query"
	NameMatchJobDescription = "match_job_description"
	NameAskHuman            = "ask_human"
)

// Call is one decoded tool invocation. The set of variants is closed: only
// this package can add one.
type Call interface {
	toolName() string
}

type ListTables struct{}

type GetSchema struct {
	Tables []string `mapstructure:"tables"`
}

type RunQuery struct {
	SQL string `mapstructure:"sql"`
}

type MatchJobDescription struct {
	Description string `mapstructure:"description"`
}

type AskHuman struct {
	Question string `mapstructure:"question"`
}

func (ListTables) toolName() string          { return NameListTables }
func (GetSchema) toolName() string           { return NameGetSchema }
func (RunQuery) toolName() string            { return NameRunQuery }
func (MatchJobDescription) toolName() string { return NameMatchJobDescription }
func (AskHuman) toolName() string            { return NameAskHuman }

// Name returns the tool name of c.
func Name(c Call) string { return c.toolName() }

// Decode validates call's arguments against the tool schema and returns the
// typed variant for its name.
func Decode(call engine.ToolCall) (Call, error) {
	spec, ok := specs[call.Name]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", call.Name)
	}
	probe := engine.Tool{Name: call.Name, SchemaJSON: spec.schema}
	if err := probe.ValidateArgs(call.Args); err != nil {
		return nil, err
	}

	var c Call
	switch call.Name {
	case NameListTables:
		return ListTables{}, nil
	case NameGetSchema:
		var v GetSchema
		if err := engine.DecodeArgs(call.Args, &v); err != nil {
			return nil, err
		}
		c = v
	case NameRunQuery:
		var v RunQuery
		if err := engine.DecodeArgs(call.Args, &v); err != nil {
			return nil, err
		}
		c = v
	case NameMatchJobDescription:
		var v MatchJobDescription
		if err := engine.DecodeArgs(call.Args, &v); err != nil {
			return nil, err
		}
		c = v
	case NameAskHuman:
		var v AskHuman
		if err := engine.DecodeArgs(call.Args, &v); err != nil {
			return nil, err
		}
		c = v
	}
	return c, nil
}
