// Package plpgsql provides PL/pgSQL builder types for anonymous DO blocks.
package plpgsql

import (
	"strings"

	"github.com/lib/pq"
)

// =============================================================================
// DO Block Builder
// =============================================================================
//
// This file provides a typed builder for the DO blocks remigrate wraps around
// statements, centralizing their formatting and indentation so guards are
// rendered identically everywhere and can be recognized again later.

const indentUnit = "    "

// Stmt is a PL/pgSQL statement that can be rendered to SQL.
type Stmt interface {
	StmtSQL() string
}

// Verbatim embeds caller SQL without touching it. Only the first line is
// indented; continuation lines keep their original bytes so the statement
// can be recovered exactly.
type Verbatim struct {
	SQLText string
}

func (v Verbatim) StmtSQL() string {
	return v.SQLText
}

// Null renders the NULL; no-op statement.
type Null struct{}

func (Null) StmtSQL() string {
	return "NULL;"
}

// Notice renders RAISE NOTICE '<message>: %', SQLERRM;
type Notice struct {
	Message string
}

func (n Notice) StmtSQL() string {
	return "RAISE NOTICE " + pq.QuoteLiteral(n.Message+": %") + ", SQLERRM;"
}

// Handler is one WHEN clause of an EXCEPTION section.
type Handler struct {
	Conditions []string // condition names, joined with OR
	Body       []Stmt
}

// Block renders a nested BEGIN ... EXCEPTION ... END; block.
type Block struct {
	Body     []Stmt
	Handlers []Handler
}

func (b Block) StmtSQL() string {
	var sb strings.Builder
	writeBlock(&sb, b, "")
	return strings.TrimSuffix(sb.String(), "\n")
}

// DoBlock represents an anonymous code block quoted with a named dollar tag.
type DoBlock struct {
	Tag  string // dollar-quote tag without the dollars
	Body []Stmt
}

// SQL renders the complete DO statement, terminated with a semicolon.
func (d DoBlock) SQL() string {
	var sb strings.Builder
	sb.WriteString("DO $")
	sb.WriteString(d.Tag)
	sb.WriteString("$ BEGIN\n")
	for _, stmt := range d.Body {
		writeStmt(&sb, stmt, indentUnit)
	}
	sb.WriteString("END $")
	sb.WriteString(d.Tag)
	sb.WriteString("$;")
	return sb.String()
}

// Guard renders stmt inside a DO block whose exception handler swallows
// the given conditions, one WHEN clause per condition:
//
//	DO $migration$ BEGIN
//	    BEGIN
//	        CREATE POLICY ...;
//	    EXCEPTION
//	        WHEN duplicate_object THEN NULL;
//	        WHEN insufficient_privilege THEN NULL;
//	    END;
//	END $migration$;
//
// When notice is non-empty each handler raises a NOTICE with that prefix
// instead of doing nothing.
func Guard(tag, stmt string, conditions []string, notice string) string {
	handlers := make([]Handler, 0, len(conditions))
	for _, cond := range conditions {
		var body Stmt = Null{}
		if notice != "" {
			body = Notice{Message: notice}
		}
		handlers = append(handlers, Handler{Conditions: []string{cond}, Body: []Stmt{body}})
	}
	return DoBlock{
		Tag: tag,
		Body: []Stmt{Block{
			Body:     []Stmt{Verbatim{SQLText: stmt}},
			Handlers: handlers,
		}},
	}.SQL()
}

func writeStmt(sb *strings.Builder, stmt Stmt, indent string) {
	switch s := stmt.(type) {
	case Verbatim:
		sb.WriteString(indent)
		sb.WriteString(s.SQLText)
		sb.WriteString("\n")
	case Block:
		writeBlock(sb, s, indent)
	default:
		for _, line := range strings.Split(stmt.StmtSQL(), "\n") {
			sb.WriteString(indent)
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
}

func writeBlock(sb *strings.Builder, b Block, indent string) {
	sb.WriteString(indent)
	sb.WriteString("BEGIN\n")
	for _, stmt := range b.Body {
		writeStmt(sb, stmt, indent+indentUnit)
	}
	if len(b.Handlers) > 0 {
		sb.WriteString(indent)
		sb.WriteString("EXCEPTION\n")
		for _, h := range b.Handlers {
			writeHandler(sb, h, indent+indentUnit)
		}
	}
	sb.WriteString(indent)
	sb.WriteString("END;\n")
}

func writeHandler(sb *strings.Builder, h Handler, indent string) {
	sb.WriteString(indent)
	sb.WriteString("WHEN ")
	sb.WriteString(strings.Join(h.Conditions, " OR "))
	sb.WriteString(" THEN")

	// Single-line bodies stay on the WHEN line.
	if len(h.Body) == 1 && !strings.Contains(h.Body[0].StmtSQL(), "\n") {
		sb.WriteString(" ")
		sb.WriteString(h.Body[0].StmtSQL())
		sb.WriteString("\n")
		return
	}
	sb.WriteString("\n")
	for _, stmt := range h.Body {
		writeStmt(sb, stmt, indent+indentUnit)
	}
}
