package sqlscan

import "strings"

// Kind is the statement class a scanner result falls into.
type Kind int

const (
	KindOther Kind = iota
	KindPolicy
	KindTrigger
	KindIndex
	KindRLS
	KindFunction
	KindType
	KindComment
	KindDropTrigger
	KindDropPolicy
	KindOwnerChange
	KindGrant
	KindDo
	KindTable
	KindView
)

var kindNames = map[Kind]string{
	KindOther:       "other",
	KindPolicy:      "policy",
	KindTrigger:     "trigger",
	KindIndex:       "index",
	KindRLS:         "rls",
	KindFunction:    "function",
	KindType:        "type",
	KindComment:     "comment",
	KindDropTrigger: "drop-trigger",
	KindDropPolicy:  "drop-policy",
	KindOwnerChange: "owner-change",
	KindGrant:       "grant",
	KindDo:          "do",
	KindTable:       "table",
	KindView:        "view",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, bool) {
	for k, name := range kindNames {
		if name == strings.ToLower(strings.TrimSpace(s)) {
			return k, true
		}
	}
	return KindOther, false
}

// Classify determines the statement kind from its leading keywords.
//
// CREATE INDEX CONCURRENTLY is reported as KindOther: it cannot run inside a
// transaction block, so no guard can be placed around it.
func Classify(stmt Statement) Kind {
	return classifyTokens(Tokens(stmt, 0))
}

func classifyTokens(toks []Token) Kind {
	c := &cursor{toks: toks}
	switch {
	case c.accept("CREATE"):
		c.accept("OR", "REPLACE")
		switch {
		case c.accept("POLICY"):
			return KindPolicy
		case c.accept("CONSTRAINT", "TRIGGER"), c.accept("TRIGGER"):
			return KindTrigger
		case c.accept("UNIQUE", "INDEX"), c.accept("INDEX"):
			if c.peekIs("CONCURRENTLY") {
				return KindOther
			}
			return KindIndex
		case c.accept("FUNCTION"), c.accept("PROCEDURE"):
			return KindFunction
		case c.accept("TYPE"):
			return KindType
		}
		c.acceptAny("GLOBAL", "LOCAL")
		c.acceptAny("TEMP", "TEMPORARY", "UNLOGGED")
		c.acceptAny("MATERIALIZED", "RECURSIVE")
		switch {
		case c.accept("TABLE"):
			return KindTable
		case c.accept("VIEW"):
			return KindView
		}
	case c.accept("ALTER"):
		if c.accept("DEFAULT", "PRIVILEGES") {
			return KindGrant
		}
		table := c.peekIs("TABLE")
		if !c.acceptObjectType() {
			break
		}
		c.accept("IF", "EXISTS")
		c.accept("ONLY")
		c.objectRef()
		// OWNER TO counts only right after the object, never inside e.g.
		// RENAME COLUMN owner TO owner_id.
		if c.accept("OWNER", "TO") {
			return KindOwnerChange
		}
		if table && c.acceptAny("ENABLE", "FORCE") && c.accept("ROW", "LEVEL", "SECURITY") && c.atEnd() {
			return KindRLS
		}
	case c.accept("COMMENT", "ON"):
		return KindComment
	case c.accept("DROP", "TRIGGER"):
		return KindDropTrigger
	case c.accept("DROP", "POLICY"):
		return KindDropPolicy
	case c.acceptAny("GRANT", "REVOKE"):
		return KindGrant
	case c.accept("DO"):
		return KindDo
	}
	return KindOther
}

// alterTargets are the object types ALTER ... OWNER TO accepts, longest
// first so multi-word types win over their prefixes.
var alterTargets = [][]string{
	{"TEXT", "SEARCH", "CONFIGURATION"},
	{"TEXT", "SEARCH", "DICTIONARY"},
	{"FOREIGN", "DATA", "WRAPPER"},
	{"PROCEDURAL", "LANGUAGE"},
	{"EVENT", "TRIGGER"},
	{"FOREIGN", "TABLE"},
	{"LARGE", "OBJECT"},
	{"MATERIALIZED", "VIEW"},
	{"OPERATOR", "CLASS"},
	{"OPERATOR", "FAMILY"},
	{"AGGREGATE"}, {"COLLATION"}, {"CONVERSION"}, {"DATABASE"}, {"DOMAIN"},
	{"FUNCTION"}, {"LANGUAGE"}, {"OPERATOR"}, {"PROCEDURE"}, {"PUBLICATION"},
	{"ROUTINE"}, {"SCHEMA"}, {"SEQUENCE"}, {"SERVER"}, {"STATISTICS"},
	{"SUBSCRIPTION"}, {"TABLE"}, {"TABLESPACE"}, {"TYPE"}, {"VIEW"},
}

// commentTargets are the object-type keywords that may follow COMMENT ON.
var commentTargets = map[string]bool{
	"ACCESS": true, "AGGREGATE": true, "CAST": true, "CLASS": true,
	"COLLATION": true, "COLUMN": true, "CONFIGURATION": true, "CONSTRAINT": true,
	"CONVERSION": true, "DATA": true, "DATABASE": true, "DICTIONARY": true,
	"DOMAIN": true, "EVENT": true, "EXTENSION": true, "FAMILY": true,
	"FOREIGN": true, "FUNCTION": true, "INDEX": true, "LANGUAGE": true,
	"LARGE": true, "MATERIALIZED": true, "METHOD": true, "OBJECT": true,
	"OPERATOR": true, "PARSER": true, "POLICY": true, "PROCEDURAL": true,
	"PROCEDURE": true, "PUBLICATION": true, "ROLE": true, "ROUTINE": true,
	"RULE": true, "SCHEMA": true, "SEARCH": true, "SEQUENCE": true,
	"SERVER": true, "STATISTICS": true, "SUBSCRIPTION": true, "TABLE": true,
	"TABLESPACE": true, "TEMPLATE": true, "TEXT": true, "TRANSFORM": true,
	"TRIGGER": true, "TYPE": true, "VIEW": true, "WRAPPER": true,
}

// ObjectName returns the name of the object a statement creates, alters or
// drops, as written (quotes preserved). For policies, triggers and indexes
// on is the table the object is attached to. Index names may be empty when
// Postgres is left to generate them.
func ObjectName(stmt Statement) (name, on string) {
	toks := Tokens(stmt, 0)
	kind := classifyTokens(toks)
	c := &cursor{toks: toks}

	switch kind {
	case KindPolicy:
		c.skipTo("POLICY")
		name = c.name()
		if c.accept("ON") {
			on = c.name()
		}
	case KindTrigger:
		c.skipTo("TRIGGER")
		name = c.name()
		if c.skipTo("ON") {
			on = c.name()
		}
	case KindIndex:
		c.skipTo("INDEX")
		c.accept("IF", "NOT", "EXISTS")
		if !c.peekIs("ON") {
			name = c.name()
		}
		if c.accept("ON") {
			c.accept("ONLY")
			on = c.name()
		}
	case KindRLS:
		c.skipTo("TABLE")
		c.accept("IF", "EXISTS")
		c.accept("ONLY")
		name = c.name()
	case KindFunction:
		if !c.skipTo("FUNCTION") {
			c.pos = 0
			c.skipTo("PROCEDURE")
		}
		name = c.name()
	case KindType:
		c.skipTo("TYPE")
		name = c.name()
	case KindTable, KindView:
		target := "TABLE"
		if kind == KindView {
			target = "VIEW"
		}
		c.skipTo(target)
		c.accept("IF", "NOT", "EXISTS")
		name = c.name()
	case KindDropTrigger, KindDropPolicy:
		c.pos = 2
		c.accept("IF", "EXISTS")
		name = c.name()
		if c.accept("ON") {
			on = c.name()
		}
	case KindComment:
		c.pos = 2
		for c.pos < len(c.toks) && c.toks[c.pos].Kind == TokenWord && commentTargets[c.toks[c.pos].Upper] {
			c.pos++
		}
		name = c.name()
		if c.accept("ON") {
			on = c.name()
		}
	}
	return name, on
}

// SplitName splits a possibly schema-qualified name into its parts, folding
// unquoted parts to lower case and unescaping quoted ones, the way Postgres
// resolves identifiers.
func SplitName(raw string) []string {
	var parts []string
	var cur strings.Builder
	i := 0
	for i < len(raw) {
		switch c := raw[i]; {
		case c == '"':
			j := skipQuotedIdent(raw, i)
			inner := raw[i+1 : j]
			inner = strings.TrimSuffix(inner, `"`)
			cur.WriteString(strings.ReplaceAll(inner, `""`, `"`))
			i = j
		case c == '.':
			parts = append(parts, cur.String())
			cur.Reset()
			i++
		case isSpace(c):
			i++
		default:
			j := i
			for j < len(raw) && raw[j] != '.' && raw[j] != '"' && !isSpace(raw[j]) {
				j++
			}
			cur.WriteString(strings.ToLower(raw[i:j]))
			i = j
		}
	}
	if cur.Len() > 0 || len(parts) > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}

// NormalizeName folds a possibly qualified name for equality comparisons.
func NormalizeName(raw string) string {
	return strings.Join(SplitName(raw), ".")
}

type cursor struct {
	toks []Token
	pos  int
}

// accept consumes the keyword sequence kws if the upcoming tokens match it.
func (c *cursor) accept(kws ...string) bool {
	if c.pos+len(kws) > len(c.toks) {
		return false
	}
	for i, kw := range kws {
		if !c.toks[c.pos+i].Is(kw) {
			return false
		}
	}
	c.pos += len(kws)
	return true
}

// acceptAny consumes one token if it is any of kws.
func (c *cursor) acceptAny(kws ...string) bool {
	for _, kw := range kws {
		if c.accept(kw) {
			return true
		}
	}
	return false
}

// acceptObjectType consumes the object type of an ALTER statement.
func (c *cursor) acceptObjectType() bool {
	for _, kws := range alterTargets {
		if c.accept(kws...) {
			return true
		}
	}
	return false
}

// objectRef consumes the object an ALTER statement names: a possibly
// qualified name, or an operator symbol or large object OID, followed by
// an optional argument list and an optional USING index method.
func (c *cursor) objectRef() {
	name := c.name()
	if (name == "" || strings.HasSuffix(name, ".")) && c.pos < len(c.toks) && c.toks[c.pos].Raw != "(" {
		c.pos++
	}
	if c.pos < len(c.toks) && c.toks[c.pos].Raw == "(" {
		depth := 0
		for c.pos < len(c.toks) {
			switch c.toks[c.pos].Raw {
			case "(":
				depth++
			case ")":
				depth--
			}
			c.pos++
			if depth == 0 {
				break
			}
		}
	}
	if c.accept("USING") {
		c.name()
	}
}

func (c *cursor) peekIs(kw string) bool {
	return c.pos < len(c.toks) && c.toks[c.pos].Is(kw)
}

// skipTo advances past the next occurrence of kw.
func (c *cursor) skipTo(kw string) bool {
	for c.pos < len(c.toks) {
		t := c.toks[c.pos]
		c.pos++
		if t.Is(kw) {
			return true
		}
	}
	return false
}

func (c *cursor) atEnd() bool {
	return c.pos == len(c.toks) || (c.pos == len(c.toks)-1 && c.toks[c.pos].Raw == ";")
}

// name consumes a possibly qualified identifier such as public."My Table".
func (c *cursor) name() string {
	var sb strings.Builder
	for c.pos < len(c.toks) {
		t := c.toks[c.pos]
		if t.Kind != TokenWord && t.Kind != TokenQuotedIdent {
			break
		}
		sb.WriteString(t.Raw)
		c.pos++
		if c.pos < len(c.toks) && c.toks[c.pos].Raw == "." {
			sb.WriteByte('.')
			c.pos++
			continue
		}
		break
	}
	return sb.String()
}
