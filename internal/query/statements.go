package query

import "github.com/dreamware/ringdb/internal/apperr"

// parseInsert parses "INSERT INTO table (col, ...) VALUES (val, ...)".
func parseInsert(tokens []tok) (*Query, error) {
	if err := expectKeyword(tokens, 1, "INTO"); err != nil {
		return nil, err
	}
	if len(tokens) < 3 {
		return nil, apperr.New(apperr.KindParse, "incomplete INSERT statement")
	}
	table := tokens[2].text

	if len(tokens) < 4 || !tokens[3].is("(") {
		return nil, apperr.New(apperr.KindParse, "expected column list after table name")
	}
	colsClose := matchParen(tokens, 3)
	if colsClose < 0 {
		return nil, apperr.New(apperr.KindParse, "unbalanced column list")
	}
	columns := make([]string, 0)
	for _, g := range splitComma(tokens[4:colsClose]) {
		if len(g) != 1 {
			return nil, apperr.New(apperr.KindParse, "malformed column list")
		}
		columns = append(columns, g[0].text)
	}

	if err := expectKeyword(tokens, colsClose+1, "VALUES"); err != nil {
		return nil, err
	}
	if colsClose+2 >= len(tokens) || !tokens[colsClose+2].is("(") {
		return nil, apperr.New(apperr.KindParse, "expected value list after VALUES")
	}
	valsOpen := colsClose + 2
	valsClose := matchParen(tokens, valsOpen)
	if valsClose < 0 {
		return nil, apperr.New(apperr.KindParse, "unbalanced value list")
	}
	values := make([]Operand, 0)
	for _, g := range splitComma(tokens[valsOpen+1 : valsClose]) {
		if len(g) != 1 {
			return nil, apperr.New(apperr.KindParse, "malformed value list")
		}
		values = append(values, Operand{Text: g[0].text, Quoted: g[0].quoted})
	}

	if len(columns) != len(values) {
		return nil, apperr.Newf(apperr.KindParse, "INSERT column count %d does not match value count %d", len(columns), len(values))
	}

	return &Query{Kind: Insert, Table: table, Columns: columns, Values: values}, nil
}

// parseUpdate parses "UPDATE table SET col = val, ... [WHERE ...]".
func parseUpdate(tokens []tok) (*Query, error) {
	if len(tokens) < 2 {
		return nil, apperr.New(apperr.KindParse, "incomplete UPDATE statement")
	}
	table := tokens[1].text
	if err := expectKeyword(tokens, 2, "SET"); err != nil {
		return nil, err
	}

	whereIdx := indexOfKeyword(tokens[3:], "WHERE")
	var assignTokens, whereTokens []tok
	if whereIdx < 0 {
		assignTokens = tokens[3:]
	} else {
		whereIdx += 3
		assignTokens = tokens[3:whereIdx]
		whereTokens = tokens[whereIdx+1:]
	}

	assignments := make([]Assignment, 0)
	for _, g := range splitComma(assignTokens) {
		if len(g) != 3 || !g[1].is("=") {
			return nil, apperr.New(apperr.KindParse, "malformed SET assignment")
		}
		assignments = append(assignments, Assignment{
			Column: g[0].text,
			Value:  Operand{Text: g[2].text, Quoted: g[2].quoted},
		})
	}

	where, err := parseWhere(whereTokens)
	if err != nil {
		return nil, err
	}

	return &Query{Kind: Update, Table: table, Assignments: assignments, Where: where}, nil
}

// parseDelete parses "DELETE FROM table WHERE ...".
func parseDelete(tokens []tok) (*Query, error) {
	if err := expectKeyword(tokens, 1, "FROM"); err != nil {
		return nil, err
	}
	if len(tokens) < 3 {
		return nil, apperr.New(apperr.KindParse, "incomplete DELETE statement")
	}
	table := tokens[2].text

	whereIdx := indexOfKeyword(tokens[3:], "WHERE")
	if whereIdx < 0 {
		return nil, apperr.New(apperr.KindParse, "DELETE requires a WHERE clause")
	}
	whereIdx += 3
	where, err := parseWhere(tokens[whereIdx+1:])
	if err != nil {
		return nil, err
	}
	return &Query{Kind: Delete, Table: table, Where: where}, nil
}

// parseSelect parses "SELECT * | col, ... FROM table [WHERE ...]".
func parseSelect(tokens []tok) (*Query, error) {
	fromIdx := indexOfKeyword(tokens[1:], "FROM")
	if fromIdx < 0 {
		return nil, apperr.New(apperr.KindParse, "SELECT requires FROM")
	}
	fromIdx += 1

	var selectCols []string
	colTokens := tokens[1:fromIdx]
	if !(len(colTokens) == 1 && colTokens[0].is("*")) {
		for _, g := range splitComma(colTokens) {
			if len(g) != 1 {
				return nil, apperr.New(apperr.KindParse, "malformed SELECT column list")
			}
			selectCols = append(selectCols, g[0].text)
		}
	}

	if fromIdx+1 >= len(tokens) {
		return nil, apperr.New(apperr.KindParse, "expected table name after FROM")
	}
	table := tokens[fromIdx+1].text

	whereIdx := indexOfKeyword(tokens[fromIdx+2:], "WHERE")
	var whereTokens []tok
	if whereIdx >= 0 {
		whereIdx += fromIdx + 2
		whereTokens = tokens[whereIdx+1:]
	}
	where, err := parseWhere(whereTokens)
	if err != nil {
		return nil, err
	}

	return &Query{Kind: Select, Table: table, SelectColumns: selectCols, Where: where}, nil
}

// parseUse parses "USE keyspace".
func parseUse(tokens []tok) (*Query, error) {
	if len(tokens) < 2 {
		return nil, apperr.New(apperr.KindParse, "USE requires a keyspace name")
	}
	return &Query{Kind: Use, Keyspace: tokens[1].text}, nil
}

// parseCreate dispatches CREATE TABLE vs CREATE KEYSPACE.
func parseCreate(tokens []tok) (*Query, error) {
	if len(tokens) < 2 {
		return nil, apperr.New(apperr.KindParse, "incomplete CREATE statement")
	}
	switch {
	case tokens[1].isKeyword("TABLE"):
		return parseCreateTable(tokens)
	case tokens[1].isKeyword("KEYSPACE"):
		return parseCreateKeyspace(tokens)
	default:
		return nil, apperr.Newf(apperr.KindParse, "unsupported CREATE target %q", tokens[1].text)
	}
}

// parseCreateTable parses "CREATE TABLE name (col type, ..., PRIMARY KEY
// (...))". It preserves the no-inner-parens PRIMARY KEY quirk documented
// in spec.md §9: when the key group inside PRIMARY KEY (...) does not
// itself open with a nested "(", every listed column becomes a
// clustering-key column and the partition key is empty.
func parseCreateTable(tokens []tok) (*Query, error) {
	if len(tokens) < 4 {
		return nil, apperr.New(apperr.KindParse, "incomplete CREATE TABLE statement")
	}
	name := tokens[2].text
	if !tokens[3].is("(") {
		return nil, apperr.New(apperr.KindParse, "expected column list after table name")
	}
	tableClose := matchParen(tokens, 3)
	if tableClose < 0 {
		return nil, apperr.New(apperr.KindParse, "unbalanced CREATE TABLE column list")
	}
	body := tokens[4:tableClose]

	pkIdx := -1
	for i := 0; i+1 < len(body); i++ {
		if body[i].isKeyword("PRIMARY") && body[i+1].isKeyword("KEY") {
			pkIdx = i
			break
		}
	}
	if pkIdx < 0 {
		return nil, apperr.New(apperr.KindParse, "CREATE TABLE requires a PRIMARY KEY clause")
	}

	colDefTokens := body[:pkIdx]
	colDefs := make([]ColumnDef, 0)
	for _, g := range splitComma(colDefTokens) {
		if len(g) != 2 {
			return nil, apperr.New(apperr.KindParse, "malformed column definition")
		}
		colDefs = append(colDefs, ColumnDef{Name: g[0].text, Type: ColumnType(g[1].text)})
	}

	pkTokens := body[pkIdx+2:]
	if len(pkTokens) == 0 || !pkTokens[0].is("(") {
		return nil, apperr.New(apperr.KindParse, "expected '(' after PRIMARY KEY")
	}
	pkClose := matchParen(pkTokens, 0)
	if pkClose < 0 {
		return nil, apperr.New(apperr.KindParse, "unbalanced PRIMARY KEY clause")
	}
	inner := pkTokens[1:pkClose]

	var partitionKey, clusteringKey []string
	if len(inner) > 0 && inner[0].is("(") {
		innerClose := matchParen(inner, 0)
		if innerClose < 0 {
			return nil, apperr.New(apperr.KindParse, "unbalanced partition key group")
		}
		for _, g := range splitComma(inner[1:innerClose]) {
			if len(g) != 1 {
				return nil, apperr.New(apperr.KindParse, "malformed partition key")
			}
			partitionKey = append(partitionKey, g[0].text)
		}
		rest := inner[innerClose+1:]
		if len(rest) > 0 && rest[0].is(",") {
			rest = rest[1:]
		}
		for _, g := range splitComma(rest) {
			if len(g) != 1 {
				return nil, apperr.New(apperr.KindParse, "malformed clustering key")
			}
			clusteringKey = append(clusteringKey, g[0].text)
		}
	} else {
		// No nested group: the documented quirk, partition key stays empty
		// and every named column becomes a clustering-key column.
		for _, g := range splitComma(inner) {
			if len(g) != 1 {
				return nil, apperr.New(apperr.KindParse, "malformed key list")
			}
			clusteringKey = append(clusteringKey, g[0].text)
		}
	}

	return &Query{
		Kind:          CreateTable,
		Table:         name,
		ColumnDefs:    colDefs,
		PartitionKey:  partitionKey,
		ClusteringKey: clusteringKey,
	}, nil
}

// parseCreateKeyspace parses
// "CREATE KEYSPACE name WITH REPLICATION = { 'k': v, ... }".
func parseCreateKeyspace(tokens []tok) (*Query, error) {
	if len(tokens) < 3 {
		return nil, apperr.New(apperr.KindParse, "incomplete CREATE KEYSPACE statement")
	}
	name := tokens[2].text
	if err := expectKeyword(tokens, 3, "WITH"); err != nil {
		return nil, err
	}
	if err := expectKeyword(tokens, 4, "REPLICATION"); err != nil {
		return nil, err
	}
	if len(tokens) < 7 || !tokens[5].is("=") || !tokens[6].is("{") {
		return nil, apperr.New(apperr.KindParse, "expected REPLICATION = { ... }")
	}
	braceClose := matchBrace(tokens, 6)
	if braceClose < 0 {
		return nil, apperr.New(apperr.KindParse, "unbalanced REPLICATION map")
	}

	replication := make(map[string]string)
	for _, g := range splitComma(tokens[7:braceClose]) {
		if len(g) != 3 || !g[1].is(":") {
			return nil, apperr.New(apperr.KindParse, "malformed REPLICATION entry")
		}
		replication[g[0].text] = g[2].text
	}

	return &Query{Kind: CreateKeyspace, Keyspace: name, Replication: replication}, nil
}
