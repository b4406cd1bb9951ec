package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCreateKeyspace(t *testing.T) {
	q, err := Parse("CREATE KEYSPACE flights_keyspace WITH REPLICATION = { 'class' : 'SimpleStrategy' , 'replication_factor' : 3 };")
	require.NoError(t, err)
	assert.Equal(t, CreateKeyspace, q.Kind)
	assert.Equal(t, "flights_keyspace", q.Keyspace)
	assert.Equal(t, "SimpleStrategy", q.Replication["class"])
	assert.Equal(t, "3", q.Replication["replication_factor"])
}

func TestParseUse(t *testing.T) {
	q, err := Parse("USE flights_keyspace;")
	require.NoError(t, err)
	assert.Equal(t, Use, q.Kind)
	assert.Equal(t, "flights_keyspace", q.Keyspace)
}

// TestParseCreateTableNestedPartitionKey covers "PRIMARY KEY ((p), c)": a
// single-column partition key group plus one clustering column.
func TestParseCreateTableNestedPartitionKey(t *testing.T) {
	q, err := Parse("CREATE TABLE flights (id int, origin text, flight_name text, PRIMARY KEY ((id), flight_name));")
	require.NoError(t, err)
	assert.Equal(t, CreateTable, q.Kind)
	assert.Equal(t, []string{"id"}, q.PartitionKey)
	assert.Equal(t, []string{"flight_name"}, q.ClusteringKey)
	require.Len(t, q.ColumnDefs, 3)
	assert.Equal(t, ColumnDef{Name: "id", Type: TypeInt}, q.ColumnDefs[0])
}

// TestParseCreateTableCompositePartitionKey covers
// "PRIMARY KEY ((id, origin), flight_name)": a two-column partition key.
func TestParseCreateTableCompositePartitionKey(t *testing.T) {
	q, err := Parse("CREATE TABLE flights (id int, origin text, flight_name text, PRIMARY KEY ((id, origin), flight_name));")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "origin"}, q.PartitionKey)
	assert.Equal(t, []string{"flight_name"}, q.ClusteringKey)
}

// TestParseCreateTableNoInnerParensBug preserves the original parser's
// documented quirk: "PRIMARY KEY (p, c)" with no nested parentheses
// around the partition-key group yields an empty partition key and puts
// every listed column into the clustering key.
func TestParseCreateTableNoInnerParensBug(t *testing.T) {
	q, err := Parse("CREATE TABLE u (pk int, ck int, v text, PRIMARY KEY (pk, ck));")
	require.NoError(t, err)
	assert.Empty(t, q.PartitionKey)
	assert.Equal(t, []string{"pk", "ck"}, q.ClusteringKey)
}

func TestParseInsert(t *testing.T) {
	q, err := Parse("INSERT INTO flights (id, origin, flight_name) VALUES (1, 'MAD', 'IB123');")
	require.NoError(t, err)
	assert.Equal(t, Insert, q.Kind)
	assert.Equal(t, "flights", q.Table)
	assert.Equal(t, []string{"id", "origin", "flight_name"}, q.Columns)
	require.Len(t, q.Values, 3)
	assert.Equal(t, Operand{Text: "1"}, q.Values[0])
	assert.Equal(t, Operand{Text: "MAD", Quoted: true}, q.Values[1])
}

func TestParseSelectWithWhereAnd(t *testing.T) {
	q, err := Parse("SELECT id, origin FROM flights WHERE id = 1 AND origin = 'MAD';")
	require.NoError(t, err)
	assert.Equal(t, Select, q.Kind)
	assert.Equal(t, []string{"id", "origin"}, q.SelectColumns)
	require.NotNil(t, q.Where)
	assert.Equal(t, ClauseAnd, q.Where.Kind)
	assert.Equal(t, ClauseTerm, q.Where.Left.Kind)
	assert.Equal(t, "id", q.Where.Left.Term.Left.Text)
	assert.Equal(t, "origin", q.Where.Right.Term.Left.Text)
}

func TestParseSelectStar(t *testing.T) {
	q, err := Parse("SELECT * FROM flights;")
	require.NoError(t, err)
	assert.Nil(t, q.SelectColumns)
	assert.Nil(t, q.Where)
}

func TestParseWhereOrPrecedesNothingButAndBindsTighter(t *testing.T) {
	// a = 1 OR b = 2 AND c = 3  must parse as  a=1 OR (b=2 AND c=3)
	q, err := Parse("SELECT * FROM t WHERE a = 1 OR b = 2 AND c = 3;")
	require.NoError(t, err)
	require.Equal(t, ClauseOr, q.Where.Kind)
	assert.Equal(t, ClauseTerm, q.Where.Left.Kind)
	assert.Equal(t, ClauseAnd, q.Where.Right.Kind)
}

func TestParseWhereNotBindsTighterThanAnd(t *testing.T) {
	q, err := Parse("SELECT * FROM t WHERE NOT a = 1 AND b = 2;")
	require.NoError(t, err)
	require.Equal(t, ClauseAnd, q.Where.Kind)
	assert.Equal(t, ClauseNot, q.Where.Left.Kind)
}

func TestParseWhereParenOverridesPrecedence(t *testing.T) {
	q, err := Parse("SELECT * FROM t WHERE a = 1 AND (b = 2 OR c = 3);")
	require.NoError(t, err)
	require.Equal(t, ClauseAnd, q.Where.Kind)
	assert.Equal(t, ClauseOr, q.Where.Right.Kind)
}

func TestParseUpdate(t *testing.T) {
	q, err := Parse("UPDATE flights SET origin = 'BCN', delayed = true WHERE id = 1;")
	require.NoError(t, err)
	assert.Equal(t, Update, q.Kind)
	require.Len(t, q.Assignments, 2)
	assert.Equal(t, "origin", q.Assignments[0].Column)
	assert.Equal(t, Operand{Text: "BCN", Quoted: true}, q.Assignments[0].Value)
	require.NotNil(t, q.Where)
}

func TestParseDeleteRequiresWhere(t *testing.T) {
	_, err := Parse("DELETE FROM flights;")
	require.Error(t, err)

	q, err := Parse("DELETE FROM flights WHERE id = 1;")
	require.NoError(t, err)
	assert.Equal(t, Delete, q.Kind)
	require.NotNil(t, q.Where)
	assert.Equal(t, OpEqual, q.Where.Term.Op)
}

func TestParseRejectsMissingSemicolon(t *testing.T) {
	_, err := Parse("USE flights_keyspace")
	require.Error(t, err)
}

func TestParseInsertColumnValueMismatch(t *testing.T) {
	_, err := Parse("INSERT INTO flights (id, origin) VALUES (1);")
	require.Error(t, err)
}

func TestRelationalOperators(t *testing.T) {
	q, err := Parse("SELECT * FROM t WHERE a >= 1 AND b <= 2 AND c < 3 AND d > 4;")
	require.NoError(t, err)
	// innermost AND-chain is left-associative: (((a>=1 AND b<=2) AND c<3) AND d>4)
	assert.Equal(t, ClauseAnd, q.Where.Kind)
	assert.Equal(t, OpGreaterEqual, q.Where.Left.Left.Left.Term.Op)
	assert.Equal(t, OpLessEqual, q.Where.Left.Left.Right.Term.Op)
	assert.Equal(t, OpLess, q.Where.Left.Right.Term.Op)
	assert.Equal(t, OpGreater, q.Where.Right.Term.Op)
}
