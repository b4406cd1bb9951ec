package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/ringdb/internal/schema"
	"github.com/dreamware/ringdb/internal/wire"
)

func exec(t *testing.T, c *Coordinator, sess *schema.Session, stmt string) *wire.ResultBody {
	t.Helper()
	body, err := c.Execute(context.Background(), sess, stmt, wire.ConsistencyOne)
	require.NoError(t, err, "statement: %s", stmt)
	return body
}

// singleNode builds one Coordinator with rf=1 and no live peers, enough
// to exercise full statement parsing, routing, and storage without any
// cross-replica fan-out.
func singleNode(t *testing.T) (*Coordinator, *schema.Session) {
	coords, _ := newCluster(t, 1, 1)
	return coords[0], &schema.Session{}
}

// TestDDLWriteSelectRoundTrip covers scenario S1: a keyspace and table
// created through Execute, one row inserted, and the same row read back
// through a routed SELECT.
func TestDDLWriteSelectRoundTrip(t *testing.T) {
	c, sess := singleNode(t)

	exec(t, c, sess, `CREATE KEYSPACE ks WITH REPLICATION = {'class': 'SimpleStrategy', 'replication_factor': 1};`)
	exec(t, c, sess, `USE ks;`)
	exec(t, c, sess, `CREATE TABLE flights (id int, seq int, origin text, status text, PRIMARY KEY ((id), seq));`)
	exec(t, c, sess, `INSERT INTO flights (id, seq, origin, status) VALUES (1, 1, 'MAD', 'SCHEDULED');`)

	body := exec(t, c, sess, `SELECT * FROM flights WHERE id = 1;`)
	require.Len(t, body.Rows.Rows, 1)
	assert.Equal(t, []string{"id", "seq", "origin", "status"}, body.Rows.Columns)
	assert.Equal(t, "MAD", string(body.Rows.Rows[0][2]))
	assert.Equal(t, "SCHEDULED", string(body.Rows.Rows[0][3]))
}

// TestUpdateWinsByTimestamp covers scenario S2: two UPDATEs against the
// same row apply in order, and the SELECT afterward sees only the
// latest values, since each UPDATE appends a new, newer-timestamped
// version rather than mutating in place.
func TestUpdateWinsByTimestamp(t *testing.T) {
	c, sess := singleNode(t)
	exec(t, c, sess, `CREATE KEYSPACE ks WITH REPLICATION = {'class': 'SimpleStrategy', 'replication_factor': 1};`)
	exec(t, c, sess, `USE ks;`)
	exec(t, c, sess, `CREATE TABLE flights (id int, seq int, origin text, status text, PRIMARY KEY ((id), seq));`)
	exec(t, c, sess, `INSERT INTO flights (id, seq, origin, status) VALUES (1, 1, 'MAD', 'SCHEDULED');`)

	exec(t, c, sess, `UPDATE flights SET status = 'BOARDING' WHERE id = 1;`)
	exec(t, c, sess, `UPDATE flights SET status = 'DEPARTED' WHERE id = 1;`)

	body := exec(t, c, sess, `SELECT * FROM flights WHERE id = 1;`)
	require.Len(t, body.Rows.Rows, 1)
	assert.Equal(t, "DEPARTED", string(body.Rows.Rows[0][3]))
}

// TestDeleteMasksRowViaTombstone covers scenario S3: a DELETE leaves a
// tombstone row behind rather than physically removing anything, and a
// subsequent SELECT (which always masks tombstones) sees no rows.
func TestDeleteMasksRowViaTombstone(t *testing.T) {
	c, sess := singleNode(t)
	exec(t, c, sess, `CREATE KEYSPACE ks WITH REPLICATION = {'class': 'SimpleStrategy', 'replication_factor': 1};`)
	exec(t, c, sess, `USE ks;`)
	exec(t, c, sess, `CREATE TABLE flights (id int, seq int, origin text, status text, PRIMARY KEY ((id), seq));`)
	exec(t, c, sess, `INSERT INTO flights (id, seq, origin, status) VALUES (1, 1, 'MAD', 'SCHEDULED');`)

	exec(t, c, sess, `DELETE FROM flights WHERE id = 1;`)

	body := exec(t, c, sess, `SELECT * FROM flights WHERE id = 1;`)
	assert.Len(t, body.Rows.Rows, 0)
}

// TestClusteringKeyOrdering covers scenario S4: rows inserted out of
// order within one partition come back sorted by clustering key.
func TestClusteringKeyOrdering(t *testing.T) {
	c, sess := singleNode(t)
	exec(t, c, sess, `CREATE KEYSPACE ks WITH REPLICATION = {'class': 'SimpleStrategy', 'replication_factor': 1};`)
	exec(t, c, sess, `USE ks;`)
	exec(t, c, sess, `CREATE TABLE flights (id int, seq int, origin text, status text, PRIMARY KEY ((id), seq));`)
	exec(t, c, sess, `INSERT INTO flights (id, seq, origin, status) VALUES (1, 3, 'MAD', 'SCHEDULED');`)
	exec(t, c, sess, `INSERT INTO flights (id, seq, origin, status) VALUES (1, 1, 'MAD', 'SCHEDULED');`)
	exec(t, c, sess, `INSERT INTO flights (id, seq, origin, status) VALUES (1, 2, 'MAD', 'SCHEDULED');`)

	body := exec(t, c, sess, `SELECT * FROM flights WHERE id = 1;`)
	require.Len(t, body.Rows.Rows, 3)
	assert.Equal(t, "1", string(body.Rows.Rows[0][1]))
	assert.Equal(t, "2", string(body.Rows.Rows[1][1]))
	assert.Equal(t, "3", string(body.Rows.Rows[2][1]))
}
