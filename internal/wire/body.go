package wire

import "github.com/dreamware/ringdb/internal/apperr"

// ErrorBody is the typed payload of an Error frame (opcode 0x00): a
// numeric code plus a client-facing message, per spec.md §7.
type ErrorBody struct {
	Message string
	Code    int32
}

func EncodeError(code int32, message string) []byte {
	w := &buf{}
	w.writeInt(code)
	w.writeString(message)
	return w.b
}

func DecodeError(body []byte) (*ErrorBody, error) {
	r := newReader(body)
	code, err := r.readInt()
	if err != nil {
		return nil, err
	}
	msg, err := r.readString()
	if err != nil {
		return nil, err
	}
	return &ErrorBody{Code: code, Message: msg}, nil
}

// StartUpBody carries the client's requested CQL version and options
// (spec.md §4.1/§9: COMPRESSION is the only option this implementation
// reads).
type StartUpBody struct {
	Options map[string]string
}

func EncodeStartUp(options map[string]string) []byte {
	w := &buf{}
	w.writeStringMap(options)
	return w.b
}

func DecodeStartUp(body []byte) (*StartUpBody, error) {
	r := newReader(body)
	m, err := r.readStringMap()
	if err != nil {
		return nil, err
	}
	return &StartUpBody{Options: m}, nil
}

// AuthResponseBody carries the raw SASL-style credential blob a client
// sends in response to Authenticate. Per spec.md §9 this implementation's
// authenticator splits it as "user,password" on every comma and keeps only
// the first two segments.
type AuthResponseBody struct {
	Token []byte
}

func EncodeAuthResponse(token []byte) []byte {
	w := &buf{}
	w.writeBytes(token, false)
	return w.b
}

func DecodeAuthResponse(body []byte) (*AuthResponseBody, error) {
	r := newReader(body)
	b, err := r.readBytes()
	if err != nil {
		return nil, err
	}
	return &AuthResponseBody{Token: b.Value}, nil
}

// AuthenticateBody names the authenticator class the server requires.
type AuthenticateBody struct {
	Authenticator string
}

func EncodeAuthenticate(authenticator string) []byte {
	w := &buf{}
	w.writeString(authenticator)
	return w.b
}

func DecodeAuthenticate(body []byte) (*AuthenticateBody, error) {
	r := newReader(body)
	s, err := r.readString()
	if err != nil {
		return nil, err
	}
	return &AuthenticateBody{Authenticator: s}, nil
}

// QueryBody carries a CQL statement plus the requested consistency level.
type QueryBody struct {
	Query       string
	Consistency Consistency
}

func EncodeQuery(query string, consistency Consistency) []byte {
	w := &buf{}
	w.writeLongString(query)
	w.writeConsistency(consistency)
	return w.b
}

func DecodeQuery(body []byte) (*QueryBody, error) {
	r := newReader(body)
	q, err := r.readLongString()
	if err != nil {
		return nil, err
	}
	c, err := r.readConsistency()
	if err != nil {
		return nil, err
	}
	return &QueryBody{Query: q, Consistency: c}, nil
}

// ResultBody is the tagged union of Result sub-kinds: Void carries no
// extra payload, Rows carries a header + data grid, SetKeyspace carries
// the new active keyspace name, SchemaChange describes what changed.
type ResultBody struct {
	Kind     ResultKind
	Keyspace string
	Change   SchemaChangeInfo
	Rows     RowsResult
}

// RowsResult is the Rows sub-kind payload: a column-name header followed
// by rows of opaque cell bytes (UTF-8 encoded text for every declared
// column type in this implementation, see internal/query.ColumnType).
type RowsResult struct {
	Columns []string
	Rows    [][][]byte
}

// SchemaChangeInfo is the SchemaChange sub-kind payload.
type SchemaChangeInfo struct {
	ChangeType string
	Target     string
	Keyspace   string
	Object     string
}

func EncodeResultVoid() []byte {
	w := &buf{}
	w.writeInt(int32(ResultVoid))
	return w.b
}

func EncodeResultSetKeyspace(keyspace string) []byte {
	w := &buf{}
	w.writeInt(int32(ResultSetKeyspace))
	w.writeString(keyspace)
	return w.b
}

func EncodeResultSchemaChange(info SchemaChangeInfo) []byte {
	w := &buf{}
	w.writeInt(int32(ResultSchemaChange))
	w.writeString(info.ChangeType)
	w.writeString(info.Target)
	w.writeString(info.Keyspace)
	w.writeString(info.Object)
	return w.b
}

func EncodeResultRows(rows RowsResult) []byte {
	w := &buf{}
	w.writeInt(int32(ResultRows))
	w.writeInt(int32(len(rows.Columns)))
	for _, c := range rows.Columns {
		w.writeString(c)
	}
	w.writeInt(int32(len(rows.Rows)))
	for _, row := range rows.Rows {
		for _, cell := range row {
			w.writeBytes(cell, false)
		}
	}
	return w.b
}

func DecodeResult(body []byte) (*ResultBody, error) {
	r := newReader(body)
	kindInt, err := r.readInt()
	if err != nil {
		return nil, err
	}
	kind := ResultKind(kindInt)
	res := &ResultBody{Kind: kind}
	switch kind {
	case ResultVoid:
		return res, nil
	case ResultSetKeyspace:
		res.Keyspace, err = r.readString()
		return res, err
	case ResultSchemaChange:
		if res.Change.ChangeType, err = r.readString(); err != nil {
			return nil, err
		}
		if res.Change.Target, err = r.readString(); err != nil {
			return nil, err
		}
		if res.Change.Keyspace, err = r.readString(); err != nil {
			return nil, err
		}
		res.Change.Object, err = r.readString()
		return res, err
	case ResultRows:
		colCount, err := r.readInt()
		if err != nil {
			return nil, err
		}
		cols := make([]string, colCount)
		for i := range cols {
			if cols[i], err = r.readString(); err != nil {
				return nil, err
			}
		}
		rowCount, err := r.readInt()
		if err != nil {
			return nil, err
		}
		rows := make([][][]byte, rowCount)
		for i := range rows {
			row := make([][]byte, colCount)
			for j := range row {
				b, err := r.readBytes()
				if err != nil {
					return nil, err
				}
				row[j] = b.Value
			}
			rows[i] = row
		}
		res.Rows = RowsResult{Columns: cols, Rows: rows}
		return res, nil
	default:
		return nil, apperr.Newf(apperr.KindCodec, "unknown result kind %d", kindInt)
	}
}
