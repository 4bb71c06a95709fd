// Package ffi is the flat, handle-based surface a C binding wraps.
//
// Every object crosses the boundary as an opaque Handle that must be
// released with the matching Free function. Freed handles are rejected
// rather than dereferenced. Failing calls return a sentinel (0 handle,
// nil slice, -1) and record the error for LastError and LastErrorCode.
// Record batches cross the boundary in the codec byte format.
package ffi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/hupe1980/vectable"
	"github.com/hupe1980/vectable/codec"
	"github.com/hupe1980/vectable/distance"
	"github.com/hupe1980/vectable/internal/handle"
)

// Handle is an opaque object reference. Zero is never a valid handle.
type Handle = handle.Handle

// Success is returned by TableAdd when the data was committed.
const Success = "Success"

type query struct {
	q  *vectable.Query
	vq *vectable.VectorQuery
}

var (
	connections handle.Table[*vectable.Connection]
	tables      handle.Table[*vectable.Table]
	queries     handle.Table[*query]
	iterators   handle.Table[*vectable.Cursor]

	errMu   sync.Mutex
	lastErr error
)

func setError(err error) {
	errMu.Lock()
	lastErr = err
	errMu.Unlock()
}

func clearError() { setError(nil) }

// LastError returns the message of the most recent failure, or "" when the
// last call succeeded.
func LastError() string {
	errMu.Lock()
	defer errMu.Unlock()
	if lastErr == nil {
		return ""
	}
	return lastErr.Error()
}

// LastErrorCode returns the vectable.ErrorKind of the most recent failure.
func LastErrorCode() int32 {
	errMu.Lock()
	defer errMu.Unlock()
	return int32(vectable.KindOf(lastErr))
}

func stale(kind string, err error) error {
	return fmt.Errorf("%w: %s: %w", vectable.ErrInvalidArgument, kind, err)
}

func getTable(h Handle) (*vectable.Table, error) {
	t, err := tables.Get(h)
	if err != nil {
		return nil, stale("table", err)
	}
	return t, nil
}

func getQuery(h Handle) (*query, error) {
	q, err := queries.Get(h)
	if err != nil {
		return nil, stale("query", err)
	}
	return q, nil
}

// CreateConnection connects to uri and returns a connection handle.
func CreateConnection(uri string) Handle {
	db, err := vectable.Connect(context.Background(), uri)
	if err != nil {
		setError(err)
		return 0
	}
	clearError()
	return connections.Insert(db)
}

// FreeConnection closes the connection. It returns 0 on success and -1 on
// failure.
func FreeConnection(h Handle) int32 {
	db, err := connections.Remove(h)
	if err != nil {
		setError(stale("connection", err))
		return -1
	}
	if err := db.Close(); err != nil {
		setError(err)
		return -1
	}
	clearError()
	return 0
}

// CreateTable creates table name from an encoded batch. A batch without
// rows creates an empty table with its schema.
func CreateTable(conn Handle, name string, data []byte) Handle {
	db, err := connections.Get(conn)
	if err != nil {
		setError(stale("connection", err))
		return 0
	}
	b, err := codec.Decode(data)
	if err != nil {
		setError(err)
		return 0
	}
	tbl, err := db.CreateTable(context.Background(), name, b)
	if err != nil {
		setError(err)
		return 0
	}
	clearError()
	return tables.Insert(tbl)
}

// OpenTable opens an existing table.
func OpenTable(conn Handle, name string) Handle {
	db, err := connections.Get(conn)
	if err != nil {
		setError(stale("connection", err))
		return 0
	}
	tbl, err := db.OpenTable(context.Background(), name)
	if err != nil {
		setError(err)
		return 0
	}
	clearError()
	return tables.Insert(tbl)
}

// FreeTable releases a table handle.
func FreeTable(h Handle) int32 {
	tbl, err := tables.Remove(h)
	if err != nil {
		setError(stale("table", err))
		return -1
	}
	if err := tbl.Close(); err != nil {
		setError(err)
		return -1
	}
	clearError()
	return 0
}

// TableAdd appends an encoded batch, or replaces all rows when overwrite
// is set. It returns Success or the error message.
func TableAdd(h Handle, data []byte, overwrite bool) string {
	err := func() error {
		tbl, err := getTable(h)
		if err != nil {
			return err
		}
		b, err := codec.Decode(data)
		if err != nil {
			return err
		}
		mode := vectable.WriteAppend
		if overwrite {
			mode = vectable.WriteOverwrite
		}
		_, err = tbl.Add(context.Background(), b, mode)
		return err
	}()
	if err != nil {
		setError(err)
		return err.Error()
	}
	clearError()
	return Success
}

// TableSchema returns the encoded schema of the current version.
func TableSchema(h Handle) []byte {
	tbl, err := getTable(h)
	if err != nil {
		setError(err)
		return nil
	}
	out, err := codec.EncodeSchema(tbl.Schema())
	if err != nil {
		setError(err)
		return nil
	}
	clearError()
	return out
}

// TableDisplay returns a human readable description of the table.
func TableDisplay(h Handle) string {
	tbl, err := getTable(h)
	if err != nil {
		setError(err)
		return ""
	}
	clearError()
	return tbl.String()
}

// TableCountRows counts rows matching filter, or all rows for "". It
// returns -1 on failure.
func TableCountRows(h Handle, filter string) int64 {
	tbl, err := getTable(h)
	if err != nil {
		setError(err)
		return -1
	}
	n, err := tbl.CountRows(context.Background(), filter)
	if err != nil {
		setError(err)
		return -1
	}
	clearError()
	return int64(n)
}

// TableDelete deletes the rows matching filter and returns how many were
// removed, or -1 on failure.
func TableDelete(h Handle, filter string) int64 {
	tbl, err := getTable(h)
	if err != nil {
		setError(err)
		return -1
	}
	n, err := tbl.Delete(context.Background(), filter)
	if err != nil {
		setError(err)
		return -1
	}
	clearError()
	return int64(n)
}

// TableQuery starts a scan query.
func TableQuery(h Handle) Handle {
	tbl, err := getTable(h)
	if err != nil {
		setError(err)
		return 0
	}
	clearError()
	return queries.Insert(&query{q: tbl.Query()})
}

// TableVectorSearch starts a nearest neighbor query for vector.
func TableVectorSearch(h Handle, vector []float32) Handle {
	tbl, err := getTable(h)
	if err != nil {
		setError(err)
		return 0
	}
	if len(vector) == 0 {
		setError(fmt.Errorf("%w: empty query vector", vectable.ErrInvalidArgument))
		return 0
	}
	clearError()
	v := append([]float32(nil), vector...)
	return queries.Insert(&query{vq: tbl.VectorSearch(v)})
}

func (q *query) apply(fq func(*vectable.Query), fv func(*vectable.VectorQuery)) {
	if q.vq != nil {
		fv(q.vq)
		return
	}
	fq(q.q)
}

// SetFilter sets the row filter of a query. It returns 0 or -1.
func SetFilter(h Handle, filter string) int32 {
	q, err := getQuery(h)
	if err != nil {
		setError(err)
		return -1
	}
	q.apply(
		func(q *vectable.Query) { q.Where(filter) },
		func(v *vectable.VectorQuery) { v.Where(filter) },
	)
	clearError()
	return 0
}

// SetLimit caps the rows a query returns. For vector queries it also sets
// k. Zero removes the limit of a scan. It returns 0 or -1.
func SetLimit(h Handle, limit int64) int32 {
	q, err := getQuery(h)
	if err != nil {
		setError(err)
		return -1
	}
	if limit < 0 {
		setError(fmt.Errorf("%w: limit must not be negative", vectable.ErrInvalidArgument))
		return -1
	}
	n := int(limit)
	q.apply(
		func(q *vectable.Query) { q.Limit(n) },
		func(v *vectable.VectorQuery) {
			if n > 0 {
				v.K(n)
			}
			v.Limit(n)
		},
	)
	clearError()
	return 0
}

// SetDistanceType sets the metric of a vector query by name ("l2",
// "cosine" or "dot"). It returns 0 or -1.
func SetDistanceType(h Handle, metric string) int32 {
	q, err := getQuery(h)
	if err != nil {
		setError(err)
		return -1
	}
	if q.vq == nil {
		setError(fmt.Errorf("%w: distance type on a scan query", vectable.ErrInvalidArgument))
		return -1
	}
	m, err := distance.ParseMetric(metric)
	if err != nil {
		setError(fmt.Errorf("%w: %w", vectable.ErrInvalidArgument, err))
		return -1
	}
	q.vq.DistanceType(m)
	clearError()
	return 0
}

// FreeQuery releases a query handle. Iterators already created from it
// stay valid.
func FreeQuery(h Handle) int32 {
	if _, err := queries.Remove(h); err != nil {
		setError(stale("query", err))
		return -1
	}
	clearError()
	return 0
}

// ExecuteQuery runs the query and returns a batch iterator bound to the
// table version current at this call.
func ExecuteQuery(h Handle) Handle {
	q, err := getQuery(h)
	if err != nil {
		setError(err)
		return 0
	}
	var cur *vectable.Cursor
	if q.vq != nil {
		cur, err = q.vq.Execute(context.Background())
	} else {
		cur, err = q.q.Execute(context.Background())
	}
	if err != nil {
		setError(err)
		return 0
	}
	clearError()
	return iterators.Insert(cur)
}

// IteratorNext returns the next encoded batch. It returns nil both at the
// end of the stream and on failure; LastErrorCode tells them apart.
func IteratorNext(h Handle) []byte {
	cur, err := iterators.Get(h)
	if err != nil {
		setError(stale("iterator", err))
		return nil
	}
	b, err := cur.Next(context.Background())
	if err != nil {
		if errors.Is(err, io.EOF) {
			clearError()
			return nil
		}
		setError(err)
		return nil
	}
	out, err := codec.Encode(b)
	if err != nil {
		setError(err)
		return nil
	}
	clearError()
	return out
}

// FreeIterator closes the iterator and releases its snapshot.
func FreeIterator(h Handle) int32 {
	cur, err := iterators.Remove(h)
	if err != nil {
		setError(stale("iterator", err))
		return -1
	}
	if err := cur.Close(); err != nil {
		setError(err)
		return -1
	}
	clearError()
	return 0
}
