package analytics

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/patrickwarner/openpersonalize/internal/models"
	"github.com/patrickwarner/openpersonalize/internal/observability"
)

// stubDriver is a minimal database/sql driver that records statements and
// replays canned query rows, keyed by DSN so tests stay isolated.
type stubDriver struct {
	mu     sync.Mutex
	states map[string]*stubState
}

type stubState struct {
	mu      sync.Mutex
	execs   []stubExec
	rows    [][]driver.Value
	execErr error
}

type stubExec struct {
	query string
	args  []driver.Value
}

var stub = &stubDriver{states: map[string]*stubState{}}

func init() {
	sql.Register("chstub", stub)
}

func (d *stubDriver) state(name string) *stubState {
	d.mu.Lock()
	defer d.mu.Unlock()
	st, ok := d.states[name]
	if !ok {
		st = &stubState{}
		d.states[name] = st
	}
	return st
}

func (d *stubDriver) Open(name string) (driver.Conn, error) {
	return &stubConn{st: d.state(name)}, nil
}

type stubConn struct{ st *stubState }

func (c *stubConn) Prepare(query string) (driver.Stmt, error) {
	return &stubStmt{st: c.st, query: query}, nil
}
func (c *stubConn) Close() error                             { return nil }
func (c *stubConn) Begin() (driver.Tx, error)                { return nil, errors.New("transactions unsupported") }
func (c *stubConn) CheckNamedValue(*driver.NamedValue) error { return nil }

type stubStmt struct {
	st    *stubState
	query string
}

func (s *stubStmt) Close() error  { return nil }
func (s *stubStmt) NumInput() int { return -1 }

func (s *stubStmt) Exec(args []driver.Value) (driver.Result, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	if s.st.execErr != nil && strings.HasPrefix(s.query, "INSERT") {
		return nil, s.st.execErr
	}
	s.st.execs = append(s.st.execs, stubExec{query: s.query, args: args})
	return driver.RowsAffected(1), nil
}

func (s *stubStmt) Query(args []driver.Value) (driver.Rows, error) {
	s.st.mu.Lock()
	defer s.st.mu.Unlock()
	return &stubRows{data: s.st.rows}, nil
}

type stubRows struct {
	data [][]driver.Value
	pos  int
}

func (r *stubRows) Columns() []string { return []string{"event_type", "category", "count()", "max(timestamp)"} }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.pos])
	r.pos++
	return nil
}

func newStubAnalytics(t *testing.T) (*Analytics, *stubState, *observability.MockMetricsRegistry) {
	t.Helper()
	conn, err := sql.Open("chstub", t.Name())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	reg := observability.NewMockMetricsRegistry()
	return NewAnalytics(conn, reg, zap.NewNop()), stub.state(t.Name()), reg
}

func TestEnsureSchema(t *testing.T) {
	a, st, _ := newStubAnalytics(t)
	require.NoError(t, a.EnsureSchema(context.Background()))
	require.Len(t, st.execs, 1)
	assert.Contains(t, st.execs[0].query, "CREATE TABLE IF NOT EXISTS interactions")
}

func TestRecordInteraction(t *testing.T) {
	a, st, _ := newStubAnalytics(t)
	ts := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

	err := a.RecordInteraction(context.Background(), models.InteractionEvent{
		ID:         "ev-1",
		UserID:     "u-1",
		EventType:  models.EventDownload,
		ResourceID: "guide-1",
		Category:   "exit_planning",
		Persona:    models.PersonaStrategicExit,
		Country:    "US",
		Timestamp:  ts,
	})
	require.NoError(t, err)
	require.Len(t, st.execs, 1)

	args := st.execs[0].args
	require.Len(t, args, 12)
	assert.Equal(t, ts, args[0])
	assert.Equal(t, "u-1", args[2])
	assert.Equal(t, "download", args[3])
	assert.Equal(t, "strategic_exit", args[7])
	assert.Equal(t, map[string]string{}, args[11])
}

func TestRecordInteractionFailure(t *testing.T) {
	a, st, reg := newStubAnalytics(t)
	st.execErr = errors.New("connection reset")

	err := a.RecordInteraction(context.Background(), models.InteractionEvent{UserID: "u-1", EventType: models.EventPageView})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert page_view interaction")
	assert.Equal(t, 1, reg.Count("interaction_errors:sink"))
}

func TestSummarize(t *testing.T) {
	a, st, _ := newStubAnalytics(t)
	early := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(48 * time.Hour)
	st.rows = [][]driver.Value{
		{"download", "exit_planning", int64(2), early},
		{"page_view", "", int64(5), late},
		{"resource_view", "exit_planning", int64(3), early},
	}

	sum, err := a.Summarize(context.Background(), "u-1", early.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(10), sum.Total)
	assert.Equal(t, int64(2), sum.ByType[models.EventDownload])
	assert.Equal(t, int64(5), sum.ByType[models.EventPageView])
	assert.Equal(t, map[string]int64{"exit_planning": 5}, sum.ByCategory)
	assert.Equal(t, late, sum.LastSeen)
}

func TestNilAnalyticsUnavailable(t *testing.T) {
	var a *Analytics
	assert.ErrorIs(t, a.RecordInteraction(context.Background(), models.InteractionEvent{}), ErrUnavailable)
	_, err := a.Summarize(context.Background(), "u", time.Time{})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NotPanics(t, a.Close)
}

func TestMockSummarizeFiltersByUserAndWindow(t *testing.T) {
	m := NewMockAnalytics()
	ctx := context.Background()
	now := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	_ = m.RecordInteraction(ctx, models.InteractionEvent{UserID: "u-1", EventType: models.EventDownload, Category: "tax_strategy", Timestamp: now})
	_ = m.RecordInteraction(ctx, models.InteractionEvent{UserID: "u-1", EventType: models.EventDownload, Timestamp: now.AddDate(0, 0, -40)})
	_ = m.RecordInteraction(ctx, models.InteractionEvent{UserID: "u-2", EventType: models.EventPageView, Timestamp: now})

	sum, err := m.Summarize(ctx, "u-1", now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), sum.Total)
	assert.Equal(t, map[string]int64{"tax_strategy": 1}, sum.ByCategory)
	assert.Len(t, m.Events(), 3)
}
