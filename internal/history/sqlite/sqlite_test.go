package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/sysgate/internal/history"
)

func lifecycle(name string, status int) (history.Event, history.Event) {
	rec := history.Record{
		BootID:    "boot-1",
		PID:       2,
		ParentPID: 1,
		Name:      name,
		Cmdline:   name + " arg",
		StartedAt: time.Now().UTC(),
	}
	spawn := history.Event{Type: history.EventSpawn, OccurredAt: time.Now().UTC(), Record: rec}
	rec.ExitStatus = status
	exit := history.Event{Type: history.EventExit, OccurredAt: time.Now().UTC(), Record: rec}
	return spawn, exit
}

func TestSQLiteSink_FileDatabase(t *testing.T) {
	sink, err := New("sqlite://" + t.TempDir() + "/history.db")
	require.NoError(t, err)
	defer func() { require.NoError(t, sink.Close()) }()

	ctx := context.Background()
	spawn, exit := lifecycle("echo", 42)
	require.NoError(t, sink.Send(ctx, spawn))
	require.NoError(t, sink.Send(ctx, exit))

	rows, err := sink.db.QueryContext(ctx, "SELECT event, exit_status FROM process_history WHERE name = ? ORDER BY rowid", "echo")
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()

	var events []string
	var statuses []sql.NullInt64
	for rows.Next() {
		var ev string
		var st sql.NullInt64
		require.NoError(t, rows.Scan(&ev, &st))
		events = append(events, ev)
		statuses = append(statuses, st)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"spawn", "exit"}, events)
	assert.False(t, statuses[0].Valid)
	assert.Equal(t, sql.NullInt64{Int64: 42, Valid: true}, statuses[1])
}

func TestSQLiteSink_InMemory(t *testing.T) {
	sink, err := New(":memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	_, exit := lifecycle("cat", -1)
	require.NoError(t, sink.Send(context.Background(), exit))

	var n int
	require.NoError(t, sink.db.QueryRow("SELECT COUNT(*) FROM process_history WHERE exit_status = -1").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestSQLiteSink_ContextCancellation(t *testing.T) {
	sink, err := New(":memory:")
	require.NoError(t, err)
	defer func() { _ = sink.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	spawn, _ := lifecycle("rm", 0)
	assert.Error(t, sink.Send(ctx, spawn))
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	_, err := New("  ")
	assert.Error(t, err)
}
