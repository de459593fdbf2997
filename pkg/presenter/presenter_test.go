package presenter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/andrej220/pssh/pkg/models"
	"github.com/andrej220/pssh/pkg/sequencer"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func host(i int) models.HostSpec {
	return models.HostSpec{Index: i, Host: "10.0.0." + string(rune('1'+i)), Port: 22}
}

func okEvent(i int, stdout, stderr string) models.CompletionEvent {
	return models.CompletionEvent{
		Index:   i,
		Host:    host(i),
		Outcome: models.Outcome{Kind: models.CommandResult, Stdout: []byte(stdout), Stderr: []byte(stderr)},
		Elapsed: 1500 * time.Millisecond,
	}
}

func exitEvent(i, status int) models.CompletionEvent {
	ev := okEvent(i, "", "boom\n")
	ev.Outcome.ExitStatus = status
	return ev
}

func errEvent(i int, stage models.Stage) models.CompletionEvent {
	return models.CompletionEvent{
		Index: i,
		Host:  host(i),
		Err:   models.NewHostError(stage, "authenticate", errors.New("permission denied")),
	}
}

func TestTerminalRendering(t *testing.T) {
	tests := []struct {
		name string
		ev   models.CompletionEvent
		want string
	}{
		{"ok", okEvent(0, "up 3 days\n", "warn\n"), "[10.0.0.1:22 OK]\nup 3 days\nwarn\n"},
		{"exit", exitEvent(1, 2), "[10.0.0.2:22 ERROR: exit with 2]\nboom\n"},
		{"error", errEvent(2, models.StageAuth), "[10.0.0.3:22 ERROR: auth: authenticate: permission denied]\n"},
		{"transfer", models.CompletionEvent{
			Host:    host(0),
			Outcome: models.Outcome{Kind: models.TransferComplete, Bytes: 10, Mode: 0750},
		}, "[10.0.0.1:22 OK]\nsent 10 bytes, mode 0750\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, NewTerminal(&buf, true).Present(context.Background(), tt.ev))
			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestTerminalMarksTruncation(t *testing.T) {
	ev := okEvent(0, "x", "")
	ev.Outcome.StderrTruncated = true
	var buf bytes.Buffer
	require.NoError(t, NewTerminal(&buf, true).Present(context.Background(), ev))
	assert.True(t, strings.HasSuffix(buf.String(), "[10.0.0.1:22 output truncated]\n"))
}

func TestNewRecord(t *testing.T) {
	run := NewRun(models.NewRunCommand("uptime"))

	rec := NewRecord(run, okEvent(0, "out", "err"))
	assert.Equal(t, run.ID.String(), rec.RunID)
	assert.Equal(t, StatusOK, rec.Status)
	require.NotNil(t, rec.ExitStatus)
	assert.Equal(t, 0, *rec.ExitStatus)
	assert.Equal(t, "out", rec.Stdout)
	assert.Equal(t, int64(1500), rec.ElapsedMs)
	assert.Equal(t, "run-command", rec.Operation)

	rec = NewRecord(run, exitEvent(1, 3))
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, 3, *rec.ExitStatus)

	rec = NewRecord(run, errEvent(2, models.StageConnect))
	assert.Equal(t, StatusError, rec.Status)
	assert.Equal(t, "connect", rec.Stage)
	assert.Nil(t, rec.ExitStatus)
	assert.Contains(t, rec.Error, "permission denied")
}

func TestSummary(t *testing.T) {
	var s Summary
	ctx := context.Background()
	for _, ev := range []models.CompletionEvent{okEvent(0, "", ""), exitEvent(1, 1), errEvent(2, models.StageAuth)} {
		require.NoError(t, s.Present(ctx, ev))
	}
	assert.Equal(t, 1, s.OK)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Errored)
	assert.Equal(t, 3, s.Total())

	err := s.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHostsFailed)
	assert.ErrorIs(t, err, models.ErrAuth)
	assert.ErrorContains(t, err, "10.0.0.2:22: exit with 1")

	var clean Summary
	require.NoError(t, clean.Present(ctx, okEvent(0, "", "")))
	assert.NoError(t, clean.Err())
}

type closingPresenter struct {
	err    error
	seen   int
	closed bool
}

func (c *closingPresenter) Present(context.Context, models.CompletionEvent) error {
	c.seen++
	return c.err
}

func (c *closingPresenter) Close() error {
	c.closed = true
	return nil
}

func TestMultiContinuesPastFailures(t *testing.T) {
	bad := &closingPresenter{err: errors.New("sink down")}
	good := &closingPresenter{}
	var s Summary
	m := Multi{bad, good, &s}

	err := m.Present(context.Background(), okEvent(0, "", ""))
	assert.ErrorContains(t, err, "sink down")
	assert.Equal(t, 1, bad.seen)
	assert.Equal(t, 1, good.seen)
	assert.Equal(t, 1, s.OK)

	require.NoError(t, m.Close())
	assert.True(t, bad.closed)
	assert.True(t, good.closed)
}

func TestReportWritesStableOrder(t *testing.T) {
	fs := afero.NewMemMapFs()
	run := NewRun(models.NewRunCommand("hostname"))
	report := NewReport(fs, "/out/report.json", run)

	events := make(chan models.CompletionEvent, 3)
	events <- errEvent(1, models.StageAuth)
	events <- okEvent(2, "c\n", "")
	events <- okEvent(0, "a\n", "")
	close(events)
	require.NoError(t, sequencer.Drain(context.Background(), events, 3, sequencer.Stable, report))
	require.NoError(t, report.Close())

	raw, err := afero.ReadFile(fs, "/out/report.json")
	require.NoError(t, err)
	var doc reportDoc
	require.NoError(t, json.Unmarshal(raw, &doc))

	assert.Equal(t, run.ID.String(), doc.RunID)
	assert.Equal(t, "hostname", doc.Command)
	require.Len(t, doc.Hosts, 3)
	for i, rec := range doc.Hosts {
		assert.Equal(t, i, rec.Index)
	}
	assert.Equal(t, StatusError, doc.Hosts[1].Status)
	assert.Equal(t, "auth", doc.Hosts[1].Stage)
}

func TestReportEmptyRun(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, NewReport(fs, "/r.json", NewRun(models.NewRunCommand("true"))).Close())
	raw, err := afero.ReadFile(fs, "/r.json")
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"hosts": []`)
}

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublishesRecordPerHost(t *testing.T) {
	w := &fakeWriter{}
	run := NewRun(models.NewRunCommand("uptime"))
	k := &Kafka{writer: w, topic: "pssh-results", run: run}

	require.NoError(t, k.Present(context.Background(), okEvent(0, "up\n", "")))
	require.NoError(t, k.Present(context.Background(), errEvent(1, models.StageConnect)))
	require.Len(t, w.msgs, 2)

	assert.Equal(t, "10.0.0.1:22", string(w.msgs[0].Key))
	assert.Equal(t, "run-id", w.msgs[0].Headers[0].Key)
	assert.Equal(t, run.ID.String(), string(w.msgs[0].Headers[0].Value))

	var rec Record
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &rec))
	assert.Equal(t, 1, rec.Index)
	assert.Equal(t, "connect", rec.Stage)

	require.NoError(t, k.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublishError(t *testing.T) {
	k := &Kafka{writer: &fakeWriter{err: kafka.UnknownTopicOrPartition}, topic: "missing", run: NewRun(models.NewRunCommand("x"))}
	err := k.Present(context.Background(), okEvent(0, "", ""))
	assert.ErrorIs(t, err, kafka.UnknownTopicOrPartition)
	assert.ErrorContains(t, err, "10.0.0.1:22")
}

type fakeCollection struct {
	docs map[string]mongoDoc
	err  error
}

func (c *fakeCollection) ReplaceOne(_ context.Context, filter any, replacement any, opts ...*options.ReplaceOptions) (*mongo.UpdateResult, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.docs == nil {
		c.docs = map[string]mongoDoc{}
	}
	id := filter.(bson.M)["_id"].(string)
	c.docs[id] = replacement.(mongoDoc)
	return &mongo.UpdateResult{UpsertedCount: 1}, nil
}

func TestMongoUpsertsByRunAndIndex(t *testing.T) {
	coll := &fakeCollection{}
	run := NewRun(models.NewSendFile("/tmp/a", "/tmp/b"))
	m := &Mongo{coll: coll, run: run}

	ev := models.CompletionEvent{Index: 3, Host: host(3), Outcome: models.Outcome{Kind: models.TransferComplete, Bytes: 42}}
	require.NoError(t, m.Present(context.Background(), ev))
	require.NoError(t, m.Present(context.Background(), ev))

	require.Len(t, coll.docs, 1)
	doc, ok := coll.docs[run.ID.String()+"_3"]
	require.True(t, ok)
	assert.Equal(t, int64(42), doc.Bytes)
	assert.Equal(t, "send-file", doc.Operation)
	assert.NoError(t, m.Close())
}

func TestMongoSaveError(t *testing.T) {
	m := &Mongo{coll: &fakeCollection{err: errors.New("no primary")}, run: NewRun(models.NewRunCommand("x"))}
	assert.ErrorContains(t, m.Present(context.Background(), okEvent(0, "", "")), "no primary")
}
