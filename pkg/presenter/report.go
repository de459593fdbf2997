package presenter

import (
	"context"
	"time"

	"github.com/andrej220/pssh/internal/persistence"
	"github.com/andrej220/pssh/pkg/models"
	"github.com/spf13/afero"
)

type reportDoc struct {
	RunID     string    `json:"runId"`
	Operation string    `json:"operation"`
	Command   string    `json:"command,omitempty"`
	Remote    string    `json:"remotePath,omitempty"`
	StartedAt time.Time `json:"startedAt"`
	Hosts     []Record  `json:"hosts"`
}

// Report collects records in presentation order and writes them as one
// JSON document on Close.
type Report struct {
	path    string
	fs      afero.Fs
	run     Run
	records []Record
}

func NewReport(fs afero.Fs, path string, run Run) *Report {
	return &Report{path: path, fs: fs, run: run}
}

func (r *Report) Present(_ context.Context, ev models.CompletionEvent) error {
	r.records = append(r.records, NewRecord(r.run, ev))
	return nil
}

func (r *Report) Close() error {
	doc := reportDoc{
		RunID:     r.run.ID.String(),
		Operation: r.run.Op.Kind.String(),
		Command:   r.run.Op.Command,
		Remote:    r.run.Op.RemotePath,
		StartedAt: r.run.StartedAt.UTC(),
		Hosts:     r.records,
	}
	if doc.Hosts == nil {
		doc.Hosts = []Record{}
	}
	return persistence.WriteJSON(r.fs, doc, r.path)
}
