// Package persistence writes run reports to disk, with the serialization
// format and the destination kept behind small interfaces.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const (
	indent = "  "
	prefix = ""
)

type Serializer interface {
	Marshal(data any) ([]byte, error)
}

type Writer interface {
	Write(filename string, data []byte) error
}

type JSONSerializer struct {
	Prefix, Indent string
}

func (s JSONSerializer) Marshal(data any) ([]byte, error) {
	b, err := json.MarshalIndent(data, s.Prefix, s.Indent)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// FileWriter writes whole files on Fs, creating parent directories. A nil
// Fs means the OS filesystem.
type FileWriter struct {
	Fs        afero.Fs
	Overwrite bool
}

func (w FileWriter) Write(filename string, data []byte) error {
	if filename == "" {
		return os.ErrInvalid
	}
	fs := w.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if _, err := fs.Stat(filename); !os.IsNotExist(err) && !w.Overwrite {
		return os.ErrExist
	}
	if err := fs.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	return afero.WriteFile(fs, filename, data, 0644)
}

// WriteJSONToFile serializes data and hands the bytes to writer.
func WriteJSONToFile(data any, filename string, serializer Serializer, writer Writer) error {
	if filename == "" {
		return fmt.Errorf("invalid filename: %w", os.ErrInvalid)
	}

	bytes, err := serializer.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if err := writer.Write(filename, bytes); err != nil {
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}
	return nil
}

// WriteJSON writes data as indented JSON on fs, replacing any existing file.
func WriteJSON(fs afero.Fs, data any, filename string) error {
	return WriteJSONToFile(data, filename, JSONSerializer{Prefix: prefix, Indent: indent}, FileWriter{Fs: fs, Overwrite: true})
}
