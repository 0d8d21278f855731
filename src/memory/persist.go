package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// timeLayout is the on-disk timestamp format for entries.
const timeLayout = "2006-01-02 15:04:05"

// Persister durably stores a bank's entries. Save must not return until the
// state is durably written: Add and Clear report success only afterwards.
type Persister interface {
	Load(ctx context.Context, bankID string) ([]Entry, error)
	Save(ctx context.Context, bankID string, entries []Entry) error
	Delete(ctx context.Context, bankID string) error
	Close() error
}

// entryRecord is the wire form of an Entry: a UTF-8 JSON object inside the
// per-bank array.
type entryRecord struct {
	ID        string    `json:"id,omitempty"`
	Date      string    `json:"date"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding,omitempty"`
	Engine    string    `json:"engine,omitempty"`
	Dims      int       `json:"dims,omitempty"`
}

func toRecords(entries []Entry) []entryRecord {
	records := make([]entryRecord, len(entries))
	for i, e := range entries {
		records[i] = entryRecord{
			ID:        e.ID,
			Date:      e.CreatedAt.Format(timeLayout),
			Text:      e.Text,
			Embedding: e.Embedding,
			Engine:    e.Engine,
			Dims:      e.Dimensions,
		}
	}
	return records
}

func fromRecords(records []entryRecord) []Entry {
	entries := make([]Entry, 0, len(records))
	for _, r := range records {
		createdAt, err := time.ParseInLocation(timeLayout, r.Date, time.Local)
		if err != nil {
			createdAt = time.Time{}
		}
		entries = append(entries, Entry{
			ID:         r.ID,
			CreatedAt:  createdAt,
			Text:       r.Text,
			Embedding:  r.Embedding,
			Engine:     r.Engine,
			Dimensions: r.Dims,
		})
	}
	return entries
}

// FilePersister keeps one JSON file per bank under a storage directory.
type FilePersister struct {
	dir string
}

// NewFilePersister creates the storage directory if needed.
func NewFilePersister(dir string) (*FilePersister, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	return &FilePersister{dir: dir}, nil
}

func (p *FilePersister) path(bankID string) string {
	return filepath.Join(p.dir, bankID+".json")
}

// Load reads a bank's entries. An unreadable file is quarantined with a
// .corrupt suffix and reported as ErrStorageCorrupt so the caller can treat
// the bank as empty without losing the evidence.
func (p *FilePersister) Load(_ context.Context, bankID string) ([]Entry, error) {
	path := p.path(bankID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var records []entryRecord
	if err := json.Unmarshal(data, &records); err != nil {
		quarantine := path + ".corrupt"
		if renameErr := os.Rename(path, quarantine); renameErr != nil {
			log.Printf("memory: failed to quarantine %s: %v", path, renameErr)
		} else {
			log.Printf("memory: quarantined unreadable bank file to %s", quarantine)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrStorageCorrupt, path, err)
	}
	return fromRecords(records), nil
}

// Save writes the bank atomically: temp file in the same directory, fsync,
// then rename over the old state.
func (p *FilePersister) Save(_ context.Context, bankID string, entries []Entry) error {
	data, err := json.MarshalIndent(toRecords(entries), "", "  ")
	if err != nil {
		return fmt.Errorf("encode bank %s: %w", bankID, err)
	}

	path := p.path(bankID)
	tmp, err := os.CreateTemp(p.dir, bankID+".*.tmp")
	if err != nil {
		return fmt.Errorf("temp file for %s: %w", bankID, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

func (p *FilePersister) Delete(_ context.Context, bankID string) error {
	err := os.Remove(p.path(bankID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete bank %s: %w", bankID, err)
	}
	return nil
}

func (p *FilePersister) Close() error { return nil }
