package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"surveySync/internal/model"
)

// JsonlStorage appends decoded events to a JSONL file.
type JsonlStorage struct {
	path string
	mu   sync.Mutex
}

func NewJsonlStorage(path string) *JsonlStorage {
	return &JsonlStorage{path: path}
}

// PutEventBatch appends a batch of decoded events as JSON lines.
func (s *JsonlStorage) PutEventBatch(events []model.DecodedEvent) error {
	values := make([]interface{}, 0, len(events))
	for _, event := range events {
		values = append(values, event)
	}
	return s.appendLines(values)
}

// PutDecodeErrors appends skipped-log records as JSON lines.
func (s *JsonlStorage) PutDecodeErrors(errs []model.DecodeError) error {
	values := make([]interface{}, 0, len(errs))
	for _, e := range errs {
		values = append(values, e)
	}
	return s.appendLines(values)
}

func (s *JsonlStorage) appendLines(values []interface{}) error {
	if len(values) == 0 {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, value := range values {
		line, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return nil
}
