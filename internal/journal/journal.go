// Package journal appends transfer notices to a JSONL file.
package journal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

const (
	DirectionOut = "out"
	DirectionIn  = "in"

	FileName    = "transfers.jsonl"
	maxScanSize = 64 * 1024
)

type Entry struct {
	ID        string    `json:"id"`
	Direction string    `json:"direction"`
	Peer      string    `json:"peer"`
	Coin      string    `json:"coin"`
	Amount    string    `json:"amount"`
	Addr      string    `json:"addr"`
	TxID      string    `json:"txid,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func NewEntry(direction, peer, coin, amount, addr, txid string) (Entry, error) {
	if direction != DirectionOut && direction != DirectionIn {
		return Entry{}, fmt.Errorf("invalid direction %q", direction)
	}
	if coin == "" {
		return Entry{}, fmt.Errorf("missing coin")
	}
	return Entry{
		ID:        uuid.New().String(),
		Direction: direction,
		Peer:      peer,
		Coin:      coin,
		Amount:    amount,
		Addr:      addr,
		TxID:      txid,
		CreatedAt: time.Now().UTC(),
	}, nil
}

type Store struct {
	path string
}

func NewStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("missing path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	return &Store{path: path}, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Add(e Entry) error {
	if s == nil || s.path == "" {
		return fmt.Errorf("missing store")
	}
	if e.ID == "" {
		return fmt.Errorf("missing entry id")
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(e); err != nil {
		return err
	}
	return f.Sync()
}

// Tail returns the newest n entries, oldest first. Lines that do not parse
// are skipped.
func (s *Store) Tail(n int) ([]Entry, error) {
	if s == nil || s.path == "" {
		return nil, fmt.Errorf("missing store")
	}
	if n <= 0 {
		n = 20
	}
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	var out []Entry
	_, err = scan(f, func(e Entry) {
		out = append(out, e)
		if len(out) > n {
			out = out[1:]
		}
	})
	return out, err
}

func scan(r io.Reader, fn func(Entry)) (int64, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxScanSize)
	var read int64
	for sc.Scan() {
		read += int64(len(sc.Bytes())) + 1
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			continue
		}
		fn(e)
	}
	return read, sc.Err()
}

// Follow calls fn for every entry appended after the call, until ctx is
// done. The journal file may not exist yet.
func (s *Store) Follow(ctx context.Context, fn func(Entry)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		return err
	}
	var offset int64
	if st, err := os.Stat(s.path); err == nil {
		offset = st.Size()
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			return err
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(s.path) || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			next, err := s.readFrom(offset, fn)
			if err != nil {
				return err
			}
			offset = next
		}
	}
}

func (s *Store) readFrom(offset int64, fn func(Entry)) (int64, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return offset, err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return offset, err
	}
	if st.Size() < offset {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return offset, err
	}
	n, err := scan(f, fn)
	return offset + n, err
}
