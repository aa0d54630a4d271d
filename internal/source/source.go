// Package source reads raw messages from a local mail store without
// modifying it.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/emersion/go-mbox"
	"go.uber.org/zap"

	"github.com/felo/mail-indexer/internal/parser"
)

var (
	// ErrSourceUnavailable is returned when the store cannot be read at all.
	ErrSourceUnavailable = errors.New("mail store unavailable")
	// ErrMessageUnreadable marks a single record that could not be read.
	ErrMessageUnreadable = parser.ErrMessageUnreadable
)

// Mailbox vendors.
const (
	VendorThunderbird = "thunderbird"
	VendorMbox        = "mbox"
	VendorEML         = "eml"
)

// DefaultFolder names mailboxes that have no folder of their own.
const DefaultFolder = "INBOX"

// Options configures a Store.
type Options struct {
	// MaxMessageBytes limits the size of one record. Zero means no limit.
	MaxMessageBytes int64
	Logger          *zap.Logger
}

// Record is one raw message, or the error that prevented reading it.
type Record struct {
	Index    int
	Location string
	Folder   string
	Vendor   string
	Raw      []byte
	Err      error
}

type mailbox struct {
	path   string
	rel    string
	folder string
	vendor string
}

// Store iterates over the messages of a file or directory store in a
// stable order. It is not safe for concurrent use.
type Store struct {
	root   string
	single bool
	boxes  []mailbox
	opts   Options
	logger *zap.Logger

	cur   int
	file  *os.File
	mr    *mbox.Reader
	recNo int
	next  int
	bytes int64
}

// Open opens the store at path. A regular file is one mailbox; a directory
// is walked for .eml files, .mbox files and Thunderbird mailboxes.
func Open(path string, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}

	s := &Store{root: path, opts: opts, logger: opts.Logger}
	if info.IsDir() {
		if s.boxes, err = discover(path); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
	} else {
		s.single = true
		s.boxes = []mailbox{singleMailbox(path)}
	}

	s.logger.Info("Opened mail store",
		zap.String("path", path),
		zap.Int("mailboxes", len(s.boxes)),
	)
	return s, nil
}

func singleMailbox(path string) mailbox {
	name := filepath.Base(path)
	box := mailbox{path: path, rel: name, folder: strings.TrimSuffix(name, filepath.Ext(name)), vendor: VendorMbox}
	switch {
	case strings.EqualFold(filepath.Ext(name), ".eml"):
		box.vendor = VendorEML
		box.folder = DefaultFolder
	case fileExists(path + ".msf"):
		box.vendor = VendorThunderbird
		box.folder = name
	}
	return box
}

// discover lists the mailboxes below root in lexical order.
func discover(root string) ([]mailbox, error) {
	var files []string
	present := make(map[string]bool)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("error accessing path %s: %w", path, err)
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, path)
			present[path] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var boxes []mailbox
	for _, path := range files {
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil, fmt.Errorf("failed to get relative path for %s: %w", path, err)
		}
		rel = filepath.ToSlash(rel)
		name := filepath.Base(path)
		ext := strings.ToLower(filepath.Ext(name))

		switch {
		case ext == ".msf":
		case present[path+".msf"]:
			boxes = append(boxes, mailbox{path: path, rel: rel, folder: folderOf(rel, name), vendor: VendorThunderbird})
		case ext == ".mbox":
			boxes = append(boxes, mailbox{path: path, rel: rel, folder: folderOf(rel, strings.TrimSuffix(name, filepath.Ext(name))), vendor: VendorMbox})
		case ext == ".eml":
			folder := filepath.Base(filepath.Dir(path))
			if filepath.Dir(path) == filepath.Clean(root) {
				folder = DefaultFolder
			}
			boxes = append(boxes, mailbox{path: path, rel: rel, folder: folder, vendor: VendorEML})
		}
	}
	return boxes, nil
}

// folderOf builds the folder name of a mailbox file. Enclosing ".sbd"
// directories are subfolder containers; other directories (profile and
// account directories) are not part of the name.
func folderOf(rel, name string) string {
	dirs := strings.Split(filepath.ToSlash(filepath.Dir(rel)), "/")
	folder := []string{name}
	for i := len(dirs) - 1; i >= 0 && strings.HasSuffix(dirs[i], ".sbd"); i-- {
		folder = append([]string{strings.TrimSuffix(dirs[i], ".sbd")}, folder...)
	}
	return strings.Join(folder, "/")
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Next returns the next record, or io.EOF when the store is exhausted.
// Records that cannot be read are returned with Err set; only a store
// that cannot be read at all yields ErrSourceUnavailable.
func (s *Store) Next(ctx context.Context) (*Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.cur >= len(s.boxes) {
			return nil, io.EOF
		}
		box := s.boxes[s.cur]

		if box.vendor == VendorEML {
			s.cur++
			raw, err := s.readFile(box.path)
			return s.record(box, box.rel, raw, err), nil
		}

		if s.mr == nil {
			f, err := os.Open(box.path)
			if err != nil {
				s.cur++
				if s.single {
					return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
				}
				return s.record(box, box.rel, nil, fmt.Errorf("%w: %v", ErrMessageUnreadable, err)), nil
			}
			s.file, s.mr, s.recNo = f, mbox.NewReader(f), 0
		}

		r, err := s.mr.NextMessage()
		if err == io.EOF {
			s.closeMailbox()
			continue
		}
		if err != nil {
			recNo := s.recNo
			s.closeMailbox()
			if s.single && errors.Is(err, mbox.ErrInvalidFormat) {
				return nil, fmt.Errorf("%w: %s: %v", ErrSourceUnavailable, box.rel, err)
			}
			s.logger.Warn("Abandoning mailbox",
				zap.String("mailbox", box.rel),
				zap.Int("records", recNo),
				zap.Error(err),
			)
			return s.record(box, box.rel, nil, fmt.Errorf("%w: %s: %v", ErrMessageUnreadable, box.rel, err)), nil
		}

		location := box.rel + "#" + strconv.Itoa(s.recNo)
		s.recNo++
		raw, err := s.read(r)
		return s.record(box, location, raw, err), nil
	}
}

func (s *Store) record(box mailbox, location string, raw []byte, err error) *Record {
	rec := &Record{
		Index:    s.next,
		Location: location,
		Folder:   box.folder,
		Vendor:   box.vendor,
		Raw:      raw,
		Err:      err,
	}
	s.next++
	return rec
}

func (s *Store) readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMessageUnreadable, err)
	}
	defer f.Close()
	return s.read(f)
}

// read reads one message, enforcing MaxMessageBytes.
func (s *Store) read(r io.Reader) ([]byte, error) {
	limit := s.opts.MaxMessageBytes
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMessageUnreadable, err)
	}
	if limit > 0 && int64(len(raw)) > limit {
		return nil, fmt.Errorf("%w: message exceeds %s", ErrMessageUnreadable, humanize.Bytes(uint64(limit)))
	}
	s.bytes += int64(len(raw))
	return raw, nil
}

func (s *Store) closeMailbox() {
	if s.file != nil {
		s.file.Close()
	}
	s.file, s.mr = nil, nil
	s.cur++
}

// TotalBytes returns the number of message bytes read so far.
func (s *Store) TotalBytes() int64 {
	return s.bytes
}

// Mailboxes returns the number of mailboxes found in the store.
func (s *Store) Mailboxes() int {
	return len(s.boxes)
}

// Close releases the open mailbox, if any.
func (s *Store) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.mr = nil, nil
	return err
}
