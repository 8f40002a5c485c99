package transcript

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"reminder-voice/internal/calls"
	"reminder-voice/internal/outcome"
)

var (
	ErrNotFound    = errors.New("transcript: not found")
	ErrInvalidPath = errors.New("transcript: path outside transcript root")
)

// Meta describes a transcript file without its full content.
type Meta struct {
	CallUUID      string          `json:"call_uuid"`
	UserID        string          `json:"user_id"`
	InvoiceNumber string          `json:"invoice_number"`
	CustomerName  string          `json:"customer_name,omitempty"`
	Filename      string          `json:"filename"`
	Size          int64           `json:"size"`
	ModifiedAt    time.Time       `json:"modified_at"`
	Status        string          `json:"status,omitempty"`
	HasSummary    bool            `json:"has_summary"`
	Outcomes      []outcome.Entry `json:"outcomes"`
	CutOffDate    string          `json:"cut_off_date,omitempty"`
}

// Sections splits a transcript into its parts.
type Sections struct {
	Metadata     string `json:"metadata"`
	Conversation string `json:"conversation"`
	Footer       string `json:"footer"`
	Summary      string `json:"summary"`
}

// Document is a full transcript.
type Document struct {
	Meta
	Content  string   `json:"content"`
	Sections Sections `json:"sections"`
}

// Store reads transcripts below a root directory.
type Store struct {
	root string
}

func NewStore(root string) *Store { return &Store{root: filepath.Clean(root)} }

func (s *Store) Root() string { return s.root }

// PathFor is the transcript path of a call record.
func (s *Store) PathFor(rec calls.Record) string {
	return Path(s.root, rec.UserID, rec.InvoiceNumber, rec.CallUUID)
}

// List returns transcript metadata, newest first. An empty userID lists
// every owner.
func (s *Store) List(userID string) ([]Meta, error) {
	var dirs []string
	if userID != "" {
		dirs = []string{UserDir(s.root, userID)}
	} else {
		entries, err := os.ReadDir(s.root)
		if errors.Is(err, fs.ErrNotExist) {
			return []Meta{}, nil
		}
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() && strings.HasPrefix(e.Name(), userDirPrefix) {
				dirs = append(dirs, filepath.Join(s.root, e.Name()))
			}
		}
	}

	out := make([]Meta, 0)
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
				continue
			}
			doc, err := s.load(filepath.Join(dir, e.Name()))
			if err != nil {
				continue
			}
			out = append(out, doc.Meta)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ModifiedAt.After(out[j].ModifiedAt) })
	return out, nil
}

// Load reads a transcript by path. The path must resolve inside the root.
func (s *Store) Load(path string) (Document, error) {
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(s.root, full)
	}
	full = filepath.Clean(full)
	rel, err := filepath.Rel(s.root, full)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return Document{}, ErrInvalidPath
	}
	return s.load(full)
}

func (s *Store) load(full string) (Document, error) {
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	b, err := os.ReadFile(full)
	if err != nil {
		return Document{}, err
	}
	content := string(b)

	rel, _ := filepath.Rel(s.root, full)
	meta := Meta{
		Filename:   filepath.ToSlash(rel),
		Size:       info.Size(),
		ModifiedAt: info.ModTime().UTC(),
	}
	if invoice, id, ok := splitFileName(filepath.Base(full)); ok {
		meta.InvoiceNumber = invoice
		meta.CallUUID = id
	}
	if dir := filepath.Base(filepath.Dir(full)); strings.HasPrefix(dir, userDirPrefix) {
		meta.UserID = strings.TrimPrefix(dir, userDirPrefix)
	}

	sec := Split(content)
	// Directory and file names are sanitized; the header keeps raw values.
	if v := field(sec.Metadata, "User ID:"); v != "" {
		meta.UserID = v
	}
	if v := field(sec.Metadata, "Call UUID:"); v != "" {
		meta.CallUUID = v
	}
	if v := field(sec.Metadata, "Invoice Number:"); v != "" && v != "N/A" {
		meta.InvoiceNumber = v
	}
	meta.CustomerName = field(sec.Metadata, "Customer Name:")
	meta.Status = field(sec.Footer, "Status:")
	meta.HasSummary = strings.Contains(content, SummaryMarker)
	meta.Outcomes = []outcome.Entry{}
	if sec.Summary != "" {
		parsed := outcome.Parse(sec.Summary)
		meta.Outcomes = parsed.Entries
		if d, ok := outcome.CutOffDate(parsed); ok {
			meta.CutOffDate = d.Format("2006-01-02")
		}
	}
	return Document{Meta: meta, Content: content, Sections: sec}, nil
}

func field(section, label string) string {
	for _, line := range strings.Split(section, "\n") {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), label); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// Split divides transcript content into metadata, conversation, footer and
// summary sections. Border lines are dropped.
func Split(content string) Sections {
	const (
		inMeta = iota
		inConversation
		inFooter
		inSummary
	)
	var parts [4][]string
	state := inMeta
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, SummaryMarker):
			state = inSummary
		case state == inMeta && trimmed == conversationMarker:
			state = inConversation
			continue
		case state == inConversation && strings.HasPrefix(trimmed, endedLabel):
			state = inFooter
		}
		if trimmed == border || trimmed == titleLine {
			continue
		}
		parts[state] = append(parts[state], line)
	}
	join := func(ls []string) string { return strings.TrimSpace(strings.Join(ls, "\n")) }
	return Sections{
		Metadata:     join(parts[inMeta]),
		Conversation: join(parts[inConversation]),
		Footer:       join(parts[inFooter]),
		Summary:      join(parts[inSummary]),
	}
}

var turnLineRe = regexp.MustCompile(`^\[[^\]]*\]\s+(USER|ASSISTANT):`)

// ExtractTurns returns only the speaker-tagged turn lines of a transcript.
// Header metadata never appears in the result.
func ExtractTurns(content string) []string {
	conv := Split(content).Conversation
	out := make([]string, 0)
	for _, line := range strings.Split(conv, "\n") {
		line = strings.TrimSpace(line)
		if turnLineRe.MatchString(line) {
			out = append(out, line)
		}
	}
	return out
}
