// Package exportwriter serializes one decrypted mail to a single
// RFC 2822/MIME message file on disk, with collision-safe filenames and
// atomic writes.
package exportwriter

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/tuta-cli/tuta-export/internal/entity"
	"github.com/tuta-cli/tuta-export/internal/errs"
	"github.com/tuta-cli/tuta-export/internal/session"
)

// maxSubjectRunes bounds the subject portion of a filename so that long
// subjects never push a path past common filesystem limits.
const maxSubjectRunes = 80

// Writer implements session.MailWriter: it renders each mail to an .eml
// file under Dir. Safe for concurrent Write calls from the pipeline's
// worker pool — collision resolution is guarded by mu, and each write
// targets a distinct, freshly reserved path.
type Writer struct {
	Dir string

	mu   sync.Mutex
	seen map[string]int
}

// New returns a Writer rooted at dir, creating dir if it does not exist.
func New(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.New(errs.KindIO, "create output directory", err)
	}
	return &Writer{Dir: dir, seen: make(map[string]int)}, nil
}

// Write renders mail to a message file and writes it atomically: the
// content lands in "<name>.eml.tmp" first, then is renamed into place, so
// a crash mid-write never leaves a truncated .eml behind.
func (w *Writer) Write(mail *entity.Mail, details *entity.MailDetails, attachments []session.Attachment) error {
	content, err := buildMessage(mail, details, attachments)
	if err != nil {
		return err
	}

	path := w.reservePath(mail)
	tmp := path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errs.New(errs.KindIO, "open temp file", err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.New(errs.KindIO, "write temp file", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errs.New(errs.KindIO, "close temp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errs.New(errs.KindIO, "rename into place", err)
	}
	return nil
}

// reservePath builds the base filename for mail and, if it has already
// been used in this run, appends a numeric suffix until it finds a free
// one. The reservation itself (marking the name used) happens under mu so
// two workers racing on the same timestamp+subject never collide.
func (w *Writer) reservePath(mail *entity.Mail) string {
	base := filenameFor(mail)

	w.mu.Lock()
	defer w.mu.Unlock()

	n := w.seen[base]
	w.seen[base] = n + 1

	name := base + ".eml"
	if n > 0 {
		name = base + " (" + strconv.Itoa(n) + ").eml"
	}
	return filepath.Join(w.Dir, name)
}

// filenameFor builds "<timestamp> <subject>" with no extension: an
// ISO-8601 UTC timestamp (colons swapped for dashes, since colons are
// reserved on several filesystems) followed by a space and the subject
// reduced to filesystem-safe characters.
func filenameFor(mail *entity.Mail) string {
	ts := mail.ReceivedDate.UTC().Format("2006-01-02T15-04-05Z")
	subject := escapeFileString(mail.Subject)
	if subject == "" {
		return ts
	}
	return ts + " " + subject
}

// escapeFileString lowercases the subject and keeps only letters and
// digits, folding every run of anything else down to a single hyphen, so
// "Hello world" becomes "hello-world" and "Re: [urgent] hi!!" becomes
// "re-urgent-hi".
func escapeFileString(s string) string {
	var b strings.Builder
	lastWasHyphen := true // swallow any leading separator
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastWasHyphen = false
		default:
			if !lastWasHyphen {
				b.WriteByte('-')
			}
			lastWasHyphen = true
		}
	}
	out := strings.TrimSuffix(b.String(), "-")
	if runes := []rune(out); len(runes) > maxSubjectRunes {
		out = strings.TrimSuffix(string(runes[:maxSubjectRunes]), "-")
	}
	return out
}

