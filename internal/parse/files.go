package parse

import (
	"regexp"
	"strings"
	"time"
)

// TimestampLayout is the localized last-modified format used throughout the
// portal's file pages.
const TimestampLayout = "02.01.2006 - 15:04"

var timestampPattern = regexp.MustCompile(`\d{2}\.\d{2}\.\d{4} - \d{2}:\d{2}`)

// FileEntry is one row of a course's folder listing. Modified is zero when
// the row carries no readable timestamp; the differ then falls back to
// id-only comparison for that file.
type FileEntry struct {
	ID       string
	Modified time.Time
}

// File rows are rendered as div blocks with ids of the form file_<id>_0.
// Download links point at sendfile.php and carry the opaque file id in the
// file_id query parameter.
type fileListMachine struct {
	inFileDiv bool
	divDepth  int
	rowText   strings.Builder
	currentID string
	entries   []FileEntry
}

func (m *fileListMachine) startTag(tag string, attrs map[string]string) {
	if !m.inFileDiv {
		if tag == "div" && isFileDivID(attrs["id"]) {
			m.inFileDiv = true
			m.divDepth = 0
			m.rowText.Reset()
			m.currentID = ""
		}
		return
	}
	switch tag {
	case "div":
		m.divDepth++
	case "a":
		if href, ok := attrs["href"]; ok && strings.Contains(href, "sendfile.php") {
			if id := urlField(href, "file_id"); id != "" && m.currentID == "" {
				m.currentID = id
			}
		}
	}
}

func (m *fileListMachine) endTag(tag string) {
	if tag != "div" || !m.inFileDiv {
		return
	}
	if m.divDepth > 0 {
		m.divDepth--
		return
	}
	m.inFileDiv = false
	if m.currentID == "" {
		return
	}
	entry := FileEntry{ID: m.currentID}
	if match := timestampPattern.FindString(m.rowText.String()); match != "" {
		if t, err := time.ParseInLocation(TimestampLayout, match, time.Local); err == nil {
			entry.Modified = t
		}
	}
	m.entries = append(m.entries, entry)
}

func (m *fileListMachine) text(data string) {
	if m.inFileDiv {
		m.rowText.WriteString(data)
	}
}

func (m *fileListMachine) done() bool { return false }

func isFileDivID(id string) bool {
	return strings.HasPrefix(id, "file_") && strings.HasSuffix(id, "_0")
}

// FileList extracts the ordered remote file entries from a course's folder
// listing page. A page without any file rows is a valid empty listing.
func FileList(doc string) ([]FileEntry, error) {
	m := &fileListMachine{}
	feed(doc, m)
	return m.entries, nil
}
