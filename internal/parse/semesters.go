package parse

import (
	"strings"

	"github.com/fknorr/studip-client/internal/model"
)

// semesterListMachine reads the options of the semester selector on the
// course overview page.
type semesterListMachine struct {
	inSelect   bool
	inOption   bool
	closed     bool
	currentID  string
	currentSel bool
	name       strings.Builder
	semesters  []model.Semester
	selected   string
}

func (m *semesterListMachine) startTag(tag string, attrs map[string]string) {
	switch {
	case tag == "select" && attrs["name"] == "sem_select":
		m.inSelect = true
	case m.inSelect && tag == "option":
		m.inOption = true
		m.currentID = attrs["value"]
		_, m.currentSel = attrs["selected"]
		m.name.Reset()
	}
}

func (m *semesterListMachine) endTag(tag string) {
	switch {
	case m.inOption && tag == "option":
		m.inOption = false
		m.semesters = append(m.semesters, model.Semester{
			ID:   m.currentID,
			Name: compact(m.name.String()),
		})
		if m.currentSel {
			m.selected = m.currentID
		}
	case m.inSelect && tag == "select":
		m.inSelect = false
		m.closed = true
	}
}

func (m *semesterListMachine) text(data string) {
	if m.inOption {
		m.name.WriteString(data)
	}
}

func (m *semesterListMachine) done() bool { return m.closed }

// SemesterList extracts the ordered semester list and the currently selected
// semester id from the overview page. The selector's "current" pseudo-entry
// is dropped from the returned list but still counts as the selection when
// marked. The source lists semesters in reverse-chronological display order,
// so the ordinal rank of the entry at index i is count-1-i.
func SemesterList(doc string) ([]model.Semester, string, error) {
	m := &semesterListMachine{}
	feed(doc, m)

	semesters := m.semesters[:0]
	for _, s := range m.semesters {
		if s.ID != "current" {
			semesters = append(semesters, s)
		}
	}
	if len(semesters) == 0 {
		return nil, "", &Error{Tag: "SemesterList"}
	}
	for i := range semesters {
		semesters[i].Ord = len(semesters) - 1 - i
	}
	return semesters, m.selected, nil
}
