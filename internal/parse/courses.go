package parse

import "strings"

// CourseEntry is one row of the remote course listing. The semester is
// reported by its caption text; the caller resolves it to a semester id.
type CourseEntry struct {
	ID           string
	Number       string
	Name         string
	Type         string
	SemesterName string
}

// Course table rows walk through a fixed td sequence: group color, icon,
// course number, course name. The name cell holds the link carrying the
// course id.
type courseRowState int

const (
	courseBeforeList courseRowState = iota
	courseInList
	courseInRow
	courseTdGroup
	courseTdImg
	courseTdNumber
	courseTdName
	courseAfterTds
)

type courseListMachine struct {
	state    courseRowState
	finished bool

	semester strings.Builder
	inCaption bool

	currentID     string
	currentNumber strings.Builder
	currentName   strings.Builder

	courses []CourseEntry
}

func (m *courseListMachine) startTag(tag string, attrs map[string]string) {
	switch {
	case m.state == courseBeforeList:
		if tag == "div" && attrs["id"] == "my_seminars" {
			m.state = courseInList
		}
	case tag == "caption" && m.state != courseBeforeList:
		// Semester group captions separate the per-semester tables.
		m.inCaption = true
		m.semester.Reset()
	case m.state == courseInList && tag == "tr":
		m.state = courseInRow
		m.currentID = ""
		m.currentNumber.Reset()
		m.currentName.Reset()
	case tag == "td" && m.state >= courseInRow && m.state < courseAfterTds:
		m.state++
	case m.state == courseTdName && tag == "a":
		if id := urlField(attrs["href"], "auswahl"); id != "" {
			m.currentID = id
		}
	}
}

func (m *courseListMachine) endTag(tag string) {
	switch {
	case tag == "caption" && m.inCaption:
		m.inCaption = false
	case tag == "div" && m.state != courseBeforeList:
		m.finished = true
	case m.state == courseAfterTds && tag == "tr":
		name, typ := splitNameType(compact(m.currentName.String()))
		if m.currentID != "" {
			m.courses = append(m.courses, CourseEntry{
				ID:           m.currentID,
				Number:       compact(m.currentNumber.String()),
				Name:         name,
				Type:         typ,
				SemesterName: compact(m.semester.String()),
			})
		}
		m.state = courseInList
	case tag == "tr" && m.state > courseInList && m.state < courseAfterTds:
		// Header rows without the full td sequence.
		m.state = courseInList
	}
}

func (m *courseListMachine) text(data string) {
	switch {
	case m.inCaption:
		m.semester.WriteString(data)
	case m.state == courseTdNumber:
		m.currentNumber.WriteString(data)
	case m.state == courseTdName:
		m.currentName.WriteString(data)
	}
}

func (m *courseListMachine) done() bool { return m.finished }

// splitNameType splits a trailing parenthesized type suffix off a course
// title, following the "<name> (<type>)" convention. Titles without the
// suffix keep an empty type.
func splitNameType(title string) (name, typ string) {
	if !strings.HasSuffix(title, ")") {
		return title, ""
	}
	open := strings.LastIndex(title, " (")
	if open < 1 {
		return title, ""
	}
	return title[:open], title[open+2 : len(title)-1]
}

// CourseList extracts the course rows of the overview page, grouped by
// semester caption blocks. Sync mode assignment happens later, at the first
// sync that sees the course.
func CourseList(doc string) ([]CourseEntry, error) {
	m := &courseListMachine{}
	feed(doc, m)
	if !m.finished && m.state == courseBeforeList {
		return nil, &Error{Tag: "CourseList"}
	}
	return m.courses, nil
}
