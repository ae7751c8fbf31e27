package parse

import (
	"strings"
	"time"

	"github.com/fknorr/studip-client/internal/model"
)

// fileDetailsMachine walks one file's expanded detail block. The block opens
// with a div id=file_<id>_0, carries the description in a bold header span,
// the author and timestamp in the following origin cell, the folder
// breadcrumb in a folder.php link and the file name in the sendfile.php
// download link.
type fileDetailsState int

const (
	detailsOutside fileDetailsState = iota
	detailsFileDiv
	detailsHeaderSpan
	detailsAfterHeader
	detailsOriginTd
	detailsAuthorA
	detailsOpenDiv
	detailsFolderA
)

type fileDetailsMachine struct {
	state    fileDetailsState
	divDepth int
	finished bool

	file    model.File
	rawName string
	dateBuf strings.Builder
}

func (m *fileDetailsMachine) startTag(tag string, attrs map[string]string) {
	switch m.state {
	case detailsOutside:
		if tag == "div" && isFileDivID(attrs["id"]) {
			m.state = detailsFileDiv
			m.divDepth = 0
		}
	case detailsFileDiv:
		switch tag {
		case "div":
			m.divDepth++
		case "span":
			if strings.HasSuffix(attrs["id"], "_header") && strings.Contains(attrs["style"], "bold") {
				m.state = detailsHeaderSpan
			}
		}
	case detailsAfterHeader:
		if tag == "td" {
			m.state = detailsOriginTd
			m.dateBuf.Reset()
		}
	case detailsOriginTd:
		if tag == "a" {
			m.state = detailsAuthorA
		}
	case detailsOpenDiv:
		switch tag {
		case "a":
			href, ok := attrs["href"]
			if !ok {
				return
			}
			switch {
			case strings.Contains(href, "folder.php"):
				m.state = detailsFolderA
			case strings.Contains(href, "sendfile.php") && !strings.Contains(href, "zip="):
				m.file.ID = urlField(href, "file_id")
				m.rawName = urlField(href, "file_name")
			}
		case "div":
			if strings.Contains(attrs["class"], "messagebox") {
				m.file.Copyrighted = true
			}
			m.divDepth++
		}
	}
}

func (m *fileDetailsMachine) endTag(tag string) {
	switch {
	case tag == "div" && (m.state == detailsFileDiv || m.state == detailsOpenDiv):
		if m.divDepth > 0 {
			m.divDepth--
		} else if m.file.ID != "" {
			m.finished = true
		}
	case tag == "span" && m.state == detailsHeaderSpan:
		m.state = detailsAfterHeader
	case tag == "a" && m.state == detailsAuthorA:
		m.state = detailsOriginTd
	case tag == "td" && m.state == detailsOriginTd:
		m.state = detailsOpenDiv
		date := compact(m.dateBuf.String())
		if match := timestampPattern.FindString(date); match != "" {
			if t, err := time.ParseInLocation(TimestampLayout, match, time.Local); err == nil {
				m.file.RemoteDate = t
			}
		}
	case tag == "a" && m.state == detailsFolderA:
		m.state = detailsOpenDiv
	}
}

func (m *fileDetailsMachine) text(data string) {
	switch m.state {
	case detailsHeaderSpan:
		m.file.Description += data
	case detailsOriginTd:
		m.dateBuf.WriteString(data)
	case detailsAuthorA:
		m.file.Author += data
	case detailsFolderA:
		m.file.Path = strings.Split(data, " / ")
	}
}

func (m *fileDetailsMachine) done() bool { return m.finished }

// FileDetails extracts one file record from the file's detail page. The
// course id is not part of the page; the caller assigns it and decides
// whether the record is complete enough to persist.
func FileDetails(doc string) (model.File, error) {
	m := &fileDetailsMachine{}
	feed(doc, m)
	if m.file.ID == "" {
		return model.File{}, &Error{Tag: "FileDetails"}
	}
	m.file.Description = compact(m.file.Description)
	m.file.Author = compact(m.file.Author)
	m.file.Name, m.file.Extension = splitExtension(m.rawName)
	return m.file, nil
}

// splitExtension splits the trailing component of a download URL on the last
// dot. Names without a dot keep an empty extension.
func splitExtension(rawName string) (name, ext string) {
	if i := strings.LastIndex(rawName, "."); i > 0 {
		return rawName[:i], rawName[i+1:]
	}
	return rawName, ""
}
