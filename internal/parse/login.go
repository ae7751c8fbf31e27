package parse

import "strings"

// loginFormMachine captures the action URL of the SSO credential form.
type loginFormMachine struct {
	action string
	found  bool
}

func (m *loginFormMachine) startTag(tag string, attrs map[string]string) {
	if tag != "form" || m.found {
		return
	}
	action, ok := attrs["action"]
	if !ok {
		return
	}
	if method, ok := attrs["method"]; ok && !strings.EqualFold(method, "post") {
		return
	}
	m.action = action
	m.found = true
}

func (m *loginFormMachine) endTag(string) {}
func (m *loginFormMachine) text(string)   {}
func (m *loginFormMachine) done() bool    { return m.found }

// LoginFormAction returns the POST target of the credential form on the SSO
// login page.
func LoginFormAction(doc string) (string, error) {
	m := &loginFormMachine{}
	feed(doc, m)
	if !m.found {
		return "", &Error{Tag: "LoginForm"}
	}
	return m.action, nil
}

// samlFields are the hidden inputs relayed back to the service provider.
var samlFields = []string{"RelayState", "SAMLResponse"}

type samlFormMachine struct {
	values map[string]string
}

func (m *samlFormMachine) startTag(tag string, attrs map[string]string) {
	if tag != "input" {
		return
	}
	name, hasName := attrs["name"]
	value, hasValue := attrs["value"]
	if !hasName || !hasValue {
		return
	}
	for _, f := range samlFields {
		if name == f {
			m.values[name] = value
		}
	}
}

func (m *samlFormMachine) endTag(string) {}
func (m *samlFormMachine) text(string)   {}

func (m *samlFormMachine) done() bool {
	for _, f := range samlFields {
		if _, ok := m.values[f]; !ok {
			return false
		}
	}
	return true
}

// SAMLForm extracts the RelayState and SAMLResponse fields from the SSO
// confirmation page. A missing field after a full scan is the definitive
// signal of rejected credentials, reported as Error{Tag: "SAMLForm"}.
func SAMLForm(doc string) (map[string]string, error) {
	m := &samlFormMachine{values: map[string]string{}}
	feed(doc, m)
	if !m.done() {
		return nil, &Error{Tag: "SAMLForm"}
	}
	return m.values, nil
}
