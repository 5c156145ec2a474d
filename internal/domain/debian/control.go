package debian

import (
	"errors"
	"fmt"
	"strings"
)

// Field names in the order they are written.
const (
	FieldPackage      = "Package"
	FieldVersion      = "Version"
	FieldSection      = "Section"
	FieldPriority     = "Priority"
	FieldArchitecture = "Architecture"
	FieldMaintainer   = "Maintainer"
	FieldDescription  = "Description"
)

var (
	// ErrMissingField is returned when a required control field is empty.
	ErrMissingField = errors.New("missing control field")
	// ErrUnknownField is returned by Parse for fields outside the manifest.
	ErrUnknownField = errors.New("unknown control field")
	// ErrMalformedLine is returned by Parse for lines without a colon.
	ErrMalformedLine = errors.New("malformed control line")
	// ErrMultilineValue is returned when a value contains a line break.
	ErrMultilineValue = errors.New("control value spans multiple lines")
)

// Fields lists the control fields in output order.
func Fields() []string {
	return []string{
		FieldPackage,
		FieldVersion,
		FieldSection,
		FieldPriority,
		FieldArchitecture,
		FieldMaintainer,
		FieldDescription,
	}
}

// Control is the package metadata consumed by dpkg-deb.
type Control struct {
	Package      string
	Version      string
	Section      string
	Priority     string
	Architecture string
	Maintainer   string
	Description  string
}

// values pairs each field name with its value, in output order.
func (c *Control) values() [][2]string {
	return [][2]string{
		{FieldPackage, c.Package},
		{FieldVersion, c.Version},
		{FieldSection, c.Section},
		{FieldPriority, c.Priority},
		{FieldArchitecture, c.Architecture},
		{FieldMaintainer, c.Maintainer},
		{FieldDescription, c.Description},
	}
}

// Validate checks that every field is set and fits on one line.
func (c *Control) Validate() error {
	for _, kv := range c.values() {
		if strings.TrimSpace(kv[1]) == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, kv[0])
		}

		if strings.ContainsAny(kv[1], "\r\n") {
			return fmt.Errorf("%w: %s", ErrMultilineValue, kv[0])
		}
	}

	return nil
}

// Format renders the manifest as `Field: value` lines terminated by newlines.
func (c *Control) Format() (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}

	var sb strings.Builder

	for _, kv := range c.values() {
		sb.WriteString(kv[0])
		sb.WriteString(": ")
		sb.WriteString(kv[1])
		sb.WriteString("\n")
	}

	return sb.String(), nil
}

// Parse reads a manifest produced by Format.
func Parse(content string) (*Control, error) {
	control := new(Control)

	targets := map[string]*string{
		strings.ToLower(FieldPackage):      &control.Package,
		strings.ToLower(FieldVersion):      &control.Version,
		strings.ToLower(FieldSection):      &control.Section,
		strings.ToLower(FieldPriority):     &control.Priority,
		strings.ToLower(FieldArchitecture): &control.Architecture,
		strings.ToLower(FieldMaintainer):   &control.Maintainer,
		strings.ToLower(FieldDescription):  &control.Description,
	}

	for _, line := range strings.Split(content, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}

		field, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMalformedLine, line)
		}

		field = strings.TrimSpace(field)

		target, known := targets[strings.ToLower(field)]
		if !known {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, field)
		}

		*target = strings.TrimSpace(value)
	}

	if err := control.Validate(); err != nil {
		return nil, err
	}

	return control, nil
}
