package ui

import (
	"embed"
	"html/template"
	"net/url"
	"strings"
)

//go:embed templates/*.html
var componentFiles embed.FS

// Variant selects the look of a Button
type Variant string

const (
	VariantPrimary   Variant = "primary"
	VariantSecondary Variant = "secondary"
	VariantDanger    Variant = "danger"
)

// Button is a form button. Action, when set, overrides the enclosing form's target.
type Button struct {
	Label    string
	Action   string
	Variant  Variant
	Disabled bool
	Busy     bool
}

// Class returns the CSS classes for the button
func (b Button) Class() string {
	variant := b.Variant
	if variant == "" {
		variant = VariantPrimary
	}
	classes := []string{"btn", "btn-" + string(variant)}
	if b.Busy {
		classes = append(classes, "btn-busy")
	}
	return strings.Join(classes, " ")
}

// AlertKind is the severity of an Alert
type AlertKind string

const (
	AlertInfo    AlertKind = "info"
	AlertSuccess AlertKind = "success"
	AlertWarning AlertKind = "warning"
	AlertError   AlertKind = "error"
)

// Alert is a message box
type Alert struct {
	Kind    AlertKind `json:"kind"`
	Message string    `json:"message"`
}

// Class returns the CSS classes for the alert
func (a Alert) Class() string {
	kind := a.Kind
	if kind == "" {
		kind = AlertInfo
	}
	return "alert alert-" + string(kind)
}

// Role is the ARIA role; errors and warnings interrupt screen readers
func (a Alert) Role() string {
	switch a.Kind {
	case AlertError, AlertWarning:
		return "alert"
	}
	return "status"
}

// Templates returns a template set holding the "tabs", "button" and "alert"
// components. Pages are parsed into a clone of it.
func Templates() (*template.Template, error) {
	return template.New("ui").Funcs(Funcs()).ParseFS(componentFiles, "templates/*.html")
}

// Funcs are the helpers available to component and page templates
func Funcs() template.FuncMap {
	return template.FuncMap{
		"safeURL":    safeURL,
		"humanBytes": HumanBytes,
	}
}

// safeURL passes image data URIs and absolute http(s) URLs through
// html/template's URL filter. Anything else renders as about:blank.
func safeURL(s string) template.URL {
	if strings.HasPrefix(s, "data:image/") {
		return template.URL(s)
	}
	u, err := url.Parse(s)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != "" {
		return template.URL(u.String())
	}
	return template.URL("about:blank")
}
