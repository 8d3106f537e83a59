package delivery

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	htmltemplate "html/template"
	"io/fs"
	"regexp"
	"strings"
	texttemplate "text/template"

	"funnel_backend/internal/funnel/ports"
)

//go:embed templates/email/*.html templates/whatsapp/*.txt
var templateFS embed.FS

var templateRefPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,199}$`)

func templatePath(dir, ref, ext string) (string, error) {
	if !templateRefPattern.MatchString(ref) {
		return "", fmt.Errorf("%w: invalid template ref %q", ports.ErrPermanentDelivery, ref)
	}
	path := "templates/" + dir + "/" + ref + ext
	if _, err := fs.Stat(templateFS, path); err != nil {
		return "", fmt.Errorf("%w: no %s template %q", ports.ErrPermanentDelivery, dir, ref)
	}
	return path, nil
}

// renderEmail returns the subject and HTML body of an email template. The
// subject is a mail header, so it is returned unescaped.
func renderEmail(ref string, vars map[string]string) (string, string, error) {
	path, err := templatePath("email", ref, ".html")
	if err != nil {
		return "", "", err
	}
	tmpl, err := htmltemplate.New("base.html").Option("missingkey=zero").
		ParseFS(templateFS, "templates/email/base.html", path)
	if err != nil {
		return "", "", fmt.Errorf("parse email template %s: %w", ref, err)
	}

	var subject, body bytes.Buffer
	if err := tmpl.ExecuteTemplate(&subject, "subject", vars); err != nil {
		return "", "", fmt.Errorf("execute email subject %s: %w", ref, err)
	}
	if err := tmpl.ExecuteTemplate(&body, "email", vars); err != nil {
		return "", "", fmt.Errorf("execute email template %s: %w", ref, err)
	}
	return html.UnescapeString(strings.TrimSpace(subject.String())), body.String(), nil
}

// renderWhatsApp returns the plain text of a WhatsApp template.
func renderWhatsApp(ref string, vars map[string]string) (string, error) {
	path, err := templatePath("whatsapp", ref, ".txt")
	if err != nil {
		return "", err
	}
	tmpl, err := texttemplate.New(ref + ".txt").Option("missingkey=zero").ParseFS(templateFS, path)
	if err != nil {
		return "", fmt.Errorf("parse whatsapp template %s: %w", ref, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("execute whatsapp template %s: %w", ref, err)
	}
	return strings.TrimSpace(buf.String()), nil
}
