package mailer

import (
	"bytes"
	"fmt"
	htmlTemplate "html/template"

	"github.com/brightsend/campaign-dispatcher/internal/model"
)

// mergeVariables layers template defaults under recipient-supplied
// variables, with logo/background URLs injected last under fixed names.
func mergeVariables(tmpl *model.Template, recipientVars map[string]interface{}) map[string]interface{} {
	data := make(map[string]interface{}, len(tmpl.Variables)+len(recipientVars)+2)
	for k, v := range tmpl.Variables {
		data[k] = v
	}
	for k, v := range recipientVars {
		data[k] = v
	}
	if tmpl.LogoURL != "" {
		data["logo_url"] = tmpl.LogoURL
	}
	if tmpl.BackgroundURL != "" {
		data["background_url"] = tmpl.BackgroundURL
	}
	return data
}

// renderHTML substitutes the merged variables into the template body.
func renderHTML(tmpl *model.Template, data map[string]interface{}) (string, error) {
	t, err := htmlTemplate.New("email").Parse(tmpl.HTMLContent)
	if err != nil {
		return "", fmt.Errorf("invalid html template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render html: %w", err)
	}
	return buf.String(), nil
}
