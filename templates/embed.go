package templates

import "embed"

//go:embed alerts/*.tmpl
var AlertTemplateFS embed.FS
