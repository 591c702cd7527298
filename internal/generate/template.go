package generate

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"postulamatic-engine/internal/domain"
)

const defaultSubject = `Postulación: {{.JobTitle}}`

const defaultBody = `Buenas tardes,

Les escribo por la búsqueda "{{.JobTitle}}" publicada en la bolsa de trabajo.
{{if .ResumeHighlights}}
{{.ResumeHighlights}}
{{end}}
Adjunto mi CV. Quedo a disposición por cualquier consulta.

Saludos,
{{.CandidateName}}`

// TemplateGenerator renders the outreach mail from plain text templates.
// It is the default Generator; output is deterministic for a given input.
type TemplateGenerator struct {
	subjectTmpl *template.Template
	bodyTmpl    *template.Template
}

func NewTemplateGenerator(subject, body string) (*TemplateGenerator, error) {
	if strings.TrimSpace(subject) == "" {
		subject = defaultSubject
	}
	if strings.TrimSpace(body) == "" {
		body = defaultBody
	}

	st, err := template.New("subject").Parse(subject)
	if err != nil {
		return nil, fmt.Errorf("parse subject template: %w", err)
	}
	bt, err := template.New("body").Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse body template: %w", err)
	}
	return &TemplateGenerator{subjectTmpl: st, bodyTmpl: bt}, nil
}

func (g *TemplateGenerator) Generate(_ context.Context, in Input) (domain.Draft, error) {
	var subject, body bytes.Buffer
	if err := g.subjectTmpl.Execute(&subject, in); err != nil {
		return domain.Draft{}, fmt.Errorf("render subject: %w", err)
	}
	if err := g.bodyTmpl.Execute(&body, in); err != nil {
		return domain.Draft{}, fmt.Errorf("render body: %w", err)
	}

	d := domain.Draft{
		Subject:    strings.TrimSpace(subject.String()),
		Body:       strings.TrimSpace(body.String()) + "\n",
		Attachment: in.AttachmentRef,
	}
	if d.Subject == "" || strings.TrimSpace(d.Body) == "" {
		return domain.Draft{}, fmt.Errorf("generator produced empty content for %q", in.JobTitle)
	}
	return d, nil
}
