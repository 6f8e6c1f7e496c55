package ecpay

import (
	"html/template"
	"io"
)

// formPage posts its hidden fields to Action as soon as it loads. Map
// ranges are visited in key order, so output is deterministic.
var formPage = template.Must(template.New("form").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>{{.Title}}</title></head>
<body>
<form id="processor-form" method="post" action="{{.Action}}">
{{- range $k, $v := .Fields}}
<input type="hidden" name="{{$k}}" value="{{$v}}">
{{- end}}
</form>
<script>document.getElementById('processor-form').submit();</script>
</body>
</html>
`))

// Form is an auto-submitting POST to the processor.
type Form struct {
	Title  string
	Action string
	Fields map[string]string
}

func (f Form) Render(w io.Writer) error { return formPage.Execute(w, f) }
