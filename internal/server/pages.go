package server

import (
	"html/template"
	"net/http"

	"tokenward/pkg/logging"
)

const pageStyle = `<style>
body{font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,sans-serif;max-width:42em;margin:3em auto;padding:0 1em;color:#222}
a.button{display:inline-block;padding:.5em 1.2em;margin:.5em .5em 0 0;background:#0d47a1;color:#fff;text-decoration:none;border-radius:4px}
a.logout{background:#b71c1c}
table{border-collapse:collapse;margin-top:1em}td{padding:.2em 1em .2em 0;vertical-align:top}td:first-child{color:#666}
</style>`

type errorView struct {
	Title   string
	Message string
}

var homePage = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html lang="en"><head><meta charset="utf-8"><title>tokenward</title>` + pageStyle + `</head>
<body><h1>tokenward</h1><p>You are not signed in.</p>
<a class="button" href="/login">Sign in</a></body></html>
`))

var profilePage = template.Must(template.New("profile").Parse(`<!DOCTYPE html>
<html lang="en"><head><meta charset="utf-8"><title>tokenward</title>` + pageStyle + `</head>
<body><h1>{{if .Name}}{{.Name}}{{else}}Signed in{{end}}</h1>
<p>Principal <code>{{.Principal}}</code></p>
<table>{{range .Fields}}<tr><td>{{.Key}}</td><td>{{.Value}}</td></tr>{{end}}</table>
{{if .HasAPI}}<a class="button" href="/api/">Call the API</a>{{end}}
<a class="button logout" href="/logout">Sign out</a></body></html>
`))

var errorPage = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html lang="en"><head><meta charset="utf-8"><title>{{.Title}}</title>` + pageStyle + `</head>
<body><h1>{{.Title}}</h1><p>{{.Message}}</p>
<a class="button" href="/login">Sign in again</a></body></html>
`))

func render(w http.ResponseWriter, status int, tmpl *template.Template, data any) {
	setSecurityHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.Execute(w, data); err != nil {
		logging.Warn("Server", "Failed to render %s page: %v", tmpl.Name(), err)
	}
}
