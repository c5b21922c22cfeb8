package assets

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
)

// Built-in decoy pages and the generic error page.
// These are compiled into the binary at build time

//go:embed decoys/*.html
var decoyFS embed.FS

//go:embed error.html
var errorHTML string

// DecoyTemplateCount is the number of built-in decoy templates.
const DecoyTemplateCount = 5

var (
	decoys    [DecoyTemplateCount][]byte
	errorTmpl = template.Must(template.New("error").Parse(errorHTML))
)

func init() {
	for i := range decoys {
		b, err := decoyFS.ReadFile(fmt.Sprintf("decoys/%d.html", i+1))
		if err != nil {
			panic(err)
		}
		decoys[i] = b
	}
}

// Decoy returns built-in template id (1-based). Unknown ids get template 1.
// The returned slice is shared and must not be modified.
func Decoy(id int) []byte {
	if id < 1 || id > DecoyTemplateCount {
		id = 1
	}
	return decoys[id-1]
}

// ErrorPage renders the minimal HTML page shown for status. It carries the
// status text only.
func ErrorPage(status int) []byte {
	var buf bytes.Buffer
	_ = errorTmpl.Execute(&buf, struct {
		Status int
		Title  string
	}{status, http.StatusText(status)})
	return buf.Bytes()
}
