package domain

// Document is a file delivered to a chat user.
type Document struct {
	Name string `json:"name"`
	MIME string `json:"mime"`
	Data []byte `json:"data"`
}

const (
	// MIMEDocx is the content type of generated reports.
	MIMEDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	// MIMEXLSX is the content type of admin exports.
	MIMEXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)
