package drivequery

import (
	"fmt"
	"regexp"
	"strings"
)

// ImageFields is the partial-response field mask used when listing folder contents.
const ImageFields = "nextPageToken, files(id, name, mimeType, size)"

var (
	folderPathPattern  = regexp.MustCompile(`folders/([a-zA-Z0-9-_]+)`)
	folderParamPattern = regexp.MustCompile(`id=([a-zA-Z0-9-_]+)`)
)

// FolderID extracts the folder identifier from a Drive folder URL.
// Anything that does not look like a URL is returned trimmed, so a bare id works too.
func FolderID(locator string) string {
	if m := folderPathPattern.FindStringSubmatch(locator); m != nil {
		return m[1]
	}
	if m := folderParamPattern.FindStringSubmatch(locator); m != nil {
		return m[1]
	}
	return strings.TrimSpace(locator)
}

// QueryBuilder constructs Drive search query strings.
// Zero value is ready to use.
type QueryBuilder struct{}

// ListParams defines inputs for a folder listing query.
type ListParams struct {
	FolderID       string
	MimePrefix     string
	ExcludeTrashed bool
}

// BuildImageQuery returns the query for image files directly inside a folder,
// leaving out anything in the trash.
func (b QueryBuilder) BuildImageQuery(folderID string) string {
	return b.BuildListQuery(ListParams{FolderID: folderID, MimePrefix: "image/", ExcludeTrashed: true})
}

// BuildListQuery returns a query for the children of a folder filtered by mime type prefix.
func (b QueryBuilder) BuildListQuery(p ListParams) string {
	parts := []string{fmt.Sprintf("'%s' in parents", escape(p.FolderID))}

	if p.MimePrefix != "" {
		parts = append(parts, fmt.Sprintf("mimeType contains '%s'", escape(p.MimePrefix)))
	}
	if p.ExcludeTrashed {
		parts = append(parts, "trashed = false")
	}

	return strings.Join(parts, " and ")
}

// escape quotes a value for use inside a single-quoted query literal.
func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}
