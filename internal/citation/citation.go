// Package citation turns extracted document metadata, or failing that a
// document's file name, into an APA-style citation string.
package citation

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	unknownField = "Unknown"
	noDate       = "n.d."
)

// Format builds a citation of the form "<author> (<date>). <title>. <publisher>."
// from a document name and its extracted metadata. Missing metadata fields fall
// back to "Unknown"/"n.d.", a missing Title falls back to the name stem, and an
// empty metadata map falls back to positional parsing of the name. Format never
// fails; it only degrades.
func Format(name string, metadata map[string]string) string {
	if len(metadata) > 0 {
		author := fieldOr(metadata, "Author", unknownField)
		title := fieldOr(metadata, "Title", nameStem(name))
		date := fieldOr(metadata, "PublicationDate", noDate)
		publisher := fieldOr(metadata, "Publisher", unknownField)
		return fmt.Sprintf("%s (%s). %s. %s.", author, date, title, publisher)
	}

	stem := nameStem(name)
	parts := strings.Split(stem, "_")
	if len(parts) >= 4 {
		return fmt.Sprintf("%s (%s). %s. %s.", parts[0], parts[1], parts[2], parts[3])
	}
	return fmt.Sprintf("%s (%s). %s. %s.", unknownField, noDate, stem, unknownField)
}

// FromJSON is Format for callers holding the metadata as the JSON blob stored
// in the document cache. Unparseable JSON degrades to name-based parsing.
func FromJSON(name, metadataJSON string) string {
	var metadata map[string]string
	if strings.TrimSpace(metadataJSON) != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
			metadata = nil
		}
	}
	return Format(name, metadata)
}

func fieldOr(metadata map[string]string, key, def string) string {
	if v, ok := metadata[key]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

// nameStem returns the document name with its extension removed, i.e. the
// content before the last dot.
func nameStem(name string) string {
	if idx := strings.LastIndex(name, "."); idx > 0 {
		return name[:idx]
	}
	return name
}
