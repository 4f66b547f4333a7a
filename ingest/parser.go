// Package ingest implements the document ingestion pipeline: parsing
// metadata headers, extracting graph entities, chunking, and writing
// both the graph-native and standalone vector indexes.
package ingest

import (
	"crypto/md5"
	"encoding/hex"
	"strings"

	"github.com/factoryos/factoryos/kb"
)

// RawDocument is an uploaded document before parsing. Images are data
// URLs or references to attached pictures captioned during ingestion.
type RawDocument struct {
	Text   string
	Source string
	Images []string
}

// Metadata header markers. Documents may start with
// "Machinery: X. Document Type: Y. Content: ..."; anything else is
// treated as plain content with default metadata.
const (
	machineryMarker = "Machinery:"
	docTypeMarker   = "Document Type:"
	contentMarker   = "Content:"
)

// parseRaw turns a raw document into a kb.Document. Empty text yields
// ok=false and the document is skipped.
func parseRaw(raw RawDocument) (kb.Document, bool) {
	text := strings.TrimSpace(raw.Text)
	if text == "" {
		return kb.Document{}, false
	}

	machinery := kb.UnknownMachinery
	manualType := kb.GeneralManualType
	content := text

	if strings.HasPrefix(text, machineryMarker) {
		rest := strings.TrimSpace(text[len(machineryMarker):])
		if idx := strings.Index(rest, docTypeMarker); idx >= 0 {
			machinery = trimHeaderField(rest[:idx])
			rest = strings.TrimSpace(rest[idx+len(docTypeMarker):])
			if cidx := strings.Index(rest, contentMarker); cidx >= 0 {
				manualType = trimHeaderField(rest[:cidx])
				content = strings.TrimSpace(rest[cidx+len(contentMarker):])
			} else {
				manualType = trimHeaderField(rest)
				content = ""
			}
		}
	}

	if content == "" {
		return kb.Document{}, false
	}
	if machinery == "" {
		machinery = kb.UnknownMachinery
	}
	if manualType == "" {
		manualType = kb.GeneralManualType
	}

	source := raw.Source
	if source == "" {
		source = "upload"
	}

	return kb.Document{
		ID:         documentID(machinery, manualType, content),
		Text:       content,
		Machinery:  machinery,
		ManualType: manualType,
		Source:     source,
	}, true
}

// trimHeaderField strips whitespace and the trailing period off a
// metadata header field.
func trimHeaderField(s string) string {
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "."))
}

// documentID derives a stable identity from metadata and a content hash,
// so ingesting identical text twice produces the same document.
func documentID(machinery, manualType, content string) string {
	sum := md5.Sum([]byte(strings.TrimSpace(content)))
	digest := hex.EncodeToString(sum[:])[:8]

	norm := func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
	}
	return norm(machinery) + "_" + norm(manualType) + "_" + digest
}
