// Package language maps the supported target languages to the codes the
// rest of the system needs: ISO 639-2 tags for container metadata,
// filename tags for output naming, and alias tokens for matching track
// tags and filename markers.
package language
