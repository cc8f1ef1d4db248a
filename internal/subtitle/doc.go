// Package subtitle parses and serializes SubRip (SRT) and Advanced
// SubStation Alpha (ASS) subtitle files.
//
// Documents preserve everything outside dialogue text verbatim: numbering,
// timing lines, section headers, style blocks, and inline override tags all
// survive a parse/serialize round trip byte-identically (line endings are
// normalized to LF). Translation only ever replaces unit text, so the
// surrounding structure cannot drift.
//
// The package also sniffs text encodings (UTF-8 and UTF-16 with or without
// BOM, with a Latin-1 fallback), composes bilingual lines, and converts
// between the two formats when the configured output format differs from
// the source.
package subtitle
