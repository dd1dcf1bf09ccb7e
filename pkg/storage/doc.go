// Package storage archives fetched media on disk.
//
// Files are laid out as {dir}/{target}/{mediaid}.{ext}. Every file gets a
// JSON sidecar ({file}.json) describing the media item it came from, the
// pipeline source id and a content digest. Both are written through a
// temporary file and renamed into place.
package storage
