// Package checkpoint persists the progress of an extraction batch so an
// interrupted run can skip the targets it already finished.
//
// A batch is identified by an id chosen by the caller. Each finished target
// is recorded with MarkCompleted and the file is rewritten atomically
// (temporary file, fsync, rename). The file is removed once the batch ends.
//
// Without an explicit directory checkpoints live in the platform data
// directory:
//   - Linux: $XDG_DATA_HOME/igharvest/checkpoints/ or ~/.local/share/igharvest/checkpoints/
//   - macOS: ~/Library/Application Support/igharvest/checkpoints/
//   - Windows: %APPDATA%/igharvest/checkpoints/
package checkpoint
