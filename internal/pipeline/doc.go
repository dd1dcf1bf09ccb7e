/*
Package pipeline runs product extraction batches.

A batch walks the configured targets in order. An account target lists the
account's current stories, a "post:<shortcode>" target lists the media of
one post. Each media item is fetched through the session service, handed to
the extraction adapter with the source identifier "<target>:<index>", and
every product returned is upserted. Failures are logged and counted in the
batch Summary; nothing aborts a batch except cancellation, which is honoured
between items.

With resume enabled, completed targets are recorded in a checkpoint so a
restarted batch skips them. The checkpoint is removed when a batch finishes.

Snapshot targets append the current profile or post metadata to the store
after the extraction targets.
*/
package pipeline
