// Package imgsrc is an image ingest service library: callers authenticate
// with a nonce-windowed HMAC signature and upload PNG or JPEG images, which
// are stored under a name derived from a digest of their content.
//
// The pieces are split into subpackages so each can be used on its own:
//
//   - nonce: coarse time buckets used as the signed message
//   - signature: HMAC signing/verification and streaming content digests
//   - authgate: issues nonces and verifies signatures against a bucket window
//   - sniff: magic-number classification of uploaded bytes
//   - store: staging files and atomic content-addressed finalization
//   - store/s3mirror: optional replication of stored objects to S3
//   - store/scan: walks the store roots for backfill and cleanup jobs
//   - upload: the pipeline that ties the above together for one request
//   - api: chi handlers exposing GET /get_nonce and POST /image
//   - config: environment-driven server configuration
//   - client: Go client that fetches a nonce, signs it and uploads
//
// Identical Content
//
// Two uploads with the same bytes resolve to the same stored name. The second
// finalization renames over the first; because the name is derived from the
// content this never loses data, and the store needs no locking.
package imgsrc
