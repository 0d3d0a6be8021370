// Package main hosts the courier entrypoint.
//
// Architecture overview:
//   - Intake: chat events arrive over HTTP (POST /v1/messages, /v1/callbacks) or on a NATS subject and are
//     queued for a single dispatcher goroutine, which parses "login / password / link" messages and answers
//     everything else from the message catalog.
//   - Jobs: the supervisor runs each accepted request in its own worker process (this binary re-executed with the
//     hidden _worker command). Worker log lines are relayed into one status message that is edited in place, and
//     the resulting files are delivered with retries once the worker reports.
//   - Watchdog: a background loop cancels jobs past their deadline, kills them after the grace period and, during
//     shutdown, kills everything still running once the shutdown window has passed.
//   - Delivery: the messenger backend is in-memory (logs every call), NATS or Pub/Sub. Bus backends upload files
//     to local disk, GCS or S3 and publish a reference.
//
// Quick checklist:
//   - Configure env vars with the COURIER_ prefix (COURIER_SERVER_PORT, COURIER_MESSENGER_BACKEND,
//     COURIER_NATS_URL, COURIER_STORAGE_BACKEND, COURIER_SCRAPE_RENDER, ...), or pass --config config.yaml.
//   - Run locally: go run ./cmd/courier serve --config config.yaml
//   - Rendering pages to PDF needs a Chrome or Chromium binary on PATH.
package main
