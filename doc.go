// Package hookrelay is a webhook relay: it ingests events on behalf of client
// applications and delivers them as signed HTTP callbacks to registered
// webhooks, with exponential backoff retries and a dead letter queue.
//
// The root package holds the shared pieces every subpackage depends on:
// sentinel errors, the base Entity and the engine Config. The pipeline itself
// is assembled by the engine package:
//
//	eng, err := engine.New(
//	    engine.WithStore(memory.New()),
//	    engine.WithQueueBackend(memqueue.New()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := eng.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	evt, created, err := eng.Ingest(ctx, event.Input{
//	    WebhookID:      whID,
//	    TopicID:        topicID,
//	    IdempotencyKey: "order-42-created",
//	    Payload:        json.RawMessage(`{"order_id":42}`),
//	})
//
// Key features:
//   - Idempotent ingestion keyed by a caller supplied idempotency key
//   - HMAC-SHA256 signed deliveries ("X-Hook-Relay-Signature: sha256=<hex>")
//   - Per-webhook retry policy with exponential backoff
//   - Exactly-once escalation of exhausted deliveries to the DLQ, and guarded replay
//   - Store backends: memory, PostgreSQL and SQLite (Grove), Bun
//   - Queue backends: memory, Redis
package hookrelay
