// Package storage is the durable layer shared by the publish and receive loops.
//
// It owns four record sets:
//   - articles    (unique on text)
//   - subscribers (unique on chat id)
//   - deliveries  (unique on article + subscriber)
//   - cursors     (named monotonic scalars)
//
// Every uniqueness rule is enforced inside the driver (UNIQUE constraints or a
// single write transaction), never by check-then-insert in callers.
package storage
