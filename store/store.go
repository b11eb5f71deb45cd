// Package store provides persistence implementations of agentflow.Store.
// The Store interface is defined in the root agentflow package
// (../store_interface.go) to avoid import cycles between the engine
// and store packages.
//
// This package contains concrete implementations:
//   - DynamoDBStore: AWS DynamoDB single-table backend
//   - PostgresStore: PostgreSQL backend on a pgx pool
//   - MemoryStore: In-memory backend for tests and local runs
//
// The DynamoDB key layout is defined in schema.go, the PostgreSQL
// tables in schema.sql.
package store

import "time"

// now is the clock used for UpdatedAt stamps
var now = time.Now
