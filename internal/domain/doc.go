// Package domain defines the value types shared by the bridge runtime, the
// generator and the services.
//
// Types in this package are pure value objects with no behavior beyond
// validation. They are the shared language between the extractor, the
// coordinator, the click controller and the HTTP handlers.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/YAML tags are allowed (they're metadata, not behavior)
//   - Constants and enums belong here
package domain
