// Package kv provides an interface for implementing
// kv drivers that back kvault instances.
//
// A kv plugin is a factory for stores. Each store holds exactly one
// instance's data and is split into two flat maps:
//
//  - Store
//    - Values
//      - key1: <framed value>
//      - key2: <framed value>
//    - Metadata
//      - cipher.check: <sealed sentinel>
//
// Stores never share data with each other, which is what keeps instance
// namespaces from overlapping. Higher layers own all encoding and
// encryption: values are opaque byte slices at this level.
//
// Re-writing the entire contents of a store (for example when the
// encryption key changes) must never be observable half-way. Drivers
// support this through Stage and Swap: a consumer fills an empty shadow
// store obtained from Stage and then atomically replaces the live
// contents with Swap. Until Swap returns successfully the live store is
// untouched.
package kv
