// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the wire encoding for message queue payloads.
//
// Queue messages carry their data as CBOR so that every producer and
// consumer sees the same bytes regardless of which transport carries
// them. Encoding uses Core Deterministic Encoding (RFC 8949 §4.2), and
// struct fields use their json tags as keys so schema types need only
// one set of tags.
package codec
