package session

import (
	stdjson "encoding/json"

	jsoniter "github.com/json-iterator/go"
)

// json is the codec every frame marshal/unmarshal in this package goes
// through. stream_chunk arrives once per generated token, so the
// allocation-heavy reflection path of encoding/json is the one hot spot in
// the core worth a faster drop-in; jsoniter's compatible config keeps the
// same struct-tag semantics and error types callers already depend on.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RawMessage re-exports encoding/json's type (jsoniter declares a separate
// RawMessage type, which is not used here) so WireFrame's Payload field needs no
// further conversions at call sites that still reason about it as JSON.
type RawMessage = stdjson.RawMessage
