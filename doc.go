// Package mada implements a persistent double-array trie: a set of
// keys stored on disk in two parallel integer arrays, BASE and CHECK,
// memory-mapped for O(|key|) search, insertion, and deletion.
//
// The name and on-disk layout follow the lineage of the MaDa Double
// Array library; this port drops its TAIL-suffix store and adds
// incremental free-slot tracking on top of the same BASE/CHECK
// encoding.
package mada
