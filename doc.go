/*
Package tdb implements an embedded object-document store on top of a
hierarchical key-value store (Bolt, or an in-memory tree for tests).

We implement:

1. Schemas, describing record types with named, typed attributes, one or more
of which form an ordered composite primary key.

2. Stores, saving, loading, deleting and listing the records of one schema.

3. Indexes, completing partial keys into the primary keys of all matching
records by scanning the key tree under the bound prefix.

4. Queries, planning disjunctive equality clauses onto the cheapest indexes and
filtering the rest.

5. Deferred references between records, resolved on first access.

# Technical Details

**Key tree.**
A record of schema S with primary key (k1, ..., kN) lives at S/k1/.../kN: the
first N-1 levels are nested mappings (Bolt buckets) and the last one is a leaf
holding the record's attributes. Keys are stringified per attribute; an empty
string is a missing value and cannot be part of a stored key.

**Prefix completion.**
Because the tree is a trie keyed by primary-key components, binding a prefix
of the key and enumerating every path below it yields all matching records
without a separate index.

**Secondary indexes.**
Index I over fields (f1, ..., fM) of schema S lives at S.I/v1/.../vM/<entry>,
where entry names a record and the leaf holds the record's primary key.
Entries are maintained on save and delete.

**References.**
A reference attribute is stored as {class_name: <schema>, <key fields>...} and
loaded as an unresolved *Ref, which keeps loading of cyclic graphs finite.

## Binary encoding

**Leaf**: msgpack map from attribute name to stored value, with sorted keys.
Key attributes are not repeated in the leaf; they come from the path.

**Index entry leaf**: msgpack map from primary-key field to key component.
*/
package tdb
