// ABOUTME: CollectionHandle: document CRUD, secondary indexes, full-text
// ABOUTME: search, and change notifications, scoped to one collection

package docbase

import (
	"github.com/google/uuid"
	"github.com/nainya/docbase/pkg/dberr"
	"github.com/nainya/docbase/pkg/fts"
	"github.com/nainya/docbase/pkg/index"
	"github.com/nainya/docbase/pkg/metaroot"
	"github.com/nainya/docbase/pkg/txn"
)

// indexKeyPrefix namespaces every secondary index and full-text postings
// tree's keys. Each index already lives in its own B-tree root, so the
// prefix need not vary between indexes -- it exists only because
// pkg/keyenc's composite-key format requires one.
const indexKeyPrefix uint32 = 1

// CollectionHandle scopes document and index operations to one named
// collection within a Transaction. Collections come into existence on
// first write; there is no explicit create call.
type CollectionHandle struct {
	tx   *Transaction
	name string
}

// docOp is replayed, unmodified, against a freshly-loaded metadata root if
// this transaction's snapshot turns out to be stale at commit time -- see
// pkg/txn's RecordOp/rebase contract.
type docOp func(ttx *txn.Transaction) error

// runOp executes op immediately against this handle's transaction and, if
// it succeeds, records it for replay should the transaction need to rebase
// at commit. An op that fails is never recorded: the caller's write never
// logically happened.
func (c *CollectionHandle) runOp(op docOp) error {
	if err := op(c.tx.ttx); err != nil {
		return err
	}
	c.tx.ttx.RecordOp(op)
	return nil
}

// Insert assigns doc an `_id` (the caller's, if doc["_id"] is already a
// non-empty string; otherwise a generated UUID) and writes it, along with
// any secondary-index and full-text postings, returning the id used.
func (c *CollectionHandle) Insert(doc map[string]any) (string, error) {
	docID, ok := doc["_id"].(string)
	if !ok || docID == "" {
		docID = uuid.NewString()
	}
	inserted := cloneDoc(doc)
	inserted["_id"] = docID

	op := func(ttx *txn.Transaction) error {
		return c.insertDoc(ttx, docID, inserted)
	}
	if err := c.runOp(op); err != nil {
		return "", err
	}
	return docID, nil
}

func (c *CollectionHandle) insertDoc(ttx *txn.Transaction, docID string, doc map[string]any) error {
	root, err := loadMetaRoot(c.tx.db, ttx)
	if err != nil {
		return err
	}
	coll := root.EnsureCollection(c.name)
	tree := ttx.Tree(coll.PrimaryRoot)

	if _, exists := tree.Get([]byte(docID)); exists {
		return dberr.Conflict(dberr.ReasonNone, "document _id already exists: "+docID)
	}

	value, err := marshalDocument(ttx, doc)
	if err != nil {
		return err
	}
	tree.Insert([]byte(docID), value)
	coll.PrimaryRoot = tree.GetRoot()

	if err := c.applyIndexes(ttx, coll, docID, nil, doc); err != nil {
		return err
	}
	c.applySearch(ttx, coll, docID, doc)

	if err := writeMetaRoot(ttx, root); err != nil {
		return err
	}
	ttx.Publish(txn.ChangeEvent{Collection: c.name, Kind: "insert", DocID: docID})
	return nil
}

// UpdateByID merges partial into the existing document (shallow: each key
// in partial overwrites or adds a top-level field) and rewrites it.
func (c *CollectionHandle) UpdateByID(id string, partial map[string]any) error {
	op := func(ttx *txn.Transaction) error {
		return c.updateDoc(ttx, id, partial)
	}
	return c.runOp(op)
}

func (c *CollectionHandle) updateDoc(ttx *txn.Transaction, docID string, partial map[string]any) error {
	root, err := loadMetaRoot(c.tx.db, ttx)
	if err != nil {
		return err
	}
	coll := root.EnsureCollection(c.name)
	tree := ttx.Tree(coll.PrimaryRoot)

	oldValue, exists := tree.Get([]byte(docID))
	if !exists {
		return dberr.NotFound("document " + docID)
	}
	oldDoc, err := unmarshalDocument(ttx, oldValue)
	if err != nil {
		return err
	}

	newDoc := cloneDoc(oldDoc)
	for k, v := range partial {
		newDoc[k] = v
	}
	newDoc["_id"] = docID

	newValue, err := marshalDocument(ttx, newDoc)
	if err != nil {
		return err
	}
	freeOverflowChain(ttx, oldValue)
	tree.Insert([]byte(docID), newValue)
	coll.PrimaryRoot = tree.GetRoot()

	if err := c.applyIndexes(ttx, coll, docID, oldDoc, newDoc); err != nil {
		return err
	}
	c.applySearch(ttx, coll, docID, newDoc)

	if err := writeMetaRoot(ttx, root); err != nil {
		return err
	}
	ttx.Publish(txn.ChangeEvent{Collection: c.name, Kind: "update", DocID: docID})
	return nil
}

// DeleteByID removes a document and every secondary-index and full-text
// posting derived from it.
func (c *CollectionHandle) DeleteByID(id string) error {
	op := func(ttx *txn.Transaction) error {
		return c.deleteDoc(ttx, id)
	}
	return c.runOp(op)
}

func (c *CollectionHandle) deleteDoc(ttx *txn.Transaction, docID string) error {
	root, err := loadMetaRoot(c.tx.db, ttx)
	if err != nil {
		return err
	}
	coll := root.EnsureCollection(c.name)
	tree := ttx.Tree(coll.PrimaryRoot)

	oldValue, exists := tree.Get([]byte(docID))
	if !exists {
		return dberr.NotFound("document " + docID)
	}
	oldDoc, err := unmarshalDocument(ttx, oldValue)
	if err != nil {
		return err
	}

	freeOverflowChain(ttx, oldValue)
	tree.Delete([]byte(docID))
	coll.PrimaryRoot = tree.GetRoot()

	if err := c.applyIndexes(ttx, coll, docID, oldDoc, nil); err != nil {
		return err
	}
	if coll.Search != nil {
		searchTree := ttx.Tree(coll.Search.RootPage)
		fts.Remove(searchTree, searchDefinition(coll.Search), docID)
		coll.Search.RootPage = searchTree.GetRoot()
	}

	if err := writeMetaRoot(ttx, root); err != nil {
		return err
	}
	ttx.Publish(txn.ChangeEvent{Collection: c.name, Kind: "delete", DocID: docID})
	return nil
}

// FindByID returns the document stored under id, or a NotFound error.
func (c *CollectionHandle) FindByID(id string) (map[string]any, error) {
	root, err := loadMetaRoot(c.tx.db, c.tx.ttx)
	if err != nil {
		return nil, err
	}
	coll, ok := root.Collection(c.name)
	if !ok {
		return nil, dberr.NotFound("document " + id)
	}
	tree := c.tx.ttx.Tree(coll.PrimaryRoot)
	value, exists := tree.Get([]byte(id))
	if !exists {
		return nil, dberr.NotFound("document " + id)
	}
	return unmarshalDocument(c.tx.ttx, value)
}

// FindAll returns every document in the collection, in primary-key order.
func (c *CollectionHandle) FindAll() ([]map[string]any, error) {
	root, err := loadMetaRoot(c.tx.db, c.tx.ttx)
	if err != nil {
		return nil, err
	}
	coll, ok := root.Collection(c.name)
	if !ok {
		return nil, nil
	}
	tree := c.tx.ttx.Tree(coll.PrimaryRoot)

	var docs []map[string]any
	var scanErr error
	tree.Scan([]byte{}, func(_, v []byte) bool {
		doc, err := unmarshalDocument(c.tx.ttx, v)
		if err != nil {
			scanErr = err
			return false
		}
		docs = append(docs, doc)
		return true
	})
	if scanErr != nil {
		return nil, scanErr
	}
	return docs, nil
}

// Count returns the number of documents in the collection.
func (c *CollectionHandle) Count() (int, error) {
	root, err := loadMetaRoot(c.tx.db, c.tx.ttx)
	if err != nil {
		return 0, err
	}
	coll, ok := root.Collection(c.name)
	if !ok {
		return 0, nil
	}
	tree := c.tx.ttx.Tree(coll.PrimaryRoot)
	count := 0
	tree.Scan([]byte{}, func(_, _ []byte) bool {
		count++
		return true
	})
	return count, nil
}

// CreateIndex builds a secondary index on field, backfilling every
// existing document's current value. A unique index rejects creation if
// two existing documents already share a value (surfaced as the same
// UniqueViolation a later Insert/UpdateByID would get).
func (c *CollectionHandle) CreateIndex(name, field string, unique bool) error {
	op := func(ttx *txn.Transaction) error {
		return c.createIndex(ttx, name, field, unique)
	}
	return c.runOp(op)
}

func (c *CollectionHandle) createIndex(ttx *txn.Transaction, name, field string, unique bool) error {
	root, err := loadMetaRoot(c.tx.db, ttx)
	if err != nil {
		return err
	}
	coll := root.EnsureCollection(c.name)
	if _, exists := coll.Index(name); exists {
		return dberr.InvalidArgument("index already exists: " + name)
	}

	def := index.Definition{Name: name, Field: field, Unique: unique, Prefix: indexKeyPrefix}
	idxTree := ttx.Tree(0)

	primary := ttx.Tree(coll.PrimaryRoot)
	var backfillErr error
	primary.Scan([]byte{}, func(k, v []byte) bool {
		doc, err := unmarshalDocument(ttx, v)
		if err != nil {
			backfillErr = err
			return false
		}
		fv, ok := fieldToIndexValue(doc[field])
		if !ok {
			return true
		}
		if err := index.Put(idxTree, def, fv, string(k)); err != nil {
			backfillErr = err
			return false
		}
		return true
	})
	if backfillErr != nil {
		return backfillErr
	}

	coll.Indexes = append(coll.Indexes, metaroot.IndexMeta{
		Name: name, Field: field, Unique: unique, RootPage: idxTree.GetRoot(),
	})
	return writeMetaRoot(ttx, root)
}

// DropIndex removes an index's metadata entry. Its backing pages are
// abandoned rather than recursively freed -- the B-tree has no
// free-entire-tree operation, the same accepted limitation as collections
// themselves never being dropped (see DESIGN.md).
func (c *CollectionHandle) DropIndex(name string) error {
	op := func(ttx *txn.Transaction) error {
		root, err := loadMetaRoot(c.tx.db, ttx)
		if err != nil {
			return err
		}
		coll := root.EnsureCollection(c.name)
		if !coll.DropIndex(name) {
			return dberr.NotFound("index " + name)
		}
		return writeMetaRoot(ttx, root)
	}
	return c.runOp(op)
}

// EnableSearch turns on full-text search over fields, reindexing every
// existing document. Calling it again replaces the field weight table and
// rebuilds the postings tree from scratch.
func (c *CollectionHandle) EnableSearch(fields []fts.FieldWeight) error {
	op := func(ttx *txn.Transaction) error {
		return c.enableSearch(ttx, fields)
	}
	return c.runOp(op)
}

func (c *CollectionHandle) enableSearch(ttx *txn.Transaction, fields []fts.FieldWeight) error {
	root, err := loadMetaRoot(c.tx.db, ttx)
	if err != nil {
		return err
	}
	coll := root.EnsureCollection(c.name)

	metaFields := make([]metaroot.FTSField, len(fields))
	for i, fw := range fields {
		metaFields[i] = metaroot.FTSField{Field: fw.Field, Weight: fw.Weight}
	}
	coll.Search = &metaroot.SearchMeta{Fields: metaFields}

	def := searchDefinition(coll.Search)
	searchTree := ttx.Tree(0)
	primary := ttx.Tree(coll.PrimaryRoot)
	var scanErr error
	primary.Scan([]byte{}, func(k, v []byte) bool {
		doc, err := unmarshalDocument(ttx, v)
		if err != nil {
			scanErr = err
			return false
		}
		fts.Index(searchTree, def, string(k), stringFields(doc, fields))
		return true
	})
	if scanErr != nil {
		return scanErr
	}
	coll.Search.RootPage = searchTree.GetRoot()

	return writeMetaRoot(ttx, root)
}

// Search runs a full-text query against the collection's search fields,
// returning up to limit (document, score) pairs highest-scoring first.
// Returns InvalidArgument if EnableSearch was never called.
func (c *CollectionHandle) Search(query string, limit int) ([]fts.Result, error) {
	root, err := loadMetaRoot(c.tx.db, c.tx.ttx)
	if err != nil {
		return nil, err
	}
	coll, ok := root.Collection(c.name)
	if !ok || coll.Search == nil {
		return nil, dberr.InvalidArgument("search is not enabled on collection " + c.name)
	}
	tree := c.tx.ttx.Tree(coll.Search.RootPage)
	return fts.Search(tree, searchDefinition(coll.Search), query, limit), nil
}

// SetSchema stores an opaque JSON-schema blob alongside the collection's
// metadata. It is never validated against -- see DESIGN.md.
func (c *CollectionHandle) SetSchema(schema []byte) error {
	op := func(ttx *txn.Transaction) error {
		root, err := loadMetaRoot(c.tx.db, ttx)
		if err != nil {
			return err
		}
		coll := root.EnsureCollection(c.name)
		coll.Schema = append([]byte(nil), schema...)
		return writeMetaRoot(ttx, root)
	}
	return c.runOp(op)
}

// Schema returns the collection's stored schema blob, nil if none was set.
func (c *CollectionHandle) Schema() ([]byte, error) {
	root, err := loadMetaRoot(c.tx.db, c.tx.ttx)
	if err != nil {
		return nil, err
	}
	coll, ok := root.Collection(c.name)
	if !ok {
		return nil, nil
	}
	return coll.Schema, nil
}

// Watch subscribes to this collection's change stream.
func (c *CollectionHandle) Watch() *Subscription {
	return newSubscription(c.tx.db.bus.Subscribe(c.name))
}

// applyIndexes updates every secondary index for a document transitioning
// from oldDoc to newDoc (either may be nil, for insert/delete respectively).
func (c *CollectionHandle) applyIndexes(ttx *txn.Transaction, coll *metaroot.CollectionMeta, docID string, oldDoc, newDoc map[string]any) error {
	for i := range coll.Indexes {
		idxMeta := &coll.Indexes[i]
		def := index.Definition{Name: idxMeta.Name, Field: idxMeta.Field, Unique: idxMeta.Unique, Prefix: indexKeyPrefix}
		tree := ttx.Tree(idxMeta.RootPage)

		if oldDoc != nil {
			if fv, ok := fieldToIndexValue(oldDoc[idxMeta.Field]); ok {
				index.Delete(tree, def, fv, docID)
			}
		}
		if newDoc != nil {
			if fv, ok := fieldToIndexValue(newDoc[idxMeta.Field]); ok {
				if err := index.Put(tree, def, fv, docID); err != nil {
					return err
				}
			}
		}
		idxMeta.RootPage = tree.GetRoot()
	}
	return nil
}

// applySearch reindexes a document's full-text postings, if search is
// enabled on the collection.
func (c *CollectionHandle) applySearch(ttx *txn.Transaction, coll *metaroot.CollectionMeta, docID string, doc map[string]any) {
	if coll.Search == nil {
		return
	}
	def := searchDefinition(coll.Search)
	fields := make([]fts.FieldWeight, len(coll.Search.Fields))
	for i, f := range coll.Search.Fields {
		fields[i] = fts.FieldWeight{Field: f.Field, Weight: f.Weight}
	}
	tree := ttx.Tree(coll.Search.RootPage)
	fts.Index(tree, def, docID, stringFields(doc, fields))
	coll.Search.RootPage = tree.GetRoot()
}

func searchDefinition(s *metaroot.SearchMeta) fts.Definition {
	fields := make([]fts.FieldWeight, len(s.Fields))
	for i, f := range s.Fields {
		fields[i] = fts.FieldWeight{Field: f.Field, Weight: f.Weight}
	}
	return fts.Definition{Name: "search", Fields: fields, Prefix: indexKeyPrefix}
}

func stringFields(doc map[string]any, fields []fts.FieldWeight) map[string]string {
	out := make(map[string]string, len(fields))
	for _, fw := range fields {
		if s, ok := doc[fw.Field].(string); ok {
			out[fw.Field] = s
		}
	}
	return out
}

func cloneDoc(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// writeMetaRoot re-encodes root and rewrites the metadata root page,
// superseding the one this transaction currently has cached under
// txn.MetaRootName.
func writeMetaRoot(ttx *txn.Transaction, root *metaroot.Root) error {
	buf, err := root.Encode()
	if err != nil {
		return err
	}
	oldPtr, _ := ttx.FinalRoot(txn.MetaRootName)
	newPtr := ttx.New(buf)
	if oldPtr != 0 {
		ttx.Del(oldPtr)
	}
	ttx.SetRoot(txn.MetaRootName, newPtr)
	return nil
}
