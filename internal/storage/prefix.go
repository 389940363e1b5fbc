package storage

// PrefixDB is a namespaced view of a DB. Every key is stored under the
// namespace; keys handed back by ForEach have it stripped again.
type PrefixDB struct {
	inner DB
	ns    []byte
}

// NewPrefixDB returns the view of inner under namespace ns.
func NewPrefixDB(inner DB, ns []byte) *PrefixDB {
	return &PrefixDB{inner: inner, ns: append([]byte(nil), ns...)}
}

func join(ns, key []byte) []byte {
	return append(append(make([]byte, 0, len(ns)+len(key)), ns...), key...)
}

func (p *PrefixDB) Get(key []byte) ([]byte, error) { return p.inner.Get(join(p.ns, key)) }
func (p *PrefixDB) Put(key, value []byte) error    { return p.inner.Put(join(p.ns, key), value) }
func (p *PrefixDB) Delete(key []byte) error        { return p.inner.Delete(join(p.ns, key)) }
func (p *PrefixDB) Has(key []byte) (bool, error)   { return p.inner.Has(join(p.ns, key)) }

// ForEach walks the keys under prefix inside the namespace.
func (p *PrefixDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	n := len(p.ns)
	return p.inner.ForEach(join(p.ns, prefix), func(key, value []byte) error {
		return fn(key[n:], value)
	})
}

// DeleteAll empties the namespace. Keys are collected before deletion so the
// inner store is never mutated mid-iteration.
func (p *PrefixDB) DeleteAll() error {
	var keys [][]byte
	if err := p.inner.ForEach(p.ns, func(key, _ []byte) error {
		keys = append(keys, key)
		return nil
	}); err != nil {
		return err
	}
	b := p.NewBatch()
	for _, k := range keys {
		if err := b.Delete(k[len(p.ns):]); err != nil {
			return err
		}
	}
	return b.Commit()
}

// Close does nothing; the inner DB is closed by its owner.
func (p *PrefixDB) Close() error { return nil }

// NewBatch returns a batch over the namespace. It is atomic only when the
// inner DB implements Batcher.
func (p *PrefixDB) NewBatch() Batch {
	if b, ok := p.inner.(Batcher); ok {
		return &nsBatch{inner: b.NewBatch(), ns: p.ns}
	}
	return &nsBatch{inner: &serialBatch{db: p.inner}, ns: p.ns}
}

type nsBatch struct {
	inner Batch
	ns    []byte
}

func (b *nsBatch) Put(key, value []byte) error { return b.inner.Put(join(b.ns, key), value) }
func (b *nsBatch) Delete(key []byte) error     { return b.inner.Delete(join(b.ns, key)) }
func (b *nsBatch) Commit() error               { return b.inner.Commit() }

// serialBatch replays buffered writes one by one on Commit.
type serialBatch struct {
	db  DB
	ops []batchOp
}

type batchOp struct {
	key, value []byte
	del        bool
}

func (b *serialBatch) Put(key, value []byte) error {
	b.ops = append(b.ops, batchOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
	return nil
}

func (b *serialBatch) Delete(key []byte) error {
	b.ops = append(b.ops, batchOp{key: append([]byte(nil), key...), del: true})
	return nil
}

func (b *serialBatch) Commit() error {
	for _, op := range b.ops {
		var err error
		if op.del {
			err = b.db.Delete(op.key)
		} else {
			err = b.db.Put(op.key, op.value)
		}
		if err != nil {
			return err
		}
	}
	b.ops = nil
	return nil
}
