// Package persist is the storage collaborator: load/store whole blobs by key.
package persist

import (
	"encoding"

	"github.com/juju/errors"
	"github.com/temoto/enomesh/log2"
)

type Stater interface {
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// Persist binds Stater to one storage key.
type Persist struct {
	log     *log2.Log
	key     string
	target  Stater
	storage Storage
}

func (p *Persist) Init(key string, target Stater, storage Storage, log *log2.Log) {
	if key == "" || target == nil || storage == nil {
		panic("code error persist Init key, target and storage required")
	}
	p.key = key
	p.target = target
	p.storage = storage
	p.log = log
}

// Load returns found=false without error when nothing was stored yet.
func (p *Persist) Load() (bool, error) {
	if p.key == "" {
		panic("code error persist must call .Init() first")
	}
	b, err := p.storage.Load(p.key)
	if errors.IsNotFound(err) {
		p.log.Debugf("persist %s no data", p.key)
		return false, nil
	}
	if err != nil {
		return false, errors.Annotatef(err, "persist %s Load", p.key)
	}
	if err = p.target.UnmarshalBinary(b); err != nil {
		return false, errors.Annotatef(err, "persist %s Load", p.key)
	}
	return true, nil
}

// Store requests write and returns immediately, see Storage.
func (p *Persist) Store() error {
	if p.key == "" {
		panic("code error persist must call .Init() first")
	}
	b, err := p.target.MarshalBinary()
	if err != nil {
		return errors.Annotatef(err, "persist %s Store", p.key)
	}
	err = p.storage.Store(p.key, b)
	return errors.Annotatef(err, "persist %s Store", p.key)
}
