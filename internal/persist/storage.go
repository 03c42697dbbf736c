package persist

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/enomesh/log2"
	"github.com/temoto/extremofile"
)

var (
	// Recoverable Store results. Caller keeps data in memory and tries again later.
	ErrBusy         = errors.New("persist: write in progress")
	ErrNotSupported = errors.New("persist: storage not enabled")
)

func IsBusy(err error) bool         { return errors.Cause(err) == ErrBusy }
func IsNotSupported(err error) bool { return errors.Cause(err) == ErrNotSupported }

// Storage contract:
// - Load returns errors.NotFound when key was never stored
// - Store copies blob and returns without waiting for IO
// - Store while previous write is in flight returns ErrBusy, never queues
type Storage interface {
	Load(key string) ([]byte, error)
	Store(key string, blob []byte) error
}

type efiler interface {
	Read() ([]byte, error)
	Write([]byte) (int, error)
}

// Files keeps each key in own extremofile directory under root.
type Files struct {
	log        *log2.Log
	root       string
	alive      *alive.Alive
	inflight   uint32 // atomic
	mu         sync.Mutex
	files      map[string]efiler
	OnComplete func(key string, err error)
}

// Empty root means persistence is disabled, Store returns ErrNotSupported.
func NewFiles(log *log2.Log, root string) *Files {
	return &Files{
		log:   log,
		root:  root,
		alive: alive.NewAlive(),
		files: make(map[string]efiler),
	}
}

func (self *Files) Load(key string) ([]byte, error) {
	if self.root == "" {
		return nil, errors.NotFoundf("persist key=%s (disabled)", key)
	}
	f := self.file(key)
	b, err := f.Read()
	if b == nil {
		if err != nil {
			return nil, errors.Annotatef(err, "persist key=%s Load", key)
		}
		return nil, errors.NotFoundf("persist key=%s", key)
	}
	if err != nil {
		// backup copy was used
		self.log.Errorf("persist key=%s ignore non-critical storage err=%v", key, err)
	}
	return b, nil
}

func (self *Files) Store(key string, blob []byte) error {
	if self.root == "" {
		return ErrNotSupported
	}
	if !atomic.CompareAndSwapUint32(&self.inflight, 0, 1) {
		return ErrBusy
	}
	if !self.alive.Add(1) {
		atomic.StoreUint32(&self.inflight, 0)
		return errors.Annotatef(ErrNotSupported, "persist key=%s closed", key)
	}
	b := make([]byte, len(blob))
	copy(b, blob)
	f := self.file(key)
	go func() {
		defer self.alive.Done()
		tbegin := time.Now()
		_, err := f.Write(b)
		self.log.Debugf("persist key=%s storage.write len=%d duration=%v", key, len(b), time.Since(tbegin))
		if err != nil {
			err = errors.Annotatef(err, "persist key=%s Store", key)
			self.log.Error(err)
		}
		if self.OnComplete != nil {
			self.OnComplete(key, err)
		}
		atomic.StoreUint32(&self.inflight, 0)
	}()
	return nil
}

// Close waits for in-flight write.
func (self *Files) Close() {
	self.alive.Stop()
	self.alive.Wait()
}

func (self *Files) file(key string) efiler {
	self.mu.Lock()
	defer self.mu.Unlock()
	if f, ok := self.files[key]; ok {
		return f
	}
	f := extremofile.New(extremofile.Config{
		Dir:      filepath.Join(self.root, key),
		DirPerm:  0700,
		FilePerm: 0600,
	})
	self.files[key] = f
	return f
}

// Memory is synchronous Storage for tests and diskless runs.
type Memory struct {
	mu     sync.Mutex
	m      map[string][]byte
	busy   bool
	stores int
}

func NewMemory() *Memory { return &Memory{m: make(map[string][]byte)} }

func (self *Memory) Load(key string) ([]byte, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	b, ok := self.m[key]
	if !ok {
		return nil, errors.NotFoundf("persist key=%s", key)
	}
	return append([]byte(nil), b...), nil
}

func (self *Memory) Store(key string, blob []byte) error {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.busy {
		return ErrBusy
	}
	self.m[key] = append([]byte(nil), blob...)
	self.stores++
	return nil
}

// SetBusy simulates write in flight.
func (self *Memory) SetBusy(b bool) {
	self.mu.Lock()
	self.busy = b
	self.mu.Unlock()
}

func (self *Memory) Stores() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.stores
}

var _ Storage = &Files{}
var _ Storage = &Memory{}
