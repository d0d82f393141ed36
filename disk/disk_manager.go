// Package disk provides the on-disk page store the buffer pool caches:
// a synchronous DiskManager and an optional async Scheduler that lets
// page I/O proceed without holding the buffer pool's global latch.
package disk

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"

	"latchdb/disk/page"
)

// IDiskManager is the disk I/O provider external interface from spec.md
// §6: read/write exactly page.Size bytes by page id, allocate/deallocate
// ids, and shut down. DeallocatePage is a no-op marker — an educational
// implementation never reclaims disk space, and AllocatePage never hands
// a deallocated id out again.
type IDiskManager interface {
	ReadPage(id page.ID, dest []byte) error
	WritePage(id page.ID, src []byte) error
	AllocatePage() page.ID
	DeallocatePage(id page.ID)
	ShutDown() error
}

var _ IDiskManager = &Manager{}

// Manager is a single file of concatenated page.Size-byte pages indexed
// by page id, matching spec.md's "persisted state layout". Page 0 is
// reserved by convention for the engine's root/header container.
type Manager struct {
	mu         sync.Mutex
	file       *os.File
	nextPageID page.ID
}

// NewManager opens (creating if necessary) the backing file and computes
// the next page id from its current size, the same bootstrap the
// teacher's disk.NewDiskManager performs.
func NewManager(path string) (*Manager, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		logrus.WithError(err).WithField("path", path).Error("disk: failed to open database file")
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	next := page.ID(stat.Size() / int64(page.Size))
	if next == 0 {
		next = 1 // page 0 is reserved
	}
	return &Manager{file: f, nextPageID: next}, nil
}

func (m *Manager) ReadPage(id page.ID, dest []byte) error {
	if len(dest) != page.Size {
		return fmt.Errorf("disk: destination buffer must be %d bytes, got %d", page.Size, len(dest))
	}
	off := int64(id) * int64(page.Size)
	n, err := m.file.ReadAt(dest, off)
	if err == io.EOF && n == 0 {
		// page never written, callers read a zeroed page as if it were new.
		for i := range dest {
			dest[i] = 0
		}
		return nil
	}
	if err != nil {
		return err
	}
	if n != page.Size {
		panic(fmt.Sprintf("disk: partial page read for page %d: %d bytes", id, n))
	}
	return nil
}

func (m *Manager) WritePage(id page.ID, src []byte) error {
	if len(src) != page.Size {
		return fmt.Errorf("disk: source buffer must be %d bytes, got %d", page.Size, len(src))
	}
	off := int64(id) * int64(page.Size)
	n, err := m.file.WriteAt(src, off)
	if err != nil {
		return err
	}
	if n != page.Size {
		panic(fmt.Sprintf("disk: partial page write for page %d: %d bytes", id, n))
	}
	return nil
}

func (m *Manager) AllocatePage() page.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextPageID
	m.nextPageID++
	return id
}

func (m *Manager) DeallocatePage(_ page.ID) {
	// no-op marker: an educational implementation never reclaims file space.
}

func (m *Manager) ShutDown() error {
	if err := m.file.Sync(); err != nil {
		return err
	}
	return m.file.Close()
}
