package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory BlobStore used by tests. Lease semantics
// mirror the real store: a lease expires after its
// duration, conditioned writes reject mismatched lease IDs, and deleting a
// leased blob drops the lease with it.
type MemoryStore struct {
	mu         sync.Mutex
	containers map[string]map[string]*memBlob
	leaseSeq   int

	// RenewErr, when set, makes every RenewLease call fail. Tests use it to
	// force the renewal-failure path.
	RenewErr error
}

type memBlob struct {
	data         []byte
	tags         map[string]string
	lastModified time.Time

	leaseID       string
	leaseExpiry   time.Time
	leaseDuration time.Duration
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{containers: make(map[string]map[string]*memBlob)}
}

// PutBlob uploads (or overwrites) a blob. Test setup helper.
func (m *MemoryStore) PutBlob(container, name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.container(container)
	c[name] = &memBlob{
		data:         append([]byte(nil), data...),
		tags:         make(map[string]string),
		lastModified: time.Now().UTC(),
	}
}

// PutTags overwrites a blob's tags without any lease condition. Test helper.
func (m *MemoryStore) PutTags(container, name string, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.container(container)[name]; ok {
		b.tags = cloneTags(tags)
	}
}

// BreakLease forcibly expires any lease on the blob. Test helper simulating
// a crashed holder whose lease timed out.
func (m *MemoryStore) BreakLease(container, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.container(container)[name]; ok {
		b.leaseID = ""
		b.leaseExpiry = time.Time{}
	}
}

// Names returns the sorted blob names present in container. Test helper.
func (m *MemoryStore) Names(container string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for name := range m.container(container) {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *MemoryStore) container(name string) map[string]*memBlob {
	c, ok := m.containers[name]
	if !ok {
		c = make(map[string]*memBlob)
		m.containers[name] = c
	}
	return c
}

func (b *memBlob) leased(now time.Time) bool {
	return b.leaseID != "" && now.Before(b.leaseExpiry)
}

func cloneTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}

type memoryPager struct {
	store   *MemoryStore
	names   []string
	offset  int
	cname   string
	include bool
	size    int
	done    bool
}

func (m *MemoryStore) List(container string, opts ListOptions) Pager {
	m.mu.Lock()
	defer m.mu.Unlock()

	var names []string
	for name := range m.container(container) {
		if opts.Prefix == "" || strings.HasPrefix(name, opts.Prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	size := int(opts.PageSize)
	if size <= 0 {
		size = 5000
	}
	return &memoryPager{
		store:   m,
		names:   names,
		cname:   container,
		include: opts.IncludeTags,
		size:    size,
	}
}

func (p *memoryPager) More() bool {
	return !p.done
}

func (p *memoryPager) NextPage(ctx context.Context) ([]BlobInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.store.mu.Lock()
	defer p.store.mu.Unlock()

	end := p.offset + p.size
	if end > len(p.names) {
		end = len(p.names)
	}
	page := make([]BlobInfo, 0, end-p.offset)
	for _, name := range p.names[p.offset:end] {
		b, ok := p.store.container(p.cname)[name]
		if !ok {
			continue
		}
		info := BlobInfo{
			Name:         name,
			Size:         int64(len(b.data)),
			LastModified: b.lastModified,
		}
		if p.include {
			info.Tags = cloneTags(b.tags)
		}
		page = append(page, info)
	}
	p.offset = end
	if p.offset >= len(p.names) {
		p.done = true
	}
	return page, nil
}

func (m *MemoryStore) Open(ctx context.Context, container, name string) (io.ReadCloser, BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.container(container)[name]
	if !ok {
		return nil, BlobInfo{}, fmt.Errorf("open %s/%s: %w", container, name, ErrNotFound)
	}
	info := BlobInfo{
		Name:         name,
		Size:         int64(len(b.data)),
		LastModified: b.lastModified,
	}
	return io.NopCloser(bytes.NewReader(b.data)), info, nil
}

func (m *MemoryStore) GetTags(ctx context.Context, container, name string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.container(container)[name]
	if !ok {
		return nil, fmt.Errorf("get tags %s/%s: %w", container, name, ErrNotFound)
	}
	return cloneTags(b.tags), nil
}

func (m *MemoryStore) SetTags(ctx context.Context, container, name string, tags map[string]string, leaseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.container(container)[name]
	if !ok {
		return fmt.Errorf("set tags %s/%s: %w", container, name, ErrNotFound)
	}
	if b.leased(time.Now()) && b.leaseID != leaseID {
		return fmt.Errorf("set tags %s/%s: %w", container, name, ErrPreconditionFailed)
	}
	b.tags = cloneTags(tags)
	return nil
}

func (m *MemoryStore) Exists(ctx context.Context, container, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.container(container)[name]
	return ok, nil
}

func (m *MemoryStore) Copy(ctx context.Context, srcContainer, dstContainer, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.container(srcContainer)[name]
	if !ok {
		return fmt.Errorf("copy %s/%s: %w", srcContainer, name, ErrNotFound)
	}
	m.container(dstContainer)[name] = &memBlob{
		data:         append([]byte(nil), src.data...),
		tags:         cloneTags(src.tags),
		lastModified: time.Now().UTC(),
	}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, container, name string, leaseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.container(container)[name]
	if !ok {
		return fmt.Errorf("delete %s/%s: %w", container, name, ErrNotFound)
	}
	if b.leased(time.Now()) && b.leaseID != leaseID {
		return fmt.Errorf("delete %s/%s: %w", container, name, ErrPreconditionFailed)
	}
	delete(m.container(container), name)
	return nil
}

func (m *MemoryStore) AcquireLease(ctx context.Context, container, name string, duration time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.container(container)[name]
	if !ok {
		return "", fmt.Errorf("acquire lease %s/%s: %w", container, name, ErrNotFound)
	}
	if b.leased(time.Now()) {
		return "", fmt.Errorf("acquire lease %s/%s: %w", container, name, ErrLeaseConflict)
	}
	m.leaseSeq++
	b.leaseID = fmt.Sprintf("lease-%d", m.leaseSeq)
	b.leaseExpiry = time.Now().Add(duration)
	b.leaseDuration = duration
	return b.leaseID, nil
}

func (m *MemoryStore) RenewLease(ctx context.Context, container, name, leaseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RenewErr != nil {
		return m.RenewErr
	}
	b, ok := m.container(container)[name]
	if !ok {
		return fmt.Errorf("renew lease %s/%s: %w", container, name, ErrNotFound)
	}
	if b.leaseID != leaseID {
		return fmt.Errorf("renew lease %s/%s: %w", container, name, ErrLeaseNotHeld)
	}
	b.leaseExpiry = time.Now().Add(b.leaseDuration)
	return nil
}

func (m *MemoryStore) ReleaseLease(ctx context.Context, container, name, leaseID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.container(container)[name]
	if !ok {
		return fmt.Errorf("release lease %s/%s: %w", container, name, ErrNotFound)
	}
	if b.leaseID == "" || b.leaseID != leaseID {
		return fmt.Errorf("release lease %s/%s: %w", container, name, ErrLeaseNotHeld)
	}
	b.leaseID = ""
	b.leaseExpiry = time.Time{}
	return nil
}
