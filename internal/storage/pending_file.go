package storage

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"trader/internal/model"
	"trader/internal/model/enum"
	"trader/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
)

// pendingFile is the on-disk layout. Entries stay raw so that one corrupt
// entry can be reported alone and is preserved for manual inspection.
// Resolved holds the tombstones of reconciled orders.
type pendingFile struct {
	Orders   map[string]json.RawMessage     `json:"orders"`
	Resolved map[string]model.ResolvedOrder `json:"resolved,omitempty"`
}

func (f *pendingFile) resolved(p model.PendingOrder) bool {
	if _, ok := f.Resolved[p.OrderID]; ok {
		return true
	}
	if p.IdempotencyKey == "" {
		return false
	}
	for _, r := range f.Resolved {
		if r.IdempotencyKey == p.IdempotencyKey {
			return true
		}
	}
	return false
}

// FilePendingStore keeps pending orders in one JSON file. Every mutation
// holds an in-process mutex and an flock on "<path>.lock", reads the file,
// applies the change and atomically replaces the file.
type FilePendingStore struct {
	path     string
	lockPath string
	mu       sync.Mutex
}

// NewFilePendingStore creates the store. The file is created on first write.
func NewFilePendingStore(path string) *FilePendingStore {
	return &FilePendingStore{
		path:     path,
		lockPath: path + ".lock",
	}
}

func (s *FilePendingStore) Add(ctx context.Context, p model.PendingOrder) error {
	if p.OrderID == "" {
		return exception.ErrPendingEmptyOrderID
	}
	return s.mutate(ctx, func(f *pendingFile) error {
		if _, ok := f.Orders[p.OrderID]; ok {
			return errors.Wrap(exception.ErrPendingDuplicate, p.OrderID)
		}
		if f.resolved(p) {
			return errors.Wrap(exception.ErrPendingResolved, p.OrderID)
		}
		raw, err := sonic.Marshal(p)
		if err != nil {
			return err
		}
		f.Orders[p.OrderID] = raw
		return nil
	})
}

func (s *FilePendingStore) List(ctx context.Context) ([]model.PendingOrder, []error) {
	var (
		file pendingFile
		err  error
	)
	if lockErr := s.withLock(ctx, func() error {
		file, err = s.read()
		return nil
	}); lockErr != nil {
		return nil, []error{lockErr}
	}
	if err != nil {
		return nil, []error{err}
	}

	result := make([]model.PendingOrder, 0, len(file.Orders))
	var errs []error
	for id, raw := range file.Orders {
		p, err := decodePending(id, raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].OrderID < result[j].OrderID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, errs
}

func (s *FilePendingStore) Update(ctx context.Context, orderID string, fn func(*model.PendingOrder) error) error {
	return s.mutate(ctx, func(f *pendingFile) error {
		raw, ok := f.Orders[orderID]
		if !ok {
			return errors.Wrap(exception.ErrPendingNotFound, orderID)
		}
		p, err := decodePending(orderID, raw)
		if err != nil {
			return err
		}
		if err := fn(&p); err != nil {
			return err
		}
		p.OrderID = orderID
		updated, err := sonic.Marshal(p)
		if err != nil {
			return err
		}
		f.Orders[orderID] = updated
		return nil
	})
}

// Resolve drops the pending entry and leaves a tombstone in its place. A
// corrupt entry can still be resolved; its tombstone then has no key.
func (s *FilePendingStore) Resolve(ctx context.Context, orderID string, status enum.OrderStatus, at time.Time) error {
	return s.mutate(ctx, func(f *pendingFile) error {
		raw, ok := f.Orders[orderID]
		if !ok {
			return errors.Wrap(exception.ErrPendingNotFound, orderID)
		}
		tomb := model.ResolvedOrder{OrderID: orderID, Status: status, ResolvedAt: at}
		if p, err := decodePending(orderID, raw); err == nil {
			tomb.IdempotencyKey = p.IdempotencyKey
		}
		delete(f.Orders, orderID)
		f.Resolved[orderID] = tomb
		return nil
	})
}

// Prune forgets tombstones resolved before cutoff.
func (s *FilePendingStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	var pruned int
	err := s.mutate(ctx, func(f *pendingFile) error {
		for id, r := range f.Resolved {
			if r.ResolvedAt.Before(cutoff) {
				delete(f.Resolved, id)
				pruned++
			}
		}
		if pruned == 0 {
			return errUnchanged
		}
		return nil
	})
	return pruned, err
}

// Flush is a no-op; every mutation is already durable when it returns.
func (s *FilePendingStore) Flush(context.Context) error {
	return nil
}

// errUnchanged lets a mutation skip the rewrite.
var errUnchanged = errors.New("pending file unchanged")

func (s *FilePendingStore) mutate(ctx context.Context, fn func(*pendingFile) error) error {
	return s.withLock(ctx, func() error {
		file, err := s.read()
		if err != nil {
			return err
		}
		if err := fn(&file); err != nil {
			if err == errUnchanged {
				return nil
			}
			return err
		}
		data, err := sonic.ConfigStd.MarshalIndent(file, "", "  ")
		if err != nil {
			return err
		}
		return writeFileAtomic(s.path, data)
	})
}

func (s *FilePendingStore) withLock(ctx context.Context, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, err := acquireLock(ctx, s.lockPath)
	if err != nil {
		return err
	}
	defer func() { _ = lock.release() }()
	return fn()
}

// read loads the file. A missing file is an empty store; an unreadable
// top-level document is a data integrity failure of the whole file.
func (s *FilePendingStore) read() (pendingFile, error) {
	file := pendingFile{Orders: make(map[string]json.RawMessage), Resolved: make(map[string]model.ResolvedOrder)}
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return file, nil
	}
	if err != nil {
		return file, err
	}
	if len(data) == 0 {
		return file, nil
	}
	if err := sonic.Unmarshal(data, &file); err != nil {
		return file, errors.Wrap(exception.ErrDataIntegrity, "pending file "+s.path+": "+err.Error())
	}
	if file.Orders == nil {
		file.Orders = make(map[string]json.RawMessage)
	}
	if file.Resolved == nil {
		file.Resolved = make(map[string]model.ResolvedOrder)
	}
	return file, nil
}

func decodePending(id string, raw json.RawMessage) (model.PendingOrder, error) {
	var p model.PendingOrder
	if err := sonic.Unmarshal(raw, &p); err != nil {
		return p, errors.Wrap(exception.ErrDataIntegrity, "pending order "+id+": "+err.Error())
	}
	if p.OrderID != id {
		return p, errors.Wrap(exception.ErrDataIntegrity, "pending order "+id+": id mismatch "+p.OrderID)
	}
	if err := p.Validate(); err != nil {
		return p, errors.Wrap(err, "pending order "+id)
	}
	return p, nil
}
