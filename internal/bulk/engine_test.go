package bulk_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"kosherdir/internal/audit"
	"kosherdir/internal/bulk"
	bulkmocks "kosherdir/internal/bulk/mocks"
	"kosherdir/internal/registry"
	"kosherdir/internal/storage"
	storagemocks "kosherdir/internal/storage/mocks"
	dErrors "kosherdir/pkg/domain-errors"
)

// capturingAuditor records appends without any redaction or persistence.
type capturingAuditor struct {
	mu      sync.Mutex
	records []audit.Record
	err     error
}

func (a *capturingAuditor) Append(_ context.Context, actor, action, entityType, entityID string, oldData, newData, metadata map[string]any) (audit.Record, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return audit.Record{}, a.err
	}
	rec := audit.Record{
		Actor:      actor,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		OldData:    oldData,
		NewData:    newData,
		Metadata:   metadata,
		Timestamp:  time.Now(),
	}
	a.records = append(a.records, rec)
	return rec, nil
}

func (a *capturingAuditor) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.records)
}

type EngineSuite struct {
	suite.Suite
	ctx     context.Context
	reg     *registry.Registry
	store   *storage.InMemoryStore
	auditor *capturingAuditor
	engine  *bulk.Engine
	logger  *slog.Logger
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	reg, err := registry.Default()
	s.Require().NoError(err)

	s.ctx = context.Background()
	s.reg = reg
	s.store = storage.NewInMemoryStore()
	s.auditor = &capturingAuditor{}
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	engine, err := bulk.New(reg, s.store, s.auditor, bulk.WithLogger(s.logger))
	s.Require().NoError(err)
	s.engine = engine
}

func (s *EngineSuite) seedRestaurants(n int) []string {
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		id, err := s.store.Create(s.ctx, "restaurant", map[string]any{
			"name":   "Place",
			"status": "active",
		})
		s.Require().NoError(err)
		ids = append(ids, id)
	}
	return ids
}

func idTargets(ids ...string) []bulk.Target {
	targets := make([]bulk.Target, 0, len(ids))
	for _, id := range ids {
		targets = append(targets, bulk.Target{ID: id})
	}
	return targets
}

func (s *EngineSuite) TestNew() {
	s.Run("nil registry returns error", func() {
		_, err := bulk.New(nil, s.store, s.auditor)
		s.Error(err)
	})

	s.Run("nil store returns error", func() {
		_, err := bulk.New(s.reg, nil, s.auditor)
		s.Error(err)
	})

	s.Run("nil auditor returns error", func() {
		_, err := bulk.New(s.reg, s.store, nil)
		s.Error(err)
	})
}

// Request-level validation must reject before any storage or audit call.
func (s *EngineSuite) TestRunValidation() {
	ctrl := gomock.NewController(s.T())
	defer ctrl.Finish()

	// Mocks with zero expectations: any call fails the test.
	store := storagemocks.NewMockEntityStore(ctrl)
	auditor := bulkmocks.NewMockAuditor(ctrl)
	engine, err := bulk.New(s.reg, store, auditor, bulk.WithLogger(s.logger))
	s.Require().NoError(err)

	base := bulk.Request{
		EntityType: "restaurant",
		Operation:  bulk.OperationSoftDelete,
		Targets:    idTargets("id-1"),
		BatchSize:  bulk.DefaultBatchSize,
		Actor:      "admin-1",
	}

	s.Run("unknown entity type", func() {
		req := base
		req.EntityType = "spaceship"
		_, err := engine.Run(s.ctx, req, nil)
		s.Require().Error(err)
		s.Equal(dErrors.CodeInvalidInput, dErrors.CodeOf(err))
	})

	s.Run("unknown operation", func() {
		req := base
		req.Operation = "upsert"
		_, err := engine.Run(s.ctx, req, nil)
		s.Require().Error(err)
		s.Equal(dErrors.CodeInvalidInput, dErrors.CodeOf(err))
	})

	s.Run("soft delete on an entity without soft delete support", func() {
		req := base
		req.EntityType = "image"
		_, err := engine.Run(s.ctx, req, nil)
		s.Require().Error(err)
		s.Contains(err.Error(), "does not support soft delete")
	})

	s.Run("zero batch size", func() {
		req := base
		req.BatchSize = 0
		_, err := engine.Run(s.ctx, req, nil)
		s.Require().Error(err)
		s.Contains(err.Error(), "batch size")
	})

	s.Run("negative batch size", func() {
		req := base
		req.BatchSize = -5
		_, err := engine.Run(s.ctx, req, nil)
		s.Require().Error(err)
	})

	s.Run("missing actor", func() {
		req := base
		req.Actor = ""
		_, err := engine.Run(s.ctx, req, nil)
		s.Require().Error(err)
	})
}

// An empty target list is a valid no-op: zero result, no storage or audit
// calls, and no progress notifications.
func (s *EngineSuite) TestRunEmptyTargets() {
	ctrl := gomock.NewController(s.T())
	defer ctrl.Finish()

	store := storagemocks.NewMockEntityStore(ctrl)
	auditor := bulkmocks.NewMockAuditor(ctrl)
	engine, err := bulk.New(s.reg, store, auditor, bulk.WithLogger(s.logger))
	s.Require().NoError(err)

	for name, targets := range map[string][]bulk.Target{
		"nil targets":   nil,
		"empty targets": {},
	} {
		s.Run(name, func() {
			result, err := engine.Run(s.ctx, bulk.Request{
				EntityType: "restaurant",
				Operation:  bulk.OperationSoftDelete,
				Targets:    targets,
				BatchSize:  bulk.DefaultBatchSize,
				Actor:      "admin-1",
			}, func(processed, total int) {
				s.Fail("progress callback invoked for an empty run")
			})
			s.Require().NoError(err)
			s.Equal(&bulk.Result{}, result)
		})
	}
}

func (s *EngineSuite) TestRunSoftDelete() {
	ids := s.seedRestaurants(3)

	var mu sync.Mutex
	var progress [][2]int
	result, err := s.engine.Run(s.ctx, bulk.Request{
		EntityType: "restaurant",
		Operation:  bulk.OperationSoftDelete,
		Targets:    idTargets(ids...),
		BatchSize:  2,
		Actor:      "admin-1",
	}, func(processed, total int) {
		mu.Lock()
		defer mu.Unlock()
		progress = append(progress, [2]int{processed, total})
	})
	s.Require().NoError(err)

	s.Equal(3, result.Processed)
	s.Equal(3, result.Succeeded)
	s.Equal(0, result.Failed)
	s.Empty(result.Errors)

	// Two batches of sizes 2 and 1.
	mu.Lock()
	s.Equal([][2]int{{2, 3}, {3, 3}}, progress)
	mu.Unlock()

	for _, id := range ids {
		rec, err := s.store.Get(s.ctx, "restaurant", id)
		s.Require().NoError(err)
		s.NotNil(rec.DeletedAt, "record %s should be soft deleted", id)
	}

	s.Require().Equal(3, s.auditor.len())
	for _, rec := range s.auditor.records {
		s.Equal("softDelete", rec.Action)
		s.Equal("admin-1", rec.Actor)
		s.NotNil(rec.OldData)
		s.Nil(rec.NewData)
	}
}

func (s *EngineSuite) TestRunPartialFailure() {
	ids := s.seedRestaurants(3)
	targets := idTargets(ids[0], "missing-1", ids[1], "missing-2", ids[2])

	result, err := s.engine.Run(s.ctx, bulk.Request{
		EntityType: "restaurant",
		Operation:  bulk.OperationSoftDelete,
		Targets:    targets,
		BatchSize:  bulk.DefaultBatchSize,
		Actor:      "admin-1",
	}, nil)
	s.Require().NoError(err)

	s.Equal(5, result.Processed)
	s.Equal(3, result.Succeeded)
	s.Equal(2, result.Failed)
	s.Require().Len(result.Errors, 2)
	s.Equal("missing-1", result.Errors[0].Target)
	s.Equal("missing-2", result.Errors[1].Target)

	// All valid targets were still attempted and audited.
	s.Equal(3, s.auditor.len())
}

func (s *EngineSuite) TestRunDuplicateTargets() {
	ids := s.seedRestaurants(1)
	targets := idTargets(ids[0], ids[0])

	result, err := s.engine.Run(s.ctx, bulk.Request{
		EntityType: "restaurant",
		Operation:  bulk.OperationSoftDelete,
		Targets:    targets,
		BatchSize:  bulk.DefaultBatchSize,
		Actor:      "admin-1",
	}, nil)
	s.Require().NoError(err)

	// The second occurrence fails independently: the record is already gone.
	s.Equal(2, result.Processed)
	s.Equal(1, result.Succeeded)
	s.Equal(1, result.Failed)
}

func (s *EngineSuite) TestRunCreate() {
	result, err := s.engine.Run(s.ctx, bulk.Request{
		EntityType: "restaurant",
		Operation:  bulk.OperationCreate,
		Targets: []bulk.Target{
			{Data: map[string]any{"name": "New Deli", "status": "active"}},
			{Data: nil}, // invalid: create requires data
		},
		BatchSize: bulk.DefaultBatchSize,
		Actor:     "admin-1",
		Metadata:  map[string]any{"request_id": "req-1"},
	}, nil)
	s.Require().NoError(err)

	s.Equal(2, result.Processed)
	s.Equal(1, result.Succeeded)
	s.Equal(1, result.Failed)
	s.Require().Len(result.Errors, 1)
	s.Equal("index 1", result.Errors[0].Target)

	n, err := s.store.Count(s.ctx, "restaurant", storage.ListOptions{})
	s.Require().NoError(err)
	s.Equal(1, n)

	s.Require().Equal(1, s.auditor.len())
	rec := s.auditor.records[0]
	s.Equal("create", rec.Action)
	s.Nil(rec.OldData)
	s.Equal("New Deli", rec.NewData["name"])
	s.Equal(map[string]any{"request_id": "req-1"}, rec.Metadata)
	s.NotEmpty(rec.EntityID)
}

func (s *EngineSuite) TestRunUpdate() {
	ids := s.seedRestaurants(1)

	result, err := s.engine.Run(s.ctx, bulk.Request{
		EntityType: "restaurant",
		Operation:  bulk.OperationUpdate,
		Targets: []bulk.Target{
			{ID: ids[0], Data: map[string]any{"status": "closed"}},
		},
		BatchSize: bulk.DefaultBatchSize,
		Actor:     "admin-1",
	}, nil)
	s.Require().NoError(err)
	s.Equal(1, result.Succeeded)

	rec, err := s.store.Get(s.ctx, "restaurant", ids[0])
	s.Require().NoError(err)
	s.Equal("closed", rec.Data["status"])
	s.Equal("Place", rec.Data["name"])

	s.Require().Equal(1, s.auditor.len())
	entry := s.auditor.records[0]
	s.Equal("active", entry.OldData["status"])
	s.Equal("closed", entry.NewData["status"])
	s.Equal("Place", entry.NewData["name"])
}

func (s *EngineSuite) TestRunHardDelete() {
	id, err := s.store.Create(s.ctx, "image", map[string]any{"url": "https://example.com/1.jpg"})
	s.Require().NoError(err)

	result, err := s.engine.Run(s.ctx, bulk.Request{
		EntityType: "image",
		Operation:  bulk.OperationDelete,
		Targets:    idTargets(id),
		BatchSize:  bulk.DefaultBatchSize,
		Actor:      "admin-1",
	}, nil)
	s.Require().NoError(err)
	s.Equal(1, result.Succeeded)

	_, err = s.store.Get(s.ctx, "image", id)
	s.ErrorIs(err, storage.ErrNotFound)
}

// A failed audit append is operational noise, never a record failure.
func (s *EngineSuite) TestRunAuditFailureDoesNotFailRecord() {
	ids := s.seedRestaurants(1)
	s.auditor.err = errors.New("audit store down")

	result, err := s.engine.Run(s.ctx, bulk.Request{
		EntityType: "restaurant",
		Operation:  bulk.OperationSoftDelete,
		Targets:    idTargets(ids[0]),
		BatchSize:  bulk.DefaultBatchSize,
		Actor:      "admin-1",
	}, nil)
	s.Require().NoError(err)

	s.Equal(1, result.Succeeded)
	s.Equal(0, result.Failed)

	rec, err := s.store.Get(s.ctx, "restaurant", ids[0])
	s.Require().NoError(err)
	s.NotNil(rec.DeletedAt)
}

func (s *EngineSuite) TestRunCancellation() {
	ids := s.seedRestaurants(4)

	ctx, cancel := context.WithCancel(s.ctx)
	result, err := s.engine.Run(ctx, bulk.Request{
		EntityType: "restaurant",
		Operation:  bulk.OperationSoftDelete,
		Targets:    idTargets(ids...),
		BatchSize:  2,
		Actor:      "admin-1",
	}, func(processed, total int) {
		// Cancel after the first batch completes.
		cancel()
	})
	s.Require().ErrorIs(err, context.Canceled)
	s.Require().NotNil(result)

	// The first batch finished; no record after cancellation was touched.
	s.Equal(2, result.Processed)
	s.Equal(2, result.Succeeded)
	s.Equal(2, s.auditor.len())
}

// A hung progress callback must not stall the run.
func (s *EngineSuite) TestRunHungProgressCallback() {
	ids := s.seedRestaurants(2)

	engine, err := bulk.New(s.reg, s.store, s.auditor,
		bulk.WithLogger(s.logger),
		bulk.WithProgressTimeout(50*time.Millisecond),
	)
	s.Require().NoError(err)

	block := make(chan struct{})
	defer close(block)

	done := make(chan struct{})
	go func() {
		defer close(done)
		result, err := engine.Run(s.ctx, bulk.Request{
			EntityType: "restaurant",
			Operation:  bulk.OperationSoftDelete,
			Targets:    idTargets(ids...),
			BatchSize:  1,
			Actor:      "admin-1",
		}, func(int, int) {
			<-block
		})
		s.NoError(err)
		s.Equal(2, result.Succeeded)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.Fail("engine stalled on a hung progress callback")
	}
}

// A panicking progress callback must not crash the run.
func (s *EngineSuite) TestRunPanickingProgressCallback() {
	ids := s.seedRestaurants(1)

	result, err := s.engine.Run(s.ctx, bulk.Request{
		EntityType: "restaurant",
		Operation:  bulk.OperationSoftDelete,
		Targets:    idTargets(ids...),
		BatchSize:  1,
		Actor:      "admin-1",
	}, func(int, int) {
		panic("observer bug")
	})
	s.Require().NoError(err)
	s.Equal(1, result.Succeeded)
}
