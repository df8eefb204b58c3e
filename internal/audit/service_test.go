package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"kosherdir/internal/audit"
	auditmemory "kosherdir/internal/audit/store/memory"
	"kosherdir/internal/registry"
	dErrors "kosherdir/pkg/domain-errors"
)

type capturingPublisher struct {
	published []audit.Record
}

func (p *capturingPublisher) Publish(_ context.Context, rec audit.Record) {
	p.published = append(p.published, rec)
}

type ServiceSuite struct {
	suite.Suite
	ctx   context.Context
	reg   *registry.Registry
	store *auditmemory.Store
	svc   *audit.Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	reg, err := registry.New(registry.Descriptor{
		Name:             "restaurant",
		Fields:           []string{"id", "name", "status", "owner_email", "created_at"},
		ValidSortFields:  []string{"name"},
		DefaultSortField: "name",
		AuditAllowlist:   []string{"name", "status"},
	})
	s.Require().NoError(err)

	s.ctx = context.Background()
	s.reg = reg
	s.store = auditmemory.New()
	s.svc = audit.New(reg, s.store)
}

func (s *ServiceSuite) TestAppend() {
	s.Run("unknown entity type is rejected before any write", func() {
		_, err := s.svc.Append(s.ctx, "admin-1", audit.ActionUpdate, "spaceship", "id-1", nil, nil, nil)
		s.Require().Error(err)
		s.Equal(dErrors.CodeInvalidInput, dErrors.CodeOf(err))
		s.Equal(0, s.store.Len())
	})

	s.Run("record carries actor, action and identity", func() {
		rec, err := s.svc.Append(s.ctx, "admin-1", audit.ActionSoftDelete, "restaurant", "id-1", nil, nil, nil)
		s.Require().NoError(err)
		s.NotEmpty(rec.ID)
		s.Equal("admin-1", rec.Actor)
		s.Equal("softDelete", rec.Action)
		s.Equal("restaurant", rec.EntityType)
		s.Equal("id-1", rec.EntityID)
		s.WithinDuration(time.Now(), rec.Timestamp, time.Minute)
	})

	s.Run("non-allowlisted fields never reach the store", func() {
		store := auditmemory.New()
		svc := audit.New(s.reg, store)

		before := map[string]any{"name": "Old Deli", "status": "active", "owner_email": "owner@example.com"}
		after := map[string]any{"name": "New Deli", "status": "closed", "owner_email": "other@example.com"}

		_, err := svc.Append(s.ctx, "admin-1", audit.ActionUpdate, "restaurant", "id-1", before, after, nil)
		s.Require().NoError(err)

		records, err := svc.Query(s.ctx, audit.Filter{EntityType: "restaurant"}, 1, 10)
		s.Require().NoError(err)
		s.Require().Len(records, 1)

		stored := records[0]
		s.Equal(map[string]any{"name": "Old Deli", "status": "active"}, stored.OldData)
		s.Equal(map[string]any{"name": "New Deli", "status": "closed"}, stored.NewData)
		s.NotContains(stored.OldData, "owner_email")
		s.NotContains(stored.NewData, "owner_email")
	})

	s.Run("nil snapshots stay nil", func() {
		rec, err := s.svc.Append(s.ctx, "admin-1", audit.ActionDelete, "restaurant", "id-2",
			map[string]any{"name": "Deli"}, nil, nil)
		s.Require().NoError(err)
		s.Nil(rec.NewData)
		s.NotNil(rec.OldData)
	})

	s.Run("appended records are mirrored to the publisher", func() {
		pub := &capturingPublisher{}
		svc := audit.New(s.reg, s.store, audit.WithPublisher(pub))

		rec, err := svc.Append(s.ctx, "admin-1", audit.ActionCreate, "restaurant", "id-3",
			nil, map[string]any{"name": "Deli", "owner_email": "owner@example.com"}, nil)
		s.Require().NoError(err)

		s.Require().Len(pub.published, 1)
		s.Equal(rec.ID, pub.published[0].ID)
		// The mirrored record is post-redaction too.
		s.NotContains(pub.published[0].NewData, "owner_email")
	})
}

func (s *ServiceSuite) TestQuery() {
	for i, actor := range []string{"admin-1", "admin-2", "admin-1"} {
		_, err := s.svc.Append(s.ctx, actor, audit.ActionUpdate, "restaurant", "id-1",
			nil, map[string]any{"status": i}, nil)
		s.Require().NoError(err)
	}

	s.Run("actor filter narrows results", func() {
		records, err := s.svc.Query(s.ctx, audit.Filter{Actor: "admin-1"}, 1, 10)
		s.Require().NoError(err)
		s.Len(records, 2)
	})

	s.Run("page and pageSize are clamped to sane values", func() {
		records, err := s.svc.Query(s.ctx, audit.Filter{}, 0, -5)
		s.Require().NoError(err)
		s.Len(records, 3)
	})

	s.Run("past the last page returns empty", func() {
		records, err := s.svc.Query(s.ctx, audit.Filter{}, 99, 10)
		s.Require().NoError(err)
		s.Empty(records)
	})
}
