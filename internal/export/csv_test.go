package export_test

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"kosherdir/internal/export"
	"kosherdir/internal/registry"
	"kosherdir/internal/storage"
	dErrors "kosherdir/pkg/domain-errors"
)

type StreamerSuite struct {
	suite.Suite
	ctx      context.Context
	reg      *registry.Registry
	store    *storage.InMemoryStore
	streamer *export.Streamer
}

func TestStreamerSuite(t *testing.T) {
	suite.Run(t, new(StreamerSuite))
}

func (s *StreamerSuite) SetupTest() {
	reg, err := registry.Default()
	s.Require().NoError(err)

	s.ctx = context.Background()
	s.reg = reg
	s.store = storage.NewInMemoryStore()

	streamer, err := export.New(reg, s.store,
		export.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)
	s.streamer = streamer
}

func (s *StreamerSuite) seed(n int) {
	for i := 0; i < n; i++ {
		_, err := s.store.Create(s.ctx, "restaurant", map[string]any{
			"name":   fmt.Sprintf("Restaurant %03d", i),
			"city":   "Brooklyn",
			"status": "active",
		})
		s.Require().NoError(err)
	}
}

func (s *StreamerSuite) parse(raw string) [][]string {
	rows, err := csv.NewReader(strings.NewReader(raw)).ReadAll()
	s.Require().NoError(err)
	return rows
}

func (s *StreamerSuite) TestExportValidation() {
	s.Run("unknown entity type", func() {
		_, err := s.streamer.Export(s.ctx, export.Options{EntityType: "spaceship"})
		s.Require().Error(err)
		s.Equal(dErrors.CodeInvalidInput, dErrors.CodeOf(err))
	})

	s.Run("unknown projection field", func() {
		_, err := s.streamer.Export(s.ctx, export.Options{
			EntityType: "restaurant",
			Fields:     []string{"name", "password"},
		})
		s.Require().Error(err)
		s.Contains(err.Error(), "unknown field")
	})

	s.Run("invalid sort field", func() {
		_, err := s.streamer.Export(s.ctx, export.Options{
			EntityType: "restaurant",
			SortBy:     "phone",
		})
		s.Require().Error(err)
		s.Contains(err.Error(), "invalid sort field")
	})
}

func (s *StreamerSuite) TestExport() {
	s.seed(3)

	s.Run("header matches the descriptor fields by default", func() {
		result, err := s.streamer.Export(s.ctx, export.Options{EntityType: "restaurant"})
		s.Require().NoError(err)

		rows := s.parse(result.CSV)
		desc, err := s.reg.Describe("restaurant")
		s.Require().NoError(err)
		s.Equal(desc.Fields, rows[0])
		s.Len(rows, 4)
		s.Equal(3, result.TotalCount)
		s.Equal(3, result.ExportedCount)
		s.False(result.Limited)
	})

	s.Run("projection narrows columns and keeps order", func() {
		result, err := s.streamer.Export(s.ctx, export.Options{
			EntityType: "restaurant",
			Fields:     []string{"city", "name"},
		})
		s.Require().NoError(err)

		rows := s.parse(result.CSV)
		s.Equal([]string{"city", "name"}, rows[0])
		s.Equal("Brooklyn", rows[1][0])
	})

	s.Run("rows follow the requested sort", func() {
		result, err := s.streamer.Export(s.ctx, export.Options{
			EntityType: "restaurant",
			Fields:     []string{"name"},
			SortBy:     "name",
			SortOrder:  storage.SortDesc,
		})
		s.Require().NoError(err)

		rows := s.parse(result.CSV)
		s.Equal("Restaurant 002", rows[1][0])
		s.Equal("Restaurant 000", rows[3][0])
	})

	s.Run("search narrows the result and the total", func() {
		_, err := s.store.Create(s.ctx, "restaurant", map[string]any{
			"name": "Unique Bagel House", "city": "Queens", "status": "active",
		})
		s.Require().NoError(err)

		result, err := s.streamer.Export(s.ctx, export.Options{
			EntityType: "restaurant",
			Search:     "bagel",
			Fields:     []string{"name"},
		})
		s.Require().NoError(err)

		rows := s.parse(result.CSV)
		s.Len(rows, 2)
		s.Equal("Unique Bagel House", rows[1][0])
		s.Equal(1, result.TotalCount)
	})

	s.Run("missing values render as empty cells", func() {
		_, err := s.store.Create(s.ctx, "restaurant", map[string]any{"name": "No City"})
		s.Require().NoError(err)

		result, err := s.streamer.Export(s.ctx, export.Options{
			EntityType: "restaurant",
			Search:     "No City",
			Fields:     []string{"name", "city", "phone"},
		})
		s.Require().NoError(err)

		rows := s.parse(result.CSV)
		s.Require().Len(rows, 2)
		s.Equal([]string{"No City", "", ""}, rows[1])
	})
}

// Values containing commas, quotes and newlines must survive a CSV round trip.
func (s *StreamerSuite) TestExportQuoting() {
	name := `Tom's "Deli", Inc.`
	address := "12 Main St\nSuite 4"
	_, err := s.store.Create(s.ctx, "restaurant", map[string]any{
		"name":    name,
		"address": address,
		"status":  "active",
	})
	s.Require().NoError(err)

	result, err := s.streamer.Export(s.ctx, export.Options{
		EntityType: "restaurant",
		Fields:     []string{"name", "address"},
	})
	s.Require().NoError(err)

	rows := s.parse(result.CSV)
	s.Require().Len(rows, 2)
	s.Equal(name, rows[1][0])
	s.Equal(address, rows[1][1])
}

func (s *StreamerSuite) TestExportMaxRows() {
	s.seed(15)

	streamer, err := export.New(s.reg, s.store,
		export.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		export.WithPageSize(4),
	)
	s.Require().NoError(err)

	result, err := streamer.Export(s.ctx, export.Options{
		EntityType: "restaurant",
		Fields:     []string{"name"},
		MaxRows:    10,
	})
	s.Require().NoError(err)

	s.Equal(15, result.TotalCount)
	s.Equal(10, result.ExportedCount)
	s.True(result.Limited)

	rows := s.parse(result.CSV)
	s.Len(rows, 11)
	// Cap or not, ordering still holds: the first ten names in sort order.
	s.Equal("Restaurant 000", rows[1][0])
	s.Equal("Restaurant 009", rows[10][0])
}

func (s *StreamerSuite) TestExportEmptyCollection() {
	result, err := s.streamer.Export(s.ctx, export.Options{EntityType: "mikvah"})
	s.Require().NoError(err)

	rows := s.parse(result.CSV)
	s.Len(rows, 1) // header only
	s.Equal(0, result.TotalCount)
	s.False(result.Limited)
}
