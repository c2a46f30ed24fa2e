package pipeline

import (
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/starload/pkg/testutil"
	"github.com/ajitpratap0/starload/pkg/warehouse"
)

type dialectSuite struct {
	testutil.WarehouseSuite
}

func TestDialects(t *testing.T) {
	for driver, cfg := range testutil.Warehouses() {
		t.Run(driver, func(t *testing.T) {
			suite.Run(t, &dialectSuite{testutil.WarehouseSuite{Config: cfg}})
		})
	}
}

func (s *dialectSuite) TestIdempotentRerun() {
	set := testutil.FreshRunSet()
	cfg := newConfig(s.T(), set, s.WarehouseConfig())

	report, err := run(s.T(), cfg, set)
	s.Require().NoError(err)
	s.Equal(2, report.Facts.Inserted)
	after := s.Counts()

	report, err = run(s.T(), cfg, set)
	s.Require().NoError(err)
	s.Zero(report.Facts.Inserted)
	s.Equal(after, s.Counts())
}

func (s *dialectSuite) TestUnseenStatus() {
	set := testutil.FreshRunSet()
	_, err := run(s.T(), newConfig(s.T(), set, s.WarehouseConfig()), set)
	s.Require().NoError(err)
	before := s.Counts()

	withC := testutil.WithOrderC(set)
	report, err := run(s.T(), newConfig(s.T(), withC, s.WarehouseConfig()), withC)
	s.Require().NoError(err)
	s.Equal(1, report.Facts.Inserted)

	after := s.Counts()
	s.Equal(before[warehouse.TableStatus]+1, after[warehouse.TableStatus])
	s.Equal(before[warehouse.TableFact]+1, after[warehouse.TableFact])
	s.Equal(before[warehouse.TableProduct], after[warehouse.TableProduct])
	s.Equal(before[warehouse.TablePaymentMethod], after[warehouse.TablePaymentMethod])
}
