package service

import (
	"database/sql"
	"time"

	"github.com/jask/coopledger/internal/events"
)

// Engine bundles the cooperative ledger services over one database and one
// event publisher.
type Engine struct {
	DB           *sql.DB
	Ledger       *LedgerService
	Cycles       *CycleService
	Ratings      *RatingService
	Declarations *DeclarationService
	Deposits     *DepositService
	Penalties    *PenaltyService
	Loans        *LoanService
	Maintenance  *MaintenanceService
}

// NewEngine wires the services together. loc is the cooperative's business
// timezone for phase deadlines and month boundaries; nil means UTC.
func NewEngine(db *sql.DB, publisher events.Publisher, loc *time.Location) *Engine {
	penalties := &PenaltyService{DB: db, Events: publisher, Location: loc}
	return &Engine{
		DB:      db,
		Ledger:  &LedgerService{DB: db, Events: publisher},
		Cycles:  &CycleService{DB: db, Events: publisher},
		Ratings: &RatingService{DB: db},
		Declarations: &DeclarationService{
			DB:        db,
			Events:    publisher,
			Penalties: penalties,
			Location:  loc,
		},
		Deposits:    &DepositService{DB: db, Events: publisher},
		Penalties:   penalties,
		Loans:       &LoanService{DB: db, Events: publisher, Penalties: penalties},
		Maintenance: &MaintenanceService{DB: db},
	}
}
