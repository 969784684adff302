package vaultsim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"stakevault/crypto"
	"stakevault/native/bank"
	"stakevault/native/vault"
	vaultotel "stakevault/observability/otel"
)

const (
	accountTag = "vaultsim"
	// CustodyAccountName addresses the ledger's custody account in fund and
	// balance steps, for seeding the reserve that backs compounded yield.
	CustodyAccountName = "vault"
)

// StepResult records the outcome of one replayed step.
type StepResult struct {
	Index    int    `json:"index"`
	Action   string `json:"action"`
	Returned uint64 `json:"returned,omitempty"`
	APY      string `json:"apy,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Report summarises a completed replay.
type Report struct {
	Scenario string        `json:"scenario"`
	Digest   string        `json:"digest"`
	Steps    []StepResult  `json:"steps"`
	Ledger   *vault.Ledger `json:"ledger,omitempty"`
}

// StepError is returned when a step's outcome does not match its expectations.
type StepError struct {
	Index  int
	Action string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("vaultsim: step %d (%s): %v", e.Index, e.Action, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Runner drives an engine with a simulated clock.
type Runner struct {
	engine  *vault.Engine
	book    *bank.Book
	base    [20]byte
	logger  *slog.Logger
	tracer  trace.Tracer
	limiter *rate.Limiter
	now     time.Time
}

// NewRunner wires the runner's clock into engine. Custody balances are read
// from book, with base naming the staked asset.
func NewRunner(engine *vault.Engine, book *bank.Book, base [20]byte) *Runner {
	r := &Runner{
		engine: engine,
		book:   book,
		base:   base,
		logger: slog.Default(),
		tracer: vaultotel.Tracer("stakevault/vaultsim"),
		now:    time.Unix(0, 0).UTC(),
	}
	engine.SetNowFunc(func() time.Time { return r.now })
	return r
}

func (r *Runner) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// SetPace limits replay to perSecond steps. Zero removes the limit.
func (r *Runner) SetPace(perSecond float64) {
	if perSecond <= 0 {
		r.limiter = nil
		return
	}
	r.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
}

// Account resolves a scenario account name to its raw address.
func Account(name string) [20]byte {
	return crypto.DeriveAddress(crypto.VaultPrefix, accountTag, []byte(name)).Raw()
}

// ReceiptMint returns the receipt mint used for a scenario ledger name.
func ReceiptMint(ledger string) [20]byte {
	return crypto.DeriveAddress(crypto.MintPrefix, accountTag, []byte(ledger)).Raw()
}

// Run replays sc and stops at the first unmet expectation.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Report, error) {
	if sc.Start > 0 {
		r.now = time.Unix(sc.Start, 0).UTC()
	}
	id := vault.LedgerIDFor(sc.Ledger)
	report := &Report{Scenario: sc.Name, Digest: sc.Digest()}

	ctx, span := r.tracer.Start(ctx, "vaultsim.scenario", trace.WithAttributes(
		attribute.String("scenario", sc.Name),
		attribute.String("ledger", sc.Ledger),
	))
	defer span.End()

	for i, step := range sc.Steps {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return report, err
			}
		}
		result, err := r.runStep(ctx, sc, id, i, step)
		report.Steps = append(report.Steps, result)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return report, err
		}
	}

	ledger, err := r.engine.Ledger(id)
	if err == nil {
		report.Ledger = ledger
	}
	return report, nil
}

func (r *Runner) runStep(ctx context.Context, sc *Scenario, id [32]byte, index int, step Step) (StepResult, error) {
	_, span := r.tracer.Start(ctx, "vaultsim."+step.Action, trace.WithAttributes(
		attribute.Int("step", index),
		attribute.String("account", step.Account),
	))
	defer span.End()

	result := StepResult{Index: index, Action: step.Action}
	returned, apy, opErr := r.apply(sc, id, step)
	result.Returned = returned
	result.APY = apy
	if opErr != nil {
		result.Error = vault.ErrorKind(opErr)
		span.RecordError(opErr)
	}

	fail := func(err error) (StepResult, error) {
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("scenario expectation failed", slog.Int("step", index), slog.String("action", step.Action), slog.Any("error", err))
		return result, &StepError{Index: index, Action: step.Action, Err: err}
	}

	switch {
	case step.ExpectError != "" && opErr == nil:
		return fail(fmt.Errorf("expected %s error, step succeeded", step.ExpectError))
	case step.ExpectError != "" && result.Error != step.ExpectError:
		return fail(fmt.Errorf("expected %s error, got %s: %w", step.ExpectError, result.Error, opErr))
	case step.ExpectError == "" && opErr != nil:
		return fail(opErr)
	}
	if step.Returns != nil && opErr == nil && returned != *step.Returns {
		return fail(fmt.Errorf("returned %d, want %d", returned, *step.Returns))
	}
	if step.APY != "" && apy != step.APY {
		return fail(fmt.Errorf("apy %s%%, want %s%%", apy, step.APY))
	}
	if err := r.check(id, step); err != nil {
		return fail(err)
	}

	r.logger.Debug("scenario step applied", slog.Int("step", index), slog.String("action", step.Action), slog.Uint64("returned", returned))
	return result, nil
}

func (r *Runner) apply(sc *Scenario, id [32]byte, step Step) (uint64, string, error) {
	switch step.Action {
	case ActionInitialize:
		authority := Account(step.Account)
		if step.Account == "" {
			authority = Account("authority")
		}
		_, err := r.engine.Initialize(id, authority, ReceiptMint(sc.Ledger))
		return 0, "", err
	case ActionFund:
		return step.Amount, "", r.book.Credit(r.base, r.resolve(id, step.Account), step.Amount)
	case ActionDeposit:
		res, err := r.engine.Deposit(id, Account(step.Account), step.Amount)
		if err != nil {
			return 0, "", err
		}
		return res.Minted, "", nil
	case ActionAdvance:
		d, err := step.advance()
		if err != nil {
			return 0, "", err
		}
		r.now = r.now.Add(d)
		return uint64(d / time.Second), "", nil
	case ActionAccrue:
		accrued, err := r.engine.AccrueYield(id)
		return accrued, "", err
	case ActionCompound:
		compounded, err := r.engine.AutoCompoundYield(id)
		return compounded, "", err
	case ActionAPY:
		apy, err := r.engine.CalculateAPY(id)
		if err != nil {
			return 0, "", err
		}
		return 0, vault.FormatPercent(apy, 2), nil
	case ActionWithdraw:
		res, err := r.engine.Withdraw(id, Account(step.Account), step.Amount)
		if err != nil {
			return 0, "", err
		}
		return res.Redeemed, "", nil
	case ActionExpect:
		return 0, "", nil
	}
	return 0, "", fmt.Errorf("vaultsim: unknown action %q", step.Action)
}

func (r *Runner) resolve(id [32]byte, name string) [20]byte {
	if name == CustodyAccountName {
		return vault.CustodyAccount(id)
	}
	return Account(name)
}

func (r *Runner) check(id [32]byte, step Step) error {
	if want := step.Ledger; want != nil {
		l, err := r.engine.Ledger(id)
		if err != nil {
			return err
		}
		if err := compare("totalStaked", want.TotalStaked, l.TotalStaked); err != nil {
			return err
		}
		if err := compare("totalYieldAccrued", want.TotalYieldAccrued, l.TotalYieldAccrued); err != nil {
			return err
		}
		if err := compare("totalReceiptSupply", want.TotalReceiptSupply, l.TotalReceiptSupply); err != nil {
			return err
		}
	}
	if want := step.Position; want != nil {
		p, err := r.engine.Position(id, Account(want.Account))
		if err != nil {
			return err
		}
		if want.Exists != nil && *want.Exists != (p != nil) {
			return fmt.Errorf("position %s exists=%v, want %v", want.Account, p != nil, *want.Exists)
		}
		var principal, receipts uint64
		if p != nil {
			principal, receipts = p.Principal, p.ReceiptBalance
		}
		if err := compare("principal", want.Principal, principal); err != nil {
			return err
		}
		if err := compare("receiptBalance", want.ReceiptBalance, receipts); err != nil {
			return err
		}
	}
	if want := step.Balance; want != nil {
		asset := r.base
		if want.Asset == "receipt" {
			l, err := r.engine.Ledger(id)
			if err != nil {
				return err
			}
			asset = l.ReceiptMint
		}
		got, err := r.book.BalanceOf(asset, r.resolve(id, want.Account))
		if err != nil {
			return err
		}
		if got != want.Amount {
			return fmt.Errorf("%s %s balance %d, want %d", want.Account, want.Asset, got, want.Amount)
		}
	}
	return nil
}

func compare(field string, want *uint64, got uint64) error {
	if want == nil || *want == got {
		return nil
	}
	return fmt.Errorf("%s = %d, want %d", field, got, *want)
}

// IsExpectationFailure reports whether err came from an unmet expectation
// rather than from the runner itself.
func IsExpectationFailure(err error) bool {
	var stepErr *StepError
	return errors.As(err, &stepErr)
}
